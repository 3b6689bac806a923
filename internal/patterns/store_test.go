package patterns

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pi-runtime/agentteams/internal/judge"
	"github.com/pi-runtime/agentteams/internal/team"
)

func sampleRecord(runID, task string) team.RunRecord {
	return team.RunRecord{
		RunID:            runID,
		TeamID:           "tm-alpha",
		Strategy:         team.StrategyParallel,
		Task:             task,
		RecoveredMembers: []string{"m2"},
		Status:           team.RunCompleted,
		FinalJudge: judge.FinalJudge{
			Verdict:    judge.VerdictConverged,
			Confidence: 0.82,
			UIntra:     0.2,
			UInter:     0.1,
			USys:       0.3,
		},
	}
}

func TestStoreRecordRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory", "patterns.json")
	store := NewStore(path, 10)

	if err := store.RecordRun(sampleRecord("t_1_aaaa", "fix the flaky login bug")); err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}

	got, err := store.Patterns()
	if err != nil {
		t.Fatalf("Patterns() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(Patterns()) = %d, want 1", len(got))
	}
	p := got[0]
	if p.RunID != "t_1_aaaa" || p.TaskType != "bugfix" || p.Verdict != string(judge.VerdictConverged) {
		t.Errorf("pattern = %+v, want runId t_1_aaaa, taskType bugfix, verdict converged", p)
	}
	if p.RecoveredCount != 1 || p.Confidence != 0.82 {
		t.Errorf("pattern diagnostics = %+v, want recoveredCount 1 and confidence 0.82", p)
	}

	ids, err := store.ByTaskType("bugfix")
	if err != nil {
		t.Fatalf("ByTaskType() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "t_1_aaaa" {
		t.Errorf("ByTaskType(bugfix) = %v, want [t_1_aaaa]", ids)
	}
}

func TestStoreCapsPatterns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.json")
	store := NewStore(path, 3)
	store.now = func() time.Time { return time.Unix(1700000000, 0) }

	for _, id := range []string{"t_1_a", "t_2_b", "t_3_c", "t_4_d", "t_5_e"} {
		if err := store.RecordRun(sampleRecord(id, "review the diff")); err != nil {
			t.Fatalf("RecordRun(%s) error = %v", id, err)
		}
	}

	got, err := store.Patterns()
	if err != nil {
		t.Fatalf("Patterns() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(Patterns()) = %d, want 3", len(got))
	}
	for i, want := range []string{"t_3_c", "t_4_d", "t_5_e"} {
		if got[i].RunID != want {
			t.Errorf("Patterns()[%d].RunID = %q, want %q", i, got[i].RunID, want)
		}
	}

	// The index only covers surviving patterns.
	ids, err := store.ByTaskType("review")
	if err != nil {
		t.Fatalf("ByTaskType() error = %v", err)
	}
	if len(ids) != 3 {
		t.Errorf("ByTaskType(review) = %v, want 3 ids", ids)
	}
}

func TestStoreSurvivesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewStore(path, 10)
	if err := store.RecordRun(sampleRecord("t_9_zz", "investigate memory growth")); err != nil {
		t.Fatalf("RecordRun() on corrupt file error = %v", err)
	}
	got, err := store.Patterns()
	if err != nil {
		t.Fatalf("Patterns() error = %v", err)
	}
	if len(got) != 1 || got[0].TaskType != "research" {
		t.Errorf("patterns after corrupt reset = %+v, want one research pattern", got)
	}
}

func TestClassifyTask(t *testing.T) {
	tests := []struct {
		task string
		want string
	}{
		{"fix the crash on startup", "bugfix"},
		{"add integration tests", "testing"},
		{"review the proposed API", "review"},
		{"refactor the storage layer", "refactor"},
		{"document the new flags", "docs"},
		{"investigate slow queries", "research"},
		{"implement dark mode", "feature"},
		{"ship it", "general"},
	}
	for _, tt := range tests {
		if got := ClassifyTask(tt.task); got != tt.want {
			t.Errorf("ClassifyTask(%q) = %q, want %q", tt.task, got, tt.want)
		}
	}
}
