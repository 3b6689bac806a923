package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pi-runtime/agentteams/internal/adaptive"
	"github.com/pi-runtime/agentteams/internal/admission"
	"github.com/pi-runtime/agentteams/internal/config"
	"github.com/pi-runtime/agentteams/internal/event"
	"github.com/pi-runtime/agentteams/internal/judge"
	"github.com/pi-runtime/agentteams/internal/logging"
	"github.com/pi-runtime/agentteams/internal/member"
	"github.com/pi-runtime/agentteams/internal/outcome"
	"github.com/pi-runtime/agentteams/internal/ratelimit"
	"github.com/pi-runtime/agentteams/internal/retry"
	"github.com/pi-runtime/agentteams/internal/team"
)

func testTeam(ids ...string) team.Definition {
	roles := []string{"researcher", "reviewer", "planner", "builder"}
	members := make([]team.Member, len(ids))
	for i, id := range ids {
		members[i] = team.Member{
			ID:      id,
			Role:    roles[i%len(roles)],
			Model:   "test-model",
			Enabled: true,
		}
	}
	return team.Definition{ID: "tm-alpha", Name: "Alpha", Enabled: true, Members: members}
}

func goodOutput(claim string) string {
	return strings.Join([]string{
		"SUMMARY: analysis finished without surprises",
		"CLAIM: " + claim,
		"EVIDENCE:",
		"- checked the input set",
		"- compared against the baseline",
		"CONFIDENCE: 0.8",
		"RESULT: the change is safe to apply",
		"NEXT_STEP: proceed",
	}, "\n")
}

func testRuntime(t *testing.T, exec member.Executor) *Runtime {
	t.Helper()
	cfg := config.Default()
	base := t.TempDir()
	cfg.Paths.BaseDir = base
	cfg.Runtime.AllowRoundsOverride = true
	cfg.Retry.MaxRetries = 0
	cfg.Retry.InitialDelayMs = 1
	cfg.Retry.MaxRateLimitRetries = 0
	cfg.Retry.MaxRateLimitWaitMs = 1

	gate := ratelimit.NewMemoryGate()
	return &Runtime{
		Config:    cfg,
		Admission: admission.NewController(cfg.Capacity),
		Gate:      gate,
		Penalty:   adaptive.NewPenalty(3),
		Retry:     retry.New(cfg.Retry, gate),
		Executor:  exec,
		Bus:       event.NewBus(),
		Storage:   team.NewStorage(base, 50),
		Logger:    logging.NopLogger(),
		RunsDir:   filepath.Join(base, "runs"),
		now:       time.Now,
	}
}

// countingExecutor tracks per-member call counts and delegates to fn.
type countingExecutor struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(ctx context.Context, req member.Request, call int) (member.Response, error)
}

func newCountingExecutor(fn func(ctx context.Context, req member.Request, call int) (member.Response, error)) *countingExecutor {
	return &countingExecutor{calls: make(map[string]int), fn: fn}
}

func (e *countingExecutor) Execute(ctx context.Context, req member.Request) (member.Response, error) {
	e.mu.Lock()
	e.calls[req.MemberID]++
	call := e.calls[req.MemberID]
	e.mu.Unlock()
	return e.fn(ctx, req, call)
}

func (e *countingExecutor) callCount(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[id]
}

func TestRunTeamAllMembersComplete(t *testing.T) {
	exec := member.ExecutorFunc(func(ctx context.Context, req member.Request) (member.Response, error) {
		return member.Response{Output: goodOutput("the baseline holds"), LatencyMs: 5}, nil
	})
	rt := testRuntime(t, exec)

	res, err := rt.RunTeam(context.Background(), RunRequest{
		Team: testTeam("m1", "m2", "m3"),
		Task: "review the proposed change",
	})
	if err != nil {
		t.Fatalf("RunTeam() error = %v", err)
	}
	if res.Outcome != outcome.Success {
		t.Errorf("Outcome = %q, want %q", res.Outcome, outcome.Success)
	}
	if res.Record.Status != team.RunCompleted {
		t.Errorf("Record.Status = %q, want %q", res.Record.Status, team.RunCompleted)
	}
	if res.Judge.Verdict == judge.VerdictFailed {
		t.Errorf("Verdict = %q, want non-failed", res.Judge.Verdict)
	}
	if got := len(res.Results); got != 3 {
		t.Fatalf("len(Results) = %d, want 3", got)
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if res.Results[i].MemberID != want {
			t.Errorf("Results[%d].MemberID = %q, want %q", i, res.Results[i].MemberID, want)
		}
		if !res.Results[i].Completed() {
			t.Errorf("Results[%d] not completed: %+v", i, res.Results[i])
		}
	}

	runs, err := rt.Storage.Runs()
	if err != nil {
		t.Fatalf("Storage.Runs() error = %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != res.Record.RunID {
		t.Errorf("stored runs = %+v, want one with RunID %q", runs, res.Record.RunID)
	}

	data, err := os.ReadFile(res.Record.OutputFile)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	var artifact struct {
		Record  team.RunRecord  `json:"record"`
		Results []member.Result `json:"results"`
	}
	if err := json.Unmarshal(data, &artifact); err != nil {
		t.Fatalf("unmarshal artifact: %v", err)
	}
	if artifact.Record.RunID != res.Record.RunID || len(artifact.Results) != 3 {
		t.Errorf("artifact = {%q, %d results}, want {%q, 3 results}",
			artifact.Record.RunID, len(artifact.Results), res.Record.RunID)
	}
}

func TestRunTeamResultsFollowRosterOrder(t *testing.T) {
	// Reverse-staggered latencies finish m4 first; result order must
	// still match the roster.
	delays := map[string]time.Duration{"m1": 40, "m2": 30, "m3": 20, "m4": 10}
	exec := member.ExecutorFunc(func(ctx context.Context, req member.Request) (member.Response, error) {
		time.Sleep(delays[req.MemberID] * time.Millisecond)
		return member.Response{Output: goodOutput("claim from " + req.MemberID)}, nil
	})
	rt := testRuntime(t, exec)

	res, err := rt.RunTeam(context.Background(), RunRequest{
		Team:     testTeam("m1", "m2", "m3", "m4"),
		Task:     "ordering check",
		Strategy: team.StrategyParallel,
	})
	if err != nil {
		t.Fatalf("RunTeam() error = %v", err)
	}
	for i, want := range []string{"m1", "m2", "m3", "m4"} {
		if res.Results[i].MemberID != want {
			t.Fatalf("Results[%d].MemberID = %q, want %q", i, res.Results[i].MemberID, want)
		}
	}
}

func TestRunTeamSequentialStrategy(t *testing.T) {
	var mu sync.Mutex
	var order []string
	exec := member.ExecutorFunc(func(ctx context.Context, req member.Request) (member.Response, error) {
		mu.Lock()
		order = append(order, req.MemberID)
		mu.Unlock()
		return member.Response{Output: goodOutput("sequential claim")}, nil
	})
	rt := testRuntime(t, exec)

	_, err := rt.RunTeam(context.Background(), RunRequest{
		Team:     testTeam("m1", "m2", "m3"),
		Task:     "sequential check",
		Strategy: team.StrategySequential,
	})
	if err != nil {
		t.Fatalf("RunTeam() error = %v", err)
	}
	if got := strings.Join(order, ","); got != "m1,m2,m3" {
		t.Errorf("dispatch order = %q, want %q", got, "m1,m2,m3")
	}
}

func TestRunTeamCommunicationAudit(t *testing.T) {
	exec := newCountingExecutor(func(ctx context.Context, req member.Request, call int) (member.Response, error) {
		if strings.Contains(req.Prompt, "COMMUNICATION_CONTEXT") {
			// Communication output that never mentions a partner.
			return member.Response{Output: goodOutput("updated view after discussion")}, nil
		}
		return member.Response{Output: goodOutput("initial view")}, nil
	})
	rt := testRuntime(t, exec)

	res, err := rt.RunTeam(context.Background(), RunRequest{
		Team:                testTeam("m1", "m2", "m3"),
		Task:                "discuss the design",
		CommunicationRounds: 1,
	})
	if err != nil {
		t.Fatalf("RunTeam() error = %v", err)
	}
	if res.Record.CommunicationRounds != 1 {
		t.Fatalf("CommunicationRounds = %d, want 1", res.Record.CommunicationRounds)
	}
	if len(res.Audit) != 3 {
		t.Fatalf("len(Audit) = %d, want 3", len(res.Audit))
	}
	for _, entry := range res.Audit {
		if entry.Round != 1 {
			t.Errorf("audit entry round = %d, want 1", entry.Round)
		}
		if len(entry.PartnerIDs) != 2 {
			t.Errorf("member %s: PartnerIDs = %v, want 2 partners", entry.MemberID, entry.PartnerIDs)
		}
		if entry.ReferencedPartners == nil || len(entry.ReferencedPartners) != 0 {
			t.Errorf("member %s: ReferencedPartners = %v, want empty", entry.MemberID, entry.ReferencedPartners)
		}
		if len(entry.MissingPartners) != len(entry.PartnerIDs) {
			t.Errorf("member %s: MissingPartners = %v, want all of %v",
				entry.MemberID, entry.MissingPartners, entry.PartnerIDs)
		}
		if entry.ContextPreview == "" {
			t.Errorf("member %s: empty context preview", entry.MemberID)
		}
	}
	// Every member was dispatched twice: initial plus one round.
	for _, id := range []string{"m1", "m2", "m3"} {
		if got := exec.callCount(id); got != 2 {
			t.Errorf("calls for %s = %d, want 2", id, got)
		}
	}
}

func TestRunTeamCommunicationDetectsReferences(t *testing.T) {
	exec := newCountingExecutor(func(ctx context.Context, req member.Request, call int) (member.Response, error) {
		if strings.Contains(req.Prompt, "COMMUNICATION_CONTEXT") {
			return member.Response{Output: goodOutput("agreeing with m1 and m2 here")}, nil
		}
		return member.Response{Output: goodOutput("initial view")}, nil
	})
	rt := testRuntime(t, exec)

	res, err := rt.RunTeam(context.Background(), RunRequest{
		Team:                testTeam("m1", "m2", "m3"),
		Task:                "discuss",
		CommunicationRounds: 1,
	})
	if err != nil {
		t.Fatalf("RunTeam() error = %v", err)
	}
	var m3Entry *AuditEntry
	for i := range res.Audit {
		if res.Audit[i].MemberID == "m3" {
			m3Entry = &res.Audit[i]
		}
	}
	if m3Entry == nil {
		t.Fatal("no audit entry for m3")
	}
	if len(m3Entry.ReferencedPartners) != 2 {
		t.Errorf("m3 ReferencedPartners = %v, want [m1 m2]", m3Entry.ReferencedPartners)
	}
	if len(m3Entry.MissingPartners) != 0 {
		t.Errorf("m3 MissingPartners = %v, want empty", m3Entry.MissingPartners)
	}
}

func TestRunTeamCommunicationSkippedBelowTwoCompleted(t *testing.T) {
	exec := newCountingExecutor(func(ctx context.Context, req member.Request, call int) (member.Response, error) {
		if req.MemberID == "m1" {
			return member.Response{Output: goodOutput("only survivor")}, nil
		}
		return member.Response{}, outcome.NewStatusError(400, "invalid request")
	})
	rt := testRuntime(t, exec)

	res, err := rt.RunTeam(context.Background(), RunRequest{
		Team:                testTeam("m1", "m2", "m3"),
		Task:                "discuss",
		CommunicationRounds: 2,
	})
	if err != nil {
		t.Fatalf("RunTeam() error = %v", err)
	}
	if res.Record.CommunicationRounds != 0 {
		t.Errorf("CommunicationRounds = %d, want 0", res.Record.CommunicationRounds)
	}
	if len(res.Audit) != 0 {
		t.Errorf("len(Audit) = %d, want 0", len(res.Audit))
	}
	if res.Outcome != outcome.PartialSuccess {
		t.Errorf("Outcome = %q, want %q", res.Outcome, outcome.PartialSuccess)
	}
}

func TestRunTeamRetryRoundRecoversEmptyOutput(t *testing.T) {
	exec := newCountingExecutor(func(ctx context.Context, req member.Request, call int) (member.Response, error) {
		if req.MemberID == "m2" && call == 1 {
			return member.Response{Output: ""}, nil
		}
		return member.Response{Output: goodOutput("claim from " + req.MemberID)}, nil
	})
	rt := testRuntime(t, exec)

	res, err := rt.RunTeam(context.Background(), RunRequest{
		Team:                    testTeam("m1", "m2", "m3"),
		Task:                    "recoverable run",
		FailedMemberRetryRounds: 2,
	})
	if err != nil {
		t.Fatalf("RunTeam() error = %v", err)
	}
	if got := res.Record.FailedMemberRetryApplied; got != 1 {
		t.Errorf("FailedMemberRetryApplied = %d, want 1", got)
	}
	if got := res.Record.RecoveredMembers; len(got) != 1 || got[0] != "m2" {
		t.Errorf("RecoveredMembers = %v, want [m2]", got)
	}
	if res.Outcome != outcome.Success {
		t.Errorf("Outcome = %q, want %q", res.Outcome, outcome.Success)
	}
	if got := exec.callCount("m2"); got != 2 {
		t.Errorf("calls for m2 = %d, want 2", got)
	}
	if got := exec.callCount("m1"); got != 1 {
		t.Errorf("calls for m1 = %d, want 1", got)
	}
}

func TestRunTeamInlineRetryCountsAsRecovered(t *testing.T) {
	exec := newCountingExecutor(func(ctx context.Context, req member.Request, call int) (member.Response, error) {
		if req.MemberID == "m1" && call == 1 {
			return member.Response{}, outcome.NewStatusError(503, "upstream unavailable")
		}
		return member.Response{Output: goodOutput("claim from " + req.MemberID), LatencyMs: 5}, nil
	})
	rt := testRuntime(t, exec)

	res, err := rt.RunTeam(context.Background(), RunRequest{
		Team:                    testTeam("m1", "m2", "m3"),
		Task:                    "investigate the flaky upload",
		FailedMemberRetryRounds: 1,
		Retry:                   &retry.Options{MaxRetries: 2, InitialDelay: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("RunTeam() error = %v", err)
	}
	if res.Outcome != outcome.Success {
		t.Errorf("Outcome = %q, want %q", res.Outcome, outcome.Success)
	}
	// The executor absorbed the 503 inline, so the member still reports as
	// recovered without a retry round being consumed.
	if got := res.Record.RecoveredMembers; len(got) != 1 || got[0] != "m1" {
		t.Errorf("RecoveredMembers = %v, want [m1]", got)
	}
	if got := res.Record.FailedMemberRetryApplied; got != 0 {
		t.Errorf("FailedMemberRetryApplied = %d, want 0 (no round consumed)", got)
	}
	if got := exec.callCount("m1"); got != 2 {
		t.Errorf("calls for m1 = %d, want 2", got)
	}
	for _, r := range res.Results {
		if !r.Completed() {
			t.Errorf("member %s status = %q, want completed", r.MemberID, r.Status)
		}
	}
}

func TestRunTeamRateLimitNeverRetriedInRounds(t *testing.T) {
	exec := newCountingExecutor(func(ctx context.Context, req member.Request, call int) (member.Response, error) {
		return member.Response{}, outcome.NewStatusError(429, "too many requests")
	})
	rt := testRuntime(t, exec)

	res, err := rt.RunTeam(context.Background(), RunRequest{
		Team:                    testTeam("m1", "m2", "m3"),
		Task:                    "rate limited run",
		FailedMemberRetryRounds: 2,
	})
	if err != nil {
		t.Fatalf("RunTeam() error = %v", err)
	}
	if res.Record.FailedMemberRetryApplied != 0 {
		t.Errorf("FailedMemberRetryApplied = %d, want 0", res.Record.FailedMemberRetryApplied)
	}
	if res.Outcome != outcome.RetryableFailure {
		t.Errorf("Outcome = %q, want %q", res.Outcome, outcome.RetryableFailure)
	}
	if !res.RetryRecommended {
		t.Error("RetryRecommended = false, want true")
	}
	if res.Record.Status != team.RunFailed {
		t.Errorf("Record.Status = %q, want %q", res.Record.Status, team.RunFailed)
	}
	if res.Judge.Verdict != judge.VerdictFailed {
		t.Errorf("Verdict = %q, want %q", res.Judge.Verdict, judge.VerdictFailed)
	}
	// One dispatch per member, no retry rounds.
	for _, id := range []string{"m1", "m2", "m3"} {
		if got := exec.callCount(id); got != 1 {
			t.Errorf("calls for %s = %d, want 1", id, got)
		}
	}
	if got := rt.Penalty.Current(); got != 1 {
		t.Errorf("Penalty.Current() = %d, want 1", got)
	}
}

func TestRunTeamNoActiveMembers(t *testing.T) {
	def := testTeam("m1", "m2")
	for i := range def.Members {
		def.Members[i].Enabled = false
	}
	exec := member.ExecutorFunc(func(ctx context.Context, req member.Request) (member.Response, error) {
		t.Error("executor must not be called")
		return member.Response{}, nil
	})
	rt := testRuntime(t, exec)

	res, err := rt.RunTeam(context.Background(), RunRequest{Team: def, Task: "noop"})
	if !outcome.Is(err, outcome.ErrNoActiveMembers) {
		t.Fatalf("RunTeam() error = %v, want ErrNoActiveMembers", err)
	}
	if res == nil {
		t.Fatal("RunTeam() result = nil, want degraded record")
	}
	if res.Record.Status != team.RunFailed {
		t.Errorf("Record.Status = %q, want %q", res.Record.Status, team.RunFailed)
	}

	runs, err := rt.Storage.Runs()
	if err != nil {
		t.Fatalf("Storage.Runs() error = %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("stored runs = %d, want the degraded record", len(runs))
	}
}

func TestRunTeamCancelledContext(t *testing.T) {
	exec := member.ExecutorFunc(func(ctx context.Context, req member.Request) (member.Response, error) {
		if err := ctx.Err(); err != nil {
			return member.Response{}, fmt.Errorf("dispatch aborted: %w", err)
		}
		return member.Response{Output: goodOutput("should not happen")}, nil
	})
	rt := testRuntime(t, exec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := rt.RunTeam(ctx, RunRequest{Team: testTeam("m1", "m2"), Task: "cancelled run"})
	if err != nil {
		t.Fatalf("RunTeam() error = %v", err)
	}
	if res.Outcome != outcome.Cancelled {
		t.Errorf("Outcome = %q, want %q", res.Outcome, outcome.Cancelled)
	}
	for _, r := range res.Results {
		if r.Completed() {
			t.Errorf("member %s completed under cancelled context", r.MemberID)
		}
	}
	if res.Record.Status != team.RunFailed {
		t.Errorf("Record.Status = %q, want %q", res.Record.Status, team.RunFailed)
	}
}

// recordingObserver captures observer callbacks for assertions.
type recordingObserver struct {
	NopObserver
	mu        sync.Mutex
	started   int
	finished  int
	results   []string
	teamNotes []string
}

func (o *recordingObserver) RunStarted(runID, teamID, task string, memberCount int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *recordingObserver) RunFinished(rec team.RunRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished++
}

func (o *recordingObserver) MemberResult(res member.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, res.MemberID)
}

func (o *recordingObserver) TeamEvent(runID, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.teamNotes = append(o.teamNotes, message)
}

func TestRunTeamNotifiesObservers(t *testing.T) {
	exec := member.ExecutorFunc(func(ctx context.Context, req member.Request) (member.Response, error) {
		return member.Response{Output: goodOutput("observable claim")}, nil
	})
	rt := testRuntime(t, exec)
	obs := &recordingObserver{}

	_, err := rt.RunTeam(context.Background(), RunRequest{
		Team:                testTeam("m1", "m2"),
		Task:                "observe",
		CommunicationRounds: 1,
		Observers:           []RunObserver{obs},
	})
	if err != nil {
		t.Fatalf("RunTeam() error = %v", err)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.started != 1 || obs.finished != 1 {
		t.Errorf("started = %d, finished = %d, want 1 each", obs.started, obs.finished)
	}
	// Two initial results plus two communication results.
	if len(obs.results) != 4 {
		t.Errorf("member results seen = %d, want 4", len(obs.results))
	}
	found := false
	for _, note := range obs.teamNotes {
		if strings.HasPrefix(note, "communication round 1: referenced=") {
			found = true
		}
	}
	if !found {
		t.Errorf("team notes = %v, want a communication round summary", obs.teamNotes)
	}
}

func TestRunTeamsAggregatesAcrossTeams(t *testing.T) {
	exec := member.ExecutorFunc(func(ctx context.Context, req member.Request) (member.Response, error) {
		return member.Response{Output: goodOutput("parallel claim")}, nil
	})
	rt := testRuntime(t, exec)

	teamA := testTeam("a1", "a2")
	teamA.ID = "tm-a"
	teamB := testTeam("b1", "b2")
	teamB.ID = "tm-b"

	res, err := rt.RunTeams(context.Background(), ParallelRequest{
		Teams: []RunRequest{
			{Team: teamA, Task: "first half"},
			{Team: teamB, Task: "second half"},
		},
	})
	if err != nil {
		t.Fatalf("RunTeams() error = %v", err)
	}
	if len(res.Runs) != 2 {
		t.Fatalf("len(Runs) = %d, want 2", len(res.Runs))
	}
	if res.Outcome != outcome.Success {
		t.Errorf("Outcome = %q, want %q", res.Outcome, outcome.Success)
	}
	if res.AppliedTeams < 1 {
		t.Errorf("AppliedTeams = %d, want >= 1", res.AppliedTeams)
	}
	if res.Runs[0].Record.TeamID != "tm-a" || res.Runs[1].Record.TeamID != "tm-b" {
		t.Errorf("run order = %q, %q, want tm-a, tm-b",
			res.Runs[0].Record.TeamID, res.Runs[1].Record.TeamID)
	}

	runs, err := rt.Storage.Runs()
	if err != nil {
		t.Fatalf("Storage.Runs() error = %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("stored runs = %d, want 2", len(runs))
	}
}

func TestRunTeamsShrinksToCapacity(t *testing.T) {
	exec := member.ExecutorFunc(func(ctx context.Context, req member.Request) (member.Response, error) {
		return member.Response{Output: goodOutput("reduced claim")}, nil
	})
	rt := testRuntime(t, exec)
	rt.Config.Capacity.MaxParallelTeamsPerRun = 1
	rt.Admission = admission.NewController(rt.Config.Capacity)

	teamA := testTeam("a1")
	teamB := testTeam("b1")
	teamB.ID = "tm-b"

	res, err := rt.RunTeams(context.Background(), ParallelRequest{
		Teams: []RunRequest{
			{Team: teamA, Task: "one"},
			{Team: teamB, Task: "two"},
		},
		TeamParallelLimit: 2,
	})
	if err != nil {
		t.Fatalf("RunTeams() error = %v", err)
	}
	if res.AppliedTeams != 1 {
		t.Errorf("AppliedTeams = %d, want 1", res.AppliedTeams)
	}
	if len(res.Runs) != 2 {
		t.Errorf("len(Runs) = %d, want both teams to run", len(res.Runs))
	}
}

func TestRunTeamsPenaltyAppliedOnce(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0
	exec := member.ExecutorFunc(func(ctx context.Context, req member.Request) (member.Response, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return member.Response{Output: goodOutput("claim from " + req.MemberID)}, nil
	})
	rt := testRuntime(t, exec)
	rt.Penalty.Raise("rate_limit")

	res, err := rt.RunTeams(context.Background(), ParallelRequest{
		Teams: []RunRequest{{Team: testTeam("m1", "m2", "m3"), Task: "pressured run"}},
	})
	if err != nil {
		t.Fatalf("RunTeams() error = %v", err)
	}
	// One penalty step shrinks the 3-member request to 2, applied at the
	// batch level only; the per-team runner must not shrink it again.
	if res.AppliedMembers != 2 {
		t.Errorf("AppliedMembers = %d, want 2", res.AppliedMembers)
	}
	mu.Lock()
	got := peak
	mu.Unlock()
	if got != 2 {
		t.Errorf("peak member concurrency = %d, want 2", got)
	}
}

func TestRunTeamsEmpty(t *testing.T) {
	rt := testRuntime(t, member.ExecutorFunc(func(ctx context.Context, req member.Request) (member.Response, error) {
		return member.Response{}, nil
	}))
	if _, err := rt.RunTeams(context.Background(), ParallelRequest{}); err == nil {
		t.Fatal("RunTeams() with no teams should error")
	}
}
