// Package patterns extracts a compact pattern from every finished run and
// keeps them in a capped, task-type-indexed file. The store feeds future
// strategy decisions; it is an orchestrator run sink.
package patterns

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pi-runtime/agentteams/internal/team"
	"github.com/pi-runtime/agentteams/internal/util"
)

const (
	storeVersion = 1

	// DefaultMaxPatterns caps the pattern list; oldest entries are
	// dropped first.
	DefaultMaxPatterns = 500
)

// Pattern is the distilled shape of one finished run.
type Pattern struct {
	RunID          string  `json:"runId"`
	TeamID         string  `json:"teamId"`
	TaskType       string  `json:"taskType"`
	Strategy       string  `json:"strategy"`
	Verdict        string  `json:"verdict"`
	Status         string  `json:"status"`
	Confidence     float64 `json:"confidence"`
	RecoveredCount int     `json:"recoveredCount"`
	UIntra         float64 `json:"uIntra"`
	UInter         float64 `json:"uInter"`
	USys           float64 `json:"uSys"`
	RecordedAt     string  `json:"recordedAt"`
}

type storeState struct {
	Version            int                 `json:"version"`
	LastUpdated        string              `json:"lastUpdated"`
	Patterns           []Pattern           `json:"patterns"`
	PatternsByTaskType map[string][]string `json:"patternsByTaskType"`
}

// Store persists patterns to a single JSON file with the same
// lock-then-rename discipline as the team storage.
type Store struct {
	path        string
	maxPatterns int
	now         func() time.Time

	mu sync.Mutex
}

// NewStore creates a store backed by path, typically
// .pi/memory/patterns.json.
func NewStore(path string, maxPatterns int) *Store {
	if maxPatterns < 1 {
		maxPatterns = DefaultMaxPatterns
	}
	return &Store{path: path, maxPatterns: maxPatterns, now: time.Now}
}

// RecordRun appends the pattern extracted from rec. Implements the
// orchestrator run sink.
func (s *Store) RecordRun(rec team.RunRecord) error {
	p := Pattern{
		RunID:          rec.RunID,
		TeamID:         rec.TeamID,
		TaskType:       ClassifyTask(rec.Task),
		Strategy:       rec.Strategy.String(),
		Verdict:        string(rec.FinalJudge.Verdict),
		Status:         string(rec.Status),
		Confidence:     rec.FinalJudge.Confidence,
		RecoveredCount: len(rec.RecoveredMembers),
		UIntra:         rec.FinalJudge.UIntra,
		UInter:         rec.FinalJudge.UInter,
		USys:           rec.FinalJudge.USys,
		RecordedAt:     team.Timestamp(s.now()),
	}
	return s.update(func(state *storeState) {
		state.Patterns = append(state.Patterns, p)
		if excess := len(state.Patterns) - s.maxPatterns; excess > 0 {
			state.Patterns = state.Patterns[excess:]
		}
		state.PatternsByTaskType = indexByTaskType(state.Patterns)
	})
}

// Patterns returns all stored patterns, oldest first.
func (s *Store) Patterns() ([]Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.read()
	if err != nil {
		return nil, err
	}
	return state.Patterns, nil
}

// ByTaskType returns the run IDs recorded under taskType, oldest first.
func (s *Store) ByTaskType(taskType string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.read()
	if err != nil {
		return nil, err
	}
	return state.PatternsByTaskType[taskType], nil
}

func (s *Store) update(mutate func(*storeState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create patterns dir: %w", err)
	}
	lock := util.NewFileLock(s.path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock patterns file: %w", err)
	}
	defer lock.Unlock()

	state, err := s.read()
	if err != nil {
		return err
	}
	mutate(state)

	state.Version = storeVersion
	state.LastUpdated = team.Timestamp(s.now())

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode patterns: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "patterns.*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// read tolerates a missing or corrupt file by starting fresh.
func (s *Store) read() (*storeState, error) {
	state := &storeState{
		Version:            storeVersion,
		Patterns:           []Pattern{},
		PatternsByTaskType: map[string][]string{},
	}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read patterns file: %w", err)
	}
	if err := json.Unmarshal(data, state); err != nil {
		return &storeState{
			Version:            storeVersion,
			Patterns:           []Pattern{},
			PatternsByTaskType: map[string][]string{},
		}, nil
	}
	if state.Patterns == nil {
		state.Patterns = []Pattern{}
	}
	if state.PatternsByTaskType == nil {
		state.PatternsByTaskType = map[string][]string{}
	}
	return state, nil
}

func indexByTaskType(patterns []Pattern) map[string][]string {
	index := make(map[string][]string)
	for _, p := range patterns {
		index[p.TaskType] = append(index[p.TaskType], p.RunID)
	}
	return index
}

// taskKeywords maps task-text fragments to a task type; first match in
// this order wins.
var taskKeywords = []struct {
	taskType string
	words    []string
}{
	{"bugfix", []string{"fix", "bug", "crash", "regression"}},
	{"testing", []string{"test", "coverage"}},
	{"review", []string{"review", "audit"}},
	{"refactor", []string{"refactor", "cleanup", "restructure"}},
	{"docs", []string{"document", "docs", "readme"}},
	{"research", []string{"research", "investigate", "analyze", "explore"}},
	{"feature", []string{"implement", "add", "build", "create"}},
}

// ClassifyTask buckets free-form task text into a coarse task type.
func ClassifyTask(task string) string {
	lower := strings.ToLower(task)
	for _, k := range taskKeywords {
		for _, w := range k.words {
			if strings.Contains(lower, w) {
				return k.taskType
			}
		}
	}
	return "general"
}
