package team

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pi-runtime/agentteams/internal/judge"
	"github.com/pi-runtime/agentteams/internal/util"
)

const (
	storageFileName = "storage.json"
	storageVersion  = 1
	defaultsVersion = 1

	// DefaultMaxRunsToKeep bounds the run history when no limit is
	// configured.
	DefaultMaxRunsToKeep = 200
)

// RunStatus is the terminal state of a team run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunRecord is the persisted summary of one team run. Timestamps are
// RFC 3339 strings so records round-trip bit-exact through JSON.
type RunRecord struct {
	RunID                    string              `json:"runId"`
	TeamID                   string              `json:"teamId"`
	Strategy                 Strategy            `json:"strategy"`
	Task                     string              `json:"task"`
	CommunicationRounds      int                 `json:"communicationRounds"`
	FailedMemberRetryRounds  int                 `json:"failedMemberRetryRounds"`
	FailedMemberRetryApplied int                 `json:"failedMemberRetryApplied"`
	RecoveredMembers         []string            `json:"recoveredMembers"`
	CommunicationLinks       map[string][]string `json:"communicationLinks"`
	Summary                  string              `json:"summary"`
	Status                   RunStatus           `json:"status"`
	StartedAt                string              `json:"startedAt"`
	FinishedAt               string              `json:"finishedAt"`
	MemberCount              int                 `json:"memberCount"`
	OutputFile               string              `json:"outputFile"`
	FinalJudge               judge.FinalJudge    `json:"finalJudge"`
}

// Timestamp formats t for run-record fields.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// storageState is the serialized shape of storage.json.
type storageState struct {
	Version         int          `json:"version"`
	DefaultsVersion int          `json:"defaultsVersion"`
	CurrentTeamID   string       `json:"currentTeamId"`
	Teams           []Definition `json:"teams"`
	Runs            []RunRecord  `json:"runs"`
}

// Storage persists team snapshots and run history to storage.json under the
// agent-teams base directory. Every mutation acquires a cross-process flock,
// reads the current state, applies the change, and writes atomically.
type Storage struct {
	path    string
	maxRuns int

	mu sync.Mutex
}

// NewStorage creates a Storage rooted at baseDir. maxRuns bounds the run
// history; values < 1 fall back to DefaultMaxRunsToKeep.
func NewStorage(baseDir string, maxRuns int) *Storage {
	if maxRuns < 1 {
		maxRuns = DefaultMaxRunsToKeep
	}
	return &Storage{
		path:    filepath.Join(baseDir, storageFileName),
		maxRuns: maxRuns,
	}
}

// Path returns the storage.json location.
func (s *Storage) Path() string { return s.path }

// AppendRun adds a finished run record, truncating history to the configured
// limit (oldest first).
func (s *Storage) AppendRun(rec RunRecord) error {
	return s.update(func(state *storageState) {
		state.Runs = append(state.Runs, rec)
		if excess := len(state.Runs) - s.maxRuns; excess > 0 {
			state.Runs = append([]RunRecord(nil), state.Runs[excess:]...)
		}
	})
}

// SyncTeams replaces the stored team snapshots with the given definitions.
func (s *Storage) SyncTeams(defs []Definition) error {
	return s.update(func(state *storageState) {
		state.Teams = append([]Definition(nil), defs...)
	})
}

// SetCurrentTeam records the team the CLI operates on by default.
func (s *Storage) SetCurrentTeam(teamID string) error {
	return s.update(func(state *storageState) {
		state.CurrentTeamID = teamID
	})
}

// SetTeamEnabled flips the enabled flag of a stored team snapshot.
func (s *Storage) SetTeamEnabled(teamID string, enabled bool) error {
	found := false
	err := s.update(func(state *storageState) {
		for i := range state.Teams {
			if state.Teams[i].ID == teamID {
				state.Teams[i].Enabled = enabled
				found = true
			}
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("team %q not found in storage", teamID)
	}
	return nil
}

// Runs returns the persisted run history, oldest first.
func (s *Storage) Runs() ([]RunRecord, error) {
	state, err := s.load()
	if err != nil {
		return nil, err
	}
	return state.Runs, nil
}

// Teams returns the stored team snapshots.
func (s *Storage) Teams() ([]Definition, error) {
	state, err := s.load()
	if err != nil {
		return nil, err
	}
	return state.Teams, nil
}

// CurrentTeamID returns the recorded default team id, or "".
func (s *Storage) CurrentTeamID() (string, error) {
	state, err := s.load()
	if err != nil {
		return "", err
	}
	return state.CurrentTeamID, nil
}

// update applies mutate to the on-disk state under the cross-process lock
// and persists the result atomically.
func (s *Storage) update(mutate func(*storageState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}

	fl := util.NewFileLock(s.path + ".lock")
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("acquire storage lock: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	state := s.read()
	mutate(state)
	state.Version = storageVersion
	state.DefaultsVersion = defaultsVersion

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal storage: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// load reads the state under the lock without mutating it.
func (s *Storage) load() (*storageState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	fl := util.NewFileLock(s.path + ".lock")
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("acquire storage lock: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	return s.read(), nil
}

// read loads storage.json, tolerating a missing or corrupt file by starting
// fresh. Caller holds the lock.
func (s *Storage) read() *storageState {
	state := &storageState{
		Version:         storageVersion,
		DefaultsVersion: defaultsVersion,
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return state
	}
	var parsed storageState
	if err := json.Unmarshal(data, &parsed); err != nil {
		return state
	}
	return &parsed
}
