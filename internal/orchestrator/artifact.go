package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pi-runtime/agentteams/internal/judge"
	"github.com/pi-runtime/agentteams/internal/member"
	"github.com/pi-runtime/agentteams/internal/team"
)

// runArtifact is the full per-run document written next to the compact
// record kept in storage.json. It carries everything needed to replay or
// audit a run after the fact.
type runArtifact struct {
	Record        team.RunRecord   `json:"record"`
	Team          team.Definition  `json:"team"`
	Task          string           `json:"task"`
	SharedContext string           `json:"sharedContext,omitempty"`
	Results       []member.Result  `json:"results"`
	Audit         []AuditEntry     `json:"audit,omitempty"`
	Proxy         judge.Proxy      `json:"proxy"`
	Judge         judge.FinalJudge `json:"judge"`
}

func (rt *Runtime) artifactPath(runID string) string {
	return filepath.Join(rt.RunsDir, runID+".json")
}

// persistRun writes the run artifact, appends the compact record to team
// storage, and fans the record out to the configured sinks. Sink errors
// are reported but never abort persistence of the remaining sinks.
func (rt *Runtime) persistRun(rec team.RunRecord, req RunRequest, results []member.Result, audit []AuditEntry, proxy judge.Proxy, fj judge.FinalJudge) error {
	artifact := runArtifact{
		Record:        rec,
		Team:          req.Team,
		Task:          req.Task,
		SharedContext: req.SharedContext,
		Results:       results,
		Audit:         audit,
		Proxy:         proxy,
		Judge:         fj,
	}
	if err := rt.writeArtifact(rec.RunID, artifact); err != nil {
		return fmt.Errorf("write run artifact: %w", err)
	}

	if err := rt.Storage.AppendRun(rec); err != nil {
		return fmt.Errorf("append run record: %w", err)
	}

	for _, sink := range rt.Sinks {
		if err := sink.RecordRun(rec); err != nil {
			rt.Logger.Warn("run sink failed", "run", rec.RunID, "error", err)
		}
	}
	return nil
}

// writeArtifact writes the artifact atomically: temp file in the runs
// directory, then rename over the final path.
func (rt *Runtime) writeArtifact(runID string, artifact runArtifact) error {
	if err := os.MkdirAll(rt.RunsDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return err
	}

	path := rt.artifactPath(runID)
	tmp, err := os.CreateTemp(rt.RunsDir, runID+".*.tmp")
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
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
