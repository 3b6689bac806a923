package monitor

import (
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"

	"github.com/pi-runtime/agentteams/internal/judge"
	"github.com/pi-runtime/agentteams/internal/member"
	"github.com/pi-runtime/agentteams/internal/team"
)

func TestLineSinkOutput(t *testing.T) {
	var buf strings.Builder
	sink := NewLineSink(&buf)

	sink.RunStarted("t_1_aaaa", "tm-alpha", "review the release notes", 2)
	sink.MemberFinished("m1", member.StatusCompleted, 1500)
	sink.MemberFinished("m2", member.StatusFailed, 300)
	sink.TeamEvent("t_1_aaaa", "communication round 1: referenced=1/2")
	sink.RunFinished(team.RunRecord{
		Status:     team.RunCompleted,
		Summary:    "broad agreement",
		FinalJudge: judge.FinalJudge{Verdict: judge.VerdictConverged, Confidence: 0.85},
	})

	out := ansi.Strip(buf.String())
	for _, want := range []string{
		"tm-alpha: 2 teammates",
		"[ok] m1 (1.5s)",
		"[failed] m2 (0.3s)",
		"referenced=1/2",
		"verdict=converged confidence=0.85",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestLineSinkIgnoresChunks(t *testing.T) {
	var buf strings.Builder
	sink := NewLineSink(&buf)

	sink.MemberTextChunk("m1", "partial output")
	sink.MemberStderrChunk("m1", "noise")
	sink.MemberResult(member.Result{MemberID: "m1"})

	if buf.Len() != 0 {
		t.Errorf("sink wrote %q for chunk callbacks, want nothing", buf.String())
	}
}
