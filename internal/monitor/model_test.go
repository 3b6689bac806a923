package monitor

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pi-runtime/agentteams/internal/judge"
	"github.com/pi-runtime/agentteams/internal/member"
	"github.com/pi-runtime/agentteams/internal/team"
)

func apply(t *testing.T, m Model, msgs ...tea.Msg) Model {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		var ok bool
		m, ok = next.(Model)
		if !ok {
			t.Fatalf("Update returned %T, want Model", next)
		}
	}
	return m
}

func TestModelTracksMemberLifecycle(t *testing.T) {
	m := apply(t, NewModel(),
		runStartedMsg{runID: "t_1_aaaa", teamID: "tm-alpha", task: "summarize findings", memberCount: 2},
		memberPhaseMsg{memberID: "m1", role: "researcher", phase: "initial"},
		memberPhaseMsg{memberID: "m2", role: "reviewer", phase: "initial"},
		memberChunkMsg{memberID: "m1", chunk: "working through the inputs"},
		memberFinishedMsg{memberID: "m1", status: member.StatusCompleted, latencyMs: 1200},
		memberFinishedMsg{memberID: "m2", status: member.StatusFailed, latencyMs: 400},
	)

	if len(m.rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(m.rows))
	}
	if m.rows[0].id != "m1" || m.rows[1].id != "m2" {
		t.Errorf("row order = %s, %s, want m1, m2", m.rows[0].id, m.rows[1].id)
	}
	if !m.rows[0].done || m.rows[0].status != member.StatusCompleted {
		t.Errorf("m1 row = %+v, want completed", m.rows[0])
	}
	if m.rows[1].status != member.StatusFailed {
		t.Errorf("m2 row = %+v, want failed", m.rows[1])
	}

	view := m.View()
	for _, want := range []string{"tm-alpha", "m1", "m2", "summarize findings"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestModelQuitsOnRunFinished(t *testing.T) {
	m := apply(t, NewModel(), runStartedMsg{teamID: "tm-alpha", memberCount: 1})

	rec := team.RunRecord{
		Status:     team.RunCompleted,
		Summary:    "all members agreed",
		FinalJudge: judge.FinalJudge{Verdict: judge.VerdictConverged, Confidence: 0.9},
	}
	next, cmd := m.Update(runFinishedMsg{record: rec})
	if cmd == nil {
		t.Fatal("Update(runFinishedMsg) returned nil cmd, want tea.Quit")
	}
	m = next.(Model)
	view := m.View()
	if !strings.Contains(view, "verdict=converged") {
		t.Errorf("view missing verdict line:\n%s", view)
	}
	if !strings.Contains(view, "all members agreed") {
		t.Errorf("view missing summary:\n%s", view)
	}
}

func TestModelQuitKeys(t *testing.T) {
	m := NewModel()
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}); cmd == nil {
		t.Error("q did not quit")
	}
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}}); cmd != nil {
		t.Error("unexpected command for non-quit key")
	}
}

func TestModelNotesCapped(t *testing.T) {
	m := NewModel()
	for range maxNotes + 3 {
		m = apply(t, m, teamNoteMsg{message: "communication round 1: referenced=0/3"})
	}
	if len(m.notes) != maxNotes {
		t.Errorf("notes = %d, want capped at %d", len(m.notes), maxNotes)
	}
}
