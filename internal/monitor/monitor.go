package monitor

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pi-runtime/agentteams/internal/member"
	"github.com/pi-runtime/agentteams/internal/team"
)

// Monitor bridges orchestrator observer callbacks into a running bubbletea
// program. Callbacks arrive from orchestrator goroutines; Send is safe for
// concurrent use.
type Monitor struct {
	program *tea.Program
}

// New creates a monitor with its own program. Call Run on the caller's
// goroutine; it blocks until the run finishes or the user quits.
func New(opts ...tea.ProgramOption) *Monitor {
	return &Monitor{program: tea.NewProgram(NewModel(), opts...)}
}

// Run starts the UI event loop and blocks until it exits.
func (m *Monitor) Run() error {
	_, err := m.program.Run()
	return err
}

// Quit asks the UI to shut down.
func (m *Monitor) Quit() {
	m.program.Quit()
}

func (m *Monitor) RunStarted(runID, teamID, task string, memberCount int) {
	m.program.Send(runStartedMsg{runID: runID, teamID: teamID, task: task, memberCount: memberCount})
}

func (m *Monitor) MemberPhase(memberID, role, phase string, round int) {
	m.program.Send(memberPhaseMsg{memberID: memberID, role: role, phase: phase, round: round})
}

func (m *Monitor) MemberStarted(memberID, role, phase string) {
	m.program.Send(memberPhaseMsg{memberID: memberID, role: role, phase: phase})
}

func (m *Monitor) MemberFinished(memberID string, status member.Status, latencyMs int64) {
	m.program.Send(memberFinishedMsg{memberID: memberID, status: status, latencyMs: latencyMs})
}

func (m *Monitor) MemberResult(res member.Result) {}

func (m *Monitor) MemberTextChunk(memberID, chunk string) {
	m.program.Send(memberChunkMsg{memberID: memberID, chunk: chunk})
}

func (m *Monitor) MemberStderrChunk(memberID, chunk string) {
	m.program.Send(memberChunkMsg{memberID: memberID, chunk: chunk, stderr: true})
}

func (m *Monitor) TeamEvent(runID, message string) {
	m.program.Send(teamNoteMsg{message: message})
}

func (m *Monitor) RunFinished(record team.RunRecord) {
	m.program.Send(runFinishedMsg{record: record})
}
