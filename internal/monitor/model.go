// Package monitor renders live team-run progress: a bubbletea model for
// interactive terminals and a plain line sink for everything else. Both
// consume the orchestrator's observer callbacks.
package monitor

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pi-runtime/agentteams/internal/member"
	"github.com/pi-runtime/agentteams/internal/team"
	"github.com/pi-runtime/agentteams/internal/util"
)

const (
	taskPreviewLimit = 72
	tailLimit        = 64
	maxNotes         = 5
)

// Messages fed into the model by the Monitor bridge.
type (
	runStartedMsg struct {
		runID, teamID, task string
		memberCount         int
	}
	memberPhaseMsg struct {
		memberID, role, phase string
		round                 int
	}
	memberFinishedMsg struct {
		memberID  string
		status    member.Status
		latencyMs int64
	}
	memberChunkMsg struct {
		memberID, chunk string
		stderr          bool
	}
	teamNoteMsg struct {
		message string
	}
	runFinishedMsg struct {
		record team.RunRecord
	}
)

type memberRow struct {
	id, role, phase string
	round           int
	status          member.Status
	latencyMs       int64
	done            bool
	tail            string
}

// Model is the live run view. It tracks one run at a time; rows appear in
// the order the orchestrator first reports each member.
type Model struct {
	runID, teamID, task string
	memberCount         int

	rows  []memberRow
	index map[string]int

	notes  []string
	record *team.RunRecord

	width     int
	startedAt time.Time
}

// NewModel returns an empty live-run model.
func NewModel() Model {
	return Model{index: make(map[string]int), width: 80, startedAt: time.Now()}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}

	case runStartedMsg:
		m.runID = msg.runID
		m.teamID = msg.teamID
		m.task = msg.task
		m.memberCount = msg.memberCount
		m.startedAt = time.Now()

	case memberPhaseMsg:
		i := m.row(msg.memberID, msg.role)
		m.rows[i].phase = msg.phase
		m.rows[i].round = msg.round
		if msg.role != "" {
			m.rows[i].role = msg.role
		}

	case memberFinishedMsg:
		i := m.row(msg.memberID, "")
		m.rows[i].status = msg.status
		m.rows[i].latencyMs = msg.latencyMs
		m.rows[i].done = true

	case memberChunkMsg:
		if !msg.stderr {
			i := m.row(msg.memberID, "")
			m.rows[i].tail = util.SingleLine(msg.chunk)
		}

	case teamNoteMsg:
		m.notes = append(m.notes, msg.message)
		if len(m.notes) > maxNotes {
			m.notes = m.notes[len(m.notes)-maxNotes:]
		}

	case runFinishedMsg:
		rec := msg.record
		m.record = &rec
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	title := fmt.Sprintf("%s · %d teammates", m.teamID, m.memberCount)
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(util.TruncateString(m.task, taskPreviewLimit)))
	b.WriteString("\n\n")

	for _, row := range m.rows {
		b.WriteString(m.renderRow(row))
		b.WriteString("\n")
	}

	for _, note := range m.notes {
		b.WriteString(mutedStyle.Render("· " + note))
		b.WriteString("\n")
	}

	if m.record != nil {
		b.WriteString("\n")
		b.WriteString(renderVerdict(*m.record))
		b.WriteString("\n")
	} else {
		b.WriteString(helpStyle.Render(fmt.Sprintf("elapsed %s · q to quit", time.Since(m.startedAt).Round(time.Second))))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderRow(row memberRow) string {
	icon := warnStyle.Render("●")
	if row.done {
		if row.status == member.StatusCompleted {
			icon = okStyle.Render("✓")
		} else {
			icon = errStyle.Render("✗")
		}
	}

	line := fmt.Sprintf("%s %s %s", icon, memberStyle.Render(fmt.Sprintf("%-12s", row.id)), row.phase)
	if row.round > 0 {
		line += fmt.Sprintf(" r%d", row.round)
	}
	if row.done {
		line += mutedStyle.Render(fmt.Sprintf(" %.1fs", float64(row.latencyMs)/1000))
	} else if row.tail != "" {
		line += " " + mutedStyle.Render(util.TruncateString(row.tail, tailLimit))
	}
	return util.TruncateANSI(line, max(m.width, 20))
}

// row returns the index for memberID, creating the row on first sight.
func (m *Model) row(memberID, role string) int {
	if i, ok := m.index[memberID]; ok {
		return i
	}
	m.rows = append(m.rows, memberRow{id: memberID, role: role, phase: "queued"})
	i := len(m.rows) - 1
	m.index[memberID] = i
	return i
}

func renderVerdict(rec team.RunRecord) string {
	style := okStyle
	if rec.Status == team.RunFailed {
		style = errStyle
	}
	return style.Render(fmt.Sprintf("verdict=%s confidence=%.2f", rec.FinalJudge.Verdict, rec.FinalJudge.Confidence)) +
		" " + mutedStyle.Render(util.TruncateString(rec.Summary, taskPreviewLimit))
}
