package monitor

import (
	"fmt"
	"io"
	"sync"

	"github.com/pi-runtime/agentteams/internal/member"
	"github.com/pi-runtime/agentteams/internal/orchestrator"
	"github.com/pi-runtime/agentteams/internal/team"
	"github.com/pi-runtime/agentteams/internal/util"
)

// LineSink prints run progress as plain styled lines, one event per line.
// It serves non-TTY output and the --monitor-less CLI path.
type LineSink struct {
	orchestrator.NopObserver

	mu sync.Mutex
	w  io.Writer
}

// NewLineSink creates a sink writing to w, typically os.Stdout.
func NewLineSink(w io.Writer) *LineSink {
	return &LineSink{w: w}
}

func (s *LineSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format+"\n", args...)
}

func (s *LineSink) RunStarted(runID, teamID, task string, memberCount int) {
	s.printf("%s %s: %d teammates - %s",
		titleStyle.Render("▶"), teamID, memberCount, util.TruncateString(task, taskPreviewLimit))
}

func (s *LineSink) MemberFinished(memberID string, status member.Status, latencyMs int64) {
	badge := okStyle.Render("[ok]")
	if status != member.StatusCompleted {
		badge = errStyle.Render("[failed]")
	}
	s.printf("  %s %s (%.1fs)", badge, memberID, float64(latencyMs)/1000)
}

func (s *LineSink) TeamEvent(runID, message string) {
	s.printf("  %s", mutedStyle.Render("· "+message))
}

func (s *LineSink) RunFinished(record team.RunRecord) {
	s.printf("%s", renderVerdict(record))
}
