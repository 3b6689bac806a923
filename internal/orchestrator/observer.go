package orchestrator

import (
	"log"
	"runtime/debug"

	"github.com/pi-runtime/agentteams/internal/member"
	"github.com/pi-runtime/agentteams/internal/team"
)

// RunObserver receives best-effort notifications for one team run. All
// methods are called synchronously from the orchestrator; implementations
// must be fast and must tolerate concurrent member callbacks. A panicking
// observer is isolated and never aborts the run.
type RunObserver interface {
	RunStarted(runID, teamID, task string, memberCount int)
	MemberPhase(memberID, role, phase string, round int)
	MemberStarted(memberID, role, phase string)
	MemberFinished(memberID string, status member.Status, latencyMs int64)
	MemberResult(res member.Result)
	MemberTextChunk(memberID, chunk string)
	MemberStderrChunk(memberID, chunk string)
	TeamEvent(runID, message string)
	RunFinished(record team.RunRecord)
}

// NopObserver implements RunObserver with no-ops. Embed it to implement
// only the callbacks a sink cares about.
type NopObserver struct{}

func (NopObserver) RunStarted(runID, teamID, task string, memberCount int)                {}
func (NopObserver) MemberPhase(memberID, role, phase string, round int)                   {}
func (NopObserver) MemberStarted(memberID, role, phase string)                            {}
func (NopObserver) MemberFinished(memberID string, status member.Status, latencyMs int64) {}
func (NopObserver) MemberResult(res member.Result)                                        {}
func (NopObserver) MemberTextChunk(memberID, chunk string)                                {}
func (NopObserver) MemberStderrChunk(memberID, chunk string)                              {}
func (NopObserver) TeamEvent(runID, message string)                                       {}
func (NopObserver) RunFinished(record team.RunRecord)                                     {}

// observers fans callbacks out to every registered sink, recovering from
// panics so one broken sink cannot take down the run.
type observers []RunObserver

func (o observers) each(fn func(RunObserver)) {
	for _, obs := range o {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("run observer panic: %v\n%s", r, debug.Stack())
				}
			}()
			fn(obs)
		}()
	}
}

func (o observers) runStarted(runID, teamID, task string, memberCount int) {
	o.each(func(obs RunObserver) { obs.RunStarted(runID, teamID, task, memberCount) })
}

func (o observers) memberPhase(memberID, role, phase string, round int) {
	o.each(func(obs RunObserver) { obs.MemberPhase(memberID, role, phase, round) })
}

func (o observers) memberStarted(memberID, role, phase string) {
	o.each(func(obs RunObserver) { obs.MemberStarted(memberID, role, phase) })
}

func (o observers) memberFinished(memberID string, status member.Status, latencyMs int64) {
	o.each(func(obs RunObserver) { obs.MemberFinished(memberID, status, latencyMs) })
}

func (o observers) memberResult(res member.Result) {
	o.each(func(obs RunObserver) { obs.MemberResult(res) })
}

func (o observers) memberTextChunk(memberID, chunk string) {
	o.each(func(obs RunObserver) { obs.MemberTextChunk(memberID, chunk) })
}

func (o observers) memberStderrChunk(memberID, chunk string) {
	o.each(func(obs RunObserver) { obs.MemberStderrChunk(memberID, chunk) })
}

func (o observers) teamEvent(runID, message string) {
	o.each(func(obs RunObserver) { obs.TeamEvent(runID, message) })
}

func (o observers) runFinished(record team.RunRecord) {
	o.each(func(obs RunObserver) { obs.RunFinished(record) })
}
