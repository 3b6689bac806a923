package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/pi-runtime/agentteams/internal/event"
	"github.com/pi-runtime/agentteams/internal/judge"
	"github.com/pi-runtime/agentteams/internal/outcome"
	"github.com/pi-runtime/agentteams/internal/team"
	"github.com/pi-runtime/agentteams/internal/util"
)

// toolName identifies the parallel team runner to the admission
// controller; all orchestration turns queue under it.
const toolName = "agent_team"

// heartbeatInterval refreshes held reservations while teams run.
const heartbeatInterval = 15 * time.Second

// ParallelRequest dispatches several team runs under one capacity grant.
type ParallelRequest struct {
	Teams []RunRequest

	// TeamParallelLimit is the requested number of concurrently running
	// teams; values < 1 mean "all of them". The admission controller and
	// the adaptive penalty may shrink it.
	TeamParallelLimit int
	// MemberParallelLimit is the requested member parallelism within
	// each team; values < 1 mean "largest roster".
	MemberParallelLimit int

	// MaxWait bounds the capacity wait; zero uses the configured budget.
	MaxWait time.Duration

	// Observers are attached to every team run in addition to the
	// per-request observers.
	Observers []RunObserver
}

// ParallelResult is the aggregate of all team runs in one dispatch.
type ParallelResult struct {
	Runs []*RunResult

	Outcome          outcome.Code
	RetryRecommended bool

	AppliedTeams   int
	AppliedMembers int
	Reduced        bool
	CapacityWaited time.Duration
}

// RunTeams admits, reserves capacity for, and executes a batch of team
// runs. A team whose run fails outright still yields a synthesized failed
// record so the batch result covers every requested team.
func (rt *Runtime) RunTeams(ctx context.Context, req ParallelRequest) (*ParallelResult, error) {
	if len(req.Teams) == 0 {
		return nil, fmt.Errorf("no teams to run")
	}

	maxWait := req.MaxWait
	if maxWait <= 0 {
		maxWait = rt.Config.Capacity.CapacityWait()
	}

	lease, err := rt.Admission.AcquireOrchestrationTurn(ctx, toolName, maxWait)
	if err != nil {
		return nil, fmt.Errorf("acquire orchestration turn: %w", err)
	}
	defer lease.Release()

	teamsWanted := req.TeamParallelLimit
	if teamsWanted < 1 || teamsWanted > len(req.Teams) {
		teamsWanted = len(req.Teams)
	}
	membersWanted := req.MemberParallelLimit
	if membersWanted < 1 {
		membersWanted = largestRoster(req.Teams)
	}
	teamsWanted = rt.Penalty.ApplyLimit(teamsWanted)
	membersWanted = rt.Penalty.ApplyLimit(membersWanted)

	resolved := rt.Admission.ResolveParallelCapacity(ctx, toolName, teamsWanted, membersWanted,
		nil, maxWait, rt.Config.Capacity.CapacityPoll())
	rt.Bus.Publish(event.NewCapacityWaitEvent("", "parallel_capacity", resolved.Waited.Milliseconds(), resolved.Allowed))
	if !resolved.Allowed {
		if resolved.TimedOut {
			return nil, fmt.Errorf("parallel capacity: %w", outcome.ErrCapacityExhausted)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("parallel capacity: %w", outcome.ErrCapacityExhausted)
	}
	defer resolved.Reservation.Release()
	if err := resolved.Reservation.Consume(); err != nil {
		return nil, fmt.Errorf("consume capacity reservation: %w", err)
	}
	stopHeartbeat := rt.Admission.StartHeartbeat(ctx, resolved.Reservation, heartbeatInterval)
	defer stopHeartbeat()

	rt.Logger.Info("parallel run admitted",
		"teams", len(req.Teams),
		"applied_teams", resolved.AppliedTeams,
		"applied_members", resolved.AppliedMembers,
		"reduced", resolved.Reduced,
		"waited_ms", resolved.Waited.Milliseconds())

	// Spread the process-wide LLM budget across the granted team slots so
	// overlapping teams cannot oversubscribe it together.
	memberBudget := resolved.AppliedMembers
	if rt.Config.Capacity.MaxTotalActiveLLM > 0 && resolved.AppliedTeams > 0 {
		perTeam := rt.Config.Capacity.MaxTotalActiveLLM / resolved.AppliedTeams
		memberBudget = min(memberBudget, max(1, perTeam))
	}

	runs := runWithLimit(ctx, resolved.AppliedTeams, len(req.Teams), func(ctx context.Context, i int) *RunResult {
		teamReq := req.Teams[i]
		if teamReq.MemberParallelLimit < 1 || teamReq.MemberParallelLimit > memberBudget {
			teamReq.MemberParallelLimit = memberBudget
		}
		// The penalty is already folded into the capacity grant above.
		teamReq.memberLimitResolved = true
		teamReq.Observers = append(append([]RunObserver{}, teamReq.Observers...), req.Observers...)

		res, err := rt.RunTeam(ctx, teamReq)
		if err != nil && res == nil {
			return rt.failedRun(teamReq, err)
		}
		return res
	})

	codes := make([]outcome.Code, len(runs))
	for i, r := range runs {
		codes[i] = r.Outcome
	}
	code, retryRec := teamOutcome(codes)

	return &ParallelResult{
		Runs:             runs,
		Outcome:          code,
		RetryRecommended: retryRec,
		AppliedTeams:     resolved.AppliedTeams,
		AppliedMembers:   resolved.AppliedMembers,
		Reduced:          resolved.Reduced,
		CapacityWaited:   resolved.Waited,
	}, nil
}

// failedRun synthesizes a failed result for a team whose run could not
// produce one itself, so batch aggregation always sees every team.
func (rt *Runtime) failedRun(req RunRequest, err error) *RunResult {
	now := team.Timestamp(rt.clock())
	fj := judge.FinalJudge{
		Verdict:         judge.VerdictFailed,
		Confidence:      0,
		Reason:          util.TruncateString(err.Error(), 300),
		CollapseSignals: []string{},
	}
	code := outcome.Classify(err)
	if code == outcome.Success {
		code = outcome.NonRetryableFailure
	}
	return &RunResult{
		Record: team.RunRecord{
			RunID:            util.NewRunID(),
			TeamID:           req.Team.ID,
			Strategy:         req.Strategy,
			Task:             req.Task,
			RecoveredMembers: []string{},
			Summary:          fj.Reason,
			Status:           team.RunFailed,
			StartedAt:        now,
			FinishedAt:       now,
			FinalJudge:       fj,
		},
		Judge:            fj,
		Outcome:          code,
		RetryRecommended: code.RetryRecommended(),
	}
}

func largestRoster(reqs []RunRequest) int {
	largest := 1
	for _, r := range reqs {
		largest = max(largest, len(r.Team.ActiveMembers()))
	}
	return largest
}
