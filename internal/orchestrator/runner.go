package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pi-runtime/agentteams/internal/event"
	"github.com/pi-runtime/agentteams/internal/judge"
	"github.com/pi-runtime/agentteams/internal/logging"
	"github.com/pi-runtime/agentteams/internal/member"
	"github.com/pi-runtime/agentteams/internal/outcome"
	"github.com/pi-runtime/agentteams/internal/retry"
	"github.com/pi-runtime/agentteams/internal/team"
	"github.com/pi-runtime/agentteams/internal/util"
)

// Dispatch phase labels surfaced to observers and prompts.
const (
	phaseInitial       = "initial"
	phaseCommunication = "communication"
)

// RunRequest describes one team run.
type RunRequest struct {
	Team          team.Definition
	Task          string
	SharedContext string

	// Strategy defaults to parallel when unset or invalid.
	Strategy team.Strategy
	// MemberParallelLimit bounds concurrent member dispatches under the
	// parallel strategy. Values < 1 mean "roster size".
	MemberParallelLimit int

	CommunicationRounds     int
	FailedMemberRetryRounds int

	// Timeout is the per-dispatch timeout; zero uses the configured
	// default with model multipliers.
	Timeout time.Duration

	// Retry overrides the executor's configured retry defaults.
	Retry *retry.Options

	Observers []RunObserver

	// memberLimitResolved is set by RunTeams when MemberParallelLimit
	// already reflects the adaptive penalty and the capacity grant, so
	// RunTeam must not shrink it a second time.
	memberLimitResolved bool
}

// RunResult is everything a finished team run produced.
type RunResult struct {
	Record  team.RunRecord
	Results []member.Result
	Audit   []AuditEntry
	Proxy   judge.Proxy
	Judge   judge.FinalJudge

	Outcome          outcome.Code
	RetryRecommended bool
}

// dispatchOutcome pairs a member result with the error chain that produced
// it, kept for outcome classification and retry-round targeting. attempts
// counts executor invocations so a member that only completed after a
// failed attempt is reported as recovered.
type dispatchOutcome struct {
	res      member.Result
	err      error
	attempts int
}

// runStats accumulates dispatch counters across phases. Fields are atomic
// because parallel strategy updates them from worker goroutines.
type runStats struct {
	dispatches    atomic.Int64
	retries       atomic.Int64
	rateLimitHits atomic.Int64
}

// RunTeam executes one team run through its phases: prepare, initial
// dispatch, communication rounds, failed-member retry rounds, final judge,
// persist. Individual member failures never fail the run; the returned
// error is non-nil only for fatal conditions (no active members, persist
// failure), and even then a degraded record has been emitted.
func (rt *Runtime) RunTeam(ctx context.Context, req RunRequest) (*RunResult, error) {
	runID := util.NewRunID()
	started := rt.clock()
	obs := observers(req.Observers)
	logger := rt.Logger.WithRun(runID).WithTeam(req.Team.ID)

	strategy := req.Strategy
	if !strategy.IsValid() {
		strategy = team.StrategyParallel
	}

	// Prepare.
	active := req.Team.ActiveMembers()
	if len(active) == 0 {
		logger.Error("run rejected", "reason", "no enabled members")
		res := rt.finishRun(runID, req, strategy, started, nil, nil, nil, 0, 0, 0, nil, obs, logger)
		return res, fmt.Errorf("team %q: %w", req.Team.ID, outcome.ErrNoActiveMembers)
	}

	commRounds, retryRounds := rt.normalizeRounds(req.CommunicationRounds, req.FailedMemberRetryRounds, len(active))
	links := communicationLinks(active, rt.Config.Runtime.MaxCommunicationPartners)
	limit := req.MemberParallelLimit
	if limit < 1 || limit > len(active) {
		limit = len(active)
	}
	if !req.memberLimitResolved {
		limit = rt.Penalty.ApplyLimit(limit)
	}

	roles := make(map[string]string, len(active))
	ids := make([]string, len(active))
	for i, m := range active {
		ids[i] = m.ID
		roles[m.ID] = m.Role
	}

	rt.Bus.Publish(event.NewRunStartedEvent(runID, req.Team.ID, req.Task, len(active)))
	obs.runStarted(runID, req.Team.ID, req.Task, len(active))
	logger.Info("run started",
		"strategy", strategy.String(),
		"members", len(active),
		"parallel_limit", limit,
		"communication_rounds", commRounds,
		"retry_rounds", retryRounds)

	for _, m := range active {
		rt.Bus.Publish(event.NewMemberQueuedEvent(runID, m.ID))
		obs.memberPhase(m.ID, m.Role, "queued", 0)
	}

	// Initial phase. A member whose dispatch only succeeded after a failed
	// executor attempt is recorded as recovered, same as a retry round
	// bringing it back.
	stats := &runStats{}
	var recovered []string
	rt.Bus.Publish(event.NewPhaseChangeEvent(runID, event.PhasePrepare, event.PhaseInitial, 0))
	outcomes := make(map[string]dispatchOutcome, len(active))
	for _, d := range rt.runPhase(ctx, req, runID, strategy, limit, active, phaseInitial, 0, nil, stats, obs, logger) {
		outcomes[d.res.MemberID] = d
		if d.attempts > 1 && d.res.Completed() {
			recovered = append(recovered, d.res.MemberID)
		}
	}

	// Communication rounds.
	var audit []AuditEntry
	commPerformed := 0
	commStarted := rt.clock()
	for round := 1; round <= commRounds; round++ {
		eligible := completedMembers(active, outcomes)
		if len(eligible) < 2 {
			break
		}
		rt.Bus.Publish(event.NewPhaseChangeEvent(runID, event.PhaseInitial, event.PhaseCommunication, round))

		prev := make(map[string]member.Result, len(outcomes))
		for id, d := range outcomes {
			prev[id] = d.res
		}
		contexts := make(map[string]string, len(eligible))
		snapshots := make(map[string][]PartnerSnapshot, len(eligible))
		for _, m := range eligible {
			contexts[m.ID], snapshots[m.ID] = buildCommunicationContext(links[m.ID], prev)
		}

		dispatched := rt.runPhase(ctx, req, runID, strategy, limit, eligible, phaseCommunication, round, contexts, stats, obs, logger)
		for _, d := range dispatched {
			outcomes[d.res.MemberID] = d
			if d.attempts > 1 && d.res.Completed() {
				recovered = append(recovered, d.res.MemberID)
			}
		}
		commPerformed = round

		// Audit entries are written after the round's dispatches settle.
		referencing := 0
		for _, m := range eligible {
			res := outcomes[m.ID].res
			referenced, missing := detectPartnerReferences(res.Output, links[m.ID], roles)
			if len(referenced) > 0 {
				referencing++
			}
			audit = append(audit, AuditEntry{
				Round:              round,
				MemberID:           m.ID,
				Role:               m.Role,
				PartnerIDs:         links[m.ID],
				ReferencedPartners: referenced,
				MissingPartners:    missing,
				ContextPreview:     contextPreview(contexts[m.ID]),
				PartnerSnapshots:   snapshots[m.ID],
				ResultStatus:       res.Status,
			})
		}
		msg := fmt.Sprintf("communication round %d: referenced=%d/%d", round, referencing, len(eligible))
		obs.teamEvent(runID, msg)
		logger.Info(msg)
	}
	commElapsed := time.Duration(0)
	if commPerformed > 0 {
		commElapsed = rt.clock().Sub(commStarted)
	}

	// Failed-member retry rounds.
	retryApplied := 0
	for round := 1; round <= retryRounds; round++ {
		targets := retryTargets(active, outcomes, round)
		if len(targets) == 0 {
			break
		}
		rt.Bus.Publish(event.NewPhaseChangeEvent(runID, event.PhaseCommunication, event.PhaseRetry, round))
		retryApplied = round

		prev := make(map[string]member.Result, len(outcomes))
		for id, d := range outcomes {
			prev[id] = d.res
		}
		contexts := make(map[string]string, len(targets))
		for _, m := range targets {
			contexts[m.ID], _ = buildCommunicationContext(links[m.ID], prev)
		}

		for _, d := range rt.runPhase(ctx, req, runID, strategy, limit, targets, phaseCommunication, round, contexts, stats, obs, logger) {
			if d.res.Completed() {
				recovered = append(recovered, d.res.MemberID)
			}
			outcomes[d.res.MemberID] = d
		}
	}

	rt.Bus.Publish(event.NewTelemetryEvent(runID,
		int(stats.dispatches.Load()),
		int(stats.retries.Load()),
		int(stats.rateLimitHits.Load()),
		len(recovered),
		commElapsed.Milliseconds()))

	res := rt.finishRun(runID, req, strategy, started, ids, outcomes, audit, commPerformed, retryRounds, retryApplied, recovered, obs, logger)
	return res, nil
}

// finishRun judges, persists, and notifies. It also serves the degraded
// path: with no outcomes it produces a failed record with a fallback judge.
func (rt *Runtime) finishRun(runID string, req RunRequest, strategy team.Strategy, started time.Time, ids []string, outcomes map[string]dispatchOutcome, audit []AuditEntry, commPerformed, retryConfigured, retryApplied int, recovered []string, obs observers, logger *logging.Logger) *RunResult {
	ordered := make([]member.Result, 0, len(ids))
	codes := make([]outcome.Code, 0, len(ids))
	for _, id := range ids {
		d := outcomes[id]
		ordered = append(ordered, d.res)
		if d.res.Completed() {
			codes = append(codes, outcome.Success)
		} else {
			codes = append(codes, outcome.Classify(d.err))
		}
	}

	rt.raisePenalties(outcomes)

	fj := judge.Judge(ordered)
	proxy := judge.ComputeProxy(ordered)
	code, retryRec := teamOutcome(codes)

	status := team.RunCompleted
	if fj.Verdict == judge.VerdictFailed {
		status = team.RunFailed
	}

	// recovered collects both retry-round and inline-executor recoveries;
	// dedupe and emit in roster order.
	recoveredSet := make(map[string]bool, len(recovered))
	for _, id := range recovered {
		recoveredSet[id] = true
	}
	recovered = make([]string, 0, len(recoveredSet))
	for _, id := range ids {
		if recoveredSet[id] && outcomes[id].res.Completed() {
			recovered = append(recovered, id)
		}
	}

	active := req.Team.ActiveMembers()
	rec := team.RunRecord{
		RunID:                    runID,
		TeamID:                   req.Team.ID,
		Strategy:                 strategy,
		Task:                     req.Task,
		CommunicationRounds:      commPerformed,
		FailedMemberRetryRounds:  retryConfigured,
		FailedMemberRetryApplied: retryApplied,
		RecoveredMembers:         recovered,
		CommunicationLinks:       communicationLinks(active, rt.Config.Runtime.MaxCommunicationPartners),
		Summary:                  fj.Reason,
		Status:                   status,
		StartedAt:                team.Timestamp(started),
		FinishedAt:               team.Timestamp(rt.clock()),
		MemberCount:              len(active),
		OutputFile:               rt.artifactPath(runID),
		FinalJudge:               fj,
	}

	if err := rt.persistRun(rec, req, ordered, audit, proxy, fj); err != nil {
		logger.Error("run persistence failed", "error", err)
	}

	rt.Bus.Publish(event.NewRunFinishedEvent(runID, req.Team.ID, string(fj.Verdict), string(code), rt.clock().Sub(started).Milliseconds()))
	obs.runFinished(rec)
	logger.Info("run finished",
		"status", string(status),
		"verdict", string(fj.Verdict),
		"outcome", string(code),
		"recovered", len(recovered))

	return &RunResult{
		Record:           rec,
		Results:          ordered,
		Audit:            audit,
		Proxy:            proxy,
		Judge:            fj,
		Outcome:          code,
		RetryRecommended: retryRec,
	}
}

// runPhase dispatches the target members for one phase and returns their
// outcomes. Parallel strategy fans out through the bounded executor;
// sequential iterates in roster order. Either way the returned slice is in
// target order.
func (rt *Runtime) runPhase(ctx context.Context, req RunRequest, runID string, strategy team.Strategy, limit int, targets []team.Member, phase string, round int, contexts map[string]string, stats *runStats, obs observers, logger *logging.Logger) []dispatchOutcome {
	dispatch := func(ctx context.Context, i int) dispatchOutcome {
		return rt.dispatchMember(ctx, req, runID, targets[i], phase, round, contexts[targets[i].ID], stats, obs, logger)
	}

	if strategy == team.StrategySequential {
		results := make([]dispatchOutcome, len(targets))
		for i := range targets {
			results[i] = dispatch(ctx, i)
		}
		return results
	}
	return runWithLimit(ctx, limit, len(targets), dispatch)
}

// dispatchMember runs one member through the retry executor and folds the
// raw response into a normalized result.
func (rt *Runtime) dispatchMember(ctx context.Context, req RunRequest, runID string, m team.Member, phase string, round int, commContext string, stats *runStats, obs observers, logger *logging.Logger) dispatchOutcome {
	stats.dispatches.Add(1)
	obs.memberPhase(m.ID, m.Role, phase, round)
	obs.memberStarted(m.ID, m.Role, phase)
	rt.Bus.Publish(event.NewMemberStartedEvent(runID, m.ID, m.Model, round))

	mreq := member.Request{
		MemberID: m.ID,
		Role:     m.Role,
		Provider: m.Provider,
		Model:    m.Model,
		Prompt:   buildPrompt(req.Task, req.SharedContext, m.Role, commContext),
		Timeout:  rt.effectiveTimeout(req.Timeout, m.Model),
		OnTextChunk: func(chunk string) {
			obs.memberTextChunk(m.ID, chunk)
		},
		OnStderrChunk: func(chunk string) {
			obs.memberStderrChunk(m.ID, chunk)
		},
	}

	opts := rt.Retry.Options()
	if req.Retry != nil {
		opts = *req.Retry
	}
	opts.RateLimitKey = rateLimitKey(m)
	opts.OnRetry = func(attempt int, delay time.Duration, err error) {
		stats.retries.Add(1)
		if outcome.ExtractStatusCode(err) == 429 {
			stats.rateLimitHits.Add(1)
		}
		rt.Bus.Publish(event.NewMemberRetryEvent(runID, m.ID, attempt, err.Error()))
		logger.Warn("member dispatch retrying",
			"member", m.ID,
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"error", err.Error())
	}
	opts.OnRateLimitWait = func(key string, wait time.Duration) {
		snap := rt.Gate.Snapshot(key)
		rt.Bus.Publish(event.NewRateLimitEvent(key, snap.Hits, snap.UntilMs, wait.Milliseconds()))
		logger.Warn("member dispatch waiting on rate-limit gate",
			"member", m.ID,
			"key", key,
			"wait_ms", wait.Milliseconds())
	}

	var resp member.Response
	attempts := 0
	err := rt.Retry.Do(ctx, func(ctx context.Context) error {
		attempts++
		// Per-dispatch child context so a retried attempt never inherits
		// a sibling's cancellation.
		attemptCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		r, execErr := rt.Executor.Execute(attemptCtx, mreq)
		if execErr != nil {
			return execErr
		}
		resp = r

		// Empty and low-substance outputs surface here so the retry
		// budget covers quality failures, not just transport ones.
		_, nerr := member.Normalize(r.Output)
		return nerr
	}, opts)

	res, ferr := member.Finalize(mreq, resp, err)
	obs.memberFinished(res.MemberID, res.Status, res.LatencyMs)
	obs.memberResult(res)
	rt.Bus.Publish(event.NewMemberCompletedEvent(runID, m.ID, res.Completed(), string(outcome.Classify(ferr)), res.LatencyMs, res.Error))
	return dispatchOutcome{res: res, err: ferr, attempts: attempts}
}

// raisePenalties bumps the adaptive penalty once per pressure category
// observed in this run.
func (rt *Runtime) raisePenalties(outcomes map[string]dispatchOutcome) {
	var rateLimited, capacity, timedOut bool
	for _, d := range outcomes {
		if d.err == nil {
			continue
		}
		switch {
		case outcome.Is(d.err, outcome.ErrRateLimitFastFail) || outcome.ExtractStatusCode(d.err) == 429:
			rateLimited = true
		case outcome.Is(d.err, outcome.ErrCapacityExhausted):
			capacity = true
		case outcome.Classify(d.err) == outcome.Timeout:
			timedOut = true
		}
	}
	if rateLimited {
		rt.Penalty.Raise("rate_limit")
	}
	if capacity {
		rt.Penalty.Raise("capacity")
	}
	if timedOut {
		rt.Penalty.Raise("timeout")
	}
}

// communicationLinks assigns each active member its partners: the other
// active members in roster order, capped at maxPartners.
func communicationLinks(active []team.Member, maxPartners int) map[string][]string {
	if maxPartners < 1 {
		maxPartners = 1
	}
	links := make(map[string][]string, len(active))
	for _, m := range active {
		partners := []string{}
		for _, other := range active {
			if other.ID == m.ID || len(partners) >= maxPartners {
				continue
			}
			partners = append(partners, other.ID)
		}
		links[m.ID] = partners
	}
	return links
}

// completedMembers filters the roster down to members whose latest result
// completed, preserving roster order.
func completedMembers(active []team.Member, outcomes map[string]dispatchOutcome) []team.Member {
	var eligible []team.Member
	for _, m := range active {
		if outcomes[m.ID].res.Completed() {
			eligible = append(eligible, m)
		}
	}
	return eligible
}

// retryTargets selects failed members eligible for a retry round. Round 1
// covers quality and transient failures only; later rounds cover the rest.
// Rate-limit and capacity failures are never retried here.
func retryTargets(active []team.Member, outcomes map[string]dispatchOutcome, round int) []team.Member {
	var targets []team.Member
	for _, m := range active {
		d := outcomes[m.ID]
		if d.res.Completed() || !retryEligible(d.err, round) {
			continue
		}
		targets = append(targets, m)
	}
	return targets
}

func retryEligible(err error, round int) bool {
	if err == nil {
		return false
	}
	status := outcome.ExtractStatusCode(err)
	if status == 429 || outcome.Is(err, outcome.ErrRateLimitFastFail) || outcome.Is(err, outcome.ErrCapacityExhausted) {
		return false
	}
	if round >= 2 {
		return true
	}
	if outcome.Is(err, outcome.ErrEmptyOutput) || outcome.Is(err, outcome.ErrLowSubstance) {
		return true
	}
	return status >= 500 && status < 600
}

// teamOutcome folds per-member codes into the run outcome. A roster that
// failed uniformly with cancellation or timeout surfaces that code
// directly instead of a generic failure.
func teamOutcome(codes []outcome.Code) (outcome.Code, bool) {
	if len(codes) > 0 {
		uniform := true
		for _, c := range codes[1:] {
			if c != codes[0] {
				uniform = false
				break
			}
		}
		if uniform && (codes[0] == outcome.Cancelled || codes[0] == outcome.Timeout) {
			return codes[0], codes[0].RetryRecommended()
		}
	}
	return outcome.Aggregate(codes)
}

// rateLimitKey scopes gate state per provider/model pair.
func rateLimitKey(m team.Member) string {
	switch {
	case m.Provider != "" && m.Model != "":
		return m.Provider + "/" + m.Model
	case m.Model != "":
		return m.Model
	case m.Provider != "":
		return m.Provider
	default:
		return "default"
	}
}
