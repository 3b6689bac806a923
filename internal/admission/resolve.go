package admission

import (
	"context"
	"time"

	"github.com/pi-runtime/agentteams/internal/outcome"
)

// Candidate is one (teamParallelism, memberParallelism) pair on the
// capacity ladder. Its cost is teams request slots and teams*members LLM
// slots.
type Candidate struct {
	Teams   int
	Members int
}

func (c Candidate) requests() int { return c.Teams }
func (c Candidate) llm() int      { return c.Teams * c.Members }

// ResolveResult reports how much parallelism was actually granted.
type ResolveResult struct {
	Allowed        bool
	AppliedTeams   int
	AppliedMembers int
	Reduced        bool
	Reservation    *Reservation
	Waited         time.Duration
	TimedOut       bool
	Aborted        bool
}

// DefaultCandidates builds the descending ladder for a requested pair:
// first shrink team parallelism to 1, then shrink member parallelism.
func DefaultCandidates(teams, members int) []Candidate {
	if teams < 1 {
		teams = 1
	}
	if members < 1 {
		members = 1
	}
	var ladder []Candidate
	for t := teams; t >= 1; t-- {
		ladder = append(ladder, Candidate{Teams: t, Members: members})
	}
	for m := members - 1; m >= 1; m-- {
		ladder = append(ladder, Candidate{Teams: 1, Members: m})
	}
	return ladder
}

// ResolveParallelCapacity tries each candidate once in order; the first
// that fits is reserved immediately. If none fits, it blocks on the
// smallest candidate with ReserveCapacity. The applied pair never exceeds
// the requested pair, and Reduced reports whether it shrank.
func (c *Controller) ResolveParallelCapacity(ctx context.Context, toolName string, requestedTeams, requestedMembers int, candidates []Candidate, maxWait, pollInterval time.Duration) ResolveResult {
	if requestedTeams > c.limits.MaxParallelTeamsPerRun {
		requestedTeams = c.limits.MaxParallelTeamsPerRun
	}
	if requestedMembers > c.limits.MaxParallelTeammatesPerTeam {
		requestedMembers = c.limits.MaxParallelTeammatesPerTeam
	}
	if len(candidates) == 0 {
		candidates = DefaultCandidates(requestedTeams, requestedMembers)
	}

	started := c.now()
	for _, cand := range candidates {
		if cand.Teams > requestedTeams || cand.Members > requestedMembers {
			continue
		}
		if res := c.TryReserveCapacity(toolName, cand.requests(), cand.llm()); res.Allowed {
			return ResolveResult{
				Allowed:        true,
				AppliedTeams:   cand.Teams,
				AppliedMembers: cand.Members,
				Reduced:        cand.Teams < requestedTeams || cand.Members < requestedMembers,
				Reservation:    res.Reservation,
				Waited:         c.now().Sub(started),
			}
		}
	}

	smallest := candidates[len(candidates)-1]
	if smallest.Teams > requestedTeams || smallest.Members > requestedMembers {
		smallest = Candidate{Teams: 1, Members: 1}
	}
	reservation, err := c.ReserveCapacity(ctx, toolName, smallest.requests(), smallest.llm(), maxWait, pollInterval)
	waited := c.now().Sub(started)
	if err != nil {
		return ResolveResult{
			Waited:   waited,
			TimedOut: outcome.Is(err, outcome.ErrCapacityExhausted),
			Aborted:  outcome.Is(err, context.Canceled) || outcome.Is(err, context.DeadlineExceeded),
		}
	}
	return ResolveResult{
		Allowed:        true,
		AppliedTeams:   smallest.Teams,
		AppliedMembers: smallest.Members,
		Reduced:        smallest.Teams < requestedTeams || smallest.Members < requestedMembers,
		Reservation:    reservation,
		Waited:         waited,
	}
}
