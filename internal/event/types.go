// Package event defines event types for decoupling components of the team
// runtime. These events let the live monitor, pattern store, and telemetry
// sinks observe a run without direct dependencies on the orchestrator.
package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "member.started", "run.finished")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Run Lifecycle Events
// -----------------------------------------------------------------------------

// Phase represents the current phase of a team run.
type Phase string

const (
	PhasePrepare       Phase = "prepare"
	PhaseInitial       Phase = "initial"
	PhaseCommunication Phase = "communication"
	PhaseRetry         Phase = "retry"
	PhaseJudge         Phase = "judge"
	PhasePersist       Phase = "persist"
	PhaseComplete      Phase = "complete"
	PhaseFailed        Phase = "failed"
)

// RunStartedEvent is emitted when a team run begins execution.
type RunStartedEvent struct {
	baseEvent
	RunID       string // Unique identifier for the run (t_<epoch_ms>_<hex4>)
	TeamID      string // Team being executed
	Task        string // Task description or prompt
	MemberCount int    // Number of members in the team
}

// NewRunStartedEvent creates a RunStartedEvent.
func NewRunStartedEvent(runID, teamID, task string, memberCount int) RunStartedEvent {
	return RunStartedEvent{
		baseEvent:   newBaseEvent("run.started"),
		RunID:       runID,
		TeamID:      teamID,
		Task:        task,
		MemberCount: memberCount,
	}
}

// RunFinishedEvent is emitted when a team run finishes, successfully or not.
type RunFinishedEvent struct {
	baseEvent
	RunID      string // Run that finished
	TeamID     string // Team that was executed
	Verdict    string // Judge verdict: converged, partial, diverged, failed
	Outcome    string // Aggregated outcome code for the run
	DurationMs int64  // Wall-clock duration
}

// NewRunFinishedEvent creates a RunFinishedEvent.
func NewRunFinishedEvent(runID, teamID, verdict, outcome string, durationMs int64) RunFinishedEvent {
	return RunFinishedEvent{
		baseEvent:  newBaseEvent("run.finished"),
		RunID:      runID,
		TeamID:     teamID,
		Verdict:    verdict,
		Outcome:    outcome,
		DurationMs: durationMs,
	}
}

// PhaseChangeEvent is emitted when a run transitions between phases.
type PhaseChangeEvent struct {
	baseEvent
	RunID         string // Run whose phase changed
	PreviousPhase Phase  // Previous phase (empty if first transition)
	CurrentPhase  Phase  // New current phase
	Round         int    // Round number for communication/retry phases, 0 otherwise
}

// NewPhaseChangeEvent creates a PhaseChangeEvent.
func NewPhaseChangeEvent(runID string, previousPhase, currentPhase Phase, round int) PhaseChangeEvent {
	return PhaseChangeEvent{
		baseEvent:     newBaseEvent("run.phase_changed"),
		RunID:         runID,
		PreviousPhase: previousPhase,
		CurrentPhase:  currentPhase,
		Round:         round,
	}
}

// -----------------------------------------------------------------------------
// Member Lifecycle Events
// -----------------------------------------------------------------------------

// MemberQueuedEvent is emitted when a member dispatch is waiting for capacity.
type MemberQueuedEvent struct {
	baseEvent
	RunID    string // Run the member belongs to
	MemberID string // Member waiting for capacity
}

// NewMemberQueuedEvent creates a MemberQueuedEvent.
func NewMemberQueuedEvent(runID, memberID string) MemberQueuedEvent {
	return MemberQueuedEvent{
		baseEvent: newBaseEvent("member.queued"),
		RunID:     runID,
		MemberID:  memberID,
	}
}

// MemberStartedEvent is emitted when a member dispatch begins execution.
type MemberStartedEvent struct {
	baseEvent
	RunID    string // Run the member belongs to
	MemberID string // Member being dispatched
	Model    string // Model the member is configured with
	Attempt  int    // 1-based attempt number including retries
}

// NewMemberStartedEvent creates a MemberStartedEvent.
func NewMemberStartedEvent(runID, memberID, model string, attempt int) MemberStartedEvent {
	return MemberStartedEvent{
		baseEvent: newBaseEvent("member.started"),
		RunID:     runID,
		MemberID:  memberID,
		Model:     model,
		Attempt:   attempt,
	}
}

// MemberCompletedEvent is emitted when a member dispatch finishes.
type MemberCompletedEvent struct {
	baseEvent
	RunID     string // Run the member belongs to
	MemberID  string // Member that finished
	Success   bool   // Whether the dispatch produced usable output
	Outcome   string // Outcome code for the dispatch
	LatencyMs int64  // Dispatch latency
	Error     string // Error message (if failed)
}

// NewMemberCompletedEvent creates a MemberCompletedEvent.
func NewMemberCompletedEvent(runID, memberID string, success bool, outcome string, latencyMs int64, errMsg string) MemberCompletedEvent {
	return MemberCompletedEvent{
		baseEvent: newBaseEvent("member.completed"),
		RunID:     runID,
		MemberID:  memberID,
		Success:   success,
		Outcome:   outcome,
		LatencyMs: latencyMs,
		Error:     errMsg,
	}
}

// MemberRetryEvent is emitted when a failed member is scheduled for a
// selective retry round.
type MemberRetryEvent struct {
	baseEvent
	RunID    string // Run the member belongs to
	MemberID string // Member being retried
	Round    int    // 1-based retry round number
	Reason   string // Failure class that made the member eligible
}

// NewMemberRetryEvent creates a MemberRetryEvent.
func NewMemberRetryEvent(runID, memberID string, round int, reason string) MemberRetryEvent {
	return MemberRetryEvent{
		baseEvent: newBaseEvent("member.retry"),
		RunID:     runID,
		MemberID:  memberID,
		Round:     round,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Capacity and Rate-Limit Events
// -----------------------------------------------------------------------------

// CapacityWaitEvent is emitted when an orchestration or reservation request
// has to wait for shared capacity.
type CapacityWaitEvent struct {
	baseEvent
	RunID    string // Run that is waiting (may be empty for process-level waits)
	Resource string // What is contended: "orchestration", "requests", "llm"
	WaitedMs int64  // How long the wait took once resolved
	Granted  bool   // False when the wait ended in timeout or cancellation
}

// NewCapacityWaitEvent creates a CapacityWaitEvent.
func NewCapacityWaitEvent(runID, resource string, waitedMs int64, granted bool) CapacityWaitEvent {
	return CapacityWaitEvent{
		baseEvent: newBaseEvent("capacity.wait"),
		RunID:     runID,
		Resource:  resource,
		WaitedMs:  waitedMs,
		Granted:   granted,
	}
}

// RateLimitEvent is emitted when the shared gate registers a provider
// rate-limit hit or imposes a wait on a dispatch.
type RateLimitEvent struct {
	baseEvent
	Key     string // Gate key, typically "provider:model" or "__global__"
	Hits    int    // Consecutive hit count after this event
	UntilMs int64  // Epoch ms until which the key is blocked
	WaitMs  int64  // Wait imposed on the current dispatch (0 for pure hits)
}

// NewRateLimitEvent creates a RateLimitEvent.
func NewRateLimitEvent(key string, hits int, untilMs, waitMs int64) RateLimitEvent {
	return RateLimitEvent{
		baseEvent: newBaseEvent("ratelimit.hit"),
		Key:       key,
		Hits:      hits,
		UntilMs:   untilMs,
		WaitMs:    waitMs,
	}
}

// PenaltyChangeEvent is emitted when the adaptive parallelism penalty moves.
type PenaltyChangeEvent struct {
	baseEvent
	Previous int    // Penalty before the change
	Current  int    // Penalty after the change
	Reason   string // What triggered the change ("rate_limit", "capacity", "decay", ...)
}

// NewPenaltyChangeEvent creates a PenaltyChangeEvent.
func NewPenaltyChangeEvent(previous, current int, reason string) PenaltyChangeEvent {
	return PenaltyChangeEvent{
		baseEvent: newBaseEvent("penalty.changed"),
		Previous:  previous,
		Current:   current,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Telemetry Events
// -----------------------------------------------------------------------------

// TelemetryEvent carries aggregate counters for a finished run.
type TelemetryEvent struct {
	baseEvent
	RunID           string // Run the counters belong to
	Dispatches      int    // Total member dispatches including retries
	Retries         int    // Retry dispatches only
	RateLimitHits   int    // 429s observed during the run
	RecoveredCount  int    // Members that failed initially but recovered
	CommunicationMs int64  // Time spent in communication rounds
}

// NewTelemetryEvent creates a TelemetryEvent.
func NewTelemetryEvent(runID string, dispatches, retries, rateLimitHits, recoveredCount int, communicationMs int64) TelemetryEvent {
	return TelemetryEvent{
		baseEvent:       newBaseEvent("run.telemetry"),
		RunID:           runID,
		Dispatches:      dispatches,
		Retries:         retries,
		RateLimitHits:   rateLimitHits,
		RecoveredCount:  recoveredCount,
		CommunicationMs: communicationMs,
	}
}
