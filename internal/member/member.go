// Package member defines the teammate dispatch contract: the Executor
// interface the orchestrator drives, the result type it collects, and the
// output normalization applied to every completed dispatch.
package member

import (
	"context"
	"time"
)

// Status is the terminal state of a single member dispatch.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Diagnostics are signals parsed out of a member's normalized output. They
// feed the uncertainty proxy.
type Diagnostics struct {
	// Confidence is the parsed CONFIDENCE value in [0,1]; 0.5 when absent
	// or unparseable.
	Confidence float64 `json:"confidence"`
	// EvidenceCount is the number of EVIDENCE list items.
	EvidenceCount int `json:"evidenceCount"`
	// ContradictionSignals counts contradiction-keyword occurrences.
	ContradictionSignals int `json:"contradictionSignals"`
	// ConflictSignals counts conflict-keyword occurrences.
	ConflictSignals int `json:"conflictSignals"`
}

// Result is the outcome of one member dispatch within a run. A completed
// result always carries non-empty, validated output.
type Result struct {
	MemberID    string      `json:"memberId"`
	Role        string      `json:"role"`
	Status      Status      `json:"status"`
	Summary     string      `json:"summary"`
	Output      string      `json:"output"`
	LatencyMs   int64       `json:"latencyMs"`
	Error       string      `json:"error,omitempty"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

// Completed reports whether the dispatch produced validated output.
func (r Result) Completed() bool { return r.Status == StatusCompleted }

// Request describes one member dispatch to an Executor.
type Request struct {
	MemberID string
	Role     string
	Provider string
	Model    string
	Prompt   string
	Timeout  time.Duration

	// OnTextChunk and OnStderrChunk stream raw output as it arrives. Both
	// are optional and best-effort.
	OnTextChunk   func(chunk string)
	OnStderrChunk func(chunk string)
}

// Response is the raw outcome of a dispatch before normalization.
type Response struct {
	Output    string
	LatencyMs int64
}

// Executor runs one member dispatch. Implementations must honor ctx
// cancellation and the request timeout.
type Executor interface {
	Execute(ctx context.Context, req Request) (Response, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req Request) (Response, error)

func (f ExecutorFunc) Execute(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
