package admission

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyConsumed is returned by Consume on a second call.
var ErrAlreadyConsumed = errors.New("reservation already consumed")

// ErrReleased is returned by Consume after the reservation was released.
var ErrReleased = errors.New("reservation already released")

// Reservation holds capacity that an admitted orchestration is about to
// use. Lifecycle: exactly one Consume (reserved -> active) followed by
// exactly one Release (return to pool). Release before Consume revokes
// the reservation.
type Reservation struct {
	c        *Controller
	ToolName string
	Requests int
	LLM      int

	// UpdatedAtMs is refreshed by the heartbeat so stale reservations
	// can be garbage collected.
	UpdatedAtMs int64

	consumed bool
	released bool
}

// Consume transitions the reservation from reserved to active.
func (r *Reservation) Consume() error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	if r.released {
		return ErrReleased
	}
	if r.consumed {
		return ErrAlreadyConsumed
	}
	r.consumed = true

	r.c.reservedRequests -= r.Requests
	r.c.reservedLLM -= r.LLM
	r.c.activeRequests += r.Requests
	r.c.activeLLM += r.LLM
	return nil
}

// Release returns the held capacity to the pool and wakes waiters.
// Safe to call once; later calls are no-ops.
func (r *Reservation) Release() {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	if r.released {
		return
	}
	r.released = true

	if r.consumed {
		r.c.activeRequests -= r.Requests
		r.c.activeLLM -= r.LLM
	} else {
		r.c.reservedRequests -= r.Requests
		r.c.reservedLLM -= r.LLM
	}
	r.c.cond.Broadcast()
}

// Touch refreshes the reservation's UpdatedAtMs stamp.
func (r *Reservation) Touch() {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	r.UpdatedAtMs = r.c.now().UnixMilli()
}

// StartHeartbeat refreshes the reservation at the given interval until
// ctx is cancelled or the returned stop function is called.
func (c *Controller) StartHeartbeat(ctx context.Context, r *Reservation, interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Touch()
			}
		}
	}()
	return cancel
}
