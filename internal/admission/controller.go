// Package admission implements the process-wide admission controller: a
// FIFO orchestration queue, capacity counters with reservations, and the
// candidate ladder that shrinks requested parallelism until it fits.
package admission

import (
	"context"
	"sync"
	"time"

	"github.com/pi-runtime/agentteams/internal/config"
	"github.com/pi-runtime/agentteams/internal/outcome"
)

// Controller serializes orchestrations and accounts for shared capacity.
// All waits are condition-variable based; a cancelled context wakes
// blocked waiters through a broadcast goroutine.
type Controller struct {
	mu   sync.Mutex
	cond *sync.Cond

	limits config.CapacityConfig

	// Orchestration queue: tickets are granted in arrival order.
	nextTicket           uint64
	queue                []uint64
	activeOrchestrations int

	// Capacity counters. Totals are active + reserved.
	activeRequests   int
	activeLLM        int
	reservedRequests int
	reservedLLM      int

	now func() time.Time
}

// NewController creates a Controller with the given capacity limits.
func NewController(limits config.CapacityConfig) *Controller {
	c := &Controller{
		limits: limits,
		now:    time.Now,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Lease represents one admitted orchestration turn. Release exactly once.
type Lease struct {
	c          *Controller
	ToolName   string
	AcquiredAt time.Time

	released bool
}

// Release returns the orchestration slot. Safe to call once; later calls
// are no-ops.
func (l *Lease) Release() {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	l.c.activeOrchestrations--
	l.c.cond.Broadcast()
}

// AcquireOrchestrationTurn joins the FIFO orchestration queue and blocks
// until admitted, the wait budget expires, or ctx is cancelled. Admission
// is strictly in arrival order.
func (c *Controller) AcquireOrchestrationTurn(ctx context.Context, toolName string, maxWait time.Duration) (*Lease, error) {
	c.mu.Lock()

	ticket := c.nextTicket
	c.nextTicket++
	c.queue = append(c.queue, ticket)

	deadline := c.now().Add(maxWait)
	deadlineTimer := time.AfterFunc(maxWait, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer deadlineTimer.Stop()

	// Wake blocked waiters when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.cond.Broadcast()
			c.mu.Unlock()
		case <-done:
		}
	}()

	defer c.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			c.dropTicketLocked(ticket)
			return nil, err
		}
		if c.now().After(deadline) {
			c.dropTicketLocked(ticket)
			return nil, outcome.ErrQueueTimeout
		}
		if len(c.queue) > 0 && c.queue[0] == ticket &&
			c.activeOrchestrations < c.limits.MaxConcurrentOrchestrations {
			c.queue = c.queue[1:]
			c.activeOrchestrations++
			// Others behind us may also be admittable when the width > 1.
			c.cond.Broadcast()
			return &Lease{c: c, ToolName: toolName, AcquiredAt: c.now()}, nil
		}
		c.cond.Wait()
	}
}

// dropTicketLocked removes a ticket that gave up waiting. Caller holds c.mu.
func (c *Controller) dropTicketLocked(ticket uint64) {
	for i, t := range c.queue {
		if t == ticket {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			break
		}
	}
	c.cond.Broadcast()
}

// QueueDepth returns the number of orchestrations waiting for admission.
func (c *Controller) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Totals reports the projected totals: active plus reserved, for requests
// and LLM workers respectively.
func (c *Controller) Totals() (requests, llm int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeRequests + c.reservedRequests, c.activeLLM + c.reservedLLM
}

// CapacityResult is the answer to a reservation attempt.
type CapacityResult struct {
	Allowed           bool
	ProjectedRequests int
	ProjectedLLM      int
	Reservation       *Reservation
}

// TryReserveCapacity attempts to reserve addRequests request slots and
// addLLM worker slots without blocking. Allowed iff both projected totals
// stay within the configured caps.
func (c *Controller) TryReserveCapacity(toolName string, addRequests, addLLM int) CapacityResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	projRequests := c.activeRequests + c.reservedRequests + addRequests
	projLLM := c.activeLLM + c.reservedLLM + addLLM

	res := CapacityResult{
		ProjectedRequests: projRequests,
		ProjectedLLM:      projLLM,
	}
	if projRequests > c.limits.MaxTotalActiveRequests || projLLM > c.limits.MaxTotalActiveLLM {
		return res
	}

	c.reservedRequests += addRequests
	c.reservedLLM += addLLM
	res.Allowed = true
	res.Reservation = &Reservation{
		c:           c,
		ToolName:    toolName,
		Requests:    addRequests,
		LLM:         addLLM,
		UpdatedAtMs: c.now().UnixMilli(),
	}
	return res
}

// ReserveCapacity blocks until the requested capacity fits, retrying at
// the poll interval. Returns ErrCapacityExhausted on timeout and the
// context error on cancellation.
func (c *Controller) ReserveCapacity(ctx context.Context, toolName string, addRequests, addLLM int, maxWait, pollInterval time.Duration) (*Reservation, error) {
	deadline := c.now().Add(maxWait)
	for {
		if res := c.TryReserveCapacity(toolName, addRequests, addLLM); res.Allowed {
			return res.Reservation, nil
		}
		if !c.now().Before(deadline) {
			return nil, outcome.ErrCapacityExhausted
		}

		wait := pollInterval
		if remaining := deadline.Sub(c.now()); remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
