// Package adaptive implements the parallelism penalty: a single counter
// raised on pressure signals (429s, timeouts, capacity exhaustion) and
// decayed over time, used to shrink requested parallel limits while the
// provider is struggling.
package adaptive

import (
	"sync"
	"time"

	"github.com/pi-runtime/agentteams/internal/event"
)

const defaultDecay = time.Minute

// Penalty tracks the adaptive parallelism penalty. The effective limit for
// any requested parallelism is max(1, requested - penalty). With
// maxPenalty 0 (the stable profile) every raise is a no-op and the penalty
// stays at zero.
type Penalty struct {
	mu        sync.Mutex
	penalty   int
	lastRaise time.Time

	maxPenalty int
	decay      time.Duration
	bus        *event.Bus
	now        func() time.Time
}

// Option configures a Penalty.
type Option func(*Penalty)

// WithBus publishes a PenaltyChangeEvent on every effective change.
func WithBus(bus *event.Bus) Option {
	return func(p *Penalty) { p.bus = bus }
}

// WithDecay overrides the decay interval. A zero or negative interval
// disables time decay.
func WithDecay(d time.Duration) Option {
	return func(p *Penalty) { p.decay = d }
}

// NewPenalty creates a penalty bounded by maxPenalty.
func NewPenalty(maxPenalty int, opts ...Option) *Penalty {
	p := &Penalty{
		maxPenalty: maxPenalty,
		decay:      defaultDecay,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Raise increments the penalty in response to a pressure signal.
// The reason is carried on the published event for observability.
func (p *Penalty) Raise(reason string) {
	p.mu.Lock()
	p.settleLocked()
	prev := p.penalty
	if p.penalty < p.maxPenalty {
		p.penalty++
	}
	p.lastRaise = p.now()
	cur := p.penalty
	p.mu.Unlock()

	p.publish(prev, cur, reason)
}

// Lower decrements the penalty, typically after a sustained run of
// successes.
func (p *Penalty) Lower() {
	p.mu.Lock()
	p.settleLocked()
	prev := p.penalty
	if p.penalty > 0 {
		p.penalty--
	}
	cur := p.penalty
	p.mu.Unlock()

	p.publish(prev, cur, "lowered")
}

// Current returns the penalty after applying time decay.
func (p *Penalty) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settleLocked()
	return p.penalty
}

// ApplyLimit shrinks a requested parallel limit by the current penalty,
// never below 1.
func (p *Penalty) ApplyLimit(limit int) int {
	effective := limit - p.Current()
	if effective < 1 {
		return 1
	}
	return effective
}

// settleLocked applies one decay step per elapsed decay interval since the
// last raise. Caller holds p.mu.
func (p *Penalty) settleLocked() {
	if p.penalty == 0 || p.decay <= 0 {
		return
	}
	steps := int(p.now().Sub(p.lastRaise) / p.decay)
	if steps <= 0 {
		return
	}
	if steps > p.penalty {
		steps = p.penalty
	}
	p.penalty -= steps
	p.lastRaise = p.lastRaise.Add(time.Duration(steps) * p.decay)
}

func (p *Penalty) publish(prev, cur int, reason string) {
	if p.bus == nil || prev == cur {
		return
	}
	p.bus.Publish(event.NewPenaltyChangeEvent(prev, cur, reason))
}
