package adaptive

import (
	"testing"
	"time"

	"github.com/pi-runtime/agentteams/internal/event"
)

func TestPenalty_RaiseAndApplyLimit(t *testing.T) {
	p := NewPenalty(3)

	if got := p.ApplyLimit(4); got != 4 {
		t.Errorf("ApplyLimit(4) with no penalty = %d, want 4", got)
	}

	p.Raise("rate_limit")
	if got := p.Current(); got != 1 {
		t.Errorf("Current() = %d, want 1 after raise", got)
	}
	if got := p.ApplyLimit(4); got != 3 {
		t.Errorf("ApplyLimit(4) = %d, want 3", got)
	}
}

func TestPenalty_NeverBelowOne(t *testing.T) {
	p := NewPenalty(5)
	for range 5 {
		p.Raise("timeout")
	}

	if got := p.ApplyLimit(2); got != 1 {
		t.Errorf("ApplyLimit(2) = %d, want floor of 1", got)
	}
	if got := p.ApplyLimit(1); got != 1 {
		t.Errorf("ApplyLimit(1) = %d, want floor of 1", got)
	}
}

func TestPenalty_CappedAtMax(t *testing.T) {
	p := NewPenalty(2)
	for range 10 {
		p.Raise("capacity")
	}
	if got := p.Current(); got != 2 {
		t.Errorf("Current() = %d, want cap of 2", got)
	}
}

func TestPenalty_DisabledWhenMaxZero(t *testing.T) {
	p := NewPenalty(0)
	p.Raise("rate_limit")
	p.Raise("rate_limit")

	if got := p.Current(); got != 0 {
		t.Errorf("Current() = %d, want 0 when penalty is disabled", got)
	}
	if got := p.ApplyLimit(4); got != 4 {
		t.Errorf("ApplyLimit(4) = %d, want 4 when penalty is disabled", got)
	}
}

func TestPenalty_Lower(t *testing.T) {
	p := NewPenalty(3)
	p.Raise("rate_limit")
	p.Raise("rate_limit")

	p.Lower()
	if got := p.Current(); got != 1 {
		t.Errorf("Current() = %d, want 1 after lower", got)
	}

	p.Lower()
	p.Lower() // already at zero, must not go negative
	if got := p.Current(); got != 0 {
		t.Errorf("Current() = %d, want 0", got)
	}
}

func TestPenalty_TimeDecay(t *testing.T) {
	current := time.UnixMilli(1_000_000)
	p := NewPenalty(3, WithDecay(time.Minute))
	p.now = func() time.Time { return current }

	p.Raise("rate_limit")
	p.Raise("rate_limit")
	if got := p.Current(); got != 2 {
		t.Fatalf("Current() = %d, want 2", got)
	}

	// One interval passes: one step decays.
	current = current.Add(time.Minute)
	if got := p.Current(); got != 1 {
		t.Errorf("Current() = %d, want 1 after one decay interval", got)
	}

	// Plenty of time passes: penalty settles at zero, never negative.
	current = current.Add(time.Hour)
	if got := p.Current(); got != 0 {
		t.Errorf("Current() = %d, want 0 after long idle", got)
	}
}

func TestPenalty_RaiseResetsDecayClock(t *testing.T) {
	current := time.UnixMilli(1_000_000)
	p := NewPenalty(3, WithDecay(time.Minute))
	p.now = func() time.Time { return current }

	p.Raise("rate_limit")
	current = current.Add(59 * time.Second)
	p.Raise("rate_limit")

	// 59s after the second raise: first raise is over a minute old, but
	// the clock restarted, so nothing has decayed.
	current = current.Add(59 * time.Second)
	if got := p.Current(); got != 2 {
		t.Errorf("Current() = %d, want 2 before the decay interval elapses", got)
	}
}

func TestPenalty_PublishesChanges(t *testing.T) {
	bus := event.NewBus()
	var changes []event.PenaltyChangeEvent
	bus.Subscribe("penalty.changed", func(e event.Event) {
		changes = append(changes, e.(event.PenaltyChangeEvent))
	})

	p := NewPenalty(2, WithBus(bus))
	p.Raise("rate_limit")
	p.Raise("timeout")
	p.Raise("timeout") // capped, no change, no event
	p.Lower()

	if len(changes) != 3 {
		t.Fatalf("expected 3 change events, got %d", len(changes))
	}
	if changes[0].Current != 1 || changes[0].Reason != "rate_limit" {
		t.Errorf("first change = %+v", changes[0])
	}
	if changes[1].Current != 2 || changes[1].Reason != "timeout" {
		t.Errorf("second change = %+v", changes[1])
	}
	if changes[2].Current != 1 || changes[2].Reason != "lowered" {
		t.Errorf("third change = %+v", changes[2])
	}
}
