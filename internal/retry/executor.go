// Package retry implements the bounded-retry executor used for every
// member dispatch: exponential backoff with jitter, a separate budget for
// rate-limit failures, and coupling to the shared rate-limit gate so one
// throttled dispatch slows down its siblings.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/pi-runtime/agentteams/internal/config"
	"github.com/pi-runtime/agentteams/internal/outcome"
	"github.com/pi-runtime/agentteams/internal/ratelimit"
)

// Jitter modes accepted by Options.Jitter.
const (
	JitterFull    = "full"
	JitterPartial = "partial"
	JitterNone    = "none"
)

// Operation is the retried unit of work. It must honor ctx cancellation.
type Operation func(ctx context.Context) error

// Options controls a single Do call. Obtain a populated value from
// Executor.Options and override per dispatch.
type Options struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       string

	// RateLimitKey couples the call to the shared gate; empty disables
	// gate integration.
	RateLimitKey string
	// MaxRateLimitRetries bounds retries of 429 failures specifically.
	MaxRateLimitRetries int
	// MaxRateLimitWait fast-fails any gate-imposed wait above this bound.
	MaxRateLimitWait time.Duration

	// OnRetry fires before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
	// OnRateLimitWait fires before waiting out a gate-imposed block.
	OnRateLimitWait func(key string, wait time.Duration)
	// ShouldRetry overrides the default retry predicate (429, 5xx, and
	// known transient errors).
	ShouldRetry func(err error, status int) bool
}

// Executor runs operations with bounded retries. Safe for concurrent use.
type Executor struct {
	defaults config.RetryConfig
	gate     ratelimit.SharedGate

	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

// New creates an Executor with defaults from cfg. The gate may be nil when
// no cross-dispatch rate-limit sharing is wanted.
func New(cfg config.RetryConfig, gate ratelimit.SharedGate) *Executor {
	return &Executor{
		defaults: cfg,
		gate:     gate,
		sleep:    sleepContext,
		rand:     rand.Float64,
	}
}

// Options returns the configured per-call defaults.
func (e *Executor) Options() Options {
	return Options{
		MaxRetries:          e.defaults.MaxRetries,
		InitialDelay:        time.Duration(e.defaults.InitialDelayMs) * time.Millisecond,
		MaxDelay:            time.Duration(e.defaults.MaxDelayMs) * time.Millisecond,
		Multiplier:          e.defaults.Multiplier,
		Jitter:              e.defaults.Jitter,
		MaxRateLimitRetries: e.defaults.MaxRateLimitRetries,
		MaxRateLimitWait:    time.Duration(e.defaults.MaxRateLimitWaitMs) * time.Millisecond,
	}
}

// Do runs op until it succeeds, the retry budget is exhausted, the error is
// classified non-retryable, or ctx is cancelled. The returned error is the
// last operation error, or a sentinel for cancellation and rate-limit
// fast-fail paths.
func (e *Executor) Do(ctx context.Context, op Operation, opts Options) error {
	multiplier := opts.Multiplier
	if multiplier < 1 {
		multiplier = 1
	} else if multiplier > 10 {
		multiplier = 10
	}

	shouldRetry := opts.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = outcome.DefaultShouldRetry
	}

	rateLimitRetries := 0
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if opts.RateLimitKey != "" && e.gate != nil {
			snap := e.gate.Snapshot(opts.RateLimitKey)
			if snap.Wait > 0 {
				if snap.Wait > opts.MaxRateLimitWait {
					return fmt.Errorf("gate wait %s on key %q: %w",
						snap.Wait, opts.RateLimitKey, outcome.ErrRateLimitFastFail)
				}
				if opts.OnRateLimitWait != nil {
					opts.OnRateLimitWait(opts.RateLimitKey, snap.Wait)
				}
				if err := e.sleep(ctx, snap.Wait); err != nil {
					return err
				}
			}
		}

		err := op(ctx)
		if err == nil {
			if opts.RateLimitKey != "" && e.gate != nil {
				e.gate.RegisterSuccess(opts.RateLimitKey)
				e.gate.RegisterSuccess(ratelimit.GlobalKey)
			}
			return nil
		}

		status := outcome.ExtractStatusCode(err)
		if !shouldRetry(err, status) || attempt > opts.MaxRetries {
			return err
		}

		if status == 429 {
			rateLimitRetries++
			if rateLimitRetries > opts.MaxRateLimitRetries {
				return fmt.Errorf("exhausted %d rate-limit retries: %w",
					opts.MaxRateLimitRetries, outcome.ErrRateLimitFastFail)
			}
		}

		delay := backoffDelay(opts.InitialDelay, opts.MaxDelay, multiplier, attempt)
		delay = applyJitter(delay, opts.Jitter, e.rand)

		if status == 429 && opts.RateLimitKey != "" && e.gate != nil {
			e.gate.RegisterHit(opts.RateLimitKey, delay)
			if snap := e.gate.Snapshot(opts.RateLimitKey); snap.Wait > delay {
				delay = snap.Wait
			}
			if delay > opts.MaxRateLimitWait {
				return fmt.Errorf("backoff %s exceeds rate-limit wait budget: %w",
					delay, outcome.ErrRateLimitFastFail)
			}
		}

		if opts.OnRetry != nil {
			opts.OnRetry(attempt, delay, err)
		}
		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// backoffDelay computes min(maxDelay, initial * multiplier^(attempt-1)).
func backoffDelay(initial, maxDelay time.Duration, multiplier float64, attempt int) time.Duration {
	d := time.Duration(float64(initial) * math.Pow(multiplier, float64(attempt-1)))
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}
	return d
}

// applyJitter spreads a computed delay:
//   - full: uniform in [1ms, delay]
//   - partial: uniform in [delay/2, delay]
//   - none (or unknown): exactly delay
func applyJitter(delay time.Duration, mode string, rng func() float64) time.Duration {
	switch mode {
	case JitterFull:
		jittered := time.Duration(rng() * float64(delay))
		if jittered < time.Millisecond {
			jittered = time.Millisecond
		}
		return jittered
	case JitterPartial:
		half := delay / 2
		return half + time.Duration(rng()*float64(half))
	default:
		return delay
	}
}

// sleepContext sleeps for d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
