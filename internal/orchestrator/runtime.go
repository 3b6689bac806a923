// Package orchestrator drives team runs: phase sequencing, member fan-out,
// communication rounds, failed-member retries, the final judge, and
// persistence of run records and artifacts. A parallel runner dispatches
// multiple teams under a shared capacity budget.
package orchestrator

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pi-runtime/agentteams/internal/adaptive"
	"github.com/pi-runtime/agentteams/internal/admission"
	"github.com/pi-runtime/agentteams/internal/config"
	"github.com/pi-runtime/agentteams/internal/event"
	"github.com/pi-runtime/agentteams/internal/logging"
	"github.com/pi-runtime/agentteams/internal/member"
	"github.com/pi-runtime/agentteams/internal/ratelimit"
	"github.com/pi-runtime/agentteams/internal/retry"
	"github.com/pi-runtime/agentteams/internal/team"
)

// RunSink consumes finished run records, e.g. the pattern store. Sink
// errors are logged, never propagated.
type RunSink interface {
	RecordRun(rec team.RunRecord) error
}

// Runtime bundles the shared services a run needs. Tests construct a fresh
// Runtime per case; production code builds one per process via NewRuntime.
type Runtime struct {
	Config    *config.Config
	Admission *admission.Controller
	Gate      ratelimit.SharedGate
	Penalty   *adaptive.Penalty
	Retry     *retry.Executor
	Executor  member.Executor
	Bus       *event.Bus
	Storage   *team.Storage
	Sinks     []RunSink
	Logger    *logging.Logger
	RunsDir   string

	now func() time.Time
}

// NewRuntime wires the production runtime: file-backed gate under the
// runtime dir, storage and run artifacts under the base dir, and the
// configured subprocess executor.
func NewRuntime(cfg *config.Config) (*Runtime, error) {
	gate, err := ratelimit.NewFileGate(cfg.Paths.ResolveRuntimeDir())
	if err != nil {
		return nil, fmt.Errorf("init rate-limit gate: %w", err)
	}

	logDir := ""
	if cfg.Logging.Enabled {
		logDir = cfg.Paths.BaseDir
	}
	logger, err := logging.NewLogger(logDir, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	bus := event.NewBus(event.WithPanicHandler(func(eventType string, recovered any) {
		logger.Error("event handler panicked", "type", eventType, "panic", fmt.Sprint(recovered))
	}))
	bus.SubscribeAll(func(e event.Event) {
		logger.Debug("event", "type", e.EventType())
	})
	maxPenalty := cfg.Penalty.MaxPenalty
	if cfg.Runtime.StableProfile {
		maxPenalty = 0
	}

	return &Runtime{
		Config:    cfg,
		Admission: admission.NewController(cfg.Capacity),
		Gate:      gate,
		Penalty: adaptive.NewPenalty(maxPenalty,
			adaptive.WithBus(bus),
			adaptive.WithDecay(time.Duration(cfg.Penalty.DecayMs)*time.Millisecond)),
		Retry:    retry.New(cfg.Retry, gate),
		Executor: member.NewCommandExecutor(cfg.Executor),
		Bus:      bus,
		Storage:  team.NewStorage(cfg.Paths.BaseDir, cfg.Runtime.MaxRunsToKeep),
		Logger:   logger,
		RunsDir:  filepath.Join(cfg.Paths.BaseDir, "runs"),
		now:      time.Now,
	}, nil
}

// DefinitionsDir returns where team definition files live.
func (rt *Runtime) DefinitionsDir() string {
	return filepath.Join(rt.Config.Paths.BaseDir, "definitions")
}

// Close flushes shared state. Call before process exit.
func (rt *Runtime) Close() error {
	if fg, ok := rt.Gate.(*ratelimit.FileGate); ok {
		if err := fg.Flush(); err != nil {
			return err
		}
	}
	return rt.Logger.Close()
}

func (rt *Runtime) clock() time.Time {
	if rt.now != nil {
		return rt.now()
	}
	return time.Now()
}

// normalizeRounds applies the round policy: both kinds of extra rounds are
// forced to zero for single-member teams and in the stable profile (unless
// overrides are explicitly allowed), and clamped to their configured caps.
func (rt *Runtime) normalizeRounds(commRounds, retryRounds, activeMembers int) (int, int) {
	r := rt.Config.Runtime
	if commRounds < 0 {
		commRounds = 0
	}
	if retryRounds < 0 {
		retryRounds = 0
	}
	if activeMembers <= 1 {
		return 0, 0
	}
	if r.StableProfile && !r.AllowRoundsOverride {
		return 0, 0
	}
	return min(commRounds, r.MaxCommunicationRounds), min(retryRounds, r.MaxFailedMemberRetryRounds)
}

// effectiveTimeout derives the per-dispatch timeout from the caller value
// or the configured default, scaled by model-name multipliers.
func (rt *Runtime) effectiveTimeout(requested time.Duration, model string) time.Duration {
	timeout := requested
	if timeout <= 0 {
		timeout = rt.Config.Runtime.DefaultTimeout()
	}

	// Sorted fragments keep the multiplier choice deterministic when a
	// model name matches more than one.
	fragments := make([]string, 0, len(rt.Config.Runtime.ModelTimeoutMultipliers))
	for fragment := range rt.Config.Runtime.ModelTimeoutMultipliers {
		fragments = append(fragments, fragment)
	}
	sort.Strings(fragments)
	for _, fragment := range fragments {
		mult := rt.Config.Runtime.ModelTimeoutMultipliers[fragment]
		if fragment != "" && mult > 0 && strings.Contains(strings.ToLower(model), strings.ToLower(fragment)) {
			timeout = time.Duration(float64(timeout) * mult)
			break
		}
	}
	return timeout
}
