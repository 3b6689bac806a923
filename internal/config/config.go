// Package config defines the runtime configuration for agent-team
// orchestration. Values are loaded through viper from the config file and
// the PI_TEAMS_* environment, with defaults matching the stable profile.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete agentteams configuration
type Config struct {
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
	Capacity CapacityConfig `mapstructure:"capacity"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Penalty  PenaltyConfig  `mapstructure:"penalty"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Paths    PathsConfig    `mapstructure:"paths"`
}

// RuntimeConfig controls orchestration behavior for a single team run
type RuntimeConfig struct {
	// StableProfile forces deterministic, small limits: communication and
	// failed-member retry rounds are forced to 0, the judge is the
	// deterministic proxy-only judge, retries default to 0, and the
	// adaptive penalty is disabled.
	StableProfile bool `mapstructure:"stable_profile"`

	// AllowRoundsOverride lets an explicit caller-provided round count win
	// over the stable profile's forced zero. Off by default so stable runs
	// stay deterministic regardless of caller flags.
	AllowRoundsOverride bool `mapstructure:"allow_rounds_override"`

	// MaxCommunicationRounds caps the number of post-initial rounds in which
	// members see sanitized excerpts of their partners' outputs.
	MaxCommunicationRounds int `mapstructure:"max_communication_rounds"`
	// DefaultCommunicationRounds is used when the caller does not specify.
	DefaultCommunicationRounds int `mapstructure:"default_communication_rounds"`
	// MaxCommunicationPartners bounds the partner set per member per round.
	MaxCommunicationPartners int `mapstructure:"max_communication_partners"`

	// MaxFailedMemberRetryRounds caps selective retry rounds for failed members.
	MaxFailedMemberRetryRounds int `mapstructure:"max_failed_member_retry_rounds"`
	// DefaultFailedMemberRetryRounds is used when the caller does not specify.
	DefaultFailedMemberRetryRounds int `mapstructure:"default_failed_member_retry_rounds"`

	// DefaultAgentTimeoutMs is the per-dispatch timeout when the caller does
	// not provide one. Model-specific multipliers apply on top.
	DefaultAgentTimeoutMs int `mapstructure:"default_agent_timeout_ms"`
	// ModelTimeoutMultipliers scales the timeout for models whose name
	// contains the key (e.g. "thinking" models that legitimately run longer).
	ModelTimeoutMultipliers map[string]float64 `mapstructure:"model_timeout_multipliers"`

	// MaxRunsToKeep truncates the run history in storage.json.
	MaxRunsToKeep int `mapstructure:"max_runs_to_keep"`
}

// CapacityConfig controls the shared admission controller
type CapacityConfig struct {
	// MaxParallelTeamsPerRun caps how many teams one parallel run dispatches at once.
	MaxParallelTeamsPerRun int `mapstructure:"max_parallel_teams_per_run"`
	// MaxParallelTeammatesPerTeam caps member parallelism within a team.
	MaxParallelTeammatesPerTeam int `mapstructure:"max_parallel_teammates_per_team"`
	// MaxTotalActiveRequests caps concurrent team-run plus subagent requests process-wide.
	MaxTotalActiveRequests int `mapstructure:"max_total_active_requests"`
	// MaxTotalActiveLLM caps concurrent LLM workers (teammates + subagents) process-wide.
	MaxTotalActiveLLM int `mapstructure:"max_total_active_llm"`
	// MaxConcurrentOrchestrations is the orchestration-queue width (1 in stable profile).
	MaxConcurrentOrchestrations int `mapstructure:"max_concurrent_orchestrations"`
	// CapacityWaitMs bounds how long a reservation request may block.
	CapacityWaitMs int `mapstructure:"capacity_wait_ms"`
	// CapacityPollMs is the reservation retry interval while blocked.
	CapacityPollMs int `mapstructure:"capacity_poll_ms"`
}

// RetryConfig controls the backoff executor defaults
type RetryConfig struct {
	// MaxRetries is the default retry budget per dispatch (stable profile: 0).
	MaxRetries int `mapstructure:"max_retries"`
	// InitialDelayMs is the first backoff delay.
	InitialDelayMs int `mapstructure:"initial_delay_ms"`
	// MaxDelayMs caps the computed backoff delay.
	MaxDelayMs int `mapstructure:"max_delay_ms"`
	// Multiplier is the exponential backoff base, clamped to [1, 10].
	Multiplier float64 `mapstructure:"multiplier"`
	// Jitter is one of "full", "partial", "none".
	Jitter string `mapstructure:"jitter"`
	// MaxRateLimitRetries bounds attempts that failed specifically with 429.
	MaxRateLimitRetries int `mapstructure:"max_rate_limit_retries"`
	// MaxRateLimitWaitMs is the fast-fail threshold for gate-imposed waits.
	MaxRateLimitWaitMs int `mapstructure:"max_rate_limit_wait_ms"`
}

// PenaltyConfig controls the adaptive parallelism penalty
type PenaltyConfig struct {
	// MaxPenalty bounds the penalty steps (0 disables the penalty entirely).
	MaxPenalty int `mapstructure:"max_penalty"`
	// DecayMs is how long after the last raise one penalty step decays.
	DecayMs int `mapstructure:"decay_ms"`
}

// ExecutorConfig controls the default subprocess member executor
type ExecutorConfig struct {
	// Command is the program invoked per member dispatch; the prompt is
	// written to its stdin and its stdout becomes the member output.
	Command string `mapstructure:"command"`
	// Args are passed before the prompt-independent arguments.
	Args []string `mapstructure:"args"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether debug logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
}

// PathsConfig controls where agentteams stores data
type PathsConfig struct {
	// BaseDir is the workspace-relative state root. Definitions live under
	// {BaseDir}/definitions, run artifacts under {BaseDir}/runs, and the
	// team storage file at {BaseDir}/storage.json. Defaults to ".pi/agent-teams".
	BaseDir string `mapstructure:"base_dir"`
	// PatternsFile holds extracted run patterns. Defaults to ".pi/memory/patterns.json".
	PatternsFile string `mapstructure:"patterns_file"`
	// RuntimeDir holds host-wide shared state such as the rate-limit gate
	// file. Defaults to "~/.pi/runtime". Supports ~ expansion.
	RuntimeDir string `mapstructure:"runtime_dir"`
}

// Default returns a Config with stable-profile defaults
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			StableProfile:                  true,
			AllowRoundsOverride:            false,
			MaxCommunicationRounds:         3,
			DefaultCommunicationRounds:     1,
			MaxCommunicationPartners:       3,
			MaxFailedMemberRetryRounds:     2,
			DefaultFailedMemberRetryRounds: 1,
			DefaultAgentTimeoutMs:          300_000, // 5 minutes
			ModelTimeoutMultipliers: map[string]float64{
				"thinking": 2.0,
				"opus":     1.5,
			},
			MaxRunsToKeep: 200,
		},
		Capacity: CapacityConfig{
			MaxParallelTeamsPerRun:      3,
			MaxParallelTeammatesPerTeam: 4,
			MaxTotalActiveRequests:      6,
			MaxTotalActiveLLM:           12,
			MaxConcurrentOrchestrations: 1,
			CapacityWaitMs:              120_000,
			CapacityPollMs:              250,
		},
		Retry: RetryConfig{
			MaxRetries:          0, // stable profile; callers may override per dispatch
			InitialDelayMs:      500,
			MaxDelayMs:          30_000,
			Multiplier:          2.0,
			Jitter:              "full",
			MaxRateLimitRetries: 2,
			MaxRateLimitWaitMs:  30_000,
		},
		Penalty: PenaltyConfig{
			MaxPenalty: 0, // stable profile; non-zero enables pressure response
			DecayMs:    60_000,
		},
		Executor: ExecutorConfig{
			Command: "pi",
			Args:    []string{"agent", "--print"},
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
		Paths: PathsConfig{
			BaseDir:      filepath.Join(".pi", "agent-teams"),
			PatternsFile: filepath.Join(".pi", "memory", "patterns.json"),
			RuntimeDir:   filepath.Join("~", ".pi", "runtime"),
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("runtime.stable_profile", defaults.Runtime.StableProfile)
	viper.SetDefault("runtime.allow_rounds_override", defaults.Runtime.AllowRoundsOverride)
	viper.SetDefault("runtime.max_communication_rounds", defaults.Runtime.MaxCommunicationRounds)
	viper.SetDefault("runtime.default_communication_rounds", defaults.Runtime.DefaultCommunicationRounds)
	viper.SetDefault("runtime.max_communication_partners", defaults.Runtime.MaxCommunicationPartners)
	viper.SetDefault("runtime.max_failed_member_retry_rounds", defaults.Runtime.MaxFailedMemberRetryRounds)
	viper.SetDefault("runtime.default_failed_member_retry_rounds", defaults.Runtime.DefaultFailedMemberRetryRounds)
	viper.SetDefault("runtime.default_agent_timeout_ms", defaults.Runtime.DefaultAgentTimeoutMs)
	viper.SetDefault("runtime.model_timeout_multipliers", defaults.Runtime.ModelTimeoutMultipliers)
	viper.SetDefault("runtime.max_runs_to_keep", defaults.Runtime.MaxRunsToKeep)

	viper.SetDefault("capacity.max_parallel_teams_per_run", defaults.Capacity.MaxParallelTeamsPerRun)
	viper.SetDefault("capacity.max_parallel_teammates_per_team", defaults.Capacity.MaxParallelTeammatesPerTeam)
	viper.SetDefault("capacity.max_total_active_requests", defaults.Capacity.MaxTotalActiveRequests)
	viper.SetDefault("capacity.max_total_active_llm", defaults.Capacity.MaxTotalActiveLLM)
	viper.SetDefault("capacity.max_concurrent_orchestrations", defaults.Capacity.MaxConcurrentOrchestrations)
	viper.SetDefault("capacity.capacity_wait_ms", defaults.Capacity.CapacityWaitMs)
	viper.SetDefault("capacity.capacity_poll_ms", defaults.Capacity.CapacityPollMs)

	viper.SetDefault("retry.max_retries", defaults.Retry.MaxRetries)
	viper.SetDefault("retry.initial_delay_ms", defaults.Retry.InitialDelayMs)
	viper.SetDefault("retry.max_delay_ms", defaults.Retry.MaxDelayMs)
	viper.SetDefault("retry.multiplier", defaults.Retry.Multiplier)
	viper.SetDefault("retry.jitter", defaults.Retry.Jitter)
	viper.SetDefault("retry.max_rate_limit_retries", defaults.Retry.MaxRateLimitRetries)
	viper.SetDefault("retry.max_rate_limit_wait_ms", defaults.Retry.MaxRateLimitWaitMs)

	viper.SetDefault("penalty.max_penalty", defaults.Penalty.MaxPenalty)
	viper.SetDefault("penalty.decay_ms", defaults.Penalty.DecayMs)

	viper.SetDefault("executor.command", defaults.Executor.Command)
	viper.SetDefault("executor.args", defaults.Executor.Args)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)

	viper.SetDefault("paths.base_dir", defaults.Paths.BaseDir)
	viper.SetDefault("paths.patterns_file", defaults.Paths.PatternsFile)
	viper.SetDefault("paths.runtime_dir", defaults.Paths.RuntimeDir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults if
// unmarshaling fails
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "agentteams")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentteams"
	}
	return filepath.Join(home, ".config", "agentteams")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DefaultTimeout returns the default member dispatch timeout as a Duration
func (r *RuntimeConfig) DefaultTimeout() time.Duration {
	return time.Duration(r.DefaultAgentTimeoutMs) * time.Millisecond
}

// CapacityWait returns the reservation wait budget as a Duration
func (c *CapacityConfig) CapacityWait() time.Duration {
	return time.Duration(c.CapacityWaitMs) * time.Millisecond
}

// CapacityPoll returns the reservation poll interval as a Duration
func (c *CapacityConfig) CapacityPoll() time.Duration {
	return time.Duration(c.CapacityPollMs) * time.Millisecond
}

// ResolveRuntimeDir returns RuntimeDir with ~ expanded to the user's home.
func (p *PathsConfig) ResolveRuntimeDir() string {
	return expandHome(p.RuntimeDir)
}

// expandHome expands a leading ~ or ~/ to the user's home directory.
func expandHome(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return path
	}
	for _, prefix := range []string{"~" + string(filepath.Separator), "~/"} {
		if len(path) > len(prefix) && path[:len(prefix)] == prefix {
			if home, err := os.UserHomeDir(); err == nil {
				return filepath.Join(home, path[len(prefix):])
			}
		}
	}
	return path
}
