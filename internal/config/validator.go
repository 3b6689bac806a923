package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "capacity.max_total_active_llm")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidJitterModes returns the list of valid retry jitter modes
func ValidJitterModes() []string {
	return []string{"full", "partial", "none"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateRuntime()...)
	errors = append(errors, c.validateCapacity()...)
	errors = append(errors, c.validateRetry()...)
	errors = append(errors, c.validatePenalty()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateRuntime() []ValidationError {
	var errors []ValidationError

	if c.Runtime.MaxCommunicationRounds < 0 {
		errors = append(errors, ValidationError{
			Field:   "runtime.max_communication_rounds",
			Value:   c.Runtime.MaxCommunicationRounds,
			Message: "must be >= 0",
		})
	}
	if c.Runtime.DefaultCommunicationRounds < 0 || c.Runtime.DefaultCommunicationRounds > c.Runtime.MaxCommunicationRounds {
		errors = append(errors, ValidationError{
			Field:   "runtime.default_communication_rounds",
			Value:   c.Runtime.DefaultCommunicationRounds,
			Message: fmt.Sprintf("must be between 0 and max_communication_rounds (%d)", c.Runtime.MaxCommunicationRounds),
		})
	}
	if c.Runtime.MaxCommunicationPartners < 1 {
		errors = append(errors, ValidationError{
			Field:   "runtime.max_communication_partners",
			Value:   c.Runtime.MaxCommunicationPartners,
			Message: "must be >= 1",
		})
	}
	if c.Runtime.MaxFailedMemberRetryRounds < 0 {
		errors = append(errors, ValidationError{
			Field:   "runtime.max_failed_member_retry_rounds",
			Value:   c.Runtime.MaxFailedMemberRetryRounds,
			Message: "must be >= 0",
		})
	}
	if c.Runtime.DefaultAgentTimeoutMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "runtime.default_agent_timeout_ms",
			Value:   c.Runtime.DefaultAgentTimeoutMs,
			Message: "must be > 0",
		})
	}
	if c.Runtime.MaxRunsToKeep < 1 {
		errors = append(errors, ValidationError{
			Field:   "runtime.max_runs_to_keep",
			Value:   c.Runtime.MaxRunsToKeep,
			Message: "must be >= 1",
		})
	}

	return errors
}

func (c *Config) validateCapacity() []ValidationError {
	var errors []ValidationError

	positive := []struct {
		field string
		value int
	}{
		{"capacity.max_parallel_teams_per_run", c.Capacity.MaxParallelTeamsPerRun},
		{"capacity.max_parallel_teammates_per_team", c.Capacity.MaxParallelTeammatesPerTeam},
		{"capacity.max_total_active_requests", c.Capacity.MaxTotalActiveRequests},
		{"capacity.max_total_active_llm", c.Capacity.MaxTotalActiveLLM},
		{"capacity.max_concurrent_orchestrations", c.Capacity.MaxConcurrentOrchestrations},
		{"capacity.capacity_wait_ms", c.Capacity.CapacityWaitMs},
		{"capacity.capacity_poll_ms", c.Capacity.CapacityPollMs},
	}
	for _, p := range positive {
		if p.value < 1 {
			errors = append(errors, ValidationError{
				Field:   p.field,
				Value:   p.value,
				Message: "must be >= 1",
			})
		}
	}

	if c.Capacity.MaxTotalActiveLLM < c.Capacity.MaxParallelTeammatesPerTeam {
		errors = append(errors, ValidationError{
			Field:   "capacity.max_total_active_llm",
			Value:   c.Capacity.MaxTotalActiveLLM,
			Message: fmt.Sprintf("must be >= max_parallel_teammates_per_team (%d)", c.Capacity.MaxParallelTeammatesPerTeam),
		})
	}

	return errors
}

func (c *Config) validateRetry() []ValidationError {
	var errors []ValidationError

	if c.Retry.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "retry.max_retries",
			Value:   c.Retry.MaxRetries,
			Message: "must be >= 0",
		})
	}
	if c.Retry.InitialDelayMs < 1 {
		errors = append(errors, ValidationError{
			Field:   "retry.initial_delay_ms",
			Value:   c.Retry.InitialDelayMs,
			Message: "must be >= 1",
		})
	}
	if c.Retry.MaxDelayMs < c.Retry.InitialDelayMs {
		errors = append(errors, ValidationError{
			Field:   "retry.max_delay_ms",
			Value:   c.Retry.MaxDelayMs,
			Message: fmt.Sprintf("must be >= initial_delay_ms (%d)", c.Retry.InitialDelayMs),
		})
	}
	if c.Retry.Multiplier < 1 || c.Retry.Multiplier > 10 {
		errors = append(errors, ValidationError{
			Field:   "retry.multiplier",
			Value:   c.Retry.Multiplier,
			Message: "must be between 1 and 10",
		})
	}
	if !slices.Contains(ValidJitterModes(), c.Retry.Jitter) {
		errors = append(errors, ValidationError{
			Field:   "retry.jitter",
			Value:   c.Retry.Jitter,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidJitterModes(), ", ")),
		})
	}
	if c.Retry.MaxRateLimitRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "retry.max_rate_limit_retries",
			Value:   c.Retry.MaxRateLimitRetries,
			Message: "must be >= 0",
		})
	}
	if c.Retry.MaxRateLimitWaitMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "retry.max_rate_limit_wait_ms",
			Value:   c.Retry.MaxRateLimitWaitMs,
			Message: "must be >= 0",
		})
	}

	return errors
}

func (c *Config) validatePenalty() []ValidationError {
	var errors []ValidationError

	if c.Penalty.MaxPenalty < 0 {
		errors = append(errors, ValidationError{
			Field:   "penalty.max_penalty",
			Value:   c.Penalty.MaxPenalty,
			Message: "must be >= 0",
		})
	}
	if c.Penalty.DecayMs < 1 {
		errors = append(errors, ValidationError{
			Field:   "penalty.decay_ms",
			Value:   c.Penalty.DecayMs,
			Message: "must be >= 1",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}
