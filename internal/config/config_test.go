package config

import (
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) > 0 {
		t.Fatalf("default config is invalid: %v", ValidationErrors(errs))
	}
}

func TestDefaultStableProfile(t *testing.T) {
	cfg := Default()

	if !cfg.Runtime.StableProfile {
		t.Error("stable profile should be on by default")
	}
	if cfg.Runtime.AllowRoundsOverride {
		t.Error("rounds override should be off by default")
	}
	if cfg.Capacity.MaxConcurrentOrchestrations != 1 {
		t.Errorf("MaxConcurrentOrchestrations = %d, want 1 in stable profile",
			cfg.Capacity.MaxConcurrentOrchestrations)
	}
	if cfg.Retry.MaxRetries != 0 {
		t.Errorf("Retry.MaxRetries = %d, want 0 in stable profile", cfg.Retry.MaxRetries)
	}
	if cfg.Penalty.MaxPenalty != 0 {
		t.Errorf("Penalty.MaxPenalty = %d, want 0 in stable profile", cfg.Penalty.MaxPenalty)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{
			name:   "negative communication rounds",
			mutate: func(c *Config) { c.Runtime.MaxCommunicationRounds = -1 },
			field:  "runtime.max_communication_rounds",
		},
		{
			name:   "default rounds above max",
			mutate: func(c *Config) { c.Runtime.DefaultCommunicationRounds = 99 },
			field:  "runtime.default_communication_rounds",
		},
		{
			name:   "zero partners",
			mutate: func(c *Config) { c.Runtime.MaxCommunicationPartners = 0 },
			field:  "runtime.max_communication_partners",
		},
		{
			name:   "zero timeout",
			mutate: func(c *Config) { c.Runtime.DefaultAgentTimeoutMs = 0 },
			field:  "runtime.default_agent_timeout_ms",
		},
		{
			name:   "zero orchestration width",
			mutate: func(c *Config) { c.Capacity.MaxConcurrentOrchestrations = 0 },
			field:  "capacity.max_concurrent_orchestrations",
		},
		{
			name: "llm cap below team cap",
			mutate: func(c *Config) {
				c.Capacity.MaxTotalActiveLLM = 2
				c.Capacity.MaxParallelTeammatesPerTeam = 4
			},
			field: "capacity.max_total_active_llm",
		},
		{
			name:   "multiplier out of range",
			mutate: func(c *Config) { c.Retry.Multiplier = 11 },
			field:  "retry.multiplier",
		},
		{
			name:   "unknown jitter mode",
			mutate: func(c *Config) { c.Retry.Jitter = "maximal" },
			field:  "retry.jitter",
		},
		{
			name:   "max delay below initial",
			mutate: func(c *Config) { c.Retry.MaxDelayMs = 1 },
			field:  "retry.max_delay_ms",
		},
		{
			name:   "negative penalty",
			mutate: func(c *Config) { c.Penalty.MaxPenalty = -2 },
			field:  "penalty.max_penalty",
		},
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.Logging.Level = "verbose" },
			field:  "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			errs := cfg.Validate()
			if len(errs) == 0 {
				t.Fatal("expected validation errors, got none")
			}
			found := false
			for _, e := range errs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("no validation error for field %q in %v", tt.field, ValidationErrors(errs))
			}
		})
	}
}

func TestValidationErrorsFormatting(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a.b", Value: -1, Message: "must be >= 0"},
		{Field: "c.d", Value: "x", Message: "unknown value"},
	}

	msg := errs.Error()
	if !strings.Contains(msg, "2 validation errors") {
		t.Errorf("multi-error message missing count: %q", msg)
	}
	if !strings.Contains(msg, "a.b") || !strings.Contains(msg, "c.d") {
		t.Errorf("multi-error message missing fields: %q", msg)
	}

	single := ValidationErrors{errs[0]}
	if single.Error() != errs[0].Error() {
		t.Errorf("single error should render without the count header")
	}
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	if got := expandHome("~/.pi/runtime"); got != "/home/tester/.pi/runtime" {
		t.Errorf("expandHome(~/.pi/runtime) = %q", got)
	}
	if got := expandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("expandHome should leave absolute paths alone, got %q", got)
	}
	if got := expandHome("relative/path"); got != "relative/path" {
		t.Errorf("expandHome should leave relative paths alone, got %q", got)
	}
}
