package outcome

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestCode_RetryRecommended(t *testing.T) {
	tests := []struct {
		code Code
		want bool
	}{
		{Success, false},
		{PartialSuccess, false},
		{RetryableFailure, true},
		{NonRetryableFailure, false},
		{Timeout, true},
		{Cancelled, false},
	}
	for _, tt := range tests {
		if got := tt.code.RetryRecommended(); got != tt.want {
			t.Errorf("%s.RetryRecommended() = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name      string
		codes     []Code
		want      Code
		wantRetry bool
	}{
		{
			name:  "all completed",
			codes: []Code{Success, Success, Success},
			want:  Success,
		},
		{
			name:      "completed plus retryable failure",
			codes:     []Code{Success, RetryableFailure},
			want:      PartialSuccess,
			wantRetry: true,
		},
		{
			name:  "completed plus nonretryable failure",
			codes: []Code{Success, NonRetryableFailure},
			want:  PartialSuccess,
		},
		{
			name:  "completed plus partial",
			codes: []Code{Success, PartialSuccess},
			want:  PartialSuccess,
		},
		{
			name:  "only partials",
			codes: []Code{PartialSuccess, PartialSuccess},
			want:  PartialSuccess,
		},
		{
			name:      "none completed with retryable failure",
			codes:     []Code{RetryableFailure, NonRetryableFailure},
			want:      RetryableFailure,
			wantRetry: true,
		},
		{
			name:      "timeouts count as retryable",
			codes:     []Code{Timeout, NonRetryableFailure},
			want:      RetryableFailure,
			wantRetry: true,
		},
		{
			name:  "none completed no retryable",
			codes: []Code{NonRetryableFailure, Cancelled},
			want:  NonRetryableFailure,
		},
		{
			name:  "empty input",
			codes: nil,
			want:  NonRetryableFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, retry := Aggregate(tt.codes)
			if got != tt.want || retry != tt.wantRetry {
				t.Errorf("Aggregate(%v) = (%s, %v), want (%s, %v)",
					tt.codes, got, retry, tt.want, tt.wantRetry)
			}
		})
	}
}

func TestExtractStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"status error", NewStatusError(429, "provider throttled"), 429},
		{"wrapped status error", fmt.Errorf("dispatch: %w", NewStatusError(503, "unavailable")), 503},
		{"rate limit phrase", errors.New("Rate Limit exceeded for model"), 429},
		{"too many requests", errors.New("too many requests, slow down"), 429},
		{"econnreset", errors.New("read tcp: ECONNRESET"), 503},
		{"etimedout", errors.New("dial tcp: ETIMEDOUT"), 503},
		{"socket hang up", errors.New("socket hang up"), 503},
		{"overloaded", errors.New("provider overloaded"), 529},
		{"no match", errors.New("invalid request body"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractStatusCode(tt.err); got != tt.want {
				t.Errorf("ExtractStatusCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, Success},
		{"context cancelled", context.Canceled, Cancelled},
		{"cancelled sentinel", fmt.Errorf("run: %w", ErrCancelled), Cancelled},
		{"deadline exceeded", context.DeadlineExceeded, Timeout},
		{"timeout sentinel", ErrTimeout, Timeout},
		{"queue timeout", ErrQueueTimeout, Timeout},
		{"timeout message", errors.New("member dispatch timed out after 300s"), Timeout},
		{"capacity exhausted", fmt.Errorf("reserve: %w", ErrCapacityExhausted), RetryableFailure},
		{"rate limit fast fail", ErrRateLimitFastFail, RetryableFailure},
		{"empty output", ErrEmptyOutput, RetryableFailure},
		{"low substance", ErrLowSubstance, RetryableFailure},
		{"status 429", NewStatusError(429, "throttled"), RetryableFailure},
		{"status 500", NewStatusError(500, "server error"), RetryableFailure},
		{"network phrase", errors.New("ECONNRESET during read"), RetryableFailure},
		{"malformed output", fmt.Errorf("validate: %w", ErrMalformedOutput), NonRetryableFailure},
		{"no active members", ErrNoActiveMembers, NonRetryableFailure},
		{"unknown error", errors.New("invalid model name"), NonRetryableFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestDefaultShouldRetry(t *testing.T) {
	if !DefaultShouldRetry(nil, 429) {
		t.Error("429 should be retryable")
	}
	if !DefaultShouldRetry(nil, 503) {
		t.Error("503 should be retryable")
	}
	if DefaultShouldRetry(nil, 400) {
		t.Error("400 should not be retryable")
	}
	if !DefaultShouldRetry(ErrEmptyOutput, 0) {
		t.Error("empty output should be retryable")
	}
	if DefaultShouldRetry(errors.New("bad request"), 0) {
		t.Error("unknown errors without a status should not be retryable")
	}
}
