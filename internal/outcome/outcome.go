// Package outcome defines the outcome codes surfaced to callers, the error
// taxonomy of the runtime, and the classification rules that map raw
// dispatch errors onto outcome codes.
package outcome

// Code is an outcome code surfaced to callers. Each code pairs with a
// retry recommendation.
type Code string

const (
	Success             Code = "SUCCESS"
	PartialSuccess      Code = "PARTIAL_SUCCESS"
	RetryableFailure    Code = "RETRYABLE_FAILURE"
	NonRetryableFailure Code = "NONRETRYABLE_FAILURE"
	Timeout             Code = "TIMEOUT"
	Cancelled           Code = "CANCELLED"
)

// RetryRecommended reports whether a caller should consider retrying an
// operation that ended with this code.
func (c Code) RetryRecommended() bool {
	switch c {
	case RetryableFailure, Timeout:
		return true
	default:
		return false
	}
}

// IsFailure reports whether the code represents a failed operation.
func (c Code) IsFailure() bool {
	switch c {
	case Success, PartialSuccess:
		return false
	default:
		return true
	}
}

// Aggregate folds per-team outcome codes into a single run-level code plus
// a retry recommendation:
//   - all teams completed: SUCCESS
//   - some completed, some not: PARTIAL_SUCCESS, retry recommended when
//     any failure is retryable
//   - none completed but some partial: PARTIAL_SUCCESS
//   - none completed, at least one retryable failure: RETRYABLE_FAILURE
//   - none completed, no retryable failure: NONRETRYABLE_FAILURE
func Aggregate(codes []Code) (Code, bool) {
	if len(codes) == 0 {
		return NonRetryableFailure, false
	}

	completed, partial, failed := 0, 0, 0
	anyRetryable := false
	for _, c := range codes {
		switch c {
		case Success:
			completed++
		case PartialSuccess:
			partial++
		default:
			failed++
			if c.RetryRecommended() {
				anyRetryable = true
			}
		}
	}

	switch {
	case failed == 0 && partial == 0:
		return Success, false
	case completed > 0 || partial > 0:
		return PartialSuccess, anyRetryable
	case anyRetryable:
		return RetryableFailure, true
	default:
		return NonRetryableFailure, false
	}
}
