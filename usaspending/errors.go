package usaspending

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError indicates the API rejected a request for exceeding the
// rate budget. Retryable after the advertised delay.
type RateLimitError struct {
	// RetryAfter is the server-advertised wait, zero if not provided.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
	}
	return "rate limit exceeded"
}

// TransientError indicates a retryable upstream failure: a 5xx response,
// a timeout, or a connection-level error.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient upstream error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient upstream error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError indicates a non-retryable upstream failure: any 4xx other
// than rate limiting. The computation for the affected mission is aborted.
type PermanentError struct {
	StatusCode int
	Body       string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent upstream error (status %d): %s", e.StatusCode, e.Body)
}

// ValidationError indicates a malformed query built by the caller.
// Programmer error, never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid query: %s %s", e.Field, e.Reason)
}

// IsRetryable reports whether the error may succeed on a later attempt.
// Rate-limit and transient errors are retryable; permanent and validation
// errors are not.
func IsRetryable(err error) bool {
	var rl *RateLimitError
	var tr *TransientError
	return errors.As(err, &rl) || errors.As(err, &tr)
}
