package runonce

import (
	"errors"
	"fmt"
)

// AlreadyRunningError is surfaced when another invocation holds a valid
// lease on the key. Always retryable from the caller's point of view: the
// caller is expected to back off and call RunOnce again.
type AlreadyRunningError struct {
	Key string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("runonce: key %q is already running", e.Key)
}

func (e *AlreadyRunningError) ErrorCode() string { return "ALREADY_RUNNING" }

func (e *AlreadyRunningError) Context() map[string]string {
	return map[string]string{"key": e.Key}
}

func (e *AlreadyRunningError) SuggestedAction() string {
	return "wait and retry; another invocation is holding the lease"
}

// OperationFailedError is surfaced when a key previously latched to
// FAILED_NON_RETRYABLE. No future attempt will ever succeed for this key.
type OperationFailedError struct {
	Key string
	Err error
}

func (e *OperationFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("runonce: key %q previously failed non-retryably: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("runonce: key %q previously failed non-retryably", e.Key)
}

func (e *OperationFailedError) Unwrap() error { return e.Err }

func (e *OperationFailedError) ErrorCode() string { return "OPERATION_FAILED" }

func (e *OperationFailedError) Context() map[string]string {
	return map[string]string{"key": e.Key}
}

func (e *OperationFailedError) SuggestedAction() string {
	return "do not retry; choose a new key for a fresh attempt"
}

// TimeoutError is surfaced when automatic_timeout is set and the handler
// did not return within ttl_ms. Recorded as a retryable failure.
type TimeoutError struct {
	Key   string
	TTLMs int64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("runonce: key %q timed out after %dms", e.Key, e.TTLMs)
}

func (e *TimeoutError) ErrorCode() string { return "TIMEOUT" }

func (e *TimeoutError) Context() map[string]string {
	return map[string]string{"key": e.Key, "ttl_ms": fmt.Sprintf("%d", e.TTLMs)}
}

func (e *TimeoutError) SuggestedAction() string {
	return "retry; the record was marked FAILED_RETRYABLE"
}

// RetryableError wraps a handler error that the is_retryable predicate
// accepted but that was not already a recognized retryable marker. Recorded
// as a retryable failure and re-surfaced to the caller wrapped in this type.
type RetryableError struct {
	Key string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("runonce: key %q failed retryably: %v", e.Key, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

func (e *RetryableError) ErrorCode() string { return "RETRYABLE" }

func (e *RetryableError) Context() map[string]string {
	return map[string]string{"key": e.Key}
}

func (e *RetryableError) SuggestedAction() string {
	return "retry; the record was marked FAILED_RETRYABLE"
}

// ErrEmptyKey is a usage error: run_once requires a non-empty, non-whitespace key.
var ErrEmptyKey = errors.New("runonce: key must not be empty")

// Retryable is the default is_retryable predicate: true only for errors that
// are already one of this package's recognized retryable markers
// (TimeoutError, RetryableError, or an error wrapping one of those). Callers
// that want their own error types treated as retryable should supply their
// own predicate to RunOnce.
func Retryable(err error) bool {
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}
