package tokenguard

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// GuardError represents a guard-specific error
type GuardError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	// ErrCodeContention signals that a lock for the (identity, kind) pair is
	// already held. The operation is safe to retry once the holder finishes
	// or the lock expires.
	ErrCodeContention = "concurrent_operation"
	// ErrCodeThrottled signals that the identifier crossed the failure
	// threshold and is blocked until the window closes.
	ErrCodeThrottled = "rate_limit_exceeded"
	// ErrCodeInvalidPayload signals a request rejected before reaching the
	// pipeline (shape validation, unknown kind, malformed identity).
	ErrCodeInvalidPayload = "invalid_payload"
	// ErrCodeInternal signals a guard-side failure unrelated to the request.
	ErrCodeInternal = "internal_error"
)

// NewGuardError creates a new guard error
func NewGuardError(code, message string, details map[string]interface{}) *GuardError {
	return &GuardError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// ErrContention returns the "retry later" error for a held lock.
func ErrContention(identity string, kind OperationKind) *GuardError {
	return NewGuardError(ErrCodeContention,
		fmt.Sprintf("%s operation already in progress for this identity, retry later", kind),
		map[string]interface{}{
			"identity": identity,
			"kind":     string(kind),
		})
}

// ErrThrottled returns the "blocked" error for an identifier over the
// failure threshold. retryAfter is how long until the window closes; zero
// means unknown.
func ErrThrottled(identifier string, retryAfter time.Duration) *GuardError {
	details := map[string]interface{}{
		"identifier": identifier,
	}
	if retryAfter > 0 {
		details["retryAfterSeconds"] = int64(retryAfter / time.Second)
	}
	return NewGuardError(ErrCodeThrottled,
		"too many failed attempts, blocked", details)
}

// ErrorCode extracts the guard error code from err, or empty if err is not
// a GuardError.
func ErrorCode(err error) string {
	var guardErr *GuardError
	if errors.As(err, &guardErr) {
		return guardErr.Code
	}
	return ""
}

// IsContention reports whether err is a lock contention error.
func IsContention(err error) bool {
	return ErrorCode(err) == ErrCodeContention
}

// IsThrottled reports whether err is a failure-threshold block.
func IsThrottled(err error) bool {
	return ErrorCode(err) == ErrCodeThrottled
}

// HTTPStatus maps err to the client-facing status code. Contention and
// Throttled map to distinct statuses so a legitimate retrying client can
// tell "wait and retry" from "you are rate-limited".
func HTTPStatus(err error) int {
	switch ErrorCode(err) {
	case ErrCodeContention:
		return http.StatusConflict
	case ErrCodeThrottled:
		return http.StatusTooManyRequests
	case ErrCodeInvalidPayload:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
