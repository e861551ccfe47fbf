// Package errors provides standardized error handling for the admissions wizard.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeStepValidationFailed ErrorCode = "STEP_VALIDATION_FAILED"

	ErrCodeStepCacheWriteFailed ErrorCode = "STEP_CACHE_WRITE_FAILED"
	ErrCodeSnapshotWriteFailed  ErrorCode = "SNAPSHOT_WRITE_FAILED"
	ErrCodePhaseRecordFailed    ErrorCode = "PHASE_RECORD_FAILED"

	ErrCodeSubmissionFailed   ErrorCode = "SUBMISSION_FAILED"
	ErrCodeSubmissionRejected ErrorCode = "SUBMISSION_REJECTED"
	ErrCodeBackendUnreachable ErrorCode = "BACKEND_UNREACHABLE"

	ErrCodePaymentInitFailed ErrorCode = "PAYMENT_INIT_FAILED"
	ErrCodePaymentIncomplete ErrorCode = "PAYMENT_INCOMPLETE"
	ErrCodeGatewayFailure    ErrorCode = "GATEWAY_FAILURE"
	ErrCodeCouponInvalid     ErrorCode = "COUPON_INVALID"
)

// ErrPaymentIncomplete is the control-flow sentinel for submitting after a
// failed gateway round trip.
var ErrPaymentIncomplete = errors.New("PAYMENT_INCOMPLETE")

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewStepValidationError creates a non-retryable validation error carrying the
// user-facing message for the blocked transition.
func NewStepValidationError(message string) *StandardError {
	return &StandardError{
		Code:      ErrCodeStepValidationFailed,
		Message:   message,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStepCacheWriteError creates a retryable best-effort persistence error.
// Callers are expected to log and swallow it.
func NewStepCacheWriteError(step string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStepCacheWriteFailed,
		Message:   "Failed to cache step data",
		Details:   fmt.Sprintf("step: %s, error: %s", step, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSnapshotWriteError creates a retryable local snapshot persistence error.
func NewSnapshotWriteError(key string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSnapshotWriteFailed,
		Message:   "Failed to persist local draft snapshot",
		Details:   fmt.Sprintf("key: %s, error: %s", key, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewPhaseRecordError creates a retryable phase recording error.
func NewPhaseRecordError(phase string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePhaseRecordFailed,
		Message:   "Failed to record workflow phase",
		Details:   fmt.Sprintf("phase: %s, error: %s", phase, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSubmissionRejectedError creates a non-retryable error carrying the
// server-provided rejection message for a final submit.
func NewSubmissionRejectedError(detail string) *StandardError {
	if detail == "" {
		detail = "Failed to save application"
	}
	return &StandardError{
		Code:      ErrCodeSubmissionRejected,
		Message:   detail,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewBackendUnreachableError creates a retryable connectivity error naming the
// expected backend address, so the surfaced message tells the user what is down.
func NewBackendUnreachableError(baseURL string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeBackendUnreachable,
		Message:   fmt.Sprintf("Could not reach the server. Ensure the backend is running at %s.", baseURL),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewPaymentInitError creates a retryable payment initiation error.
func NewPaymentInitError(detail string) *StandardError {
	if detail == "" {
		detail = "Failed to initiate payment"
	}
	return &StandardError{
		Code:      ErrCodePaymentInitFailed,
		Message:   detail,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewPaymentIncompleteError creates the gate error for submitting before a
// successful payment.
func NewPaymentIncompleteError() *StandardError {
	return &StandardError{
		Code:      ErrCodePaymentIncomplete,
		Message:   "Please complete payment before submitting.",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewGatewayFailureError creates the retryable gateway-reported failure.
func NewGatewayFailureError(transactionID, detail string) *StandardError {
	if detail == "" {
		detail = "Transaction failed"
	}
	return &StandardError{
		Code:      ErrCodeGatewayFailure,
		Message:   detail,
		Details:   fmt.Sprintf("transactionId: %s", transactionID),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewCouponInvalidError creates a non-retryable coupon rejection.
func NewCouponInvalidError(message string) *StandardError {
	if message == "" {
		message = "Invalid or expired coupon code"
	}
	return &StandardError{
		Code:      ErrCodeCouponInvalid,
		Message:   message,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// IsRetryable reports whether err is a retryable StandardError.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}

// GetErrorCategory returns the handling category for an error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	case strings.Contains(codeStr, "CACHE") || strings.Contains(codeStr, "SNAPSHOT") || strings.Contains(codeStr, "PHASE"):
		return "BEST_EFFORT_PERSISTENCE"
	case strings.Contains(codeStr, "SUBMISSION") || strings.Contains(codeStr, "BACKEND"):
		return "HARD_SUBMISSION"
	case strings.Contains(codeStr, "PAYMENT") || strings.Contains(codeStr, "GATEWAY") || strings.Contains(codeStr, "COUPON"):
		return "PAYMENT"
	default:
		return "OTHER"
	}
}
