// Package errors provides coded errors shared by all layers of the approvals
// service. Handlers map codes to HTTP statuses; services return them as plain
// error values so callers can branch on Code(err).
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	ErrCodeInternal     ErrorCode = "INTERNAL"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// Approval engine taxonomy.
	ErrCodeInsufficientAuthority ErrorCode = "INSUFFICIENT_AUTHORITY"
	ErrCodeAlreadyDecided        ErrorCode = "ALREADY_DECIDED"
	ErrCodeStaleState            ErrorCode = "STALE_STATE"
	ErrCodeLockTimeout           ErrorCode = "LOCK_TIMEOUT"
	ErrCodeInvalidWindow         ErrorCode = "INVALID_WINDOW"
	ErrCodeDelegateNotEligible   ErrorCode = "DELEGATE_NOT_ELIGIBLE"
	ErrCodeNotOwner              ErrorCode = "NOT_OWNER"
	ErrCodeDispatchFailed        ErrorCode = "ACTION_DISPATCH_FAILED"
)

// Error is the coded error type used across the service.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap annotates err with a code and message.
func Wrap(err error, code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// WithDetail attaches a key/value pair for caller display.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found: %s", resource, id))
}

// InvalidInput reports a validation failure on a named field.
func InvalidInput(field, message string) *Error {
	return New(ErrCodeInvalidInput, fmt.Sprintf("%s: %s", field, message)).
		WithDetail("field", field)
}

// ── Approval engine constructors ──────────────────────────────────────────────

// InsufficientAuthority reports an amount exceeding the actor's limit.
// Amounts are in cents. The gap (amount - limit) is attached for UI display so
// the caller can suggest escalation.
func InsufficientAuthority(amount, limit int64) *Error {
	gap := amount - limit
	return New(ErrCodeInsufficientAuthority,
		fmt.Sprintf("amount %d exceeds approval limit %d by %d", amount, limit, gap)).
		WithDetail("amount", amount).
		WithDetail("limit", limit).
		WithDetail("gap", gap)
}

// AlreadyDecided reports a decision against a request that is already terminal.
func AlreadyDecided(requestID, status string) *Error {
	return New(ErrCodeAlreadyDecided,
		fmt.Sprintf("approval request %s is already %s", requestID, status)).
		WithDetail("status", status)
}

// StaleState reports that the request changed between lock acquisition and mutation.
func StaleState(requestID string) *Error {
	return New(ErrCodeStaleState,
		fmt.Sprintf("approval request %s changed concurrently", requestID))
}

// LockTimeout reports that the decision lock could not be acquired in time.
func LockTimeout(requestID string) *Error {
	return New(ErrCodeLockTimeout,
		fmt.Sprintf("timed out waiting for decision lock on %s", requestID))
}

// ── Inspection helpers ────────────────────────────────────────────────────────

// Code extracts the ErrorCode from err, or ErrCodeInternal for uncoded errors.
func Code(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// Detail returns a named detail from a coded error, or nil.
func Detail(err error, key string) interface{} {
	var e *Error
	if stderrors.As(err, &e) && e.Details != nil {
		return e.Details[key]
	}
	return nil
}

// HTTPStatus maps an error to the HTTP status handlers should return.
func HTTPStatus(err error) int {
	switch Code(err) {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidInput, ErrCodeInvalidWindow:
		return http.StatusBadRequest
	case ErrCodeUnauthorized, ErrCodeNotOwner:
		return http.StatusForbidden
	case ErrCodeInsufficientAuthority, ErrCodeDelegateNotEligible:
		return http.StatusForbidden
	case ErrCodeConflict, ErrCodeAlreadyDecided, ErrCodeStaleState:
		return http.StatusConflict
	case ErrCodeLockTimeout:
		return http.StatusServiceUnavailable
	case ErrCodeDispatchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return Code(err) == code
}
