// Package errs defines the error taxonomy shared by every control-plane
// component. Errors are surfaced with a stable code so callers (the CLI,
// the HTTP transport, a test) can map them to exit codes or status lines
// without parsing message text.
package errs

import (
	"errors"
	"fmt"
)

// Code identifies a class of error in the taxonomy from the error-handling
// design: which ones are retried, which are fatal, which require the
// caller to refresh state before trying again.
type Code string

const (
	// CodeInvariantViolation means a data contract was broken: tenant
	// mismatch, unknown reference, a dense-ordering invariant broken.
	// Never retried.
	CodeInvariantViolation Code = "INVARIANT_VIOLATION"

	// CodeGovernanceRequired means a governed write was attempted without
	// a Governance.changeId.
	CodeGovernanceRequired Code = "GOVERNANCE_REQUIRED"

	// CodeCapabilityDenied means the caller's capability profile lacks a
	// required capability token.
	CodeCapabilityDenied Code = "CAPABILITY_DENIED"

	// CodeModuleBoundaryEscape means a path argument resolved outside its
	// declared module root.
	CodeModuleBoundaryEscape Code = "MODULE_BOUNDARY_ESCAPE"

	// CodeConflict means an optimistic-version check failed. The caller
	// may retry after refreshing.
	CodeConflict Code = "CONFLICT"

	// CodeValidationError is a structured validation failure surfaced
	// in-band; C5 treats it as recoverable via the repair loop.
	CodeValidationError Code = "VALIDATION_ERROR"

	// CodeProducerError is an upstream LLM failure surfaced after retries
	// are exhausted.
	CodeProducerError Code = "PRODUCER_ERROR"

	// CodeNotFound means the referenced entity does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeStateInvalid means the operation is not legal from the entity's
	// current lifecycle state.
	CodeStateInvalid Code = "STATE_INVALID"
)

// CodeError is a structured error carrying a taxonomy code plus the
// optional detail fields used by C3 package validation
// ({code, message, recordTypeId?, baseTypeKey?, details?}).
type CodeError struct {
	Code         Code
	Message      string
	RecordTypeID string
	BaseTypeKey  string
	Details      map[string]any
	cause        error
}

func (e *CodeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CodeError) Unwrap() error { return e.cause }

// New builds a CodeError with no wrapped cause.
func New(code Code, message string) *CodeError {
	return &CodeError{Code: code, Message: message}
}

// Newf builds a CodeError with a formatted message.
func Newf(code Code, format string, args ...any) *CodeError {
	return &CodeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a CodeError that unwraps to cause.
func Wrap(code Code, message string, cause error) *CodeError {
	return &CodeError{Code: code, Message: message, cause: cause}
}

// WithRecordType attaches a recordTypeId to the error and returns it.
func (e *CodeError) WithRecordType(id string) *CodeError {
	e.RecordTypeID = id
	return e
}

// WithBaseType attaches a baseTypeKey to the error and returns it.
func (e *CodeError) WithBaseType(key string) *CodeError {
	e.BaseTypeKey = key
	return e
}

// WithDetails attaches structured details and returns the error.
func (e *CodeError) WithDetails(details map[string]any) *CodeError {
	e.Details = details
	return e
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// CodeOf returns the taxonomy code of err, or "" if err isn't a CodeError.
func CodeOf(err error) Code {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// ExitCode maps a taxonomy code to the CLI harness exit codes from the
// external-interfaces section: 0 success, 1 validation failure,
// 2 governance/capability denied, 3 conflict, 4 unexpected.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch CodeOf(err) {
	case CodeValidationError, CodeInvariantViolation, CodeModuleBoundaryEscape:
		return 1
	case CodeGovernanceRequired, CodeCapabilityDenied:
		return 2
	case CodeConflict:
		return 3
	default:
		return 4
	}
}

// TransientError represents a temporary failure that may succeed on retry
// (network blips, rate limiting, 5xx responses from an LLM producer).
type TransientError struct{ err error }

func (e *TransientError) Error() string { return e.err.Error() }
func (e *TransientError) Unwrap() error { return e.err }

// NewTransientError wraps err as transient (retryable).
func NewTransientError(err error) error { return &TransientError{err: err} }

// FatalError represents a permanent failure that should not be retried
// (bad request, auth failure, malformed producer output after repair is
// exhausted).
type FatalError struct{ err error }

func (e *FatalError) Error() string { return e.err.Error() }
func (e *FatalError) Unwrap() error { return e.err }

// NewFatalError wraps err as fatal (non-retryable).
func NewFatalError(err error) error { return &FatalError{err: err} }

// IsTransient reports whether err (or a wrapped cause) is transient.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsFatal reports whether err (or a wrapped cause) is fatal.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}
