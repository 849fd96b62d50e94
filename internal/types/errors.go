package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so callers can decide between retrying,
// rejecting the request, or surfacing a permanent fault.
type ErrorKind string

const (
	ErrKindConfiguration ErrorKind = "configuration"
	ErrKindValidation    ErrorKind = "validation"
	ErrKindNotFound      ErrorKind = "not_found"
	ErrKindTransient     ErrorKind = "transient_ledger"
	ErrKindTerminal      ErrorKind = "terminal_ledger"
	ErrKindAuthorization ErrorKind = "authorization"
	ErrKindUnsupported   ErrorKind = "unsupported"
)

// DomainError carries the failure class alongside the wrapped cause.
type DomainError struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op, msg string, cause error) *DomainError {
	return &DomainError{Kind: kind, Op: op, Msg: msg, Err: cause}
}

func NewConfigurationError(op, msg string) *DomainError {
	return newError(ErrKindConfiguration, op, msg, nil)
}

func NewValidationError(op, msg string) *DomainError {
	return newError(ErrKindValidation, op, msg, nil)
}

func NewNotFoundError(op, msg string) *DomainError {
	return newError(ErrKindNotFound, op, msg, nil)
}

func NewAuthorizationError(op, msg string) *DomainError {
	return newError(ErrKindAuthorization, op, msg, nil)
}

func NewUnsupportedError(op, msg string) *DomainError {
	return newError(ErrKindUnsupported, op, msg, nil)
}

// NewTransientLedgerError marks a ledger interaction that is safe to retry
// (rate limits, timeouts, TRY_AGAIN_LATER submit status).
func NewTransientLedgerError(op, msg string, cause error) *DomainError {
	return newError(ErrKindTransient, op, msg, cause)
}

// NewTerminalLedgerError marks a ledger rejection that retrying cannot fix
// (reverted execution, malformed transaction, insufficient funds).
func NewTerminalLedgerError(op, msg string, cause error) *DomainError {
	return newError(ErrKindTerminal, op, msg, cause)
}

// KindOf extracts the error kind, defaulting to terminal for unclassified
// errors so the queue never loops on a fault it does not understand.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ErrKindTerminal
}

// IsTransient reports whether the queue should schedule another attempt.
func IsTransient(err error) bool {
	return KindOf(err) == ErrKindTransient
}

func IsNotFound(err error) bool {
	return KindOf(err) == ErrKindNotFound
}

func IsUnsupported(err error) bool {
	return KindOf(err) == ErrKindUnsupported
}
