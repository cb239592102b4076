// Package oerr defines the structured errors returned across the service
// boundary. Every failure carries a stable machine-readable code so callers
// can tell terminal conditions (already minted, not seller) apart from
// transient ones (RPC timeout) without parsing message text.
package oerr

import (
	"errors"
	"fmt"
)

// Code identifies a failure class. Values are part of the API contract.
type Code string

const (
	CodeConfiguration     Code = "CONFIGURATION"
	CodeValidation        Code = "VALIDATION"
	CodeInvalidCredential Code = "INVALID_CREDENTIAL"
	CodeAddressResolution Code = "ADDRESS_RESOLUTION"
	CodeContractRevert    Code = "CONTRACT_REVERT"
	CodeRPCTransient      Code = "RPC_TRANSIENT"
	CodeSubmissionTimeout Code = "SUBMISSION_TIMEOUT"
	CodeOwnershipMismatch Code = "OWNERSHIP_MISMATCH"
	CodeDeploymentFailed  Code = "DEPLOYMENT_FAILED"
	CodeNotFound          Code = "NOT_FOUND"
)

// Error is a coded error. Reason holds the human-readable message; for
// contract reverts it is the revert reason verbatim, never rewritten.
type Error struct {
	Code   Code
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and reason to an underlying error.
func Wrap(code Code, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// Validation is shorthand for user-input rejection before any chain call.
func Validation(reason string) *Error { return New(CodeValidation, reason) }

// Revert wraps an on-chain rejection, preserving the contract's reason.
func Revert(reason string, err error) *Error {
	return &Error{Code: CodeContractRevert, Reason: reason, Err: err}
}

// CodeOf extracts the code from an error chain; unknown errors map to
// RPC_TRANSIENT since everything else in this system is coded at the source.
func CodeOf(err error) Code {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code
	}
	return CodeRPCTransient
}

// ReasonOf returns the human-readable reason, falling back to Error().
func ReasonOf(err error) string {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Reason
	}
	return err.Error()
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool { return CodeOf(err) == code }
