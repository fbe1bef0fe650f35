// Package errs holds the error taxonomy shared by the credential and
// transaction core.
//
// Every error built here is marked with one of the category sentinels so
// callers can branch with errors.Is regardless of how many times the error
// was wrapped on its way to the command layer:
//
//	if errors.Is(err, errs.ErrNotFound) { ... }
//
// Hints attached with WithHint are printed by the CLI under the message.
package errs

import (
	"github.com/cockroachdb/errors"
)

// Resolution errors are raised synchronously to the command layer.
var (
	// ErrValidation indicates malformed user input (bad pair syntax, bad account id, bad key).
	ErrValidation = errors.New("validation error")

	// ErrNotFound indicates a missing alias, keyRefId or account.
	ErrNotFound = errors.New("not found")

	// ErrState indicates inconsistent stored state, e.g. an alias without key material.
	ErrState = errors.New("invalid state")
)

// Backend errors are raised by secret store backends and the key manager.
var (
	// ErrInvalidSecret indicates secret material that does not parse for the stated algorithm.
	ErrInvalidSecret = errors.New("invalid secret")

	// ErrSigningFailed indicates a backend could not produce a signature.
	ErrSigningFailed = errors.New("signing failed")
)

// Outcome categories used to classify transaction results. They never cross
// the execution boundary as returned errors; they appear in logs and in
// TransactionResult messages.
var (
	ErrRetryable = errors.New("retryable failure")
	ErrFatal     = errors.New("fatal failure")
)

// Validation returns a formatted error marked with ErrValidation.
func Validation(format string, args ...interface{}) error {
	return errors.Mark(errors.NewWithDepthf(1, format, args...), ErrValidation)
}

// NotFound returns a formatted error marked with ErrNotFound.
func NotFound(format string, args ...interface{}) error {
	return errors.Mark(errors.NewWithDepthf(1, format, args...), ErrNotFound)
}

// State returns a formatted error marked with ErrState.
func State(format string, args ...interface{}) error {
	return errors.Mark(errors.NewWithDepthf(1, format, args...), ErrState)
}

// Fatal returns a formatted error marked with ErrFatal. The CLI uses it for
// transactions the ledger rejected.
func Fatal(format string, args ...interface{}) error {
	return errors.Mark(errors.NewWithDepthf(1, format, args...), ErrFatal)
}

// InvalidSecret wraps cause and marks it with ErrInvalidSecret. The cause
// must never carry secret material in its message.
func InvalidSecret(cause error, format string, args ...interface{}) error {
	if cause == nil {
		return errors.Mark(errors.NewWithDepthf(1, format, args...), ErrInvalidSecret)
	}
	return errors.Mark(errors.WrapWithDepthf(1, cause, format, args...), ErrInvalidSecret)
}

// SigningFailed wraps cause and marks it with ErrSigningFailed.
func SigningFailed(cause error, format string, args ...interface{}) error {
	if cause == nil {
		return errors.Mark(errors.NewWithDepthf(1, format, args...), ErrSigningFailed)
	}
	return errors.Mark(errors.WrapWithDepthf(1, cause, format, args...), ErrSigningFailed)
}

// WithHint attaches a user-facing remediation hint.
func WithHint(err error, hint string) error {
	return errors.WithHint(err, hint)
}

// Hints returns every hint attached to err, outermost first.
func Hints(err error) []string {
	return errors.GetAllHints(err)
}

// ExitCode maps an error to the process exit status used by the CLI.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidSecret):
		return 2
	case errors.Is(err, ErrNotFound):
		return 3
	case errors.Is(err, ErrState):
		return 4
	default:
		return 1
	}
}
