// Package errs defines the error kinds shared by the chain client, the
// repositories and the escrow service. Callers classify failures with
// errors.Is and decide whether a retry is safe.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation — malformed input. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrUnauthorized — signer or session identity does not match the
	// role required for the operation. Never retried.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidState — the requested transition is illegal from the
	// escrow's current status. Re-fetch state before acting again.
	ErrInvalidState = errors.New("invalid state")

	// ErrDuplicate — the escrow or dispute already exists.
	ErrDuplicate = errors.New("already exists")

	// ErrTransaction — the on-chain submission was rejected or
	// reverted. Not retried automatically: an ambiguous rejection plus
	// a blind retry risks a double spend.
	ErrTransaction = errors.New("transaction failed")

	// ErrTimeout — the confirmation wait exceeded its bound; the
	// outcome is unknown. Re-query chain state, do not resubmit.
	ErrTimeout = errors.New("confirmation timeout")

	// ErrNotFound — referenced intent, agent, escrow or dispute does
	// not exist.
	ErrNotFound = errors.New("not found")
)

func Validationf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}

func Unauthorizedf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrUnauthorized)...)
}

func InvalidStatef(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidState)...)
}

func Duplicatef(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrDuplicate)...)
}

func Transactionf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrTransaction)...)
}

func Timeoutf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrTimeout)...)
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// Retryable reports whether the caller may retry the failed call as-is.
// Only read-side network hiccups qualify; every mutating failure in the
// taxonomy requires a fresh state read first.
func Retryable(err error) bool {
	for _, kind := range []error{
		ErrValidation, ErrUnauthorized, ErrInvalidState,
		ErrDuplicate, ErrTransaction, ErrTimeout, ErrNotFound,
	} {
		if errors.Is(err, kind) {
			return false
		}
	}
	return true
}
