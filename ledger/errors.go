/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers (the api package) classify with the helpers at the bottom and
  map categories to HTTP statuses.

ERROR CATEGORIES:
  1. Validation errors - malformed input, rejected before any store access
  2. Not-found errors  - unknown account or account number
  3. Domain errors     - insufficient funds, self transfer, closed account
  4. Store errors      - wrapped I/O or constraint failures (internal)

Mirror failures are deliberately NOT here: they are never operation
failures, only metadata attached to a successful local result.
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of all malformed-input rejections.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidAmount is returned when an operation amount is <= 0.
	ErrInvalidAmount = fmt.Errorf("%w: amount must be positive", ErrValidation)

	// ErrAccountNotFound is returned when an account lookup fails.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrSelfTransfer is returned when sender and receiver are the same
	// account identity.
	ErrSelfTransfer = errors.New("cannot transfer to own account")

	// ErrAccountClosed is returned when a closed account is used in any
	// money-movement operation.
	ErrAccountClosed = errors.New("account is closed")

	// ErrMirrorUnavailable is returned, in strict-mirror mode only, when
	// the mirror health probe fails before any local mutation.
	ErrMirrorUnavailable = errors.New("mirror unavailable")

	// ErrRecordNotFound is returned when a record back-fill targets an
	// unknown record.
	ErrRecordNotFound = errors.New("record not found")

	// ErrDuplicateNumber is returned by stores when an account number is
	// already in use. The engine retries with a fresh number.
	ErrDuplicateNumber = errors.New("account number already in use")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError identifies which participant of an operation was missing.
type NotFoundError struct {
	Role   string // "account", "sender", "receiver"
	Lookup string // the identifier or number that failed to resolve
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Role, e.Lookup)
}

func (e *NotFoundError) Unwrap() error { return ErrAccountNotFound }

// InsufficientFundsError reports the shortage in detail.
type InsufficientFundsError struct {
	AccountID AccountID
	Available int64
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %d, requested %d", e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input
// or a domain rule the caller violated.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrSelfTransfer) ||
		errors.Is(err, ErrAccountClosed)
}

// IsNotFound returns true if the error indicates a missing account or record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrRecordNotFound)
}
