/*
errors.go - Centralized error types for the fee/fine engine

ERROR CATEGORIES:
  1. Validation errors - Malformed user input (dates, amounts). Detected
     before any ledger replay begins.
  2. Not found         - Missing account during an eligibility check. This
     is NOT returned as an error; the check degrades to "denied, 0.00".
  3. Integrity faults  - Missing account while building report rows. Fatal
     for the whole report.

USAGE:
  if feefine.IsValidation(err) { // 400 / 422 }
  if feefine.IsIntegrityFault(err) { // 500, no partial report }

SEE ALSO:
  - report.go:      raises IntegrityError
  - eligibility.go: raises ValidationError, degrades on not-found
*/
package feefine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when an amount is not a decimal number.
	ErrInvalidAmount = errors.New("invalid amount entered")

	// ErrAmountNotPositive is returned for a zero or negative amount.
	ErrAmountNotPositive = errors.New("amount must be positive")

	// ErrMissingDate is returned when a required date parameter is absent.
	ErrMissingDate = errors.New("date is required")

	// ErrInvalidDate is returned when a date does not parse as YYYY-MM-DD.
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidDateRange is returned when the end date precedes the start date.
	ErrInvalidDateRange = errors.New("invalid date range: end before start")

	// ErrInvalidTimezone is returned for an unknown IANA timezone id.
	ErrInvalidTimezone = errors.New("invalid timezone")

	// ErrInvalidAccount is returned when an account record is malformed.
	ErrInvalidAccount = errors.New("invalid account")

	// ErrInvalidAction is returned when an action record is malformed.
	ErrInvalidAction = errors.New("invalid action")

	// ErrAccountNotFound is returned when a referenced account doesn't exist.
	ErrAccountNotFound = errors.New("fee/fine was not found")

	// ErrDuplicateAction is returned when an action id is already recorded.
	ErrDuplicateAction = errors.New("duplicate action id")

	// ErrRefundNotAllowed is returned when a refund fails its eligibility check.
	ErrRefundNotAllowed = errors.New("refund amount exceeds the refundable amount")

	// ErrIntegrityFault is returned when the report references an account
	// that no longer exists.
	ErrIntegrityFault = errors.New("ledger integrity fault")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes rejected user input.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v (%q)", e.Field, e.Err, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IntegrityError reports a refund action whose account is gone.
type IntegrityError struct {
	AccountID AccountID
	ActionID  ActionID
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("account %s referenced by refund action %s not found", e.AccountID, e.ActionID)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrityFault }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true if the error is due to invalid client input.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsIntegrityFault returns true if a report must not be returned at all.
func IsIntegrityFault(err error) bool {
	return errors.Is(err, ErrIntegrityFault)
}

// IsNotFound returns true if the error indicates a missing account.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}
