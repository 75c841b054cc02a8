/*
eligibility.go - Refund Eligibility Checker

PURPOSE:
  Answers "may this amount be refunded now?" for one account or a batch,
  before a refund action is written.

ALGORITHM:
  1. Parse the requested amount (non-numeric → ValidationError)
  2. Reject amounts <= 0 (ValidationError)
  3. Replay each account: refundable = paid + transferred - refunded
  4. Allowed iff requested <= refundable (equal is allowed)

  RemainingRefundable is always returned so callers can display it, even
  when the request is denied.

MISSING ACCOUNTS:
  A missing or tombstoned account is NOT an error here. The result is
  denied with RemainingRefundable 0.00 and ErrorKind account_not_found.
  The refund report takes the opposite stance (see report.go).

BULK:
  Refundable amounts are summed across the (deduplicated) accounts and the
  requested amount is compared with the sum. Any missing account denies the
  whole batch.
*/
package feefine

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// EligibilityErrorKind explains a denied eligibility check.
type EligibilityErrorKind string

const (
	KindNone              EligibilityErrorKind = ""
	KindInvalidAmount     EligibilityErrorKind = "invalid_amount"
	KindAmountNotPositive EligibilityErrorKind = "amount_not_positive"
	KindExceedsRefundable EligibilityErrorKind = "exceeds_refundable"
	KindAccountNotFound   EligibilityErrorKind = "account_not_found"
)

// Message is the user-facing text for the kind.
func (k EligibilityErrorKind) Message() string {
	switch k {
	case KindInvalidAmount:
		return "Invalid amount entered"
	case KindAmountNotPositive:
		return "Amount must be positive"
	case KindExceedsRefundable:
		return "Refund amount exceeds the refundable amount"
	case KindAccountNotFound:
		return "Fee/fine was not found"
	default:
		return ""
	}
}

// RefundEligibilityResult is the outcome of a refund check.
type RefundEligibilityResult struct {
	Allowed             bool
	RequestedAmount     Money
	RemainingRefundable Money

	// RemainingAfterRefund is RemainingRefundable - RequestedAmount when
	// allowed, RemainingRefundable otherwise.
	RemainingAfterRefund Money

	ErrorKind EligibilityErrorKind
}

func (r RefundEligibilityResult) ErrorMessage() string { return r.ErrorKind.Message() }

// ParseRefundAmount validates a requested amount.
func ParseRefundAmount(raw string) (Money, error) {
	amount, err := ParseMoney(raw)
	if err != nil {
		return Zero, &ValidationError{Field: "amount", Value: raw, Err: ErrInvalidAmount}
	}
	if !amount.IsPositive() {
		return Zero, &ValidationError{Field: "amount", Value: raw, Err: ErrAmountNotPositive}
	}
	return amount, nil
}

func validationKind(err error) EligibilityErrorKind {
	if errors.Is(err, ErrAmountNotPositive) {
		return KindAmountNotPositive
	}
	return KindInvalidAmount
}

// =============================================================================
// REFUND CHECKER
// =============================================================================

// RefundChecker runs eligibility checks against the stores.
type RefundChecker struct {
	Accounts AccountStore
	Actions  ActionStore
	Logger   *zap.Logger
}

// NewRefundChecker creates a checker. A nil logger disables logging.
func NewRefundChecker(accounts AccountStore, actions ActionStore, logger *zap.Logger) *RefundChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefundChecker{Accounts: accounts, Actions: actions, Logger: logger}
}

// Refundable returns paid + transferred - refunded for an account, clamped
// at zero. found is false for missing or tombstoned accounts.
func (c *RefundChecker) Refundable(ctx context.Context, id AccountID) (Money, bool, error) {
	account, err := c.Accounts.GetAccount(ctx, id)
	if err != nil {
		return Zero, false, err
	}
	if account == nil {
		c.Logger.Warn("refund check on missing account", zap.String("account_id", string(id)))
		return Zero, false, nil
	}

	actions, err := c.Actions.ListActions(ctx, id)
	if err != nil {
		return Zero, false, err
	}
	refundable := ReplayActions(id, actions).Refundable()
	if refundable.IsNegative() {
		c.Logger.Warn("account refunded more than it collected",
			zap.String("account_id", string(id)),
			zap.Stringer("refundable", refundable))
		refundable = Zero
	}
	return refundable, true, nil
}

// CheckRefund checks one account. Invalid amounts return a ValidationError
// together with a denied result; a missing account is a denied result
// without error.
func (c *RefundChecker) CheckRefund(ctx context.Context, id AccountID, rawAmount string) (RefundEligibilityResult, error) {
	return c.CheckRefundBulk(ctx, []AccountID{id}, rawAmount)
}

// CheckRefundBulk checks a batch of accounts against one requested amount.
func (c *RefundChecker) CheckRefundBulk(ctx context.Context, ids []AccountID, rawAmount string) (RefundEligibilityResult, error) {
	requested, err := ParseRefundAmount(rawAmount)
	if err != nil {
		return RefundEligibilityResult{ErrorKind: validationKind(err)}, err
	}

	result := RefundEligibilityResult{RequestedAmount: requested}
	missing := false
	seen := make(map[AccountID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		refundable, found, err := c.Refundable(ctx, id)
		if err != nil {
			return RefundEligibilityResult{}, err
		}
		if !found {
			missing = true
			continue
		}
		result.RemainingRefundable = result.RemainingRefundable.Add(refundable)
	}

	switch {
	case missing || len(seen) == 0:
		result.ErrorKind = KindAccountNotFound
	case requested.GreaterThan(result.RemainingRefundable):
		result.ErrorKind = KindExceedsRefundable
	default:
		result.Allowed = true
	}

	if result.Allowed {
		result.RemainingAfterRefund = result.RemainingRefundable.Sub(requested)
	} else {
		result.RemainingAfterRefund = result.RemainingRefundable
	}
	return result, nil
}
