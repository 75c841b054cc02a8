/*
Package feefine provides the fee/fine ledger reconciliation engine.

PURPOSE:
  Patrons owe fees/fines (accounts). Every payment, transfer, refund or
  note against an account is an immutable action in an append-only log.
  This package replays that log to answer two questions:

    1. Which earlier payments/transfers does a given refund refund?
       (attribution, used by the refund report)
    2. How much can still be refunded on an account right now?
       (eligibility, used before a refund is recorded)

KEY CONCEPTS IN THIS FILE (types.go):
  - ActionType: the display label stored on an action ("Paid partially")
  - Category:   closed classification {Payment, Transfer, Refund, Other}
  - Account:    the charge record an action belongs to
  - Action:     one ledger entry (amount is never negative)
  - Patron, Item, Instance: metadata resolved for report rows

DESIGN PRINCIPLES:
  1. Immutability: actions are never edited; accounts are only tombstoned
  2. Precision: Money is decimal, rounded half-even to two places
  3. Order: actions are ordered by Date, ties broken by Seq (insertion order)
  4. Pure computation: replay/attribution/eligibility hold no shared state

SEE ALSO:
  - money.go:       Money type
  - replay.go:      Ledger Replay
  - attribution.go: Refund Attribution
  - report.go:      Refund report rows
  - eligibility.go: Refund eligibility checks
*/
package feefine

import (
	"cmp"
	"slices"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type ActionID string
type PatronID string
type ItemID string
type InstanceID string

// =============================================================================
// ACTION TYPE & CATEGORY
// =============================================================================

// ActionType is the label recorded on an action. Labels outside the six
// financial ones below are legal and classify as CategoryOther.
type ActionType string

const (
	ActionPaidPartially        ActionType = "Paid partially"
	ActionPaidFully            ActionType = "Paid fully"
	ActionTransferredPartially ActionType = "Transferred partially"
	ActionTransferredFully     ActionType = "Transferred fully"
	ActionRefundedPartially    ActionType = "Refunded partially"
	ActionRefundedFully        ActionType = "Refunded fully"
)

// Category is the settlement category of an action.
type Category int

const (
	CategoryOther Category = iota
	CategoryPayment
	CategoryTransfer
	CategoryRefund
)

func (c Category) String() string {
	switch c {
	case CategoryPayment:
		return "PAYMENT"
	case CategoryTransfer:
		return "TRANSFER"
	case CategoryRefund:
		return "REFUND"
	default:
		return "OTHER"
	}
}

// Category classifies the action type.
func (t ActionType) Category() Category {
	switch t {
	case ActionPaidPartially, ActionPaidFully:
		return CategoryPayment
	case ActionTransferredPartially, ActionTransferredFully:
		return CategoryTransfer
	case ActionRefundedPartially, ActionRefundedFully:
		return CategoryRefund
	default:
		return CategoryOther
	}
}

// RefundActionTypes lists the labels selected by the refund report.
func RefundActionTypes() []ActionType {
	return []ActionType{ActionRefundedPartially, ActionRefundedFully}
}

// =============================================================================
// ACCOUNT
// =============================================================================

// Account is a single fee/fine charged to a patron.
type Account struct {
	ID          AccountID
	PatronID    PatronID
	FeeFineType string
	Amount      Money // original charged amount, > 0
	CreatedAt   time.Time
	ItemID      ItemID // empty when the charge has no item
}

// Validate checks the account invariants.
func (a Account) Validate() error {
	if a.ID == "" {
		return &ValidationError{Field: "id", Err: ErrInvalidAccount}
	}
	if !a.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Value: a.Amount.String(), Err: ErrAmountNotPositive}
	}
	return nil
}

// =============================================================================
// ACTION - Immutable ledger entry
// =============================================================================

type Action struct {
	ID        ActionID
	AccountID AccountID
	PatronID  PatronID
	Type      ActionType

	// Method is the payment method, transfer destination or refund reason,
	// depending on the category.
	Method string

	Amount  Money // amount of this action, never negative
	Balance Money // account balance after this action (display only)

	StaffInfo       string
	PatronInfo      string
	TransactionInfo string

	Date time.Time
	Seq  int64 // insertion order, assigned by the store
}

func (a Action) Category() Category { return a.Type.Category() }

// CompareActions orders actions by Date, then Seq.
func CompareActions(a, b Action) int {
	if c := a.Date.Compare(b.Date); c != 0 {
		return c
	}
	return cmp.Compare(a.Seq, b.Seq)
}

// SortActions sorts in place by Date then Seq, keeping the incoming order
// for full ties.
func SortActions(actions []Action) {
	slices.SortStableFunc(actions, CompareActions)
}

// =============================================================================
// METADATA - Resolved for report rows only
// =============================================================================

type Patron struct {
	ID         PatronID
	Barcode    string
	FirstName  string
	MiddleName string
	LastName   string
	Group      string // patron group name
}

type Item struct {
	ID         ItemID
	Barcode    string
	InstanceID InstanceID
}

type Instance struct {
	ID    InstanceID
	Title string
}
