/*
replay.go - Ledger Replay

PURPOSE:
  Walks one account's ordered action history once and classifies every
  action, keeping three running totals:

    paid        += amount of every PAYMENT
    transferred += amount of every TRANSFER
    refunded    += amount of every REFUND

  The stored per-action Balance is trusted for display only; attribution
  and eligibility use the running totals.

ORDERING:
  Actions are sorted by Date with ties broken by Seq. Replay sorts a copy of
  its input so callers may pass store results as-is.
*/
package feefine

import "slices"

// ReplayedAction is an action annotated by replay. The cumulative totals
// include the action itself.
type ReplayedAction struct {
	Action
	Category              Category
	CumulativePaid        Money
	CumulativeTransferred Money
	CumulativeRefunded    Money
}

// Replay is the result of replaying one account.
type Replay struct {
	AccountID   AccountID
	Actions     []ReplayedAction
	Paid        Money
	Transferred Money
	Refunded    Money
}

// ReplayActions replays the given actions of one account. Actions of other
// accounts are ignored. An empty history yields zero totals.
func ReplayActions(accountID AccountID, actions []Action) Replay {
	ordered := slices.Clone(actions)
	SortActions(ordered)

	r := Replay{AccountID: accountID, Actions: make([]ReplayedAction, 0, len(ordered))}
	for _, a := range ordered {
		if a.AccountID != accountID {
			continue
		}
		category := a.Category()
		switch category {
		case CategoryPayment:
			r.Paid = r.Paid.Add(a.Amount)
		case CategoryTransfer:
			r.Transferred = r.Transferred.Add(a.Amount)
		case CategoryRefund:
			r.Refunded = r.Refunded.Add(a.Amount)
		case CategoryOther:
		}
		r.Actions = append(r.Actions, ReplayedAction{
			Action:                a,
			Category:              category,
			CumulativePaid:        r.Paid,
			CumulativeTransferred: r.Transferred,
			CumulativeRefunded:    r.Refunded,
		})
	}
	return r
}

// Refundable is paid + transferred - refunded. It is negative only when the
// log itself over-refunds.
func (r Replay) Refundable() Money {
	return r.Paid.Add(r.Transferred).Sub(r.Refunded)
}

// IsEmpty reports whether the account has no actions.
func (r Replay) IsEmpty() bool { return len(r.Actions) == 0 }
