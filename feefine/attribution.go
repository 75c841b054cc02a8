/*
attribution.go - Refund Attribution

PURPOSE:
  For each refund on an account, works out which earlier payments and
  transfers it refunds, and how much of each.

FIFO MODE (default):
  A single left-to-right fold over the replayed actions. Every PAYMENT and
  TRANSFER enters an unconsumed pool with its full amount. A REFUND of r
  consumes from the pool:

    1. unconsumed PAYMENTS, oldest first
    2. then unconsumed TRANSFERS, oldest first

  until r is exhausted or the pool is empty. The remaining amount per
  action carries over to later refunds on the same account.

  If r exceeds the pool, everything available is attributed and the excess
  is reported as Unattributed. That is not an error: the write path is
  guarded by the eligibility check.

CUMULATIVE MODE:
  Every PAYMENT/TRANSFER recorded before the refund counts at its full
  amount, regardless of earlier refunds. This matches the legacy refund
  report, which showed the account's payment/transfer totals up to the
  refund.

LABELS:
  For the consumed payments (resp. transfers): no action → "", one distinct
  method → that method, more → "See Fee/fine details page".
  TransactionInfo applies the same rule to the consumed payments' memos.

EXAMPLE:
  pay 3.10 (cash), pay 2.10 (cash), refund 5.20
    → PaidAmount 5.20, PaymentMethod "cash"
  pay 3.00 (cash), transfer 1.50 (Bursar), refund 4.00
    → PaidAmount 3.00 "cash", TransferredAmount 1.00 "Bursar"
*/
package feefine

import "fmt"

// MultipleValuesLabel replaces a label when the consumed set spans more
// than one distinct value.
const MultipleValuesLabel = "See Fee/fine details page"

// AttributionMode selects how refunds are matched to payments/transfers.
type AttributionMode int

const (
	AttributionFIFO AttributionMode = iota
	AttributionCumulative
)

func (m AttributionMode) String() string {
	if m == AttributionCumulative {
		return "cumulative"
	}
	return "fifo"
}

// ParseAttributionMode parses "fifo" or "cumulative".
func ParseAttributionMode(s string) (AttributionMode, error) {
	switch s {
	case "", "fifo":
		return AttributionFIFO, nil
	case "cumulative":
		return AttributionCumulative, nil
	default:
		return AttributionFIFO, fmt.Errorf("unknown attribution mode %q", s)
	}
}

// Consumption is the portion of one payment/transfer claimed by a refund.
type Consumption struct {
	ActionID ActionID
	Category Category
	Amount   Money
}

// Attribution is the attribution output for one refund action.
type Attribution struct {
	RefundActionID    ActionID
	PaidAmount        Money
	PaymentMethod     string
	TransactionInfo   string
	TransferredAmount Money
	TransferAccount   string
	Consumed          []Consumption
	Unattributed      Money // part of the refund the pool could not cover
}

// poolEntry tracks what is left of one payment or transfer.
type poolEntry struct {
	action    Action
	remaining Money
}

// attributionState is the per-account accumulator of the fold. It must
// never outlive one account's processing.
type attributionState struct {
	payments  []*poolEntry
	transfers []*poolEntry
}

func (s *attributionState) add(a ReplayedAction) {
	entry := &poolEntry{action: a.Action, remaining: a.Amount}
	switch a.Category {
	case CategoryPayment:
		s.payments = append(s.payments, entry)
	case CategoryTransfer:
		s.transfers = append(s.transfers, entry)
	case CategoryRefund, CategoryOther:
	}
}

// consume takes up to amount from entries oldest-first and returns what was
// left unpaid.
func consume(entries []*poolEntry, amount Money, category Category, consumed *[]Consumption) Money {
	for _, e := range entries {
		if !amount.IsPositive() {
			break
		}
		if !e.remaining.IsPositive() {
			continue
		}
		take := e.remaining.Min(amount)
		e.remaining = e.remaining.Sub(take)
		amount = amount.Sub(take)
		*consumed = append(*consumed, Consumption{ActionID: e.action.ID, Category: category, Amount: take})
	}
	return amount
}

// AttributeRefunds attributes every refund of the replayed account and
// returns the results keyed by refund action id.
func AttributeRefunds(r Replay, mode AttributionMode) map[ActionID]Attribution {
	state := &attributionState{}
	out := make(map[ActionID]Attribution)

	for _, a := range r.Actions {
		switch a.Category {
		case CategoryPayment, CategoryTransfer:
			state.add(a)
		case CategoryRefund:
			if mode == AttributionCumulative {
				out[a.ID] = state.cumulative(a)
			} else {
				out[a.ID] = state.fifo(a)
			}
		case CategoryOther:
		}
	}
	return out
}

func (s *attributionState) fifo(refund ReplayedAction) Attribution {
	var consumed []Consumption
	left := consume(s.payments, refund.Amount, CategoryPayment, &consumed)
	left = consume(s.transfers, left, CategoryTransfer, &consumed)
	return s.summarize(refund.ID, consumed, left)
}

func (s *attributionState) cumulative(refund ReplayedAction) Attribution {
	var consumed []Consumption
	for _, e := range s.payments {
		consumed = append(consumed, Consumption{ActionID: e.action.ID, Category: CategoryPayment, Amount: e.action.Amount})
	}
	for _, e := range s.transfers {
		consumed = append(consumed, Consumption{ActionID: e.action.ID, Category: CategoryTransfer, Amount: e.action.Amount})
	}
	return s.summarize(refund.ID, consumed, Zero)
}

func (s *attributionState) summarize(refundID ActionID, consumed []Consumption, left Money) Attribution {
	byID := make(map[ActionID]Action, len(s.payments)+len(s.transfers))
	for _, e := range s.payments {
		byID[e.action.ID] = e.action
	}
	for _, e := range s.transfers {
		byID[e.action.ID] = e.action
	}

	var methods, infos, accounts labelSet
	att := Attribution{RefundActionID: refundID, Consumed: consumed, Unattributed: left}
	for _, c := range consumed {
		src := byID[c.ActionID]
		switch c.Category {
		case CategoryPayment:
			att.PaidAmount = att.PaidAmount.Add(c.Amount)
			methods.add(src.Method)
			infos.add(src.TransactionInfo)
		case CategoryTransfer:
			att.TransferredAmount = att.TransferredAmount.Add(c.Amount)
			accounts.add(src.Method)
		case CategoryRefund, CategoryOther:
		}
	}
	att.PaymentMethod = methods.label()
	att.TransactionInfo = infos.label()
	att.TransferAccount = accounts.label()
	return att
}

// labelSet collects distinct labels in first-seen order.
type labelSet struct {
	seen   map[string]struct{}
	values []string
}

func (l *labelSet) add(v string) {
	if l.seen == nil {
		l.seen = make(map[string]struct{})
	}
	if _, ok := l.seen[v]; ok {
		return
	}
	l.seen[v] = struct{}{}
	l.values = append(l.values, v)
}

func (l *labelSet) label() string {
	switch len(l.values) {
	case 0:
		return ""
	case 1:
		return l.values[0]
	default:
		return MultipleValuesLabel
	}
}
