package feefine_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warp/feefine-engine/feefine"
	"github.com/warp/feefine-engine/feefine/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	patronID       = "patron-1"
	paymentMethod  = "payment-method"
	refundReason   = "refund-reason"
	transferTarget = "Bursar"

	paymentTxInfo  = "Payment transaction information"
	refundTxInfo   = "Refund transaction information"
	transferTxInfo = "Transfer transaction information"
)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *store.Memory
	ledger *feefine.Ledger
	n      int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	checker := feefine.NewRefundChecker(mem, mem, nil)
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  mem,
		ledger: feefine.NewLedger(mem, mem, checker),
	}
	require.NoError(t, mem.SavePatron(f.ctx, feefine.Patron{
		ID: patronID, Barcode: "patron-barcode", FirstName: "First", MiddleName: "Middle", LastName: "Last", Group: "undergrad",
	}))
	require.NoError(t, mem.SaveInstance(f.ctx, feefine.Instance{ID: "instance-1", Title: "Instance title"}))
	require.NoError(t, mem.SaveItem(f.ctx, feefine.Item{ID: "item-1", Barcode: "item-barcode", InstanceID: "instance-1"}))
	return f
}

func at(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		panic(err)
	}
	return t
}

func (f *fixture) charge(amount, feeFineType string, itemID feefine.ItemID) feefine.Account {
	f.t.Helper()
	f.n++
	account, err := f.ledger.CreateAccount(f.ctx, feefine.Account{
		ID:          feefine.AccountID(fmt.Sprintf("account-%d", f.n)),
		PatronID:    patronID,
		FeeFineType: feeFineType,
		Amount:      feefine.MustParseMoney(amount),
		CreatedAt:   at("2019-12-20 10:30:00"),
		ItemID:      itemID,
	})
	require.NoError(f.t, err)
	return account
}

type actionSpec struct {
	date    string
	typ     feefine.ActionType
	method  string
	amount  string
	balance string
	staff   string
	patron  string
	txInfo  string
}

func (f *fixture) act(account feefine.Account, s actionSpec) feefine.Action {
	f.t.Helper()
	f.n++
	a, err := f.ledger.Record(f.ctx, feefine.Action{
		ID:              feefine.ActionID(fmt.Sprintf("action-%d", f.n)),
		AccountID:       account.ID,
		Type:            s.typ,
		Method:          s.method,
		Amount:          feefine.MustParseMoney(s.amount),
		Balance:         feefine.MustParseMoney(s.balance),
		StaffInfo:       s.staff,
		PatronInfo:      s.patron,
		TransactionInfo: s.txInfo,
		Date:            at(s.date),
	})
	require.NoError(f.t, err)
	return a
}

func (f *fixture) pay(account feefine.Account, date, method, amount, balance, txInfo string) feefine.Action {
	return f.act(account, actionSpec{date: date, typ: feefine.ActionPaidPartially, method: method,
		amount: amount, balance: balance, staff: "Payment - info for staff", patron: "Payment - info for patron", txInfo: txInfo})
}

func (f *fixture) transfer(account feefine.Account, date, amount, balance string) feefine.Action {
	return f.act(account, actionSpec{date: date, typ: feefine.ActionTransferredPartially, method: transferTarget,
		amount: amount, balance: balance, txInfo: transferTxInfo})
}

func (f *fixture) refund(account feefine.Account, date string, typ feefine.ActionType, amount, balance string) feefine.Action {
	return f.act(account, actionSpec{date: date, typ: typ, method: refundReason,
		amount: amount, balance: balance, staff: "Refund - info for staff", patron: "Refund - info for patron", txInfo: refundTxInfo})
}

func (f *fixture) replay(account feefine.Account) feefine.Replay {
	f.t.Helper()
	r, err := f.ledger.History(f.ctx, account.ID)
	require.NoError(f.t, err)
	return r
}

func refundsOf(r feefine.Replay) []feefine.ReplayedAction {
	var out []feefine.ReplayedAction
	for _, a := range r.Actions {
		if a.Category == feefine.CategoryRefund {
			out = append(out, a)
		}
	}
	return out
}
