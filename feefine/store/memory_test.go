package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/feefine-engine/feefine"
)

func action(id, account string, typ feefine.ActionType, date time.Time) feefine.Action {
	return feefine.Action{
		ID:        feefine.ActionID(id),
		AccountID: feefine.AccountID(account),
		Type:      typ,
		Amount:    feefine.MustParseMoney("1.00"),
		Date:      date,
	}
}

func TestMemory_AppendKeepsOrderAndAssignsSeq(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	day := time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)

	later, err := m.AppendAction(ctx, action("later", "a1", feefine.ActionPaidPartially, day.Add(time.Hour)))
	require.NoError(t, err)
	first, err := m.AppendAction(ctx, action("first", "a1", feefine.ActionPaidPartially, day))
	require.NoError(t, err)
	tie, err := m.AppendAction(ctx, action("tie", "a1", feefine.ActionRefundedPartially, day))
	require.NoError(t, err)

	assert.Less(t, later.Seq, first.Seq)
	assert.Less(t, first.Seq, tie.Seq)

	got, err := m.ListActions(ctx, "a1")
	require.NoError(t, err)
	ids := []feefine.ActionID{got[0].ID, got[1].ID, got[2].ID}
	assert.Equal(t, []feefine.ActionID{"first", "tie", "later"}, ids)

	_, err = m.AppendAction(ctx, action("tie", "a2", feefine.ActionPaidFully, day))
	assert.ErrorIs(t, err, feefine.ErrDuplicateAction)
}

func TestMemory_ListActionsInRange(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	from := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	for _, a := range []feefine.Action{
		action("at-from", "a1", feefine.ActionRefundedPartially, from),
		action("at-to", "a1", feefine.ActionRefundedPartially, to),
		action("payment", "a2", feefine.ActionPaidFully, from.Add(time.Hour)),
		action("refund-a2", "a2", feefine.ActionRefundedFully, from.Add(2*time.Hour)),
	} {
		_, err := m.AppendAction(ctx, a)
		require.NoError(t, err)
	}

	got, err := m.ListActionsInRange(ctx, from, to, feefine.RefundActionTypes()...)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, feefine.ActionID("at-from"), got[0].ID)
	assert.Equal(t, feefine.ActionID("refund-a2"), got[1].ID)

	all, err := m.ListActionsInRange(ctx, from, to)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemory_AccountTombstone(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	account := feefine.Account{ID: "a1", PatronID: "p1", Amount: feefine.MustParseMoney("5.00")}
	require.NoError(t, m.SaveAccount(ctx, account))

	got, err := m.GetAccount(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, got)

	require.NoError(t, m.DeleteAccount(ctx, "a1"))
	got, err = m.GetAccount(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, m.SaveAccount(ctx, account))
	got, err = m.GetAccount(ctx, "a1")
	require.NoError(t, err)
	assert.NotNil(t, got, "saving again revives the account")
}

func TestMemory_Directories(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	p, err := m.GetPatron(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, m.SavePatron(ctx, feefine.Patron{ID: "p1", LastName: "Doe"}))
	require.NoError(t, m.SaveItem(ctx, feefine.Item{ID: "i1", Barcode: "b1", InstanceID: "in1"}))
	require.NoError(t, m.SaveInstance(ctx, feefine.Instance{ID: "in1", Title: "Title"}))
	require.NoError(t, m.SetTenantTimezone(ctx, "Europe/Paris"))

	p, err = m.GetPatron(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Doe", p.LastName)
	item, err := m.GetItem(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, "b1", item.Barcode)
	instance, err := m.GetInstance(ctx, "in1")
	require.NoError(t, err)
	assert.Equal(t, "Title", instance.Title)
	tz, err := m.TenantTimezone(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", tz)
}
