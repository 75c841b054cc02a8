package feefine_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/feefine-engine/feefine"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const tenantTimezone = "America/New_York"

func (f *fixture) reports(mode feefine.AttributionMode) *feefine.RefundReportService {
	f.t.Helper()
	require.NoError(f.t, f.store.SetTenantTimezone(f.ctx, tenantTimezone))
	return feefine.NewRefundReportService(f.store, feefine.ReportConfig{Mode: mode, Workers: 2}, nil)
}

func (f *fixture) generate(svc *feefine.RefundReportService, start, end string) []feefine.RefundReportEntry {
	f.t.Helper()
	entries, err := svc.Generate(f.ctx, feefine.ReportRequest{StartDate: start, EndDate: end})
	require.NoError(f.t, err)
	return entries
}

// =============================================================================
// ROW CONTENT
// =============================================================================

func TestRefundReport_PartialRefundOfPayment(t *testing.T) {
	// GIVEN: charged 10.00 for item-1, paid 3.00, refunded 2.00
	f := newFixture(t)
	account := f.charge("10.00", "ff-type", "item-1")
	f.pay(account, "2020-01-02 12:00:00", paymentMethod, "3.00", "7.00", paymentTxInfo)
	f.refund(account, "2020-01-03 12:00:00", feefine.ActionRefundedPartially, "2.00", "7.00")

	// WHEN
	entries := f.generate(f.reports(feefine.AttributionFIFO), "2020-01-01", "2020-01-15")

	// THEN
	require.Len(t, entries, 1)
	assert.Equal(t, feefine.RefundReportEntry{
		PatronName:        "Last, First Middle",
		PatronBarcode:     "patron-barcode",
		PatronID:          patronID,
		PatronGroup:       "undergrad",
		FeeFineType:       "ff-type",
		BilledAmount:      "10.00",
		DateBilled:        "12/20/2019 5:30 am",
		PaidAmount:        "2.00",
		PaymentMethod:     paymentMethod,
		TransactionInfo:   paymentTxInfo,
		TransferredAmount: "0.00",
		FeeFineID:         string(account.ID),
		RefundDate:        "1/3/2020 7:00 am",
		RefundAmount:      "2.00",
		RefundAction:      string(feefine.ActionRefundedPartially),
		RefundReason:      refundReason,
		StaffInfo:         "Refund - info for staff",
		PatronInfo:        "Refund - info for patron",
		ItemBarcode:       "item-barcode",
		Instance:          "Instance title",
	}, entries[0])
}

func TestRefundReport_PaymentThenTransfer(t *testing.T) {
	f := newFixture(t)
	account := f.charge("10.00", "ff-type", "")
	f.pay(account, "2020-01-01 12:00:00", paymentMethod, "3.00", "7.00", paymentTxInfo)
	f.transfer(account, "2020-01-02 12:00:00", "1.50", "5.50")
	f.refund(account, "2020-01-03 12:00:00", feefine.ActionRefundedPartially, "4.00", "5.50")

	entries := f.generate(f.reports(feefine.AttributionFIFO), "2020-01-01", "2020-01-15")

	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "3.00", e.PaidAmount)
	assert.Equal(t, paymentMethod, e.PaymentMethod)
	assert.Equal(t, "1.00", e.TransferredAmount)
	assert.Equal(t, transferTarget, e.TransferAccount)
	assert.Equal(t, "", e.ItemBarcode)
	assert.Equal(t, "", e.Instance)
}

func TestRefundReport_MultipleMethodsAndRefunds(t *testing.T) {
	// GIVEN: two payments by different methods, refunded in two steps
	f := newFixture(t)
	account := f.charge("10.00", "ff-type", "item-1")
	f.pay(account, "2020-01-01 12:00:00", "cash", "3.10", "6.90", "")
	f.pay(account, "2020-01-02 12:00:00", "card", "2.10", "4.80", "")
	f.refund(account, "2020-01-03 12:00:00", feefine.ActionRefundedPartially, "1.00", "4.80")
	f.refund(account, "2020-01-04 12:00:00", feefine.ActionRefundedPartially, "3.00", "4.80")

	entries := f.generate(f.reports(feefine.AttributionFIFO), "2020-01-01", "2020-01-15")

	// THEN: the second refund spans both payments
	require.Len(t, entries, 2)
	assert.Equal(t, "1.00", entries[0].PaidAmount)
	assert.Equal(t, "cash", entries[0].PaymentMethod)
	assert.Equal(t, "3.00", entries[1].PaidAmount)
	assert.Equal(t, feefine.MultipleValuesLabel, entries[1].PaymentMethod)
	assert.Equal(t, "", entries[1].TransactionInfo)
}

func TestRefundReport_CumulativeMode(t *testing.T) {
	f := newFixture(t)
	account := f.charge("10.00", "ff-type", "item-1")
	f.pay(account, "2020-01-01 12:00:00", paymentMethod, "3.10", "6.90", paymentTxInfo)
	f.pay(account, "2020-01-02 12:00:00", paymentMethod, "3.20", "3.70", paymentTxInfo)
	f.refund(account, "2020-01-03 12:00:00", feefine.ActionRefundedPartially, "1.00", "3.70")

	entries := f.generate(f.reports(feefine.AttributionCumulative), "2020-01-01", "2020-01-15")

	require.Len(t, entries, 1)
	assert.Equal(t, "6.30", entries[0].PaidAmount)
	assert.Equal(t, "1.00", entries[0].RefundAmount)
}

func TestRefundReport_MissingMetadataRendersBlank(t *testing.T) {
	f := newFixture(t)
	account, err := f.ledger.CreateAccount(f.ctx, feefine.Account{
		ID: "orphan", PatronID: "ghost", FeeFineType: "ff-type",
		Amount: feefine.MustParseMoney("5.00"), CreatedAt: at("2019-12-20 10:30:00"), ItemID: "missing-item",
	})
	require.NoError(t, err)
	f.pay(account, "2020-01-01 12:00:00", paymentMethod, "5.00", "0.00", "")
	f.refund(account, "2020-01-02 12:00:00", feefine.ActionRefundedFully, "5.00", "0.00")

	entries := f.generate(f.reports(feefine.AttributionFIFO), "2020-01-01", "2020-01-15")

	require.Len(t, entries, 1)
	assert.Equal(t, "", entries[0].PatronName)
	assert.Equal(t, "", entries[0].PatronBarcode)
	assert.Equal(t, "", entries[0].ItemBarcode)
	assert.Equal(t, "", entries[0].Instance)
	assert.Equal(t, "5.00", entries[0].PaidAmount)
}

// =============================================================================
// RANGE, ORDER, TIMEZONE
// =============================================================================

func TestRefundReport_DateRangeIsInclusiveInTenantTimezone(t *testing.T) {
	// GIVEN: 2020-01-16 03:00 UTC is still 2020-01-15 in New York,
	// 2020-01-16 06:00 UTC is not
	f := newFixture(t)
	account := f.charge("10.00", "ff-type", "")
	f.pay(account, "2020-01-01 12:00:00", paymentMethod, "10.00", "0.00", "")
	inside := f.refund(account, "2020-01-16 03:00:00", feefine.ActionRefundedPartially, "1.00", "0.00")
	f.refund(account, "2020-01-16 06:00:00", feefine.ActionRefundedPartially, "1.00", "0.00")

	entries := f.generate(f.reports(feefine.AttributionFIFO), "2020-01-01", "2020-01-15")

	require.Len(t, entries, 1)
	assert.Equal(t, "1/15/2020 10:00 pm", entries[0].RefundDate)
	assert.Equal(t, inside.Amount.String(), entries[0].RefundAmount)
}

func TestRefundReport_RefundAfterEndDateIsEmpty(t *testing.T) {
	f := newFixture(t)
	account := f.charge("10.00", "ff-type", "")
	f.pay(account, "2020-01-01 12:00:00", paymentMethod, "3.00", "7.00", "")
	f.refund(account, "2020-02-01 12:00:00", feefine.ActionRefundedPartially, "2.00", "7.00")

	entries := f.generate(f.reports(feefine.AttributionFIFO), "2020-01-01", "2020-01-15")

	assert.Empty(t, entries)
}

func TestRefundReport_OrderedAcrossAccounts(t *testing.T) {
	f := newFixture(t)
	first := f.charge("10.00", "first", "")
	second := f.charge("10.00", "second", "")
	f.pay(first, "2020-01-01 12:00:00", paymentMethod, "5.00", "5.00", "")
	f.pay(second, "2020-01-01 12:00:00", paymentMethod, "5.00", "5.00", "")
	f.refund(first, "2020-01-05 12:00:00", feefine.ActionRefundedPartially, "1.00", "5.00")
	f.refund(second, "2020-01-04 12:00:00", feefine.ActionRefundedPartially, "1.00", "5.00")
	f.refund(first, "2020-01-03 12:00:00", feefine.ActionRefundedPartially, "1.00", "5.00")
	f.refund(second, "2020-01-03 12:00:00", feefine.ActionRefundedPartially, "1.00", "5.00")

	entries := f.generate(f.reports(feefine.AttributionFIFO), "2020-01-01", "2020-01-15")

	var got []string
	for _, e := range entries {
		got = append(got, e.FeeFineType+" "+e.RefundDate)
	}
	assert.Equal(t, []string{
		"first 1/3/2020 7:00 am",
		"second 1/3/2020 7:00 am",
		"second 1/4/2020 7:00 am",
		"first 1/5/2020 7:00 am",
	}, got)
}

func TestRefundReport_Idempotent(t *testing.T) {
	f := newFixture(t)
	account := f.charge("10.00", "ff-type", "item-1")
	f.pay(account, "2020-01-01 12:00:00", paymentMethod, "3.00", "7.00", paymentTxInfo)
	f.transfer(account, "2020-01-02 12:00:00", "1.50", "5.50")
	f.refund(account, "2020-01-03 12:00:00", feefine.ActionRefundedPartially, "4.00", "5.50")
	svc := f.reports(feefine.AttributionFIFO)

	assert.Equal(t, f.generate(svc, "2020-01-01", "2020-01-15"), f.generate(svc, "2020-01-01", "2020-01-15"))
}

func TestRefundReport_TimezoneOverride(t *testing.T) {
	f := newFixture(t)
	account := f.charge("10.00", "ff-type", "")
	f.pay(account, "2020-01-01 12:00:00", paymentMethod, "3.00", "7.00", "")
	f.refund(account, "2020-01-03 12:00:00", feefine.ActionRefundedPartially, "2.00", "7.00")
	svc := f.reports(feefine.AttributionFIFO)

	entries, err := svc.Generate(f.ctx, feefine.ReportRequest{StartDate: "2020-01-01", EndDate: "2020-01-15", Timezone: "UTC"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1/3/2020 12:00 pm", entries[0].RefundDate)

	_, err = svc.Generate(f.ctx, feefine.ReportRequest{StartDate: "2020-01-01", EndDate: "2020-01-15", Timezone: "Mars/Olympus"})
	assert.ErrorIs(t, err, feefine.ErrInvalidTimezone)
}

func TestRefundReport_DefaultTimezoneFallsBackToUTC(t *testing.T) {
	f := newFixture(t)
	account := f.charge("10.00", "ff-type", "")
	f.pay(account, "2020-01-01 12:00:00", paymentMethod, "3.00", "7.00", "")
	f.refund(account, "2020-01-03 12:00:00", feefine.ActionRefundedPartially, "2.00", "7.00")

	svc := feefine.NewRefundReportService(f.store, feefine.ReportConfig{DefaultTimezone: "Not/AZone"}, nil)
	entries := f.generate(svc, "2020-01-01", "2020-01-15")

	require.Len(t, entries, 1)
	assert.Equal(t, "1/3/2020 12:00 pm", entries[0].RefundDate)
}

func TestRefundReport_Location(t *testing.T) {
	f := newFixture(t)
	svc := feefine.NewRefundReportService(f.store, feefine.ReportConfig{DefaultTimezone: "Europe/Paris"}, nil)

	loc, err := svc.Location(f.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", loc.String(), "default without a tenant setting")

	require.NoError(t, f.store.SetTenantTimezone(f.ctx, tenantTimezone))
	loc, err = svc.Location(f.ctx, " ")
	require.NoError(t, err)
	assert.Equal(t, tenantTimezone, loc.String())

	loc, err = svc.Location(f.ctx, "UTC")
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())

	_, err = svc.Location(f.ctx, "Mars/Olympus")
	assert.True(t, feefine.IsValidation(err))
}

// =============================================================================
// FAILURES
// =============================================================================

func TestRefundReport_DeletedAccountFailsWholeReport(t *testing.T) {
	f := newFixture(t)
	kept := f.charge("10.00", "ff-type", "")
	gone := f.charge("10.00", "ff-type", "")
	f.pay(kept, "2020-01-01 12:00:00", paymentMethod, "3.00", "7.00", "")
	f.pay(gone, "2020-01-01 12:00:00", paymentMethod, "3.00", "7.00", "")
	f.refund(kept, "2020-01-03 12:00:00", feefine.ActionRefundedPartially, "1.00", "7.00")
	f.refund(gone, "2020-01-03 12:00:00", feefine.ActionRefundedPartially, "1.00", "7.00")
	require.NoError(t, f.ledger.DeleteAccount(f.ctx, gone.ID))

	entries, err := f.reports(feefine.AttributionFIFO).Generate(f.ctx,
		feefine.ReportRequest{StartDate: "2020-01-01", EndDate: "2020-01-15"})

	require.Error(t, err)
	assert.Nil(t, entries)
	assert.True(t, feefine.IsIntegrityFault(err))
	var ie *feefine.IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, gone.ID, ie.AccountID)
}

func TestRefundReport_IntegrityFaultIsLogged(t *testing.T) {
	f := newFixture(t)
	account := f.charge("10.00", "ff-type", "")
	f.pay(account, "2020-01-01 12:00:00", paymentMethod, "3.00", "7.00", "")
	refund := f.refund(account, "2020-01-03 12:00:00", feefine.ActionRefundedPartially, "1.00", "7.00")
	require.NoError(t, f.ledger.DeleteAccount(f.ctx, account.ID))
	core, logs := observer.New(zapcore.ErrorLevel)
	svc := feefine.NewRefundReportService(f.store, feefine.ReportConfig{}, zap.New(core))

	_, err := svc.Generate(f.ctx, feefine.ReportRequest{StartDate: "2020-01-01", EndDate: "2020-01-15"})

	require.Error(t, err)
	aborted := logs.FilterMessage("refund report aborted").All()
	require.Len(t, aborted, 1)
	assert.Contains(t, aborted[0].ContextMap()["error"], string(refund.ID))
}

func TestRefundReport_InvalidDatesRejectedBeforeDataAccess(t *testing.T) {
	broken := &brokenStore{}
	svc := feefine.NewRefundReportService(broken, feefine.ReportConfig{}, nil)

	cases := []struct {
		start, end string
		want       error
	}{
		{"", "2020-01-15", feefine.ErrMissingDate},
		{"2020-01-01", "", feefine.ErrMissingDate},
		{"01/01/2020", "2020-01-15", feefine.ErrInvalidDate},
		{"2020-01-01", "2020-13-45", feefine.ErrInvalidDate},
		{"2020-01-15", "2020-01-01", feefine.ErrInvalidDateRange},
	}
	for _, tc := range cases {
		_, err := svc.Generate(context.Background(), feefine.ReportRequest{StartDate: tc.start, EndDate: tc.end})
		assert.ErrorIs(t, err, tc.want, tc.start+"..."+tc.end)
		assert.True(t, feefine.IsValidation(err))
	}
	assert.Zero(t, broken.calls)
}

func TestFormatPatronName(t *testing.T) {
	assert.Equal(t, "Last, First Middle", feefine.FormatPatronName(feefine.Patron{FirstName: "First", MiddleName: "Middle", LastName: "Last"}))
	assert.Equal(t, "Last, First", feefine.FormatPatronName(feefine.Patron{FirstName: "First", LastName: "Last"}))
	assert.Equal(t, "Last", feefine.FormatPatronName(feefine.Patron{LastName: "Last"}))
	assert.Equal(t, "First", feefine.FormatPatronName(feefine.Patron{FirstName: "First"}))
}

// =============================================================================
// CSV EXPORT
// =============================================================================

func TestWriteRefundReportCSV(t *testing.T) {
	f := newFixture(t)
	account := f.charge("10.00", "ff-type", "item-1")
	f.pay(account, "2020-01-01 12:00:00", "cash", "3.10", "6.90", "")
	f.pay(account, "2020-01-02 12:00:00", "card", "2.10", "4.80", "")
	f.refund(account, "2020-01-03 12:00:00", feefine.ActionRefundedFully, "5.20", "4.80")
	entries := f.generate(f.reports(feefine.AttributionFIFO), "2020-01-01", "2020-01-15")

	var buf bytes.Buffer
	require.NoError(t, feefine.WriteRefundReportCSV(&buf, entries))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, feefine.RefundReportCSVHeader, records[0])
	assert.Len(t, records[1], len(feefine.RefundReportCSVHeader))
	assert.Equal(t, "Last, First Middle", records[1][0])
	assert.Equal(t, "5.20", records[1][7])
	assert.Equal(t, feefine.MultipleValuesLabel, records[1][8])
	assert.Equal(t, "1/3/2020 7:00 am", records[1][13])
}

func TestWriteRefundReportCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, feefine.WriteRefundReportCSV(&buf, nil))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
