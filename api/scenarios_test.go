package api

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/feefine-engine/feefine"
)

// =============================================================================
// SCENARIO LOADING
// =============================================================================

func TestScenarios_AllLoad(t *testing.T) {
	s := newTestServer(t)

	listed := decode[[]ScenarioDTO](t, s.do(http.MethodGet, "/api/scenarios/", nil))
	require.Len(t, listed, len(scenarios))

	for _, sc := range listed {
		s.loadScenario(sc.ID)

		current := decode[ScenarioDTO](t, s.do(http.MethodGet, "/api/scenarios/current", nil))
		assert.Equal(t, sc.ID, current.ID)

		tz, err := s.handler.Store.TenantTimezone(context.Background())
		require.NoError(t, err)
		assert.Equal(t, DemoTimezone, tz, sc.ID)
	}
}

func TestScenarios_ReloadReplacesData(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario("multiple-accounts")
	s.loadScenario("partial-refund")

	rows := decode[RefundReportResponse](t, s.do(http.MethodGet, januaryReport, nil)).ReportData
	require.Len(t, rows, 1)
	assert.Equal(t, "2.00", rows[0].RefundAmount)

	account, err := s.handler.Store.GetAccount(context.Background(), "account-002")
	require.NoError(t, err)
	assert.Nil(t, account)
}

func TestScenarios_UnknownScenario(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "nope"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenarios_ResetClearsCurrent(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario("partial-refund")

	rec := s.do(http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/scenarios/current", nil)
	assert.JSONEq(t, "null", rec.Body.String())
	rows := decode[RefundReportResponse](t, s.do(http.MethodGet, januaryReport, nil)).ReportData
	assert.Empty(t, rows)
}

// =============================================================================
// SCENARIO REPORTS
// =============================================================================

func TestScenarios_PartialRefundRow(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario("partial-refund")

	rows := decode[RefundReportResponse](t, s.do(http.MethodGet, januaryReport, nil)).ReportData

	require.Len(t, rows, 1)
	assert.Equal(t, "2.00", rows[0].PaidAmount)
	assert.Equal(t, "Cash", rows[0].PaymentMethod)
	assert.Equal(t, "0.00", rows[0].TransferredAmount)
	assert.Equal(t, "Refunded partially", rows[0].RefundAction)
	assert.Equal(t, "Overcharged", rows[0].RefundReason)
}

func TestScenarios_MultipleMethodsUsesSentinel(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario("multiple-methods")

	rows := decode[RefundReportResponse](t, s.do(http.MethodGet, januaryReport, nil)).ReportData

	require.Len(t, rows, 1)
	assert.Equal(t, "5.20", rows[0].PaidAmount)
	assert.Equal(t, feefine.MultipleValuesLabel, rows[0].PaymentMethod)
	assert.Equal(t, feefine.MultipleValuesLabel, rows[0].TransactionInfo)
}

func TestScenarios_DeletedAccountIsIntegrityFault(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario("deleted-account")

	_, err := s.handler.Reports.Generate(context.Background(), feefine.ReportRequest{
		StartDate: "2020-01-01",
		EndDate:   "2020-01-31",
	})

	var ie *feefine.IntegrityError
	require.True(t, errors.As(err, &ie), "got %v", err)
	assert.Equal(t, feefine.AccountID("account-001"), ie.AccountID)
}

// =============================================================================
// AUDIT SCHEDULER
// =============================================================================

func newAuditServer(t *testing.T) *testServer {
	s := newTestServer(t)
	audit := NewAuditScheduler(s.handler)
	audit.Now = func() time.Time { return time.Date(2020, time.January, 20, 12, 0, 0, 0, time.UTC) }
	s.handler.Audit = audit
	s.router = NewRouter(s.handler)
	return s
}

func TestAudit_PassesOnHealthyLedger(t *testing.T) {
	s := newAuditServer(t)
	s.loadScenario("multiple-accounts")

	rec := s.do(http.MethodGet, "/api/admin/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[AuditStatus](t, rec)
	assert.True(t, status.Enabled)
	assert.Equal(t, "1h0m0s", status.Interval)
	assert.Nil(t, status.LastRun)
	assert.Nil(t, status.NextRun, "not started")

	rec = s.do(http.MethodPost, "/api/admin/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[AuditRun](t, rec)
	assert.Equal(t, "ok", run.Status)
	assert.Equal(t, 3, run.Rows)
	assert.Equal(t, "2019-12-21", run.StartDate)
	assert.Equal(t, "2020-01-20", run.EndDate)

	status = decode[AuditStatus](t, s.do(http.MethodGet, "/api/admin/audit", nil))
	require.NotNil(t, status.LastRun)
	assert.Equal(t, run.Rows, status.LastRun.Rows)
}

func TestAudit_WindowFollowsTenantCalendar(t *testing.T) {
	// GIVEN: 03:00 UTC on Jan 21 is still Jan 20 in New York
	s := newAuditServer(t)
	s.loadScenario("multiple-accounts")
	s.handler.Audit.Now = func() time.Time { return time.Date(2020, time.January, 21, 3, 0, 0, 0, time.UTC) }
	s.handler.Audit.Lookback = 12

	// WHEN
	run := s.handler.Audit.RunNow(context.Background())

	// THEN: the window ends on the tenant's date, and the day-8 refund
	// (Jan 8 12:00 in New York) is its first day
	assert.Equal(t, "2020-01-20", run.EndDate)
	assert.Equal(t, "2020-01-08", run.StartDate)
	assert.Equal(t, 3, run.Rows)

	require.NoError(t, s.handler.Store.SetTenantTimezone(context.Background(), "Asia/Tokyo"))
	run = s.handler.Audit.RunNow(context.Background())
	assert.Equal(t, "2020-01-21", run.EndDate)
}

func TestAudit_ReportsIntegrityFault(t *testing.T) {
	s := newAuditServer(t)
	s.loadScenario("deleted-account")

	run := s.handler.Audit.RunNow(context.Background())

	assert.Equal(t, "integrity_fault", run.Status)
	assert.Equal(t, "account-001", run.AccountID)
	assert.NotEmpty(t, run.ActionID)
	assert.Equal(t, run, *s.handler.Audit.LastRun())
}

func TestAudit_StartStopWhenDisabled(t *testing.T) {
	s := newAuditServer(t)
	s.handler.Audit.Enabled = false

	s.handler.Audit.Start()
	s.handler.Audit.Stop()

	assert.Nil(t, s.handler.Audit.LastRun())
	assert.False(t, s.handler.Audit.Status().Enabled)
}

func TestAudit_StatusReportsNextTick(t *testing.T) {
	s := newAuditServer(t)
	audit := s.handler.Audit

	audit.Start()
	require.Eventually(t, func() bool { return audit.LastRun() != nil }, time.Second, 5*time.Millisecond)

	status := audit.Status()
	require.NotNil(t, status.NextRun)
	assert.Equal(t, time.Date(2020, time.January, 20, 13, 0, 0, 0, time.UTC), *status.NextRun)

	audit.Stop()
	assert.Nil(t, audit.Status().NextRun)
}

func TestAudit_RestartsAfterStop(t *testing.T) {
	// GIVEN: a fast ticker and a clock that counts how often it is read
	s := newAuditServer(t)
	audit := s.handler.Audit
	var reads atomic.Int32
	audit.Now = func() time.Time {
		reads.Add(1)
		return time.Date(2020, time.January, 20, 12, 0, 0, 0, time.UTC)
	}
	audit.CheckInterval = 5 * time.Millisecond

	audit.Start()
	require.Eventually(t, func() bool { return reads.Load() >= 4 }, time.Second, time.Millisecond)
	audit.Stop()

	// WHEN
	reads.Store(0)
	audit.Start()
	defer audit.Stop()

	// THEN: the loop keeps ticking after a restart
	assert.Eventually(t, func() bool { return reads.Load() >= 4 }, time.Second, time.Millisecond)
}

func TestAudit_RoutesAbsentWithoutScheduler(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/admin/audit", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
