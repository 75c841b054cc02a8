/*
scheduler.go - Automated refund report audit

PURPOSE:
  Periodically generates the refund report over a trailing window so that
  ledger integrity faults (refund actions whose account was deleted) are
  noticed before someone asks for the report.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each run covers the calendar days [today - Lookback, today], where
    "today" is the date in the tenant timezone the report itself uses
  - Records the last run for the admin endpoint and logs faults at error

CONFIGURATION:
  - CheckInterval: How often to run (default: 1 hour)
  - Lookback:      Days covered by each run (default: 30)
  - Enabled:       Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewAuditScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - feefine/report.go: RefundReportService
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/warp/feefine-engine/feefine"
	"go.uber.org/zap"
)

// AuditRun is the outcome of one audit.
type AuditRun struct {
	StartedAt time.Time `json:"startedAt"`
	Duration  string    `json:"duration"`
	StartDate string    `json:"startDate"`
	EndDate   string    `json:"endDate"`
	Rows      int       `json:"rows"`
	Status    string    `json:"status"` // "ok", "integrity_fault", "failed"
	AccountID string    `json:"accountId,omitempty"`
	ActionID  string    `json:"actionId,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// AuditStatus is returned by the admin endpoint.
type AuditStatus struct {
	Enabled  bool       `json:"enabled"`
	Interval string     `json:"interval"`
	LastRun  *AuditRun  `json:"lastRun"`
	NextRun  *time.Time `json:"nextRun,omitempty"`
}

// AuditScheduler runs the refund report on a timer.
type AuditScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Lookback      int
	Enabled       bool

	// Now is the clock used to pick the audit window.
	Now func() time.Time

	ticker    *time.Ticker
	startedAt time.Time
	stop      chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex

	lastMu  sync.RWMutex
	lastRun *AuditRun
}

// NewAuditScheduler creates a new scheduler.
func NewAuditScheduler(handler *Handler) *AuditScheduler {
	return &AuditScheduler{
		Handler:       handler,
		CheckInterval: 1 * time.Hour,
		Lookback:      30,
		Enabled:       true,
		Now:           time.Now,
	}
}

// Start begins the scheduler.
func (s *AuditScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := s.Handler.Logger
	if !s.Enabled || s.CheckInterval <= 0 {
		logger.Info("audit scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.startedAt = s.Now()
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	logger.Info("audit scheduler started", zap.Duration("interval", s.CheckInterval), zap.Int("lookback_days", s.Lookback))
}

// Stop stops the scheduler and waits for a running audit to finish.
func (s *AuditScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Handler.Logger.Info("audit scheduler stopped")
	}
}

func (s *AuditScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// nextRun returns the next tick of the running loop.
func (s *AuditScheduler) nextRun() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker == nil {
		return time.Time{}, false
	}
	ticks := s.Now().Sub(s.startedAt)/s.CheckInterval + 1
	return s.startedAt.Add(ticks * s.CheckInterval), true
}

// RunNow performs one audit and records it as the last run.
func (s *AuditScheduler) RunNow(ctx context.Context) AuditRun {
	now := s.Now()
	run := AuditRun{StartedAt: now.UTC(), Status: "ok"}
	logger := s.Handler.Logger

	began := time.Now()
	loc, err := s.Handler.Reports.Location(ctx, "")
	if err == nil {
		today := now.In(loc)
		run.EndDate = today.Format(feefine.RequestDateLayout)
		run.StartDate = today.AddDate(0, 0, -s.Lookback).Format(feefine.RequestDateLayout)

		var entries []feefine.RefundReportEntry
		entries, err = s.Handler.Reports.Generate(ctx, feefine.ReportRequest{
			StartDate: run.StartDate,
			EndDate:   run.EndDate,
			Timezone:  loc.String(),
		})
		run.Rows = len(entries)
	}
	run.Duration = time.Since(began).String()

	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
		var ie *feefine.IntegrityError
		if errors.As(err, &ie) {
			run.Status = "integrity_fault"
			run.AccountID = string(ie.AccountID)
			run.ActionID = string(ie.ActionID)
		}
		logger.Error("refund report audit failed",
			zap.String("status", run.Status),
			zap.String("start_date", run.StartDate),
			zap.String("end_date", run.EndDate),
			zap.Error(err))
	} else {
		logger.Debug("refund report audit passed", zap.Int("rows", run.Rows))
	}

	s.lastMu.Lock()
	s.lastRun = &run
	s.lastMu.Unlock()
	return run
}

// LastRun returns the most recent audit, nil before the first one.
func (s *AuditScheduler) LastRun() *AuditRun {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.lastRun == nil {
		return nil
	}
	run := *s.lastRun
	return &run
}

// Status returns the last run and, while the scheduler is running, when
// the next tick is due.
func (s *AuditScheduler) Status() AuditStatus {
	status := AuditStatus{
		Enabled:  s.Enabled && s.CheckInterval > 0,
		Interval: s.CheckInterval.String(),
		LastRun:  s.LastRun(),
	}
	if next, ok := s.nextRun(); ok {
		next = next.UTC()
		status.NextRun = &next
	}
	return status
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// GetLastAudit returns the scheduler status with the most recent run.
func (s *AuditScheduler) GetLastAudit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Status())
}

// TriggerAudit runs an audit immediately.
func (s *AuditScheduler) TriggerAudit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.RunNow(r.Context()))
}
