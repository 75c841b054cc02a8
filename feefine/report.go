/*
report.go - Refund report (Report Row Builder)

PURPOSE:
  Builds one RefundReportEntry per refund action recorded within a
  calendar-day range, merging account, patron, item/instance and refund
  attribution data.

FLOW:
  1. Validate the request (dates, timezone). Nothing is read before this.
  2. Resolve the timezone: request → tenant setting → configured default → UTC
  3. Select refund actions with start 00:00 <= date < (end+1) 00:00 in that
     timezone
  4. Per account, concurrently: load the account, replay its full history,
     attribute its refunds, resolve patron and item/instance
  5. Merge all rows in ascending (date, sequence) order across accounts

FAILURE POLICY:
  - Missing patron/item/instance → fields render "" (never fails the report)
  - Missing account → IntegrityError, the whole report fails

CONCURRENCY:
  Accounts are independent: each goroutine owns its replay and attribution
  state. The first error cancels the rest (errgroup).
*/
package feefine

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// ReportDateLayout renders report dates, e.g. "1/3/2020 12:00 pm".
	ReportDateLayout = "1/2/2006 3:04 pm"

	// RequestDateLayout is the accepted startDate/endDate format.
	RequestDateLayout = "2006-01-02"

	defaultReportWorkers = 8
)

// RefundReportEntry is one report row. Every field is pre-rendered text.
type RefundReportEntry struct {
	PatronName           string `json:"patronName"`
	PatronBarcode        string `json:"patronBarcode"`
	PatronID             string `json:"patronId"`
	PatronGroup          string `json:"patronGroup"`
	FeeFineType          string `json:"feeFineType"`
	BilledAmount         string `json:"billedAmount"`
	DateBilled           string `json:"dateBilled"`
	PaidAmount           string `json:"paidAmount"`
	PaymentMethod        string `json:"paymentMethod"`
	TransactionInfo      string `json:"transactionInfo"`
	TransferredAmount    string `json:"transferredAmount"`
	TransferAccount      string `json:"transferAccount"`
	FeeFineID            string `json:"feeFineId"`
	RefundDate           string `json:"refundDate"`
	RefundAmount         string `json:"refundAmount"`
	RefundAction         string `json:"refundAction"`
	RefundReason         string `json:"refundReason"`
	StaffInfo            string `json:"staffInfo"`
	PatronInfo           string `json:"patronInfo"`
	ItemBarcode          string `json:"itemBarcode"`
	Instance             string `json:"instance"`
	ActionCompletionDate string `json:"actionCompletionDate"`
	StaffMemberName      string `json:"staffMemberName"`
	ActionTaken          string `json:"actionTaken"`
}

// =============================================================================
// REQUEST VALIDATION
// =============================================================================

// ReportRequest holds raw report parameters.
type ReportRequest struct {
	StartDate string
	EndDate   string
	Timezone  string // optional IANA id overriding the tenant setting
}

// DateRange is an inclusive calendar-day range.
type DateRange struct {
	Start time.Time // civil dates, stored at 00:00 UTC
	End   time.Time
}

// ParseDateRange validates and parses YYYY-MM-DD dates.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := parseRequestDate("startDate", start)
	if err != nil {
		return DateRange{}, err
	}
	e, err := parseRequestDate("endDate", end)
	if err != nil {
		return DateRange{}, err
	}
	if e.Before(s) {
		return DateRange{}, &ValidationError{Field: "endDate", Value: end, Err: ErrInvalidDateRange}
	}
	return DateRange{Start: s, End: e}, nil
}

func parseRequestDate(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, &ValidationError{Field: field, Err: ErrMissingDate}
	}
	t, err := time.Parse(RequestDateLayout, raw)
	if err != nil {
		return time.Time{}, &ValidationError{Field: field, Value: raw, Err: ErrInvalidDate}
	}
	return t, nil
}

// Bounds returns the half-open instant range [start 00:00, end+1 00:00) in loc.
func (r DateRange) Bounds(loc *time.Location) (from, to time.Time) {
	from = time.Date(r.Start.Year(), r.Start.Month(), r.Start.Day(), 0, 0, 0, 0, loc)
	to = time.Date(r.End.Year(), r.End.Month(), r.End.Day()+1, 0, 0, 0, 0, loc)
	return from, to
}

// =============================================================================
// REPORT SERVICE
// =============================================================================

// ReportConfig tunes report generation.
type ReportConfig struct {
	Mode            AttributionMode
	Workers         int    // per-account concurrency, defaults to 8
	DefaultTimezone string // used when the tenant has no timezone setting
}

// RefundReportService generates refund reports.
type RefundReportService struct {
	store  Store
	config ReportConfig
	logger *zap.Logger
}

// NewRefundReportService creates a report service. A nil logger disables
// logging.
func NewRefundReportService(store Store, config ReportConfig, logger *zap.Logger) *RefundReportService {
	if config.Workers <= 0 {
		config.Workers = defaultReportWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefundReportService{store: store, config: config, logger: logger}
}

// Generate builds the refund report for the request.
func (s *RefundReportService) Generate(ctx context.Context, req ReportRequest) ([]RefundReportEntry, error) {
	dates, err := ParseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	loc, err := s.Location(ctx, req.Timezone)
	if err != nil {
		return nil, err
	}

	from, to := dates.Bounds(loc)
	refunds, err := s.store.ListActionsInRange(ctx, from, to, RefundActionTypes()...)
	if err != nil {
		return nil, fmt.Errorf("failed to list refund actions: %w", err)
	}

	entries, err := s.buildRows(ctx, refunds, loc)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("refund report generated",
		zap.String("start_date", req.StartDate),
		zap.String("end_date", req.EndDate),
		zap.String("timezone", loc.String()),
		zap.Int("rows", len(entries)))
	return entries, nil
}

// Location resolves the report timezone: the override when given, the
// tenant timezone otherwise. An invalid override is a ValidationError.
func (s *RefundReportService) Location(ctx context.Context, override string) (*time.Location, error) {
	tz := strings.TrimSpace(override)
	if tz == "" {
		return s.tenantLocation(ctx)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, &ValidationError{Field: "timezone", Value: tz, Err: ErrInvalidTimezone}
	}
	return loc, nil
}

// tenantLocation resolves the tenant timezone: stored setting, then the
// configured default, then UTC. Bad ids are logged and skipped.
func (s *RefundReportService) tenantLocation(ctx context.Context) (*time.Location, error) {
	tz, err := s.store.TenantTimezone(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenant timezone: %w", err)
	}
	for _, candidate := range []string{tz, s.config.DefaultTimezone} {
		if candidate == "" {
			continue
		}
		loc, err := time.LoadLocation(candidate)
		if err == nil {
			return loc, nil
		}
		s.logger.Warn("ignoring invalid timezone", zap.String("timezone", candidate), zap.Error(err))
	}
	return time.UTC, nil
}

type reportRow struct {
	action Action
	entry  RefundReportEntry
}

func (s *RefundReportService) buildRows(ctx context.Context, refunds []Action, loc *time.Location) ([]RefundReportEntry, error) {
	var order []AccountID
	byAccount := make(map[AccountID][]Action)
	for _, r := range refunds {
		if _, ok := byAccount[r.AccountID]; !ok {
			order = append(order, r.AccountID)
		}
		byAccount[r.AccountID] = append(byAccount[r.AccountID], r)
	}

	results := make([][]reportRow, len(order))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)
	for i, accountID := range order {
		g.Go(func() error {
			rows, err := s.accountRows(gctx, accountID, byAccount[accountID], loc)
			if err != nil {
				return err
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if IsIntegrityFault(err) {
			s.logger.Error("refund report aborted", zap.Error(err))
		}
		return nil, err
	}

	var rows []reportRow
	for _, r := range results {
		rows = append(rows, r...)
	}
	slices.SortStableFunc(rows, func(a, b reportRow) int { return CompareActions(a.action, b.action) })

	entries := make([]RefundReportEntry, len(rows))
	for i, r := range rows {
		entries[i] = r.entry
	}
	return entries, nil
}

// accountRows builds the rows of one account's selected refunds.
func (s *RefundReportService) accountRows(ctx context.Context, id AccountID, selected []Action, loc *time.Location) ([]reportRow, error) {
	account, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", id, err)
	}
	if account == nil {
		return nil, &IntegrityError{AccountID: id, ActionID: selected[0].ID}
	}

	history, err := s.store.ListActions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load actions of account %s: %w", id, err)
	}
	attributions := AttributeRefunds(ReplayActions(id, history), s.config.Mode)

	patron, err := s.store.GetPatron(ctx, account.PatronID)
	if err != nil {
		return nil, fmt.Errorf("failed to load patron %s: %w", account.PatronID, err)
	}
	itemBarcode, instanceTitle, err := s.itemLabels(ctx, account.ItemID)
	if err != nil {
		return nil, err
	}

	rows := make([]reportRow, 0, len(selected))
	for _, refund := range selected {
		att, ok := attributions[refund.ID]
		if !ok {
			att = Attribution{RefundActionID: refund.ID}
		}
		entry := RefundReportEntry{
			FeeFineType:       account.FeeFineType,
			BilledAmount:      account.Amount.String(),
			DateBilled:        formatReportDate(account.CreatedAt, loc),
			PaidAmount:        att.PaidAmount.String(),
			PaymentMethod:     att.PaymentMethod,
			TransactionInfo:   att.TransactionInfo,
			TransferredAmount: att.TransferredAmount.String(),
			TransferAccount:   att.TransferAccount,
			FeeFineID:         string(account.ID),
			RefundDate:        formatReportDate(refund.Date, loc),
			RefundAmount:      refund.Amount.String(),
			RefundAction:      string(refund.Type),
			RefundReason:      refund.Method,
			StaffInfo:         refund.StaffInfo,
			PatronInfo:        refund.PatronInfo,
			ItemBarcode:       itemBarcode,
			Instance:          instanceTitle,
		}
		if patron != nil {
			entry.PatronName = FormatPatronName(*patron)
			entry.PatronBarcode = patron.Barcode
			entry.PatronID = string(patron.ID)
			entry.PatronGroup = patron.Group
		}
		rows = append(rows, reportRow{action: refund, entry: entry})
	}
	return rows, nil
}

// itemLabels returns the item barcode and instance title for an item id.
// Missing ids or records render as "".
func (s *RefundReportService) itemLabels(ctx context.Context, id ItemID) (string, string, error) {
	if id == "" {
		return "", "", nil
	}
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return "", "", fmt.Errorf("failed to load item %s: %w", id, err)
	}
	if item == nil {
		return "", "", nil
	}
	if item.InstanceID == "" {
		return item.Barcode, "", nil
	}
	instance, err := s.store.GetInstance(ctx, item.InstanceID)
	if err != nil {
		return "", "", fmt.Errorf("failed to load instance %s: %w", item.InstanceID, err)
	}
	if instance == nil {
		return item.Barcode, "", nil
	}
	return item.Barcode, instance.Title, nil
}

// FormatPatronName renders "Last, First Middle", skipping empty parts.
func FormatPatronName(p Patron) string {
	given := strings.TrimSpace(strings.Join([]string{p.FirstName, p.MiddleName}, " "))
	switch {
	case p.LastName == "":
		return given
	case given == "":
		return p.LastName
	default:
		return p.LastName + ", " + given
	}
}

func formatReportDate(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	return t.In(loc).Format(ReportDateLayout)
}
