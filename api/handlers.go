/*
handlers.go - HTTP API handlers for the fee/fine engine

PURPOSE:
  Exposes the fee/fine engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the feefine package.

ENDPOINTS:
  Reports:
    GET    /api/feefine-reports/refund         Refund report (JSON)
    GET    /api/feefine-reports/refund.csv     Refund report (CSV)

  Accounts:
    POST   /api/accounts                       Create account
    GET    /api/accounts/{id}                  Get account
    DELETE /api/accounts/{id}                  Tombstone account
    GET    /api/accounts/{id}/actions          Replayed history
    POST   /api/accounts/{id}/check-refund     Refund eligibility
    POST   /api/accounts/{id}/refund           Record a refund
    POST   /api/accounts-bulk/check-refund     Bulk refund eligibility

  Actions:
    POST   /api/feefineactions                 Record an action

  Directory & settings:
    POST   /api/patrons | /api/items | /api/instances
    GET    /api/settings/timezone
    PUT    /api/settings/timezone

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store:   Database access
  - Ledger:  Write path (accounts, actions, refunds)
  - Checker: Refund eligibility
  - Reports: Refund report generation

ERROR HANDLING:
  - 400: Validation errors, invalid input
  - 404: Account not found
  - 409: Duplicate action id
  - 422: Refund check denied (body carries the decision)
  - 500: "Internal server error" as plain text; details go to the log only.
    Integrity faults in the refund report land here too.

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/feefine-engine/feefine"
	"github.com/warp/feefine-engine/store/sqlite"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Ledger  *feefine.Ledger
	Checker *feefine.RefundChecker
	Reports *feefine.RefundReportService
	Logger  *zap.Logger

	// Audit is optional; when set, NewRouter mounts /api/admin/audit.
	Audit *AuditScheduler

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler with the given store. A nil logger
// disables logging.
func NewHandler(store *sqlite.Store, config feefine.ReportConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	checker := feefine.NewRefundChecker(store, store, logger.Named("eligibility"))
	return &Handler{
		Store:   store,
		Ledger:  feefine.NewLedger(store, store, checker),
		Checker: checker,
		Reports: feefine.NewRefundReportService(store, config, logger.Named("report")),
		Logger:  logger,
	}
}

// =============================================================================
// REPORT ENDPOINTS
// =============================================================================

func reportRequest(r *http.Request) feefine.ReportRequest {
	q := r.URL.Query()
	return feefine.ReportRequest{
		StartDate: q.Get("startDate"),
		EndDate:   q.Get("endDate"),
		Timezone:  q.Get("timezone"),
	}
}

// GetRefundReport returns the refund report for a date range.
func (h *Handler) GetRefundReport(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Reports.Generate(r.Context(), reportRequest(r))
	if err != nil {
		h.writeReportError(w, r, err)
		return
	}
	if entries == nil {
		entries = []feefine.RefundReportEntry{}
	}
	writeJSON(w, http.StatusOK, RefundReportResponse{ReportData: entries})
}

// ExportRefundReport returns the refund report as CSV.
func (h *Handler) ExportRefundReport(w http.ResponseWriter, r *http.Request) {
	req := reportRequest(r)
	entries, err := h.Reports.Generate(r.Context(), req)
	if err != nil {
		h.writeReportError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="refund-report-%s-%s.csv"`, req.StartDate, req.EndDate))
	w.WriteHeader(http.StatusOK)
	if err := feefine.WriteRefundReportCSV(w, entries); err != nil {
		h.Logger.Error("failed to write refund report CSV", zap.Error(err))
	}
}

func (h *Handler) writeReportError(w http.ResponseWriter, r *http.Request, err error) {
	if feefine.IsValidation(err) {
		writeError(w, http.StatusBadRequest, "Invalid report parameters", err)
		return
	}
	h.internalError(w, r, err)
}

// =============================================================================
// ACCOUNT ENDPOINTS
// =============================================================================

// CreateAccount creates a fee/fine account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := feefine.ParseMoney(string(req.Amount))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	created, err := parseOptionalTime(req.DateCreated)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid dateCreated format (use RFC3339)", err)
		return
	}

	account, err := h.Ledger.CreateAccount(r.Context(), feefine.Account{
		ID:          feefine.AccountID(req.ID),
		PatronID:    feefine.PatronID(req.UserID),
		FeeFineType: req.FeeFineType,
		Amount:      amount,
		CreatedAt:   created,
		ItemID:      feefine.ItemID(req.ItemID),
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to create account", err)
		return
	}

	writeJSON(w, http.StatusCreated, toAccountDTO(account))
}

// GetAccount returns a single account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := feefine.AccountID(chi.URLParam(r, "id"))

	account, err := h.Store.GetAccount(r.Context(), id)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "Fee/fine was not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toAccountDTO(*account))
}

// DeleteAccount tombstones an account. Its actions are kept.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := feefine.AccountID(chi.URLParam(r, "id"))

	if err := h.Ledger.DeleteAccount(r.Context(), id); err != nil {
		h.writeDomainError(w, r, "Failed to delete account", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetAccountActions returns the replayed action history of an account.
func (h *Handler) GetAccountActions(w http.ResponseWriter, r *http.Request) {
	id := feefine.AccountID(chi.URLParam(r, "id"))

	replay, err := h.Ledger.History(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "Failed to get actions", err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountHistoryDTO(replay))
}

// =============================================================================
// REFUND ENDPOINTS
// =============================================================================

// CheckRefund checks whether an amount can be refunded from one account.
func (h *Handler) CheckRefund(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CheckRefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Checker.CheckRefund(r.Context(), feefine.AccountID(id), string(req.Amount))
	if err != nil && !feefine.IsValidation(err) {
		h.internalError(w, r, err)
		return
	}

	resp := toCheckRefundResponse(res)
	resp.AccountID = id
	writeCheckResponse(w, resp, req.Amount, err)
}

// CheckRefundBulk checks whether an amount can be refunded from a set of
// accounts together.
func (h *Handler) CheckRefundBulk(w http.ResponseWriter, r *http.Request) {
	var req BulkCheckRefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ids := make([]feefine.AccountID, len(req.AccountIDs))
	for i, id := range req.AccountIDs {
		ids[i] = feefine.AccountID(id)
	}

	res, err := h.Checker.CheckRefundBulk(r.Context(), ids, string(req.Amount))
	if err != nil && !feefine.IsValidation(err) {
		h.internalError(w, r, err)
		return
	}

	resp := toCheckRefundResponse(res)
	resp.AccountIDs = req.AccountIDs
	writeCheckResponse(w, resp, req.Amount, err)
}

// writeCheckResponse writes 200 for allowed checks and 422 otherwise.
// Rejected input echoes the raw amount.
func writeCheckResponse(w http.ResponseWriter, resp CheckRefundResponse, raw RawAmount, validationErr error) {
	if validationErr != nil {
		resp.Amount = string(raw)
	}
	if !resp.Allowed {
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Refund records a refund after checking eligibility.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	action, res, err := h.Ledger.RecordRefund(r.Context(), feefine.RefundRequest{
		AccountID:       feefine.AccountID(id),
		Amount:          string(req.Amount),
		Reason:          req.Reason,
		StaffInfo:       req.StaffInfo,
		PatronInfo:      req.PatronInfo,
		TransactionInfo: req.TransactionInformation,
	})
	switch {
	case err == nil:
	case feefine.IsValidation(err), errors.Is(err, feefine.ErrRefundNotAllowed):
		resp := toCheckRefundResponse(res)
		resp.AccountID = id
		writeCheckResponse(w, resp, req.Amount, validationOnly(err))
		return
	default:
		h.writeDomainError(w, r, "Failed to record refund", err)
		return
	}

	h.Logger.Info("refund recorded",
		zap.String("account_id", id),
		zap.String("action_id", string(action.ID)),
		zap.Stringer("amount", action.Amount))

	writeJSON(w, http.StatusCreated, RefundResponse{
		Action:          toActionDTO(action),
		RemainingAmount: res.RemainingAfterRefund.String(),
	})
}

func validationOnly(err error) error {
	if feefine.IsValidation(err) {
		return err
	}
	return nil
}

// =============================================================================
// ACTION ENDPOINTS
// =============================================================================

// CreateAction records an action against an account.
func (h *Handler) CreateAction(w http.ResponseWriter, r *http.Request) {
	var req CreateActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := feefine.ParseMoney(string(req.AmountAction))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amountAction", err)
		return
	}
	balance := feefine.Zero
	if strings.TrimSpace(string(req.Balance)) != "" {
		if balance, err = feefine.ParseMoney(string(req.Balance)); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid balance", err)
			return
		}
	}
	date, err := parseOptionalTime(req.DateAction)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid dateAction format (use RFC3339)", err)
		return
	}

	action, err := h.Ledger.Record(r.Context(), feefine.Action{
		ID:              feefine.ActionID(req.ID),
		AccountID:       feefine.AccountID(req.AccountID),
		PatronID:        feefine.PatronID(req.UserID),
		Type:            feefine.ActionType(req.TypeAction),
		Method:          req.PaymentMethod,
		Amount:          amount,
		Balance:         balance,
		StaffInfo:       req.StaffInfo,
		PatronInfo:      req.PatronInfo,
		TransactionInfo: req.TransactionInformation,
		Date:            date,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to record action", err)
		return
	}

	writeJSON(w, http.StatusCreated, toActionDTO(action))
}

// =============================================================================
// DIRECTORY ENDPOINTS
// =============================================================================

// SavePatron upserts a patron.
func (h *Handler) SavePatron(w http.ResponseWriter, r *http.Request) {
	var req PatronDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	err := h.Store.SavePatron(r.Context(), feefine.Patron{
		ID:         feefine.PatronID(req.ID),
		Barcode:    req.Barcode,
		FirstName:  req.FirstName,
		MiddleName: req.MiddleName,
		LastName:   req.LastName,
		Group:      req.Group,
	})
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// SaveItem upserts an item.
func (h *Handler) SaveItem(w http.ResponseWriter, r *http.Request) {
	var req ItemDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	err := h.Store.SaveItem(r.Context(), feefine.Item{
		ID:         feefine.ItemID(req.ID),
		Barcode:    req.Barcode,
		InstanceID: feefine.InstanceID(req.InstanceID),
	})
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// SaveInstance upserts an instance.
func (h *Handler) SaveInstance(w http.ResponseWriter, r *http.Request) {
	var req InstanceDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.Store.SaveInstance(r.Context(), feefine.Instance{ID: feefine.InstanceID(req.ID), Title: req.Title}); err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// =============================================================================
// SETTINGS ENDPOINTS
// =============================================================================

// GetTimezone returns the stored tenant timezone ("" when unset).
func (h *Handler) GetTimezone(w http.ResponseWriter, r *http.Request) {
	tz, err := h.Store.TenantTimezone(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TimezoneDTO{Timezone: tz})
}

// PutTimezone stores the tenant timezone.
func (h *Handler) PutTimezone(w http.ResponseWriter, r *http.Request) {
	var req TimezoneDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.Timezone = strings.TrimSpace(req.Timezone)
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid timezone", err)
			return
		}
	}
	if err := h.Store.SetTenantTimezone(r.Context(), req.Timezone); err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// =============================================================================
// UTILITIES
// =============================================================================

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeDomainError maps engine errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case feefine.IsValidation(err):
		writeError(w, http.StatusBadRequest, message, err)
	case feefine.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Fee/fine was not found", err)
	case errors.Is(err, feefine.ErrDuplicateAction):
		writeError(w, http.StatusConflict, message, err)
	default:
		h.internalError(w, r, err)
	}
}

// internalError logs err and writes a bare 500.
func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	fields := []zap.Field{
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	}
	var ie *feefine.IntegrityError
	if errors.As(err, &ie) {
		fields = append(fields,
			zap.String("account_id", string(ie.AccountID)),
			zap.String("action_id", string(ie.ActionID)))
	}
	h.Logger.Error("internal server error", fields...)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func parseOptionalTime(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
