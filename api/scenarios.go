/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	fee/fine data. Each scenario creates patrons, items, accounts and
	actions that exercise one refund report case.

AVAILABLE SCENARIOS:

	partial-refund:        One payment, partially refunded
	multiple-methods:      Two payments by different methods, fully refunded
	payment-and-transfer:  Refund spanning a payment and a transfer
	multiple-accounts:     Refunds on two patrons' accounts, interleaved
	deleted-account:       A refunded account that was later deleted
	                       (the report fails with 500)

	All actions fall in January 2020 and the tenant timezone is
	America/New_York, so
	  GET /api/feefine-reports/refund?startDate=2020-01-01&endDate=2020-01-31
	shows every refund.

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Set tenant timezone, create patrons/items/instances
 3. Create accounts through the Ledger
 4. Record payments, transfers and refunds through the Ledger

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "payment-and-transfer"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler dependencies
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/feefine-engine/feefine"
)

// DemoTimezone is the tenant timezone every scenario sets.
const DemoTimezone = "America/New_York"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "partial-refund",
		Name:        "Partial Refund",
		Description: "Lost item fee paid in part, then partially refunded",
	},
	{
		ID:          "multiple-methods",
		Name:        "Multiple Payment Methods",
		Description: "Two payments by cash and card, refunded in full",
	},
	{
		ID:          "payment-and-transfer",
		Name:        "Payment and Transfer",
		Description: "Refund consuming a payment first, then a transfer to the bursar",
	},
	{
		ID:          "multiple-accounts",
		Name:        "Multiple Accounts",
		Description: "Refunds on two patrons' accounts, ordered by date across accounts",
	},
	{
		ID:          "deleted-account",
		Name:        "Deleted Account",
		Description: "A refunded account deleted afterwards; the report refuses to run",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var load func(context.Context, *scenarioBuilder) error
	switch req.ScenarioID {
	case "partial-refund":
		load = loadPartialRefundScenario
	case "multiple-methods":
		load = loadMultipleMethodsScenario
	case "payment-and-transfer":
		load = loadPaymentAndTransferScenario
	case "multiple-accounts":
		load = loadMultipleAccountsScenario
	case "deleted-account":
		load = loadDeletedAccountScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.loadScenario(r.Context(), load); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// loadScenario resets the store, seeds shared directory data and runs load.
func (h *Handler) loadScenario(ctx context.Context, load func(context.Context, *scenarioBuilder) error) error {
	h.currentScenario = ""
	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if err := h.Store.SetTenantTimezone(ctx, DemoTimezone); err != nil {
		return err
	}

	b := &scenarioBuilder{h: h}
	if err := b.directory(ctx); err != nil {
		return err
	}
	return load(ctx, b)
}

// =============================================================================
// SCENARIO BUILDER
// =============================================================================

const (
	demoPatron      feefine.PatronID = "patron-001"
	demoOtherPatron feefine.PatronID = "patron-002"
	demoItem        feefine.ItemID   = "item-001"
)

// scenarioBuilder records demo data through the Ledger; the first error
// sticks and later calls are no-ops.
type scenarioBuilder struct {
	h   *Handler
	err error
}

func (b *scenarioBuilder) directory(ctx context.Context) error {
	s := b.h.Store
	for _, p := range []feefine.Patron{
		{ID: demoPatron, Barcode: "100001", FirstName: "Jane", MiddleName: "Q", LastName: "Doe", Group: "undergrad"},
		{ID: demoOtherPatron, Barcode: "100002", FirstName: "John", LastName: "Smith", Group: "staff"},
	} {
		if err := s.SavePatron(ctx, p); err != nil {
			return err
		}
	}
	if err := s.SaveInstance(ctx, feefine.Instance{ID: "instance-001", Title: "The Go Programming Language"}); err != nil {
		return err
	}
	return s.SaveItem(ctx, feefine.Item{ID: demoItem, Barcode: "item-barcode-001", InstanceID: "instance-001"})
}

func demoDate(day, hour int) time.Time {
	return time.Date(2020, time.January, day, hour, 0, 0, 0, time.UTC)
}

func (b *scenarioBuilder) account(ctx context.Context, id feefine.AccountID, patron feefine.PatronID, feeFineType, amount string, item feefine.ItemID) feefine.Account {
	if b.err != nil {
		return feefine.Account{}
	}
	var account feefine.Account
	account, b.err = b.h.Ledger.CreateAccount(ctx, feefine.Account{
		ID:          id,
		PatronID:    patron,
		FeeFineType: feeFineType,
		Amount:      feefine.MustParseMoney(amount),
		CreatedAt:   demoDate(2, 15),
		ItemID:      item,
	})
	return account
}

func (b *scenarioBuilder) record(ctx context.Context, account feefine.Account, day int, typ feefine.ActionType, method, amount, balance, txInfo string) {
	if b.err != nil {
		return
	}
	_, b.err = b.h.Ledger.Record(ctx, feefine.Action{
		AccountID:       account.ID,
		Type:            typ,
		Method:          method,
		Amount:          feefine.MustParseMoney(amount),
		Balance:         feefine.MustParseMoney(balance),
		StaffInfo:       "Staff note",
		PatronInfo:      "Patron note",
		TransactionInfo: txInfo,
		Date:            demoDate(day, 17),
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadPartialRefundScenario(ctx context.Context, b *scenarioBuilder) error {
	account := b.account(ctx, "account-001", demoPatron, "Lost item fee", "10.00", demoItem)
	b.record(ctx, account, 5, feefine.ActionPaidPartially, "Cash", "3.00", "7.00", "Receipt 1001")
	b.record(ctx, account, 10, feefine.ActionRefundedPartially, "Overcharged", "2.00", "7.00", "")
	return b.err
}

func loadMultipleMethodsScenario(ctx context.Context, b *scenarioBuilder) error {
	account := b.account(ctx, "account-001", demoPatron, "Overdue fine", "10.00", demoItem)
	b.record(ctx, account, 5, feefine.ActionPaidPartially, "Cash", "3.10", "6.90", "Receipt 1001")
	b.record(ctx, account, 6, feefine.ActionPaidPartially, "Credit card", "2.10", "4.80", "Receipt 1002")
	b.record(ctx, account, 10, feefine.ActionRefundedFully, "Item returned", "5.20", "4.80", "")
	return b.err
}

func loadPaymentAndTransferScenario(ctx context.Context, b *scenarioBuilder) error {
	account := b.account(ctx, "account-001", demoPatron, "Lost item fee", "10.00", demoItem)
	b.record(ctx, account, 5, feefine.ActionPaidPartially, "Cash", "3.00", "7.00", "Receipt 1001")
	b.record(ctx, account, 6, feefine.ActionTransferredPartially, "Bursar", "1.50", "5.50", "Transfer 77")
	b.record(ctx, account, 10, feefine.ActionRefundedPartially, "Item found", "4.00", "5.50", "")
	return b.err
}

func loadMultipleAccountsScenario(ctx context.Context, b *scenarioBuilder) error {
	first := b.account(ctx, "account-001", demoPatron, "Lost item fee", "10.00", demoItem)
	second := b.account(ctx, "account-002", demoOtherPatron, "Damaged item fee", "8.00", "")
	b.record(ctx, first, 5, feefine.ActionPaidFully, "Cash", "10.00", "0.00", "Receipt 1001")
	b.record(ctx, second, 6, feefine.ActionPaidPartially, "Check", "5.00", "3.00", "Check 501")
	b.record(ctx, second, 8, feefine.ActionRefundedPartially, "Waived by manager", "2.00", "3.00", "")
	b.record(ctx, first, 9, feefine.ActionRefundedPartially, "Item found", "4.00", "0.00", "")
	b.record(ctx, first, 12, feefine.ActionRefundedPartially, "Item found", "6.00", "0.00", "")
	return b.err
}

func loadDeletedAccountScenario(ctx context.Context, b *scenarioBuilder) error {
	if err := loadPartialRefundScenario(ctx, b); err != nil {
		return err
	}
	return b.h.Ledger.DeleteAccount(ctx, "account-001")
}
