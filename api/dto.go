/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Accounts:  AccountDTO, CreateAccountRequest, AccountHistoryDTO
  Actions:   ActionDTO, CreateActionRequest
  Refunds:   CheckRefundRequest, BulkCheckRefundRequest, CheckRefundResponse,
             RefundRequest, RefundResponse
  Reports:   RefundReportResponse
  Directory: PatronDTO, ItemDTO, InstanceDTO
  Settings:  TimezoneDTO
  Scenarios: ScenarioDTO

MONEY:
  Amounts are rendered as two-decimal strings ("3.00"). Request amounts
  accept a JSON string or number and are validated by the engine, so
  "abc" reaches the eligibility checker and yields "Invalid amount entered".

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/warp/feefine-engine/feefine"
)

// RawAmount is an amount as the client sent it, string or number.
type RawAmount string

func (a *RawAmount) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*a = RawAmount(s)
		return nil
	}
	if string(b) == "null" {
		*a = ""
		return nil
	}
	*a = RawAmount(strings.TrimSpace(string(b)))
	return nil
}

// =============================================================================
// ACCOUNTS & ACTIONS
// =============================================================================

// AccountDTO represents a fee/fine account in API responses.
type AccountDTO struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	FeeFineType string `json:"feeFineType"`
	Amount      string `json:"amount"`
	ItemID      string `json:"itemId,omitempty"`
	DateCreated string `json:"dateCreated"`
}

// CreateAccountRequest is the request to create an account.
type CreateAccountRequest struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	FeeFineType string    `json:"feeFineType"`
	Amount      RawAmount `json:"amount"`
	ItemID      string    `json:"itemId"`
	DateCreated string    `json:"dateCreated"` // RFC3339, optional
}

// ActionDTO represents a recorded action.
type ActionDTO struct {
	ID                     string `json:"id"`
	AccountID              string `json:"accountId"`
	UserID                 string `json:"userId,omitempty"`
	TypeAction             string `json:"typeAction"`
	Category               string `json:"category"`
	PaymentMethod          string `json:"paymentMethod,omitempty"`
	AmountAction           string `json:"amountAction"`
	Balance                string `json:"balance"`
	StaffInfo              string `json:"staffInfo,omitempty"`
	PatronInfo             string `json:"patronInfo,omitempty"`
	TransactionInformation string `json:"transactionInformation,omitempty"`
	DateAction             string `json:"dateAction"`
	Sequence               int64  `json:"sequence"`
}

// ReplayedActionDTO is an action with the running totals after it.
type ReplayedActionDTO struct {
	ActionDTO
	CumulativePaid        string `json:"cumulativePaid"`
	CumulativeTransferred string `json:"cumulativeTransferred"`
	CumulativeRefunded    string `json:"cumulativeRefunded"`
}

// AccountHistoryDTO is the replayed history of one account.
type AccountHistoryDTO struct {
	AccountID   string              `json:"accountId"`
	Paid        string              `json:"paid"`
	Transferred string              `json:"transferred"`
	Refunded    string              `json:"refunded"`
	Refundable  string              `json:"refundable"`
	Actions     []ReplayedActionDTO `json:"actions"`
}

// CreateActionRequest is the request to record an action.
type CreateActionRequest struct {
	ID                     string    `json:"id"`
	AccountID              string    `json:"accountId"`
	UserID                 string    `json:"userId"`
	TypeAction             string    `json:"typeAction"`
	PaymentMethod          string    `json:"paymentMethod"`
	AmountAction           RawAmount `json:"amountAction"`
	Balance                RawAmount `json:"balance"`
	StaffInfo              string    `json:"staffInfo"`
	PatronInfo             string    `json:"patronInfo"`
	TransactionInformation string    `json:"transactionInformation"`
	DateAction             string    `json:"dateAction"` // RFC3339, optional
}

// =============================================================================
// REFUNDS
// =============================================================================

// CheckRefundRequest is the body of a single-account refund check.
type CheckRefundRequest struct {
	Amount RawAmount `json:"amount"`
}

// BulkCheckRefundRequest is the body of a bulk refund check.
type BulkCheckRefundRequest struct {
	AccountIDs []string  `json:"accountIds"`
	Amount     RawAmount `json:"amount"`
}

// CheckRefundResponse reports an eligibility decision.
type CheckRefundResponse struct {
	AccountID        string   `json:"accountId,omitempty"`
	AccountIDs       []string `json:"accountIds,omitempty"`
	Allowed          bool     `json:"allowed"`
	Amount           string   `json:"amount"`
	RefundableAmount string   `json:"refundableAmount"`
	RemainingAmount  string   `json:"remainingAmount"`
	ErrorMessage     string   `json:"errorMessage,omitempty"`
}

// RefundRequest is the body of a refund.
type RefundRequest struct {
	Amount                 RawAmount `json:"amount"`
	Reason                 string    `json:"reason"`
	StaffInfo              string    `json:"staffInfo"`
	PatronInfo             string    `json:"patronInfo"`
	TransactionInformation string    `json:"transactionInformation"`
}

// RefundResponse is returned when a refund is recorded.
type RefundResponse struct {
	Action          ActionDTO `json:"action"`
	RemainingAmount string    `json:"remainingAmount"`
}

// =============================================================================
// REPORTS, DIRECTORY, SETTINGS, SCENARIOS
// =============================================================================

// RefundReportResponse wraps report rows.
type RefundReportResponse struct {
	ReportData []feefine.RefundReportEntry `json:"reportData"`
}

// PatronDTO is a patron directory record.
type PatronDTO struct {
	ID         string `json:"id"`
	Barcode    string `json:"barcode"`
	FirstName  string `json:"firstName"`
	MiddleName string `json:"middleName"`
	LastName   string `json:"lastName"`
	Group      string `json:"patronGroup"`
}

// ItemDTO is an item directory record.
type ItemDTO struct {
	ID         string `json:"id"`
	Barcode    string `json:"barcode"`
	InstanceID string `json:"instanceId"`
}

// InstanceDTO is an instance directory record.
type InstanceDTO struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// TimezoneDTO carries the tenant timezone.
type TimezoneDTO struct {
	Timezone string `json:"timezone"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toAccountDTO(a feefine.Account) AccountDTO {
	return AccountDTO{
		ID:          string(a.ID),
		UserID:      string(a.PatronID),
		FeeFineType: a.FeeFineType,
		Amount:      a.Amount.String(),
		ItemID:      string(a.ItemID),
		DateCreated: a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toActionDTO(a feefine.Action) ActionDTO {
	return ActionDTO{
		ID:                     string(a.ID),
		AccountID:              string(a.AccountID),
		UserID:                 string(a.PatronID),
		TypeAction:             string(a.Type),
		Category:               a.Type.Category().String(),
		PaymentMethod:          a.Method,
		AmountAction:           a.Amount.String(),
		Balance:                a.Balance.String(),
		StaffInfo:              a.StaffInfo,
		PatronInfo:             a.PatronInfo,
		TransactionInformation: a.TransactionInfo,
		DateAction:             a.Date.UTC().Format(time.RFC3339),
		Sequence:               a.Seq,
	}
}

func toAccountHistoryDTO(r feefine.Replay) AccountHistoryDTO {
	dto := AccountHistoryDTO{
		AccountID:   string(r.AccountID),
		Paid:        r.Paid.String(),
		Transferred: r.Transferred.String(),
		Refunded:    r.Refunded.String(),
		Refundable:  r.Refundable().SubFloorZero(feefine.Zero).String(),
		Actions:     make([]ReplayedActionDTO, len(r.Actions)),
	}
	for i, a := range r.Actions {
		dto.Actions[i] = ReplayedActionDTO{
			ActionDTO:             toActionDTO(a.Action),
			CumulativePaid:        a.CumulativePaid.String(),
			CumulativeTransferred: a.CumulativeTransferred.String(),
			CumulativeRefunded:    a.CumulativeRefunded.String(),
		}
	}
	return dto
}

func toCheckRefundResponse(res feefine.RefundEligibilityResult) CheckRefundResponse {
	return CheckRefundResponse{
		Allowed:          res.Allowed,
		Amount:           res.RequestedAmount.String(),
		RefundableAmount: res.RemainingRefundable.String(),
		RemainingAmount:  res.RemainingAfterRefund.String(),
		ErrorMessage:     res.ErrorMessage(),
	}
}
