/*
ledger.go - Append-only fee/fine action log

PURPOSE:
  The Ledger is the write side of the engine. Every charge, payment,
  transfer and refund goes through it; nothing is ever edited.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete of actions. EVER.
  2. NON-NEGATIVE: Action amounts are >= 0; the category carries the sign.
  3. UNIQUE IDS: Recording an existing action id fails with ErrDuplicateAction.
  4. VALIDATE BEFORE WRITE: RecordRefund runs the eligibility check first.
     Refunds on one account are serialized, so the check and the append
     see the same history.

ACCOUNT DELETION:
  DeleteAccount tombstones the account record only. Its actions remain so
  that later reports fail loudly instead of silently losing rows.

SEE ALSO:
  - store.go:       Collaborator interfaces
  - eligibility.go: Check used by RecordRefund
*/
package feefine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ledger records accounts and actions.
type Ledger struct {
	Accounts AccountStore
	Actions  ActionStore
	Checker  *RefundChecker

	// Now is the clock used for recorded refunds. Defaults to time.Now.
	Now func() time.Time

	mu    sync.Mutex
	locks map[AccountID]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

// lockAccount serializes refunds on one account. The returned func
// releases the lock; idle entries are dropped.
func (l *Ledger) lockAccount(id AccountID) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[AccountID]*accountLock)
	}
	lock, ok := l.locks[id]
	if !ok {
		lock = &accountLock{}
		l.locks[id] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// NewLedger creates a ledger over the given stores.
func NewLedger(accounts AccountStore, actions ActionStore, checker *RefundChecker) *Ledger {
	return &Ledger{Accounts: accounts, Actions: actions, Checker: checker, Now: time.Now}
}

// CreateAccount validates and stores a new account. A missing id is
// generated.
func (l *Ledger) CreateAccount(ctx context.Context, account Account) (Account, error) {
	if account.ID == "" {
		account.ID = AccountID(uuid.NewString())
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = l.now()
	}
	if err := account.Validate(); err != nil {
		return Account{}, err
	}
	if err := l.Accounts.SaveAccount(ctx, account); err != nil {
		return Account{}, err
	}
	return account, nil
}

// DeleteAccount tombstones an account.
func (l *Ledger) DeleteAccount(ctx context.Context, id AccountID) error {
	account, err := l.Accounts.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	if account == nil {
		return ErrAccountNotFound
	}
	return l.Accounts.DeleteAccount(ctx, id)
}

// Record appends an action. The account must exist.
func (l *Ledger) Record(ctx context.Context, action Action) (Action, error) {
	if action.ID == "" {
		action.ID = ActionID(uuid.NewString())
	}
	if action.Date.IsZero() {
		action.Date = l.now()
	}
	if strings.TrimSpace(string(action.Type)) == "" {
		return Action{}, &ValidationError{Field: "typeAction", Err: ErrInvalidAction}
	}
	if action.Amount.IsNegative() {
		return Action{}, &ValidationError{Field: "amountAction", Value: action.Amount.String(), Err: ErrInvalidAction}
	}

	account, err := l.Accounts.GetAccount(ctx, action.AccountID)
	if err != nil {
		return Action{}, err
	}
	if account == nil {
		return Action{}, ErrAccountNotFound
	}
	if action.PatronID == "" {
		action.PatronID = account.PatronID
	}
	return l.Actions.AppendAction(ctx, action)
}

// RefundRequest describes a refund to record.
type RefundRequest struct {
	AccountID       AccountID
	Amount          string
	Reason          string
	StaffInfo       string
	PatronInfo      string
	TransactionInfo string
}

// RecordRefund checks eligibility and, only when allowed, appends a refund
// action. The action is "Refunded fully" when it refunds everything that is
// left, "Refunded partially" otherwise. The account balance is unchanged by
// a refund, so the action's Balance repeats the latest recorded balance.
//
// Concurrent refunds on the same account run one at a time. Actions
// appended with Record bypass this lock and the eligibility check.
func (l *Ledger) RecordRefund(ctx context.Context, req RefundRequest) (Action, RefundEligibilityResult, error) {
	unlock := l.lockAccount(req.AccountID)
	defer unlock()

	result, err := l.Checker.CheckRefund(ctx, req.AccountID, req.Amount)
	if err != nil {
		return Action{}, result, err
	}
	if !result.Allowed {
		if result.ErrorKind == KindAccountNotFound {
			return Action{}, result, ErrAccountNotFound
		}
		return Action{}, result, ErrRefundNotAllowed
	}

	account, err := l.Accounts.GetAccount(ctx, req.AccountID)
	if err != nil {
		return Action{}, result, err
	}
	if account == nil {
		return Action{}, result, ErrAccountNotFound
	}
	history, err := l.Actions.ListActions(ctx, req.AccountID)
	if err != nil {
		return Action{}, result, err
	}
	balance := account.Amount
	if replay := ReplayActions(req.AccountID, history); !replay.IsEmpty() {
		balance = replay.Actions[len(replay.Actions)-1].Balance
	}

	actionType := ActionRefundedPartially
	if result.RemainingAfterRefund.IsZero() {
		actionType = ActionRefundedFully
	}

	action, err := l.Record(ctx, Action{
		AccountID:       req.AccountID,
		PatronID:        account.PatronID,
		Type:            actionType,
		Method:          req.Reason,
		Amount:          result.RequestedAmount,
		Balance:         balance,
		StaffInfo:       req.StaffInfo,
		PatronInfo:      req.PatronInfo,
		TransactionInfo: req.TransactionInfo,
	})
	return action, result, err
}

// History replays an account's full action log. Missing accounts return
// ErrAccountNotFound.
func (l *Ledger) History(ctx context.Context, id AccountID) (Replay, error) {
	account, err := l.Accounts.GetAccount(ctx, id)
	if err != nil {
		return Replay{}, err
	}
	if account == nil {
		return Replay{}, ErrAccountNotFound
	}
	actions, err := l.Actions.ListActions(ctx, id)
	if err != nil {
		return Replay{}, err
	}
	return ReplayActions(id, actions), nil
}

func (l *Ledger) now() time.Time {
	if l.Now == nil {
		return time.Now().UTC()
	}
	return l.Now().UTC()
}
