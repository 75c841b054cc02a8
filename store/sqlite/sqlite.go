/*
Package sqlite provides a SQLite-backed implementation of the feefine
storage interfaces.

PURPOSE:
  Implements feefine.Store (accounts, actions, patron/item/instance
  directories, tenant settings) using SQLite. In production, the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on the actions table
  - No DELETE statements on the actions table (except Reset)
  - Accounts are tombstoned (deleted_at), never removed, so their actions
    stay and a report over them fails loudly

KEY TABLES:
  accounts:  Fee/fine charges
  actions:   Immutable ledger of payments, transfers, refunds, notes
  patrons:   Patron directory
  items:     Item directory (barcode, instance link)
  instances: Instance titles
  settings:  Tenant settings (timezone)

ORDERING:
  actions.seq is an AUTOINCREMENT insertion sequence. Every read orders by
  (date, seq), so same-timestamp actions keep insertion order. Dates are
  stored as fixed-width UTC text so string comparison is time comparison.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/feefines.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  checker := feefine.NewRefundChecker(store, store, logger)
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/feefine-engine/feefine"
)

// timeLayout is fixed-width so that lexical order equals time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const timezoneSetting = "timezone"

// Store implements feefine.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ feefine.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		patron_id TEXT NOT NULL,
		fee_fine_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		item_id TEXT,
		created_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_patron ON accounts(patron_id);

	-- Actions (append-only ledger)
	CREATE TABLE IF NOT EXISTS actions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		patron_id TEXT,
		type TEXT NOT NULL,
		method TEXT,
		amount TEXT NOT NULL,
		balance TEXT NOT NULL,
		staff_info TEXT,
		patron_info TEXT,
		transaction_info TEXT,
		date TEXT NOT NULL
	);

	-- Replay of one account (hot path)
	CREATE INDEX IF NOT EXISTS idx_actions_account_date
		ON actions(account_id, date, seq);
	-- Report selection by date and type
	CREATE INDEX IF NOT EXISTS idx_actions_type_date
		ON actions(type, date);

	CREATE TABLE IF NOT EXISTS patrons (
		id TEXT PRIMARY KEY,
		barcode TEXT,
		first_name TEXT,
		middle_name TEXT,
		last_name TEXT,
		patron_group TEXT
	);

	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		barcode TEXT,
		instance_id TEXT
	);

	CREATE TABLE IF NOT EXISTS instances (
		id TEXT PRIMARY KEY,
		title TEXT
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ACTION STORE (feefine.ActionStore interface)
// =============================================================================

const actionColumns = `seq, id, account_id, patron_id, type, method, amount, balance,
	staff_info, patron_info, transaction_info, date`

// AppendAction adds an action and returns it with its sequence number.
func (s *Store) AppendAction(ctx context.Context, action feefine.Action) (feefine.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO actions
		(id, account_id, patron_id, type, method, amount, balance,
		 staff_info, patron_info, transaction_info, date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		action.ID,
		action.AccountID,
		nullString(string(action.PatronID)),
		action.Type,
		nullString(action.Method),
		action.Amount.String(),
		action.Balance.String(),
		nullString(action.StaffInfo),
		nullString(action.PatronInfo),
		nullString(action.TransactionInfo),
		formatTime(action.Date),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return feefine.Action{}, feefine.ErrDuplicateAction
		}
		if isForeignKeyError(err) {
			return feefine.Action{}, feefine.ErrAccountNotFound
		}
		return feefine.Action{}, fmt.Errorf("failed to append action: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return feefine.Action{}, fmt.Errorf("failed to read action sequence: %w", err)
	}
	action.Seq = seq
	action.Date = action.Date.UTC()
	return action, nil
}

// ListActions returns every action of an account in (date, seq) order,
// tombstoned accounts included.
func (s *Store) ListActions(ctx context.Context, accountID feefine.AccountID) ([]feefine.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + actionColumns + `
		FROM actions
		WHERE account_id = ?
		ORDER BY date ASC, seq ASC
	`
	return s.queryActions(ctx, query, accountID)
}

// ListActionsInRange returns actions with from <= date < to, optionally
// restricted to the given types.
func (s *Store) ListActionsInRange(ctx context.Context, from, to time.Time, types ...feefine.ActionType) ([]feefine.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + actionColumns + `
		FROM actions
		WHERE date >= ? AND date < ?`
	args := []any{formatTime(from), formatTime(to)}
	if len(types) > 0 {
		query += ` AND type IN (?` + strings.Repeat(", ?", len(types)-1) + `)`
		for _, t := range types {
			args = append(args, t)
		}
	}
	query += ` ORDER BY date ASC, seq ASC`

	return s.queryActions(ctx, query, args...)
}

func (s *Store) queryActions(ctx context.Context, query string, args ...any) ([]feefine.Action, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	defer rows.Close()

	var actions []feefine.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}

	return actions, rows.Err()
}

func scanAction(rows *sql.Rows) (feefine.Action, error) {
	var (
		a               feefine.Action
		patronID        sql.NullString
		method          sql.NullString
		amount          string
		balance         string
		staffInfo       sql.NullString
		patronInfo      sql.NullString
		transactionInfo sql.NullString
		date            string
	)

	err := rows.Scan(
		&a.Seq, &a.ID, &a.AccountID, &patronID, &a.Type, &method,
		&amount, &balance, &staffInfo, &patronInfo, &transactionInfo, &date,
	)
	if err != nil {
		return a, fmt.Errorf("failed to scan action: %w", err)
	}

	if a.Amount, err = feefine.ParseMoney(amount); err != nil {
		return a, fmt.Errorf("action %s: %w", a.ID, err)
	}
	if a.Balance, err = feefine.ParseMoney(balance); err != nil {
		return a, fmt.Errorf("action %s: %w", a.ID, err)
	}
	if a.Date, err = parseTime(date); err != nil {
		return a, fmt.Errorf("action %s: %w", a.ID, err)
	}
	a.PatronID = feefine.PatronID(patronID.String)
	a.Method = method.String
	a.StaffInfo = staffInfo.String
	a.PatronInfo = patronInfo.String
	a.TransactionInfo = transactionInfo.String

	return a, nil
}

// =============================================================================
// ACCOUNT STORE (feefine.AccountStore interface)
// =============================================================================

// SaveAccount upserts an account and clears any tombstone.
func (s *Store) SaveAccount(ctx context.Context, account feefine.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO accounts (id, patron_id, fee_fine_type, amount, item_id, created_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(id) DO UPDATE SET
			patron_id = excluded.patron_id,
			fee_fine_type = excluded.fee_fine_type,
			amount = excluded.amount,
			item_id = excluded.item_id,
			created_at = excluded.created_at,
			deleted_at = NULL
	`

	_, err := s.db.ExecContext(ctx, query,
		account.ID,
		account.PatronID,
		account.FeeFineType,
		account.Amount.String(),
		nullString(string(account.ItemID)),
		formatTime(account.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// GetAccount returns nil for unknown and tombstoned accounts.
func (s *Store) GetAccount(ctx context.Context, id feefine.AccountID) (*feefine.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		a         feefine.Account
		amount    string
		itemID    sql.NullString
		createdAt string
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT id, patron_id, fee_fine_type, amount, item_id, created_at
		FROM accounts
		WHERE id = ? AND deleted_at IS NULL`,
		id,
	).Scan(&a.ID, &a.PatronID, &a.FeeFineType, &amount, &itemID, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	if a.Amount, err = feefine.ParseMoney(amount); err != nil {
		return nil, fmt.Errorf("account %s: %w", a.ID, err)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("account %s: %w", a.ID, err)
	}
	a.ItemID = feefine.ItemID(itemID.String)
	return &a, nil
}

// DeleteAccount tombstones the account; its actions are kept.
func (s *Store) DeleteAccount(ctx context.Context, id feefine.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL",
		formatTime(time.Now()), id,
	)
	return err
}

// =============================================================================
// DIRECTORIES (feefine.PatronDirectory, feefine.InventoryDirectory)
// =============================================================================

// SavePatron upserts a patron.
func (s *Store) SavePatron(ctx context.Context, p feefine.Patron) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO patrons (id, barcode, first_name, middle_name, last_name, patron_group)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			barcode = excluded.barcode,
			first_name = excluded.first_name,
			middle_name = excluded.middle_name,
			last_name = excluded.last_name,
			patron_group = excluded.patron_group
	`

	_, err := s.db.ExecContext(ctx, query, p.ID, p.Barcode, p.FirstName, p.MiddleName, p.LastName, p.Group)
	return err
}

// GetPatron retrieves a patron by ID.
func (s *Store) GetPatron(ctx context.Context, id feefine.PatronID) (*feefine.Patron, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p feefine.Patron
	var barcode, first, middle, last, group sql.NullString

	err := s.db.QueryRowContext(ctx,
		"SELECT id, barcode, first_name, middle_name, last_name, patron_group FROM patrons WHERE id = ?",
		id,
	).Scan(&p.ID, &barcode, &first, &middle, &last, &group)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p.Barcode = barcode.String
	p.FirstName = first.String
	p.MiddleName = middle.String
	p.LastName = last.String
	p.Group = group.String
	return &p, nil
}

// SaveItem upserts an item.
func (s *Store) SaveItem(ctx context.Context, item feefine.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, barcode, instance_id)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			barcode = excluded.barcode,
			instance_id = excluded.instance_id`,
		item.ID, item.Barcode, nullString(string(item.InstanceID)),
	)
	return err
}

// GetItem retrieves an item by ID.
func (s *Store) GetItem(ctx context.Context, id feefine.ItemID) (*feefine.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var item feefine.Item
	var barcode, instanceID sql.NullString

	err := s.db.QueryRowContext(ctx,
		"SELECT id, barcode, instance_id FROM items WHERE id = ?",
		id,
	).Scan(&item.ID, &barcode, &instanceID)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	item.Barcode = barcode.String
	item.InstanceID = feefine.InstanceID(instanceID.String)
	return &item, nil
}

// SaveInstance upserts an instance.
func (s *Store) SaveInstance(ctx context.Context, instance feefine.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (id, title)
		VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title`,
		instance.ID, instance.Title,
	)
	return err
}

// GetInstance retrieves an instance by ID.
func (s *Store) GetInstance(ctx context.Context, id feefine.InstanceID) (*feefine.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var instance feefine.Instance
	var title sql.NullString

	err := s.db.QueryRowContext(ctx,
		"SELECT id, title FROM instances WHERE id = ?",
		id,
	).Scan(&instance.ID, &title)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	instance.Title = title.String
	return &instance, nil
}

// =============================================================================
// SETTINGS (feefine.SettingsStore interface)
// =============================================================================

// SetTenantTimezone stores the tenant timezone. An empty value clears it.
func (s *Store) SetTenantTimezone(ctx context.Context, tz string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tz == "" {
		_, err := s.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", timezoneSetting)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		timezoneSetting, tz,
	)
	return err
}

// TenantTimezone returns the stored timezone, "" when unset.
func (s *Store) TenantTimezone(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tz string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", timezoneSetting).Scan(&tz)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return tz, err
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"actions", "accounts", "patrons", "items", "instances", "settings"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(timeLayout, s, time.UTC)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
