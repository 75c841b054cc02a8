/*
store.go - Collaborator interfaces consumed by the engine

PURPOSE:
  The engine never talks to a database directly. Accounts, actions and
  patron/item/instance metadata are read through these interfaces.

NOT FOUND CONTRACT:
  Lookups return (nil, nil) when the record does not exist (or, for
  accounts, has been tombstoned). A non-nil error always means the
  collaborator itself failed. The engine owns no retry logic.

APPEND-ONLY CONTRACT:
  ActionStore has no Update or Delete. Corrections are new actions.

IMPLEMENTATIONS:
  - feefine/store/memory.go: In-memory for tests/dev
  - store/sqlite/sqlite.go:  SQLite
*/
package feefine

import (
	"context"
	"time"
)

// ActionStore persists the append-only action log.
type ActionStore interface {
	// AppendAction persists an action and returns it with Seq assigned.
	// Returns ErrDuplicateAction if the id already exists.
	AppendAction(ctx context.Context, action Action) (Action, error)

	// ListActions returns every action of an account ordered by Date, Seq.
	ListActions(ctx context.Context, accountID AccountID) ([]Action, error)

	// ListActionsInRange returns actions with from <= Date < to whose type is
	// one of types (all types when empty), ordered by Date, Seq.
	ListActionsInRange(ctx context.Context, from, to time.Time, types ...ActionType) ([]Action, error)
}

// AccountStore persists accounts. Delete is a tombstone: the account stops
// resolving but its actions stay in the log.
type AccountStore interface {
	SaveAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, id AccountID) (*Account, error)
	DeleteAccount(ctx context.Context, id AccountID) error
}

// PatronDirectory resolves patrons.
type PatronDirectory interface {
	GetPatron(ctx context.Context, id PatronID) (*Patron, error)
}

// InventoryDirectory resolves items and instances.
type InventoryDirectory interface {
	GetItem(ctx context.Context, id ItemID) (*Item, error)
	GetInstance(ctx context.Context, id InstanceID) (*Instance, error)
}

// SettingsStore returns tenant-wide settings.
type SettingsStore interface {
	// TenantTimezone returns the configured IANA timezone id, or "" if unset.
	TenantTimezone(ctx context.Context) (string, error)
}

// Store is the full collaborator surface, implemented by both stores.
type Store interface {
	ActionStore
	AccountStore
	PatronDirectory
	InventoryDirectory
	SettingsStore
}
