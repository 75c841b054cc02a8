// Package store provides in-memory feefine.Store implementations.
package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/warp/feefine-engine/feefine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	accounts  map[feefine.AccountID]feefine.Account
	deleted   map[feefine.AccountID]bool
	actions   map[feefine.AccountID][]feefine.Action
	actionIDs map[feefine.ActionID]bool
	patrons   map[feefine.PatronID]feefine.Patron
	items     map[feefine.ItemID]feefine.Item
	instances map[feefine.InstanceID]feefine.Instance
	timezone  string
	seq       int64
}

var _ feefine.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		accounts:  make(map[feefine.AccountID]feefine.Account),
		deleted:   make(map[feefine.AccountID]bool),
		actions:   make(map[feefine.AccountID][]feefine.Action),
		actionIDs: make(map[feefine.ActionID]bool),
		patrons:   make(map[feefine.PatronID]feefine.Patron),
		items:     make(map[feefine.ItemID]feefine.Item),
		instances: make(map[feefine.InstanceID]feefine.Instance),
	}
}

// =============================================================================
// ACTIONS - Append-only
// =============================================================================

// AppendAction adds an action and assigns its sequence number.
func (m *Memory) AppendAction(_ context.Context, action feefine.Action) (feefine.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.actionIDs[action.ID] {
		return feefine.Action{}, feefine.ErrDuplicateAction
	}
	m.seq++
	action.Seq = m.seq

	txs := m.actions[action.AccountID]

	// Binary search for insertion point; equal dates keep insertion order.
	i := sort.Search(len(txs), func(i int) bool {
		return feefine.CompareActions(txs[i], action) > 0
	})
	txs = append(txs, feefine.Action{})
	copy(txs[i+1:], txs[i:])
	txs[i] = action
	m.actions[action.AccountID] = txs
	m.actionIDs[action.ID] = true
	return action, nil
}

func (m *Memory) ListActions(_ context.Context, accountID feefine.AccountID) ([]feefine.Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.actions[accountID]), nil
}

func (m *Memory) ListActionsInRange(_ context.Context, from, to time.Time, types ...feefine.ActionType) ([]feefine.Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []feefine.Action
	for _, txs := range m.actions {
		for _, a := range txs {
			if a.Date.Before(from) || !a.Date.Before(to) {
				continue
			}
			if len(types) > 0 && !slices.Contains(types, a.Type) {
				continue
			}
			result = append(result, a)
		}
	}
	feefine.SortActions(result)
	return result, nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) SaveAccount(_ context.Context, account feefine.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.ID] = account
	delete(m.deleted, account.ID)
	return nil
}

// GetAccount returns nil for unknown and tombstoned accounts.
func (m *Memory) GetAccount(_ context.Context, id feefine.AccountID) (*feefine.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok || m.deleted[id] {
		return nil, nil
	}
	return &a, nil
}

// DeleteAccount tombstones the account; its actions are kept.
func (m *Memory) DeleteAccount(_ context.Context, id feefine.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; ok {
		m.deleted[id] = true
	}
	return nil
}

// =============================================================================
// DIRECTORIES & SETTINGS
// =============================================================================

func (m *Memory) SavePatron(_ context.Context, p feefine.Patron) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patrons[p.ID] = p
	return nil
}

func (m *Memory) GetPatron(_ context.Context, id feefine.PatronID) (*feefine.Patron, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patrons[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) SaveItem(_ context.Context, item feefine.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
	return nil
}

func (m *Memory) GetItem(_ context.Context, id feefine.ItemID) (*feefine.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (m *Memory) SaveInstance(_ context.Context, instance feefine.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[instance.ID] = instance
	return nil
}

func (m *Memory) GetInstance(_ context.Context, id feefine.InstanceID) (*feefine.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	instance, ok := m.instances[id]
	if !ok {
		return nil, nil
	}
	return &instance, nil
}

func (m *Memory) SetTenantTimezone(_ context.Context, tz string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timezone = tz
	return nil
}

func (m *Memory) TenantTimezone(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timezone, nil
}
