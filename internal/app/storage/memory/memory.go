// Package memory provides a thread-safe in-memory implementation of the
// storage interfaces. It backs tests and single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/swap_dispatcher/internal/app/domain/account"
	"github.com/R3E-Network/swap_dispatcher/internal/app/domain/amount"
	"github.com/R3E-Network/swap_dispatcher/internal/app/domain/order"
	"github.com/R3E-Network/swap_dispatcher/internal/app/storage"
)

var (
	_ storage.AccountStore = (*Store)(nil)
	_ storage.OrderStore   = (*Store)(nil)
	_ storage.AmountStore  = (*Store)(nil)
)

// Store is an in-memory persistence layer.
type Store struct {
	mu       sync.RWMutex
	accounts map[int64]account.Account
	orders   []order.ExecutionOrder // insertion order breaks created_at ties
	amounts  map[int]amount.Entry
}

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[int64]account.Account),
		amounts:  make(map[int]amount.Entry),
	}
}

// --- AccountStore -----------------------------------------------------------

func (s *Store) AccountIDRange(_ context.Context) (account.IDRange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.accounts) == 0 {
		return account.IDRange{}, storage.ErrNotFound
	}
	first := true
	var r account.IDRange
	for id := range s.accounts {
		if first {
			r = account.IDRange{Min: id, Max: id}
			first = false
			continue
		}
		if id < r.Min {
			r.Min = id
		}
		if id > r.Max {
			r.Max = id
		}
	}
	return r, nil
}

func (s *Store) GetAccount(_ context.Context, id int64) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}
	return acct, nil
}

// InsertAccounts adds all accounts or none.
func (s *Store) InsertAccounts(_ context.Context, accts []account.Account) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int64]struct{}, len(accts))
	for _, acct := range accts {
		if _, exists := s.accounts[acct.ID]; exists {
			return 0, fmt.Errorf("account %d: %w", acct.ID, storage.ErrConflict)
		}
		if _, dup := seen[acct.ID]; dup {
			return 0, fmt.Errorf("account %d: %w", acct.ID, storage.ErrConflict)
		}
		seen[acct.ID] = struct{}{}
	}
	for _, acct := range accts {
		s.accounts[acct.ID] = acct
	}
	return len(accts), nil
}

// --- OrderStore -------------------------------------------------------------

func (s *Store) CreateOrder(_ context.Context, ord order.ExecutionOrder) (order.ExecutionOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ord.ID == "" {
		ord.ID = uuid.NewString()
	}
	for _, existing := range s.orders {
		if existing.ID == ord.ID {
			return order.ExecutionOrder{}, fmt.Errorf("order %s: %w", ord.ID, storage.ErrConflict)
		}
	}
	if ord.CreatedAt.IsZero() {
		ord.CreatedAt = time.Now().UTC()
	}
	ord.StartedAt = nil
	ord.FinishedAt = nil

	stored := ord.Clone()
	s.orders = append(s.orders, stored)
	return stored.Clone(), nil
}

// ClaimOldestUnclaimed holds the write lock across find and update, so
// concurrent claimers observe at most one winner per order.
func (s *Store) ClaimOldestUnclaimed(_ context.Context, at time.Time) (order.ExecutionOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, ord := range s.orders {
		if ord.StartedAt != nil || ord.FinishedAt != nil {
			continue
		}
		if idx == -1 || ord.CreatedAt.Before(s.orders[idx].CreatedAt) {
			idx = i
		}
	}
	if idx == -1 {
		return order.ExecutionOrder{}, storage.ErrNotFound
	}

	started := at.UTC()
	s.orders[idx].StartedAt = &started
	return s.orders[idx].Clone(), nil
}

func (s *Store) FinishOrder(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.orders {
		if s.orders[i].ID != id {
			continue
		}
		if s.orders[i].FinishedAt != nil {
			return fmt.Errorf("order %s: %w", id, storage.ErrAlreadyFinished)
		}
		finished := at.UTC()
		s.orders[i].FinishedAt = &finished
		return nil
	}
	return fmt.Errorf("order %s: %w", id, storage.ErrNotFound)
}

// ListOrders returns the newest orders first.
func (s *Store) ListOrders(_ context.Context, limit int) ([]order.ExecutionOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]order.ExecutionOrder, 0, len(s.orders))
	for i := len(s.orders) - 1; i >= 0; i-- {
		result = append(result, s.orders[i].Clone())
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CountPending(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, ord := range s.orders {
		if ord.Status() == order.StatusPending {
			n++
		}
	}
	return n, nil
}

// --- AmountStore ------------------------------------------------------------

func (s *Store) GetAmount(_ context.Context, positionKey int) (amount.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.amounts[positionKey]
	if !ok {
		return amount.Entry{}, storage.ErrNotFound
	}
	return entry, nil
}

func (s *Store) ReplaceAmounts(_ context.Context, entries []amount.Entry) error {
	next := make(map[int]amount.Entry, len(entries))
	for _, e := range entries {
		if _, dup := next[e.PositionKey]; dup {
			return fmt.Errorf("position key %d: %w", e.PositionKey, storage.ErrConflict)
		}
		next[e.PositionKey] = e
	}

	s.mu.Lock()
	s.amounts = next
	s.mu.Unlock()
	return nil
}

func (s *Store) ListAmounts(_ context.Context) ([]amount.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]amount.Entry, 0, len(s.amounts))
	for _, e := range s.amounts {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PositionKey < result[j].PositionKey })
	return result, nil
}
