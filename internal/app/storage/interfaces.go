// Package storage defines the narrow repository contracts used by the
// dispatcher. Implementations live in the memory and postgres subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/swap_dispatcher/internal/app/domain/account"
	"github.com/R3E-Network/swap_dispatcher/internal/app/domain/amount"
	"github.com/R3E-Network/swap_dispatcher/internal/app/domain/order"
)

var (
	// ErrNotFound is returned when a lookup or claim finds nothing.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned when an insert collides with an existing key.
	ErrConflict = errors.New("storage: conflict")
	// ErrAlreadyFinished is returned when finishing an order that already has
	// a finish time.
	ErrAlreadyFinished = errors.New("storage: order already finished")
)

// DefaultListLimit caps ListOrders when the caller passes a non-positive limit.
const DefaultListLimit = 50

// AccountStore persists managed accounts.
type AccountStore interface {
	// AccountIDRange returns the current min/max identifiers, or ErrNotFound
	// when no accounts exist.
	AccountIDRange(ctx context.Context) (account.IDRange, error)
	GetAccount(ctx context.Context, id int64) (account.Account, error)
	InsertAccounts(ctx context.Context, accts []account.Account) (int, error)
}

// OrderStore persists execution orders.
type OrderStore interface {
	CreateOrder(ctx context.Context, ord order.ExecutionOrder) (order.ExecutionOrder, error)
	// ClaimOldestUnclaimed atomically marks the oldest pending order as started
	// at the given time and returns it. ErrNotFound when nothing is pending.
	ClaimOldestUnclaimed(ctx context.Context, at time.Time) (order.ExecutionOrder, error)
	FinishOrder(ctx context.Context, id string, at time.Time) error
	ListOrders(ctx context.Context, limit int) ([]order.ExecutionOrder, error)
	CountPending(ctx context.Context) (int, error)
}

// AmountStore persists the swap amount table.
type AmountStore interface {
	GetAmount(ctx context.Context, positionKey int) (amount.Entry, error)
	// ReplaceAmounts swaps the whole table in one atomic step.
	ReplaceAmounts(ctx context.Context, entries []amount.Entry) error
	ListAmounts(ctx context.Context) ([]amount.Entry, error)
}
