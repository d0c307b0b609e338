// Package orders turns batches of account identifiers into persisted
// execution orders and owns bulk account import.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/R3E-Network/swap_dispatcher/internal/app/domain/account"
	"github.com/R3E-Network/swap_dispatcher/internal/app/domain/order"
	"github.com/R3E-Network/swap_dispatcher/internal/app/metrics"
	"github.com/R3E-Network/swap_dispatcher/internal/app/storage"
	"github.com/R3E-Network/swap_dispatcher/pkg/logger"
)

var (
	// ErrAccountNotFound aborts order creation when an id does not resolve.
	ErrAccountNotFound = errors.New("account not found")
	ErrEmptyBatch      = errors.New("batch must contain at least one account id")
	ErrInvalidAccount  = errors.New("invalid account")
)

// Factory creates execution orders.
type Factory struct {
	accounts storage.AccountStore
	orders   storage.OrderStore
	log      *logger.Logger
	now      func() time.Time
}

// New creates a configured order factory.
func New(accounts storage.AccountStore, orders storage.OrderStore, log *logger.Logger) *Factory {
	if log == nil {
		log = logger.NewDefault("orders")
	}
	return &Factory{
		accounts: accounts,
		orders:   orders,
		log:      log,
		now:      time.Now,
	}
}

// WithClock overrides the time source used for CreatedAt.
func (f *Factory) WithClock(now func() time.Time) *Factory {
	if now != nil {
		f.now = now
	}
	return f
}

// Create resolves every id in order and persists one order embedding the
// resolved accounts. A single unresolved id aborts creation with nothing
// persisted.
func (f *Factory) Create(ctx context.Context, ids []int64) (order.ExecutionOrder, error) {
	if len(ids) == 0 {
		return order.ExecutionOrder{}, ErrEmptyBatch
	}

	accts := make([]account.Account, 0, len(ids))
	for _, id := range ids {
		acct, err := f.accounts.GetAccount(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return order.ExecutionOrder{}, fmt.Errorf("%w: %d", ErrAccountNotFound, id)
		}
		if err != nil {
			return order.ExecutionOrder{}, fmt.Errorf("resolve account %d: %w", id, err)
		}
		accts = append(accts, acct)
	}

	ord, err := f.orders.CreateOrder(ctx, order.ExecutionOrder{
		Accounts:  accts,
		CreatedAt: f.now().UTC(),
	})
	if err != nil {
		return order.ExecutionOrder{}, fmt.Errorf("persist order: %w", err)
	}

	metrics.RecordOrderCreated()
	f.log.WithField("order_id", ord.ID).
		WithField("account_ids", ord.AccountIDs()).
		Info("execution order created")
	return ord, nil
}

// ImportAccounts validates and bulk inserts accounts. The batch must carry
// positive, unique ids and non-empty secrets.
func (f *Factory) ImportAccounts(ctx context.Context, accts []account.Account) (int, error) {
	if len(accts) == 0 {
		return 0, fmt.Errorf("%w: no accounts supplied", ErrInvalidAccount)
	}
	seen := make(map[int64]struct{}, len(accts))
	clean := make([]account.Account, 0, len(accts))
	for i, acct := range accts {
		if acct.ID <= 0 {
			return 0, fmt.Errorf("%w: entry %d has non-positive id %d", ErrInvalidAccount, i, acct.ID)
		}
		if _, dup := seen[acct.ID]; dup {
			return 0, fmt.Errorf("%w: duplicate id %d", ErrInvalidAccount, acct.ID)
		}
		seen[acct.ID] = struct{}{}
		acct.Secret = strings.TrimSpace(acct.Secret)
		if acct.Secret == "" {
			return 0, fmt.Errorf("%w: account %d has no secret", ErrInvalidAccount, acct.ID)
		}
		clean = append(clean, acct)
	}

	n, err := f.accounts.InsertAccounts(ctx, clean)
	if err != nil {
		return 0, err
	}
	f.log.WithField("count", n).Info("accounts imported")
	return n, nil
}

// Recent lists the newest orders with key material stripped.
func (f *Factory) Recent(ctx context.Context, limit int) ([]order.ExecutionOrder, error) {
	list, err := f.orders.ListOrders(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]order.ExecutionOrder, 0, len(list))
	for _, ord := range list {
		out = append(out, ord.Redacted())
	}
	return out, nil
}
