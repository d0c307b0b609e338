package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/swap_dispatcher/internal/app/domain/account"
	"github.com/R3E-Network/swap_dispatcher/internal/app/domain/amount"
	"github.com/R3E-Network/swap_dispatcher/internal/app/domain/order"
	"github.com/R3E-Network/swap_dispatcher/internal/app/storage"
)

func TestAccountIDRange(t *testing.T) {
	ctx := context.Background()
	store := New()

	_, err := store.AccountIDRange(ctx)
	require.ErrorIs(t, err, storage.ErrNotFound)

	n, err := store.InsertAccounts(ctx, []account.Account{{ID: 20, Secret: "b"}, {ID: 10, Secret: "a"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	r, err := store.AccountIDRange(ctx)
	require.NoError(t, err)
	assert.Equal(t, account.IDRange{Min: 10, Max: 20}, r)

	_, err = store.GetAccount(ctx, 15)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInsertAccounts_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := New()
	_, err := store.InsertAccounts(ctx, []account.Account{{ID: 1, Secret: "a"}})
	require.NoError(t, err)

	_, err = store.InsertAccounts(ctx, []account.Account{{ID: 2, Secret: "b"}, {ID: 1, Secret: "c"}})
	require.ErrorIs(t, err, storage.ErrConflict)

	_, err = store.GetAccount(ctx, 2)
	assert.ErrorIs(t, err, storage.ErrNotFound, "partial insert must not persist")
}

func TestClaimOldestUnclaimed_Order(t *testing.T) {
	ctx := context.Background()
	store := New()
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	newer, err := store.CreateOrder(ctx, order.ExecutionOrder{CreatedAt: t2})
	require.NoError(t, err)
	older, err := store.CreateOrder(ctx, order.ExecutionOrder{CreatedAt: t1})
	require.NoError(t, err)

	claimAt := t2.Add(time.Hour)
	first, err := store.ClaimOldestUnclaimed(ctx, claimAt)
	require.NoError(t, err)
	assert.Equal(t, older.ID, first.ID)
	require.NotNil(t, first.StartedAt)
	assert.True(t, first.StartedAt.Equal(claimAt))

	second, err := store.ClaimOldestUnclaimed(ctx, claimAt)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, second.ID)

	_, err = store.ClaimOldestUnclaimed(ctx, claimAt)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClaimOldestUnclaimed_AtMostOnce(t *testing.T) {
	ctx := context.Background()
	store := New()
	_, err := store.CreateOrder(ctx, order.ExecutionOrder{Accounts: []account.Account{{ID: 1}}})
	require.NoError(t, err)

	const claimers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		misses  int
	)
	start := make(chan struct{})
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := store.ClaimOldestUnclaimed(ctx, time.Now())
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
			} else if err == storage.ErrNotFound {
				misses++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, claimers-1, misses)
}

func TestFinishOrder(t *testing.T) {
	ctx := context.Background()
	store := New()
	ord, err := store.CreateOrder(ctx, order.ExecutionOrder{})
	require.NoError(t, err)

	pending, err := store.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	_, err = store.ClaimOldestUnclaimed(ctx, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.FinishOrder(ctx, ord.ID, time.Now()))
	assert.ErrorIs(t, store.FinishOrder(ctx, ord.ID, time.Now()), storage.ErrAlreadyFinished)
	assert.ErrorIs(t, store.FinishOrder(ctx, "missing", time.Now()), storage.ErrNotFound)
	assert.NotErrorIs(t, store.FinishOrder(ctx, "missing", time.Now()), storage.ErrAlreadyFinished)

	list, err := store.ListOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, order.StatusFinished, list[0].Status())
}

func TestListOrders_DefaultLimit(t *testing.T) {
	ctx := context.Background()
	store := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < storage.DefaultListLimit+5; i++ {
		_, err := store.CreateOrder(ctx, order.ExecutionOrder{CreatedAt: base.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
	}

	list, err := store.ListOrders(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, storage.DefaultListLimit)
	assert.True(t, list[0].CreatedAt.Equal(base.Add(time.Duration(storage.DefaultListLimit+4)*time.Second)))
}

func TestCreateOrder_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := New()
	ord, err := store.CreateOrder(ctx, order.ExecutionOrder{Accounts: []account.Account{{ID: 7, Secret: "s"}}})
	require.NoError(t, err)

	ord.Accounts[0].ID = 99
	claimed, err := store.ClaimOldestUnclaimed(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(7), claimed.Accounts[0].ID)
}

func TestReplaceAmounts_IsTotal(t *testing.T) {
	ctx := context.Background()
	store := New()

	require.NoError(t, store.ReplaceAmounts(ctx, []amount.Entry{
		{PositionKey: 1, Amount: decimal.RequireFromString("1")},
		{PositionKey: 2, Amount: decimal.RequireFromString("2")},
	}))
	require.NoError(t, store.ReplaceAmounts(ctx, []amount.Entry{
		{PositionKey: 1, Amount: decimal.NewFromInt(5)},
	}))

	_, err := store.GetAmount(ctx, 2)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got, err := store.GetAmount(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(5)))

	err = store.ReplaceAmounts(ctx, []amount.Entry{{PositionKey: 3}, {PositionKey: 3}})
	require.ErrorIs(t, err, storage.ErrConflict)
	list, err := store.ListAmounts(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1, "failed replace keeps the previous table")
}
