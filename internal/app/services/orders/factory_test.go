package orders

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/swap_dispatcher/internal/app/domain/account"
	"github.com/R3E-Network/swap_dispatcher/internal/app/domain/order"
	"github.com/R3E-Network/swap_dispatcher/internal/app/services/batch"
	"github.com/R3E-Network/swap_dispatcher/internal/app/storage"
	"github.com/R3E-Network/swap_dispatcher/internal/app/storage/memory"
	"github.com/R3E-Network/swap_dispatcher/pkg/logger"
	"github.com/R3E-Network/swap_dispatcher/pkg/testutil"
)

func newFactory(t *testing.T, ids ...int64) (*Factory, *memory.Store) {
	t.Helper()
	store := memory.New()
	if len(ids) > 0 {
		accts := make([]account.Account, 0, len(ids))
		for _, id := range ids {
			accts = append(accts, account.Account{ID: id, Secret: "secret"})
		}
		_, err := store.InsertAccounts(context.Background(), accts)
		require.NoError(t, err)
	}
	return New(store, store, logger.Discard()), store
}

func TestCreateEmbedsAccounts(t *testing.T) {
	factory, store := newFactory(t, 10, 20)
	clock := testutil.NewClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	factory.WithClock(clock.Now)

	ord, err := factory.Create(context.Background(), []int64{20, 10, 20})
	require.NoError(t, err)
	assert.NotEmpty(t, ord.ID)
	assert.Equal(t, []int64{20, 10, 20}, ord.AccountIDs())
	assert.Equal(t, "secret", ord.Accounts[0].Secret)
	assert.True(t, ord.CreatedAt.Equal(clock.Now()))
	assert.Equal(t, order.StatusPending, ord.Status())

	pending, err := store.CountPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestCreateMissingAccountPersistsNothing(t *testing.T) {
	factory, store := newFactory(t, 10, 20)

	_, err := factory.Create(context.Background(), []int64{10, 15})
	require.ErrorIs(t, err, ErrAccountNotFound)
	assert.Contains(t, err.Error(), "15")

	list, err := store.ListOrders(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

// Range 10..20 with the draw pinned to 15, which was never imported.
func TestSelectThenCreateAccountNotFound(t *testing.T) {
	factory, store := newFactory(t, 10, 20)
	selector := batch.New(store, testutil.NewSequenceSource(5), logger.Discard())

	ids, err := selector.Select(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []int64{15}, ids)

	_, err = factory.Create(context.Background(), ids)
	require.ErrorIs(t, err, ErrAccountNotFound)

	pending, err := store.CountPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestCreateEmptyBatch(t *testing.T) {
	factory, _ := newFactory(t, 1)
	_, err := factory.Create(context.Background(), nil)
	require.ErrorIs(t, err, ErrEmptyBatch)
}

func TestImportAccountsValidation(t *testing.T) {
	factory, store := newFactory(t)
	ctx := context.Background()

	_, err := factory.ImportAccounts(ctx, nil)
	require.ErrorIs(t, err, ErrInvalidAccount)
	_, err = factory.ImportAccounts(ctx, []account.Account{{ID: 0, Secret: "a"}})
	require.ErrorIs(t, err, ErrInvalidAccount)
	_, err = factory.ImportAccounts(ctx, []account.Account{{ID: 1, Secret: "a"}, {ID: 1, Secret: "b"}})
	require.ErrorIs(t, err, ErrInvalidAccount)
	_, err = factory.ImportAccounts(ctx, []account.Account{{ID: 1, Secret: "  "}})
	require.ErrorIs(t, err, ErrInvalidAccount)

	n, err := factory.ImportAccounts(ctx, []account.Account{{ID: 1, Secret: " a "}, {ID: 2, Secret: "b"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	acct, err := store.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "a", acct.Secret)

	_, err = factory.ImportAccounts(ctx, []account.Account{{ID: 2, Secret: "c"}})
	require.ErrorIs(t, err, storage.ErrConflict)
}

func TestRecentRedactsSecrets(t *testing.T) {
	factory, _ := newFactory(t, 5)
	_, err := factory.Create(context.Background(), []int64{5})
	require.NoError(t, err)

	list, err := factory.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(5), list[0].Accounts[0].ID)
	assert.Empty(t, list[0].Accounts[0].Secret)
}
