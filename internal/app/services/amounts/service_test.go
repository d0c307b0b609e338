package amounts

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/swap_dispatcher/internal/app/domain/amount"
	"github.com/R3E-Network/swap_dispatcher/internal/app/storage/memory"
	"github.com/R3E-Network/swap_dispatcher/pkg/logger"
	"github.com/R3E-Network/swap_dispatcher/pkg/testutil"
)

func entry(key int, value string) amount.Entry {
	return amount.Entry{PositionKey: key, Amount: decimal.RequireFromString(value)}
}

func TestReplaceIsTotal(t *testing.T) {
	ctx := context.Background()
	svc := New(memory.New(), 13, nil, logger.Discard())

	require.NoError(t, svc.Replace(ctx, []amount.Entry{entry(1, "1"), entry(2, "2")}))
	require.NoError(t, svc.Replace(ctx, []amount.Entry{entry(1, "5")}))

	_, err := svc.Lookup(ctx, 2)
	require.ErrorIs(t, err, ErrAmountNotFound)

	got, err := svc.Lookup(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(5)))
}

func TestReplaceValidation(t *testing.T) {
	ctx := context.Background()
	svc := New(memory.New(), 13, nil, logger.Discard())
	require.NoError(t, svc.Replace(ctx, []amount.Entry{entry(1, "1")}))

	cases := map[string][]amount.Entry{
		"zero key":      {entry(0, "1")},
		"duplicate key": {entry(1, "1"), entry(1, "2")},
		"zero amount":   {entry(1, "0")},
		"negative":      {entry(1, "-0.1")},
	}
	for name, entries := range cases {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, svc.Replace(ctx, entries), ErrInvalidTable)
		})
	}

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1, "rejected tables leave the previous one in place")
}

func TestDrawUsesFullKeySpace(t *testing.T) {
	ctx := context.Background()
	table := make([]amount.Entry, 0, 13)
	for key := 1; key <= 13; key++ {
		table = append(table, amount.Entry{PositionKey: key, Amount: decimal.NewFromInt(int64(key))})
	}
	store := memory.New()
	require.NoError(t, store.ReplaceAmounts(ctx, table))

	src := testutil.NewSequenceSource(0, 12, 6)
	svc := New(store, 13, src, logger.Discard())

	for _, want := range []int{1, 13, 7} {
		got, err := svc.Draw(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got.PositionKey)
	}
}

func TestDrawMissingKey(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.ReplaceAmounts(ctx, []amount.Entry{entry(1, "1")}))

	svc := New(store, 13, testutil.NewSequenceSource(4), logger.Discard())
	_, err := svc.Draw(ctx)
	require.ErrorIs(t, err, ErrAmountNotFound)
	assert.Contains(t, err.Error(), "5")
}

func TestDefaultTableSize(t *testing.T) {
	assert.Equal(t, DefaultTableSize, New(memory.New(), 0, nil, logger.Discard()).Size())
}
