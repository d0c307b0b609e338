// Package amounts manages the table of admissible swap amounts.
package amounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/R3E-Network/swap_dispatcher/internal/app/domain/amount"
	"github.com/R3E-Network/swap_dispatcher/internal/app/services/random"
	"github.com/R3E-Network/swap_dispatcher/internal/app/storage"
	"github.com/R3E-Network/swap_dispatcher/pkg/logger"
)

// DefaultTableSize is the number of position keys drawn from.
const DefaultTableSize = 13

var (
	// ErrAmountNotFound means the table has no entry for a drawn key.
	ErrAmountNotFound = errors.New("amount not found")
	ErrInvalidTable   = errors.New("invalid amount table")
)

// Service validates, stores and draws swap amounts.
type Service struct {
	store storage.AmountStore
	size  int
	rnd   random.Source
	log   *logger.Logger
}

// New creates a service drawing keys from [1, size]. Non-positive sizes use
// DefaultTableSize and a nil source falls back to an OS-seeded one.
func New(store storage.AmountStore, size int, rnd random.Source, log *logger.Logger) *Service {
	if size <= 0 {
		size = DefaultTableSize
	}
	if rnd == nil {
		rnd = random.New()
	}
	if log == nil {
		log = logger.NewDefault("amounts")
	}
	return &Service{store: store, size: size, rnd: rnd, log: log}
}

// Size reports the configured key space.
func (s *Service) Size() int { return s.size }

// Replace validates the entries and swaps in the whole table.
func (s *Service) Replace(ctx context.Context, entries []amount.Entry) error {
	seen := make(map[int]struct{}, len(entries))
	for _, e := range entries {
		if e.PositionKey < 1 {
			return fmt.Errorf("%w: position key %d must be positive", ErrInvalidTable, e.PositionKey)
		}
		if _, dup := seen[e.PositionKey]; dup {
			return fmt.Errorf("%w: duplicate position key %d", ErrInvalidTable, e.PositionKey)
		}
		seen[e.PositionKey] = struct{}{}
		if !e.Amount.IsPositive() {
			return fmt.Errorf("%w: amount for key %d must be positive", ErrInvalidTable, e.PositionKey)
		}
	}

	if err := s.store.ReplaceAmounts(ctx, entries); err != nil {
		return err
	}

	log := s.log.WithField("entries", len(entries))
	for key := 1; key <= s.size; key++ {
		if _, ok := seen[key]; !ok {
			log.WithField("missing_key", key).Warn("amount table does not cover every drawable key")
			break
		}
	}
	log.Info("amount table replaced")
	return nil
}

// Lookup resolves one position key.
func (s *Service) Lookup(ctx context.Context, key int) (amount.Entry, error) {
	entry, err := s.store.GetAmount(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return amount.Entry{}, fmt.Errorf("%w: position key %d", ErrAmountNotFound, key)
	}
	if err != nil {
		return amount.Entry{}, fmt.Errorf("lookup amount %d: %w", key, err)
	}
	return entry, nil
}

// Draw picks a key uniformly from [1, size] and resolves it.
func (s *Service) Draw(ctx context.Context) (amount.Entry, error) {
	return s.Lookup(ctx, s.rnd.IntN(s.size)+1)
}

// List returns the current table ordered by key.
func (s *Service) List(ctx context.Context) ([]amount.Entry, error) {
	return s.store.ListAmounts(ctx)
}
