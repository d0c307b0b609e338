// Package batch picks random samples of managed account identifiers.
package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/R3E-Network/swap_dispatcher/internal/app/services/random"
	"github.com/R3E-Network/swap_dispatcher/internal/app/storage"
	"github.com/R3E-Network/swap_dispatcher/pkg/logger"
)

var (
	// ErrRangeUnavailable is returned when no accounts have been imported.
	ErrRangeUnavailable = errors.New("account id range unavailable")
	ErrInvalidSize      = errors.New("batch size must be at least 1")
)

// Selector samples identifiers uniformly from the current account id range.
// Samples are drawn with replacement, so a batch may repeat an id.
type Selector struct {
	accounts storage.AccountStore
	rnd      random.Source
	log      *logger.Logger
}

// New creates a selector. A nil source falls back to an OS-seeded one.
func New(accounts storage.AccountStore, rnd random.Source, log *logger.Logger) *Selector {
	if rnd == nil {
		rnd = random.New()
	}
	if log == nil {
		log = logger.NewDefault("batch")
	}
	return &Selector{accounts: accounts, rnd: rnd, log: log}
}

// Select returns exactly size ids, each within [min, max] of the account range.
func (s *Selector) Select(ctx context.Context, size int) ([]int64, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSize, size)
	}

	r, err := s.accounts.AccountIDRange(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrRangeUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("read account range: %w", err)
	}
	if r.Size() <= 0 {
		return nil, ErrRangeUnavailable
	}

	ids := make([]int64, size)
	for i := range ids {
		ids[i] = random.InRange(s.rnd, r.Min, r.Max)
	}
	s.log.WithField("min_id", r.Min).WithField("max_id", r.Max).Debugf("selected batch of %d", size)
	return ids, nil
}
