// Package random supplies the uniform draws used for batch selection and
// amount selection.
package random

import (
	crand "crypto/rand"
	"math/rand/v2"
	"sync"
)

// Source draws uniform integers in [0, n). Implementations panic when n <= 0,
// matching math/rand.
type Source interface {
	Int64N(n int64) int64
	IntN(n int) int
}

// Locked is a ChaCha8-backed Source seeded from the operating system and safe
// for concurrent use by overlapping ticks.
type Locked struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

var _ Source = (*Locked)(nil)

// New returns a Locked source with a fresh OS-provided seed.
func New() *Locked {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(err)
	}
	return &Locked{rnd: rand.New(rand.NewChaCha8(seed))}
}

func (l *Locked) Int64N(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rnd.Int64N(n)
}

func (l *Locked) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rnd.IntN(n)
}

// InRange returns a value drawn uniformly from [lo, hi] inclusive.
func InRange(src Source, lo, hi int64) int64 {
	return lo + src.Int64N(hi-lo+1)
}
