// Package testutil provides common testing utilities and mock implementations.
package testutil

import (
	"sync"
	"time"
)

// Clock is a manually advanced clock for deterministic timestamps.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SequenceSource replays fixed offsets for IntN/Int64N, cycling when it runs
// out. Each value is reduced modulo n so it always stays valid.
type SequenceSource struct {
	mu     sync.Mutex
	values []int64
	next   int
	calls  int
}

// NewSequenceSource creates a source replaying values in order.
func NewSequenceSource(values ...int64) *SequenceSource {
	if len(values) == 0 {
		values = []int64{0}
	}
	return &SequenceSource{values: values}
}

func (s *SequenceSource) Int64N(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.values[s.next%len(s.values)]
	s.next++
	s.calls++
	return v % n
}

func (s *SequenceSource) IntN(n int) int {
	return int(s.Int64N(int64(n)))
}

// Calls reports how many draws were made.
func (s *SequenceSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
