package order

import (
	"time"

	"github.com/R3E-Network/swap_dispatcher/internal/app/domain/account"
)

// Status is derived from the order timestamps.
type Status string

const (
	StatusPending  Status = "pending"
	StatusClaimed  Status = "claimed"
	StatusFinished Status = "finished"
)

// ExecutionOrder is a queued batch of accounts awaiting swap dispatch. The
// accounts are embedded so dispatch needs no further lookups.
type ExecutionOrder struct {
	ID         string            `json:"id"`
	Accounts   []account.Account `json:"accounts"`
	CreatedAt  time.Time         `json:"created_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// Status reports where the order is in its lifecycle.
func (o ExecutionOrder) Status() Status {
	switch {
	case o.FinishedAt != nil:
		return StatusFinished
	case o.StartedAt != nil:
		return StatusClaimed
	default:
		return StatusPending
	}
}

// AccountIDs returns the embedded account identifiers in batch order.
func (o ExecutionOrder) AccountIDs() []int64 {
	ids := make([]int64, 0, len(o.Accounts))
	for _, acct := range o.Accounts {
		ids = append(ids, acct.ID)
	}
	return ids
}

// Redacted returns a deep copy with key material stripped from every account.
func (o ExecutionOrder) Redacted() ExecutionOrder {
	out := o.Clone()
	for i := range out.Accounts {
		out.Accounts[i] = out.Accounts[i].Redacted()
	}
	return out
}

// Clone returns a deep copy of the order.
func (o ExecutionOrder) Clone() ExecutionOrder {
	o.Accounts = append([]account.Account(nil), o.Accounts...)
	o.StartedAt = cloneTime(o.StartedAt)
	o.FinishedAt = cloneTime(o.FinishedAt)
	return o
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
