// Package dispatch claims queued execution orders and runs their swaps.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/swap_dispatcher/internal/app/domain/amount"
	"github.com/R3E-Network/swap_dispatcher/internal/app/domain/order"
	"github.com/R3E-Network/swap_dispatcher/internal/app/metrics"
	"github.com/R3E-Network/swap_dispatcher/internal/app/services/signer"
	"github.com/R3E-Network/swap_dispatcher/internal/app/services/swap"
	"github.com/R3E-Network/swap_dispatcher/internal/app/storage"
	"github.com/R3E-Network/swap_dispatcher/pkg/logger"
)

var (
	// ErrExecutionFailure wraps provider errors recorded in an Outcome.
	ErrExecutionFailure = errors.New("execution failure")
	// ErrAmountTooSmall aborts a tick whose drawn amount rounds to zero base units.
	ErrAmountTooSmall = errors.New("amount rounds to zero base units")
)

// DefaultAmountDecimals converts table amounts to provider base units.
const DefaultAmountDecimals = 8

// finishTimeout bounds the finish write, which runs detached from the tick
// context so an expired tick still records FinishedAt.
const finishTimeout = 5 * time.Second

// Executor is the external quote and execute capability.
type Executor interface {
	Quote(ctx context.Context, req swap.QuoteRequest) (swap.Quote, error)
	Execute(ctx context.Context, q swap.Quote, priv *keys.PrivateKey, opts swap.ExecuteOptions) (swap.Result, error)
}

// AmountDrawer draws one amount from the amount table.
type AmountDrawer interface {
	Draw(ctx context.Context) (amount.Entry, error)
}

// Config is the request template applied to every account in a batch.
type Config struct {
	SourceAsset      string
	DestinationAsset string
	AmountDecimals   int32
	SlippageBps      int
	Options          swap.ExecuteOptions
	// CallTimeout bounds each provider call. Zero means no limit.
	CallTimeout time.Duration
}

// Request is one transfer derived from a claimed order.
type Request struct {
	AccountID   int64
	InputAsset  string
	OutputAsset string
	Amount      decimal.Decimal
	BaseUnits   int64
	Secret      string
}

// Outcome records how one request ended.
type Outcome struct {
	AccountID int64  `json:"account_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	TxID      string `json:"tx_id,omitempty"`
}

// Run is the result of a tick that claimed an order.
type Run struct {
	Order       order.ExecutionOrder `json:"order"`
	PositionKey int                  `json:"position_key"`
	Amount      decimal.Decimal      `json:"amount"`
	Outcomes    []Outcome            `json:"outcomes"`
}

// Succeeded counts successful outcomes.
func (r *Run) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Success {
			n++
		}
	}
	return n
}

// Pipeline claims one order per call and executes its requests in batch order.
type Pipeline struct {
	orders  storage.OrderStore
	amounts AmountDrawer
	exec    Executor
	cfg     Config
	log     *logger.Logger
	now     func() time.Time
}

// New creates a dispatch pipeline.
func New(orders storage.OrderStore, amounts AmountDrawer, exec Executor, cfg Config, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.NewDefault("dispatch")
	}
	if cfg.AmountDecimals < 0 {
		cfg.AmountDecimals = DefaultAmountDecimals
	}
	return &Pipeline{
		orders:  orders,
		amounts: amounts,
		exec:    exec,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// WithClock overrides the time source used for claim and finish timestamps.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	if now != nil {
		p.now = now
	}
	return p
}

// RunOnce claims the oldest pending order and dispatches it. It returns
// (nil, nil) when nothing is pending. Per-request failures are recorded in the
// outcomes and never abort the batch.
func (p *Pipeline) RunOnce(ctx context.Context) (*Run, error) {
	ord, err := p.orders.ClaimOldestUnclaimed(ctx, p.now())
	if errors.Is(err, storage.ErrNotFound) {
		metrics.RecordClaim(false)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim order: %w", err)
	}
	metrics.RecordClaim(true)
	log := p.log.WithField("order_id", ord.ID)

	entry, err := p.amounts.Draw(ctx)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", ord.ID, err)
	}
	units := entry.Amount.Shift(p.cfg.AmountDecimals).Round(0)
	if !units.IsPositive() {
		return nil, fmt.Errorf("order %s: %w: %s", ord.ID, ErrAmountTooSmall, entry.Amount)
	}

	run := &Run{
		Order:       ord,
		PositionKey: entry.PositionKey,
		Amount:      entry.Amount,
		Outcomes:    make([]Outcome, 0, len(ord.Accounts)),
	}
	for _, req := range p.requests(ord, entry.Amount, units.IntPart()) {
		outcome := p.execute(ctx, req)
		run.Outcomes = append(run.Outcomes, outcome)

		entryLog := log.WithField("account_id", req.AccountID)
		if outcome.Success {
			entryLog.WithField("tx_id", outcome.TxID).Info("swap executed")
		} else {
			entryLog.WithField("error", outcome.Error).Warn("swap failed")
		}
	}

	finished := p.now()
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	if err := p.orders.FinishOrder(finishCtx, ord.ID, finished); err != nil {
		log.WithError(err).Warn("mark order finished")
	} else {
		f := finished.UTC()
		run.Order.FinishedAt = &f
	}

	log.WithField("amount", entry.Amount.String()).
		WithField("succeeded", run.Succeeded()).
		WithField("total", len(run.Outcomes)).
		Info("execution order dispatched")
	return run, nil
}

func (p *Pipeline) requests(ord order.ExecutionOrder, value decimal.Decimal, units int64) []Request {
	reqs := make([]Request, 0, len(ord.Accounts))
	for _, acct := range ord.Accounts {
		reqs = append(reqs, Request{
			AccountID:   acct.ID,
			InputAsset:  p.cfg.SourceAsset,
			OutputAsset: p.cfg.DestinationAsset,
			Amount:      value,
			BaseUnits:   units,
			Secret:      acct.Secret,
		})
	}
	return reqs
}

func (p *Pipeline) execute(ctx context.Context, req Request) Outcome {
	out := Outcome{AccountID: req.AccountID}

	priv, err := signer.Decode(req.Secret)
	if err != nil {
		metrics.RecordTransfer(metrics.TransferInvalidKey)
		out.Error = signer.ErrInvalidKeyMaterial.Error()
		return out
	}
	defer priv.Destroy()

	res, err := p.swap(ctx, req, priv)
	if err != nil {
		metrics.RecordTransfer(metrics.TransferFailed)
		out.Error = fmt.Errorf("%w: %v", ErrExecutionFailure, err).Error()
		return out
	}

	metrics.RecordTransfer(metrics.TransferSuccess)
	out.Success = true
	out.TxID = res.TxID
	return out
}

func (p *Pipeline) swap(ctx context.Context, req Request, priv *keys.PrivateKey) (res swap.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()

	quoteCtx, cancel := p.callContext(ctx)
	q, err := p.exec.Quote(quoteCtx, swap.QuoteRequest{
		InputAsset:  req.InputAsset,
		OutputAsset: req.OutputAsset,
		Amount:      req.BaseUnits,
		SlippageBps: p.cfg.SlippageBps,
	})
	cancel()
	if err != nil {
		return swap.Result{}, err
	}

	execCtx, cancel := p.callContext(ctx)
	defer cancel()
	return p.exec.Execute(execCtx, q, priv, p.cfg.Options)
}

func (p *Pipeline) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.cfg.CallTimeout)
}
