// Package scheduler owns the two periodic tasks that feed and drain the
// execution order queue.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/swap_dispatcher/internal/app/domain/order"
	"github.com/R3E-Network/swap_dispatcher/internal/app/metrics"
	"github.com/R3E-Network/swap_dispatcher/internal/app/services/dispatch"
	"github.com/R3E-Network/swap_dispatcher/internal/app/system"
	"github.com/R3E-Network/swap_dispatcher/pkg/logger"
)

// Task names.
const (
	JobOrderCreation = "order-creation"
	JobDispatch      = "dispatch"
)

// DefaultSchedule fires every fifteen seconds.
const DefaultSchedule = "@every 15s"

// NoNextRunMessage is how a schedule without a future fire time is reported.
const NoNextRunMessage = "error: next fire date is in the past!"

var (
	ErrAlreadyRunning = errors.New("scheduler already started")
	ErrNotStarted     = errors.New("scheduler was never started")
)

// NoNextRun is the Next value of a job whose schedule never fires again.
var NoNextRun = time.Time{}

// State is the lifecycle state of the scheduler.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// Selector picks account ids for a new order.
type Selector interface {
	Select(ctx context.Context, size int) ([]int64, error)
}

// OrderCreator persists a new execution order.
type OrderCreator interface {
	Create(ctx context.Context, ids []int64) (order.ExecutionOrder, error)
}

// Dispatcher runs one dispatch tick.
type Dispatcher interface {
	RunOnce(ctx context.Context) (*dispatch.Run, error)
}

// Config configures schedules and tick behaviour.
type Config struct {
	OrderSchedule    string
	DispatchSchedule string
	BatchSize        int
	// TickTimeout bounds a single tick. Zero means no limit.
	TickTimeout time.Duration
}

// Job describes a registered task.
type Job struct {
	Name    string    `json:"name"`
	Next    time.Time `json:"next"`
	Running bool      `json:"running"`
}

// NextString renders Next, or NoNextRunMessage when the schedule is exhausted.
func (j Job) NextString() string {
	if j.Next.Equal(NoNextRun) {
		return NoNextRunMessage
	}
	return j.Next.Format(time.RFC3339)
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a schedule string. Both five and six field cron
// expressions are accepted, as are descriptors such as "@every 15s".
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return sched, nil
}

type task struct {
	name     string
	cron     *cron.Cron
	schedule cron.Schedule
}

// Scheduler runs order creation and dispatch on independent timers. Each task
// has its own cron so a slow tick on one never delays the other.
type Scheduler struct {
	selector   Selector
	creator    OrderCreator
	dispatcher Dispatcher
	cfg        Config
	log        *logger.Logger
	now        func() time.Time

	mu      sync.Mutex
	tasks   []*task
	state   State
	baseCtx context.Context
}

var _ system.Service = (*Scheduler)(nil)

// New creates a stopped scheduler.
func New(selector Selector, creator OrderCreator, dispatcher Dispatcher, cfg Config, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	if strings.TrimSpace(cfg.OrderSchedule) == "" {
		cfg.OrderSchedule = DefaultSchedule
	}
	if strings.TrimSpace(cfg.DispatchSchedule) == "" {
		cfg.DispatchSchedule = DefaultSchedule
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Scheduler{
		selector:   selector,
		creator:    creator,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
		state:      StateStopped,
	}
}

// WithClock overrides the time source used by ListJobs.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Scheduler) Name() string { return "scheduler" }

// Start registers and starts both tasks. It fails with ErrAlreadyRunning once
// tasks are registered, even if they were stopped since; use Restart then. A
// bad schedule registers nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tasks != nil {
		return ErrAlreadyRunning
	}

	orderSched, err := ParseSchedule(s.cfg.OrderSchedule)
	if err != nil {
		return fmt.Errorf("%s: %w", JobOrderCreation, err)
	}
	dispatchSched, err := ParseSchedule(s.cfg.DispatchSchedule)
	if err != nil {
		return fmt.Errorf("%s: %w", JobDispatch, err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	s.baseCtx = context.WithoutCancel(ctx)
	s.tasks = []*task{
		s.newTask(JobOrderCreation, orderSched, func(ctx context.Context) error {
			_, err := s.RunOrderCreation(ctx)
			return err
		}),
		s.newTask(JobDispatch, dispatchSched, func(ctx context.Context) error {
			_, err := s.RunDispatch(ctx)
			return err
		}),
	}
	for _, t := range s.tasks {
		t.cron.Start()
	}
	s.state = StateRunning
	s.log.WithField("order_schedule", s.cfg.OrderSchedule).
		WithField("dispatch_schedule", s.cfg.DispatchSchedule).
		Info("scheduler started")
	return nil
}

// Stop halts future ticks. In-flight ticks run to completion. Stopping a
// scheduler that was never started is a no-op.
func (s *Scheduler) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		t.cron.Stop()
	}
	if s.tasks != nil && s.state == StateRunning {
		s.log.Info("scheduler stopped")
	}
	s.state = StateStopped
	return nil
}

// Restart resumes the registered tasks without re-registering them.
func (s *Scheduler) Restart(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tasks == nil {
		return ErrNotStarted
	}
	for _, t := range s.tasks {
		t.cron.Start()
	}
	s.state = StateRunning
	s.log.Info("scheduler restarted")
	return nil
}

// Shutdown stops both tasks and waits for in-flight ticks or ctx, whichever
// comes first.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	var pending []context.Context
	for _, t := range s.tasks {
		pending = append(pending, t.cron.Stop())
	}
	s.state = StateStopped
	s.mu.Unlock()

	for _, done := range pending {
		select {
		case <-done.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// ListJobs reports each registered task with its next fire time. While
// running that is the cron entry's own next activation; stopped tasks report
// the schedule's next time after now.
func (s *Scheduler) ListJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	running := s.state == StateRunning
	jobs := make([]Job, 0, len(s.tasks))
	for _, t := range s.tasks {
		jobs = append(jobs, Job{
			Name:    t.name,
			Next:    t.next(now, running),
			Running: running,
		})
	}
	return jobs
}

func (t *task) next(now time.Time, running bool) time.Time {
	if running {
		if entries := t.cron.Entries(); len(entries) > 0 && !entries[0].Next.IsZero() {
			return entries[0].Next
		}
	}
	return t.schedule.Next(now)
}

// State reports the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RunOrderCreation selects a batch and enqueues an order for it.
func (s *Scheduler) RunOrderCreation(ctx context.Context) (order.ExecutionOrder, error) {
	ids, err := s.selector.Select(ctx, s.cfg.BatchSize)
	if err != nil {
		return order.ExecutionOrder{}, fmt.Errorf("select batch: %w", err)
	}
	return s.creator.Create(ctx, ids)
}

// RunDispatch runs one dispatch tick.
func (s *Scheduler) RunDispatch(ctx context.Context) (*dispatch.Run, error) {
	return s.dispatcher.RunOnce(ctx)
}

func (s *Scheduler) newTask(name string, sched cron.Schedule, fn func(context.Context) error) *task {
	cl := cronLogger{entry: s.log.WithField("job", name)}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	c.Schedule(sched, cron.FuncJob(func() { s.tick(name, fn) }))
	return &task{name: name, cron: c, schedule: sched}
}

// tick runs fn with a fresh context. Errors are logged and never stop the
// scheduler.
func (s *Scheduler) tick(name string, fn func(context.Context) error) {
	s.mu.Lock()
	base := s.baseCtx
	s.mu.Unlock()

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if s.cfg.TickTimeout > 0 {
		ctx, cancel = context.WithTimeout(base, s.cfg.TickTimeout)
	} else {
		ctx, cancel = context.WithCancel(base)
	}
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	metrics.RecordTick(name, time.Since(start), err == nil)
	if err != nil {
		s.log.WithError(err).WithField("job", name).Warn("scheduled tick failed")
	}
}
