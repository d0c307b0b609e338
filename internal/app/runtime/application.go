package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/swap_dispatcher/internal/app/httpapi"
	"github.com/R3E-Network/swap_dispatcher/internal/app/services/amounts"
	"github.com/R3E-Network/swap_dispatcher/internal/app/services/batch"
	"github.com/R3E-Network/swap_dispatcher/internal/app/services/dispatch"
	"github.com/R3E-Network/swap_dispatcher/internal/app/services/orders"
	"github.com/R3E-Network/swap_dispatcher/internal/app/services/random"
	"github.com/R3E-Network/swap_dispatcher/internal/app/services/scheduler"
	"github.com/R3E-Network/swap_dispatcher/internal/app/services/swap"
	"github.com/R3E-Network/swap_dispatcher/internal/app/storage"
	"github.com/R3E-Network/swap_dispatcher/internal/app/storage/memory"
	"github.com/R3E-Network/swap_dispatcher/internal/app/storage/postgres"
	"github.com/R3E-Network/swap_dispatcher/internal/app/system"
	"github.com/R3E-Network/swap_dispatcher/internal/config"
	"github.com/R3E-Network/swap_dispatcher/internal/platform/migrations"
	"github.com/R3E-Network/swap_dispatcher/pkg/logger"
)

// Stores bundles the repositories the services run on.
type Stores struct {
	Accounts storage.AccountStore
	Orders   storage.OrderStore
	Amounts  storage.AmountStore
}

// Application wires core dependencies and manages the HTTP server and
// scheduler lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	db         *sqlx.DB
	auditFile  *os.File
	httpServer *http.Server
	handler    http.Handler

	Orders    *orders.Factory
	Amounts   *amounts.Service
	Pipeline  *dispatch.Pipeline
	Scheduler *scheduler.Scheduler

	mu       sync.Mutex
	addr     net.Addr
	services []system.Service
}

// drainer is implemented by services that can wait for in-flight work when
// stopping.
type drainer interface {
	Shutdown(ctx context.Context) error
}

// NewApplication constructs the application from configuration, opening the
// configured store.
func NewApplication(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("runtime")
	}
	stores, db, err := buildStores(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	swapClient := swap.New(swap.Config{
		BaseURL:   cfg.Swap.APIURL,
		RateLimit: cfg.Swap.RateLimit,
		RateBurst: cfg.Swap.RateBurst,
	}, log.Component("swap"))

	app, err := New(ctx, cfg, stores, swapClient, log)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, err
	}
	app.db = db
	return app, nil
}

// New wires services over the given stores and executor.
func New(ctx context.Context, cfg *config.Config, stores Stores, exec dispatch.Executor, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("runtime")
	}
	rnd := random.New()

	factory := orders.New(stores.Accounts, stores.Orders, log.Component("orders"))
	amountSvc := amounts.New(stores.Amounts, cfg.Amounts.TableSize, rnd, log.Component("amounts"))
	pipeline := dispatch.New(stores.Orders, amountSvc, exec, dispatch.Config{
		SourceAsset:      cfg.Swap.SourceAsset,
		DestinationAsset: cfg.Swap.DestinationAsset,
		AmountDecimals:   cfg.Swap.AmountDecimals,
		SlippageBps:      cfg.Swap.SlippageBps,
		Options: swap.ExecuteOptions{
			PriorityFee:        cfg.Swap.PriorityFee,
			DynamicSlippageMin: cfg.Swap.DynamicSlippageMin,
			DynamicSlippageMax: cfg.Swap.DynamicSlippageMax,
		},
		CallTimeout: cfg.Swap.CallTimeout,
	}, log.Component("dispatch"))
	sched := scheduler.New(
		batch.New(stores.Accounts, rnd, log.Component("batch")),
		factory,
		pipeline,
		scheduler.Config{
			OrderSchedule:    cfg.Scheduler.OrderSchedule,
			DispatchSchedule: cfg.Scheduler.DispatchSchedule,
			BatchSize:        cfg.Scheduler.BatchSize,
			TickTimeout:      cfg.Scheduler.TickTimeout,
		},
		log.Component("scheduler"),
	)

	if cfg.Amounts.SeedFile != "" {
		entries, err := config.LoadAmountTable(cfg.Amounts.SeedFile)
		if err != nil {
			return nil, err
		}
		if err := amountSvc.Replace(ctx, entries); err != nil {
			return nil, fmt.Errorf("seed amount table: %w", err)
		}
	}

	var (
		auditFile *os.File
		auditLog  *httpapi.AuditLog
	)
	if cfg.Server.AuditFile != "" {
		f, err := os.OpenFile(cfg.Server.AuditFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open audit file: %w", err)
		}
		auditFile = f
		auditLog = httpapi.NewAuditLog(0, f)
	}

	handler := httpapi.NewHandler(httpapi.Services{
		Scheduler: sched,
		Orders:    factory,
		Amounts:   amountSvc,
		Audit:     auditLog,
	}, log.Component("httpapi"))

	app := &Application{
		cfg:       cfg,
		log:       log,
		auditFile: auditFile,
		handler:   handler,
		httpServer: &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		Orders:    factory,
		Amounts:   amountSvc,
		Pipeline:  pipeline,
		Scheduler: sched,
	}
	app.Attach(sched)
	return app, nil
}

// Attach registers a lifecycle-managed service stopped during Shutdown.
func (a *Application) Attach(service system.Service) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.services = append(a.services, service)
}

// Handler returns the control surface router.
func (a *Application) Handler() http.Handler { return a.handler }

// Addr returns the bound listen address once Run has started listening.
func (a *Application) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Run starts the HTTP server, optionally starts the scheduler, and blocks
// until ctx is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.Server.Addr, err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", ln.Addr())
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if a.cfg.Scheduler.Autostart {
		if err := a.Scheduler.Start(ctx); err != nil {
			a.log.WithError(err).Warn("scheduler autostart failed")
		}
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops attached services in reverse order, draining in-flight
// ticks, then stops the HTTP server and closes the database.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a.mu.Lock()
	services := append([]system.Service(nil), a.services...)
	a.mu.Unlock()

	var errs []error
	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]
		var err error
		if d, ok := svc.(drainer); ok {
			err = d.Shutdown(shutdownCtx)
		} else {
			err = svc.Stop(shutdownCtx)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", svc.Name(), err))
		}
	}
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if a.auditFile != nil {
		if err := a.auditFile.Close(); err != nil {
			a.log.WithError(err).Warn("error closing audit file")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return errors.Join(errs...)
}

func buildStores(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (Stores, *sqlx.DB, error) {
	switch cfg.Driver {
	case "", config.DriverMemory:
		log.Warn("using in-memory storage; state is lost on restart")
		mem := memory.New()
		return Stores{Accounts: mem, Orders: mem, Amounts: mem}, nil, nil
	case config.DriverPostgres:
		db, err := openDatabase(ctx, cfg)
		if err != nil {
			return Stores{}, nil, err
		}
		if cfg.Migrate {
			if err := migrations.Apply(ctx, db); err != nil {
				db.Close()
				return Stores{}, nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		pg := postgres.New(db)
		return Stores{Accounts: pg, Orders: pg, Amounts: pg}, db, nil
	default:
		return Stores{}, nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sqlx.Open(config.DriverPostgres, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
