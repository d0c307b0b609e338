// Package config loads dispatcher configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Storage drivers understood by the runtime.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config is the full runtime configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Scheduler SchedulerConfig
	Amounts   AmountsConfig
	Swap      SwapConfig
	Logging   LoggingConfig
}

// ServerConfig configures the control surface.
type ServerConfig struct {
	Addr            string        `env:"HTTP_ADDR,default=:8080"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT,default=10s"`
	AuditFile       string        `env:"HTTP_AUDIT_FILE"`
}

// DatabaseConfig configures the backing store.
type DatabaseConfig struct {
	Driver          string        `env:"STORAGE_DRIVER,default=memory"`
	DSN             string        `env:"DATABASE_DSN"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME,default=30m"`
	Migrate         bool          `env:"DB_MIGRATE,default=true"`
}

// SchedulerConfig configures the two periodic tasks.
type SchedulerConfig struct {
	OrderSchedule    string        `env:"ORDER_SCHEDULE,default=@every 15s"`
	DispatchSchedule string        `env:"DISPATCH_SCHEDULE,default=@every 15s"`
	BatchSize        int           `env:"BATCH_SIZE,default=1"`
	TickTimeout      time.Duration `env:"TICK_TIMEOUT,default=0s"`
	Autostart        bool          `env:"SCHEDULER_AUTOSTART,default=false"`
}

// AmountsConfig configures the swap amount table.
type AmountsConfig struct {
	TableSize int    `env:"AMOUNT_TABLE_SIZE,default=13"`
	SeedFile  string `env:"AMOUNT_TABLE_FILE"`
}

// SwapConfig configures the external swap provider and the request template.
type SwapConfig struct {
	APIURL             string        `env:"SWAP_API_URL,default=http://localhost:8090/v1"`
	SourceAsset        string        `env:"SWAP_SOURCE_ASSET,default=0xd2a4cff31913016155e38e474a2c06d08be276cf"`
	DestinationAsset   string        `env:"SWAP_DESTINATION_ASSET,default=0xef4073a0f2b305a38ec4050e4d3d28bc40ea63f5"`
	AmountDecimals     int32         `env:"SWAP_AMOUNT_DECIMALS,default=8"`
	SlippageBps        int           `env:"SWAP_SLIPPAGE_BPS,default=50"`
	DynamicSlippageMin int           `env:"SWAP_DYNAMIC_SLIPPAGE_MIN_BPS,default=50"`
	DynamicSlippageMax int           `env:"SWAP_DYNAMIC_SLIPPAGE_MAX_BPS,default=2000"`
	PriorityFee        int64         `env:"SWAP_PRIORITY_FEE,default=100000"`
	CallTimeout        time.Duration `env:"SWAP_CALL_TIMEOUT,default=30s"`
	RateLimit          float64       `env:"SWAP_RATE_LIMIT,default=5"`
	RateBurst          int           `env:"SWAP_RATE_BURST,default=1"`
}

// LoggingConfig mirrors logger.LoggingConfig so this package stays free of
// logger imports.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=text"`
	Output string `env:"LOG_OUTPUT,default=stderr"`
}

// Load reads an optional dotenv file and decodes the environment.
// envFiles that do not exist are ignored.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil && !isNotExist(err) {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and cross-field requirements.
func (c *Config) Validate() error {
	var problems []string

	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			problems = append(problems, "DATABASE_DSN is required for the postgres driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown STORAGE_DRIVER %q", c.Database.Driver))
	}
	if c.Scheduler.BatchSize < 1 {
		problems = append(problems, "BATCH_SIZE must be at least 1")
	}
	if strings.TrimSpace(c.Scheduler.OrderSchedule) == "" || strings.TrimSpace(c.Scheduler.DispatchSchedule) == "" {
		problems = append(problems, "ORDER_SCHEDULE and DISPATCH_SCHEDULE are required")
	}
	if c.Amounts.TableSize < 1 {
		problems = append(problems, "AMOUNT_TABLE_SIZE must be at least 1")
	}
	if strings.TrimSpace(c.Swap.SourceAsset) == "" || strings.TrimSpace(c.Swap.DestinationAsset) == "" {
		problems = append(problems, "SWAP_SOURCE_ASSET and SWAP_DESTINATION_ASSET are required")
	}
	if c.Swap.AmountDecimals < 0 {
		problems = append(problems, "SWAP_AMOUNT_DECIMALS cannot be negative")
	}
	if c.Swap.DynamicSlippageMin > c.Swap.DynamicSlippageMax {
		problems = append(problems, "SWAP_DYNAMIC_SLIPPAGE_MIN_BPS exceeds SWAP_DYNAMIC_SLIPPAGE_MAX_BPS")
	}
	if c.Swap.RateLimit <= 0 || c.Swap.RateBurst < 1 {
		problems = append(problems, "SWAP_RATE_LIMIT and SWAP_RATE_BURST must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
