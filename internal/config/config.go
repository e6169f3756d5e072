package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// GeneralConfig holds process level settings
type GeneralConfig struct {
	Env              string `env:"APP_ENV" envDefault:"dev"`
	Version          string `env:"APP_VERSION" envDefault:"dev"`
	PlatformTimezone string `env:"PLATFORM_TIMEZONE" envDefault:"UTC"`
}

// HTTPConfig configures the HTTP server
type HTTPConfig struct {
	Port            int           `env:"PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level string `env:"LEVEL" envDefault:"info"`
}

// DatabaseConfig configures the PostgreSQL connection
type DatabaseConfig struct {
	Enabled         bool   `env:"ENABLED" envDefault:"false"`
	Host            string `env:"HOST" envDefault:"localhost"`
	Port            int    `env:"PORT" envDefault:"5432"`
	User            string `env:"USER" envDefault:"postgres"`
	Password        string `env:"PASSWORD" envDefault:"postgres"`
	DBName          string `env:"DB_NAME" envDefault:"bidbeacon"`
	SSLMode         string `env:"SSL_MODE" envDefault:"disable"`
	MaxOpenConns    int    `env:"MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int    `env:"MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime int    `env:"CONN_MAX_LIFETIME_MINUTES" envDefault:"30"`
	ConnMaxIdleTime int    `env:"CONN_MAX_IDLE_TIME_MINUTES" envDefault:"5"`
	RunMigrations   bool   `env:"RUN_MIGRATIONS" envDefault:"true"`
}

// DSN returns a lib/pq keyword connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// URL returns a postgres:// connection url for pgx and golang-migrate
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// RedisConfig configures the shared Redis client
type RedisConfig struct {
	Enabled  bool   `env:"ENABLED" envDefault:"false"`
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB" envDefault:"0"`
}

// Ledger backends
const (
	LedgerMemory   = "memory"
	LedgerRedis    = "redis"
	LedgerPostgres = "postgres"
)

// LedgerConfig selects and tunes the budget ledger
type LedgerConfig struct {
	Backend   string        `env:"BACKEND" envDefault:"memory"`
	Timeout   time.Duration `env:"TIMEOUT" envDefault:"50ms"`
	KeyPrefix string        `env:"KEY_PREFIX" envDefault:"bidbeacon:ledger"`
}

// AuctionConfig holds the platform pricing rules. Money values are decimal
// strings.
type AuctionConfig struct {
	MinBid       string `env:"MIN_BID" envDefault:"0.05"`
	MaxBid       string `env:"MAX_BID" envDefault:"100"`
	MinCharge    string `env:"MIN_CHARGE" envDefault:"0.05"`
	MinIncrement string `env:"MIN_INCREMENT" envDefault:"0.01"`
	ReservePrice string `env:"RESERVE_PRICE" envDefault:"0.05"`
	DefaultSlots int    `env:"DEFAULT_SLOTS" envDefault:"3"`
	MaxSlots     int    `env:"MAX_SLOTS" envDefault:"10"`
}

// Pricing is AuctionConfig with money values parsed
type Pricing struct {
	MinBid       decimal.Decimal
	MaxBid       decimal.Decimal
	MinCharge    decimal.Decimal
	MinIncrement decimal.Decimal
	ReservePrice decimal.Decimal
}

// Pricing parses the money values
func (c AuctionConfig) Pricing() (Pricing, error) {
	var p Pricing
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"AUCTION_MIN_BID", c.MinBid, &p.MinBid},
		{"AUCTION_MAX_BID", c.MaxBid, &p.MaxBid},
		{"AUCTION_MIN_CHARGE", c.MinCharge, &p.MinCharge},
		{"AUCTION_MIN_INCREMENT", c.MinIncrement, &p.MinIncrement},
		{"AUCTION_RESERVE_PRICE", c.ReservePrice, &p.ReservePrice},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return Pricing{}, fmt.Errorf("%s: %w", f.name, err)
		}
		if d.IsNegative() {
			return Pricing{}, fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}
	if p.MaxBid.LessThan(p.MinBid) {
		return Pricing{}, errors.New("AUCTION_MAX_BID must be at least AUCTION_MIN_BID")
	}
	return p, nil
}

// IndexConfig tunes the bid index
type IndexConfig struct {
	RefreshInterval     time.Duration `env:"REFRESH_INTERVAL" envDefault:"5s"`
	InvalidationChannel string        `env:"INVALIDATION_CHANNEL" envDefault:"bidbeacon:index:invalidate"`
	ProductCacheTTL     time.Duration `env:"PRODUCT_CACHE_TTL" envDefault:"5m"`
	ProductCacheSize    int           `env:"PRODUCT_CACHE_SIZE" envDefault:"10000"`
}

// SchedulerConfig holds cron expressions for background jobs
type SchedulerConfig struct {
	DayResetCron       string `env:"DAY_RESET_CRON" envDefault:"0 0 * * *"`
	ReconcileCron      string `env:"RECONCILE_CRON" envDefault:"*/5 * * * *"`
	ReconcileBatchSize int    `env:"RECONCILE_BATCH_SIZE" envDefault:"500"`
}

// AlertConfig configures budget alert sinks
type AlertConfig struct {
	Channel string `env:"CHANNEL" envDefault:"bidbeacon:budget:alerts"`
}

// Config aggregates all configuration sections. Nested sections are parsed
// with their envPrefix.
type Config struct {
	General   GeneralConfig
	HTTP      HTTPConfig      `envPrefix:"HTTP_"`
	Log       LogConfig       `envPrefix:"LOG_"`
	Database  DatabaseConfig  `envPrefix:"PSQL_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
	Ledger    LedgerConfig    `envPrefix:"LEDGER_"`
	Auction   AuctionConfig   `envPrefix:"AUCTION_"`
	Index     IndexConfig     `envPrefix:"INDEX_"`
	Scheduler SchedulerConfig `envPrefix:"SCHEDULER_"`
	Alerts    AlertConfig     `envPrefix:"ALERTS_"`
}

// Load reads an optional .env file and parses the environment into a Config
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env files: %v", err)
	}
	return Parse()
}

// Parse parses the current environment into a Config and validates it
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints
func (c Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.Auction.Pricing(); err != nil {
		return err
	}
	switch c.Ledger.Backend {
	case LedgerMemory:
	case LedgerRedis:
		if !c.Redis.Enabled {
			return errors.New("LEDGER_BACKEND=redis requires REDIS_ENABLED=true")
		}
	case LedgerPostgres:
		if !c.Database.Enabled {
			return errors.New("LEDGER_BACKEND=postgres requires PSQL_ENABLED=true")
		}
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q", c.Ledger.Backend)
	}
	if c.Auction.DefaultSlots <= 0 || c.Auction.MaxSlots < c.Auction.DefaultSlots {
		return errors.New("AUCTION_DEFAULT_SLOTS must be positive and not above AUCTION_MAX_SLOTS")
	}
	return nil
}

// Location loads the platform timezone
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.General.PlatformTimezone)
	if err != nil {
		return nil, fmt.Errorf("PLATFORM_TIMEZONE: %w", err)
	}
	return loc, nil
}
