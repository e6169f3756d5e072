package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, LedgerMemory, cfg.Ledger.Backend)
	assert.Equal(t, 50*time.Millisecond, cfg.Ledger.Timeout)
	assert.Equal(t, 3, cfg.Auction.DefaultSlots)
	assert.Equal(t, "bidbeacon:index:invalidate", cfg.Index.InvalidationChannel)
	assert.Equal(t, "0 0 * * *", cfg.Scheduler.DayResetCron)

	pricing, err := cfg.Auction.Pricing()
	require.NoError(t, err)
	assert.True(t, pricing.ReservePrice.Equal(decimal.RequireFromString("0.05")))
	assert.True(t, pricing.MinIncrement.Equal(decimal.RequireFromString("0.01")))
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("PLATFORM_TIMEZONE", "America/New_York")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("LEDGER_BACKEND", "redis")
	t.Setenv("AUCTION_RESERVE_PRICE", "0.10")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, LedgerRedis, cfg.Ledger.Backend)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())

	pricing, err := cfg.Auction.Pricing()
	require.NoError(t, err)
	assert.True(t, pricing.ReservePrice.Equal(decimal.RequireFromString("0.1")))
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown timezone", map[string]string{"PLATFORM_TIMEZONE": "Mars/Olympus"}},
		{"redis ledger without redis", map[string]string{"LEDGER_BACKEND": "redis"}},
		{"postgres ledger without database", map[string]string{"LEDGER_BACKEND": "postgres"}},
		{"unknown ledger", map[string]string{"LEDGER_BACKEND": "etcd"}},
		{"bad money", map[string]string{"AUCTION_MIN_BID": "cheap"}},
		{"negative money", map[string]string{"AUCTION_RESERVE_PRICE": "-1"}},
		{"max below min", map[string]string{"AUCTION_MIN_BID": "5", "AUCTION_MAX_BID": "1"}},
		{"slots above max", map[string]string{"AUCTION_DEFAULT_SLOTS": "12"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Parse()
			assert.Error(t, err)
		})
	}
}

func TestDatabaseConfig_URLs(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "ads", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/ads?sslmode=disable", c.URL())
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=ads sslmode=disable", c.DSN())
}
