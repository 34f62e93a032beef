package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"wallet-ledger/internal/core/domain"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
	Quote       QuoteConfig       `mapstructure:"quote"`
	Security    SecurityConfig    `mapstructure:"security"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // debug, release, test
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// StorageConfig selects the ledger store: "postgres" or "memory".
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

// LedgerConfig holds the business constants of the ledger.
type LedgerConfig struct {
	WithdrawalFeeRate  string        `mapstructure:"withdrawal_fee_rate"`
	ConversionFeeRate  string        `mapstructure:"conversion_fee_rate"`
	TransferFeeRate    string        `mapstructure:"transfer_fee_rate"`
	LockTimeout        time.Duration `mapstructure:"lock_timeout"`
	RequiredCurrencies []string      `mapstructure:"required_currencies"`
}

// FeeSchedule parses the configured fee rates.
func (l LedgerConfig) FeeSchedule() (domain.FeeSchedule, error) {
	var fs domain.FeeSchedule
	var err error
	if fs.Withdrawal, err = parseRate("withdrawal_fee_rate", l.WithdrawalFeeRate); err != nil {
		return fs, err
	}
	if fs.Conversion, err = parseRate("conversion_fee_rate", l.ConversionFeeRate); err != nil {
		return fs, err
	}
	if fs.Transfer, err = parseRate("transfer_fee_rate", l.TransferFeeRate); err != nil {
		return fs, err
	}
	return fs, fs.Validate()
}

// Currencies returns the normalized required currency codes.
func (l LedgerConfig) Currencies() []string {
	out := make([]string, 0, len(l.RequiredCurrencies))
	for _, c := range l.RequiredCurrencies {
		if code := domain.NormalizeCurrencyCode(c); code != "" {
			out = append(out, code)
		}
	}
	return out
}

func parseRate(name, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger.%s: %w", name, err)
	}
	return d, nil
}

// QuoteConfig configures the exchange-rate provider.
type QuoteConfig struct {
	Provider    string            `mapstructure:"provider"` // coinbase, static
	BaseURL     string            `mapstructure:"base_url"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	CacheTTL    time.Duration     `mapstructure:"cache_ttl"`
	StaticRates map[string]string `mapstructure:"static_rates"` // "BTC-USD": "65000"
}

// SecurityConfig selects how wallet secrets are digested.
type SecurityConfig struct {
	SecretHash    string `mapstructure:"secret_hash"` // sha256, argon2id
	Argon2Time    uint32 `mapstructure:"argon2_time"`
	Argon2Memory  uint32 `mapstructure:"argon2_memory"` // KiB
	Argon2Threads uint8  `mapstructure:"argon2_threads"`
}

type IdempotencyConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from .env, file and environment variables.
// Environment variables override file values. Prefix: WLT_.
// Nested keys use underscore: WLT_DATABASE_HOST, WLT_LEDGER_WITHDRAWAL_FEE_RATE, etc.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "wallet_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("ledger.withdrawal_fee_rate", "0.01")
	v.SetDefault("ledger.conversion_fee_rate", "0.01")
	v.SetDefault("ledger.transfer_fee_rate", "0.01")
	v.SetDefault("ledger.lock_timeout", "3s")
	v.SetDefault("ledger.required_currencies", []string{"BTC", "ETH", "SOL", "USD", "BRL"})
	v.SetDefault("quote.provider", "coinbase")
	v.SetDefault("quote.base_url", "https://api.coinbase.com")
	v.SetDefault("quote.timeout", "5s")
	v.SetDefault("quote.cache_ttl", "10s")
	v.SetDefault("security.secret_hash", "sha256")
	v.SetDefault("security.argon2_time", 1)
	v.SetDefault("security.argon2_memory", 64*1024)
	v.SetDefault("security.argon2_threads", 4)
	v.SetDefault("idempotency.ttl", "24h")
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: WLT_DATABASE_HOST -> database.host
	v.SetEnvPrefix("WLT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if _, err := cfg.Ledger.FeeSchedule(); err != nil {
		return nil, fmt.Errorf("invalid ledger config: %w", err)
	}
	switch cfg.Storage.Driver {
	case "postgres", "memory":
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}

	return &cfg, nil
}
