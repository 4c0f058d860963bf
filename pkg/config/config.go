// Package config loads the reconciler configuration from the environment.
// A .env file, when present, is read first; variables already set in the
// environment win over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"bank-recon/pkg/bank"
	"bank-recon/pkg/reconcache"
	"bank-recon/pkg/resilience"
	"bank-recon/pkg/store/postgres"

	"github.com/joho/godotenv"
)

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxWebhookBytes int64
}

// JWTConfig configures bearer token verification.
type JWTConfig struct {
	Secret string
	Issuer string
}

// RedisConfig configures the L2 cache layer. An empty Addr and no cluster
// addresses leave the chain memory-only.
type RedisConfig struct {
	Addr           string
	ClusterAddrs   []string
	SentinelAddrs  []string
	SentinelMaster string
	Password       string
	DB             int
	KeyPrefix      string
	// BloomItems and BloomFPRate size the bloom guard in front of Redis.
	BloomItems  uint
	BloomFPRate float64
}

// Enabled reports whether a Redis layer should be built.
func (c RedisConfig) Enabled() bool {
	return c.Addr != "" || len(c.ClusterAddrs) > 0 || len(c.SentinelAddrs) > 0
}

// CacheConfig configures the reconciliation read cache.
type CacheConfig struct {
	L1Size int
	// L1MaxTTL bounds how long a replica serves a read from memory.
	L1MaxTTL time.Duration
	TTLs     reconcache.TTLs
}

// BankConfig holds one bank's endpoint and credentials. A bank with no
// BaseURL is not registered.
type BankConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	APIKey       string
	CertFile     string
	CertPassword string
}

// Enabled reports whether the bank is configured.
func (c BankConfig) Enabled() bool {
	return c.BaseURL != ""
}

// IntegrationConfig configures the bank integration service and adapters.
type IntegrationConfig struct {
	MaxSpan         time.Duration
	Lookback        time.Duration
	BankTimeout     time.Duration
	TokenSkew       time.Duration
	SyncConcurrency int
}

// BreakerConfig configures the per-bank circuit breakers.
type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	Interval            time.Duration
}

// AuditConfig configures the asynchronous audit writer.
type AuditConfig struct {
	QueueSize int
	Workers   int
}

// Config is the full reconciler configuration.
type Config struct {
	HTTP             HTTPConfig
	JWT              JWTConfig
	Postgres         postgres.Config
	Redis            RedisConfig
	Cache            CacheConfig
	Integration      IntegrationConfig
	Breaker          BreakerConfig
	Audit            AuditConfig
	MetricsNamespace string
	// Banks is keyed by bank code.
	Banks map[string]BankConfig
}

// bankEnvPrefixes maps each supported bank to its variable prefix.
var bankEnvPrefixes = map[string]string{
	bank.BancoDoBrasil: "BB",
	bank.Itau:          "ITAU",
	bank.Bradesco:      "BRADESCO",
	bank.Inter:         "INTER",
	bank.Caixa:         "CAIXA",
}

// Load reads the given .env files (default ".env"), then the environment.
// Missing files are ignored.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv builds and validates a Config from environment variables only.
func FromEnv() (*Config, error) {
	pg := postgres.DefaultConfig()
	pg.URL = getEnv("DATABASE_URL", "")
	pg.Host = getEnv("POSTGRES_HOST", pg.Host)
	pg.Port = getEnvInt("POSTGRES_PORT", pg.Port)
	pg.User = getEnv("POSTGRES_USER", pg.User)
	pg.Password = getEnv("POSTGRES_PASSWORD", pg.Password)
	pg.Database = getEnv("POSTGRES_DB", pg.Database)
	pg.SSLMode = getEnv("POSTGRES_SSLMODE", pg.SSLMode)
	pg.MaxOpenConns = getEnvInt("POSTGRES_MAX_OPEN_CONNS", pg.MaxOpenConns)
	pg.MaxIdleConns = getEnvInt("POSTGRES_MAX_IDLE_CONNS", pg.MaxIdleConns)

	ttls := reconcache.DefaultTTLs()
	bankDefaults := resilience.BankConfig()

	cfg := &Config{
		HTTP: HTTPConfig{
			Address:         getEnv("HTTP_ADDR", ":"+getEnv("PORT", "8080")),
			ReadTimeout:     getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("HTTP_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
			MaxWebhookBytes: int64(getEnvInt("WEBHOOK_MAX_BYTES", 1<<20)),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
			Issuer: getEnv("JWT_ISSUER", ""),
		},
		Postgres: pg,
		Redis: RedisConfig{
			Addr:           getEnv("REDIS_ADDR", ""),
			ClusterAddrs:   getEnvList("REDIS_CLUSTER_ADDRS"),
			SentinelAddrs:  getEnvList("REDIS_SENTINEL_ADDRS"),
			SentinelMaster: getEnv("REDIS_SENTINEL_MASTER", ""),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvInt("REDIS_DB", 0),
			KeyPrefix:      getEnv("REDIS_KEY_PREFIX", "bankrecon:"),
			BloomItems:     uint(getEnvInt("BLOOM_EXPECTED_ITEMS", 100000)),
			BloomFPRate:    getEnvFloat("BLOOM_FP_RATE", 0.01),
		},
		Cache: CacheConfig{
			L1Size:   getEnvInt("CACHE_L1_SIZE", 10000),
			L1MaxTTL: getEnvDuration("CACHE_L1_MAX_TTL", time.Minute),
			TTLs: reconcache.TTLs{
				Pending:    getEnvDuration("CACHE_TTL_PENDING", ttls.Pending),
				Reconciled: getEnvDuration("CACHE_TTL_RECONCILED", ttls.Reconciled),
				List:       getEnvDuration("CACHE_TTL_LIST", ttls.List),
				Balance:    getEnvDuration("CACHE_TTL_BALANCE", ttls.Balance),
			},
		},
		Integration: IntegrationConfig{
			MaxSpan:         getEnvDuration("STATEMENT_MAX_SPAN", bank.DefaultMaxStatementSpan),
			Lookback:        getEnvDuration("SYNC_LOOKBACK", 30*24*time.Hour),
			BankTimeout:     getEnvDuration("BANK_TIMEOUT", bankDefaults.Timeout),
			TokenSkew:       getEnvDuration("TOKEN_SKEW", time.Minute),
			SyncConcurrency: getEnvInt("SYNC_CONCURRENCY", 4),
		},
		Breaker: BreakerConfig{
			ConsecutiveFailures: uint32(getEnvInt("BANK_BREAKER_FAILURES", 5)),
			OpenTimeout:         getEnvDuration("BANK_BREAKER_OPEN_TIMEOUT", bankDefaults.CircuitBreakerConfig.Timeout),
			Interval:            getEnvDuration("BANK_BREAKER_INTERVAL", bankDefaults.CircuitBreakerConfig.Interval),
		},
		Audit: AuditConfig{
			QueueSize: getEnvInt("AUDIT_QUEUE_SIZE", 1000),
			Workers:   getEnvInt("AUDIT_WORKERS", 2),
		},
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "bank_recon"),
		Banks:            make(map[string]BankConfig, len(bankEnvPrefixes)),
	}

	for code, prefix := range bankEnvPrefixes {
		bc := BankConfig{
			BaseURL:      getEnv(prefix+"_BASE_URL", ""),
			TokenURL:     getEnv(prefix+"_TOKEN_URL", ""),
			ClientID:     getEnv(prefix+"_CLIENT_ID", ""),
			ClientSecret: getEnv(prefix+"_CLIENT_SECRET", ""),
			Scopes:       getEnvList(prefix + "_SCOPES"),
			APIKey:       getEnv(prefix+"_API_KEY", ""),
			CertFile:     getEnv(prefix+"_CERT_FILE", ""),
			CertPassword: getEnv(prefix+"_CERT_PASSWORD", ""),
		}
		if bc.Enabled() {
			cfg.Banks[code] = bc
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Integration.MaxSpan <= 0 {
		errs = append(errs, errors.New("STATEMENT_MAX_SPAN must be positive"))
	}
	if c.Integration.Lookback <= 0 {
		errs = append(errs, errors.New("SYNC_LOOKBACK must be positive"))
	}
	if c.Integration.BankTimeout <= 0 {
		errs = append(errs, errors.New("BANK_TIMEOUT must be positive"))
	}
	if c.Breaker.ConsecutiveFailures == 0 {
		errs = append(errs, errors.New("BANK_BREAKER_FAILURES must be positive"))
	}
	bankResilience := resilience.ResilientConfig{Timeout: c.Integration.BankTimeout, CircuitBreakerConfig: c.BankBreaker()}
	if c.Integration.BankTimeout > 0 {
		if err := bankResilience.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("BANK_BREAKER_*: %w", err))
		}
	}
	if len(c.Redis.SentinelAddrs) > 0 && c.Redis.SentinelMaster == "" {
		errs = append(errs, errors.New("REDIS_SENTINEL_MASTER is required with REDIS_SENTINEL_ADDRS"))
	}
	if c.Redis.BloomFPRate <= 0 || c.Redis.BloomFPRate >= 1 {
		errs = append(errs, errors.New("BLOOM_FP_RATE must be between 0 and 1"))
	}
	for code, bc := range c.Banks {
		prefix := bankEnvPrefixes[code]
		if code == bank.Caixa {
			if bc.APIKey == "" {
				errs = append(errs, fmt.Errorf("%s_API_KEY is required", prefix))
			}
			continue
		}
		if bc.ClientID == "" || bc.ClientSecret == "" {
			errs = append(errs, fmt.Errorf("%s_CLIENT_ID and %s_CLIENT_SECRET are required", prefix, prefix))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// BankBreaker returns the breaker settings shared by every bank adapter.
func (c *Config) BankBreaker() resilience.CircuitBreakerConfig {
	cb := resilience.BankConfig().CircuitBreakerConfig
	cb.ReadyToTrip = resilience.ConsecutiveFailures(c.Breaker.ConsecutiveFailures)
	cb.Timeout = c.Breaker.OpenTimeout
	cb.Interval = c.Breaker.Interval
	return cb
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s", "2h") or a plain number of days ("90d").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if days, ok := strings.CutSuffix(value, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil {
			return time.Duration(n) * 24 * time.Hour
		}
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
