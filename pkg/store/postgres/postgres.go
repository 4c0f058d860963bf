// Package postgres persists accounts, transactions, reconciliation runs and
// audit entries in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bank-recon/pkg/integration"
	"bank-recon/pkg/logging"
	"bank-recon/pkg/recon"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// URL, when set, replaces the individual fields above.
	URL string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultConfig returns default PostgreSQL configuration.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "bank_recon",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}

// DSN returns the connection string handed to lib/pq.
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Store implements recon.Store, integration.Store and audit.Sink over one pool.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
}

// Open connects and pings the database.
func Open(ctx context.Context, cfg Config, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Global()
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
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

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return New(db, logger), nil
}

// New wraps an existing pool.
func New(db *sql.DB, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Global()
	}
	return &Store{db: db, logger: logger.Named("postgres")}
}

// DB exposes the pool for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Recon returns the store as a recon.Store.
func (s *Store) Recon() recon.Store { return reconView{s} }

// Integration returns the store as an integration.Store.
func (s *Store) Integration() integration.Store { return integrationView{s} }

type reconView struct{ *Store }

func (v reconView) WithinTx(ctx context.Context, fn func(tx recon.Tx) error) error {
	return v.withinTx(ctx, func(t *tx) error { return fn(t) })
}

type integrationView struct{ *Store }

func (v integrationView) WithinTx(ctx context.Context, fn func(tx integration.Tx) error) error {
	return v.withinTx(ctx, func(t *tx) error { return fn(t) })
}

// withinTx runs fn inside a database transaction. Row locks taken by fn are
// released when it commits or rolls back.
func (s *Store) withinTx(ctx context.Context, fn func(t *tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				s.logger.Warn("rollback failed", zap.Error(rbErr))
			}
		}
	}()

	if err = fn(&tx{q: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Reads outside a unit of work run on the pool.

func (s *Store) GetReconciliation(ctx context.Context, id int64) (*recon.Reconciliation, error) {
	return getReconciliation(ctx, s.db, id, false)
}

func (s *Store) ListReconciliations(ctx context.Context, scope recon.Scope, w recon.Window) ([]recon.Reconciliation, error) {
	return listReconciliations(ctx, s.db, scope, w)
}

func (s *Store) ListTransactions(ctx context.Context, scope recon.Scope, w recon.Window, f recon.Filter) ([]recon.Transaction, error) {
	return listTransactions(ctx, s.db, scope, w, f)
}
