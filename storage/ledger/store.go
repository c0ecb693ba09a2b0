// Package ledger persists market state and token balances with gorm. The same
// code runs against PostgreSQL in production and SQLite in tests and
// single-node deployments.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"openrate/native/market"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	defaultRetries = 3
)

var errUnknownDriver = errors.New("ledger: unknown database driver")

// Store implements market.Store over a gorm connection.
type Store struct {
	db           *gorm.DB
	serializable bool
	retries      int
	logger       *slog.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithSerializable runs read-write transactions at SERIALIZABLE isolation and
// retries serialization failures up to retries times.
func WithSerializable(retries int) Option {
	return func(s *Store) {
		s.serializable = true
		if retries > 0 {
			s.retries = retries
		}
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New wraps an open gorm connection. The schema must already be migrated.
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{db: db, retries: defaultRetries, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to the configured database, migrates the schema and returns
// the store. SQLite connections are limited to a single writer.
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres, "postgresql":
		dialector = postgres.Open(dsn)
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", driver, err)
	}
	if dialector.Name() == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("ledger: sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}
	s := New(db, opts...)
	if s.serializable && dialector.Name() != DriverPostgres {
		s.logger.Warn("serializable isolation requested on a non-postgres driver; ignoring",
			slog.String("driver", dialector.Name()))
		s.serializable = false
	}
	return s, nil
}

// DB exposes the underlying connection for exports and health checks.
func (s *Store) DB() *gorm.DB { return s.db }

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Update runs fn in a read-write transaction. Rows read through the Tx are
// locked until commit.
func (s *Store) Update(ctx context.Context, fn func(market.Tx) error) error {
	var opts []*sql.TxOptions
	if s.serializable {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelSerializable})
	}
	for attempt := 0; ; attempt++ {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(&Tx{db: tx, lock: true})
		}, opts...)
		if err == nil || !isSerializationFailure(err) || attempt >= s.retries {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.logger.Debug("retrying serialization failure", slog.Int("attempt", attempt+1), slog.Any("error", err))
	}
}

// View runs fn in a transaction without row locks.
func (s *Store) View(ctx context.Context, fn func(market.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Tx{db: tx})
	})
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 40001 serialization_failure, 40P01 deadlock_detected.
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

var _ market.Store = (*Store)(nil)
