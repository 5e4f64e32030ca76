// Package target persists synchronized reference data and import jobs in the
// live store. PostgreSQL is the production dialect; SQLite serves local runs
// and tests.
package target

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/johndauphine/airport-sync/internal/config"
	"github.com/johndauphine/airport-sync/internal/logging"
)

// Dialect selects SQL generation and the bulk write strategy.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Bind parameter ceilings per statement, with headroom.
const (
	postgresMaxParams = 65000
	sqliteMaxParams   = 30000
)

// Store is the live store.
type Store struct {
	db        *sql.DB
	dialect   Dialect
	maxParams int
}

// Open connects to the live store described by cfg.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	var (
		db  *sql.DB
		err error
		s   = &Store{dialect: Dialect(cfg.Store.Type)}
	)

	switch s.dialect {
	case Postgres:
		db, err = sql.Open("pgx", cfg.StoreDSN())
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		db.SetMaxOpenConns(cfg.Store.MaxConnections)
		db.SetMaxIdleConns(cfg.Store.MaxConnections / 4)
		s.maxParams = postgresMaxParams
	case SQLite:
		db, err = sql.Open("sqlite", cfg.StoreDSN()+
			"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
		if err != nil {
			return nil, fmt.Errorf("opening sqlite: %w", err)
		}
		// One writer at a time; concurrent workers queue on the pool.
		db.SetMaxOpenConns(1)
		s.maxParams = sqliteMaxParams
	default:
		return nil, fmt.Errorf("unsupported store type %q", cfg.Store.Type)
	}
	s.db = db

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging store: %w", err)
	}
	return s, nil
}

// Close closes all connections.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping tests the connection to the store.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the schema. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	return nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, rebind(s.dialect, query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, rebind(s.dialect, query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, rebind(s.dialect, query), args...)
}

// withTx runs fn inside a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// retry runs fn again after deadlocks, serialization failures and busy
// databases, with a linear backoff.
func retry(ctx context.Context, what string, maxRetries int, fn func() error) error {
	const baseDelay = 200 * time.Millisecond

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !isRetryableError(err) || attempt >= maxRetries {
			return err
		}

		logging.Warn("Transient failure on %s, retry %d/%d: %v", what, attempt, maxRetries, err)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(baseDelay * time.Duration(attempt)):
		}
	}
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}
