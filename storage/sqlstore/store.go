package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/poiesic/dealwire/storage"
)

// Supported driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// DB wraps a database handle and the statement builder matching its driver.
type DB struct {
	db      *sql.DB
	driver  string
	builder sq.StatementBuilderType
	logger  *slog.Logger
}

// Open connects to the database, applies the schema and returns its repositories.
// Closing the store closes the database handle.
func Open(ctx context.Context, driver, dsn string) (*storage.Store, error) {
	db, err := OpenDB(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	return storage.NewStore(
		&DocumentRepository{db: db},
		&EnrichmentRepository{db: db},
		&CheckpointRepository{db: db},
		db.Close,
	), nil
}

// OpenDB opens the database handle and applies the schema.
func OpenDB(ctx context.Context, driver, dsn string) (*DB, error) {
	var builder sq.StatementBuilderType
	switch driver {
	case DriverPostgres:
		builder = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	case DriverSQLite:
		builder = sq.StatementBuilder.PlaceholderFormat(sq.Question)
	default:
		return nil, fmt.Errorf("%w: sql driver %q", storage.ErrUnknownBackend, driver)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite allows a single writer; one connection serializes transactions
		// instead of surfacing SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA journal_mode = WAL"} {
			if _, err := sqlDB.ExecContext(ctx, pragma); err != nil {
				sqlDB.Close()
				return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
			}
		}
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{
		db:      sqlDB,
		driver:  driver,
		builder: builder,
		logger:  slog.Default().With("component", "sqlstore", "driver", driver),
	}
	if err := db.migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	db.logger.Info("sql store initialized")
	return db, nil
}

// Close closes the database handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// Handle exposes the underlying database handle.
func (d *DB) Handle() *sql.DB {
	return d.db
}

// withTx runs fn inside a transaction, committing when fn returns nil.
func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return wrapErr(tx.Commit())
}

// wrapErr maps driver errors onto storage sentinels.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%w: %w", storage.ErrStorageClosed, err)
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %w", storage.ErrDuplicateKey, err)
	}
	if err.Error() == "sql: database is closed" {
		return fmt.Errorf("%w: %w", storage.ErrStorageClosed, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func toMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromMicros(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}
