package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"possale/backend/internal/store"
)

type dialect struct {
	name       string
	driver     string
	lockSuffix string
	txOptions  *sql.TxOptions
}

var (
	postgresDialect = dialect{
		name:       "postgres",
		driver:     "pgx",
		lockSuffix: " FOR UPDATE",
		txOptions:  &sql.TxOptions{Isolation: sql.LevelSerializable},
	}
	// BEGIN IMMEDIATE (via _txlock) already takes the single write lock, so
	// sqlite needs no row locking clause.
	sqliteDialect = dialect{
		name:   "sqlite",
		driver: "sqlite3",
	}
)

const sqliteParams = "_txlock=immediate&_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL"

// Store implements store.Repository on top of database/sql through sqlx.
// The same queries serve postgres and sqlite; placeholders are rebound per
// driver.
type Store struct {
	db      *sqlx.DB
	dialect dialect
}

var _ store.Repository = (*Store)(nil)

func OpenPostgres(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open(postgresDialect.driver, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	return open(ctx, db, postgresDialect)
}

// OpenSQLite opens (or creates) the embedded database at path. A single open
// connection keeps every write serialized.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&" + sqliteParams
	} else {
		dsn += "?" + sqliteParams
	}
	db, err := sqlx.Open(sqliteDialect.driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)

	return open(ctx, db, sqliteDialect)
}

func open(ctx context.Context, db *sqlx.DB, d dialect) (*Store, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "ping %s", d.name)
	}
	if err := migrateUp(db.DB, d); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, dialect: d}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Dialect() string {
	return s.dialect.name
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.withTx(ctx, func(t *txStore) error { return fn(t) })
}

func (s *Store) withTx(ctx context.Context, fn func(t *txStore) error) error {
	tx, err := s.db.BeginTxx(ctx, s.dialect.txOptions)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&txStore{tx: tx, dialect: s.dialect}); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit transaction")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23514"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintCheck
	}
	return false
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return val.UTC()
}

func likePrefix(prefix string) string {
	escaper := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return escaper.Replace(strings.ToLower(prefix)) + "%"
}
