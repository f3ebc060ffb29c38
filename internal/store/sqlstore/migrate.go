package sqlstore

import (
	"database/sql"
	"embed"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations
var migrationFS embed.FS

// migrateUp applies every pending migration for the dialect. m is never
// closed because its database driver owns db's lifetime on Close.
func migrateUp(db *sql.DB, d dialect) error {
	source, err := iofs.New(migrationFS, "migrations/"+d.name)
	if err != nil {
		return errors.Wrap(err, "load migrations")
	}

	var driver database.Driver
	switch d.name {
	case postgresDialect.name:
		driver, err = migratepgx.WithInstance(db, &migratepgx.Config{})
	default:
		driver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	}
	if err != nil {
		return errors.Wrapf(err, "init %s migration driver", d.name)
	}

	m, err := migrate.NewWithInstance("iofs", source, d.name, driver)
	if err != nil {
		return errors.Wrap(err, "init migrator")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "apply migrations")
	}

	version, dirty, err := m.Version()
	if err == nil {
		log.WithFields(log.Fields{"dialect": d.name, "version": version, "dirty": dirty}).Debug("schema up to date")
	}
	return nil
}
