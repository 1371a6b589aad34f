package kv

import (
	"database/sql"
	"embed"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/matrixd/errors"
)

//go:embed migrations/*.sql
var migrations embed.FS

const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY
);
`

// migrate applies every pending migration under migrations/, in filename
// order, recording each applied version in schema_migrations so reopening
// an existing database skips what is already there.
func migrate(db *sql.DB, log *zap.SugaredLogger) error {
	if _, err := db.Exec(schemaMigrationsTable); err != nil {
		return errors.WithKind(errors.Wrap(err, "create schema_migrations"), errors.KindStorageFailed)
	}

	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return errors.WithKind(errors.Wrap(err, "read migrations"), errors.KindStorageFailed)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, filename := range files {
		version := strings.SplitN(filename, "_", 2)[0]

		var applied bool
		if err := db.QueryRow(`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)`, version).Scan(&applied); err != nil {
			return errors.WithKind(errors.Wrapf(err, "check migration %s", filename), errors.KindStorageFailed)
		}
		if applied {
			if log != nil {
				log.Debugw("skipping migration, already applied", "migration", filename)
			}
			continue
		}

		sqlBytes, err := migrations.ReadFile(filepath.Join("migrations", filename))
		if err != nil {
			return errors.WithKind(errors.Wrapf(err, "read %s", filename), errors.KindStorageFailed)
		}

		if log != nil {
			log.Infow("applying migration", "migration", filename)
		}

		tx, err := db.Begin()
		if err != nil {
			return errors.WithKind(errors.Wrapf(err, "begin tx for %s", filename), errors.KindStorageFailed)
		}

		if _, err := tx.Exec(string(sqlBytes)); err != nil {
			tx.Rollback()
			return errors.WithKind(errors.Wrapf(err, "execute %s", filename), errors.KindStorageFailed)
		}

		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			tx.Rollback()
			return errors.WithKind(errors.Wrapf(err, "record %s", filename), errors.KindStorageFailed)
		}

		if err := tx.Commit(); err != nil {
			return errors.WithKind(errors.Wrapf(err, "commit %s", filename), errors.KindStorageFailed)
		}
	}

	return nil
}
