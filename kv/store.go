// Package kv provides an ordered byte-key key-value store over SQLite:
// get/put/remove/compare-and-swap, prefix scans, range scans, reverse
// iteration, and change subscriptions on a key or prefix.
//
// Every logical table from the event store and state engine (pdu_by_id,
// pdu_seq, seq_by_id, extremities, state_slot, group ranges, ...) lives as
// rows in one physical table, distinguished by a table name column. SQLite
// compares BLOB columns byte-lexically, so a composite key with fields
// joined on the reserved 0xFF separator sorts exactly the way prefix/range
// scans need it to.
package kv

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/matrixd/errors"
	"github.com/teranos/matrixd/logger"
)

const (
	// JournalMode enables concurrent readers while a writer holds the WAL.
	JournalMode = "WAL"
	// BusyTimeoutMS bounds how long a writer waits for the SQLite lock
	// before returning SQLITE_BUSY.
	BusyTimeoutMS = 5000
)

// Store is an ordered byte-key key-value store backed by a single SQLite
// database handle. All logical tables described in the event-store and
// state-engine designs share the one physical `kv` table.
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
	subs   *subscriptionRegistry
}

// Open opens (creating if necessary) a SQLite-backed KV store at path.
func Open(path string, log *zap.SugaredLogger) (*Store, error) {
	if log != nil {
		logger.AddDBSymbol(log).Debugw("opening kv store", "path", path)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.WithKind(errors.Wrapf(err, "create kv directory %s", dir), errors.KindStorageFailed)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.WithKind(errors.Wrapf(err, "open kv store at %s", path), errors.KindStorageFailed)
	}

	// A single writer at a time is fine for the per-room/per-destination
	// locking this store backs; avoid SQLITE_BUSY from concurrent writers
	// racing the same connection pool instead.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = " + JournalMode,
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.WithKind(errors.Wrapf(err, "apply pragma %q", pragma), errors.KindStorageFailed)
		}
	}

	if err := migrate(db, log); err != nil {
		db.Close()
		return nil, err
	}

	if log != nil {
		logger.AddDBSymbol(log).Infow("kv store opened", "path", path, "wal_mode", true)
	}

	return &Store{db: db, logger: log, subs: newSubscriptionRegistry()}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for components (migrations, ad-hoc
// diagnostics) that need direct SQL access beyond the KV operations below.
func (s *Store) DB() *sql.DB {
	return s.db
}
