package kv

import (
	"bytes"
	"database/sql"

	"github.com/teranos/matrixd/errors"
)

// Get returns the value stored for key in table, and false if absent.
func (s *Store) Get(table string, key []byte) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE tbl = ? AND key = ?`, table, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.WithKind(errors.Wrapf(err, "get %s", table), errors.KindStorageFailed)
	}
	return value, true, nil
}

// Put writes value for key in table, overwriting any existing value, and
// notifies matching subscribers.
func (s *Store) Put(table string, key, value []byte) error {
	_, err := s.db.Exec(`INSERT INTO kv (tbl, key, value) VALUES (?, ?, ?)
		ON CONFLICT (tbl, key) DO UPDATE SET value = excluded.value`, table, key, value)
	if err != nil {
		return errors.WithKind(errors.Wrapf(err, "put %s", table), errors.KindStorageFailed)
	}
	s.subs.notify(table, key)
	return nil
}

// Remove deletes key from table. It is not an error if the key is absent.
func (s *Store) Remove(table string, key []byte) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE tbl = ? AND key = ?`, table, key)
	if err != nil {
		return errors.WithKind(errors.Wrapf(err, "remove %s", table), errors.KindStorageFailed)
	}
	s.subs.notify(table, key)
	return nil
}

// CompareAndSwap writes newValue for key only if the current value equals
// oldValue (or the key is absent and oldValue is nil). It reports whether
// the swap happened. Used by the state-group counter and the per-room
// sequence counter, where two writers racing must not both succeed.
func (s *Store) CompareAndSwap(table string, key, oldValue, newValue []byte) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, errors.WithKind(errors.Wrap(err, "begin compare-and-swap"), errors.KindStorageFailed)
	}
	defer tx.Rollback()

	var current []byte
	err = tx.QueryRow(`SELECT value FROM kv WHERE tbl = ? AND key = ?`, table, key).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		if oldValue != nil {
			return false, nil
		}
	case err != nil:
		return false, errors.WithKind(errors.Wrapf(err, "read for compare-and-swap %s", table), errors.KindStorageFailed)
	default:
		if !bytes.Equal(current, oldValue) {
			return false, nil
		}
	}

	if _, err := tx.Exec(`INSERT INTO kv (tbl, key, value) VALUES (?, ?, ?)
		ON CONFLICT (tbl, key) DO UPDATE SET value = excluded.value`, table, key, newValue); err != nil {
		return false, errors.WithKind(errors.Wrapf(err, "write compare-and-swap %s", table), errors.KindStorageFailed)
	}

	if err := tx.Commit(); err != nil {
		return false, errors.WithKind(errors.Wrap(err, "commit compare-and-swap"), errors.KindStorageFailed)
	}

	s.subs.notify(table, key)
	return true, nil
}

// Entry is a single key/value pair returned by a scan.
type Entry struct {
	Key   []byte
	Value []byte
}

// ScanPrefix returns every entry in table whose key starts with prefix, in
// ascending key order.
func (s *Store) ScanPrefix(table string, prefix []byte) ([]Entry, error) {
	upper := PrefixUpperBound(prefix)
	if upper == nil {
		return s.rangeQuery(table, prefix, nil, false)
	}
	return s.rangeQuery(table, prefix, upper, false)
}

// Range returns every entry in table with from <= key < to, in ascending
// key order. A nil to scans to the end of the table.
func (s *Store) Range(table string, from, to []byte) ([]Entry, error) {
	return s.rangeQuery(table, from, to, false)
}

// IterReverse returns every entry in table with from <= key < to, in
// descending key order. Used for "most recent N" queries such as the
// latest PDUs before a point in a room's sequence.
func (s *Store) IterReverse(table string, from, to []byte) ([]Entry, error) {
	return s.rangeQuery(table, from, to, true)
}

func (s *Store) rangeQuery(table string, from, to []byte, reverse bool) ([]Entry, error) {
	query := `SELECT key, value FROM kv WHERE tbl = ? AND key >= ?`
	args := []interface{}{table, from}
	if to != nil {
		query += ` AND key < ?`
		args = append(args, to)
	}
	if reverse {
		query += ` ORDER BY key DESC`
	} else {
		query += ` ORDER BY key ASC`
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.WithKind(errors.Wrapf(err, "range scan %s", table), errors.KindStorageFailed)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, errors.WithKind(errors.Wrapf(err, "scan row in %s", table), errors.KindStorageFailed)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithKind(errors.Wrapf(err, "iterate %s", table), errors.KindStorageFailed)
	}
	return entries, nil
}
