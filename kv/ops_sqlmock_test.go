package kv

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/matrixd/errors"
)

// These exercise error paths a real SQLite file rarely produces on demand
// (driver-level failures, partial transaction commits) by mocking the
// database/sql driver directly.

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Store{db: db, subs: newSubscriptionRegistry()}, mock
}

func TestGetPropagatesDriverError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT value FROM kv WHERE tbl = \? AND key = \?`).
		WithArgs("pdu_by_id", []byte("k")).
		WillReturnError(assert.AnError)

	_, _, err := store.Get("pdu_by_id", []byte("k"))
	require.Error(t, err)
	kind, ok := errors.GetKind(err)
	assert.True(t, ok)
	assert.Equal(t, errors.KindStorageFailed, kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutPropagatesDriverError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO kv`).
		WithArgs("pdu_by_id", []byte("k"), []byte("v")).
		WillReturnError(assert.AnError)

	err := store.Put("pdu_by_id", []byte("k"), []byte("v"))
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndSwapRollsBackOnWriteFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT value FROM kv WHERE tbl = \? AND key = \?`).
		WithArgs("counter", []byte("k")).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte("1")))
	mock.ExpectExec(`INSERT INTO kv`).
		WithArgs("counter", []byte("k"), []byte("2")).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	ok, err := store.CompareAndSwap("counter", []byte("k"), []byte("1"), []byte("2"))
	require.Error(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndSwapMismatchNeverWrites(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT value FROM kv WHERE tbl = \? AND key = \?`).
		WithArgs("counter", []byte("k")).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte("1")))
	mock.ExpectRollback()

	ok, err := store.CompareAndSwap("counter", []byte("k"), []byte("9"), []byte("2"))
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRangeQueryPropagatesRowScanError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT key, value FROM kv WHERE tbl = \? AND key >= \?`).
		WithArgs("pdu_seq", []byte("")).
		WillReturnRows(sqlmock.NewRows([]string{"key"}).AddRow([]byte("only-one-column")))

	_, err := store.ScanPrefix("pdu_seq", []byte(""))
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
