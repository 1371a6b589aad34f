package kv

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen(t *testing.T) {
	t.Run("opens and applies pragmas", func(t *testing.T) {
		s := openTestStore(t)

		var journalMode string
		require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
		assert.Equal(t, "wal", journalMode)

		var foreignKeys int
		require.NoError(t, s.db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
		assert.Equal(t, 1, foreignKeys)
	})

	t.Run("creates parent directory", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
		s, err := Open(dbPath, nil)
		require.NoError(t, err)
		defer s.Close()
	})

	t.Run("logs with supplied logger", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")
		log := zaptest.NewLogger(t).Sugar()
		s, err := Open(dbPath, log)
		require.NoError(t, err)
		defer s.Close()
	})

	t.Run("reopen skips already-applied migrations", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")
		s1, err := Open(dbPath, nil)
		require.NoError(t, err)
		require.NoError(t, s1.Put("t", []byte("a"), []byte("1")))
		s1.Close()

		s2, err := Open(dbPath, nil)
		require.NoError(t, err)
		defer s2.Close()

		value, ok, err := s2.Get("t", []byte("a"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("1"), value)
	})
}

func TestGetPutRemove(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.Get("rooms", Key([]byte("room1")))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put("rooms", Key([]byte("room1")), []byte("joined")))

	value, ok, err := s.Get("rooms", Key([]byte("room1")))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("joined"), value)

	require.NoError(t, s.Put("rooms", Key([]byte("room1")), []byte("left")))
	value, _, err = s.Get("rooms", Key([]byte("room1")))
	require.NoError(t, err)
	assert.Equal(t, []byte("left"), value)

	require.NoError(t, s.Remove("rooms", Key([]byte("room1"))))
	_, ok, err = s.Get("rooms", Key([]byte("room1")))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompareAndSwap(t *testing.T) {
	s := openTestStore(t)
	key := Key([]byte("counter"))

	ok, err := s.CompareAndSwap("counters", key, nil, []byte("1"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CompareAndSwap("counters", key, nil, []byte("2"))
	require.NoError(t, err)
	assert.False(t, ok, "swap against stale expected-absent value must fail")

	ok, err = s.CompareAndSwap("counters", key, []byte("1"), []byte("2"))
	require.NoError(t, err)
	assert.True(t, ok)

	value, _, err := s.Get("counters", key)
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), value)
}

func TestScanPrefixAndRange(t *testing.T) {
	s := openTestStore(t)

	entries := map[string]string{
		"room1\xffevent1": "a",
		"room1\xffevent2": "b",
		"room2\xffevent1": "c",
	}
	for k, v := range entries {
		require.NoError(t, s.Put("pdus", []byte(k), []byte(v)))
	}

	got, err := s.ScanPrefix("pdus", Key([]byte("room1")))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []byte("room1\xffevent1"), got[0].Key)
	assert.Equal(t, []byte("room1\xffevent2"), got[1].Key)

	got, err = s.Range("pdus", []byte("room1"), []byte("room2"))
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.IterReverse("pdus", []byte("room1"), []byte("room3"))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []byte("room2\xffevent1"), got[0].Key)
}

func TestSubscribe(t *testing.T) {
	s := openTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	events := s.Subscribe(ctx, "rooms", []byte("room1"))

	require.NoError(t, s.Put("rooms", Key([]byte("room1"), []byte("a")), []byte("v")))

	select {
	case ev := <-events:
		assert.Equal(t, "rooms", ev.Table)
	case <-time.After(time.Second):
		t.Fatal("expected change event")
	}

	require.NoError(t, s.Put("rooms", Key([]byte("room2"), []byte("a")), []byte("v")))
	select {
	case ev := <-events:
		t.Fatalf("unexpected event for non-matching prefix: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	_, open := <-events
	assert.False(t, open, "channel should close after context cancellation")
}

func TestKeyRejectsSeparatorByte(t *testing.T) {
	assert.Panics(t, func() {
		Key([]byte("room\xff1"))
	})
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte("roon"), PrefixUpperBound([]byte("room")))
	assert.Nil(t, PrefixUpperBound([]byte{0xFF, 0xFF}))
}
