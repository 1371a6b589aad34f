package federation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasExplicitPort(t *testing.T) {
	cases := map[string]bool{
		"example.com":      false,
		"example.com:8448": true,
		"203.0.113.5":      false,
		"203.0.113.5:443":  true,
		"[::1]:8448":       true,
	}
	for input, want := range cases {
		assert.Equal(t, want, hasExplicitPort(input), input)
	}
}

func TestResolveWithExplicitPortSkipsDiscovery(t *testing.T) {
	d := NewDiscovery(time.Second, time.Second, time.Hour)
	target, host, err := d.Resolve(context.Background(), "example.com:1234")
	require.NoError(t, err)
	assert.Equal(t, "example.com:1234", target)
	assert.Equal(t, "example.com:1234", host)
}

func TestResolveWithIPLiteralUsesDefaultPort(t *testing.T) {
	d := NewDiscovery(time.Second, time.Second, time.Hour)
	target, host, err := d.Resolve(context.Background(), "203.0.113.5")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.5:8448", target)
	assert.Equal(t, "203.0.113.5", host)
}

func TestResolveReturnsCachedEntryWithoutRefetching(t *testing.T) {
	d := NewDiscovery(time.Second, time.Second, time.Hour)
	d.cache["cached.example"] = cacheEntry{
		target:    "cached-target.example:9999",
		host:      "cached-host.example",
		expiresAt: time.Now().Add(time.Hour),
	}

	target, host, err := d.Resolve(context.Background(), "cached.example")
	require.NoError(t, err)
	assert.Equal(t, "cached-target.example:9999", target)
	assert.Equal(t, "cached-host.example", host)
}

func TestFetchWellKnownParsesDelegatedServer(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/.well-known/matrix/server", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"m.server":"delegated.example:8448"}`))
	}))
	defer ts.Close()

	d := NewDiscovery(time.Second, time.Second, time.Hour)
	d.client = ts.Client()

	serverName := ts.Listener.Addr().String()
	delegated, ok := d.fetchWellKnown(context.Background(), serverName)
	require.True(t, ok)
	assert.Equal(t, "delegated.example:8448", delegated)
}

func TestFetchWellKnownFailsClosedOnMissingField(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	d := NewDiscovery(time.Second, time.Second, time.Hour)
	d.client = ts.Client()

	_, ok := d.fetchWellKnown(context.Background(), ts.Listener.Addr().String())
	assert.False(t, ok)
}

func TestLookupSRVFailsGracefullyForUnresolvableHost(t *testing.T) {
	d := NewDiscovery(50*time.Millisecond, 50*time.Millisecond, time.Hour)
	_, ok := d.lookupSRV(context.Background(), "nonexistent.invalid")
	assert.False(t, ok)
}
