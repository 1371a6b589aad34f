package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

const defaultFederationPort = "8448"

// Discovery resolves a Matrix server name to a dial target and Host
// header per the well-known delegation and SRV fallback rules: a bare
// server name with no port first tries HTTPS GET
// https://{name}/.well-known/matrix/server; the delegated (or original)
// host, if still portless, then tries SRV record _matrix-fed._tcp.{host}
// and, failing that, _matrix._tcp.{host}; failing all, {host}:8448 is
// used directly.
type Discovery struct {
	wellKnownTimeout time.Duration
	srvTimeout       time.Duration
	cacheTTL         time.Duration
	client           *http.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	target    string
	host      string
	expiresAt time.Time
}

// NewDiscovery constructs a Discovery with the given timeouts and
// well-known cache lifetime.
func NewDiscovery(wellKnownTimeout, srvTimeout, cacheTTL time.Duration) *Discovery {
	return &Discovery{
		wellKnownTimeout: wellKnownTimeout,
		srvTimeout:       srvTimeout,
		cacheTTL:         cacheTTL,
		client:           &http.Client{Timeout: wellKnownTimeout},
		cache:            make(map[string]cacheEntry),
	}
}

// Resolve returns the dial target (host:port) and Host header to use for
// serverName, consulting the well-known/SRV cache first.
func (d *Discovery) Resolve(ctx context.Context, serverName string) (target, host string, err error) {
	d.mu.Lock()
	if entry, ok := d.cache[serverName]; ok && time.Now().Before(entry.expiresAt) {
		d.mu.Unlock()
		return entry.target, entry.host, nil
	}
	d.mu.Unlock()

	target, host, err = d.resolveUncached(ctx, serverName)
	if err != nil {
		return "", "", err
	}

	d.mu.Lock()
	d.cache[serverName] = cacheEntry{target: target, host: host, expiresAt: time.Now().Add(d.cacheTTL)}
	d.mu.Unlock()
	return target, host, nil
}

func (d *Discovery) resolveUncached(ctx context.Context, serverName string) (string, string, error) {
	if hasExplicitPort(serverName) {
		return serverName, serverName, nil
	}
	if ip := net.ParseIP(serverName); ip != nil {
		return serverName + ":" + defaultFederationPort, serverName, nil
	}

	if delegated, ok := d.fetchWellKnown(ctx, serverName); ok {
		if hasExplicitPort(delegated) {
			return delegated, delegated, nil
		}
		if target, ok := d.lookupSRV(ctx, delegated); ok {
			return target, delegated, nil
		}
		return delegated + ":" + defaultFederationPort, delegated, nil
	}

	if target, ok := d.lookupSRV(ctx, serverName); ok {
		return target, serverName, nil
	}

	return serverName + ":" + defaultFederationPort, serverName, nil
}

type wellKnownResponse struct {
	Server string `json:"m.server"`
}

func (d *Discovery) fetchWellKnown(ctx context.Context, serverName string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, d.wellKnownTimeout)
	defer cancel()

	url := fmt.Sprintf("https://%s/.well-known/matrix/server", serverName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", false
	}

	var parsed wellKnownResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Server == "" {
		return "", false
	}
	return parsed.Server, true
}

func (d *Discovery) lookupSRV(ctx context.Context, host string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, d.srvTimeout)
	defer cancel()

	_, records, err := net.DefaultResolver.LookupSRV(ctx, "matrix-fed", "tcp", host)
	if err != nil || len(records) == 0 {
		_, records, err = net.DefaultResolver.LookupSRV(ctx, "matrix", "tcp", host)
		if err != nil || len(records) == 0 {
			return "", false
		}
	}

	target := strings.TrimSuffix(records[0].Target, ".")
	return fmt.Sprintf("%s:%d", target, records[0].Port), true
}

func hasExplicitPort(serverName string) bool {
	_, _, err := net.SplitHostPort(serverName)
	return err == nil
}
