package federation

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/teranos/matrixd/errors"
)

// SaferClient is an http.Client wrapper that blocks requests to loopback,
// link-local, and RFC 1918 addresses, the resolved IP checked at dial time
// so DNS rebinding can't bypass a hostname-only check. Well-known
// delegation lets a remote server redirect our dial target, so without
// this a malicious server could point us at our own internal network.
type SaferClient struct {
	*http.Client
	blockPrivateIP bool
}

// NewSaferClient builds a client with the given timeout and private-IP
// blocking enabled.
func NewSaferClient(timeout time.Duration) *SaferClient {
	c := &SaferClient{Client: &http.Client{Timeout: timeout}, blockPrivateIP: true}

	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	c.Client.Transport = &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, errors.Wrap(err, "invalid dial address")
			}
			if c.blockPrivateIP {
				ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
				if err != nil {
					return nil, errors.Wrapf(err, "resolve %s", host)
				}
				for _, ip := range ips {
					if isBlockedIP(ip) {
						return nil, errors.Newf("blocked address %s (%s)", ip, host)
					}
				}
				if len(ips) > 0 {
					addr = net.JoinHostPort(ips[0].String(), port)
				}
			}
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConns:        50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return c
}

// AllowPrivateIP disables the private-IP block, for tests that dial
// httptest servers on loopback.
func (c *SaferClient) AllowPrivateIP() {
	c.blockPrivateIP = false
}

func isBlockedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	if ip4 := ip.To4(); ip4 != nil {
		private := []net.IPNet{
			{IP: net.IPv4(10, 0, 0, 0), Mask: net.CIDRMask(8, 32)},
			{IP: net.IPv4(172, 16, 0, 0), Mask: net.CIDRMask(12, 32)},
			{IP: net.IPv4(192, 168, 0, 0), Mask: net.CIDRMask(16, 32)},
		}
		for _, block := range private {
			if block.Contains(ip4) {
				return true
			}
		}
		return false
	}
	// fc00::/7 unique local addresses.
	return len(ip) == net.IPv6len && (ip[0]&0xfe) == 0xfc
}
