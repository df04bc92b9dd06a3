// Package safehttp provides HTTP clients for calling tenant-configured URLs.
package safehttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

// ErrPrivateAddress is returned when a dial targets a blocked address.
type ErrPrivateAddress struct {
	IP net.IP
}

func (e *ErrPrivateAddress) Error() string {
	return fmt.Sprintf("access to private IP %s is denied", e.IP)
}

// Blocked reports whether ip is loopback, private, link-local or unspecified.
func Blocked(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// NewTransport returns a transport that refuses to connect to blocked
// addresses. The check runs on the resolved address before connecting, so
// DNS names pointing at private ranges are rejected too.
func NewTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout: 5 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			ip := net.ParseIP(host)
			if ip == nil {
				return fmt.Errorf("failed to parse remote IP for %q", address)
			}
			if Blocked(ip) {
				return &ErrPrivateAddress{IP: ip}
			}
			return nil
		},
	}
	return &http.Transport{
		Proxy: nil,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
}

// NewClient returns a client for outbound step calls. With allowPrivate set
// the default transport is used unchanged.
func NewClient(allowPrivate bool) *http.Client {
	if allowPrivate {
		return &http.Client{}
	}
	return &http.Client{Transport: NewTransport()}
}
