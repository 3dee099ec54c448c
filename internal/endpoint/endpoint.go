// Package endpoint parses scoring server addresses and builds their
// WebSocket URLs.
package endpoint

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is used when an address omits the port.
const DefaultPort = 8080

var (
	ErrEmptyHost   = errors.New("server address is empty")
	ErrInvalidPort = errors.New("invalid port")
)

// Endpoint identifies a scoring server.
type Endpoint struct {
	Host string
	Port int
}

// New returns an Endpoint, substituting DefaultPort for a zero port.
func New(host string, port int) Endpoint {
	if port == 0 {
		port = DefaultPort
	}
	return Endpoint{Host: strings.TrimSpace(host), Port: port}
}

// Parse accepts "host", "host:port", "[v6]:port" and tolerates a leading
// ws:// or wss:// scheme.
func Parse(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "wss://")
	s = strings.TrimPrefix(s, "ws://")
	s = strings.TrimSuffix(s, "/")
	if s == "" {
		return Endpoint{}, ErrEmptyHost
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// No port, or a bare IPv6 literal.
		host = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
		ep := New(host, 0)
		return ep, ep.Validate()
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w %q", ErrInvalidPort, portStr)
	}
	ep := Endpoint{Host: host, Port: port}
	return ep, ep.Validate()
}

// Validate reports configuration errors.
func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return ErrEmptyHost
	}
	if strings.ContainsAny(e.Host, " /?#@") {
		return fmt.Errorf("invalid host %q", e.Host)
	}
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("%w %d: must be between 1 and 65535", ErrInvalidPort, e.Port)
	}
	return nil
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string { return e.Address() }

// URL returns the WebSocket URL. The secure scheme is used only when secure
// is requested and the host is not a loopback address.
func (e Endpoint) URL(secure bool) string {
	scheme := "ws"
	if secure && !IsLoopback(e.Host) {
		scheme = "wss"
	}
	return scheme + "://" + e.Address()
}

// IsLoopback reports whether host names the local machine.
func IsLoopback(host string) bool {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
