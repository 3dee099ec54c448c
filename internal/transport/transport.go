// Package transport owns the single physical WebSocket connection between a
// referee terminal and the scoring server.
//
// A Session is opened asynchronously and reports its lifecycle through a
// Handler: at most one OnOpen, then exactly one terminal OnClose or OnError.
// A session that has reported its terminal event is dead; open a new one.
package transport

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// ErrClosed is reported by Send on a session that is not open.
var ErrClosed = errors.New("session not open")

// State is the sub-state of a single session.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseReason records who ended a session. Locally initiated reasons are set
// before the close completes so the owner never has to infer them from the
// close code.
type CloseReason int

const (
	// CloseAbnormal means the network or the peer dropped the link.
	CloseAbnormal CloseReason = iota
	// CloseUserInitiated means the owner asked to disconnect.
	CloseUserInitiated
	// CloseReplaced means the owner is switching to a new session.
	CloseReplaced
	// ClosePeer means the server sent a normal closure frame.
	ClosePeer
)

func (r CloseReason) String() string {
	switch r {
	case CloseAbnormal:
		return "abnormal"
	case CloseUserInitiated:
		return "user-initiated"
	case CloseReplaced:
		return "replaced"
	case ClosePeer:
		return "peer"
	default:
		return "unknown"
	}
}

// Clean reports whether the close should not trigger a reconnect.
func (r CloseReason) Clean() bool { return r != CloseAbnormal }

// CloseInfo accompanies OnClose.
type CloseInfo struct {
	Reason CloseReason
	Code   int // WebSocket close code, 0 when none was received
}

// Clean mirrors the reason's cleanliness.
func (c CloseInfo) Clean() bool { return c.Reason.Clean() }

// Handler receives session lifecycle events. Callbacks run on the session's
// goroutine, except OnClose for a session closed while still connecting,
// which runs on the goroutine calling Close. They must not block for long.
// Nil callbacks are skipped.
type Handler struct {
	OnOpen    func()
	OnClose   func(CloseInfo)
	OnError   func(error)
	OnMessage func([]byte)
}

func (h Handler) open() {
	if h.OnOpen != nil {
		h.OnOpen()
	}
}

func (h Handler) close(info CloseInfo) {
	if h.OnClose != nil {
		h.OnClose(info)
	}
}

func (h Handler) fail(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

func (h Handler) message(data []byte) {
	if h.OnMessage != nil {
		h.OnMessage(data)
	}
}

// Session is one connection attempt and, if it opens, the live link.
type Session interface {
	ID() string
	URL() string
	State() State
	// Send JSON-encodes v and writes it as one text frame. It reports
	// whether the write was attempted on an open session and succeeded.
	Send(v any) bool
	// Close starts a graceful shutdown. Closing a closing or closed
	// session is a no-op.
	Close(reason CloseReason)
}

// Dialer opens sessions. Open never blocks on the network; only a URL that
// cannot be used at all is reported synchronously.
type Dialer interface {
	Open(rawURL string, h Handler) (Session, error)
}

// Config tunes the WebSocket dialer.
type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// ValidateURL rejects URLs a WebSocket session cannot be built from.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parsing url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", rawURL)
	}
	return nil
}
