package conn

import (
	"errors"
	"time"

	"github.com/tkd-scorelink/referee/internal/endpoint"
	"github.com/tkd-scorelink/referee/internal/protocol"
)

var (
	// ErrRetriesExhausted is surfaced once when automatic reconnection gives up.
	ErrRetriesExhausted = errors.New("unable to reach scoring server")
	// ErrInvalidIdentity rejects referee numbers outside MinIdentity..MaxIdentity.
	ErrInvalidIdentity = errors.New("invalid referee id")
	// ErrManagerClosed is returned by calls made after Close.
	ErrManagerClosed = errors.New("connection manager closed")
)

// Referee numbers accepted by SetIdentity.
const (
	MinIdentity = 1
	MaxIdentity = 3
)

// State is the externally observed health of the link.
type State int

const (
	Disconnected State = iota
	Connected
	Lagging
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Lagging:
		return "lagging"
	default:
		return "unknown"
	}
}

// Linked reports whether a session is open, healthy or not.
func (s State) Linked() bool { return s == Connected || s == Lagging }

// EventKind discriminates Event.
type EventKind int

const (
	// EventStateChanged carries the new State.
	EventStateChanged EventKind = iota
	// EventError carries a user-facing error in Err.
	EventError
	// EventReconnectScheduled carries Attempt and Delay.
	EventReconnectScheduled
	// EventScoreAcked carries the server's score_ack in Message.
	EventScoreAcked
	// EventRemoteScore carries another referee's broadcast in Message.
	EventRemoteScore
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state"
	case EventError:
		return "error"
	case EventReconnectScheduled:
		return "reconnect"
	case EventScoreAcked:
		return "ack"
	case EventRemoteScore:
		return "remote"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers.
type Event struct {
	Kind    EventKind
	At      time.Time
	State   State
	Err     error
	Attempt int
	Delay   time.Duration
	Message protocol.ServerMessage
}

// Status is a consistent snapshot of the Manager.
type Status struct {
	State       State
	Identity    int
	Endpoint    endpoint.Endpoint
	HasEndpoint bool
	Attempts    int
	LastError   error
}

// Backoff returns the delay before reconnect attempt n (1-based):
// base * 2^(n-1). Attempts below 1 are treated as 1.
func Backoff(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// ValidIdentity reports whether id is an accepted referee number.
func ValidIdentity(id int) bool {
	return id >= MinIdentity && id <= MaxIdentity
}
