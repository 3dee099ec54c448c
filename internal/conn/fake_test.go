package conn

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tkd-scorelink/referee/internal/protocol"
	"github.com/tkd-scorelink/referee/internal/transport"
)

// fakeSession is a scripted transport session. Tests drive its lifecycle
// with open, drop, fail and deliver.
type fakeSession struct {
	id  string
	url string
	h   transport.Handler

	mu         sync.Mutex
	state      transport.State
	failSend   bool
	sent       []string
	closedWith []transport.CloseReason
}

func (s *fakeSession) ID() string  { return s.id }
func (s *fakeSession) URL() string { return s.url }

func (s *fakeSession) State() transport.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSession) Send(v any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != transport.StateOpen || s.failSend {
		return false
	}
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	s.sent = append(s.sent, string(data))
	return true
}

// Close reports OnClose synchronously, like a session closed mid-dial.
func (s *fakeSession) Close(reason transport.CloseReason) {
	s.mu.Lock()
	if s.state == transport.StateClosing || s.state == transport.StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = transport.StateClosed
	s.closedWith = append(s.closedWith, reason)
	s.mu.Unlock()
	s.h.OnClose(transport.CloseInfo{Reason: reason})
}

func (s *fakeSession) open() {
	s.mu.Lock()
	if s.state != transport.StateConnecting {
		s.mu.Unlock()
		return
	}
	s.state = transport.StateOpen
	s.mu.Unlock()
	s.h.OnOpen()
}

func (s *fakeSession) terminate() {
	s.mu.Lock()
	s.state = transport.StateClosed
	s.mu.Unlock()
}

// drop simulates the network severing the link.
func (s *fakeSession) drop() {
	s.terminate()
	s.h.OnClose(transport.CloseInfo{Reason: transport.CloseAbnormal, Code: 1006})
}

// peerClose simulates the server sending a normal closure.
func (s *fakeSession) peerClose() {
	s.terminate()
	s.h.OnClose(transport.CloseInfo{Reason: transport.ClosePeer, Code: 1000})
}

func (s *fakeSession) fail(err error) {
	s.terminate()
	s.h.OnError(err)
}

func (s *fakeSession) deliver(raw string) {
	s.h.OnMessage([]byte(raw))
}

func (s *fakeSession) setFailSend(v bool) {
	s.mu.Lock()
	s.failSend = v
	s.mu.Unlock()
}

func (s *fakeSession) frames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// outbound decodes sent frames with the given action.
func (s *fakeSession) outbound(action string) []protocol.ClientMessage {
	var out []protocol.ClientMessage
	for _, f := range s.frames() {
		msg, err := protocol.DecodeClient([]byte(f))
		if err == nil && msg.Action == action {
			out = append(out, msg)
		}
	}
	return out
}

func (s *fakeSession) closeReasons() []transport.CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.CloseReason(nil), s.closedWith...)
}

type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	err      error
}

func (d *fakeDialer) Open(rawURL string, h transport.Handler) (transport.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	s := &fakeSession{
		id:    fmt.Sprintf("s%d", len(d.sessions)+1),
		url:   rawURL,
		h:     h,
		state: transport.StateConnecting,
	}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

func (d *fakeDialer) last() *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}

// live counts sessions that are connecting or open.
func (d *fakeDialer) live() int {
	d.mu.Lock()
	sessions := append([]*fakeSession(nil), d.sessions...)
	d.mu.Unlock()
	n := 0
	for _, s := range sessions {
		switch s.State() {
		case transport.StateConnecting, transport.StateOpen:
			n++
		}
	}
	return n
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) ofKind(k EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) states() []State {
	var out []State
	for _, ev := range l.ofKind(EventStateChanged) {
		out = append(out, ev.State)
	}
	return out
}
