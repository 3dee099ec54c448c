// Package conn is the connection manager of the referee terminal. It owns the
// single transport session to the scoring server, runs the liveness monitor
// on top of it and reconnects with exponential backoff after a drop.
//
// All Manager state lives on one event-loop goroutine. Public methods, timer
// callbacks and transport events are posted to it in FIFO order, so nothing
// inside the package needs a lock besides the observer list.
package conn

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tkd-scorelink/referee/internal/clock"
	"github.com/tkd-scorelink/referee/internal/endpoint"
	"github.com/tkd-scorelink/referee/internal/liveness"
	"github.com/tkd-scorelink/referee/internal/protocol"
	"github.com/tkd-scorelink/referee/internal/transport"
)

const (
	DefaultReconnectBaseDelay   = 1000 * time.Millisecond
	DefaultMaxReconnectAttempts = 5
	defaultQueueSize            = 256
)

// Config configures a Manager. Zero values pick the defaults.
type Config struct {
	Identity int
	// Secure selects wss:// for non-loopback hosts.
	Secure bool

	Dialer transport.Dialer
	Clock  clock.Clock
	Logger *zap.Logger

	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
	LagThreshold         time.Duration
}

// link is one session owned by the Manager. Once detached, its events are
// no longer posted to the loop.
type link struct {
	session  transport.Session
	url      string
	detached atomic.Bool
}

type observer struct {
	id uint64
	fn func(Event)
}

// Manager is the public face of the connection core.
type Manager struct {
	cfg    Config
	log    *zap.Logger
	clock  clock.Clock
	dialer transport.Dialer

	ops       chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	obsMu     sync.Mutex
	observers []observer
	nextObs   uint64

	// Owned by the loop goroutine.
	state       State
	identity    int
	ep          endpoint.Endpoint
	hasEndpoint bool
	link        *link
	attempts    int
	retry       clock.Timer
	retryGen    uint64
	lastErr     error
	monitor     *liveness.Monitor
}

// New creates a Manager in the Disconnected state and starts its loop.
// A Dialer is required; an invalid identity falls back to MinIdentity.
func New(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if !ValidIdentity(cfg.Identity) {
		cfg.Identity = MinIdentity
	}

	m := &Manager{
		cfg:      cfg,
		log:      cfg.Logger.Named("conn"),
		clock:    cfg.Clock,
		dialer:   cfg.Dialer,
		ops:      make(chan func(), defaultQueueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		identity: cfg.Identity,
	}
	m.monitor = liveness.New(liveness.Config{
		Interval:     cfg.HeartbeatInterval,
		LagThreshold: cfg.LagThreshold,
		Clock:        cfg.Clock,
		Logger:       cfg.Logger,
		Exec:         func(f func()) { m.post(f) },
		Probe:        m.probe,
		OnLag:        m.lagged,
		OnEcho:       m.echoed,
	})
	go m.run()
	return m
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case f := <-m.ops:
			f()
		case <-m.quit:
			m.shutdown()
			return
		}
	}
}

// post queues f on the loop. It reports false once the loop has exited.
func (m *Manager) post(f func()) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.ops <- f:
		return true
	case <-m.done:
		return false
	}
}

// call runs f on the loop and waits for it.
func (m *Manager) call(f func()) bool {
	finished := make(chan struct{})
	if !m.post(func() { f(); close(finished) }) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-m.done:
		return false
	}
}

// Connect targets ep and opens a session to it. It returns immediately; the
// outcome arrives as events. Only configuration errors are returned, and
// they are also surfaced to subscribers.
func (m *Manager) Connect(ep endpoint.Endpoint) error {
	var err error
	if !m.call(func() { err = m.connect(ep) }) {
		return ErrManagerClosed
	}
	return err
}

// Disconnect closes the session, cancels any pending reconnect and resets
// the attempt counter.
func (m *Manager) Disconnect() {
	m.call(m.disconnect)
}

// SendScore transmits ev stamped with the current identity and time. It
// reports whether the frame was written; failures are never retried.
func (m *Manager) SendScore(ev protocol.ScoreEvent) bool {
	if err := ev.Validate(); err != nil {
		m.log.Warn("score rejected", zap.Error(err))
		return false
	}
	var ok bool
	m.call(func() { ok = m.sendScore(ev) })
	return ok
}

// SetIdentity changes the referee number used by subsequent messages.
func (m *Manager) SetIdentity(id int) error {
	var err error
	if !m.call(func() { err = m.setIdentity(id) }) {
		return ErrManagerClosed
	}
	return err
}

// SetSecure selects wss for non-loopback servers. It takes effect on the next
// Connect; a Connect to the same endpoint then opens a new session because
// the URL differs.
func (m *Manager) SetSecure(secure bool) {
	m.call(func() { m.cfg.Secure = secure })
}

// Status returns a snapshot of the Manager. It waits for every previously
// posted call and event to be processed.
func (m *Manager) Status() Status {
	var st Status
	read := func() {
		st = Status{
			State:       m.state,
			Identity:    m.identity,
			Endpoint:    m.ep,
			HasEndpoint: m.hasEndpoint,
			Attempts:    m.attempts,
			LastError:   m.lastErr,
		}
	}
	if !m.call(read) {
		// The loop has exited; its fields are no longer written.
		read()
	}
	return st
}

func (m *Manager) State() State                { return m.Status().State }
func (m *Manager) Identity() int               { return m.Status().Identity }
func (m *Manager) Attempts() int               { return m.Status().Attempts }
func (m *Manager) LastError() error            { return m.Status().LastError }
func (m *Manager) Endpoint() endpoint.Endpoint { return m.Status().Endpoint }

// Subscribe registers fn for every Event and returns a function that removes
// it. Observers run on the Manager's loop goroutine: they must return quickly
// and must not call Manager methods, which would deadlock.
func (m *Manager) Subscribe(fn func(Event)) (cancel func()) {
	m.obsMu.Lock()
	m.nextObs++
	id := m.nextObs
	m.observers = append(m.observers, observer{id: id, fn: fn})
	m.obsMu.Unlock()

	return func() {
		m.obsMu.Lock()
		defer m.obsMu.Unlock()
		for i, o := range m.observers {
			if o.id == id {
				m.observers = append(m.observers[:i:i], m.observers[i+1:]...)
				return
			}
		}
	}
}

// Close tears down the session and stops the loop. It must not be called
// from an observer.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.quit) })
	<-m.done
}

func (m *Manager) emit(ev Event) {
	ev.At = m.clock.Now()
	if ev.Kind == EventStateChanged {
		ev.State = m.state
	}
	m.obsMu.Lock()
	obs := make([]observer, len(m.observers))
	copy(obs, m.observers)
	m.obsMu.Unlock()
	for _, o := range obs {
		o.fn(ev)
	}
}

func (m *Manager) setState(s State) {
	if m.state == s {
		return
	}
	prev := m.state
	m.state = s
	m.log.Info("state changed", zap.Stringer("from", prev), zap.Stringer("to", s))
	m.emit(Event{Kind: EventStateChanged})
}

// report records a user-facing error and surfaces it.
func (m *Manager) report(err error) {
	m.lastErr = err
	m.log.Warn("error surfaced", zap.Error(err))
	m.emit(Event{Kind: EventError, Err: err})
}

func (m *Manager) connect(ep endpoint.Endpoint) error {
	// Any explicit connect ends the current retry streak, even a rejected one.
	m.cancelRetry()
	m.attempts = 0

	if err := ep.Validate(); err != nil {
		if errors.Is(err, endpoint.ErrEmptyHost) {
			// No server means no link.
			m.teardown(transport.CloseUserInitiated)
			m.setState(Disconnected)
		}
		err = fmt.Errorf("invalid server address: %w", err)
		m.report(err)
		return err
	}
	if m.dialer == nil {
		err := fmt.Errorf("no dialer configured")
		m.report(err)
		return err
	}

	url := ep.URL(m.cfg.Secure)
	if m.link != nil && m.link.url == url {
		switch m.link.session.State() {
		case transport.StateConnecting, transport.StateOpen:
			m.log.Debug("already connected", zap.String("url", url))
			return nil
		}
	}

	m.ep = ep
	m.hasEndpoint = true
	return m.open()
}

// open replaces the current session with a new one to the last endpoint.
// The attempt counter is left alone so reconnects keep their streak.
func (m *Manager) open() error {
	m.teardown(transport.CloseReplaced)
	m.setState(Disconnected)

	url := m.ep.URL(m.cfg.Secure)
	l := &link{url: url}
	s, err := m.dialer.Open(url, m.handler(l))
	if err != nil {
		err = fmt.Errorf("connecting to %s: %w", url, err)
		m.report(err)
		return err
	}
	l.session = s
	m.link = l
	m.log.Info("connecting",
		zap.String("url", url),
		zap.String("session", s.ID()),
		zap.Int("attempt", m.attempts),
	)
	return nil
}

// handler routes session events to the loop while l is current.
func (m *Manager) handler(l *link) transport.Handler {
	deliver := func(f func()) {
		if l.detached.Load() {
			return
		}
		m.post(func() {
			if m.link != l {
				return
			}
			f()
		})
	}
	return transport.Handler{
		OnOpen: func() { deliver(m.opened) },
		OnClose: func(info transport.CloseInfo) {
			deliver(func() { m.closed(info) })
		},
		OnError: func(err error) {
			deliver(func() { m.dropped(err) })
		},
		OnMessage: func(data []byte) {
			deliver(func() { m.received(data) })
		},
	}
}

// teardown closes and forgets the current session. Its close event is not
// delivered.
func (m *Manager) teardown(reason transport.CloseReason) {
	m.monitor.Stop()
	if m.link == nil {
		return
	}
	l := m.link
	m.link = nil
	l.detached.Store(true)
	if l.session != nil {
		m.log.Debug("closing session", zap.String("session", l.session.ID()), zap.Stringer("reason", reason))
		l.session.Close(reason)
	}
}

func (m *Manager) disconnect() {
	m.cancelRetry()
	m.attempts = 0
	m.teardown(transport.CloseUserInitiated)
	m.setState(Disconnected)
}

func (m *Manager) shutdown() {
	m.disconnect()
	m.log.Debug("manager stopped")
}

func (m *Manager) opened() {
	m.cancelRetry()
	m.attempts = 0
	m.lastErr = nil
	m.setState(Connected)
	m.monitor.Start()
}

func (m *Manager) closed(info transport.CloseInfo) {
	if info.Clean() {
		m.monitor.Stop()
		m.link = nil
		m.attempts = 0
		m.log.Info("connection closed", zap.Stringer("reason", info.Reason), zap.Int("code", info.Code))
		m.setState(Disconnected)
		return
	}
	m.dropped(fmt.Errorf("connection closed abnormally (code %d)", info.Code))
}

// dropped handles an abnormal end of the current session.
func (m *Manager) dropped(err error) {
	m.monitor.Stop()
	m.link = nil
	m.lastErr = err
	m.log.Warn("connection lost", zap.Error(err))
	m.setState(Disconnected)
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	if !m.hasEndpoint {
		return
	}
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.report(fmt.Errorf("%w after %d attempts", ErrRetriesExhausted, m.attempts))
		return
	}

	m.cancelRetry()
	m.attempts++
	attempt := m.attempts
	delay := Backoff(attempt, m.cfg.ReconnectBaseDelay)
	gen := m.retryGen
	m.retry = m.clock.AfterFunc(delay, func() {
		m.post(func() {
			if gen != m.retryGen {
				return
			}
			m.retry = nil
			m.log.Info("reconnecting", zap.Int("attempt", attempt))
			m.open()
		})
	})

	m.log.Info("reconnect scheduled",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.String("url", m.ep.URL(m.cfg.Secure)),
	)
	m.emit(Event{Kind: EventReconnectScheduled, Attempt: attempt, Delay: delay})
}

func (m *Manager) cancelRetry() {
	m.retryGen++
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *Manager) received(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		m.log.Warn("ignoring inbound message", zap.Error(err))
		return
	}
	switch msg.Action {
	case protocol.ActionPong:
		m.monitor.Echo(msg.Seq)
	case protocol.ActionScoreAck:
		m.emit(Event{Kind: EventScoreAcked, Message: msg})
	case protocol.ActionScore, protocol.ActionPenalty:
		if msg.RefereeID == m.identity {
			return
		}
		m.emit(Event{Kind: EventRemoteScore, Message: msg})
	default:
		m.log.Debug("unhandled action", zap.String("action", msg.Action))
	}
}

func (m *Manager) sendScore(ev protocol.ScoreEvent) bool {
	if m.link == nil || !m.state.Linked() {
		m.log.Debug("score not sent: not connected", zap.String("action", ev.Action))
		return false
	}
	msg := protocol.NewScoreMessage(m.identity, ev, m.clock.Now().UnixMilli())
	ok := m.link.session.Send(msg)
	if ok {
		m.log.Info("score sent",
			zap.String("target", string(ev.Target)),
			zap.Int("points", ev.Points),
			zap.String("action", ev.Action),
		)
	} else {
		m.log.Warn("score send failed", zap.String("action", ev.Action))
	}
	return ok
}

func (m *Manager) setIdentity(id int) error {
	if !ValidIdentity(id) {
		err := fmt.Errorf("%w %d: must be between %d and %d", ErrInvalidIdentity, id, MinIdentity, MaxIdentity)
		m.report(err)
		return err
	}
	if id != m.identity {
		m.log.Info("identity changed", zap.Int("from", m.identity), zap.Int("to", id))
	}
	m.identity = id
	return nil
}

// probe, lagged and echoed are liveness callbacks; they run on the loop.

func (m *Manager) probe(seq uint64) bool {
	if m.link == nil {
		return false
	}
	return m.link.session.Send(protocol.NewHeartbeat(m.identity, seq, m.clock.Now().UnixMilli()))
}

func (m *Manager) lagged() {
	if m.state == Connected {
		m.setState(Lagging)
	}
}

func (m *Manager) echoed() {
	if m.state == Lagging {
		m.setState(Connected)
	}
}
