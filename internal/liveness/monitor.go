// Package liveness detects a link that looks open but has stopped answering.
//
// The Monitor sends a heartbeat probe immediately on Start and then on a
// fixed period. Each probe arms a lag timer; an echo before the timer fires
// disarms it. Lag is a soft signal: the Monitor never closes the link.
package liveness

import (
	"time"

	"go.uber.org/zap"

	"github.com/tkd-scorelink/referee/internal/clock"
)

// Defaults for the probe period and the echo deadline.
const (
	DefaultInterval     = 5000 * time.Millisecond
	DefaultLagThreshold = 2000 * time.Millisecond
)

// Config wires a Monitor to its owner.
type Config struct {
	Interval     time.Duration
	LagThreshold time.Duration
	Clock        clock.Clock
	Logger       *zap.Logger

	// Exec runs timer callbacks on the owner's event goroutine. Nil runs
	// them directly on the timer goroutine.
	Exec func(func())

	// Probe sends heartbeat number seq and reports whether it was sent.
	Probe func(seq uint64) bool
	// OnLag is called when a probe goes unanswered or cannot be sent.
	OnLag func()
	// OnEcho is called when the outstanding probe is answered.
	OnEcho func()
}

// Monitor is not safe for concurrent use. All methods, and the timer
// callbacks routed through Config.Exec, must run on one goroutine.
type Monitor struct {
	cfg Config
	log *zap.Logger

	running     bool
	gen         uint64 // bumped by Start and Stop; stale timers compare against it
	seq         uint64
	outstanding uint64 // seq of the probe whose window is open, 0 if none
	tick        clock.Timer
	lag         clock.Timer
}

// New creates a stopped Monitor.
func New(cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.LagThreshold <= 0 {
		cfg.LagThreshold = DefaultLagThreshold
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Exec == nil {
		cfg.Exec = func(f func()) { f() }
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{cfg: cfg, log: log.Named("liveness")}
}

// Start begins probing, restarting the schedule if already running.
func (m *Monitor) Start() {
	m.Stop()
	m.running = true
	m.gen++
	m.probe()
	m.scheduleTick()
}

// Stop cancels the probe schedule and any armed lag timer.
func (m *Monitor) Stop() {
	if m.tick != nil {
		m.tick.Stop()
		m.tick = nil
	}
	m.disarm()
	m.outstanding = 0
	if m.running {
		m.running = false
		m.gen++
	}
}

// Running reports whether the probe schedule is active.
func (m *Monitor) Running() bool { return m.running }

// Outstanding returns the seq of the probe awaiting an echo, or 0.
func (m *Monitor) Outstanding() uint64 { return m.outstanding }

// Echo records a heartbeat acknowledgement. A zero seq matches whichever
// probe is outstanding; a non-zero seq must match it exactly.
func (m *Monitor) Echo(seq uint64) {
	if !m.running {
		return
	}
	if seq != 0 && seq != m.outstanding {
		m.log.Debug("stale echo ignored", zap.Uint64("seq", seq), zap.Uint64("outstanding", m.outstanding))
		return
	}
	m.disarm()
	m.outstanding = 0
	if m.cfg.OnEcho != nil {
		m.cfg.OnEcho()
	}
}

func (m *Monitor) scheduleTick() {
	gen := m.gen
	m.tick = m.cfg.Clock.AfterFunc(m.cfg.Interval, func() {
		m.cfg.Exec(func() {
			if !m.running || m.gen != gen {
				return
			}
			m.probe()
			m.scheduleTick()
		})
	})
}

func (m *Monitor) probe() {
	m.seq++
	seq := m.seq
	m.disarm()
	m.outstanding = seq

	if m.cfg.Probe == nil || !m.cfg.Probe(seq) {
		m.log.Debug("probe not sent", zap.Uint64("seq", seq))
		m.lagged()
		return
	}

	gen := m.gen
	m.lag = m.cfg.Clock.AfterFunc(m.cfg.LagThreshold, func() {
		m.cfg.Exec(func() {
			if !m.running || m.gen != gen || m.outstanding != seq {
				return
			}
			m.lag = nil
			m.log.Debug("echo overdue", zap.Uint64("seq", seq))
			m.lagged()
		})
	})
}

func (m *Monitor) lagged() {
	if m.cfg.OnLag != nil {
		m.cfg.OnLag()
	}
}

func (m *Monitor) disarm() {
	if m.lag != nil {
		m.lag.Stop()
		m.lag = nil
	}
}
