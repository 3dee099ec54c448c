// Package mock drives simulated referees against a scoring server, so a
// single terminal on a test bench sees other referees' scores arrive.
package mock

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tkd-scorelink/referee/internal/conn"
	"github.com/tkd-scorelink/referee/internal/endpoint"
	"github.com/tkd-scorelink/referee/internal/protocol"
	"github.com/tkd-scorelink/referee/internal/settings"
	"github.com/tkd-scorelink/referee/internal/transport"
)

// Scoring patterns.
const (
	PatternSteady = "steady" // one score every few ticks
	PatternBurst  = "burst"  // clusters during exchanges, then quiet
	PatternQuiet  = "quiet"  // rarely scores
)

var patterns = []string{PatternSteady, PatternBurst, PatternQuiet}

// Link is the part of a connection a simulated referee needs.
// *conn.Manager implements it.
type Link interface {
	Connect(ep endpoint.Endpoint) error
	SendScore(ev protocol.ScoreEvent) bool
	Close()
}

type mockReferee struct {
	id      int
	pattern string
	link    Link
	// favours is the side this referee leans towards, to make bouts uneven.
	favours protocol.Target
}

// Options configures a Generator.
type Options struct {
	// Referees lists the identities to simulate.
	Referees []int
	Dialer   transport.Dialer
	Logger   *zap.Logger
	// Interval between ticks; defaults to 500ms.
	Interval time.Duration
	Seed     int64
	// NewLink overrides how a referee's link is built; used by tests.
	NewLink func(id int) Link
}

// Generator owns the simulated referees.
type Generator struct {
	opts     Options
	log      *zap.Logger
	rng      *rand.Rand
	points   settings.Points
	referees []*mockReferee

	sent atomic.Int64
	wg   sync.WaitGroup
}

// NewGenerator creates a generator. Nothing connects until Start.
func NewGenerator(opts Options) *Generator {
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	g := &Generator{
		opts:   opts,
		log:    opts.Logger.Named("mock"),
		rng:    rand.New(rand.NewSource(opts.Seed)),
		points: settings.Default().Points,
	}
	for i, id := range opts.Referees {
		side := protocol.TargetRed
		if i%2 == 1 {
			side = protocol.TargetBlue
		}
		g.referees = append(g.referees, &mockReferee{
			id:      id,
			pattern: patterns[i%len(patterns)],
			favours: side,
		})
	}
	return g
}

func (g *Generator) newLink(id int) Link {
	if g.opts.NewLink != nil {
		return g.opts.NewLink(id)
	}
	return conn.New(conn.Config{
		Identity: id,
		Dialer:   g.opts.Dialer,
		Logger:   g.opts.Logger.With(zap.Int("referee", id)),
	})
}

// Start connects every referee to ep and scores until ctx is done. Links are
// closed when the loop exits; Wait blocks until then.
func (g *Generator) Start(ctx context.Context, ep endpoint.Endpoint) error {
	for _, r := range g.referees {
		r.link = g.newLink(r.id)
		if err := r.link.Connect(ep); err != nil {
			g.closeAll()
			return err
		}
		g.log.Info("simulated referee connecting",
			zap.Int("referee", r.id),
			zap.String("pattern", r.pattern),
			zap.String("server", ep.Address()),
		)
	}

	g.wg.Add(1)
	go g.run(ctx)
	return nil
}

// Wait blocks until the loop started by Start has exited.
func (g *Generator) Wait() { g.wg.Wait() }

// Sent returns how many scores were written so far.
func (g *Generator) Sent() int { return int(g.sent.Load()) }

func (g *Generator) closeAll() {
	for _, r := range g.referees {
		if r.link != nil {
			r.link.Close()
		}
	}
}

func (g *Generator) run(ctx context.Context) {
	defer g.wg.Done()
	defer g.closeAll()

	ticker := time.NewTicker(g.opts.Interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			for _, r := range g.referees {
				ev, ok := g.advance(r, tick)
				if !ok {
					continue
				}
				// Scores are dropped while the link is down, like a real terminal.
				if r.link.SendScore(ev) {
					g.sent.Add(1)
				}
			}
		}
	}
}

// advance decides whether r scores on this tick and what.
func (g *Generator) advance(r *mockReferee, tick int) (protocol.ScoreEvent, bool) {
	if tick <= 2 {
		// Give the links time to open.
		return protocol.ScoreEvent{}, false
	}

	switch r.pattern {
	case PatternSteady:
		if tick%3 != 0 {
			return protocol.ScoreEvent{}, false
		}
	case PatternBurst:
		if tick%8 >= 3 || g.rng.Intn(4) == 0 {
			return protocol.ScoreEvent{}, false
		}
	case PatternQuiet:
		if g.rng.Intn(10) != 0 {
			return protocol.ScoreEvent{}, false
		}
	}

	target := r.favours
	if g.rng.Intn(3) == 0 {
		target = other(target)
	}
	technique := techniques[g.rng.Intn(len(techniques))]
	pts, _ := g.points.For(technique)
	return protocol.ScoreEvent{Target: target, Points: pts, Action: technique}, true
}

var techniques = []string{
	protocol.TechniquePunch,
	protocol.TechniqueBodyTap,
	protocol.TechniqueBodySwipe,
	protocol.TechniqueHeadTap,
	protocol.TechniqueHeadSwipe,
}

func other(t protocol.Target) protocol.Target {
	if t == protocol.TargetRed {
		return protocol.TargetBlue
	}
	return protocol.TargetRed
}
