package mock

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/tkd-scorelink/referee/internal/conn"
	"github.com/tkd-scorelink/referee/internal/endpoint"
	"github.com/tkd-scorelink/referee/internal/protocol"
	"github.com/tkd-scorelink/referee/internal/scoreserver"
	"github.com/tkd-scorelink/referee/internal/transport"
)

type fakeLink struct {
	mu         sync.Mutex
	connectErr error
	connected  []endpoint.Endpoint
	sent       []protocol.ScoreEvent
	closed     bool
}

func (l *fakeLink) Connect(ep endpoint.Endpoint) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = append(l.connected, ep)
	return l.connectErr
}

func (l *fakeLink) SendScore(ev protocol.ScoreEvent) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, ev)
	return true
}

func (l *fakeLink) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func TestNewGeneratorAssignsPatterns(t *testing.T) {
	g := NewGenerator(Options{Referees: []int{3, 2, 1}, Seed: 1})
	want := []string{PatternSteady, PatternBurst, PatternQuiet}
	for i, r := range g.referees {
		if r.pattern != want[i] {
			t.Errorf("referee %d pattern = %s, want %s", r.id, r.pattern, want[i])
		}
	}
	if g.referees[0].favours != protocol.TargetRed || g.referees[1].favours != protocol.TargetBlue {
		t.Error("referees should alternate the side they favour")
	}
}

func TestAdvanceSteady(t *testing.T) {
	g := NewGenerator(Options{Referees: []int{3}, Seed: 7})
	r := g.referees[0]

	for tick := 1; tick <= 12; tick++ {
		ev, ok := g.advance(r, tick)
		want := tick > 2 && tick%3 == 0
		if ok != want {
			t.Errorf("tick %d: scored = %v, want %v", tick, ok, want)
		}
		if !ok {
			continue
		}
		if err := ev.Validate(); err != nil {
			t.Errorf("tick %d: invalid event %+v: %v", tick, ev, err)
		}
		if pts, _ := g.points.For(ev.Action); pts != ev.Points {
			t.Errorf("tick %d: %s worth %d, want %d", tick, ev.Action, ev.Points, pts)
		}
	}
}

func TestAdvanceBurstOnlyDuringExchanges(t *testing.T) {
	g := NewGenerator(Options{Referees: []int{3, 2}, Seed: 42})
	r := g.referees[1]

	for tick := 3; tick < 200; tick++ {
		if _, ok := g.advance(r, tick); ok && tick%8 >= 3 {
			t.Fatalf("burst referee scored outside an exchange at tick %d", tick)
		}
	}
}

func TestStartAndStop(t *testing.T) {
	links := map[int]*fakeLink{}
	g := NewGenerator(Options{
		Referees: []int{3, 2},
		Interval: 5 * time.Millisecond,
		Seed:     3,
		NewLink: func(id int) Link {
			l := &fakeLink{}
			links[id] = l
			return l
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	ep := endpoint.New("127.0.0.1", 8080)
	if err := g.Start(ctx, ep); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for g.Sent() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d scores sent", g.Sent())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	g.Wait()

	for id, l := range links {
		if len(l.connected) != 1 || l.connected[0] != ep {
			t.Errorf("referee %d connected to %v", id, l.connected)
		}
		if !l.isClosed() {
			t.Errorf("referee %d link not closed", id)
		}
	}
}

func TestStartConnectErrorClosesLinks(t *testing.T) {
	var first *fakeLink
	g := NewGenerator(Options{
		Referees: []int{3, 2},
		NewLink: func(id int) Link {
			l := &fakeLink{}
			if id == 2 {
				l.connectErr = errors.New("bad address")
			} else {
				first = l
			}
			return l
		},
	})
	if err := g.Start(context.Background(), endpoint.New("127.0.0.1", 8080)); err == nil {
		t.Fatal("Start should fail")
	}
	if !first.isClosed() {
		t.Error("links opened before the failure should be closed")
	}
}

func TestSimulatedRefereesReachTerminal(t *testing.T) {
	server := scoreserver.New(scoreserver.Options{})
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	host, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	ep := endpoint.New(host, port)

	terminal := conn.New(conn.Config{
		Identity: 1,
		Dialer:   transport.NewWSDialer(transport.DefaultConfig(), nil),
	})
	defer terminal.Close()
	remote := make(chan conn.Event, 64)
	terminal.Subscribe(func(ev conn.Event) {
		if ev.Kind != conn.EventRemoteScore {
			return
		}
		select {
		case remote <- ev:
		default:
		}
	})
	if err := terminal.Connect(ep); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	g := NewGenerator(Options{
		Referees: []int{3},
		Dialer:   transport.NewWSDialer(transport.DefaultConfig(), nil),
		Interval: 20 * time.Millisecond,
		Seed:     5,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		g.Wait()
	}()
	if err := g.Start(ctx, ep); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case ev := <-remote:
		if ev.Message.RefereeID != 3 || ev.Message.Points == nil {
			t.Errorf("remote score = %+v", ev.Message)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("terminal never saw a simulated score")
	}
}
