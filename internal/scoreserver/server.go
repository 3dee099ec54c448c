// Package scoreserver is a development scoring server. It speaks exactly
// the wire protocol the referee terminal expects: heartbeats are echoed as
// pongs, scores are acknowledged to the sender and broadcast to the other
// referees. It keeps no match state.
package scoreserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tkd-scorelink/referee/internal/protocol"
)

// Options configures a Server.
type Options struct {
	// Silent stops heartbeat echoes, which makes clients report lag.
	Silent bool
	// MaxClients limits concurrent links; zero means unlimited.
	MaxClients     int
	AllowedOrigins []string
	Logger         *zap.Logger
	// Now stamps outbound messages; defaults to time.Now.
	Now func() time.Time
}

type Server struct {
	hub            *hub
	log            *zap.Logger
	silent         atomic.Bool
	allowedOrigins map[string]bool
	now            func() time.Time
	upgrader       websocket.Upgrader
}

func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("scoreserver")
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		hub:            newHub(opts.MaxClients, log),
		log:            log,
		allowedOrigins: make(map[string]bool),
		now:            opts.Now,
	}
	s.silent.Store(opts.Silent)
	for _, origin := range opts.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			s.allowedOrigins[trimmed] = true
		}
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// SetSilent toggles heartbeat echoes at runtime.
func (s *Server) SetSilent(v bool) { s.silent.Store(v) }

// Clients returns the number of connected terminals.
func (s *Server) Clients() int { return s.hub.count() }

// DropClients severs every link without a close frame, as a network
// failure would. It returns the number of links dropped.
func (s *Server) DropClients() int {
	n := s.hub.drop()
	s.log.Info("dropped clients", zap.Int("count", n))
	return n
}

// Handler serves the WebSocket endpoint on "/" and "/ws", and a liveness
// probe on "/healthz".
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	c, err := s.hub.add(conn)
	if err != nil {
		s.log.Warn("rejecting client", zap.String("remote", r.RemoteAddr), zap.Error(err))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		conn.Close()
		return
	}
	c.log.Info("client connected", zap.String("remote", r.RemoteAddr))

	go func() {
		defer func() {
			s.hub.remove(c)
			c.log.Info("client disconnected")
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.handleMessage(c, data)
		}
	}()
}

func (s *Server) handleMessage(c *client, data []byte) {
	msg, err := protocol.DecodeClient(data)
	if err != nil {
		c.log.Warn("ignoring message", zap.Error(err))
		return
	}
	if msg.RefereeID != 0 {
		c.setReferee(msg.RefereeID)
	}

	if msg.Action == protocol.ActionHeartbeat {
		if s.silent.Load() {
			c.log.Debug("heartbeat swallowed", zap.Uint64("seq", msg.Seq))
			return
		}
		s.hub.sendTo(c, protocol.ServerMessage{Action: protocol.ActionPong, Seq: msg.Seq})
		return
	}

	if !msg.Target.Valid() || msg.Points == nil || *msg.Points < 0 {
		c.log.Warn("ignoring invalid score",
			zap.String("action", msg.Action),
			zap.String("target", string(msg.Target)),
		)
		return
	}

	ts := s.now().UnixMilli()
	c.log.Info("score",
		zap.Int("referee", msg.RefereeID),
		zap.String("action", msg.Action),
		zap.Int("points", *msg.Points),
		zap.String("target", string(msg.Target)),
	)
	s.hub.sendTo(c, protocol.ServerMessage{
		Action:    protocol.ActionScoreAck,
		RefereeID: msg.RefereeID,
		Points:    msg.Points,
		Target:    msg.Target,
		Timestamp: ts,
	})

	action := protocol.ActionScore
	if msg.Action == protocol.ActionPenalty {
		action = protocol.ActionPenalty
	}
	s.hub.broadcast(protocol.ServerMessage{
		Action:    action,
		RefereeID: msg.RefereeID,
		Points:    msg.Points,
		Target:    msg.Target,
		Timestamp: ts,
	}, c)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.allowedOrigins[origin] {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Host == r.Host {
		return true
	}
	host := parsed.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// ListenAndServe serves on addr until ctx is cancelled, then closes every
// client link with a normal closure.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("listening", zap.String("addr", ln.Addr().String()), zap.Bool("silent", s.silent.Load()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.hub.closeAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("stopped")
	return nil
}
