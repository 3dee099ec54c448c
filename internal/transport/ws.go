package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSDialer opens gorilla/websocket sessions.
type WSDialer struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewWSDialer creates a dialer. A nil logger disables logging.
func NewWSDialer(cfg Config, logger *zap.Logger) *WSDialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	return &WSDialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: logger.Named("transport"),
	}
}

// Open starts dialing rawURL in the background.
func (d *WSDialer) Open(rawURL string, h Handler) (Session, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	s := &wsSession{
		id:           id,
		url:          rawURL,
		handler:      h,
		dialer:       d.dialer,
		writeTimeout: d.cfg.WriteTimeout,
		logger:       d.logger.With(zap.String("session", id), zap.String("url", rawURL)),
		ctx:          ctx,
		cancel:       cancel,
		state:        StateConnecting,
	}
	go s.run()
	return s, nil
}

type wsSession struct {
	id           string
	url          string
	handler      Handler
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	logger       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	state  State
	reason CloseReason
	conn   *websocket.Conn

	writeMu sync.Mutex // serialises data frames
}

func (s *wsSession) ID() string  { return s.id }
func (s *wsSession) URL() string { return s.url }

func (s *wsSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *wsSession) run() {
	defer s.cancel()

	s.logger.Debug("dialing")
	conn, _, err := s.dialer.DialContext(s.ctx, s.url, nil)

	s.mu.Lock()
	if s.state == StateClosed {
		// Closed while dialing; Close already reported the terminal event.
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		s.state = StateClosed
		s.mu.Unlock()
		s.logger.Debug("dial failed", zap.Error(err))
		s.handler.fail(err)
		return
	}
	s.conn = conn
	s.state = StateOpen
	s.mu.Unlock()

	s.logger.Debug("open")
	s.handler.open()
	s.readLoop(conn)
}

func (s *wsSession) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err == nil {
			s.handler.message(data)
			continue
		}

		s.mu.Lock()
		closing := s.state == StateClosing
		reason := s.reason
		s.state = StateClosed
		s.mu.Unlock()
		conn.Close()

		var ce *websocket.CloseError
		code := 0
		if errors.As(err, &ce) {
			code = ce.Code
		}

		switch {
		case closing:
			s.logger.Debug("closed", zap.Stringer("reason", reason))
			s.handler.close(CloseInfo{Reason: reason, Code: code})
		case code == websocket.CloseNormalClosure:
			s.logger.Debug("closed by peer")
			s.handler.close(CloseInfo{Reason: ClosePeer, Code: code})
		case code != 0:
			s.logger.Debug("dropped by peer", zap.Int("code", code))
			s.handler.close(CloseInfo{Reason: CloseAbnormal, Code: code})
		default:
			s.logger.Debug("read failed", zap.Error(err))
			s.handler.fail(err)
		}
		return
	}
}

func (s *wsSession) Send(v any) bool {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return false
	}
	conn := s.conn
	s.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("encoding message", zap.Error(err))
		return false
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Warn("write failed", zap.Error(err))
		return false
	}
	return true
}

func (s *wsSession) Close(reason CloseReason) {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.reason = reason
	conn := s.conn
	if conn == nil {
		s.state = StateClosed
		s.mu.Unlock()
		s.logger.Debug("dial aborted", zap.Stringer("reason", reason))
		s.cancel()
		s.handler.close(CloseInfo{Reason: reason})
		return
	}
	s.state = StateClosing
	s.mu.Unlock()

	s.logger.Debug("closing", zap.Stringer("reason", reason))
	s.cancel()
	// Close and WriteControl may be called concurrently with writers.
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	conn.Close()
}
