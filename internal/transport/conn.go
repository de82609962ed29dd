package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/jagjeet027/FurniMart-sub002/internal/config"
)

// Conn is one logical push connection to the chat gateway.
type Conn interface {
	// Emit sends an event to the gateway.
	Emit(ctx context.Context, eventName string, payload any) error
	// Next blocks until the next inbound event arrives. Malformed frames
	// are skipped; a returned error means the connection is unusable.
	Next(ctx context.Context) (Envelope, error)
	// Close tears down the connection. Safe to call more than once.
	Close() error
}

// Dialer establishes Conns. The sync core holds a Dialer so reconnects
// and tests can swap the transport freely.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebSocketDialer dials the gateway over WebSocket per the gateway config.
type WebSocketDialer struct {
	cfg config.GatewayConfig

	mu        sync.Mutex
	authToken string
}

// NewDialer creates a WebSocketDialer from gateway settings.
func NewDialer(cfg config.GatewayConfig) *WebSocketDialer {
	return &WebSocketDialer{cfg: cfg, authToken: cfg.AuthToken}
}

// SetAuthToken replaces the bearer token used on future dials. Lets a
// config reload rotate credentials without a restart.
func (d *WebSocketDialer) SetAuthToken(token string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.authToken = token
}

// Dial connects to the gateway and starts the keepalive loop.
func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, d.cfg.DialTimeout)
	defer cancel()

	d.mu.Lock()
	token := d.authToken
	d.mu.Unlock()

	header := http.Header{}
	if d.cfg.Origin != "" {
		header.Set("Origin", d.cfg.Origin)
	}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	wsConn, _, err := websocket.Dial(dialCtx, httpToWS(d.cfg.URL), &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing gateway %s: %w", d.cfg.URL, err)
	}
	wsConn.SetReadLimit(d.cfg.MaxMessageSize)

	keepCtx, keepCancel := context.WithCancel(context.Background())
	s := &socket{
		conn:         wsConn,
		writeTimeout: d.cfg.WriteTimeout,
		keepCancel:   keepCancel,
	}
	if d.cfg.MessagesPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(d.cfg.MessagesPerSecond), d.cfg.MessagesPerSecond)
	}

	// Ping must run concurrently with the read loop per coder/websocket docs.
	if d.cfg.PingInterval > 0 {
		go s.keepAlive(keepCtx, d.cfg.PingInterval, d.cfg.PongTimeout)
	}

	return s, nil
}

type socket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	limiter      *rate.Limiter
	keepCancel   context.CancelFunc
	closeOnce    sync.Once
	closeErr     error
}

func (s *socket) Emit(ctx context.Context, eventName string, payload any) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	data, err := Encode(eventName, payload)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", eventName, err)
	}

	writeCtx := ctx
	if s.writeTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, s.writeTimeout)
		defer cancel()
	}
	if err := s.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("writing %s: %w", eventName, err)
	}
	return nil
}

func (s *socket) Next(ctx context.Context) (Envelope, error) {
	for {
		msgType, data, err := s.conn.Read(ctx)
		if err != nil {
			return Envelope{}, err
		}
		if msgType != websocket.MessageText {
			continue
		}
		env, err := Decode(data)
		if err != nil || env.Event == "" {
			slog.Warn("gateway sent malformed frame, skipping", "error", err)
			continue
		}
		return env, nil
	}
}

func (s *socket) Close() error {
	s.closeOnce.Do(func() {
		s.keepCancel()
		s.closeErr = s.conn.Close(websocket.StatusNormalClosure, "")
	})
	return s.closeErr
}

// keepAlive sends periodic pings to detect dead connections. On failure
// the connection is closed so the pending Next returns an error and the
// connection manager can begin reconnecting.
func (s *socket) keepAlive(ctx context.Context, interval, pongTimeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pongTimeout)
			err := s.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				slog.Debug("keepalive ping failed, closing connection", "error", err)
				s.conn.Close(websocket.StatusGoingAway, "keepalive timeout")
				return
			}
		}
	}
}

// httpToWS converts http:// to ws:// and https:// to wss://.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}
