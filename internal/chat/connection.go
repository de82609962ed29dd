package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jagjeet027/FurniMart-sub002/internal/event"
	"github.com/jagjeet027/FurniMart-sub002/internal/metrics"
	"github.com/jagjeet027/FurniMart-sub002/internal/transport"
)

// ConnState is the connection lifecycle state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// StateChange is published on every connection state transition.
type StateChange struct {
	State ConnState
	// Resumed is true when Connected was reached by an automatic
	// reconnect rather than an explicit Connect call. Subscribers use
	// it to re-establish room subscriptions and refresh snapshots.
	Resumed bool
	// Err carries the terminal failure when retries are exhausted.
	Err error
}

// ConnectionManager owns the one logical gateway connection for a
// client session: connect, keepalive-driven drop detection, bounded
// exponential backoff reconnect, and session announcement.
type ConnectionManager struct {
	dialer      transport.Dialer
	session     Session
	base        time.Duration
	maxAttempts int
	metrics     *metrics.Metrics

	mu    sync.Mutex
	state ConnState
	conn  transport.Conn
	gen   int // bumped on Connect/Close so stale pump loops exit

	states  event.Bus[StateChange]
	inbound event.Bus[transport.Envelope]
}

// NewConnectionManager creates a manager in the Disconnected state.
// m may be nil when metrics are disabled.
func NewConnectionManager(dialer transport.Dialer, session Session, base time.Duration, maxAttempts int, m *metrics.Metrics) *ConnectionManager {
	if base <= 0 {
		base = time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &ConnectionManager{
		dialer:      dialer,
		session:     session,
		base:        base,
		maxAttempts: maxAttempts,
		metrics:     m,
	}
}

// OnStateChange registers a lifecycle subscriber.
func (c *ConnectionManager) OnStateChange(fn func(StateChange)) int {
	return c.states.Subscribe(fn)
}

// OffStateChange removes a lifecycle subscriber.
func (c *ConnectionManager) OffStateChange(token int) {
	c.states.Unsubscribe(token)
}

// OnEvent registers a subscriber for inbound gateway events.
func (c *ConnectionManager) OnEvent(fn func(transport.Envelope)) int {
	return c.inbound.Subscribe(fn)
}

// OffEvent removes an inbound event subscriber.
func (c *ConnectionManager) OffEvent(token int) {
	c.inbound.Unsubscribe(token)
}

// State returns the current connection state.
func (c *ConnectionManager) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the gateway. On transport success the manager announces
// the session and starts consuming events. On failure it moves straight
// into the reconnect loop; the terminal outcome, if any, is surfaced
// through state-change events. Calling Connect while not Disconnected
// is a no-op.
func (c *ConnectionManager) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	c.states.Publish(StateChange{State: StateConnecting})

	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		slog.Warn("gateway dial failed, entering reconnect", "error", err)
		c.beginReconnect(gen)
		return nil
	}
	c.adopt(ctx, gen, conn, false)
	return nil
}

// Close tears down the connection and stops any reconnect in progress.
func (c *ConnectionManager) Close() {
	c.mu.Lock()
	c.gen++
	conn := c.conn
	c.conn = nil
	changed := c.state != StateDisconnected
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if changed {
		c.states.Publish(StateChange{State: StateDisconnected})
	}
}

// Emit sends an event on the push connection. While not Connected it
// fails with ErrNotConnected so callers can queue or surface the miss.
func (c *ConnectionManager) Emit(ctx context.Context, eventName string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	ok := c.state == StateConnected && conn != nil
	c.mu.Unlock()

	if !ok {
		return ErrNotConnected
	}
	return conn.Emit(ctx, eventName, payload)
}

// adopt installs a freshly dialed connection, announces the session,
// publishes Connected, and starts the read pump.
func (c *ConnectionManager) adopt(ctx context.Context, gen int, conn transport.Conn, resumed bool) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	if err := conn.Emit(ctx, transport.EventSessionReady, SessionReadyPayload{
		ParticipantID: c.session.ParticipantID,
		Role:          c.session.Role,
		DisplayName:   c.session.DisplayName,
	}); err != nil {
		slog.Warn("session announcement failed", "error", err)
	}

	if c.metrics != nil {
		c.metrics.ConnectsTotal.Inc()
	}
	slog.Info("gateway connected", "participant", c.session.ParticipantID, "resumed", resumed)
	c.states.Publish(StateChange{State: StateConnected, Resumed: resumed})

	go c.readPump(gen, conn)
}

// readPump consumes inbound events until the connection drops.
func (c *ConnectionManager) readPump(gen int, conn transport.Conn) {
	ctx := context.Background()
	for {
		env, err := conn.Next(ctx)
		if err != nil {
			c.mu.Lock()
			stale := c.gen != gen
			c.mu.Unlock()
			if stale {
				return // closed or superseded, not a drop
			}
			slog.Warn("gateway connection lost", "error", err)
			conn.Close()
			c.beginReconnect(gen)
			return
		}

		c.mu.Lock()
		stale := c.gen != gen
		c.mu.Unlock()
		if stale {
			return
		}
		c.inbound.Publish(env)
	}
}

// beginReconnect transitions to Reconnecting and runs the bounded
// backoff loop in the background.
func (c *ConnectionManager) beginReconnect(gen int) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.setStateLocked(StateReconnecting)
	c.mu.Unlock()
	c.states.Publish(StateChange{State: StateReconnecting})

	go c.reconnectLoop(gen)
}

// reconnectLoop retries the dial with exponentially increasing delays
// (base, 2*base, 4*base, ...) up to maxAttempts, then gives up and
// surfaces the terminal error.
func (c *ConnectionManager) reconnectLoop(gen int) {
	delay := c.base
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		time.Sleep(delay)
		delay *= 2

		c.mu.Lock()
		stale := c.gen != gen
		c.mu.Unlock()
		if stale {
			return
		}

		if c.metrics != nil {
			c.metrics.ReconnectsTotal.Inc()
		}
		slog.Info("reconnecting to gateway", "attempt", attempt, "max", c.maxAttempts)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		conn, err := c.dialer.Dial(ctx)
		cancel()
		if err == nil {
			c.adopt(context.Background(), gen, conn, true)
			return
		}
		slog.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	slog.Error("giving up on gateway", "attempts", c.maxAttempts)
	c.states.Publish(StateChange{State: StateDisconnected, Err: ErrRetriesExhausted})
}

// setStateLocked updates the state and the gauge. Caller holds c.mu.
func (c *ConnectionManager) setStateLocked(s ConnState) {
	c.state = s
	if c.metrics != nil {
		c.metrics.ConnectionState.Set(float64(s))
	}
}
