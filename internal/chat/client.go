package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jagjeet027/FurniMart-sub002/internal/config"
	"github.com/jagjeet027/FurniMart-sub002/internal/metrics"
	"github.com/jagjeet027/FurniMart-sub002/internal/transport"
)

// Client is the synchronization core for one participant session. It
// owns the connection manager, presence tracker, room session, message
// synchronizer, typing coordinator, and read-receipt batcher, and
// routes gateway events to them, gated by the active room.
type Client struct {
	session  Session
	store    Store
	conn     *ConnectionManager
	rooms    *RoomSession
	msgs     *Synchronizer
	typing   *TypingCoordinator
	receipts *ReceiptBatcher
	presence *PresenceTracker
	metrics  *metrics.Metrics

	mu          sync.Mutex
	fetchCancel context.CancelFunc // in-flight snapshot fetch
}

// NewClient wires up the core. m may be nil when metrics are disabled.
func NewClient(session Session, dialer transport.Dialer, store Store, syncCfg config.SyncConfig, m *metrics.Metrics) *Client {
	conn := NewConnectionManager(dialer, session, syncCfg.ReconnectBase, syncCfg.ReconnectMaxAttempts, m)
	c := &Client{
		session: session,
		store:   store,
		conn:    conn,
		// RoomSession subscribes to state changes first, so the room
		// re-join runs before the client's snapshot refresh.
		rooms:    NewRoomSession(conn, m),
		msgs:     NewSynchronizer(Sender{ID: session.ParticipantID, Role: session.Role}, syncCfg.ProvisionalMatchWindow, syncCfg.SendConfirmTimeout, m),
		typing:   NewTypingCoordinator(conn, session, syncCfg.TypingIdle, syncCfg.TypingExpiry, m),
		presence: NewPresenceTracker(),
		metrics:  m,
	}
	c.receipts = NewReceiptBatcher(store, session.ParticipantID, syncCfg.ReceiptDebounce, m, c.readFlushed)

	conn.OnEvent(c.handleEnvelope)
	conn.OnStateChange(c.handleState)
	return c
}

// Connect establishes the push connection.
func (c *Client) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

// Close tears everything down: pending timers are cancelled, listeners
// detached, the connection closed. Conversation state is discarded.
func (c *Client) Close() {
	c.cancelFetch()
	c.receipts.Deactivate()
	c.typing.Reset()
	c.conn.Close()
	c.msgs.Reset("")
}

// UpdateConfig applies the reload-safe tuning knobs to the running
// components. Reconnect backoff settings take effect on restart.
func (c *Client) UpdateConfig(cfg config.SyncConfig) {
	c.msgs.SetConfirmTimeout(cfg.SendConfirmTimeout)
	c.typing.SetWindows(cfg.TypingIdle, cfg.TypingExpiry)
	c.receipts.SetDebounce(cfg.ReceiptDebounce)
}

// ConnectionState returns the current connection lifecycle state.
func (c *Client) ConnectionState() ConnState {
	return c.conn.State()
}

// OnStateChange registers a connection lifecycle subscriber for the UI.
func (c *Client) OnStateChange(fn func(StateChange)) int {
	return c.conn.OnStateChange(fn)
}

// Rooms lists the participant's conversations from the chat store.
func (c *Client) Rooms(ctx context.Context) ([]Room, error) {
	return c.store.Rooms(ctx, c.session.ParticipantID)
}

// OpenRoom activates a conversation: leaves the previous room, joins
// the new one, fetches the message snapshot, and flushes the room's
// unread messages as one read-receipt batch. A fetch error leaves the
// room joined with an empty sequence; the caller may retry OpenRoom.
func (c *Client) OpenRoom(ctx context.Context, room Room) error {
	c.cancelFetch()
	c.receipts.Deactivate()
	c.typing.Reset()

	epoch := c.rooms.Activate(ctx, room)
	c.msgs.Reset(room.ID)

	fetchCtx, cancel := context.WithCancel(ctx)
	c.setFetchCancel(cancel)
	snapshot, err := c.store.Messages(fetchCtx, room.ID)
	cancel()
	if err != nil {
		if c.metrics != nil {
			c.metrics.ErrorsTotal.WithLabelValues("fetch_failure").Inc()
		}
		return err
	}
	if !c.rooms.AdmitsEpoch(room.ID, epoch) {
		// The room changed while the fetch was in flight; this
		// snapshot belongs to a conversation we already left.
		slog.Debug("discarding stale snapshot", "room", room.ID)
		return nil
	}

	c.msgs.InitSnapshot(room.ID, snapshot)
	c.receipts.Activate(ctx, room)
	return nil
}

// CloseRoom deactivates the current conversation.
func (c *Client) CloseRoom(ctx context.Context) {
	c.cancelFetch()
	c.receipts.Deactivate()
	c.typing.Reset()
	c.rooms.Deactivate(ctx)
	c.msgs.Reset("")
}

// ActiveRoom returns the active conversation, if any.
func (c *Client) ActiveRoom() (Room, bool) {
	return c.rooms.Active()
}

// Send appends an optimistic message and posts it to the chat store in
// the background. The returned message carries the provisional id; the
// entry is reconciled in place on confirmation, or marked failed if
// confirmation never comes. While not Connected the send is rejected
// with ErrNotConnected so the UI keeps the draft.
func (c *Client) Send(ctx context.Context, content string, attachments []Attachment) (Message, error) {
	room, ok := c.rooms.Active()
	if !ok {
		return Message{}, ErrNoActiveRoom
	}
	if c.conn.State() != StateConnected {
		return Message{}, ErrNotConnected
	}

	msg := c.msgs.AppendLocal(content, attachments)
	go c.postSend(room.ID, msg)
	return msg, nil
}

// Resend retries a failed optimistic send. The failed entry is replaced
// by a fresh provisional message with the same content.
func (c *Client) Resend(ctx context.Context, provisionalID string) (Message, error) {
	room, ok := c.rooms.Active()
	if !ok {
		return Message{}, ErrNoActiveRoom
	}
	if c.conn.State() != StateConnected {
		return Message{}, ErrNotConnected
	}

	msg, ok := c.msgs.Resend(provisionalID)
	if !ok {
		return Message{}, &SendError{ProvisionalID: provisionalID, Err: ErrNoActiveRoom}
	}
	go c.postSend(room.ID, msg)
	return msg, nil
}

// postSend resolves one optimistic send against the chat store.
func (c *Client) postSend(roomID string, provisional Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	confirmed, err := c.store.SendMessage(ctx, roomID, provisional.Sender, provisional.Content)
	if err != nil {
		slog.Warn("send request failed", "room", roomID, "provisional", provisional.ID, "error", err)
		c.msgs.MarkFailed(provisional.ID)
		return
	}
	c.msgs.ResolveLocal(provisional.ID, confirmed)
}

// InputActivity reports local typing input for the active room.
func (c *Client) InputActivity(ctx context.Context) {
	if room, ok := c.rooms.Active(); ok {
		c.typing.InputActivity(ctx, room.ID)
	}
}

// Messages returns the reconciled sequence for the active room.
func (c *Client) Messages() []Message {
	return c.msgs.Messages()
}

// TypingPeers returns the remote typing signals currently visible.
func (c *Client) TypingPeers() []TypingSignal {
	return c.typing.Active()
}

// IsOnline reports known presence for a participant.
func (c *Client) IsOnline(userID string) bool {
	return c.presence.IsOnline(userID)
}

// Status is a point-in-time view of the core for the status endpoint.
type Status struct {
	ConnectionState string `json:"connection_state"`
	ActiveRoom      string `json:"active_room,omitempty"`
	Messages        int    `json:"messages"`
	TypingPeers     int    `json:"typing_peers"`
	OnlineUsers     int    `json:"online_users"`
}

// Snapshot captures the current Status.
func (c *Client) Snapshot() Status {
	st := Status{
		ConnectionState: c.conn.State().String(),
		Messages:        c.msgs.Len(),
		TypingPeers:     len(c.typing.Active()),
		OnlineUsers:     c.presence.OnlineCount(),
	}
	if room, ok := c.rooms.Active(); ok {
		st.ActiveRoom = room.ID
	}
	return st
}

// readFlushed runs after a successful read-receipt batch: the room's
// unread messages (those sent by peers) advance to read locally.
func (c *Client) readFlushed(roomID string) {
	if !c.rooms.Admits(roomID) {
		return
	}
	c.msgs.ApplyRead(c.session.ParticipantID)
}

// handleState reacts to connection lifecycle transitions.
func (c *Client) handleState(sc StateChange) {
	switch sc.State {
	case StateReconnecting:
		// Presence learned on the dead connection is stale. The set is
		// rebuilt from whatever events arrive after reconnect.
		c.presence.Reset()
	case StateConnected:
		if sc.Resumed {
			go c.refreshAfterReconnect()
		}
	case StateDisconnected:
		if sc.Err != nil {
			slog.Error("connection terminally lost", "error", sc.Err)
		}
	}
}

// refreshAfterReconnect re-fetches the active room's snapshot. Push
// events missed while disconnected cannot be replayed by the gateway,
// so the store's snapshot is the only way back to a consistent view.
func (c *Client) refreshAfterReconnect() {
	room, ok := c.rooms.Active()
	if !ok {
		return
	}
	epoch := c.rooms.Epoch()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	c.setFetchCancel(cancel)
	defer cancel()

	snapshot, err := c.store.Messages(ctx, room.ID)
	if err != nil {
		slog.Warn("post-reconnect snapshot fetch failed", "room", room.ID, "error", err)
		return
	}
	if !c.rooms.AdmitsEpoch(room.ID, epoch) {
		return
	}
	c.msgs.InitSnapshot(room.ID, snapshot)
}

// handleEnvelope routes one inbound gateway event. Room-scoped events
// for anything other than the active room are dropped here, so a late
// event for a conversation we left cannot leak into the current one.
func (c *Client) handleEnvelope(env transport.Envelope) {
	switch env.Event {
	case transport.EventMessagePushed:
		var msg Message
		if !c.decode(env, &msg) {
			return
		}
		if !c.rooms.Admits(msg.RoomID) {
			slog.Debug("ignoring message for inactive room", "room", msg.RoomID)
			return
		}
		c.msgs.ApplyPush(msg)
		if msg.Sender.ID != c.session.ParticipantID {
			c.receipts.NoteInbound()
		}

	case transport.EventMessageDelivered:
		var p DeliveredPayload
		if c.decode(env, &p) {
			c.msgs.ApplyDelivered(p.MessageID)
		}

	case transport.EventMessagesRead:
		var p ReadPayload
		if c.decode(env, &p) && c.rooms.Admits(p.RoomID) {
			c.msgs.ApplyRead(p.ReaderID)
		}

	case transport.EventTypingStart:
		var p TypingPayload
		if c.decode(env, &p) && c.rooms.Admits(p.RoomID) && p.UserID != c.session.ParticipantID {
			c.typing.ApplyStart(p)
		}

	case transport.EventTypingStop:
		var p TypingPayload
		if c.decode(env, &p) && c.rooms.Admits(p.RoomID) {
			c.typing.ApplyStop(p)
		}

	case transport.EventUserOnline:
		var p PresencePayload
		if c.decode(env, &p) {
			c.presence.SetOnline(p.UserID)
		}

	case transport.EventUserOffline:
		var p PresencePayload
		if c.decode(env, &p) {
			c.presence.SetOffline(p.UserID)
		}

	default:
		slog.Debug("ignoring unknown gateway event", "event", env.Event)
	}
}

func (c *Client) decode(env transport.Envelope, out any) bool {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		if c.metrics != nil {
			c.metrics.ReconciliationConflicts.Inc()
		}
		slog.Warn("discarding undecodable event payload", "event", env.Event, "error", err)
		return false
	}
	return true
}

func (c *Client) setFetchCancel(cancel context.CancelFunc) {
	c.mu.Lock()
	prev := c.fetchCancel
	c.fetchCancel = cancel
	c.mu.Unlock()
	if prev != nil {
		prev()
	}
}

func (c *Client) cancelFetch() {
	c.mu.Lock()
	cancel := c.fetchCancel
	c.fetchCancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
