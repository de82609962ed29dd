package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jagjeet027/FurniMart-sub002/internal/metrics"
	"github.com/jagjeet027/FurniMart-sub002/internal/transport"
)

// RoomSession scopes the client to the single currently-active
// conversation. Switching rooms is strictly leave-then-join, serialized
// under one mutex, so there is never a window with two rooms' listeners
// live. Each activation bumps an epoch; anything carrying an older
// epoch (a late snapshot fetch, typically) is discarded on arrival.
type RoomSession struct {
	conn    *ConnectionManager
	metrics *metrics.Metrics

	mu     sync.Mutex
	active *Room
	epoch  uint64
}

// NewRoomSession creates a session bound to the connection manager.
// It re-joins the active room automatically whenever the connection
// (re)establishes, so gateway-side subscriptions survive reconnects.
func NewRoomSession(conn *ConnectionManager, m *metrics.Metrics) *RoomSession {
	s := &RoomSession{conn: conn, metrics: m}
	conn.OnStateChange(func(sc StateChange) {
		if sc.State == StateConnected {
			s.replayJoin()
		}
	})
	return s
}

// Activate makes room the active conversation. Any previously active
// room is deactivated first. Returns the new epoch for fencing
// asynchronous work scoped to this activation.
func (s *RoomSession) Activate(ctx context.Context, room Room) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.leaveLocked(ctx)

	s.epoch++
	s.active = &room
	if s.metrics != nil {
		s.metrics.RoomSwitches.Inc()
	}

	if err := s.conn.Emit(ctx, transport.EventJoin, RoomPayload{RoomID: room.ID}); err != nil {
		// Not connected yet; replayJoin sends it once Connected.
		slog.Debug("join deferred until connected", "room", room.ID)
	}
	return s.epoch
}

// Deactivate leaves the active room, if any.
func (s *RoomSession) Deactivate(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveLocked(ctx)
	s.epoch++
	s.active = nil
}

// leaveLocked emits leave for the current room. Caller holds s.mu.
func (s *RoomSession) leaveLocked(ctx context.Context) {
	if s.active == nil {
		return
	}
	if err := s.conn.Emit(ctx, transport.EventLeave, RoomPayload{RoomID: s.active.ID}); err != nil {
		// The gateway drops subscriptions with the connection, so a
		// leave that cannot be sent needs no replay.
		slog.Debug("leave not sent", "room", s.active.ID, "error", err)
	}
}

// Active returns the active room, if any.
func (s *RoomSession) Active() (Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return Room{}, false
	}
	return *s.active, true
}

// Epoch returns the current activation epoch.
func (s *RoomSession) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Admits reports whether an event scoped to roomID may mutate state.
func (s *RoomSession) Admits(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil && s.active.ID == roomID
}

// AdmitsEpoch reports whether work started under epoch may still apply.
func (s *RoomSession) AdmitsEpoch(roomID string, epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil && s.active.ID == roomID && s.epoch == epoch
}

// replayJoin re-emits the join for the active room after (re)connect.
// Deferred and re-join cases collapse to the same operation: the
// gateway holds no subscriptions for a fresh connection, so the net
// effect of anything deferred is one join for the active room.
func (s *RoomSession) replayJoin() {
	s.mu.Lock()
	room := s.active
	s.mu.Unlock()

	if room == nil {
		return
	}
	if err := s.conn.Emit(context.Background(), transport.EventJoin, RoomPayload{RoomID: room.ID}); err != nil {
		slog.Warn("room re-join failed", "room", room.ID, "error", err)
		return
	}
	slog.Info("room re-joined", "room", room.ID)
}
