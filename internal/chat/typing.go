package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jagjeet027/FurniMart-sub002/internal/metrics"
	"github.com/jagjeet027/FurniMart-sub002/internal/transport"
)

// TypingCoordinator debounces outgoing typing signals and expires
// incoming ones. Outgoing: one typing-start per burst of input, with a
// trailing typing-stop once input goes idle. Incoming: each signal
// carries a deadline and is removed when it passes, whether or not a
// typing-stop ever arrives. Stop events get lost.
type TypingCoordinator struct {
	conn    *ConnectionManager
	session Session
	metrics *metrics.Metrics
	now     func() time.Time

	mu         sync.Mutex
	idle       time.Duration
	expiry     time.Duration
	typingRoom string // room we currently emit typing for, "" when idle
	stopTimer  *time.Timer
	signals    map[string]TypingSignal
	timers     map[string]*time.Timer
}

// NewTypingCoordinator creates a coordinator emitting on conn.
func NewTypingCoordinator(conn *ConnectionManager, session Session, idle, expiry time.Duration, m *metrics.Metrics) *TypingCoordinator {
	if idle <= 0 {
		idle = time.Second
	}
	if expiry <= 0 {
		expiry = 3 * time.Second
	}
	return &TypingCoordinator{
		conn:    conn,
		session: session,
		idle:    idle,
		expiry:  expiry,
		metrics: m,
		now:     time.Now,
		signals: make(map[string]TypingSignal),
		timers:  make(map[string]*time.Timer),
	}
}

// SetWindows replaces the idle and expiry windows. Timers already
// armed keep their old deadline; new activity uses the new windows.
func (t *TypingCoordinator) SetWindows(idle, expiry time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idle > 0 {
		t.idle = idle
	}
	if expiry > 0 {
		t.expiry = expiry
	}
}

// InputActivity records local input in roomID. The first call of a
// burst emits typing-start; each call pushes the trailing typing-stop
// further out, so a rapid sequence of keystrokes collapses into one
// start/stop pair.
func (t *TypingCoordinator) InputActivity(ctx context.Context, roomID string) {
	t.mu.Lock()
	if t.typingRoom == roomID {
		t.armStopTimerLocked()
		t.mu.Unlock()
		return
	}
	stopRoom := t.clearOutgoingLocked()
	t.mu.Unlock()

	// Emits happen outside the lock so a slow write never stalls the
	// reader paths.
	t.emitStop(stopRoom)
	if err := t.conn.Emit(ctx, transport.EventTypingStart, t.payload(roomID)); err != nil {
		slog.Debug("typing-start not sent", "room", roomID, "error", err)
		return
	}

	t.mu.Lock()
	t.typingRoom = roomID
	t.armStopTimerLocked()
	t.mu.Unlock()
}

// armStopTimerLocked (re)arms the trailing stop. Caller holds t.mu.
func (t *TypingCoordinator) armStopTimerLocked() {
	if t.stopTimer != nil {
		t.stopTimer.Stop()
	}
	t.stopTimer = time.AfterFunc(t.idle, t.idleElapsed)
}

// idleElapsed fires after the trailing idle window with no input.
func (t *TypingCoordinator) idleElapsed() {
	t.mu.Lock()
	stopRoom := t.clearOutgoingLocked()
	t.mu.Unlock()
	t.emitStop(stopRoom)
}

// clearOutgoingLocked clears the outgoing typing state and returns the
// room that still needs a typing-stop, "" when there is none. Caller
// holds t.mu.
func (t *TypingCoordinator) clearOutgoingLocked() string {
	room := t.typingRoom
	t.typingRoom = ""
	if t.stopTimer != nil {
		t.stopTimer.Stop()
		t.stopTimer = nil
	}
	return room
}

// emitStop sends typing-stop for roomID, no-op when roomID is empty.
func (t *TypingCoordinator) emitStop(roomID string) {
	if roomID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.conn.Emit(ctx, transport.EventTypingStop, t.payload(roomID)); err != nil {
		slog.Debug("typing-stop not sent", "room", roomID, "error", err)
	}
}

func (t *TypingCoordinator) payload(roomID string) TypingPayload {
	return TypingPayload{
		RoomID:   roomID,
		UserID:   t.session.ParticipantID,
		UserName: t.session.DisplayName,
	}
}

// ApplyStart inserts or refreshes a remote typing signal. A repeat
// start from the same user moves the deadline; it never duplicates
// the signal.
func (t *TypingCoordinator) ApplyStart(p TypingPayload) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.signals[p.UserID] = TypingSignal{
		RoomID:    p.RoomID,
		UserID:    p.UserID,
		UserName:  p.UserName,
		ExpiresAt: t.now().Add(t.expiry),
	}
	if timer, ok := t.timers[p.UserID]; ok {
		timer.Stop()
	}
	userID := p.UserID
	t.timers[userID] = time.AfterFunc(t.expiry, func() {
		t.expire(userID)
	})
	t.updateGaugeLocked()
}

// ApplyStop removes a remote typing signal. A stop scoped to another
// room leaves the signal in place.
func (t *TypingCoordinator) ApplyStop(p TypingPayload) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sig, ok := t.signals[p.UserID]
	if !ok || sig.RoomID != p.RoomID {
		return
	}
	t.removeLocked(p.UserID)
}

// expire removes a signal whose deadline passed without a refresh.
func (t *TypingCoordinator) expire(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sig, ok := t.signals[userID]
	if !ok || t.now().Before(sig.ExpiresAt) {
		// Refreshed since this timer was armed.
		return
	}
	t.removeLocked(userID)
}

func (t *TypingCoordinator) removeLocked(userID string) {
	if timer, ok := t.timers[userID]; ok {
		timer.Stop()
		delete(t.timers, userID)
	}
	delete(t.signals, userID)
	t.updateGaugeLocked()
}

// Active returns the currently visible remote typing signals.
func (t *TypingCoordinator) Active() []TypingSignal {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TypingSignal, 0, len(t.signals))
	for _, s := range t.signals {
		out = append(out, s)
	}
	return out
}

// Reset drops every signal and any outstanding outgoing state. Called
// on room switch so nothing leaks across conversations.
func (t *TypingCoordinator) Reset() {
	t.mu.Lock()
	stopRoom := t.clearOutgoingLocked()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	t.signals = make(map[string]TypingSignal)
	t.updateGaugeLocked()
	t.mu.Unlock()

	t.emitStop(stopRoom)
}

func (t *TypingCoordinator) updateGaugeLocked() {
	if t.metrics != nil {
		t.metrics.TypingSignalsActive.Set(float64(len(t.signals)))
	}
}
