package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jagjeet027/FurniMart-sub002/internal/metrics"
)

// readMarker is the slice of the chat store the batcher needs.
type readMarker interface {
	MarkRead(ctx context.Context, roomID, participantID string) error
}

// ReceiptBatcher turns "the user has seen these messages" into one
// batched mark-read request per burst instead of one per message. On
// room activation with unread messages it flushes immediately; inbound
// messages while the room is focused are coalesced over a short
// debounce window. It never issues a request for an inactive room.
type ReceiptBatcher struct {
	store         readMarker
	participantID string
	debounce      time.Duration
	metrics       *metrics.Metrics
	// onFlushed is invoked after a successful batch so the caller can
	// advance local delivery states and unread counts.
	onFlushed func(roomID string)

	mu     sync.Mutex
	roomID string
	active bool
	epoch  uint64 // guards a debounce flush against a room switch
	timer  *time.Timer
}

// NewReceiptBatcher creates a batcher for the local participant.
func NewReceiptBatcher(store readMarker, participantID string, debounce time.Duration, m *metrics.Metrics, onFlushed func(roomID string)) *ReceiptBatcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &ReceiptBatcher{
		store:         store,
		participantID: participantID,
		debounce:      debounce,
		metrics:       m,
		onFlushed:     onFlushed,
	}
}

// Activate focuses the batcher on a room. If the room has unread
// messages, exactly one batched mark-read request fires now.
func (b *ReceiptBatcher) Activate(ctx context.Context, room Room) {
	b.mu.Lock()
	b.stopTimerLocked()
	b.roomID = room.ID
	b.active = true
	b.epoch++
	flushNow := room.UnreadCount > 0
	b.mu.Unlock()

	if flushNow {
		b.flush(ctx, room.ID)
	}
}

// Deactivate unfocuses the batcher. Any pending debounce is cancelled;
// a mark-read must never fire for a room that is no longer active.
func (b *ReceiptBatcher) Deactivate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopTimerLocked()
	b.active = false
	b.roomID = ""
	b.epoch++
}

// SetDebounce replaces the flush debounce for future batches.
func (b *ReceiptBatcher) SetDebounce(d time.Duration) {
	if d <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.debounce = d
}

// NoteInbound records that a new message arrived while the room is
// focused. Receipts for a burst of arrivals collapse into one request
// after the debounce window.
func (b *ReceiptBatcher) NoteInbound() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.active || b.timer != nil {
		return
	}
	roomID := b.roomID
	epoch := b.epoch
	b.timer = time.AfterFunc(b.debounce, func() {
		b.mu.Lock()
		b.timer = nil
		stale := !b.active || b.epoch != epoch
		b.mu.Unlock()
		if stale {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		b.flush(ctx, roomID)
	})
}

// flush issues the batched mark-read request. Failures are logged and
// dropped without retry; the next activation or inbound message will
// try again.
func (b *ReceiptBatcher) flush(ctx context.Context, roomID string) {
	if err := b.store.MarkRead(ctx, roomID, b.participantID); err != nil {
		if b.metrics != nil {
			b.metrics.ErrorsTotal.WithLabelValues("mark_read_failure").Inc()
		}
		slog.Warn("read-receipt batch failed", "room", roomID, "error", err)
		return
	}
	if b.metrics != nil {
		b.metrics.ReceiptBatches.Inc()
	}
	slog.Debug("read-receipt batch sent", "room", roomID)
	if b.onFlushed != nil {
		b.onFlushed(roomID)
	}
}

func (b *ReceiptBatcher) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
