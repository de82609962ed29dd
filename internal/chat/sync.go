package chat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jagjeet027/FurniMart-sub002/internal/metrics"
)

// Synchronizer merges messages from three sources into one ordered,
// deduplicated sequence for the active room: the REST snapshot fetched
// on room open, push events from the gateway, and local optimistic
// sends. It also owns the per-message delivery-state machine.
//
// Every mutation is idempotent: the transport gives no at-most-once
// guarantee, so duplicate delivery of any event must be a no-op.
type Synchronizer struct {
	localSender    Sender
	matchWindow    time.Duration
	confirmTimeout time.Duration
	metrics        *metrics.Metrics
	now            func() time.Time

	mu     sync.Mutex
	roomID string
	msgs   []*Message
	index  map[string]*Message
	timers map[string]*time.Timer // provisional id -> confirm-timeout timer
}

// NewSynchronizer creates a synchronizer for messages sent by localSender.
func NewSynchronizer(localSender Sender, matchWindow, confirmTimeout time.Duration, m *metrics.Metrics) *Synchronizer {
	if matchWindow <= 0 {
		matchWindow = 30 * time.Second
	}
	if confirmTimeout <= 0 {
		confirmTimeout = 10 * time.Second
	}
	return &Synchronizer{
		localSender:    localSender,
		matchWindow:    matchWindow,
		confirmTimeout: confirmTimeout,
		metrics:        m,
		now:            time.Now,
		index:          make(map[string]*Message),
		timers:         make(map[string]*time.Timer),
	}
}

// Reset discards all state and rescopes the synchronizer to roomID.
// Pending confirm timers are cancelled so a stale send cannot mark
// anything failed in the new room.
func (s *Synchronizer) Reset(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.roomID = roomID
	s.msgs = nil
	s.index = make(map[string]*Message)
}

// InitSnapshot replaces the sequence with the server's full snapshot.
// Unconfirmed provisional sends survive the replacement: they are not
// in the snapshot yet, and dropping them would lose the user's drafts.
func (s *Synchronizer) InitSnapshot(roomID string, snapshot []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keep []*Message
	if s.roomID == roomID {
		for _, m := range s.msgs {
			if m.Provisional {
				keep = append(keep, m)
			}
		}
	} else {
		for id, t := range s.timers {
			t.Stop()
			delete(s.timers, id)
		}
	}

	s.roomID = roomID
	s.msgs = make([]*Message, 0, len(snapshot)+len(keep))
	s.index = make(map[string]*Message, len(snapshot)+len(keep))

	for i := range snapshot {
		m := snapshot[i]
		if _, dup := s.index[m.ID]; dup {
			continue
		}
		s.insertOrderedLocked(&m)
		if s.metrics != nil {
			s.metrics.MessagesMerged.WithLabelValues("snapshot").Inc()
		}
	}
	for _, m := range keep {
		s.insertOrderedLocked(m)
	}
}

// SetConfirmTimeout replaces the confirm timeout for future sends.
// Confirm timers already armed keep their old deadline.
func (s *Synchronizer) SetConfirmTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmTimeout = d
}

// AppendLocal creates an optimistic message with a provisional id and
// appends it immediately. The message is marked failed in place if no
// confirmation arrives within the confirm timeout.
func (s *Synchronizer) AppendLocal(content string, attachments []Attachment) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := &Message{
		ID:            "local-" + uuid.NewString(),
		RoomID:        s.roomID,
		Sender:        s.localSender,
		Content:       content,
		Attachments:   attachments,
		CreatedAt:     s.now(),
		DeliveryState: DeliverySent,
		Provisional:   true,
	}
	s.insertOrderedLocked(m)
	if s.metrics != nil {
		s.metrics.MessagesMerged.WithLabelValues("local").Inc()
	}

	id := m.ID
	s.timers[id] = time.AfterFunc(s.confirmTimeout, func() {
		s.MarkFailed(id)
	})
	return *m
}

// ResolveLocal replaces a provisional entry with its server-confirmed
// form, in place, when the send request resolves. A provisional that
// was already reconciled by a push event is a harmless duplicate.
func (s *Synchronizer) ResolveLocal(provisionalID string, confirmed Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.index[provisionalID]
	if !ok || !m.Provisional {
		if s.metrics != nil {
			s.metrics.DuplicatesDropped.Inc()
		}
		return
	}
	s.confirmLocked(m, confirmed)
}

// MarkFailed marks a still-provisional message as failed in place. The
// draft stays in the sequence so the user can trigger a resend.
func (s *Synchronizer) MarkFailed(provisionalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.index[provisionalID]
	if !ok || !m.Provisional || m.Failed {
		return
	}
	m.Failed = true
	s.stopTimerLocked(provisionalID)
	if s.metrics != nil {
		s.metrics.SendFailures.Inc()
	}
	slog.Warn("send not confirmed, marked failed", "provisional", provisionalID, "room", s.roomID)
}

// Resend removes a failed provisional entry and re-appends its content
// as a fresh optimistic send. Returns false if the id is not a failed
// provisional message.
func (s *Synchronizer) Resend(provisionalID string) (Message, bool) {
	s.mu.Lock()
	m, ok := s.index[provisionalID]
	if !ok || !m.Provisional || !m.Failed {
		s.mu.Unlock()
		return Message{}, false
	}
	content, attachments := m.Content, m.Attachments
	s.removeLocked(provisionalID)
	s.mu.Unlock()

	return s.AppendLocal(content, attachments), true
}

// ApplyPush merges a server-confirmed message from a push event.
//   - Known id: duplicate delivery; only a forward delivery-state move
//     is applied.
//   - Matches a pending provisional (same sender, same room, createdAt
//     within the match window): the provisional entry is replaced in
//     place, keeping its position.
//   - Otherwise: appended as new, ordered by createdAt.
func (s *Synchronizer) ApplyPush(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.RoomID != s.roomID {
		// The caller gates on the active room before calling in.
		return
	}

	if existing, ok := s.index[msg.ID]; ok {
		if msg.DeliveryState > existing.DeliveryState {
			existing.DeliveryState = msg.DeliveryState
		} else if s.metrics != nil {
			s.metrics.DuplicatesDropped.Inc()
		}
		return
	}

	if msg.Sender.ID == s.localSender.ID {
		if prov := s.matchProvisionalLocked(msg); prov != nil {
			s.confirmLocked(prov, msg)
			return
		}
	}

	m := msg
	s.insertOrderedLocked(&m)
	if s.metrics != nil {
		s.metrics.MessagesMerged.WithLabelValues("push").Inc()
	}
}

// ApplyDelivered advances one message to delivered. Duplicate or late
// events (the message already delivered or read) are ignored; an
// unknown id is a reconciliation conflict, logged and discarded.
func (s *Synchronizer) ApplyDelivered(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.index[messageID]
	if !ok {
		s.conflictLocked(&conflictError{messageID: messageID, reason: "delivered for unknown message"})
		return
	}
	if m.DeliveryState >= DeliveryDelivered {
		if s.metrics != nil {
			s.metrics.DuplicatesDropped.Inc()
		}
		return
	}
	m.DeliveryState = DeliveryDelivered
}

// ApplyRead advances every message not sent by readerID to read. A
// message still marked sent takes the implied delivered step in the
// same mutation, so the state never skips backwards or forwards
// observably out of order.
func (s *Synchronizer) ApplyRead(readerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.msgs {
		if m.Sender.ID == readerID {
			continue
		}
		if m.DeliveryState < DeliveryRead {
			m.DeliveryState = DeliveryRead
		}
	}
}

// Messages returns a copy of the reconciled sequence.
func (s *Synchronizer) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = *m
	}
	return out
}

// Get returns one message by id.
func (s *Synchronizer) Get(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.index[id]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// Len returns the number of messages in the sequence.
func (s *Synchronizer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// UnreadFrom counts messages not sent by participantID that are not
// yet read. The receipt batcher uses it on room activation.
func (s *Synchronizer) UnreadFrom(participantID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, m := range s.msgs {
		if m.Sender.ID != participantID && m.DeliveryState < DeliveryRead {
			n++
		}
	}
	return n
}

// matchProvisionalLocked finds the oldest unresolved provisional entry
// from the local sender whose createdAt lies within the match window of
// the confirmed message. Provisional and confirmed ids differ, so the
// match is by sender plus timestamp proximity.
func (s *Synchronizer) matchProvisionalLocked(msg Message) *Message {
	var fallback *Message
	for _, m := range s.msgs {
		if !m.Provisional || m.Failed {
			continue
		}
		d := msg.CreatedAt.Sub(m.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d > s.matchWindow {
			continue
		}
		// Matching content pins the right entry when several sends
		// are in flight; otherwise the oldest in-window entry wins.
		if m.Content == msg.Content {
			return m
		}
		if fallback == nil {
			fallback = m
		}
	}
	return fallback
}

// confirmLocked swaps a provisional entry for its confirmed form in
// place: same position, confirmed id and timestamp, delivery state
// never regressed. If the confirmed id is already in the sequence (a
// snapshot fetched while the send was in flight carries the persisted
// form), the provisional entry is removed instead of duplicating it.
func (s *Synchronizer) confirmLocked(prov *Message, confirmed Message) {
	s.stopTimerLocked(prov.ID)
	delete(s.index, prov.ID)

	if existing, ok := s.index[confirmed.ID]; ok && existing != prov {
		if confirmed.DeliveryState > existing.DeliveryState {
			existing.DeliveryState = confirmed.DeliveryState
		}
		for i, m := range s.msgs {
			if m == prov {
				s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
				break
			}
		}
		if s.metrics != nil {
			s.metrics.DuplicatesDropped.Inc()
		}
		return
	}

	prov.ID = confirmed.ID
	prov.CreatedAt = confirmed.CreatedAt
	prov.Provisional = false
	prov.Failed = false
	if confirmed.DeliveryState > prov.DeliveryState {
		prov.DeliveryState = confirmed.DeliveryState
	}
	s.index[prov.ID] = prov
}

// insertOrderedLocked places m by createdAt ascending, ties keeping
// arrival order, without disturbing the relative order of existing
// entries.
func (s *Synchronizer) insertOrderedLocked(m *Message) {
	pos := len(s.msgs)
	for pos > 0 && s.msgs[pos-1].CreatedAt.After(m.CreatedAt) {
		pos--
	}
	s.msgs = append(s.msgs, nil)
	copy(s.msgs[pos+1:], s.msgs[pos:])
	s.msgs[pos] = m
	s.index[m.ID] = m
}

func (s *Synchronizer) removeLocked(id string) {
	s.stopTimerLocked(id)
	delete(s.index, id)
	for i, m := range s.msgs {
		if m.ID == id {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			return
		}
	}
}

func (s *Synchronizer) stopTimerLocked(id string) {
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *Synchronizer) conflictLocked(err *conflictError) {
	if s.metrics != nil {
		s.metrics.ReconciliationConflicts.Inc()
	}
	slog.Warn("discarding inconsistent push event", "room", s.roomID, "conflict", err.Error())
}
