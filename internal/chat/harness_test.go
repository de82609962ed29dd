package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jagjeet027/FurniMart-sub002/internal/transport"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

type emittedEvent struct {
	Event   string
	Payload any
}

// fakeConn is an in-memory transport.Conn. Tests feed inbound events
// through push and inspect outbound traffic through emitted.
type fakeConn struct {
	mu          sync.Mutex
	sent        []emittedEvent
	inbound     chan transport.Envelope
	closed      chan struct{}
	once        sync.Once
	emitEntered chan string
	emitGate    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan transport.Envelope, 32),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Emit(ctx context.Context, eventName string, payload any) error {
	select {
	case <-c.closed:
		return errors.New("emit on closed connection")
	default:
	}
	c.mu.Lock()
	entered, gate := c.emitEntered, c.emitGate
	c.mu.Unlock()
	if gate != nil {
		entered <- eventName
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, emittedEvent{Event: eventName, Payload: payload})
	return nil
}

// stallEmits makes every later Emit announce itself on the returned
// entered channel and block until release is closed. Call it after the
// connection handshake so session-ready is not held up.
func (c *fakeConn) stallEmits() (entered chan string, release chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitEntered = make(chan string, 8)
	c.emitGate = make(chan struct{})
	return c.emitEntered, c.emitGate
}

func (c *fakeConn) Next(ctx context.Context) (transport.Envelope, error) {
	select {
	case env := <-c.inbound:
		return env, nil
	case <-c.closed:
		return transport.Envelope{}, errors.New("connection closed")
	case <-ctx.Done():
		return transport.Envelope{}, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// push feeds one inbound event as the gateway would deliver it.
func (c *fakeConn) push(t *testing.T, eventName string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", eventName, err)
	}
	c.inbound <- transport.Envelope{Event: eventName, Payload: raw}
}

// emitted returns the names of events sent so far.
func (c *fakeConn) emitted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, e := range c.sent {
		out[i] = e.Event
	}
	return out
}

// count returns how many events with the given name were sent.
func (c *fakeConn) count(eventName string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	for _, e := range c.sent {
		if e.Event == eventName {
			n++
		}
	}
	return n
}

// fakeDialer hands out fakeConns, failing the first `failures` dials.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
	conns    []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("dial refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// last returns the most recently dialed connection.
func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// fakeStore is an in-memory chat.Store.
type fakeStore struct {
	mu        sync.Mutex
	rooms     []Room
	messages  map[string][]Message
	sendErr   error
	markErr   error
	nextID    int
	markCalls []string
	sendCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{messages: make(map[string][]Message)}
}

func (f *fakeStore) Rooms(ctx context.Context, participantID string) ([]Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Room(nil), f.rooms...), nil
}

func (f *fakeStore) Messages(ctx context.Context, roomID string) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.messages[roomID]...), nil
}

func (f *fakeStore) SendMessage(ctx context.Context, roomID string, sender Sender, content string) (Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if f.sendErr != nil {
		return Message{}, f.sendErr
	}
	f.nextID++
	m := Message{
		ID:        newServerID(f.nextID),
		RoomID:    roomID,
		Sender:    sender,
		Content:   content,
		CreatedAt: time.Now(),
	}
	f.messages[roomID] = append(f.messages[roomID], m)
	return m, nil
}

func (f *fakeStore) MarkRead(ctx context.Context, roomID, participantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.markCalls = append(f.markCalls, roomID)
	return nil
}

func (f *fakeStore) markReadCount(roomID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, id := range f.markCalls {
		if id == roomID {
			n++
		}
	}
	return n
}

func newServerID(n int) string {
	return fmt.Sprintf("srv-%d", n)
}
