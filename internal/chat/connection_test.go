package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jagjeet027/FurniMart-sub002/internal/transport"
)

func testSession() Session {
	return Session{ParticipantID: "cust-1", DisplayName: "Priya", Role: RoleCustomer}
}

// stateRecorder collects lifecycle transitions for assertions.
type stateRecorder struct {
	mu      sync.Mutex
	changes []StateChange
}

func (r *stateRecorder) record(sc StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, sc)
}

func (r *stateRecorder) states() []ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnState, len(r.changes))
	for i, sc := range r.changes {
		out[i] = sc.State
	}
	return out
}

func (r *stateRecorder) last() (StateChange, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.changes) == 0 {
		return StateChange{}, false
	}
	return r.changes[len(r.changes)-1], true
}

func TestConnectAnnouncesSession(t *testing.T) {
	dialer := &fakeDialer{}
	cm := NewConnectionManager(dialer, testSession(), time.Millisecond, 3, nil)
	defer cm.Close()

	rec := &stateRecorder{}
	cm.OnStateChange(rec.record)

	if err := cm.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := cm.State(); got != StateConnected {
		t.Fatalf("state = %v, want connected", got)
	}

	conn := dialer.last()
	if conn.count(transport.EventSessionReady) != 1 {
		t.Fatalf("session-ready sent %d times, want 1", conn.count(transport.EventSessionReady))
	}

	want := []ConnState{StateConnecting, StateConnected}
	got := rec.states()
	if len(got) != len(want) {
		t.Fatalf("state changes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("state changes = %v, want %v", got, want)
		}
	}
	if last, _ := rec.last(); last.Resumed {
		t.Fatal("initial connect reported as resumed")
	}
}

func TestConnectWhileConnectedIsNoop(t *testing.T) {
	dialer := &fakeDialer{}
	cm := NewConnectionManager(dialer, testSession(), time.Millisecond, 3, nil)
	defer cm.Close()

	cm.Connect(context.Background())
	cm.Connect(context.Background())

	if dialer.dialCount() != 1 {
		t.Fatalf("dials = %d, want 1", dialer.dialCount())
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	dialer := &fakeDialer{}
	cm := NewConnectionManager(dialer, testSession(), time.Millisecond, 5, nil)
	defer cm.Close()

	rec := &stateRecorder{}
	cm.OnStateChange(rec.record)
	cm.Connect(context.Background())
	first := dialer.last()

	// Simulate the gateway dropping the connection.
	first.Close()

	waitFor(t, func() bool {
		return cm.State() == StateConnected && dialer.dialCount() == 2
	}, "reconnect to complete")

	last, ok := rec.last()
	if !ok || last.State != StateConnected || !last.Resumed {
		t.Fatalf("last state change = %+v, want resumed Connected", last)
	}
	if dialer.last().count(transport.EventSessionReady) != 1 {
		t.Fatal("session not re-announced after reconnect")
	}
}

func TestReconnectBackoffExhaustion(t *testing.T) {
	dialer := &fakeDialer{failures: 100}
	cm := NewConnectionManager(dialer, testSession(), time.Millisecond, 3, nil)
	defer cm.Close()

	rec := &stateRecorder{}
	cm.OnStateChange(rec.record)
	cm.Connect(context.Background())

	waitFor(t, func() bool {
		last, ok := rec.last()
		return ok && last.State == StateDisconnected
	}, "retries to exhaust")

	last, _ := rec.last()
	if !errors.Is(last.Err, ErrRetriesExhausted) {
		t.Fatalf("terminal error = %v, want ErrRetriesExhausted", last.Err)
	}
	// Initial dial plus three bounded retries.
	if got := dialer.dialCount(); got != 4 {
		t.Fatalf("dials = %d, want 4", got)
	}
	if cm.State() != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", cm.State())
	}
}

func TestEmitWhileDisconnected(t *testing.T) {
	cm := NewConnectionManager(&fakeDialer{}, testSession(), time.Millisecond, 3, nil)

	err := cm.Emit(context.Background(), transport.EventTypingStart, nil)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Emit while disconnected = %v, want ErrNotConnected", err)
	}
}

func TestCloseStopsReconnect(t *testing.T) {
	dialer := &fakeDialer{failures: 100}
	cm := NewConnectionManager(dialer, testSession(), 5*time.Millisecond, 10, nil)
	cm.Connect(context.Background())

	waitFor(t, func() bool { return cm.State() == StateReconnecting }, "reconnect to start")
	cm.Close()

	if cm.State() != StateDisconnected {
		t.Fatalf("state after Close = %v, want disconnected", cm.State())
	}
	// A dial already past the staleness check may still land; let it.
	time.Sleep(20 * time.Millisecond)
	dials := dialer.dialCount()
	time.Sleep(30 * time.Millisecond)
	if got := dialer.dialCount(); got != dials {
		t.Fatalf("dials continued after Close: %d -> %d", dials, got)
	}
}

func TestInboundEventsPublished(t *testing.T) {
	dialer := &fakeDialer{}
	cm := NewConnectionManager(dialer, testSession(), time.Millisecond, 3, nil)
	defer cm.Close()

	var mu sync.Mutex
	var seen []string
	cm.OnEvent(func(env transport.Envelope) {
		mu.Lock()
		seen = append(seen, env.Event)
		mu.Unlock()
	})

	cm.Connect(context.Background())
	dialer.last().push(t, transport.EventUserOnline, PresencePayload{UserID: "mfr-9"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1 && seen[0] == transport.EventUserOnline
	}, "inbound event to reach subscriber")
}
