package chat

import (
	"context"
	"testing"
	"time"

	"github.com/jagjeet027/FurniMart-sub002/internal/transport"
)

func connectedTyping(t *testing.T, idle, expiry time.Duration) (*TypingCoordinator, *fakeConn) {
	t.Helper()
	dialer := &fakeDialer{}
	cm := NewConnectionManager(dialer, testSession(), time.Millisecond, 3, nil)
	if err := cm.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(cm.Close)
	return NewTypingCoordinator(cm, testSession(), idle, expiry, nil), dialer.last()
}

func TestTypingBurstEmitsOneStart(t *testing.T) {
	tc, conn := connectedTyping(t, 50*time.Millisecond, time.Second)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		tc.InputActivity(ctx, "room-a")
	}

	if got := conn.count(transport.EventTypingStart); got != 1 {
		t.Fatalf("typing-start sent %d times, want 1", got)
	}
	if got := conn.count(transport.EventTypingStop); got != 0 {
		t.Fatalf("typing-stop sent before idle: %d", got)
	}
}

func TestTypingTrailingStopAfterIdle(t *testing.T) {
	tc, conn := connectedTyping(t, 20*time.Millisecond, time.Second)

	tc.InputActivity(context.Background(), "room-a")
	waitFor(t, func() bool {
		return conn.count(transport.EventTypingStop) == 1
	}, "trailing typing-stop")

	// A new burst after idle starts a fresh pair.
	tc.InputActivity(context.Background(), "room-a")
	if got := conn.count(transport.EventTypingStart); got != 2 {
		t.Fatalf("typing-start sent %d times, want 2", got)
	}
}

func TestTypingRoomSwitchStopsOldRoom(t *testing.T) {
	tc, conn := connectedTyping(t, time.Second, time.Second)
	ctx := context.Background()

	tc.InputActivity(ctx, "room-a")
	tc.InputActivity(ctx, "room-b")

	if got := conn.count(transport.EventTypingStop); got != 1 {
		t.Fatalf("typing-stop sent %d times on room switch, want 1", got)
	}
	if got := conn.count(transport.EventTypingStart); got != 2 {
		t.Fatalf("typing-start sent %d times, want 2", got)
	}
}

func TestRemoteStartRefreshDoesNotDuplicate(t *testing.T) {
	tc, _ := connectedTyping(t, time.Second, time.Second)

	p := TypingPayload{RoomID: "room-a", UserID: "mfr-9", UserName: "Woodline"}
	tc.ApplyStart(p)
	first := tc.Active()
	tc.ApplyStart(p)

	active := tc.Active()
	if len(active) != 1 {
		t.Fatalf("signals = %d, want 1", len(active))
	}
	if !active[0].ExpiresAt.After(first[0].ExpiresAt.Add(-time.Millisecond)) {
		t.Fatal("repeat start did not refresh the deadline")
	}
}

func TestRemoteSignalExpiresWithoutStop(t *testing.T) {
	tc, _ := connectedTyping(t, time.Second, 20*time.Millisecond)

	tc.ApplyStart(TypingPayload{RoomID: "room-a", UserID: "mfr-9"})
	if len(tc.Active()) != 1 {
		t.Fatal("signal not recorded")
	}

	waitFor(t, func() bool { return len(tc.Active()) == 0 }, "signal to expire")
}

func TestRemoteStopRemovesSignal(t *testing.T) {
	tc, _ := connectedTyping(t, time.Second, time.Second)

	tc.ApplyStart(TypingPayload{RoomID: "room-a", UserID: "mfr-9"})

	// A stop scoped to another room must not clear the live signal.
	tc.ApplyStop(TypingPayload{RoomID: "room-b", UserID: "mfr-9"})
	if len(tc.Active()) != 1 {
		t.Fatal("stop for a different room removed the signal")
	}

	tc.ApplyStop(TypingPayload{RoomID: "room-a", UserID: "mfr-9"})
	if len(tc.Active()) != 0 {
		t.Fatal("signal survived typing-stop")
	}
	// A duplicate stop is harmless.
	tc.ApplyStop(TypingPayload{RoomID: "room-a", UserID: "mfr-9"})
}

func TestSlowEmitDoesNotBlockRemoteSignals(t *testing.T) {
	tc, conn := connectedTyping(t, time.Hour, time.Hour)
	entered, release := conn.stallEmits()
	defer close(release)

	go tc.InputActivity(context.Background(), "room-a")
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("typing-start never reached the transport")
	}

	// The remote signal paths must stay responsive while the outgoing
	// emit is stuck in a slow write.
	done := make(chan struct{})
	go func() {
		tc.ApplyStart(TypingPayload{RoomID: "room-a", UserID: "mfr-9"})
		tc.Active()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("remote signal path blocked behind a slow emit")
	}
	if len(tc.Active()) != 1 {
		t.Fatal("signal not recorded")
	}
}

func TestTypingResetClearsEverything(t *testing.T) {
	tc, conn := connectedTyping(t, time.Second, time.Second)
	ctx := context.Background()

	tc.InputActivity(ctx, "room-a")
	tc.ApplyStart(TypingPayload{RoomID: "room-a", UserID: "mfr-9"})
	tc.Reset()

	if len(tc.Active()) != 0 {
		t.Fatal("remote signals survived Reset")
	}
	if got := conn.count(transport.EventTypingStop); got != 1 {
		t.Fatalf("typing-stop sent %d times on Reset, want 1", got)
	}
}
