package chat

import "testing"

func TestPresenceTracksOnlineSet(t *testing.T) {
	p := NewPresenceTracker()

	p.SetOnline("mfr-9")
	p.SetOnline("mfr-9") // duplicate event
	p.SetOnline("cust-2")

	if !p.IsOnline("mfr-9") {
		t.Fatal("mfr-9 should be online")
	}
	if got := p.OnlineCount(); got != 2 {
		t.Fatalf("online = %d, want 2", got)
	}

	p.SetOffline("mfr-9")
	if p.IsOnline("mfr-9") {
		t.Fatal("mfr-9 should be offline")
	}
	p.SetOffline("ghost") // offline for an unknown user is a no-op
	if got := p.OnlineCount(); got != 1 {
		t.Fatalf("online = %d, want 1", got)
	}
}

func TestPresenceReset(t *testing.T) {
	p := NewPresenceTracker()
	p.SetOnline("mfr-9")
	p.Reset()

	if p.IsOnline("mfr-9") {
		t.Fatal("presence survived reset")
	}
	if got := p.OnlineCount(); got != 0 {
		t.Fatalf("online = %d, want 0", got)
	}
}
