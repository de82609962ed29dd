package chat

import "sync"

// PresenceTracker maintains the set of online participant ids, fed by
// user-online / user-offline events. It is not scoped to a room and is
// rebuilt from whatever events arrive after a (re)connect, so absence
// from the set means "unknown or offline", never a hard negative.
type PresenceTracker struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

// NewPresenceTracker creates an empty tracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[string]struct{})}
}

// SetOnline records that a user's connection is active.
func (p *PresenceTracker) SetOnline(userID string) {
	p.mu.Lock()
	p.online[userID] = struct{}{}
	p.mu.Unlock()
}

// SetOffline removes a user from the online set.
func (p *PresenceTracker) SetOffline(userID string) {
	p.mu.Lock()
	delete(p.online, userID)
	p.mu.Unlock()
}

// IsOnline reports whether the user is known to be online.
func (p *PresenceTracker) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}

// OnlineCount returns the number of users known to be online.
func (p *PresenceTracker) OnlineCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.online)
}

// Reset clears the set. Called when the connection drops; presence
// learned on the old connection is stale.
func (p *PresenceTracker) Reset() {
	p.mu.Lock()
	p.online = make(map[string]struct{})
	p.mu.Unlock()
}
