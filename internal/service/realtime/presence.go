package realtime

import (
	"sort"
	"sync"
)

// Presence tracks which users currently have a chat view open.
type Presence struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

// NewPresence creates an empty presence set.
func NewPresence() *Presence {
	return &Presence{online: make(map[string]struct{})}
}

// Join marks userID online. Repeated joins are harmless.
func (p *Presence) Join(userID string) {
	p.mu.Lock()
	p.online[userID] = struct{}{}
	p.mu.Unlock()
}

// Leave marks userID offline. Repeated leaves are harmless.
func (p *Presence) Leave(userID string) {
	p.mu.Lock()
	delete(p.online, userID)
	p.mu.Unlock()
}

// IsOnline reports membership of a single user.
func (p *Presence) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}

// Snapshot returns the current members, sorted, as a fresh slice.
func (p *Presence) Snapshot() []string {
	p.mu.RLock()
	out := make([]string, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	p.mu.RUnlock()

	sort.Strings(out)
	return out
}
