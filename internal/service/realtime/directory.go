package realtime

import "sync"

// Resolution is one entry of Directory.Resolve. OK is false when the user has no
// live session.
type Resolution struct {
	UserID string
	Handle string
	OK     bool
}

// Directory maps a user to the handle of its live session. Registration is
// last-writer-wins: a reconnect replaces the previous handle.
type Directory struct {
	mu      sync.RWMutex
	handles map[string]string
}

// NewDirectory creates an empty session directory.
func NewDirectory() *Directory {
	return &Directory{handles: make(map[string]string)}
}

// Register binds userID to handle, replacing any previous binding.
func (d *Directory) Register(userID, handle string) {
	d.mu.Lock()
	d.handles[userID] = handle
	d.mu.Unlock()
}

// Unregister drops the binding for userID if present.
func (d *Directory) Unregister(userID string) {
	d.mu.Lock()
	delete(d.handles, userID)
	d.mu.Unlock()
}

// Release drops the binding only while it still points at handle and reports
// whether it did. A session that was replaced by a reconnect must not remove
// the newer binding when it closes.
func (d *Directory) Release(userID, handle string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	current, ok := d.handles[userID]
	if !ok || current != handle {
		return false
	}
	delete(d.handles, userID)
	return true
}

// Lookup returns the live handle of a single user.
func (d *Directory) Lookup(userID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	handle, ok := d.handles[userID]
	return handle, ok
}

// Resolve maps userIDs to handles preserving order. Unknown or offline users
// come back with OK=false and are left for the caller to filter.
func (d *Directory) Resolve(userIDs []string) []Resolution {
	out := make([]Resolution, len(userIDs))

	d.mu.RLock()
	defer d.mu.RUnlock()
	for i, id := range userIDs {
		handle, ok := d.handles[id]
		out[i] = Resolution{UserID: id, Handle: handle, OK: ok}
	}
	return out
}

// Handles returns every live handle.
func (d *Directory) Handles() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.handles))
	for _, handle := range d.handles {
		out = append(out, handle)
	}
	return out
}

// Len reports the number of connected users.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handles)
}
