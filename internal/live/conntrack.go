package live

import "sync"

// Binding is the routing metadata for one live connection. It is not
// authoritative for roster or score state.
type Binding struct {
	RoomCode  string
	UserID    string
	IsTeacher bool
}

// ConnTracker maps connection IDs to their room binding. Pure bookkeeping;
// it never validates that the room exists, that is the caller's job.
type ConnTracker struct {
	mu    sync.RWMutex
	conns map[string]Binding
}

func NewConnTracker() *ConnTracker {
	return &ConnTracker{conns: make(map[string]Binding)}
}

func (t *ConnTracker) Bind(connID string, b Binding) {
	t.mu.Lock()
	t.conns[connID] = b
	t.mu.Unlock()
}

func (t *ConnTracker) Lookup(connID string) (Binding, bool) {
	t.mu.RLock()
	b, ok := t.conns[connID]
	t.mu.RUnlock()
	return b, ok
}

func (t *ConnTracker) Unbind(connID string) {
	t.mu.Lock()
	delete(t.conns, connID)
	t.mu.Unlock()
}
