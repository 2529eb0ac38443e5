package claude

import (
	"sync"
	"time"
)

// pendingRequest is the one-shot completion handle of an outbound control
// request. done is closed exactly once, after response or err is set.
type pendingRequest struct {
	id       string
	subtype  ControlSubtype
	created  time.Time
	done     chan struct{}
	response map[string]any
	err      error
}

// pendingTable correlates outbound request ids with their waiters. The lock
// is held only for map operations, never while a waiter blocks.
type pendingTable struct {
	mu        sync.Mutex
	entries   map[string]*pendingRequest
	closedErr error
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingRequest)}
}

// insert registers a new waiter. It fails once the table has been drained.
func (t *pendingTable) insert(id string, subtype ControlSubtype) (*pendingRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closedErr != nil {
		return nil, t.closedErr
	}
	if _, exists := t.entries[id]; exists {
		return nil, newProtocolError("duplicate request id "+id, nil)
	}
	p := &pendingRequest{
		id:      id,
		subtype: subtype,
		created: time.Now(),
		done:    make(chan struct{}),
	}
	t.entries[id] = p
	return p, nil
}

// resolve fulfils and removes the entry for id. It reports false when there
// is no such entry, which happens for late or duplicate responses.
func (t *pendingTable) resolve(id string, response map[string]any, err error) bool {
	t.mu.Lock()
	p, ok := t.entries[id]
	delete(t.entries, id)
	t.mu.Unlock()
	if !ok {
		return false
	}
	p.response = response
	p.err = err
	close(p.done)
	return true
}

// remove drops id without resolving it. Used by a waiter that gave up.
func (t *pendingTable) remove(id string) {
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()
}

// failAll resolves every entry with err and rejects later inserts. It
// returns how many waiters were released.
func (t *pendingTable) failAll(err error) int {
	t.mu.Lock()
	if t.closedErr == nil {
		t.closedErr = err
	}
	drained := t.entries
	t.entries = make(map[string]*pendingRequest)
	t.mu.Unlock()

	for _, p := range drained {
		p.err = err
		close(p.done)
	}
	return len(drained)
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
