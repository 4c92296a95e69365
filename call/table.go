package call

import "sync"

// Table is the concurrent Call-ID-keyed index of live call sessions
// described in spec.md 3 and 5: exclusively owns session lifetime,
// mutex-protected, never held across an I/O await.
type Table struct {
	mu     sync.RWMutex
	byCall map[string]*Session
}

// NewTable constructs an empty call session table.
func NewTable() *Table {
	return &Table{byCall: make(map[string]*Session)}
}

// Put inserts or replaces the session at its Call-ID.
func (t *Table) Put(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byCall[s.CallID()] = s
}

// Get looks up a session by Call-ID.
func (t *Table) Get(callID string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byCall[callID]
	return s, ok
}

// Remove drops a session from the table.
func (t *Table) Remove(callID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byCall, callID)
}

// Len reports the number of live sessions, for diagnostics.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byCall)
}

// ByAOR returns every live session where aor is the caller or callee,
// used to enumerate a user's active calls.
func (t *Table) ByAOR(aor string) []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Session
	for _, s := range t.byCall {
		if s.CallerAOR() == aor || s.CalleeAOR() == aor {
			out = append(out, s)
		}
	}
	return out
}

// Active returns every session not yet Terminated, per spec.md 6's
// CallTable.active() admin surface.
func (t *Table) Active() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Session, 0, len(t.byCall))
	for _, s := range t.byCall {
		if s.State() != StateTerminated {
			out = append(out, s)
		}
	}
	return out
}

// Terminate ends the session at callID, if any, per spec.md 6's
// CallTable.terminate(call_id) admin surface.
func (t *Table) Terminate(callID string) error {
	s, ok := t.Get(callID)
	if !ok {
		return nil
	}
	return s.Terminate()
}

// TerminateAll terminates and removes every session, used on shutdown.
func (t *Table) TerminateAll() {
	t.mu.Lock()
	sessions := make([]*Session, 0, len(t.byCall))
	for _, s := range t.byCall {
		sessions = append(sessions, s)
	}
	t.byCall = make(map[string]*Session)
	t.mu.Unlock()

	for _, s := range sessions {
		_ = s.Terminate()
	}
}
