package subscription

import (
	"sync"
	"time"

	"github.com/openpbx/sipcore/dialog"
)

// Table is the concurrent dialog-id-keyed subscription index described
// in spec.md 5.
type Table struct {
	mu   sync.RWMutex
	byID map[dialog.ID]*Subscription
}

// NewTable constructs an empty subscription table.
func NewTable() *Table {
	return &Table{byID: make(map[dialog.ID]*Subscription)}
}

// Put inserts or replaces the subscription at its dialog id.
func (t *Table) Put(s *Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[s.DialogID()] = s
}

// Get looks up a subscription by dialog id.
func (t *Table) Get(id dialog.ID) (*Subscription, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byID[id]
	return s, ok
}

// Remove drops a subscription from the table.
func (t *Table) Remove(id dialog.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, id)
}

// Len reports the number of tracked subscriptions, for diagnostics.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// ByTarget returns every non-terminated subscription watching aor,
// used to fan out a NOTIFY (e.g. MWI, presence updates) to every
// interested subscriber.
func (t *Table) ByTarget(aor string) []*Subscription {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Subscription
	for _, s := range t.byID {
		if s.TargetAOR() == aor && s.State() != StateTerminated {
			out = append(out, s)
		}
	}
	return out
}

// ReapExpired removes every subscription whose Expires has elapsed as
// of now, returning the count removed.
func (t *Table) ReapExpired(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, s := range t.byID {
		if s.Expired(now) {
			s.Terminate()
			delete(t.byID, id)
			n++
		}
	}
	return n
}
