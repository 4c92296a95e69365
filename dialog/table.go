package dialog

import (
	"sync"

	"github.com/openpbx/sipcore/message"
)

// Table is the concurrent Call-ID/local-tag/remote-tag index described in
// spec.md 3 and 5: exclusively owns dialog lifetime, mutex-protected,
// never touched across an I/O await.
type Table struct {
	mu   sync.RWMutex
	byID map[ID]*Dialog
}

// NewTable constructs an empty dialog table.
func NewTable() *Table {
	return &Table{byID: make(map[ID]*Dialog)}
}

// Put inserts or replaces the dialog at its own ID.
func (t *Table) Put(d *Dialog) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[d.ID()] = d
}

// Get looks up a dialog by exact ID.
func (t *Table) Get(id ID) (*Dialog, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.byID[id]
	return d, ok
}

// Remove drops a dialog from the table.
func (t *Table) Remove(id ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, id)
}

// Len reports the number of live dialogs, for diagnostics.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// MatchRequest resolves the dialog an in-dialog request belongs to, per
// RFC 3261 12.2.2: the request's Call-ID, the To-tag as local-tag and
// From-tag as remote-tag from the UAS's perspective. fromUAS selects
// which side of the request's tags is "local": a UAS receiving a
// mid-dialog request sees its own tag in To and the peer's in From; a UAC
// sees the reverse.
func (t *Table) MatchRequest(req *message.Request, fromUAS bool) (*Dialog, bool) {
	callID, ok := req.CallID()
	if !ok {
		return nil, false
	}
	from, ok := req.From()
	if !ok {
		return nil, false
	}
	to, ok := req.To()
	if !ok {
		return nil, false
	}
	fromTag, _ := from.Tag()
	toTag, _ := to.Tag()

	id := ID{CallID: callID, LocalTag: toTag, RemoteTag: fromTag}
	if !fromUAS {
		id = ID{CallID: callID, LocalTag: fromTag, RemoteTag: toTag}
	}
	return t.Get(id)
}

// TerminateAll terminates and removes every dialog, used on shutdown.
func (t *Table) TerminateAll() {
	t.mu.Lock()
	dialogs := make([]*Dialog, 0, len(t.byID))
	for _, d := range t.byID {
		dialogs = append(dialogs, d)
	}
	t.byID = make(map[ID]*Dialog)
	t.mu.Unlock()

	for _, d := range dialogs {
		_ = d.Terminate()
	}
}
