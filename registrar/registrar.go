// Package registrar binds addresses-of-record to contact bindings and
// answers the routing lookups the dispatcher and MESSAGE/MWI paths need,
// per spec.md 4.4.
package registrar

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openpbx/sipcore/internal/errs"
)

// ErrStaleBinding is returned when bind() is called with a (call_id, cseq)
// that does not advance the existing binding for the same (aor, contact),
// per spec.md 4.4's freshness invariant; the dispatcher maps this to
// 500 Server Internal Error.
const ErrStaleBinding errs.Error = "stale registration cseq"

// Binding is a single contact registration, per spec.md 3.
type Binding struct {
	AOR          string
	ContactURI   string
	ExpiresAt    time.Time
	CallID       string
	CSeq         uint32
	RegisteredAt time.Time
}

// Expired reports whether the binding's lifetime has elapsed as of now.
func (b Binding) Expired(now time.Time) bool { return !b.ExpiresAt.After(now) }

// RemainingSeconds returns the Contact's remaining expires value for now.
func (b Binding) RemainingSeconds(now time.Time) int {
	d := b.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return int(d.Seconds())
}

type aorEntry struct {
	mu       sync.Mutex
	bindings map[string]Binding // keyed by ContactURI
}

// Registrar is the concurrent AOR -> bindings index, per spec.md 4.4 and 5.
// The AOR map sits behind an RWMutex that lookups take for reading; every
// operation on a single AOR, Lookup included, then holds that AOR's
// exclusive mutex, so operations on one AOR are totally ordered and only
// distinct AORs proceed in parallel.
type Registrar struct {
	mu   sync.RWMutex
	aors map[string]*aorEntry
	now  func() time.Time
}

// New constructs an empty Registrar.
func New() *Registrar {
	return &Registrar{aors: make(map[string]*aorEntry), now: time.Now}
}

func normalizeAOR(aor string) string { return strings.ToLower(strings.TrimSpace(aor)) }

func (r *Registrar) entry(aor string) *aorEntry {
	aor = normalizeAOR(aor)

	r.mu.RLock()
	e, ok := r.aors[aor]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.aors[aor]; ok {
		return e
	}
	e = &aorEntry{bindings: make(map[string]Binding)}
	r.aors[aor] = e
	return e
}

// Bind upserts a binding, per spec.md 4.4: if an existing binding shares
// (aor, contact_uri), the provided (call_id, cseq) MUST be newer — same
// call_id requires a strictly larger cseq, a different call_id is always
// accepted (a new registering device). expires <= 0 deletes the binding.
func (r *Registrar) Bind(aor, contactURI string, expires time.Duration, callID string, cseq uint32) error {
	e := r.entry(aor)
	e.mu.Lock()
	defer e.mu.Unlock()

	if expires <= 0 {
		delete(e.bindings, contactURI)
		return nil
	}

	now := r.now()
	if existing, ok := e.bindings[contactURI]; ok && existing.CallID == callID && cseq <= existing.CSeq {
		return ErrStaleBinding
	}

	e.bindings[contactURI] = Binding{
		AOR:          normalizeAOR(aor),
		ContactURI:   contactURI,
		ExpiresAt:    now.Add(expires),
		CallID:       callID,
		CSeq:         cseq,
		RegisteredAt: now,
	}
	return nil
}

// RemoveAll deletes every binding for aor, per the "Contact: *" + Expires:0
// bulk-removal path in spec.md 4.4.
func (r *Registrar) RemoveAll(aor string) {
	e := r.entry(aor)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bindings = make(map[string]Binding)
}

// Lookup returns the non-expired bindings for aor, sorted by
// registered_at descending, per spec.md 4.4.
func (r *Registrar) Lookup(aor string) []Binding {
	e := r.entry(aor)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := r.now()
	out := make([]Binding, 0, len(e.bindings))
	for _, b := range e.bindings {
		if !b.Expired(now) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.After(out[j].RegisteredAt) })
	return out
}

// IsRegistered reports whether aor has at least one live binding.
func (r *Registrar) IsRegistered(aor string) bool {
	return len(r.Lookup(aor)) > 0
}

// ReapInterval is the maximum interval between expired-binding sweeps,
// per spec.md 3: "MUST be reaped within the cleanup interval (≤ 60 s)".
const ReapInterval = 60 * time.Second

// Reap removes every expired binding across all AORs and returns the
// number removed; intended to be called at least once per ReapInterval.
func (r *Registrar) Reap() int {
	r.mu.RLock()
	entries := make([]*aorEntry, 0, len(r.aors))
	for _, e := range r.aors {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	now := r.now()
	removed := 0
	for _, e := range entries {
		e.mu.Lock()
		for contact, b := range e.bindings {
			if b.Expired(now) {
				delete(e.bindings, contact)
				removed++
			}
		}
		e.mu.Unlock()
	}
	return removed
}

// RunReaper starts a background goroutine that calls Reap every interval
// (ReapInterval when interval <= 0) until stop is closed.
func (r *Registrar) RunReaper(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = ReapInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.Reap()
			}
		}
	}()
}
