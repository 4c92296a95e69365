// Package subscription tracks SUBSCRIBE/NOTIFY event subscriptions: the
// Pending/Active/Terminated lifecycle keyed by dialog id, expiry, and
// the set of event packages this core recognizes.
package subscription

import (
	"sync"
	"time"

	"github.com/openpbx/sipcore/dialog"
	"github.com/openpbx/sipcore/internal/errs"
)

// EventPackage is a SUBSCRIBE/NOTIFY event type, per spec.md 3's
// Subscription type.
type EventPackage string

const (
	EventPresence       EventPackage = "presence"
	EventDialog         EventPackage = "dialog"
	EventMessageSummary EventPackage = "message-summary"
	EventReg            EventPackage = "reg"
	EventRefer          EventPackage = "refer"
)

// Supported reports whether pkg is one of the event packages this core
// recognizes; SUBSCRIBE for any other package yields 489 Bad Event.
func Supported(pkg string) bool {
	switch EventPackage(pkg) {
	case EventPresence, EventDialog, EventMessageSummary, EventReg, EventRefer:
		return true
	default:
		return false
	}
}

// State is a subscription's lifecycle state.
type State string

const (
	StatePending    State = "Pending"
	StateActive     State = "Active"
	StateTerminated State = "Terminated"
)

// ErrUnsupportedEvent is returned for a SUBSCRIBE whose Event header
// names a package outside the supported set.
const ErrUnsupportedEvent errs.Error = "unsupported event package"

// Subscription is a single SUBSCRIBE/NOTIFY relationship, scoped to one
// dialog.
type Subscription struct {
	mu sync.Mutex

	dialogID      dialog.ID
	eventPackage  EventPackage
	subscriberAOR string
	targetAOR     string
	expiresAt     time.Time
	state         State
}

// New constructs a Pending subscription. ttl is the granted Expires
// duration.
func New(id dialog.ID, pkg EventPackage, subscriberAOR, targetAOR string, ttl time.Duration) (*Subscription, error) {
	if !Supported(string(pkg)) {
		return nil, ErrUnsupportedEvent
	}
	return &Subscription{
		dialogID:      id,
		eventPackage:  pkg,
		subscriberAOR: subscriberAOR,
		targetAOR:     targetAOR,
		expiresAt:     time.Now().Add(ttl),
		state:         StatePending,
	}, nil
}

// DialogID returns the subscription's matching key.
func (s *Subscription) DialogID() dialog.ID { return s.dialogID }

// EventPackage returns the subscribed event package.
func (s *Subscription) EventPackage() EventPackage { return s.eventPackage }

// SubscriberAOR returns the watcher's address-of-record.
func (s *Subscription) SubscriberAOR() string { return s.subscriberAOR }

// TargetAOR returns the watched resource's address-of-record.
func (s *Subscription) TargetAOR() string { return s.targetAOR }

// State returns the subscription's current lifecycle state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Activate transitions Pending -> Active, fired when a NOTIFY carrying
// Subscription-State: active is received, and when a REFER is accepted
// (its implicit subscription is active at once).
func (s *Subscription) Activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StatePending {
		s.state = StateActive
	}
}

// Terminate ends the subscription, idempotently.
func (s *Subscription) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateTerminated
}

// Expired reports whether the subscription's Expires has elapsed as of
// now.
func (s *Subscription) Expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.After(s.expiresAt)
}

// Refresh extends the subscription's expiry, per a re-SUBSCRIBE with a
// nonzero Expires. Expires: 0 ends the subscription instead, per
// spec.md 4.5; callers should call Terminate for that case rather than
// Refresh with a zero ttl.
func (s *Subscription) Refresh(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresAt = time.Now().Add(ttl)
}

// ExpiresAt returns the subscription's current expiry time.
func (s *Subscription) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}
