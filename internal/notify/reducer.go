// Package notify turns inbound business events into the viewer's notification list.
package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/farmpulse/storepulse/internal/domain"
)

// DefaultCapacity is the number of records kept before the oldest are evicted.
const DefaultCapacity = 50

// Scope decides whether a viewer may see an event.
type Scope interface {
	Accepts(viewer domain.Identity, ev domain.BusinessEvent) bool
}

// ScopeFunc adapts a function to Scope.
type ScopeFunc func(viewer domain.Identity, ev domain.BusinessEvent) bool

// Accepts calls f.
func (f ScopeFunc) Accepts(viewer domain.Identity, ev domain.BusinessEvent) bool {
	return f(viewer, ev)
}

// BranchScope is the built-in visibility rule. Addressed events go to their
// recipient only; owners see everything else and every other role sees its
// own branch.
type BranchScope struct{}

// Accepts implements Scope.
func (BranchScope) Accepts(viewer domain.Identity, ev domain.BusinessEvent) bool {
	if ev.RecipientID != "" {
		return ev.RecipientID == viewer.UserID
	}
	if !viewer.Role.Scoped() {
		return true
	}
	return viewer.BranchID != 0 && ev.BranchID == viewer.BranchID
}

// Reduce returns the list that results from ingesting ev. current is never
// modified. A rejected event returns current unchanged.
func Reduce(current []domain.NotificationRecord, ev domain.BusinessEvent, viewer domain.Identity, scope Scope, capacity int) []domain.NotificationRecord {
	if scope == nil {
		scope = BranchScope{}
	}
	if !scope.Accepts(viewer, ev) {
		return current
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	n := len(current) + 1
	if n > capacity {
		n = capacity
	}
	next := make([]domain.NotificationRecord, 0, n)
	next = append(next, recordFor(ev))
	next = append(next, current[:n-1]...)
	return next
}

// MarkAllRead returns a copy of current with every record read.
func MarkAllRead(current []domain.NotificationRecord) []domain.NotificationRecord {
	next := make([]domain.NotificationRecord, len(current))
	for i, r := range current {
		r.Read = true
		next[i] = r
	}
	return next
}

// Clear returns the empty list.
func Clear([]domain.NotificationRecord) []domain.NotificationRecord {
	return []domain.NotificationRecord{}
}

// Unread counts records not yet read.
func Unread(records []domain.NotificationRecord) int {
	n := 0
	for _, r := range records {
		if !r.Read {
			n++
		}
	}
	return n
}

func recordFor(ev domain.BusinessEvent) domain.NotificationRecord {
	created := ev.OccurredAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	kind := ev.Kind
	if kind == "" {
		kind = domain.NotificationKindInfo
	}
	return domain.NotificationRecord{
		ID:        uuid.New().String(),
		Kind:      kind,
		Title:     ev.Title,
		Message:   ev.Message,
		CreatedAt: created,
	}
}
