// internal/lifecycle/lifecycle.go
package lifecycle

import (
	"github.com/samber/lo"

	"github.com/shiftwise/billing-backend/internal/apperr"
)

// Status is any string-backed status enumeration.
type Status interface {
	~string
}

// Table maps each status to the set of statuses it may transition to.
// A status with no entry (or an empty entry) is terminal. The same table
// drives billing cycles, adjustments and payment transactions so the guard
// logic exists in exactly one place.
type Table[S Status] map[S][]S

func (t Table[S]) Allowed(from, to S) bool {
	next, ok := t[from]
	if !ok {
		return false
	}
	return lo.Contains(next, to)
}

func (t Table[S]) Terminal(s S) bool {
	return len(t[s]) == 0
}

// Validate returns an illegal-transition error unless from → to is in the
// table. Transitions to the current status are rejected as well; callers
// that need idempotent writes should short-circuit before validating.
func (t Table[S]) Validate(from, to S) error {
	if !t.Allowed(from, to) {
		return apperr.IllegalTransition("cannot transition from %s to %s", string(from), string(to))
	}
	return nil
}

// NextStates returns a copy of the permitted successor statuses.
func (t Table[S]) NextStates(from S) []S {
	return append([]S(nil), t[from]...)
}
