package validate

import (
	"fmt"
	"time"

	"github.com/afisha-hq/afisha-ingest/internal/domain"
)

// DefaultMaxPastWindow is how far in the past an event may have ended and
// still be worth ingesting.
const DefaultMaxPastWindow = 24 * time.Hour

// Validator decides whether a draft's temporal fields describe something that
// has not already concluded.
type Validator struct {
	maxPastWindow time.Duration
	now           func() time.Time
}

// New builds a validator; window <= 0 selects the default.
func New(window time.Duration) *Validator {
	if window <= 0 {
		window = DefaultMaxPastWindow
	}
	return &Validator{maxPastWindow: window, now: time.Now}
}

// NewWithClock is New with an explicit time source, for tests.
func NewWithClock(window time.Duration, now func() time.Time) *Validator {
	v := New(window)
	if now != nil {
		v.now = now
	}
	return v
}

// Validate reports whether the draft is still worth ingesting. An end date
// earlier than the start date is self-healed to the start date in place:
// sources frequently report one-day events with an earlier end due to
// timezone slicing.
func (v *Validator) Validate(draft *domain.EventDraft) bool {
	if draft == nil || draft.DateStart == nil {
		return false
	}

	if draft.DateEnd != nil && draft.DateEnd.Before(*draft.DateStart) {
		healed := *draft.DateStart
		draft.DateEnd = &healed
	}

	cutoff := v.now().Add(-v.maxPastWindow)
	if draft.DateEnd != nil {
		return !draft.DateEnd.Before(cutoff)
	}
	return !draft.DateStart.Before(cutoff)
}

// Errors returns human-readable validation diagnostics for dry-run tooling.
// It never mutates the draft.
func (v *Validator) Errors(draft domain.EventDraft) []string {
	var errs []string

	if draft.DateStart == nil {
		return append(errs, "event has no start date")
	}

	cutoff := v.now().Add(-v.maxPastWindow)

	end := draft.DateEnd
	if end != nil && end.Before(*draft.DateStart) {
		errs = append(errs, fmt.Sprintf("end date %s is earlier than start date %s (would be healed)",
			end.Format(time.RFC3339), draft.DateStart.Format(time.RFC3339)))
		end = draft.DateStart
	}

	if end != nil {
		if end.Before(cutoff) {
			errs = append(errs, fmt.Sprintf("event ended %s, before the cutoff %s",
				end.Format(time.RFC3339), cutoff.Format(time.RFC3339)))
		}
	} else if draft.DateStart.Before(cutoff) {
		errs = append(errs, fmt.Sprintf("event started %s, before the cutoff %s",
			draft.DateStart.Format(time.RFC3339), cutoff.Format(time.RFC3339)))
	}

	return errs
}
