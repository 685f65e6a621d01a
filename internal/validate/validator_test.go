package validate

import (
	"testing"
	"time"

	"github.com/afisha-hq/afisha-ingest/internal/domain"
)

var frozenNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func newTestValidator() *Validator {
	return NewWithClock(24*time.Hour, func() time.Time { return frozenNow })
}

func ts(v time.Time) *time.Time { return &v }

func TestValidateRejectsMissingStart(t *testing.T) {
	v := newTestValidator()
	draft := domain.EventDraft{Name: "No dates"}
	if v.Validate(&draft) {
		t.Fatalf("draft without start date should be invalid")
	}
	if v.Validate(nil) {
		t.Fatalf("nil draft should be invalid")
	}
}

func TestValidateCutoffBoundary(t *testing.T) {
	v := newTestValidator()

	// Ended exactly one day before the cutoff: stale.
	stale := domain.EventDraft{
		DateStart: ts(frozenNow.Add(-72 * time.Hour)),
		DateEnd:   ts(frozenNow.Add(-48 * time.Hour)),
	}
	if v.Validate(&stale) {
		t.Fatalf("event ended a day before the cutoff should be invalid")
	}

	// Ends right now: still valid.
	current := domain.EventDraft{
		DateStart: ts(frozenNow.Add(-72 * time.Hour)),
		DateEnd:   ts(frozenNow),
	}
	if !v.Validate(&current) {
		t.Fatalf("event ending now should be valid")
	}

	// No end date: the start date is measured against the cutoff.
	startOnly := domain.EventDraft{DateStart: ts(frozenNow.Add(-36 * time.Hour))}
	if v.Validate(&startOnly) {
		t.Fatalf("start-only event older than the window should be invalid")
	}
	startOnly.DateStart = ts(frozenNow.Add(-12 * time.Hour))
	if !v.Validate(&startOnly) {
		t.Fatalf("start-only event inside the window should be valid")
	}
}

func TestValidateSelfHealsInvertedRange(t *testing.T) {
	v := newTestValidator()

	draft := domain.EventDraft{
		DateStart: ts(frozenNow.Add(2 * time.Hour)),
		DateEnd:   ts(frozenNow.Add(-30 * time.Hour)),
	}
	if !v.Validate(&draft) {
		t.Fatalf("inverted range should heal to a one-day event and validate")
	}
	if draft.DateEnd == nil || !draft.DateEnd.Equal(*draft.DateStart) {
		t.Fatalf("end date should be healed to the start date, got %v", draft.DateEnd)
	}
}

func TestErrorsDiagnostics(t *testing.T) {
	v := newTestValidator()

	if errs := v.Errors(domain.EventDraft{}); len(errs) != 1 {
		t.Fatalf("missing start should produce one error, got %v", errs)
	}

	stale := domain.EventDraft{
		DateStart: ts(frozenNow.Add(-100 * time.Hour)),
		DateEnd:   ts(frozenNow.Add(-200 * time.Hour)),
	}
	errs := v.Errors(stale)
	if len(errs) != 2 {
		t.Fatalf("inverted stale range should report the inversion and the staleness, got %v", errs)
	}

	ok := domain.EventDraft{DateStart: ts(frozenNow.Add(time.Hour))}
	if errs := v.Errors(ok); len(errs) != 0 {
		t.Fatalf("future event should have no errors, got %v", errs)
	}
}
