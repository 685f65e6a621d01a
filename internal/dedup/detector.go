package dedup

import (
	"regexp"
	"strings"
	"sync"
	"time"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"github.com/afisha-hq/afisha-ingest/internal/domain"
)

// Default fuzzy thresholds on the 0-100 token-set ratio scale.
const (
	DefaultNameThreshold     = 80
	DefaultLocationThreshold = 85
)

// Detector decides which candidate events are net-new. Layer A is exact key
// containment against the known-id set; Layer B is fuzzy cross-field matching
// against a rolling log of previously accepted events. Both structures are
// append-only during a run and safe for concurrent sources.
type Detector struct {
	mu                sync.Mutex
	known             map[string]struct{}
	log               []domain.DedupLogEntry
	nameThreshold     int
	locationThreshold int
	now               func() time.Time
}

// Option tweaks detector construction.
type Option func(*Detector)

// WithThresholds overrides the fuzzy similarity thresholds.
func WithThresholds(name, location int) Option {
	return func(d *Detector) {
		d.nameThreshold = name
		d.locationThreshold = location
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// NewDetector seeds a detector with the known-id snapshot and the recent
// dedup log entries for this run.
func NewDetector(knownIDs []string, log []domain.DedupLogEntry, opts ...Option) *Detector {
	d := &Detector{
		known:             make(map[string]struct{}, len(knownIDs)),
		log:               append([]domain.DedupLogEntry(nil), log...),
		nameThreshold:     DefaultNameThreshold,
		locationThreshold: DefaultLocationThreshold,
		now:               time.Now,
	}
	for _, id := range knownIDs {
		d.known[id] = struct{}{}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Seen reports whether the key is already contained in the known-id set
// (Layer A).
func (d *Detector) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.known[key]
	return ok
}

// Remember adds an accepted key to the in-run known-id set so near-duplicate
// items inside the same batch cannot both be accepted.
func (d *Detector) Remember(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.known[key] = struct{}{}
}

// IsFuzzyDuplicate runs Layer B: the draft is compared against every rolling
// log entry; the first match rejects it. Non-duplicates are appended to the
// log and accepted. The returned entry is non-nil for accepted drafts so the
// caller can persist it.
func (d *Detector) IsFuzzyDuplicate(draft domain.EventDraft) (bool, *domain.DedupLogEntry) {
	candidate := d.normalize(draft)

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, existing := range d.log {
		if d.matches(candidate, existing) {
			return true, nil
		}
	}
	d.log = append(d.log, candidate)
	return false, &candidate
}

// Record appends the draft's projection to the rolling log without matching
// against it. Used for feeds trusted to be internally duplicate-free, whose
// accepted events must still be visible to fuzzy checks from other sources.
func (d *Detector) Record(draft domain.EventDraft) *domain.DedupLogEntry {
	candidate := d.normalize(draft)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.log = append(d.log, candidate)
	return &candidate
}

// Withdraw removes one previously appended entry. Called when the acceptance
// the entry backed failed to persist, so the event can be retried later.
func (d *Detector) Withdraw(entry domain.DedupLogEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.log) - 1; i >= 0; i-- {
		if d.log[i] == entry {
			d.log = append(d.log[:i], d.log[i+1:]...)
			return
		}
	}
}

// matches implements the two acceptance clauses: exact date plus exact
// non-empty time plus similar location, or exact date plus a missing time on
// either side plus similar location and similar name.
func (d *Detector) matches(a, b domain.DedupLogEntry) bool {
	if a.DateNorm != b.DateNorm {
		return false
	}

	locSim := similarity(a.LocationNorm, b.LocationNorm)
	if locSim < d.locationThreshold {
		return false
	}

	if a.TimeNorm != "" && b.TimeNorm != "" {
		return a.TimeNorm == b.TimeNorm
	}

	return similarity(a.NameNorm, b.NameNorm) >= d.nameThreshold
}

// normalize projects a draft onto the comparison fields.
func (d *Detector) normalize(draft domain.EventDraft) domain.DedupLogEntry {
	return domain.DedupLogEntry{
		NameNorm:     normalizeFuzzy(draft.Name),
		DateNorm:     normalizeDate(draft.DateStart),
		TimeNorm:     strings.ToLower(strings.TrimSpace(draft.TimeText)),
		LocationNorm: normalizeFuzzy(draft.Location),
		SeenAt:       d.now().UTC(),
	}
}

var (
	punctRe = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// normalizeFuzzy lowercases, strips punctuation and collapses whitespace.
func normalizeFuzzy(s string) string {
	s = punctRe.ReplaceAllString(strings.ToLower(s), "")
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// normalizeDate keeps only the ISO date, dropping time-of-day.
func normalizeDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// similarity is the token-set ratio with the rule that an empty string on
// either side never matches. Two events that both lack a location must not
// mass-collide.
func similarity(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	return fuzzy.TokenSetRatio(a, b)
}
