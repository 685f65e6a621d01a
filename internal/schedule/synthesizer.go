package schedule

// Package schedule turns irregular per-source recurrence data into a single
// human-readable schedule string.

import (
	"context"
	"sort"
	"strings"
	"time"
)

const (
	// FallbackUnspecified is returned when nothing usable exists at all.
	FallbackUnspecified = "details unspecified"
	// FallbackDescription is returned when a date exists but no usable clock time.
	FallbackDescription = "details in description"
)

// Block is one weekly recurring slot: a set of days with clock times.
// Days follow the source convention 0=Monday .. 6=Sunday.
type Block struct {
	Days      []int
	StartTime string
	EndTime   string
}

// Occurrence is one date entry of an event: either a single explicit range,
// a set of weekly blocks, or a flag deferring to the venue timetable.
type Occurrence struct {
	StartDate        string // ISO date (2006-01-02), empty when unknown
	EndDate          string
	StartTime        string // clock time (15:04 or 15:04:05), empty when unknown
	EndTime          string
	Blocks           []Block
	UseVenueSchedule bool
	VenueID          int
	Endless          bool
}

// VenueTimetableLookup resolves the timetable string of a venue. Used only by
// the defer-to-venue rule.
type VenueTimetableLookup interface {
	Timetable(ctx context.Context, venueID int) (string, error)
}

// Synthesizer renders occurrence structures into one schedule string. The
// output is never empty: malformed sub-structures degrade to fallbacks per
// occurrence, never to an error.
type Synthesizer struct {
	venues VenueTimetableLookup
}

// NewSynthesizer builds a synthesizer; venues may be nil, in which case the
// defer-to-venue rule degrades to the remaining rules.
func NewSynthesizer(venues VenueTimetableLookup) *Synthesizer {
	return &Synthesizer{venues: venues}
}

var dayNames = [7]string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

// Synthesize renders the occurrences into a multi-line schedule string.
func (s *Synthesizer) Synthesize(ctx context.Context, occs []Occurrence) string {
	if len(occs) == 0 {
		return FallbackUnspecified
	}

	var lines []string
	// Time parts of recurring block lines, used to drop one-off lines the
	// blocks already cover.
	recurringTimes := make(map[string]bool)

	for _, occ := range occs {
		if occ.UseVenueSchedule {
			if tt := s.venueTimetable(ctx, occ.VenueID); tt != "" {
				return tt
			}
			continue
		}

		if len(occ.Blocks) > 0 {
			for _, block := range occ.Blocks {
				line, timePart := blockLine(block)
				if line == "" {
					continue
				}
				recurringTimes[timePart] = true
				lines = mergeBlockLine(lines, line)
			}
			continue
		}

		if line := oneOffLine(occ); line != "" {
			lines = appendOneOff(lines, line, recurringTimes)
		}
	}

	if len(lines) == 0 {
		return FallbackUnspecified
	}
	if len(lines) == 1 {
		return stripConnector(lines[0])
	}
	return strings.Join(lines, "\n")
}

func (s *Synthesizer) venueTimetable(ctx context.Context, venueID int) string {
	if s == nil || s.venues == nil || venueID == 0 {
		return ""
	}
	tt, err := s.venues.Timetable(ctx, venueID)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(tt)
}

// blockLine renders one weekly block as "mon–wed: 10:00-18:00" and returns
// the line plus its bare time part. Empty when the block is malformed.
func blockLine(block Block) (string, string) {
	days := collapseDays(block.Days)
	timePart := timeRange(block.StartTime, block.EndTime)
	if days == "" || timePart == "" {
		return "", ""
	}
	return days + ": " + timePart, timePart
}

// mergeBlockLine appends a recurring line, folding its time part into an
// existing line that covers the same day range.
func mergeBlockLine(lines []string, line string) []string {
	dayPart, timePart, ok := strings.Cut(line, ": ")
	if !ok {
		return append(lines, line)
	}
	for i, existing := range lines {
		if existing == line {
			return lines
		}
		if prefix, rest, found := strings.Cut(existing, ": "); found && prefix == dayPart {
			if !strings.Contains(rest, timePart) {
				lines[i] = existing + ", " + timePart
			}
			return lines
		}
	}
	return append(lines, line)
}

// appendOneOff appends a single-date line unless a recurring block already
// subsumes its time range.
func appendOneOff(lines []string, line string, recurringTimes map[string]bool) []string {
	for timePart := range recurringTimes {
		if strings.Contains(line, timePart) {
			return lines
		}
	}
	for _, existing := range lines {
		if existing == line {
			return lines
		}
	}
	return append(lines, line)
}

// oneOffLine renders a non-recurring occurrence as "02.06 19:00-21:00",
// "02.06 from 19:00", a bare time range, or a fallback.
func oneOffLine(occ Occurrence) string {
	datePart := dateDM(occ.StartDate)
	timePart := timeRange(normalizeOneOffStart(occ.StartTime), occ.EndTime)

	if occ.Endless {
		// Endless listings (permanent exhibitions and the like) repeat every
		// day; their start date is an opening date, not a schedule.
		if timePart != "" {
			return "daily " + timePart
		}
		return FallbackDescription
	}

	switch {
	case datePart != "" && timePart != "":
		return datePart + " " + timePart
	case datePart != "":
		// A date exists but no usable clock time; the real details usually
		// live in the event description.
		return FallbackDescription
	case timePart != "":
		return timePart
	default:
		return ""
	}
}

// normalizeOneOffStart treats midnight as an absent start time. Sources emit
// 00:00:00 when the entry form was left blank.
func normalizeOneOffStart(v string) string {
	c := clock(v)
	if c == "" || c == "00:00" {
		return ""
	}
	return c
}

// timeRange renders "10:00-18:00" or the open-ended "from 10:00" when the end
// is absent or midnight. Absence of an end deliberately reads as open-ended
// regardless of which connector the source meant.
func timeRange(start, end string) string {
	s := clock(start)
	if s == "" {
		return ""
	}
	e := clock(end)
	if e == "" || e == "00:00" {
		return "from " + s
	}
	return s + "-" + e
}

// clock normalizes "15:04:05" / "15:04" to "15:04". Empty on malformed input.
func clock(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	parts := strings.Split(v, ":")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return ""
	}
	pad := func(p string) string {
		if len(p) == 1 {
			return "0" + p
		}
		return p
	}
	return pad(parts[0]) + ":" + pad(parts[1])
}

// dateDM renders an ISO date as "02.01". Empty on malformed input.
func dateDM(iso string) string {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(iso))
	if err != nil {
		return ""
	}
	return t.Format("02.01")
}

// collapseDays renders a day-of-week set as compact ranges: consecutive days
// become "mon–fri", a singleton stays "mon", gaps join with ", ".
func collapseDays(days []int) string {
	seen := make(map[int]bool, len(days))
	valid := make([]int, 0, len(days))
	for _, d := range days {
		if d < 0 || d > 6 || seen[d] {
			continue
		}
		seen[d] = true
		valid = append(valid, d)
	}
	if len(valid) == 0 {
		return ""
	}
	sort.Ints(valid)

	var groups []string
	start := valid[0]
	prev := valid[0]
	flush := func(end int) {
		if start == end {
			groups = append(groups, dayNames[start])
		} else {
			groups = append(groups, dayNames[start]+"–"+dayNames[end])
		}
	}
	for _, d := range valid[1:] {
		if d == prev+1 {
			prev = d
			continue
		}
		flush(prev)
		start, prev = d, d
	}
	flush(prev)

	return strings.Join(groups, ", ")
}

// stripConnector drops the "from" connector when a single line remains, for
// readability ("02.06 from 19:00" reads better as "02.06 19:00").
func stripConnector(line string) string {
	if rest, ok := strings.CutPrefix(line, "from "); ok {
		return rest
	}
	return strings.Replace(line, " from ", " ", 1)
}
