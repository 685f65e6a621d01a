package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/afisha-hq/afisha-ingest/internal/domain"
	"github.com/afisha-hq/afisha-ingest/internal/schedule"
)

const (
	kudagoDefaultPageSize = 100
	kudagoDefaultMaxPages = 5

	// Promotions masquerade as events in the feed; they carry this category.
	kudagoPromoCategory = "stock"
)

var kudagoEventFields = strings.Join([]string{
	"id", "title", "description", "price", "tags", "categories",
	"site_url", "place", "dates", "images",
}, ",")

// KudaGoAdapter pulls structured event listings from a KudaGo-style events
// API. The adapter renders the schedule text itself, so downstream extraction
// sees a ready time_text field.
type KudaGoAdapter struct {
	client HTTPClient
	synth  *schedule.Synthesizer
	now    func() time.Time
}

// NewKudaGoAdapter builds the adapter with its own per-fetch venue lookup.
func NewKudaGoAdapter(client HTTPClient) *KudaGoAdapter {
	if client == nil {
		client = DefaultHTTPClient()
	}
	return &KudaGoAdapter{
		client: client,
		now:    time.Now,
	}
}

// WithSynthesizer overrides the schedule synthesizer (used by tests to pin
// venue lookups). Returns the adapter for chaining.
func (a *KudaGoAdapter) WithSynthesizer(s *schedule.Synthesizer) *KudaGoAdapter {
	a.synth = s
	return a
}

func (a *KudaGoAdapter) Type() string {
	return TypeKudaGo
}

type kudaGoPage struct {
	Next    string        `json:"next"`
	Results []kudaGoEvent `json:"results"`
}

type kudaGoEvent struct {
	ID          int           `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Price       string        `json:"price"`
	Tags        []string      `json:"tags"`
	Categories  []string      `json:"categories"`
	SiteURL     string        `json:"site_url"`
	Place       *kudaGoPlace  `json:"place"`
	Dates       []kudaGoDate  `json:"dates"`
	Images      []kudaGoImage `json:"images"`
}

type kudaGoPlace struct {
	ID      int    `json:"id"`
	Title   string `json:"title"`
	Address string `json:"address"`
}

type kudaGoDate struct {
	Start            int64            `json:"start"`
	End              int64            `json:"end"`
	StartDate        string           `json:"start_date"`
	EndDate          string           `json:"end_date"`
	StartTime        string           `json:"start_time"`
	EndTime          string           `json:"end_time"`
	IsEndless        bool             `json:"is_endless"`
	UsePlaceSchedule bool             `json:"use_place_schedule"`
	Schedules        []kudaGoSchedule `json:"schedules"`
}

type kudaGoSchedule struct {
	DaysOfWeek []int  `json:"days_of_week"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
}

type kudaGoImage struct {
	Image string `json:"image"`
}

func (a *KudaGoAdapter) Fetch(ctx context.Context, cfg Source) ([]domain.RawItem, error) {
	if !strings.EqualFold(cfg.Type, TypeKudaGo) {
		return nil, fmt.Errorf("kudago adapter received incompatible source type %q", cfg.Type)
	}
	if strings.TrimSpace(cfg.SourceURL) == "" {
		return nil, fmt.Errorf("source %q source_url is empty", cfg.ID)
	}

	headers := Headers(cfg)

	synth := a.synth
	if synth == nil {
		synth = schedule.NewSynthesizer(&kudaGoVenueLookup{
			client:    a.client,
			sourceURL: cfg.SourceURL,
			headers:   headers,
		})
	}

	query := map[string]string{
		"page_size":    strconv.Itoa(ConfigInt(cfg, "page_size", kudagoDefaultPageSize)),
		"fields":       kudagoEventFields,
		"expand":       "place,dates,images",
		"text_format":  "text",
		"actual_since": strconv.FormatInt(a.now().Unix(), 10),
	}
	if loc := ConfigString(cfg, "location", ""); loc != "" {
		query["location"] = loc
	}

	maxPages := ConfigInt(cfg, "max_pages", kudagoDefaultMaxPages)
	collectedAt := a.now().UTC()

	var events []kudaGoEvent
	for page := 1; page <= maxPages; page++ {
		if page > 1 {
			if err := sleepWithContext(ctx, cfg.RequestDelay()); err != nil {
				return nil, err
			}
		}

		query["page"] = strconv.Itoa(page)
		resp, err := a.client.GetWithQuery(ctx, cfg.SourceURL, query, headers)
		if err != nil {
			return nil, fmt.Errorf("fetch %s page %d: %w", cfg.ID, page, err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("fetch %s page %d: status %d: %s",
				cfg.ID, page, resp.StatusCode(), responseSnippet(resp.Body()))
		}

		var parsed kudaGoPage
		if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
			return nil, fmt.Errorf("decode %s page %d: %w", cfg.ID, page, err)
		}
		events = append(events, parsed.Results...)
		if parsed.Next == "" || len(parsed.Results) == 0 {
			break
		}
	}

	items := make([]domain.RawItem, 0, len(events))
	for _, ev := range events {
		item, ok := a.buildItem(ctx, synth, cfg, ev, collectedAt)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("source %q returned no usable events", cfg.ID)
	}
	return items, nil
}

func (a *KudaGoAdapter) buildItem(ctx context.Context, synth *schedule.Synthesizer, cfg Source, ev kudaGoEvent, collectedAt time.Time) (domain.RawItem, bool) {
	if ev.ID == 0 {
		return domain.RawItem{}, false
	}
	for _, cat := range ev.Categories {
		if strings.EqualFold(strings.TrimSpace(cat), kudagoPromoCategory) {
			return domain.RawItem{}, false
		}
	}

	name := capitalizeFirst(strings.TrimSpace(ev.Title))
	description := strings.TrimSpace(ev.Description)

	extra := map[string]any{
		"name":        name,
		"description": description,
		"location":    kudaGoLocation(ev.Place),
		"cost":        lowestAdvertisedPrice(ev.Price),
		"time_text":   synth.Synthesize(ctx, kudaGoOccurrences(ev)),
		"site_url":    strings.TrimSpace(ev.SiteURL),
	}
	if len(ev.Tags) > 0 {
		extra["tags"] = ev.Tags
	}
	if start, end := kudaGoDateRange(ev.Dates); start != "" {
		extra["date_start"] = start
		if end != "" {
			extra["date_end"] = end
		}
	}
	if len(ev.Images) > 0 {
		if u := strings.TrimSpace(ev.Images[0].Image); u != "" {
			extra["image_url"] = u
		}
	}

	return domain.RawItem{
		SourceID:    strconv.Itoa(ev.ID),
		Source:      domain.SourceKudaGo,
		Channel:     cfg.ID,
		Text:        description,
		CollectedAt: collectedAt,
		City:        cfg.City,
		Extra:       extra,
	}, true
}

// kudaGoOccurrences maps the feed date entries onto synthesizer occurrences.
func kudaGoOccurrences(ev kudaGoEvent) []schedule.Occurrence {
	venueID := 0
	if ev.Place != nil {
		venueID = ev.Place.ID
	}

	occs := make([]schedule.Occurrence, 0, len(ev.Dates))
	for _, d := range ev.Dates {
		occ := schedule.Occurrence{
			StartDate:        strings.TrimSpace(d.StartDate),
			EndDate:          strings.TrimSpace(d.EndDate),
			StartTime:        strings.TrimSpace(d.StartTime),
			EndTime:          strings.TrimSpace(d.EndTime),
			UseVenueSchedule: d.UsePlaceSchedule,
			VenueID:          venueID,
			Endless:          d.IsEndless,
		}
		for _, s := range d.Schedules {
			occ.Blocks = append(occ.Blocks, schedule.Block{
				Days:      s.DaysOfWeek,
				StartTime: strings.TrimSpace(s.StartTime),
				EndTime:   strings.TrimSpace(s.EndTime),
			})
		}
		occs = append(occs, occ)
	}
	return occs
}

// kudaGoDateRange picks the last (most recent) date entry and renders its
// bounds as RFC3339. Zero unix stamps fall back to the bare date fields.
func kudaGoDateRange(dates []kudaGoDate) (string, string) {
	if len(dates) == 0 {
		return "", ""
	}
	last := dates[len(dates)-1]

	start := stampOrDate(last.Start, last.StartDate, last.StartTime)
	end := stampOrDate(last.End, last.EndDate, last.EndTime)
	return start, end
}

func stampOrDate(unix int64, date, clock string) string {
	if unix > 0 {
		return time.Unix(unix, 0).UTC().Format(time.RFC3339)
	}
	date = strings.TrimSpace(date)
	if date == "" {
		return ""
	}
	if clock = strings.TrimSpace(clock); clock != "" {
		if t, err := time.Parse("2006-01-02 15:04:05", date+" "+clock); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	if t, err := time.Parse("2006-01-02", date); err == nil {
		return t.UTC().Format(time.RFC3339)
	}
	return ""
}

func kudaGoLocation(place *kudaGoPlace) string {
	if place == nil {
		return ""
	}
	parts := make([]string, 0, 2)
	if v := strings.TrimSpace(place.Title); v != "" {
		parts = append(parts, capitalizeFirst(v))
	}
	if v := strings.TrimSpace(place.Address); v != "" {
		parts = append(parts, v)
	}
	return strings.Join(parts, ", ")
}

var priceAmountPattern = regexp.MustCompile(`\d+`)

// lowestAdvertisedPrice extracts the smallest amount from a free-form price
// string ("от 500 до 1500 руб."). Zero when no amount is present, which also
// covers free admission.
func lowestAdvertisedPrice(price string) int {
	matches := priceAmountPattern.FindAllString(price, -1)
	lowest := 0
	for _, m := range matches {
		n, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		if lowest == 0 || n < lowest {
			lowest = n
		}
	}
	return lowest
}

func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// kudaGoVenueLookup resolves venue timetables through the places endpoint of
// the same API the events came from.
type kudaGoVenueLookup struct {
	client    HTTPClient
	sourceURL string
	headers   map[string]string
}

func (l *kudaGoVenueLookup) Timetable(ctx context.Context, venueID int) (string, error) {
	if l == nil || l.client == nil || venueID == 0 {
		return "", fmt.Errorf("venue lookup not configured")
	}

	base := strings.Replace(strings.TrimRight(l.sourceURL, "/"), "/events", "/places", 1)
	url := fmt.Sprintf("%s/%d/", base, venueID)

	resp, err := l.client.GetWithQuery(ctx, url, map[string]string{"fields": "timetable"}, l.headers)
	if err != nil {
		return "", fmt.Errorf("fetch venue %d: %w", venueID, err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("fetch venue %d: status %d", venueID, resp.StatusCode())
	}

	var parsed struct {
		Timetable string `json:"timetable"`
	}
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return "", fmt.Errorf("decode venue %d: %w", venueID, err)
	}
	return strings.TrimSpace(parsed.Timetable), nil
}

// sleepWithContext waits for the throttle delay, honouring cancellation.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
