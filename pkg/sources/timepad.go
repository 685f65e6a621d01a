package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/afisha-hq/afisha-ingest/internal/domain"
	"github.com/afisha-hq/afisha-ingest/internal/schedule"
)

const (
	timepadDefaultLimit    = 100
	timepadDefaultMaxPages = 3
)

// timepadTimeLayout matches the ticketing API timestamps ("+0300" offsets
// without a colon).
const timepadTimeLayout = "2006-01-02T15:04:05-0700"

// TimepadAdapter pulls upcoming events from a Timepad-style ticketing API.
// Listings here are flat (one start, one optional end), so schedule text is a
// single one-off line.
type TimepadAdapter struct {
	client HTTPClient
	synth  *schedule.Synthesizer
	now    func() time.Time
}

func NewTimepadAdapter(client HTTPClient) *TimepadAdapter {
	if client == nil {
		client = DefaultHTTPClient()
	}
	return &TimepadAdapter{
		client: client,
		synth:  schedule.NewSynthesizer(nil),
		now:    time.Now,
	}
}

func (a *TimepadAdapter) Type() string {
	return TypeTimepad
}

type timepadPage struct {
	Total  int            `json:"total"`
	Values []timepadEvent `json:"values"`
}

type timepadEvent struct {
	ID               int    `json:"id"`
	Name             string `json:"name"`
	DescriptionShort string `json:"description_short"`
	DescriptionHTML  string `json:"description_html"`
	StartsAt         string `json:"starts_at"`
	EndsAt           string `json:"ends_at"`
	URL              string `json:"url"`
	PosterImage      struct {
		DefaultURL string `json:"default_url"`
	} `json:"poster_image"`
	Location struct {
		City    string `json:"city"`
		Address string `json:"address"`
	} `json:"location"`
	RegistrationData struct {
		PriceMin int `json:"price_min"`
	} `json:"registration_data"`
	Categories []struct {
		Name string `json:"name"`
	} `json:"categories"`
}

func (a *TimepadAdapter) Fetch(ctx context.Context, cfg Source) ([]domain.RawItem, error) {
	if !strings.EqualFold(cfg.Type, TypeTimepad) {
		return nil, fmt.Errorf("timepad adapter received incompatible source type %q", cfg.Type)
	}
	if strings.TrimSpace(cfg.SourceURL) == "" {
		return nil, fmt.Errorf("source %q source_url is empty", cfg.ID)
	}

	headers := Headers(cfg)
	if token := ConfigString(cfg, ConfigAccessTokenKey, ""); token != "" {
		headers["Authorization"] = "Bearer " + token
	}

	limit := ConfigInt(cfg, "limit", timepadDefaultLimit)
	maxPages := ConfigInt(cfg, "max_pages", timepadDefaultMaxPages)
	collectedAt := a.now().UTC()

	query := map[string]string{
		"limit":               strconv.Itoa(limit),
		"sort":                "+starts_at",
		"starts_at_min":       a.now().Format(timepadTimeLayout),
		"moderation_statuses": "featured,shown",
	}
	if orgs := ConfigString(cfg, "organization_ids", ""); orgs != "" {
		query["organization_ids"] = orgs
	}
	if cities := ConfigString(cfg, "cities", cfg.City); cities != "" {
		query["cities"] = cities
	}

	var events []timepadEvent
	for page := 0; page < maxPages; page++ {
		if page > 0 {
			if err := sleepWithContext(ctx, cfg.RequestDelay()); err != nil {
				return nil, err
			}
		}

		query["skip"] = strconv.Itoa(page * limit)
		resp, err := a.client.GetWithQuery(ctx, cfg.SourceURL, query, headers)
		if err != nil {
			return nil, fmt.Errorf("fetch %s page %d: %w", cfg.ID, page, err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("fetch %s page %d: status %d: %s",
				cfg.ID, page, resp.StatusCode(), responseSnippet(resp.Body()))
		}

		var parsed timepadPage
		if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
			return nil, fmt.Errorf("decode %s page %d: %w", cfg.ID, page, err)
		}
		events = append(events, parsed.Values...)
		if len(parsed.Values) < limit {
			break
		}
	}

	items := make([]domain.RawItem, 0, len(events))
	for _, ev := range events {
		item, ok := a.buildItem(ctx, cfg, ev, collectedAt)
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

func (a *TimepadAdapter) buildItem(ctx context.Context, cfg Source, ev timepadEvent, collectedAt time.Time) (domain.RawItem, bool) {
	if ev.ID == 0 || strings.TrimSpace(ev.Name) == "" {
		return domain.RawItem{}, false
	}

	start, startOK := parseTimepadTime(ev.StartsAt)
	end, endOK := parseTimepadTime(ev.EndsAt)

	description := strings.TrimSpace(ev.DescriptionShort)
	if description == "" {
		description = stripTags(ev.DescriptionHTML)
	}

	extra := map[string]any{
		"name":        capitalizeFirst(strings.TrimSpace(ev.Name)),
		"description": description,
		"location":    timepadLocation(ev),
		"cost":        ev.RegistrationData.PriceMin,
		"time_text":   a.synth.Synthesize(ctx, timepadOccurrence(start, startOK, end, endOK)),
		"site_url":    strings.TrimSpace(ev.URL),
	}
	if startOK {
		extra["date_start"] = start.UTC().Format(time.RFC3339)
	}
	if endOK {
		extra["date_end"] = end.UTC().Format(time.RFC3339)
	}
	if tags := timepadTags(ev); len(tags) > 0 {
		extra["tags"] = tags
	}
	if u := strings.TrimSpace(ev.PosterImage.DefaultURL); u != "" {
		extra["image_url"] = u
	}

	return domain.RawItem{
		SourceID:    strconv.Itoa(ev.ID),
		Source:      domain.SourceTimepad,
		Channel:     cfg.ID,
		Text:        description,
		CollectedAt: collectedAt,
		City:        cfg.City,
		Extra:       extra,
	}, true
}

func timepadOccurrence(start time.Time, startOK bool, end time.Time, endOK bool) []schedule.Occurrence {
	if !startOK {
		return nil
	}
	occ := schedule.Occurrence{
		StartDate: start.Format("2006-01-02"),
		StartTime: start.Format("15:04"),
	}
	if endOK {
		occ.EndDate = end.Format("2006-01-02")
		occ.EndTime = end.Format("15:04")
	}
	return []schedule.Occurrence{occ}
}

func parseTimepadTime(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{timepadTimeLayout, time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func timepadLocation(ev timepadEvent) string {
	parts := make([]string, 0, 2)
	if v := strings.TrimSpace(ev.Location.Address); v != "" {
		parts = append(parts, v)
	}
	if v := strings.TrimSpace(ev.Location.City); v != "" && !strings.Contains(strings.ToLower(strings.Join(parts, " ")), strings.ToLower(v)) {
		parts = append(parts, v)
	}
	return strings.Join(parts, ", ")
}

func timepadTags(ev timepadEvent) []string {
	tags := make([]string, 0, len(ev.Categories))
	for _, c := range ev.Categories {
		if v := strings.TrimSpace(c.Name); v != "" {
			tags = append(tags, strings.ToLower(v))
		}
	}
	return tags
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// stripTags flattens simple markup into plain text. Good enough for the short
// descriptions this feed carries.
func stripTags(html string) string {
	text := tagPattern.ReplaceAllString(html, " ")
	return strings.Join(strings.Fields(text), " ")
}
