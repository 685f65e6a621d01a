package extractor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/afisha-hq/afisha-ingest/internal/domain"
)

// StructuredExtractor builds a draft straight from the fields a structured
// adapter placed into the item's Extra bag.
type StructuredExtractor struct{}

func NewStructuredExtractor() *StructuredExtractor {
	return &StructuredExtractor{}
}

func (e *StructuredExtractor) Extract(_ context.Context, item domain.RawItem) ([]domain.EventDraft, error) {
	name := item.ExtraString("name")
	if name == "" {
		return nil, fmt.Errorf("item %s/%s carries no name", item.Source, item.SourceID)
	}

	draft := domain.EventDraft{
		Name:        name,
		Description: item.ExtraString("description"),
		Location:    item.ExtraString("location"),
		TimeText:    item.ExtraString("time_text"),
		Cost:        extraInt(item, "cost"),
		Tags:        extraStrings(item, "tags"),
		DateStart:   extraTime(item, "date_start"),
		DateEnd:     extraTime(item, "date_end"),
	}

	if u := item.ExtraString("site_url"); u != "" {
		draft.ContactLinks = append(draft.ContactLinks, domain.ContactLink{Label: "site", URL: u})
	}
	if u := item.ExtraString("post_url"); u != "" {
		draft.ContactLinks = append(draft.ContactLinks, domain.ContactLink{Label: "post", URL: u})
	}

	return []domain.EventDraft{draft}, nil
}

func extraInt(item domain.RawItem, key string) int {
	if item.Extra == nil {
		return 0
	}
	switch v := item.Extra[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func extraStrings(item domain.RawItem, key string) []string {
	if item.Extra == nil {
		return nil
	}
	switch v := item.Extra[key].(type) {
	case []string:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, raw := range v {
			if s, ok := raw.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
		return out
	}
	return nil
}

func extraTime(item domain.RawItem, key string) *time.Time {
	raw := item.ExtraString(key)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
