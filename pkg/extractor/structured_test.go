package extractor

import (
	"context"
	"testing"
	"time"

	"github.com/afisha-hq/afisha-ingest/internal/domain"
)

func TestStructuredExtractorMapsFields(t *testing.T) {
	item := domain.RawItem{
		SourceID: "12345",
		Source:   domain.SourceKudaGo,
		City:     "spb",
		Extra: map[string]any{
			"name":        "Jazz Concert",
			"description": "An evening of live jazz.",
			"location":    "Blue Note Club, Main St 1",
			"cost":        500,
			"time_text":   "02.06 19:00-21:00",
			"tags":        []string{"concert", "jazz"},
			"date_start":  "2026-06-02T16:00:00Z",
			"date_end":    "2026-06-02T18:00:00Z",
			"site_url":    "https://example.com/events/12345",
		},
	}

	drafts, err := NewStructuredExtractor().Extract(context.Background(), item)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("expected 1 draft, got %d", len(drafts))
	}

	d := drafts[0]
	if d.Name != "Jazz Concert" {
		t.Errorf("unexpected name %q", d.Name)
	}
	if d.Cost != 500 {
		t.Errorf("unexpected cost %d", d.Cost)
	}
	if len(d.Tags) != 2 {
		t.Errorf("expected 2 tags, got %v", d.Tags)
	}
	if d.DateStart == nil || !d.DateStart.Equal(time.Date(2026, 6, 2, 16, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected date_start %v", d.DateStart)
	}
	if d.DateEnd == nil {
		t.Error("expected date_end to be set")
	}
	if got := d.FirstLink("https://"); got != "https://example.com/events/12345" {
		t.Errorf("unexpected contact link %q", got)
	}
}

func TestStructuredExtractorRequiresName(t *testing.T) {
	item := domain.RawItem{
		SourceID: "1",
		Source:   domain.SourceTimepad,
		Extra:    map[string]any{"description": "no name here"},
	}
	if _, err := NewStructuredExtractor().Extract(context.Background(), item); err == nil {
		t.Fatal("expected error for nameless item")
	}
}

func TestStructuredExtractorToleratesLooseTypes(t *testing.T) {
	item := domain.RawItem{
		SourceID: "2",
		Source:   domain.SourceKudaGo,
		Extra: map[string]any{
			"name": "Exhibit",
			"cost": float64(300),
			"tags": []any{"art", "", 7},
		},
	}
	drafts, err := NewStructuredExtractor().Extract(context.Background(), item)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if drafts[0].Cost != 300 {
		t.Errorf("expected float cost coerced to 300, got %d", drafts[0].Cost)
	}
	if len(drafts[0].Tags) != 1 || drafts[0].Tags[0] != "art" {
		t.Errorf("expected non-string tags dropped, got %v", drafts[0].Tags)
	}
	if drafts[0].DateStart != nil {
		t.Error("expected nil date_start when absent")
	}
}
