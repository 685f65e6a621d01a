package sources

import (
	"context"
	"testing"
)

const sampleTimepadPage = `{
  "total": 1,
  "values": [
    {
      "id": 998,
      "name": "lecture on city history",
      "description_short": "",
      "description_html": "<p>Two hours of <b>local</b> history.</p>",
      "starts_at": "2026-06-02T19:00:00+0300",
      "ends_at": "2026-06-02T21:00:00+0300",
      "url": "https://example.com/event/998",
      "poster_image": {"default_url": "https://img.example.com/998.jpg"},
      "location": {"city": "spb", "address": "Nevsky 20"},
      "registration_data": {"price_min": 350},
      "categories": [{"name": "Lectures"}]
    }
  ]
}`

func TestTimepadAdapterFetchBuildsItems(t *testing.T) {
	client := &fakeHTTPClient{body: sampleTimepadPage}
	adapter := NewTimepadAdapter(client)

	items, err := adapter.Fetch(context.Background(), Source{
		ID:        "timepad-spb",
		Name:      "Ticketing API",
		Type:      TypeTimepad,
		SourceURL: "https://example.com/v1/events",
		City:      "spb",
		Config: map[string]any{
			ConfigAccessTokenKey: "tok-123",
			"organization_ids":   "42",
		},
	})
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}

	if got := client.gotHeaders["Authorization"]; got != "Bearer tok-123" {
		t.Errorf("expected bearer auth header, got %q", got)
	}
	if client.gotQuery["organization_ids"] != "42" {
		t.Errorf("expected organization filter, got %q", client.gotQuery["organization_ids"])
	}

	item := items[0]
	if item.SourceID != "998" {
		t.Errorf("expected source id 998, got %s", item.SourceID)
	}
	if got := item.ExtraString("description"); got != "Two hours of local history." {
		t.Errorf("expected stripped html description, got %q", got)
	}
	if got := item.ExtraString("time_text"); got != "02.06 19:00-21:00" {
		t.Errorf("unexpected schedule text %q", got)
	}
	if got := item.ExtraString("date_start"); got != "2026-06-02T16:00:00Z" {
		t.Errorf("unexpected date_start %q", got)
	}
	if got := item.ExtraString("location"); got != "Nevsky 20, spb" {
		t.Errorf("unexpected location %q", got)
	}
	if cost, ok := item.Extra["cost"].(int); !ok || cost != 350 {
		t.Errorf("expected cost 350, got %v", item.Extra["cost"])
	}
}

func TestTimepadAdapterRejectsWrongType(t *testing.T) {
	adapter := NewTimepadAdapter(&fakeHTTPClient{})
	_, err := adapter.Fetch(context.Background(), Source{
		ID:        "kg",
		Type:      TypeKudaGo,
		SourceURL: "https://example.com",
	})
	if err == nil {
		t.Fatal("expected error for mismatched source type")
	}
}

func TestParseTimepadTime(t *testing.T) {
	if _, ok := parseTimepadTime("2026-06-02T19:00:00+0300"); !ok {
		t.Error("expected compact offset layout to parse")
	}
	if _, ok := parseTimepadTime("2026-06-02T19:00:00+03:00"); !ok {
		t.Error("expected RFC3339 layout to parse")
	}
	if _, ok := parseTimepadTime("yesterday"); ok {
		t.Error("expected malformed time to fail")
	}
}

func TestStripTags(t *testing.T) {
	got := stripTags("<p>Hello <br/>  <b>world</b></p>")
	if got != "Hello world" {
		t.Errorf("stripTags produced %q", got)
	}
}
