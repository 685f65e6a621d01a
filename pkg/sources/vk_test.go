package sources

import (
	"context"
	"strings"
	"testing"
)

const sampleVKWall = `{
  "response": {
    "items": [
      {
        "id": 555,
        "owner_id": -123,
        "text": "Jazz concert at the Blue Note club. June 2, doors at 19:00.",
        "attachments": [
          {
            "type": "photo",
            "photo": {
              "sizes": [
                {"url": "https://cdn.example.com/small.jpg", "width": 100, "height": 100},
                {"url": "https://cdn.example.com/large.jpg", "width": 800, "height": 600}
              ]
            }
          }
        ]
      },
      {
        "id": 556,
        "owner_id": -123,
        "marked_as_ads": 1,
        "text": "Sponsored post about something long enough to pass the filter."
      }
    ]
  }
}`

func TestVKAdapterFetchBuildsItems(t *testing.T) {
	client := &fakeHTTPClient{body: sampleVKWall}
	adapter := NewVKAdapter(client)

	items, err := adapter.Fetch(context.Background(), Source{
		ID:        "vk-afisha-spb",
		Name:      "Community wall",
		Type:      TypeVK,
		SourceURL: "https://api.vk.com/method/wall.get",
		City:      "spb",
		Config: map[string]any{
			ConfigAccessTokenKey: "tok-456",
			"group_domain":       "afisha_spb",
		},
	})
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item (ads filtered), got %d", len(items))
	}

	item := items[0]
	if item.SourceID != "555" {
		t.Errorf("expected source id 555, got %s", item.SourceID)
	}
	if item.Channel != "afisha_spb" {
		t.Errorf("expected group channel, got %s", item.Channel)
	}
	if got := item.ExtraString("post_url"); got != "https://vk.com/wall-123_555" {
		t.Errorf("unexpected post url %q", got)
	}
	if got := item.ExtraString("image_url"); got != "https://cdn.example.com/large.jpg" {
		t.Errorf("expected largest photo, got %q", got)
	}
	if !strings.Contains(item.Text, "Jazz concert") {
		t.Errorf("unexpected text %q", item.Text)
	}

	if client.gotQuery["domain"] != "afisha_spb" {
		t.Errorf("expected domain query param, got %q", client.gotQuery["domain"])
	}
	if client.gotQuery["access_token"] != "tok-456" {
		t.Errorf("expected token query param, got %q", client.gotQuery["access_token"])
	}
}

func TestVKAdapterSurfacesAPIError(t *testing.T) {
	client := &fakeHTTPClient{body: `{"error": {"error_code": 5, "error_msg": "auth failed"}}`}
	adapter := NewVKAdapter(client)

	_, err := adapter.Fetch(context.Background(), Source{
		ID:        "vk-afisha-spb",
		Type:      TypeVK,
		SourceURL: "https://api.vk.com/method/wall.get",
		Config: map[string]any{
			ConfigAccessTokenKey: "tok",
			"group_domain":       "afisha_spb",
		},
	})
	if err == nil || !strings.Contains(err.Error(), "auth failed") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestVKAdapterRequiresToken(t *testing.T) {
	adapter := NewVKAdapter(&fakeHTTPClient{})
	_, err := adapter.Fetch(context.Background(), Source{
		ID:        "vk-afisha-spb",
		Type:      TypeVK,
		SourceURL: "https://api.vk.com/method/wall.get",
		Config:    map[string]any{"group_domain": "afisha_spb"},
	})
	if err == nil {
		t.Fatal("expected error for missing access token")
	}
}
