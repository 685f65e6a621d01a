package enrich

import (
	"context"
	"testing"

	"github.com/afisha-hq/afisha-ingest/internal/domain"
	"github.com/afisha-hq/afisha-ingest/pkg/httpclient"
	"github.com/afisha-hq/afisha-ingest/pkg/sources"
)

// stubHTTPResponse implements httpclient.Response.
type stubHTTPResponse struct {
	body       []byte
	statusCode int
}

func (s stubHTTPResponse) Body() []byte    { return s.body }
func (s stubHTTPResponse) StatusCode() int { return s.statusCode }

// stubHTTPClient serves canned responses keyed by url.
type stubHTTPClient struct {
	responses map[string]stubHTTPResponse
}

func (s stubHTTPClient) Get(_ context.Context, url string, _ map[string]string) (httpclient.Response, error) {
	if resp, ok := s.responses[url]; ok {
		return resp, nil
	}
	return stubHTTPResponse{statusCode: 404}, nil
}

func (s stubHTTPClient) GetWithQuery(ctx context.Context, url string, _, headers map[string]string) (httpclient.Response, error) {
	return s.Get(ctx, url, headers)
}

const eventPageHTML = `
<html>
  <head>
    <meta property="og:description" content="An evening of live jazz.">
    <meta property="og:image" content="/img/poster.jpg">
  </head>
</html>`

func TestEnrichFetchesDirectImageURL(t *testing.T) {
	client := stubHTTPClient{responses: map[string]stubHTTPResponse{
		"https://cdn.example.com/poster.jpg": {body: []byte("imagebytes"), statusCode: 200},
	}}
	enricher := NewEnricher(client)

	draft := domain.EventDraft{Name: "Jazz Concert", Description: "desc"}
	item := domain.RawItem{Extra: map[string]any{"image_url": "https://cdn.example.com/poster.jpg"}}

	enricher.Enrich(context.Background(), sources.Source{ID: "s"}, item, &draft)
	if string(draft.Image) != "imagebytes" {
		t.Fatalf("expected image bytes, got %q", draft.Image)
	}
}

func TestEnrichScrapesContactPage(t *testing.T) {
	client := stubHTTPClient{responses: map[string]stubHTTPResponse{
		"https://example.com/events/1":   {body: []byte(eventPageHTML), statusCode: 200},
		"https://example.com/img/poster.jpg": {body: []byte("ogimage"), statusCode: 200},
	}}
	enricher := NewEnricher(client)

	draft := domain.EventDraft{
		Name:         "Jazz Concert",
		ContactLinks: []domain.ContactLink{{Label: "site", URL: "https://example.com/events/1"}},
	}

	enricher.Enrich(context.Background(), sources.Source{ID: "s"}, domain.RawItem{}, &draft)
	if draft.Description != "An evening of live jazz." {
		t.Errorf("expected og description, got %q", draft.Description)
	}
	if string(draft.Image) != "ogimage" {
		t.Errorf("expected og image resolved and fetched, got %q", draft.Image)
	}
}

func TestEnrichKeepsCompleteDraftUntouched(t *testing.T) {
	enricher := NewEnricher(stubHTTPClient{})

	draft := domain.EventDraft{Name: "Done", Description: "full", Image: []byte("existing")}
	enricher.Enrich(context.Background(), sources.Source{ID: "s"}, domain.RawItem{}, &draft)
	if string(draft.Image) != "existing" || draft.Description != "full" {
		t.Fatal("expected complete draft to stay untouched")
	}
}

func TestEnrichSurvivesScrapeFailure(t *testing.T) {
	enricher := NewEnricher(stubHTTPClient{})

	draft := domain.EventDraft{
		Name:         "Jazz Concert",
		ContactLinks: []domain.ContactLink{{Label: "site", URL: "https://example.com/missing"}},
	}
	enricher.Enrich(context.Background(), sources.Source{ID: "s"}, domain.RawItem{}, &draft)
	if draft.Description != "" || len(draft.Image) != 0 {
		t.Fatal("expected draft unchanged on scrape failure")
	}
}

func TestResolveURLHandlesRelative(t *testing.T) {
	got := resolveURL("/img.png", "https://example.com/events/1")
	if got != "https://example.com/img.png" {
		t.Fatalf("resolveURL got %q", got)
	}
	if got := resolveURL("", "https://example.com"); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}
