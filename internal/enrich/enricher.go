package enrich

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/afisha-hq/afisha-ingest/internal/domain"
	"github.com/afisha-hq/afisha-ingest/internal/logger"
	"github.com/afisha-hq/afisha-ingest/pkg/httpclient"
	"github.com/afisha-hq/afisha-ingest/pkg/sources"
)

const (
	maxHTMLBodyBytes = 1 << 20 // 1 MiB
	maxImageBytes    = 5 << 20
)

// Enricher fills the gaps a source left in an accepted draft: a missing
// poster image or description. Best-effort, failures only log.
type Enricher struct {
	client httpclient.Client
}

func NewEnricher(client httpclient.Client) *Enricher {
	if client == nil {
		client = sources.DefaultHTTPClient()
	}
	return &Enricher{client: client}
}

// Enrich mutates the draft in place. The raw item supplies the direct image
// url when the adapter saw one; otherwise the first web contact link is
// scraped for OG metadata.
func (e *Enricher) Enrich(ctx context.Context, cfg sources.Source, item domain.RawItem, draft *domain.EventDraft) {
	if draft == nil {
		return
	}
	if len(draft.Image) == 0 && len(item.Image) > 0 {
		draft.Image = item.Image
	}
	if len(draft.Image) > 0 && draft.Description != "" {
		return
	}

	headers := sources.Headers(cfg)

	if len(draft.Image) == 0 {
		if u := item.ExtraString("image_url"); u != "" {
			if img, err := e.fetchImage(ctx, u, headers); err == nil {
				draft.Image = img
			} else {
				logger.WarnObj("image fetch failed", "enrich_error", map[string]any{
					"source_id": cfg.ID,
					"url":       u,
					"error":     err.Error(),
				})
			}
		}
	}

	if len(draft.Image) > 0 && draft.Description != "" {
		return
	}

	pageURL := draft.FirstLink("https://")
	if pageURL == "" {
		pageURL = draft.FirstLink("http://")
	}
	if pageURL == "" {
		return
	}

	meta, err := e.fetchMeta(ctx, pageURL, headers)
	if err != nil {
		logger.WarnObj("page metadata scrape failed", "enrich_error", map[string]any{
			"source_id": cfg.ID,
			"url":       pageURL,
			"error":     err.Error(),
		})
		return
	}

	if draft.Description == "" && meta.Description != "" {
		draft.Description = meta.Description
	}
	if len(draft.Image) == 0 && meta.ImageURL != "" {
		if u := resolveURL(meta.ImageURL, pageURL); u != "" {
			if img, err := e.fetchImage(ctx, u, headers); err == nil {
				draft.Image = img
			}
		}
	}
}

// resolveURL absolutizes a possibly relative url against the page it came from.
func resolveURL(raw, base string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(ref).String()
}

func (e *Enricher) fetchMeta(ctx context.Context, url string, headers map[string]string) (pageMeta, error) {
	resp, err := e.client.Get(ctx, url, headers)
	if err != nil {
		return pageMeta{}, fmt.Errorf("http fetch: %w", err)
	}
	if resp.StatusCode() != 200 {
		return pageMeta{}, fmt.Errorf("status %d", resp.StatusCode())
	}

	body := resp.Body()
	if len(body) > maxHTMLBodyBytes {
		body = body[:maxHTMLBodyBytes]
	}
	return parseMeta(body)
}

func (e *Enricher) fetchImage(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	resp, err := e.client.Get(ctx, url, headers)
	if err != nil {
		return nil, fmt.Errorf("http fetch: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("status %d", resp.StatusCode())
	}

	body := resp.Body()
	if len(body) == 0 {
		return nil, fmt.Errorf("empty image body")
	}
	if len(body) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	return body, nil
}

type pageMeta struct {
	Description string
	ImageURL    string
}

func parseMeta(body []byte) (pageMeta, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return pageMeta{}, fmt.Errorf("parse html: %w", err)
	}

	extract := func(sel string) string {
		if node := doc.Find(sel).First(); node.Length() > 0 {
			if val, ok := node.Attr("content"); ok {
				return strings.TrimSpace(val)
			}
		}
		return ""
	}

	return pageMeta{
		Description: firstNonEmpty(
			extract(`meta[property="og:description"]`),
			extract(`meta[name="description"]`),
		),
		ImageURL: extract(`meta[property="og:image"]`),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
