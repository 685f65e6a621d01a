package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/afisha-hq/afisha-ingest/internal/domain"
)

const (
	vkDefaultAPIVersion = "5.131"
	vkDefaultCount      = 20
	vkDefaultMinTextLen = 50
)

// VKAdapter pulls recent wall posts from a community via the wall.get method.
// Like the channel scraper, posts are free-form text left for downstream
// extraction.
type VKAdapter struct {
	client HTTPClient
	now    func() time.Time
}

func NewVKAdapter(client HTTPClient) *VKAdapter {
	if client == nil {
		client = DefaultHTTPClient()
	}
	return &VKAdapter{
		client: client,
		now:    time.Now,
	}
}

func (a *VKAdapter) Type() string {
	return TypeVK
}

type vkWallResponse struct {
	Response *struct {
		Items []vkWallPost `json:"items"`
	} `json:"response"`
	Error *struct {
		ErrorCode int    `json:"error_code"`
		ErrorMsg  string `json:"error_msg"`
	} `json:"error"`
}

type vkWallPost struct {
	ID          int    `json:"id"`
	OwnerID     int    `json:"owner_id"`
	Text        string `json:"text"`
	IsPinned    int    `json:"is_pinned"`
	MarkedAsAds int    `json:"marked_as_ads"`
	Attachments []struct {
		Type  string `json:"type"`
		Photo struct {
			Sizes []struct {
				URL    string `json:"url"`
				Width  int    `json:"width"`
				Height int    `json:"height"`
			} `json:"sizes"`
		} `json:"photo"`
	} `json:"attachments"`
}

func (a *VKAdapter) Fetch(ctx context.Context, cfg Source) ([]domain.RawItem, error) {
	if !strings.EqualFold(cfg.Type, TypeVK) {
		return nil, fmt.Errorf("vk adapter received incompatible source type %q", cfg.Type)
	}
	if strings.TrimSpace(cfg.SourceURL) == "" {
		return nil, fmt.Errorf("source %q source_url is empty", cfg.ID)
	}
	token := ConfigString(cfg, ConfigAccessTokenKey, "")
	if token == "" {
		return nil, fmt.Errorf("source %q access_token is empty", cfg.ID)
	}
	group := ConfigString(cfg, "group_domain", "")
	if group == "" {
		return nil, fmt.Errorf("source %q group_domain is empty", cfg.ID)
	}

	query := map[string]string{
		"domain":       group,
		"count":        strconv.Itoa(ConfigInt(cfg, "count", vkDefaultCount)),
		"access_token": token,
		"v":            ConfigString(cfg, "api_version", vkDefaultAPIVersion),
	}

	resp, err := a.client.GetWithQuery(ctx, cfg.SourceURL, query, Headers(cfg))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", cfg.ID, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("fetch %s: status %d: %s",
			cfg.ID, resp.StatusCode(), responseSnippet(resp.Body()))
	}

	var parsed vkWallResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("decode %s wall: %w", cfg.ID, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("fetch %s: api error %d: %s",
			cfg.ID, parsed.Error.ErrorCode, parsed.Error.ErrorMsg)
	}
	if parsed.Response == nil {
		return nil, fmt.Errorf("fetch %s: empty api response", cfg.ID)
	}

	minLen := ConfigInt(cfg, "min_text_len", vkDefaultMinTextLen)
	collectedAt := a.now().UTC()

	items := make([]domain.RawItem, 0, len(parsed.Response.Items))
	for _, post := range parsed.Response.Items {
		if post.ID == 0 || post.MarkedAsAds != 0 {
			continue
		}
		text := strings.TrimSpace(post.Text)
		if len([]rune(text)) < minLen {
			continue
		}

		extra := map[string]any{
			"post_url": fmt.Sprintf("https://vk.com/wall%d_%d", post.OwnerID, post.ID),
		}
		if u := largestPhotoURL(post); u != "" {
			extra["image_url"] = u
		}

		items = append(items, domain.RawItem{
			SourceID:    strconv.Itoa(post.ID),
			Source:      domain.SourceVK,
			Channel:     group,
			Text:        text,
			CollectedAt: collectedAt,
			City:        cfg.City,
			Extra:       extra,
		})
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("source %q returned no usable posts", cfg.ID)
	}
	return items, nil
}

// largestPhotoURL picks the biggest photo attachment variant, if any.
func largestPhotoURL(post vkWallPost) string {
	best := ""
	bestArea := 0
	for _, att := range post.Attachments {
		if att.Type != "photo" {
			continue
		}
		for _, size := range att.Photo.Sizes {
			area := size.Width * size.Height
			if size.URL != "" && area > bestArea {
				best = size.URL
				bestArea = area
			}
		}
	}
	return best
}
