package sources

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/afisha-hq/afisha-ingest/internal/domain"
)

const telegramDefaultMinTextLen = 50

// TelegramAdapter scrapes recent posts from a public channel preview page
// (t.me/s/<channel>). Posts are free-form text, so extraction happens
// downstream; the adapter only isolates post id, text and photo.
type TelegramAdapter struct {
	client HTTPClient
	now    func() time.Time
}

func NewTelegramAdapter(client HTTPClient) *TelegramAdapter {
	if client == nil {
		client = DefaultHTTPClient()
	}
	return &TelegramAdapter{
		client: client,
		now:    time.Now,
	}
}

func (a *TelegramAdapter) Type() string {
	return TypeTelegram
}

func (a *TelegramAdapter) Fetch(ctx context.Context, cfg Source) ([]domain.RawItem, error) {
	if !strings.EqualFold(cfg.Type, TypeTelegram) {
		return nil, fmt.Errorf("telegram adapter received incompatible source type %q", cfg.Type)
	}
	if strings.TrimSpace(cfg.SourceURL) == "" {
		return nil, fmt.Errorf("source %q source_url is empty", cfg.ID)
	}

	headers := Headers(cfg)
	if _, ok := headers["User-Agent"]; !ok {
		// The preview page serves a bot-wall without a browser agent.
		headers["User-Agent"] = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"
	}

	resp, err := a.client.Get(ctx, cfg.SourceURL, headers)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", cfg.ID, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("fetch %s: status %d: %s",
			cfg.ID, resp.StatusCode(), responseSnippet(resp.Body()))
	}

	posts, err := parseTelegramPreview(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("parse %s preview: %w", cfg.ID, err)
	}

	minLen := ConfigInt(cfg, "min_text_len", telegramDefaultMinTextLen)
	collectedAt := a.now().UTC()

	items := make([]domain.RawItem, 0, len(posts))
	for _, post := range posts {
		if len([]rune(post.Text)) < minLen {
			continue
		}
		extra := map[string]any{
			"post_url": post.URL,
		}
		if post.ImageURL != "" {
			extra["image_url"] = post.ImageURL
		}
		items = append(items, domain.RawItem{
			SourceID:    post.ID,
			Source:      domain.SourceTelegram,
			Channel:     post.Channel,
			Text:        post.Text,
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

// telegramPost is one scraped message from a channel preview page.
type telegramPost struct {
	ID       string
	Channel  string
	URL      string
	Text     string
	ImageURL string
}

var backgroundImagePattern = regexp.MustCompile(`background-image:\s*url\('([^']+)'\)`)

// parseTelegramPreview extracts posts from the t.me/s HTML. Posts without a
// data-post identity are dropped.
func parseTelegramPreview(body []byte) ([]telegramPost, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var posts []telegramPost
	doc.Find(".tgme_widget_message").Each(func(_ int, msg *goquery.Selection) {
		dataPost, ok := msg.Attr("data-post")
		if !ok {
			return
		}
		channel, id, found := strings.Cut(strings.TrimSpace(dataPost), "/")
		if !found || id == "" {
			return
		}

		post := telegramPost{
			ID:      id,
			Channel: channel,
			URL:     "https://t.me/" + channel + "/" + id,
			Text:    messageText(msg.Find(".tgme_widget_message_text").First()),
		}
		if style, ok := msg.Find(".tgme_widget_message_photo_wrap").First().Attr("style"); ok {
			if m := backgroundImagePattern.FindStringSubmatch(style); len(m) == 2 {
				post.ImageURL = m[1]
			}
		}
		posts = append(posts, post)
	})
	return posts, nil
}

// messageText flattens a message body to plain text, keeping the line breaks
// the channel author typed.
func messageText(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	sel.Find("br").ReplaceWithHtml("\n")
	text := sel.Text()

	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
