package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/afisha-hq/afisha-ingest/internal/domain"
	"github.com/afisha-hq/afisha-ingest/pkg/httpclient"
)

const (
	openRouterDefaultTimeout = 60 * time.Second
	openRouterChatPath       = "/chat/completions"
)

// OpenRouterOptions configures the chat-completions extractor.
type OpenRouterOptions struct {
	BaseURL string
	APIKey  string
	Model   string
	Prompt  *PromptTemplate
	Timeout time.Duration
}

// OpenRouterExtractor extracts event drafts from free-form posts through an
// OpenRouter-compatible chat completions endpoint.
type OpenRouterExtractor struct {
	client  *resty.Client
	baseURL string
	apiKey  string
	model   string
	prompt  *PromptTemplate
	now     func() time.Time
}

func NewOpenRouterExtractor(opts OpenRouterOptions) (*OpenRouterExtractor, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, fmt.Errorf("extractor base url is empty")
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("extractor api key is empty")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, fmt.Errorf("extractor model is empty")
	}
	if opts.Prompt == nil {
		opts.Prompt = DefaultPromptTemplate()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = openRouterDefaultTimeout
	}

	return &OpenRouterExtractor{
		client:  httpclient.NewRestyHTTPClient(opts.Timeout),
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		model:   opts.Model,
		prompt:  opts.Prompt,
		now:     time.Now,
	}, nil
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (e *OpenRouterExtractor) Extract(ctx context.Context, item domain.RawItem) ([]domain.EventDraft, error) {
	text := strings.TrimSpace(item.Text)
	if text == "" {
		return nil, nil
	}

	system, user := e.prompt.Render(item.City, text, e.now())
	payload := chatRequest{
		Model: e.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: &respFormat{Type: "json_object"},
	}

	resp, err := e.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+e.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(e.baseURL + openRouterChatPath)
	if err != nil {
		return nil, fmt.Errorf("extract %s/%s: %w", item.Source, item.SourceID, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("extract %s/%s: status %d: %s",
			item.Source, item.SourceID, resp.StatusCode(), snippet(resp.Body()))
	}

	var parsed chatResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("extract %s/%s: api error: %s", item.Source, item.SourceID, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("extract %s/%s: completion has no choices", item.Source, item.SourceID)
	}

	drafts, err := DecodeDrafts(parsed.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("decode drafts for %s/%s: %w", item.Source, item.SourceID, err)
	}

	for i := range drafts {
		attachItemLinks(&drafts[i], item)
	}
	return drafts, nil
}

// wireDraft is the tolerant wire form of a draft: models emit dates as
// strings and occasionally misplace field types.
type wireDraft struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Tags        []string        `json:"tags"`
	Location    string          `json:"location"`
	Cost        json.RawMessage `json:"cost"`
	DateStart   string          `json:"date_start"`
	DateEnd     string          `json:"date_end"`
	TimeText    string          `json:"time_text"`
}

// DecodeDrafts parses the model output into drafts. Accepts a bare array, an
// {"events": [...]} envelope or a single object, with or without code fences.
func DecodeDrafts(content string) ([]domain.EventDraft, error) {
	content = stripCodeFences(content)
	if content == "" {
		return nil, nil
	}

	var wire []wireDraft
	switch {
	case strings.HasPrefix(content, "["):
		if err := json.Unmarshal([]byte(content), &wire); err != nil {
			return nil, err
		}
	default:
		var envelope struct {
			Events []wireDraft `json:"events"`
		}
		if err := json.Unmarshal([]byte(content), &envelope); err != nil {
			return nil, err
		}
		if envelope.Events == nil {
			var single wireDraft
			if err := json.Unmarshal([]byte(content), &single); err != nil {
				return nil, err
			}
			if single.Name != "" {
				wire = []wireDraft{single}
			}
		} else {
			wire = envelope.Events
		}
	}

	drafts := make([]domain.EventDraft, 0, len(wire))
	for _, w := range wire {
		if strings.TrimSpace(w.Name) == "" {
			continue
		}
		drafts = append(drafts, domain.EventDraft{
			Name:        strings.TrimSpace(w.Name),
			Description: strings.TrimSpace(w.Description),
			Tags:        w.Tags,
			Location:    strings.TrimSpace(w.Location),
			Cost:        wireCost(w.Cost),
			DateStart:   wireTime(w.DateStart),
			DateEnd:     wireTime(w.DateEnd),
			TimeText:    strings.TrimSpace(w.TimeText),
		})
	}
	return drafts, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func wireCost(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n < 0 {
			return 0
		}
		return int(n)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		digits := strings.TrimFunc(s, func(r rune) bool { return r < '0' || r > '9' })
		var out int
		if _, err := fmt.Sscanf(digits, "%d", &out); err == nil {
			return out
		}
	}
	return 0
}

func wireTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "null") {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func attachItemLinks(draft *domain.EventDraft, item domain.RawItem) {
	if u := item.ExtraString("post_url"); u != "" {
		draft.ContactLinks = append(draft.ContactLinks, domain.ContactLink{Label: "post", URL: u})
	}
}

func snippet(body []byte) string {
	const maxLen = 512
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
