package extractor

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PromptTemplate holds the system and user prompt bodies for the model. The
// bodies may reference {{today}}, {{city}} and {{text}} placeholders.
type PromptTemplate struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// LoadPromptTemplate reads a prompt template from a YAML file.
func LoadPromptTemplate(path string) (*PromptTemplate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt file: %w", err)
	}

	var tpl PromptTemplate
	if err := yaml.Unmarshal(raw, &tpl); err != nil {
		return nil, fmt.Errorf("decode prompt file: %w", err)
	}
	if strings.TrimSpace(tpl.System) == "" {
		return nil, fmt.Errorf("prompt file %s has no system prompt", path)
	}
	if strings.TrimSpace(tpl.User) == "" {
		tpl.User = "{{text}}"
	}
	return &tpl, nil
}

// DefaultPromptTemplate is used when no prompt file is configured.
func DefaultPromptTemplate() *PromptTemplate {
	return &PromptTemplate{
		System: strings.TrimSpace(`
You extract event announcements from social media posts.
Today is {{today}}. The post is from {{city}}.
Respond with JSON only: {"events": [...]}. Each event has the fields
name, description, tags (array of strings), location, cost (integer, 0 when
free or unknown), date_start (ISO 8601), date_end (ISO 8601 or null) and
time_text (human-readable schedule).
A post may announce zero, one or several events. Return {"events": []} when
the post announces none.`),
		User: "{{text}}",
	}
}

// Render substitutes the placeholders in both prompt bodies.
func (t *PromptTemplate) Render(city, text string, now time.Time) (string, string) {
	repl := strings.NewReplacer(
		"{{today}}", now.Format("2006-01-02"),
		"{{city}}", city,
		"{{text}}", text,
	)
	return repl.Replace(t.System), repl.Replace(t.User)
}
