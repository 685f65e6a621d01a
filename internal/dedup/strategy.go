package dedup

import (
	"crypto/sha1" //nolint:gosec // non-cryptographic id generation
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/afisha-hq/afisha-ingest/internal/domain"
)

// Placeholder values substituted when a key ingredient is missing. Downstream
// dedup and validation still need a key to test against, so generation never
// fails.
const (
	placeholderName     = "Default Name"
	placeholderLocation = "Unknown"
)

// KeyStrategy derives the deterministic unique key for a (RawItem, EventDraft)
// pair. draft may be nil when the key is needed before extraction.
type KeyStrategy interface {
	Generate(item domain.RawItem, draft *domain.EventDraft) string
}

var keyCharset = regexp.MustCompile(`[^\w\-]`)

// CleanKey replaces everything outside word characters, hyphen and underscore
// with an underscore.
func CleanKey(key string) string {
	return keyCharset.ReplaceAllString(key, "_")
}

// shortHash returns the first 8 hex characters of a SHA-1 over the parts.
func shortHash(parts ...string) string {
	sum := sha1.Sum([]byte(strings.Join(parts, "|"))) //nolint:gosec
	return hex.EncodeToString(sum[:])[:8]
}

// StructuredKeyStrategy keys structured-API items on the upstream id plus a
// short hash of the descriptive fields, so minor upstream edits do not mint
// spurious new ids while real changes do.
type StructuredKeyStrategy struct {
	Prefix string
}

// Generate builds the key. Before extraction the descriptive fields come from
// the raw item's extra bag; a draft refines them once it exists.
func (s StructuredKeyStrategy) Generate(item domain.RawItem, draft *domain.EventDraft) string {
	name := item.ExtraString("name")
	location := item.ExtraString("location")
	description := item.ExtraString("description")
	timeText := item.ExtraString("time_text")
	if draft != nil {
		name = draft.Name
		location = draft.Location
		description = draft.Description
		timeText = draft.TimeText
	}
	if strings.TrimSpace(name) == "" {
		name = placeholderName
	}
	if strings.TrimSpace(location) == "" {
		location = placeholderLocation
	}

	hash := shortHash(name, location, truncate(description, 100), timeText)
	key := s.Prefix + "_" + item.SourceID + "_" + truncate(name, 30) + "_" + hash
	return CleanKey(key)
}

// PostKeyStrategy keys messaging items on the post identity, which is already
// unique per channel. A draft refines the key with a short name hash so that
// several events described by one post get distinct keys.
type PostKeyStrategy struct {
	Prefix string
}

// Generate builds the key from channel and post id, plus a draft name hash
// when a draft exists.
func (s PostKeyStrategy) Generate(item domain.RawItem, draft *domain.EventDraft) string {
	sourceID := item.SourceID
	if strings.TrimSpace(sourceID) == "" {
		// Posts without an upstream id fall back to a text prefix.
		sourceID = truncate(item.Text, 50)
		if sourceID == "" {
			sourceID = "no_text"
		}
	}

	key := s.Prefix + "_" + item.Channel + "_" + sourceID
	if draft != nil && strings.TrimSpace(draft.Name) != "" {
		key += "_" + shortHash(draft.Name)
	}
	return CleanKey(key)
}

// StrategyFor returns the key strategy for a source family.
func StrategyFor(source domain.SourceName) KeyStrategy {
	switch source {
	case domain.SourceTelegram, domain.SourceVK:
		return PostKeyStrategy{Prefix: string(source)}
	default:
		return StructuredKeyStrategy{Prefix: string(source)}
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
