package domain

// Domain contains core models shared across the ingestion pipeline.

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SourceName identifies a connector family.
type SourceName string

const (
	SourceKudaGo   SourceName = "kudago"
	SourceTimepad  SourceName = "timepad"
	SourceTelegram SourceName = "telegram"
	SourceVK       SourceName = "vk"
)

// RawItem is one unprocessed payload pulled from a source. It is immutable
// once produced and owned by the pipeline invocation that created it.
type RawItem struct {
	SourceID    string
	Source      SourceName
	Channel     string
	Text        string
	Image       []byte
	CollectedAt time.Time
	City        string
	Extra       map[string]any
}

// ExtraString returns the trimmed string stored under key in the Extra bag.
func (r RawItem) ExtraString(key string) string {
	if r.Extra == nil {
		return ""
	}
	if raw, ok := r.Extra[key]; ok {
		if val, ok := raw.(string); ok {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

// ContactLink is one labelled URL attached to an event.
type ContactLink struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// EventDraft is a candidate structured event produced by text extraction,
// before validation and deduplication. Multiple drafts may originate from a
// single RawItem.
type EventDraft struct {
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Tags         []string      `json:"tags"`
	Location     string        `json:"location"`
	Cost         int           `json:"cost"`
	DateStart    *time.Time    `json:"date_start"`
	DateEnd      *time.Time    `json:"date_end"`
	TimeText     string        `json:"time_text"`
	ContactLinks []ContactLink `json:"contact_links"`
	Image        []byte        `json:"image,omitempty"`
}

// FirstLink returns the first contact link whose URL has the given scheme
// prefix, or an empty string.
func (d EventDraft) FirstLink(prefix string) string {
	for _, link := range d.ContactLinks {
		if strings.HasPrefix(link.URL, prefix) {
			return link.URL
		}
	}
	return ""
}

// AcceptedEvent is a draft that passed validation and deduplication, tagged
// with its unique key. Ownership passes to storage on successful save.
type AcceptedEvent struct {
	RecordID   uuid.UUID  `json:"record_id"`
	UniqueKey  string     `json:"unique_key"`
	Source     SourceName `json:"source"`
	City       string     `json:"city"`
	AcceptedAt time.Time  `json:"accepted_at"`
	EventDraft
}

// NewAcceptedEvent tags a draft with its identity and provenance.
func NewAcceptedEvent(draft EventDraft, key string, source SourceName, city string) AcceptedEvent {
	return AcceptedEvent{
		RecordID:   uuid.New(),
		UniqueKey:  key,
		Source:     source,
		City:       city,
		AcceptedAt: time.Now().UTC(),
		EventDraft: draft,
	}
}

// DedupLogEntry is the normalized projection of an accepted event used for
// fuzzy duplicate matching.
type DedupLogEntry struct {
	NameNorm     string    `json:"name_norm"`
	DateNorm     string    `json:"date_norm"`
	TimeNorm     string    `json:"time_norm"`
	LocationNorm string    `json:"location_norm"`
	SeenAt       time.Time `json:"seen_at"`
}

// RunSummary reports the outcome of one pipeline run.
type RunSummary struct {
	Accepted int
	Skipped  int
	Errored  int
}

// Add accumulates another summary into s.
func (s *RunSummary) Add(other RunSummary) {
	s.Accepted += other.Accepted
	s.Skipped += other.Skipped
	s.Errored += other.Errored
}
