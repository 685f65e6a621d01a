package sinks

import (
	"time"

	"github.com/afisha-hq/afisha-ingest/internal/domain"
)

// Event is the payload delivered downstream for each accepted listing.
type Event struct {
	SourceID    string               `json:"source_id"`
	SourceName  string               `json:"source_name"`
	Event       domain.AcceptedEvent `json:"event"`
	PublishedAt time.Time            `json:"published_at"`
}

// NewEvent constructs the delivery payload for the given source + listing.
func NewEvent(sourceID, sourceName string, evt domain.AcceptedEvent) Event {
	return Event{
		SourceID:    sourceID,
		SourceName:  sourceName,
		Event:       evt,
		PublishedAt: time.Now().UTC(),
	}
}
