package pipeline

import (
	"context"

	"github.com/afisha-hq/afisha-ingest/internal/domain"
	"github.com/afisha-hq/afisha-ingest/pkg/sinks"
	"github.com/afisha-hq/afisha-ingest/pkg/sources"
)

// Extractor turns a raw item into zero or more event drafts.
type Extractor interface {
	Extract(ctx context.Context, item domain.RawItem) ([]domain.EventDraft, error)
}

// DraftEnricher fills gaps in an accepted draft (poster image, description).
type DraftEnricher interface {
	Enrich(ctx context.Context, cfg sources.Source, item domain.RawItem, draft *domain.EventDraft)
}

// EventFanout delivers accepted events downstream.
type EventFanout interface {
	Send(ctx context.Context, evt sinks.Event) (int, error)
	Size() int
}
