package extractor

// Package extractor turns raw source items into structured event drafts.
// Structured feeds map fields directly; free-form posts go through a language
// model.

import (
	"context"
	"fmt"

	"github.com/afisha-hq/afisha-ingest/internal/domain"
)

// Extractor produces zero or more event drafts from one raw item. A single
// post may announce several events.
type Extractor interface {
	Extract(ctx context.Context, item domain.RawItem) ([]domain.EventDraft, error)
}

// Router dispatches items to the extractor matching their source family:
// structured feeds bypass the model entirely.
type Router struct {
	structured Extractor
	freeform   Extractor
}

func NewRouter(structured, freeform Extractor) *Router {
	return &Router{structured: structured, freeform: freeform}
}

func (r *Router) Extract(ctx context.Context, item domain.RawItem) ([]domain.EventDraft, error) {
	ex, err := r.forSource(item.Source)
	if err != nil {
		return nil, err
	}
	return ex.Extract(ctx, item)
}

func (r *Router) forSource(source domain.SourceName) (Extractor, error) {
	switch source {
	case domain.SourceKudaGo, domain.SourceTimepad:
		if r.structured == nil {
			return nil, fmt.Errorf("no structured extractor configured")
		}
		return r.structured, nil
	case domain.SourceTelegram, domain.SourceVK:
		if r.freeform == nil {
			return nil, fmt.Errorf("no free-form extractor configured")
		}
		return r.freeform, nil
	default:
		return nil, fmt.Errorf("no extractor for source %q", source)
	}
}
