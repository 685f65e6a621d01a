package sources

import (
	"context"

	"github.com/afisha-hq/afisha-ingest/internal/domain"
	"github.com/afisha-hq/afisha-ingest/pkg/httpclient"
)

// Adapter retrieves raw items for a source. Concrete implementations live in
// per-connector files (e.g. kudago.go). Adapters own their paging and
// rate-limit handling; the pipeline treats them as opaque item producers.
type Adapter interface {
	Type() string
	Fetch(ctx context.Context, cfg Source) ([]domain.RawItem, error)
}

// AdapterRegistry resolves the adapter implementation for a source config.
type AdapterRegistry interface {
	AdapterFor(cfg Source) (Adapter, error)
}

// HTTPClient aliases the shared httpclient.Client interface for clarity within sources.
type HTTPClient = httpclient.Client
