package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/afisha-hq/afisha-ingest/internal/dedup"
	"github.com/afisha-hq/afisha-ingest/internal/domain"
	"github.com/afisha-hq/afisha-ingest/internal/logger"
	"github.com/afisha-hq/afisha-ingest/internal/storage"
	"github.com/afisha-hq/afisha-ingest/internal/validate"
	"github.com/afisha-hq/afisha-ingest/pkg/sinks"
	"github.com/afisha-hq/afisha-ingest/pkg/sources"
)

const (
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 500 * time.Millisecond
)

// Pipeline runs the ingest pass for configured sources: fetch, extract,
// deduplicate, validate, enrich, persist and deliver. Item failures are
// isolated; a bad item never aborts the batch.
type Pipeline struct {
	adapters  sources.AdapterRegistry
	extractor Extractor
	detector  *dedup.Detector
	validator *validate.Validator
	enricher  DraftEnricher
	store     storage.Store
	fanout    EventFanout

	attempts  int
	baseDelay time.Duration
}

// Options wires the pipeline collaborators. Adapters, Extractor, Detector and
// Store are required; the rest defaults to inert implementations.
type Options struct {
	Adapters       sources.AdapterRegistry
	Extractor      Extractor
	Detector       *dedup.Detector
	Validator      *validate.Validator
	Enricher       DraftEnricher
	Store          storage.Store
	Fanout         EventFanout
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

func New(opts Options) (*Pipeline, error) {
	if opts.Adapters == nil {
		return nil, errors.New("pipeline requires an adapter registry")
	}
	if opts.Extractor == nil {
		return nil, errors.New("pipeline requires an extractor")
	}
	if opts.Detector == nil {
		return nil, errors.New("pipeline requires a duplicate detector")
	}
	if opts.Store == nil {
		return nil, errors.New("pipeline requires a store")
	}
	if opts.Validator == nil {
		opts.Validator = validate.New(0)
	}
	if opts.Fanout == nil {
		opts.Fanout = sinks.NewFanout(nil)
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = defaultRetryAttempts
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = defaultRetryBaseDelay
	}

	return &Pipeline{
		adapters:  opts.Adapters,
		extractor: opts.Extractor,
		detector:  opts.Detector,
		validator: opts.Validator,
		enricher:  opts.Enricher,
		store:     opts.Store,
		fanout:    opts.Fanout,
		attempts:  opts.RetryAttempts,
		baseDelay: opts.RetryBaseDelay,
	}, nil
}

// RunAll executes one ingest pass over all sources concurrently. The shared
// detector makes cross-source duplicates visible within the pass.
func (p *Pipeline) RunAll(ctx context.Context, cfgs []sources.Source) (domain.RunSummary, error) {
	if len(cfgs) == 0 {
		return domain.RunSummary{}, errors.New("no sources configured")
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		total   domain.RunSummary
		runErrs []error
	)

	for _, cfg := range cfgs {
		wg.Add(1)
		go func(cfg sources.Source) {
			defer wg.Done()

			summary, err := p.Run(ctx, cfg)

			mu.Lock()
			defer mu.Unlock()
			total.Add(summary)
			if err != nil {
				runErrs = append(runErrs, fmt.Errorf("source %s: %w", cfg.ID, err))
				logger.ErrorObj("source ingest failed", "source_error", map[string]any{
					"source_id": cfg.ID,
					"error":     err.Error(),
				})
			}
		}(cfg)
	}
	wg.Wait()

	logger.InfoObj("ingest pass completed", "run_summary", map[string]any{
		"sources":  len(cfgs),
		"accepted": total.Accepted,
		"skipped":  total.Skipped,
		"errored":  total.Errored,
	})

	return total, errors.Join(runErrs...)
}

// Run executes the ingest pass for a single source.
func (p *Pipeline) Run(ctx context.Context, cfg sources.Source) (domain.RunSummary, error) {
	var summary domain.RunSummary

	adapter, err := p.adapters.AdapterFor(cfg)
	if err != nil {
		return summary, fmt.Errorf("resolve adapter: %w", err)
	}

	items, err := p.fetchItems(ctx, adapter, cfg)
	if err != nil {
		return summary, fmt.Errorf("fetch: %w", err)
	}

	strategy := dedup.StrategyFor(cfg.SourceName())

	for _, item := range items {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}
		p.processItem(ctx, cfg, strategy, item, &summary)
	}

	logger.InfoObj("source ingest completed", "source_result", map[string]any{
		"source_id": cfg.ID,
		"items":     len(items),
		"accepted":  summary.Accepted,
		"skipped":   summary.Skipped,
		"errored":   summary.Errored,
	})
	return summary, nil
}

// processItem runs one raw item through extraction and acceptance. Failures
// count as errored and never propagate.
func (p *Pipeline) processItem(ctx context.Context, cfg sources.Source, strategy dedup.KeyStrategy, item domain.RawItem, summary *domain.RunSummary) {
	// Cheap pre-check on the item identity alone, before any extraction
	// cost is paid. Draft-refined keys are checked again below.
	preKey := strategy.Generate(item, nil)
	if p.detector.Seen(preKey) {
		summary.Skipped++
		return
	}

	drafts, err := p.extractDrafts(ctx, item)
	if err != nil {
		summary.Errored++
		logger.WarnObj("item extraction failed", "item_error", map[string]any{
			"source_id": cfg.ID,
			"item_id":   item.SourceID,
			"error":     err.Error(),
		})
		return
	}

	if len(drafts) == 0 {
		// Nothing announced; remember the item so the next pass skips it.
		p.remember(cfg, preKey)
		summary.Skipped++
		return
	}

	for i := range drafts {
		p.processDraft(ctx, cfg, strategy, item, drafts[i], summary)
	}
}

func (p *Pipeline) processDraft(ctx context.Context, cfg sources.Source, strategy dedup.KeyStrategy, item domain.RawItem, draft domain.EventDraft, summary *domain.RunSummary) {
	key := strategy.Generate(item, &draft)
	if p.detector.Seen(key) {
		summary.Skipped++
		return
	}

	if !p.validator.Validate(&draft) {
		p.remember(cfg, key)
		summary.Skipped++
		logger.DebugObj("draft rejected by validation", "draft_invalid", map[string]any{
			"source_id": cfg.ID,
			"key":       key,
			"errors":    p.validator.Errors(draft),
		})
		return
	}

	var logEntry *domain.DedupLogEntry
	if cfg.FuzzyDedup {
		dup, entry := p.detector.IsFuzzyDuplicate(draft)
		if dup {
			p.remember(cfg, key)
			summary.Skipped++
			logger.InfoObj("fuzzy duplicate skipped", "fuzzy_duplicate", map[string]any{
				"source_id": cfg.ID,
				"key":       key,
			})
			return
		}
		logEntry = entry
	} else {
		// Trusted feeds skip the fuzzy check but still enter the rolling
		// log, so free-form sources can match against them.
		logEntry = p.detector.Record(draft)
	}

	if p.enricher != nil {
		p.enricher.Enrich(ctx, cfg, item, &draft)
	}

	accepted := domain.NewAcceptedEvent(draft, key, cfg.SourceName(), cfg.City)
	if err := p.saveEvent(ctx, accepted); err != nil {
		// The acceptance did not happen; its log entry must not linger or
		// the retry on the next run would match against it.
		if logEntry != nil {
			p.detector.Withdraw(*logEntry)
		}
		summary.Errored++
		logger.ErrorObj("event save failed", "storage_error", map[string]any{
			"source_id": cfg.ID,
			"key":       key,
			"error":     err.Error(),
		})
		return
	}
	if logEntry != nil {
		if err := p.store.AppendDedupEntry(*logEntry); err != nil {
			logger.WarnObj("dedup log append failed", "storage_error", map[string]any{
				"source_id": cfg.ID,
				"error":     err.Error(),
			})
		}
	}
	p.remember(cfg, key)
	summary.Accepted++

	if p.fanout.Size() > 0 {
		if _, err := p.fanout.Send(ctx, sinks.NewEvent(cfg.ID, cfg.Name, accepted)); err != nil {
			// Delivery is at-least-once downstream of acceptance; a sink
			// outage must not undo the accept.
			logger.WarnObj("event delivery incomplete", "sink_error", map[string]any{
				"source_id": cfg.ID,
				"key":       key,
				"error":     err.Error(),
			})
		}
	}
}

// remember marks the key in both the in-memory detector and the store.
func (p *Pipeline) remember(cfg sources.Source, key string) {
	p.detector.Remember(key)
	if err := p.store.MarkID(key); err != nil {
		logger.WarnObj("known id persist failed", "storage_error", map[string]any{
			"source_id": cfg.ID,
			"key":       key,
			"error":     err.Error(),
		})
	}
}

func (p *Pipeline) fetchItems(ctx context.Context, adapter sources.Adapter, cfg sources.Source) ([]domain.RawItem, error) {
	policy := retryPolicy[[]domain.RawItem](p.attempts, p.baseDelay)
	return failsafe.With(policy).WithContext(ctx).Get(func() ([]domain.RawItem, error) {
		return adapter.Fetch(ctx, cfg)
	})
}

func (p *Pipeline) extractDrafts(ctx context.Context, item domain.RawItem) ([]domain.EventDraft, error) {
	policy := retryPolicy[[]domain.EventDraft](p.attempts, p.baseDelay)
	return failsafe.With(policy).WithContext(ctx).Get(func() ([]domain.EventDraft, error) {
		return p.extractor.Extract(ctx, item)
	})
}

func (p *Pipeline) saveEvent(ctx context.Context, evt domain.AcceptedEvent) error {
	policy := retryPolicy[any](p.attempts, p.baseDelay)
	return failsafe.With(policy).WithContext(ctx).Run(func() error {
		return p.store.SaveEvent(evt)
	})
}

func retryPolicy[T any](attempts int, baseDelay time.Duration) retrypolicy.RetryPolicy[T] {
	return retrypolicy.NewBuilder[T]().
		WithBackoff(baseDelay, 8*baseDelay).
		WithMaxRetries(attempts - 1).
		Build()
}
