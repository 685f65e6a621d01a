package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/afisha-hq/afisha-ingest/internal/config"
	"github.com/afisha-hq/afisha-ingest/internal/dedup"
	"github.com/afisha-hq/afisha-ingest/internal/domain"
	"github.com/afisha-hq/afisha-ingest/internal/enrich"
	"github.com/afisha-hq/afisha-ingest/internal/logger"
	"github.com/afisha-hq/afisha-ingest/internal/pipeline"
	"github.com/afisha-hq/afisha-ingest/internal/storage"
	"github.com/afisha-hq/afisha-ingest/internal/validate"
	"github.com/afisha-hq/afisha-ingest/pkg/extractor"
	"github.com/afisha-hq/afisha-ingest/pkg/httpclient"
	"github.com/afisha-hq/afisha-ingest/pkg/sinks"
	"github.com/afisha-hq/afisha-ingest/pkg/sources"
)

// Ingester is the ingest runtime: it wires sources, extraction, dedup,
// storage and sinks into a pipeline and runs it on a cron schedule.
type Ingester struct {
	cfg       *config.Config
	sourceReg *sources.Registry
	fanout    *sinks.Fanout
	pipe      *pipeline.Pipeline
	store     storage.Store
	log       logger.Logger
}

// NewIngester builds the runtime from config files.
func NewIngester(ctx context.Context, cfg *config.Config, log logger.Logger) (*Ingester, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	sourceReg, err := sources.LoadRegistry(cfg.SourcesFile)
	if err != nil {
		return nil, fmt.Errorf("load sources registry: %w", err)
	}
	sourceList := sourceReg.All()
	sourceIDs := make([]string, 0, len(sourceList))
	for _, s := range sourceList {
		sourceIDs = append(sourceIDs, s.ID)
	}
	log.InfoObj("sources registry loaded", "sources_meta", map[string]any{
		"count": len(sourceIDs),
		"ids":   sourceIDs,
	})

	fanout, err := buildFanout(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewStore(cfg.StorageType, cfg.BBoltPath, storage.Options{
		KnownIDTTL:      cfg.KnownIDTTL,
		DedupWindow:     cfg.DedupWindow,
		CleanupInterval: cfg.StorageCleanupInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type":                 cfg.StorageType,
		"path":                 cfg.BBoltPath,
		"known_id_ttl_seconds": int(cfg.KnownIDTTL.Seconds()),
		"dedup_window_seconds": int(cfg.DedupWindow.Seconds()),
	})

	detector, err := seedDetector(store)
	if err != nil {
		store.Close()
		return nil, err
	}

	router, err := buildExtractor(cfg, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	client := httpclient.NewRestyClient(cfg.RequestTimeout)

	pipe, err := pipeline.New(pipeline.Options{
		Adapters:       sources.DefaultAdapterRegistry(client),
		Extractor:      router,
		Detector:       detector,
		Validator:      validateFromConfig(cfg),
		Enricher:       enrich.NewEnricher(client),
		Store:          store,
		Fanout:         fanout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	return &Ingester{
		cfg:       cfg,
		sourceReg: sourceReg,
		fanout:    fanout,
		pipe:      pipe,
		store:     store,
		log:       log,
	}, nil
}

func buildFanout(ctx context.Context, cfg *config.Config, log logger.Logger) (*sinks.Fanout, error) {
	sinkReg, err := sinks.LoadRegistry(cfg.SinksFile)
	if err != nil {
		return nil, fmt.Errorf("load sinks registry: %w", err)
	}

	enabled := sinkReg.Enabled()
	if len(enabled) == 0 {
		return nil, fmt.Errorf("no sinks configured")
	}

	clients, err := sinks.BuildAll(ctx, sinks.DefaultRegistry(), enabled, log)
	if err != nil {
		return nil, fmt.Errorf("build sinks: %w", err)
	}

	summaries := make([]map[string]string, 0, len(enabled))
	for _, sinkCfg := range enabled {
		summaries = append(summaries, map[string]string{
			"id":   sinkCfg.ID,
			"type": sinkCfg.Type,
		})
	}
	log.InfoObj("sinks registry loaded", "sinks_meta", map[string]any{
		"count": len(summaries),
		"sinks": summaries,
	})

	return sinks.NewFanout(clients), nil
}

// seedDetector loads the persisted known-id set and the windowed dedup log so
// a restart cannot re-accept events from earlier runs.
func seedDetector(store storage.Store) (*dedup.Detector, error) {
	knownIDs, err := store.KnownIDs()
	if err != nil {
		return nil, fmt.Errorf("load known ids: %w", err)
	}
	dedupLog, err := store.DedupLog()
	if err != nil {
		return nil, fmt.Errorf("load dedup log: %w", err)
	}
	return dedup.NewDetector(knownIDs, dedupLog), nil
}

func buildExtractor(cfg *config.Config, log logger.Logger) (*extractor.Router, error) {
	structured := extractor.NewStructuredExtractor()

	var freeform pipeline.Extractor
	if cfg.ExtractorAPIKey != "" {
		prompt := extractor.DefaultPromptTemplate()
		if cfg.ExtractorPromptFile != "" {
			loaded, err := extractor.LoadPromptTemplate(cfg.ExtractorPromptFile)
			if err != nil {
				log.WarnObj("prompt file unusable, using built-in prompt", "extractor_config", map[string]any{
					"path":  cfg.ExtractorPromptFile,
					"error": err.Error(),
				})
			} else {
				prompt = loaded
			}
		}

		or, err := extractor.NewOpenRouterExtractor(extractor.OpenRouterOptions{
			BaseURL: cfg.ExtractorBaseURL,
			APIKey:  cfg.ExtractorAPIKey,
			Model:   cfg.ExtractorModel,
			Prompt:  prompt,
			Timeout: cfg.ExtractorTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("build extractor: %w", err)
		}
		freeform = or
	} else {
		log.WarnObj("no extractor api key; free-form sources will fail", "extractor_config", nil)
	}

	return extractor.NewRouter(structured, freeform), nil
}

func validateFromConfig(cfg *config.Config) *validate.Validator {
	return validate.New(cfg.MaxPastWindow)
}

// Run starts the scheduled ingest loop until the context is cancelled. The
// first pass runs immediately.
func (i *Ingester) Run(ctx context.Context) error {
	if i == nil || i.pipe == nil {
		return fmt.Errorf("ingester is not initialized")
	}
	defer i.closeStore()

	srcs := i.sourceReg.All()
	if len(srcs) == 0 {
		i.log.WarnObj("no sources configured; ingester idle", "sources_file", i.cfg.SourcesFile)
		<-ctx.Done()
		return ctx.Err()
	}

	i.log.InfoObj("ingest loop starting", "ingester_state", map[string]any{
		"sources_count": len(srcs),
		"sinks_count":   i.fanout.Size(),
		"cron_schedule": i.cfg.CronSchedule,
	})

	if _, err := i.RunOnce(ctx); err != nil {
		i.log.ErrorObj("initial ingest pass failed", "error", err)
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(i.cfg.CronSchedule, func() {
		if _, err := i.RunOnce(ctx); err != nil {
			i.log.ErrorObj("scheduled ingest pass failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", i.cfg.CronSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	<-ctx.Done()
	i.log.InfoObj("ingest loop exiting", "reason", ctx.Err())
	return nil
}

// RunOnce performs a single ingest pass across all sources.
func (i *Ingester) RunOnce(ctx context.Context) (domain.RunSummary, error) {
	start := time.Now()
	srcs := i.sourceReg.All()

	i.log.InfoObj("ingest pass started", "pass_meta", map[string]any{
		"sources_count": len(srcs),
		"started_at":    start.UTC(),
	})

	summary, err := i.pipe.RunAll(ctx, srcs)

	i.log.InfoObj("ingest pass finished", "pass_meta", map[string]any{
		"sources_count": len(srcs),
		"accepted":      summary.Accepted,
		"skipped":       summary.Skipped,
		"errored":       summary.Errored,
		"elapsed_ms":    time.Since(start).Milliseconds(),
	})
	return summary, err
}

// Store exposes the storage backend for maintenance commands.
func (i *Ingester) Store() storage.Store {
	return i.store
}

func (i *Ingester) closeStore() {
	if i == nil || i.store == nil {
		return
	}
	if err := i.store.Close(); err != nil {
		i.log.ErrorObj("storage close failed", "error", err)
	}
}
