package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/spf13/cobra"

	"github.com/afisha-hq/afisha-ingest/internal/app"
	"github.com/afisha-hq/afisha-ingest/internal/config"
	"github.com/afisha-hq/afisha-ingest/internal/domain"
	"github.com/afisha-hq/afisha-ingest/internal/logger"
	"github.com/afisha-hq/afisha-ingest/internal/storage"
	"github.com/afisha-hq/afisha-ingest/internal/validate"
	"github.com/afisha-hq/afisha-ingest/pkg/sinks"
	"github.com/afisha-hq/afisha-ingest/pkg/sources"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ingestctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ingestctl",
		Short:         "Operational commands for the event ingest pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newCheckCmd(), newCleanupCmd(), newExportCmd())
	return root
}

// newRunCmd executes a single ingest pass and prints the summary.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute one ingest pass across all sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log, err := logger.Init(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logger.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ingester, err := app.NewIngester(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer ingester.Store().Close()

			summary, err := ingester.RunOnce(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "accepted=%d skipped=%d errored=%d\n",
				summary.Accepted, summary.Skipped, summary.Errored)
			return err
		},
	}
}

// newCheckCmd validates the configuration files without touching the network.
func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate source and sink configuration files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			sourceReg, err := sources.LoadRegistry(cfg.SourcesFile)
			if err != nil {
				return fmt.Errorf("sources file %s: %w", cfg.SourcesFile, err)
			}
			sinkReg, err := sinks.LoadRegistry(cfg.SinksFile)
			if err != nil {
				return fmt.Errorf("sinks file %s: %w", cfg.SinksFile, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d sources, %d sinks (%d enabled)\n",
				len(sourceReg.All()), len(sinkReg.All()), len(sinkReg.Enabled()))
			return nil
		},
	}
}

// newCleanupCmd forces an expiry sweep over the persisted state and removes
// stored events that have already concluded.
func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Expire stale known ids, dedup log entries and concluded events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			// Reads run the expiry sweep as a side effect.
			ids, err := store.KnownIDs()
			if err != nil {
				return fmt.Errorf("sweep known ids: %w", err)
			}
			entries, err := store.DedupLog()
			if err != nil {
				return fmt.Errorf("sweep dedup log: %w", err)
			}

			events, err := store.Events()
			if err != nil {
				return fmt.Errorf("load events: %w", err)
			}
			validator := validate.New(cfg.MaxPastWindow)
			removed := 0
			for _, e := range events {
				draft := domain.EventDraft{Name: e.Name, DateStart: e.DateStart, DateEnd: e.DateEnd}
				if validator.Validate(&draft) {
					continue
				}
				if err := store.DeleteEvent(e.UniqueKey); err != nil {
					return fmt.Errorf("delete event %s: %w", e.UniqueKey, err)
				}
				removed++
			}

			fmt.Fprintf(cmd.OutOrStdout(), "retained: %d known ids, %d dedup entries, %d events (%d removed)\n",
				len(ids), len(entries), len(events)-removed, removed)
			return nil
		},
	}
}

// newExportCmd renders the stored events as an iCalendar feed.
func newExportCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored events as an iCalendar (.ics) feed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			events, err := store.Events()
			if err != nil {
				return fmt.Errorf("load events: %w", err)
			}

			serialized := buildCalendar(events).Serialize()
			if outPath == "" {
				fmt.Fprint(cmd.OutOrStdout(), serialized)
				return nil
			}
			if err := os.WriteFile(outPath, []byte(serialized), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", outPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d events to %s\n", len(events), outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "output file (default stdout)")
	return cmd
}

func openStore(cfg *config.Config) (storage.Store, error) {
	store, err := storage.NewStore(cfg.StorageType, cfg.BBoltPath, storage.Options{
		KnownIDTTL:      cfg.KnownIDTTL,
		DedupWindow:     cfg.DedupWindow,
		CleanupInterval: cfg.StorageCleanupInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return store, nil
}

func buildCalendar(events []domain.AcceptedEvent) *ics.Calendar {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//afisha-ingest//event feed//EN")

	now := time.Now().UTC()
	for _, e := range events {
		if e.DateStart == nil {
			continue
		}
		ev := cal.AddEvent(e.UniqueKey + "@afisha-ingest")
		ev.SetDtStampTime(now)
		ev.SetStartAt(e.DateStart.UTC())
		if e.DateEnd != nil {
			ev.SetEndAt(e.DateEnd.UTC())
		}
		ev.SetSummary(e.Name)
		if e.Location != "" {
			ev.SetLocation(e.Location)
		}
		if e.Description != "" {
			ev.SetDescription(e.Description)
		}
		if u := e.FirstLink("https://"); u != "" {
			ev.SetURL(u)
		}
	}
	return cal
}
