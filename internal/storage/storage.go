package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/afisha-hq/afisha-ingest/internal/domain"
)

// Package storage provides the durable gateway for accepted events, the
// known-id set and the rolling dedup log.

// Store is the persistence gateway consumed by the pipeline.
type Store interface {
	Close() error

	// KnownIDs returns the current set of accepted unique keys.
	KnownIDs() ([]string, error)
	// MarkID records a unique key as accepted.
	MarkID(id string) error

	// DedupLog returns the fuzzy-matching entries still inside the window.
	DedupLog() ([]domain.DedupLogEntry, error)
	// AppendDedupEntry appends one normalized projection of an accepted event.
	AppendDedupEntry(entry domain.DedupLogEntry) error

	// SaveEvent stores an accepted event under its unique key.
	SaveEvent(evt domain.AcceptedEvent) error
	// Events returns all stored events.
	Events() ([]domain.AcceptedEvent, error)
	// DeleteEvent removes a stored event by unique key.
	DeleteEvent(key string) error
}

// Options controls retention characteristics for concrete store implementations.
type Options struct {
	KnownIDTTL      time.Duration
	DedupWindow     time.Duration
	CleanupInterval time.Duration
}

const (
	defaultKnownIDTTL      = 180 * 24 * time.Hour
	defaultDedupWindow     = 30 * 24 * time.Hour
	defaultCleanupInterval = 12 * time.Hour
)

// NewStore creates the configured storage backend.
func NewStore(typ, path string, opts Options) (Store, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))
	opts = normalizeOptions(opts)

	switch typ {
	case "", "none", "disabled":
		return noopStore{}, nil
	case "bbolt":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt storage requires a path")
		}
		return openBolt(path, opts)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}

func normalizeOptions(opts Options) Options {
	if opts.KnownIDTTL <= 0 {
		opts.KnownIDTTL = defaultKnownIDTTL
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = defaultDedupWindow
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}
	return opts
}

type noopStore struct{}

func (noopStore) Close() error                                { return nil }
func (noopStore) KnownIDs() ([]string, error)                 { return nil, nil }
func (noopStore) MarkID(string) error                         { return nil }
func (noopStore) DedupLog() ([]domain.DedupLogEntry, error)   { return nil, nil }
func (noopStore) AppendDedupEntry(domain.DedupLogEntry) error { return nil }
func (noopStore) SaveEvent(domain.AcceptedEvent) error        { return nil }
func (noopStore) Events() ([]domain.AcceptedEvent, error)     { return nil, nil }
func (noopStore) DeleteEvent(string) error                    { return nil }
