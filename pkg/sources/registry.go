package sources

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/afisha-hq/afisha-ingest/pkg/httpclient"
)

// adapterRegistry implements AdapterRegistry.
type adapterRegistry struct {
	adaptersByID   map[string]Adapter
	adaptersByType map[string]Adapter
	mu             sync.RWMutex
}

// NewAdapterRegistry builds a registry with type-based adapters and optional
// source-specific overrides keyed by source id.
func NewAdapterRegistry(typeAdapters map[string]Adapter, overrides map[string]Adapter) AdapterRegistry {
	reg := &adapterRegistry{
		adaptersByID:   make(map[string]Adapter),
		adaptersByType: make(map[string]Adapter),
	}
	for typ, a := range typeAdapters {
		reg.register(reg.adaptersByType, typ, a)
	}
	for id, a := range overrides {
		reg.register(reg.adaptersByID, id, a)
	}
	return reg
}

func (r *adapterRegistry) register(dst map[string]Adapter, key string, a Adapter) {
	if a == nil {
		return
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return
	}
	r.mu.Lock()
	dst[key] = a
	r.mu.Unlock()
}

// AdapterFor selects the adapter for the given source based on its id or type.
func (r *adapterRegistry) AdapterFor(cfg Source) (Adapter, error) {
	if r == nil {
		return nil, fmt.Errorf("adapter registry is nil")
	}
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, fmt.Errorf("source id is empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if a, ok := r.adaptersByID[strings.ToLower(strings.TrimSpace(cfg.ID))]; ok {
		return a, nil
	}
	typeKey := strings.ToLower(strings.TrimSpace(cfg.Type))
	if typeKey != "" {
		if a, ok := r.adaptersByType[typeKey]; ok {
			return a, nil
		}
	}

	return nil, fmt.Errorf("no adapter registered for source %q (type %q)", cfg.ID, cfg.Type)
}

// DefaultHTTPClient returns a tuned HTTP client for source adapters.
func DefaultHTTPClient() HTTPClient { return httpclient.NewRestyClient(15 * time.Second) }

// Supported adapter types.
const (
	TypeKudaGo   = "kudago"
	TypeTimepad  = "timepad"
	TypeTelegram = "telegram"
	TypeVK       = "vk"
)

// DefaultAdapterRegistry wires up the known connector adapters.
func DefaultAdapterRegistry(client HTTPClient) AdapterRegistry {
	if client == nil {
		client = DefaultHTTPClient()
	}

	typeAdapters := map[string]Adapter{
		TypeKudaGo:   NewKudaGoAdapter(client),
		TypeTimepad:  NewTimepadAdapter(client),
		TypeTelegram: NewTelegramAdapter(client),
		TypeVK:       NewVKAdapter(client),
	}

	return NewAdapterRegistry(typeAdapters, nil)
}
