package sources

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleSourcesYAML = `
sources:
  - id: kudago-spb
    name: Events API SPb
    type: kudago
    source_url: https://example.com/public-api/v1.4/events/
    city: spb
    config:
      location: spb
  - id: tg-afisha-spb
    name: Afisha channel
    type: telegram
    source_url: https://t.me/s/afisha_spb
    city: spb
    fuzzy_dedup: true
    request_delay_ms: 1000
`

func writeSourcesFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write sources file: %v", err)
	}
	return path
}

func TestLoadRegistryYAML(t *testing.T) {
	reg, err := LoadRegistry(writeSourcesFile(t, "sources.yaml", sampleSourcesYAML))
	if err != nil {
		t.Fatalf("LoadRegistry returned error: %v", err)
	}
	if got := len(reg.All()); got != 2 {
		t.Fatalf("expected 2 sources, got %d", got)
	}

	src, ok := reg.ByID("tg-afisha-spb")
	if !ok {
		t.Fatal("expected tg-afisha-spb to be loaded")
	}
	if !src.FuzzyDedup {
		t.Error("expected fuzzy_dedup to be set")
	}
	if src.RequestDelay().Milliseconds() != 1000 {
		t.Errorf("expected 1000ms delay, got %v", src.RequestDelay())
	}

	kg, _ := reg.ByID("kudago-spb")
	if kg.RequestDelay().Milliseconds() != int64(defaultRequestDelayMs) {
		t.Errorf("expected default delay, got %v", kg.RequestDelay())
	}
}

func TestLoadRegistryRejectsDuplicates(t *testing.T) {
	const dup = `
sources:
  - {id: a, name: A, type: kudago, source_url: "https://example.com"}
  - {id: a, name: B, type: vk, source_url: "https://example.com"}
`
	if _, err := LoadRegistry(writeSourcesFile(t, "sources.yaml", dup)); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestLoadRegistryRejectsMissingFields(t *testing.T) {
	const broken = `
sources:
  - {id: a, name: A, type: kudago}
`
	if _, err := LoadRegistry(writeSourcesFile(t, "sources.yaml", broken)); err == nil {
		t.Fatal("expected validation error for missing source_url")
	}
}

func TestAdapterRegistryResolvesByTypeAndID(t *testing.T) {
	kudago := NewKudaGoAdapter(&fakeHTTPClient{})
	override := NewVKAdapter(&fakeHTTPClient{})
	reg := NewAdapterRegistry(map[string]Adapter{TypeKudaGo: kudago}, map[string]Adapter{"special": override})

	a, err := reg.AdapterFor(Source{ID: "kudago-spb", Type: TypeKudaGo})
	if err != nil {
		t.Fatalf("AdapterFor returned error: %v", err)
	}
	if a.Type() != TypeKudaGo {
		t.Errorf("expected kudago adapter, got %s", a.Type())
	}

	a, err = reg.AdapterFor(Source{ID: "special", Type: TypeKudaGo})
	if err != nil {
		t.Fatalf("AdapterFor returned error: %v", err)
	}
	if a.Type() != TypeVK {
		t.Error("expected id override to win over type match")
	}

	if _, err := reg.AdapterFor(Source{ID: "x", Type: "unknown"}); err == nil {
		t.Fatal("expected error for unregistered type")
	}
}

func TestDefaultAdapterRegistryCoversAllTypes(t *testing.T) {
	reg := DefaultAdapterRegistry(&fakeHTTPClient{})
	for _, typ := range []string{TypeKudaGo, TypeTimepad, TypeTelegram, TypeVK} {
		if _, err := reg.AdapterFor(Source{ID: "s", Type: typ}); err != nil {
			t.Errorf("expected adapter for %s: %v", typ, err)
		}
	}
}
