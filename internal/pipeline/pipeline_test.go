package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/afisha-hq/afisha-ingest/internal/dedup"
	"github.com/afisha-hq/afisha-ingest/internal/domain"
	"github.com/afisha-hq/afisha-ingest/internal/validate"
	"github.com/afisha-hq/afisha-ingest/pkg/sinks"
	"github.com/afisha-hq/afisha-ingest/pkg/sources"
)

// fakeAdapter serves canned items per source id.
type fakeAdapter struct {
	typ   string
	items map[string][]domain.RawItem
	err   error
}

func (f *fakeAdapter) Type() string { return f.typ }
func (f *fakeAdapter) Fetch(_ context.Context, cfg sources.Source) ([]domain.RawItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.items[cfg.ID], nil
}

type fakeAdapterRegistry struct {
	adapter sources.Adapter
}

func (f *fakeAdapterRegistry) AdapterFor(sources.Source) (sources.Adapter, error) {
	return f.adapter, nil
}

// fakeExtractor maps item source ids to drafts; listed ids fail.
type fakeExtractor struct {
	drafts  map[string][]domain.EventDraft
	failIDs map[string]bool
	calls   int
}

func (f *fakeExtractor) Extract(_ context.Context, item domain.RawItem) ([]domain.EventDraft, error) {
	f.calls++
	if f.failIDs[item.SourceID] {
		return nil, fmt.Errorf("extraction failed for %s", item.SourceID)
	}
	return f.drafts[item.SourceID], nil
}

// memStore is an in-memory storage.Store.
type memStore struct {
	mu       sync.Mutex
	known    map[string]bool
	log      []domain.DedupLogEntry
	events   map[string]domain.AcceptedEvent
	saveErrs int
}

func newMemStore() *memStore {
	return &memStore{known: make(map[string]bool), events: make(map[string]domain.AcceptedEvent)}
}

func (m *memStore) Close() error { return nil }
func (m *memStore) KnownIDs() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.known))
	for k := range m.known {
		out = append(out, k)
	}
	return out, nil
}
func (m *memStore) MarkID(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.known[id] = true
	return nil
}
func (m *memStore) DedupLog() ([]domain.DedupLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.DedupLogEntry(nil), m.log...), nil
}
func (m *memStore) AppendDedupEntry(e domain.DedupLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = append(m.log, e)
	return nil
}
func (m *memStore) SaveEvent(evt domain.AcceptedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErrs > 0 {
		m.saveErrs--
		return errors.New("save failed")
	}
	m.events[evt.UniqueKey] = evt
	return nil
}
func (m *memStore) Events() ([]domain.AcceptedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.AcceptedEvent, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e)
	}
	return out, nil
}
func (m *memStore) DeleteEvent(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[key]; !ok {
		return errors.New("no such event")
	}
	delete(m.events, key)
	return nil
}

// fakeFanout records delivered events.
type fakeFanout struct {
	mu     sync.Mutex
	events []sinks.Event
	err    error
}

func (f *fakeFanout) Send(_ context.Context, evt sinks.Event) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	if f.err != nil {
		return 0, f.err
	}
	return 1, nil
}
func (f *fakeFanout) Size() int { return 1 }

func futureTime(t *testing.T, days int) *time.Time {
	t.Helper()
	ts := time.Now().UTC().AddDate(0, 0, days)
	return &ts
}

func kudagoItem(id, name string) domain.RawItem {
	return domain.RawItem{
		SourceID: id,
		Source:   domain.SourceKudaGo,
		Extra:    map[string]any{"name": name},
	}
}

func newTestPipeline(t *testing.T, adapter sources.Adapter, ex Extractor, store *memStore, fanout EventFanout) *Pipeline {
	t.Helper()
	p, err := New(Options{
		Adapters:       &fakeAdapterRegistry{adapter: adapter},
		Extractor:      ex,
		Detector:       dedup.NewDetector(nil, nil),
		Validator:      validate.New(24 * time.Hour),
		Store:          store,
		Fanout:         fanout,
		RetryAttempts:  1,
		RetryBaseDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return p
}

func TestPipelineAcceptsAndDelivers(t *testing.T) {
	adapter := &fakeAdapter{
		typ:   sources.TypeKudaGo,
		items: map[string][]domain.RawItem{"kudago-spb": {kudagoItem("1", "Jazz Concert")}},
	}
	ex := &fakeExtractor{drafts: map[string][]domain.EventDraft{
		"1": {{Name: "Jazz Concert", Location: "Blue Note Club", DateStart: futureTime(t, 3)}},
	}}
	store := newMemStore()
	fanout := &fakeFanout{}

	p := newTestPipeline(t, adapter, ex, store, fanout)
	summary, err := p.Run(context.Background(), sources.Source{ID: "kudago-spb", Name: "Events", Type: sources.TypeKudaGo})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Accepted != 1 || summary.Skipped != 0 || summary.Errored != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	events, _ := store.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 persisted event, got %d", len(events))
	}
	if len(fanout.events) != 1 {
		t.Fatalf("expected 1 delivered event, got %d", len(fanout.events))
	}
	if fanout.events[0].SourceID != "kudago-spb" {
		t.Errorf("unexpected delivery source %q", fanout.events[0].SourceID)
	}
	if len(store.log) != 1 {
		t.Errorf("expected accepted event recorded in dedup log, got %d entries", len(store.log))
	}
}

func TestPipelineSecondRunIsIdempotent(t *testing.T) {
	adapter := &fakeAdapter{
		typ:   sources.TypeKudaGo,
		items: map[string][]domain.RawItem{"kudago-spb": {kudagoItem("1", "Jazz Concert")}},
	}
	ex := &fakeExtractor{drafts: map[string][]domain.EventDraft{
		"1": {{Name: "Jazz Concert", DateStart: futureTime(t, 3)}},
	}}
	store := newMemStore()

	p := newTestPipeline(t, adapter, ex, store, &fakeFanout{})
	src := sources.Source{ID: "kudago-spb", Type: sources.TypeKudaGo}

	first, err := p.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Accepted != 1 {
		t.Fatalf("expected first run accept, got %+v", first)
	}

	second, err := p.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Accepted != 0 || second.Skipped != 1 {
		t.Fatalf("expected second run skip, got %+v", second)
	}
	if events, _ := store.Events(); len(events) != 1 {
		t.Fatalf("expected single persisted event, got %d", len(events))
	}
}

func TestPipelineIsolatesItemFailures(t *testing.T) {
	items := []domain.RawItem{
		kudagoItem("1", "A"), kudagoItem("2", "B"), kudagoItem("3", "C"),
	}
	adapter := &fakeAdapter{typ: sources.TypeKudaGo, items: map[string][]domain.RawItem{"s": items}}
	ex := &fakeExtractor{
		drafts: map[string][]domain.EventDraft{
			"1": {{Name: "A", DateStart: futureTime(t, 1)}},
			"3": {{Name: "C", DateStart: futureTime(t, 1)}},
		},
		failIDs: map[string]bool{"2": true},
	}
	store := newMemStore()

	p := newTestPipeline(t, adapter, ex, store, &fakeFanout{})
	summary, err := p.Run(context.Background(), sources.Source{ID: "s", Type: sources.TypeKudaGo})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Accepted != 2 || summary.Errored != 1 {
		t.Fatalf("expected 2 accepted 1 errored, got %+v", summary)
	}
}

func TestPipelineSkipsStaleDrafts(t *testing.T) {
	adapter := &fakeAdapter{
		typ:   sources.TypeKudaGo,
		items: map[string][]domain.RawItem{"s": {kudagoItem("1", "Old")}},
	}
	ex := &fakeExtractor{drafts: map[string][]domain.EventDraft{
		"1": {{Name: "Old", DateStart: futureTime(t, -10)}},
	}}
	store := newMemStore()

	p := newTestPipeline(t, adapter, ex, store, &fakeFanout{})
	summary, err := p.Run(context.Background(), sources.Source{ID: "s", Type: sources.TypeKudaGo})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Skipped != 1 || summary.Accepted != 0 {
		t.Fatalf("expected stale draft skipped, got %+v", summary)
	}
	if events, _ := store.Events(); len(events) != 0 {
		t.Fatal("stale draft must not be persisted")
	}
}

func TestPipelineFuzzyDuplicateAcrossSources(t *testing.T) {
	date := futureTime(t, 5)

	structured := &fakeAdapter{
		typ:   sources.TypeKudaGo,
		items: map[string][]domain.RawItem{"kudago-spb": {kudagoItem("1", "Jazz Concert")}},
	}
	structuredEx := &fakeExtractor{drafts: map[string][]domain.EventDraft{
		"1": {{Name: "Jazz Concert", Location: "Blue Note Club", DateStart: date, TimeText: "19:00"}},
	}}
	store := newMemStore()

	p := newTestPipeline(t, structured, structuredEx, store, &fakeFanout{})
	if _, err := p.Run(context.Background(), sources.Source{ID: "kudago-spb", Type: sources.TypeKudaGo}); err != nil {
		t.Fatalf("structured run: %v", err)
	}

	// Same detector, new source: a channel post announcing the same event.
	telegram := &fakeAdapter{
		typ: sources.TypeTelegram,
		items: map[string][]domain.RawItem{"tg-afisha": {{
			SourceID: "101",
			Source:   domain.SourceTelegram,
			Channel:  "afisha_spb",
			Text:     "Jazz concert at Blue Note!",
		}}},
	}
	telegramEx := &fakeExtractor{drafts: map[string][]domain.EventDraft{
		"101": {{Name: "Jazz Concert!", Location: "Blue Note Club", DateStart: date, TimeText: "19:00"}},
	}}
	p2, err := New(Options{
		Adapters:       &fakeAdapterRegistry{adapter: telegram},
		Extractor:      telegramEx,
		Detector:       p.detector,
		Validator:      validate.New(24 * time.Hour),
		Store:          store,
		Fanout:         &fakeFanout{},
		RetryAttempts:  1,
		RetryBaseDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	summary, err := p2.Run(context.Background(), sources.Source{ID: "tg-afisha", Type: sources.TypeTelegram, FuzzyDedup: true})
	if err != nil {
		t.Fatalf("telegram run: %v", err)
	}
	if summary.Accepted != 0 || summary.Skipped != 1 {
		t.Fatalf("expected fuzzy duplicate skip, got %+v", summary)
	}
	if events, _ := store.Events(); len(events) != 1 {
		t.Fatalf("expected only the structured event persisted, got %d", len(events))
	}
}

func TestPipelineEmptyExtractionMarksItemSeen(t *testing.T) {
	adapter := &fakeAdapter{
		typ: sources.TypeTelegram,
		items: map[string][]domain.RawItem{"tg": {{
			SourceID: "200",
			Source:   domain.SourceTelegram,
			Channel:  "ch",
			Text:     "no events in this post",
		}}},
	}
	ex := &fakeExtractor{}
	store := newMemStore()

	p := newTestPipeline(t, adapter, ex, store, &fakeFanout{})
	src := sources.Source{ID: "tg", Type: sources.TypeTelegram}

	if _, err := p.Run(context.Background(), src); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if ex.calls != 1 {
		t.Fatalf("expected one extraction call, got %d", ex.calls)
	}

	if _, err := p.Run(context.Background(), src); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if ex.calls != 1 {
		t.Fatalf("expected no re-extraction of a seen item, got %d calls", ex.calls)
	}
}

func TestPipelineSaveFailureAllowsRetryNextRun(t *testing.T) {
	date := futureTime(t, 5)
	adapter := &fakeAdapter{
		typ: sources.TypeTelegram,
		items: map[string][]domain.RawItem{"tg": {{
			SourceID: "300",
			Source:   domain.SourceTelegram,
			Channel:  "ch",
			Text:     "Jazz concert on Friday",
		}}},
	}
	ex := &fakeExtractor{drafts: map[string][]domain.EventDraft{
		"300": {{Name: "Jazz Concert", Location: "Blue Note Club", DateStart: date, TimeText: "19:00"}},
	}}
	store := newMemStore()
	store.saveErrs = 1

	p := newTestPipeline(t, adapter, ex, store, &fakeFanout{})
	src := sources.Source{ID: "tg", Type: sources.TypeTelegram, FuzzyDedup: true}

	first, err := p.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Errored != 1 || first.Accepted != 0 {
		t.Fatalf("expected save failure counted as errored, got %+v", first)
	}
	if len(store.log) != 0 {
		t.Fatalf("failed acceptance must not enter the persisted dedup log, got %d entries", len(store.log))
	}

	// The event must not be treated as a fuzzy duplicate of its own failed
	// acceptance once the store recovers.
	second, err := p.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Accepted != 1 {
		t.Fatalf("expected the event accepted on retry, got %+v", second)
	}
	if events, _ := store.Events(); len(events) != 1 {
		t.Fatalf("expected the event persisted on retry, got %d", len(events))
	}
	if len(store.log) != 1 {
		t.Fatalf("expected one dedup log entry after the successful retry, got %d", len(store.log))
	}
}

func TestPipelineDeliveryFailureKeepsAccept(t *testing.T) {
	adapter := &fakeAdapter{
		typ:   sources.TypeKudaGo,
		items: map[string][]domain.RawItem{"s": {kudagoItem("1", "Jazz Concert")}},
	}
	ex := &fakeExtractor{drafts: map[string][]domain.EventDraft{
		"1": {{Name: "Jazz Concert", DateStart: futureTime(t, 1)}},
	}}
	store := newMemStore()
	fanout := &fakeFanout{err: errors.New("sink down")}

	p := newTestPipeline(t, adapter, ex, store, fanout)
	summary, err := p.Run(context.Background(), sources.Source{ID: "s", Type: sources.TypeKudaGo})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Accepted != 1 {
		t.Fatalf("expected accept despite sink failure, got %+v", summary)
	}
	if events, _ := store.Events(); len(events) != 1 {
		t.Fatal("expected event persisted despite sink failure")
	}
}

func TestRunAllAggregatesSummaries(t *testing.T) {
	adapter := &fakeAdapter{
		typ: sources.TypeKudaGo,
		items: map[string][]domain.RawItem{
			"a": {kudagoItem("1", "A")},
			"b": {kudagoItem("2", "B")},
		},
	}
	ex := &fakeExtractor{drafts: map[string][]domain.EventDraft{
		"1": {{Name: "A", DateStart: futureTime(t, 1)}},
		"2": {{Name: "B", DateStart: futureTime(t, 1)}},
	}}
	store := newMemStore()

	p := newTestPipeline(t, adapter, ex, store, &fakeFanout{})
	summary, err := p.RunAll(context.Background(), []sources.Source{
		{ID: "a", Type: sources.TypeKudaGo},
		{ID: "b", Type: sources.TypeKudaGo},
	})
	if err != nil {
		t.Fatalf("RunAll returned error: %v", err)
	}
	if summary.Accepted != 2 {
		t.Fatalf("expected 2 accepted across sources, got %+v", summary)
	}
}
