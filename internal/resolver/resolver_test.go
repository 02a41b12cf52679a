package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tomlkit-schema-service/internal/cache"
	"tomlkit-schema-service/internal/catalog"
	"tomlkit-schema-service/internal/fetch"
)

const cargoSchema = `{"type":"object","properties":{"package":{"type":"object"}}}`

// schemaHost serves a catalog at /catalog.json and schemas under /schemas/.
type schemaHost struct {
	srv          *httptest.Server
	catalogHits  atomic.Int32
	schemaHits   atomic.Int32
	catalogFails atomic.Bool
	schemaStatus atomic.Int32
	schemaBody   atomic.Value
}

func newSchemaHost(t *testing.T) *schemaHost {
	t.Helper()
	h := &schemaHost{}
	h.schemaStatus.Store(http.StatusOK)
	h.schemaBody.Store(cargoSchema)

	mux := http.NewServeMux()
	mux.HandleFunc("/catalog.json", func(w http.ResponseWriter, r *http.Request) {
		h.catalogHits.Add(1)
		if h.catalogFails.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, `{"schemas":[
			{"name":"cargo","url":"%[1]s/schemas/cargo.json","fileMatch":["Cargo.toml"]},
			{"name":"any","url":"%[1]s/schemas/any.json","fileMatch":["*.toml"]}
		]}`, h.srv.URL)
	})
	mux.HandleFunc("/schemas/", func(w http.ResponseWriter, r *http.Request) {
		h.schemaHits.Add(1)
		if code := int(h.schemaStatus.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		_, _ = w.Write([]byte(h.schemaBody.Load().(string)))
	})
	h.srv = httptest.NewServer(mux)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *schemaHost) cargoURL() string {
	return h.srv.URL + "/schemas/cargo.json"
}

func newTestResolver(h *schemaHost, store *cache.Cache, opts ...Option) *Resolver {
	f := fetch.New(fetch.Config{Timeout: 2 * time.Second})
	cat := catalog.New(catalog.Config{URL: h.srv.URL + "/catalog.json"}, f)
	return New(cat, store, f, opts...)
}

func age(t *testing.T, store *cache.Cache, url string, d time.Duration) {
	t.Helper()
	mtime := time.Now().Add(-d)
	if err := os.Chtimes(store.Path(url), mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestResolve_DownloadsAndCaches(t *testing.T) {
	h := newSchemaHost(t)
	store := cache.New(t.TempDir())
	r := newTestResolver(h, store)

	s, ok := r.Resolve(context.Background(), "/proj/Cargo.toml")
	if !ok {
		t.Fatal("expected a schema")
	}
	if s.Origin != OriginNetwork || string(s.Content) != cargoSchema || s.URL != h.cargoURL() {
		t.Errorf("unexpected schema %+v", s)
	}
	if got, ok := store.Get(h.cargoURL()); !ok || string(got) != cargoSchema {
		t.Error("expected downloaded schema to be cached")
	}
}

func TestResolve_FreshCacheUsesNoNetwork(t *testing.T) {
	h := newSchemaHost(t)
	store := cache.New(t.TempDir())
	if err := store.Put(context.Background(), h.cargoURL(), []byte(`{"cached":true}`)); err != nil {
		t.Fatal(err)
	}
	r := newTestResolver(h, store)

	for i := 0; i < 3; i++ {
		s, ok := r.Resolve(context.Background(), "Cargo.toml")
		if !ok || s.Origin != OriginCache || string(s.Content) != `{"cached":true}` {
			t.Fatalf("call %d: unexpected result %+v ok=%v", i, s, ok)
		}
	}
	if n := h.schemaHits.Load(); n != 0 {
		t.Errorf("expected no schema downloads, got %d", n)
	}
	if n := h.catalogHits.Load(); n != 1 {
		t.Errorf("expected the catalog to be fetched once, got %d", n)
	}
}

func TestResolve_StaleEntryTriggersRefresh(t *testing.T) {
	h := newSchemaHost(t)
	store := cache.New(t.TempDir())
	if err := store.Put(context.Background(), h.cargoURL(), []byte(`{"old":true}`)); err != nil {
		t.Fatal(err)
	}
	age(t, store, h.cargoURL(), 25*time.Hour)
	r := newTestResolver(h, store)

	s, ok := r.Resolve(context.Background(), "Cargo.toml")
	if !ok || s.Origin != OriginNetwork || string(s.Content) != cargoSchema {
		t.Fatalf("expected refreshed schema, got %+v ok=%v", s, ok)
	}
	if n := h.schemaHits.Load(); n != 1 {
		t.Errorf("expected 1 refresh attempt, got %d", n)
	}
	e, err := store.Load(h.cargoURL())
	if err != nil || !e.Fresh || string(e.Content) != cargoSchema {
		t.Errorf("expected cache entry replaced and fresh, got %+v err=%v", e, err)
	}
}

func TestResolve_StaleFallbackWhenRefreshFails(t *testing.T) {
	h := newSchemaHost(t)
	h.schemaStatus.Store(http.StatusBadGateway)
	store := cache.New(t.TempDir())
	if err := store.Put(context.Background(), h.cargoURL(), []byte(`{"old":true}`)); err != nil {
		t.Fatal(err)
	}
	age(t, store, h.cargoURL(), 72*time.Hour)
	r := newTestResolver(h, store)

	s, ok := r.Resolve(context.Background(), "Cargo.toml")
	if !ok {
		t.Fatal("expected stale content rather than none")
	}
	if s.Origin != OriginStale || string(s.Content) != `{"old":true}` {
		t.Errorf("unexpected schema %+v", s)
	}
	if n := h.schemaHits.Load(); n != 1 {
		t.Errorf("expected a refresh attempt, got %d", n)
	}
}

func TestResolve_NothingAvailable(t *testing.T) {
	h := newSchemaHost(t)
	h.schemaStatus.Store(http.StatusNotFound)
	r := newTestResolver(h, cache.New(t.TempDir()))

	if _, ok := r.Resolve(context.Background(), "Cargo.toml"); ok {
		t.Error("expected no schema")
	}
}

func TestResolve_InvalidSchemaBodyIsNotCached(t *testing.T) {
	h := newSchemaHost(t)
	h.schemaBody.Store("<html>maintenance</html>")
	store := cache.New(t.TempDir())
	r := newTestResolver(h, store)

	if _, ok := r.Resolve(context.Background(), "Cargo.toml"); ok {
		t.Error("expected no schema for a non-JSON body")
	}
	if _, err := store.Load(h.cargoURL()); err != cache.ErrMiss {
		t.Errorf("expected nothing cached, got %v", err)
	}
}

func TestResolve_CatalogUnavailable(t *testing.T) {
	h := newSchemaHost(t)
	h.catalogFails.Store(true)
	r := newTestResolver(h, cache.New(t.TempDir()))

	if _, ok := r.Resolve(context.Background(), "Cargo.toml"); ok {
		t.Error("expected no schema without a catalog")
	}
	if n := h.schemaHits.Load(); n != 0 {
		t.Errorf("expected no schema download, got %d", n)
	}
}

func TestResolve_AssociationsBypassCatalog(t *testing.T) {
	h := newSchemaHost(t)
	h.catalogFails.Store(true)
	r := newTestResolver(h, cache.New(t.TempDir()), WithAssociations([]catalog.Entry{
		{URL: h.srv.URL + "/schemas/custom.json", FileMatch: []string{"app.toml"}},
	}))

	s, ok := r.Resolve(context.Background(), "/etc/app.toml")
	if !ok || s.URL != h.srv.URL+"/schemas/custom.json" {
		t.Fatalf("expected association to resolve, got %+v ok=%v", s, ok)
	}
	if n := h.catalogHits.Load(); n != 0 {
		t.Errorf("expected catalog not to be consulted, got %d hits", n)
	}
}

func TestResolve_ConcurrentCallersShareDownload(t *testing.T) {
	h := newSchemaHost(t)
	r := newTestResolver(h, cache.New(t.TempDir()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Resolve(context.Background(), "Cargo.toml"); !ok {
				t.Error("expected a schema")
			}
		}()
	}
	wg.Wait()

	// Late arrivals may be served from the cache; none download twice at once.
	if n := h.schemaHits.Load(); n < 1 || n > 8 {
		t.Errorf("unexpected download count %d", n)
	}
	if n := h.catalogHits.Load(); n != 1 {
		t.Errorf("expected one catalog fetch, got %d", n)
	}
}

// slowFetcher serves body after delay unless the request context ends first.
type slowFetcher struct {
	body  []byte
	delay time.Duration
	calls atomic.Int32
}

func (f *slowFetcher) Get(ctx context.Context, _ string) ([]byte, error) {
	f.calls.Add(1)
	select {
	case <-time.After(f.delay):
		return f.body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestFetch_CancelledWaiterLeavesSharedDownloadIntact(t *testing.T) {
	const url = "https://schemas.test/cargo.json"
	store := cache.New(t.TempDir())
	f := &slowFetcher{body: []byte(cargoSchema), delay: 200 * time.Millisecond}
	r := New(nil, store, f)

	impatient := make(chan bool, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, ok := r.Fetch(ctx, url)
		impatient <- ok
	}()
	time.Sleep(10 * time.Millisecond)

	s, ok := r.Fetch(context.Background(), url)
	if !ok || s.Origin != OriginNetwork || string(s.Content) != cargoSchema {
		t.Fatalf("expected the patient caller to get the download, got %+v ok=%v", s, ok)
	}
	if <-impatient {
		t.Error("expected the impatient caller to give up without content")
	}
	if n := f.calls.Load(); n != 1 {
		t.Errorf("expected one shared download, got %d", n)
	}
	if got, ok := store.Get(url); !ok || string(got) != cargoSchema {
		t.Error("expected the shared download to be cached")
	}
}

func TestFetch_DownloadTimeoutBoundsSharedWork(t *testing.T) {
	f := &slowFetcher{body: []byte(cargoSchema), delay: time.Second}
	r := New(nil, cache.New(t.TempDir()), f, WithDownloadTimeout(20*time.Millisecond))

	start := time.Now()
	if _, ok := r.Fetch(context.Background(), "https://schemas.test/slow.json"); ok {
		t.Fatal("expected the download to time out")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("expected the timeout to end the download, took %v", elapsed)
	}
}

// brokenStore fails every read, as an unreadable cache directory would.
type brokenStore struct {
	puts atomic.Int32
}

func (b *brokenStore) Load(string) (*cache.Entry, error) {
	return nil, fmt.Errorf("%w: permission denied", cache.ErrIO)
}

func (b *brokenStore) Put(context.Context, string, []byte) error {
	b.puts.Add(1)
	return fmt.Errorf("%w: read-only file system", cache.ErrIO)
}

func TestResolve_CacheIOErrorFallsThroughToNetwork(t *testing.T) {
	h := newSchemaHost(t)
	store := &brokenStore{}
	f := fetch.New(fetch.Config{})
	r := New(catalog.New(catalog.Config{URL: h.srv.URL + "/catalog.json"}, f), store, f)

	s, ok := r.Resolve(context.Background(), "Cargo.toml")
	if !ok || s.Origin != OriginNetwork {
		t.Fatalf("expected network schema despite cache failure, got %+v ok=%v", s, ok)
	}
	if store.puts.Load() != 1 {
		t.Errorf("expected a cache write attempt, got %d", store.puts.Load())
	}
}

func TestLookup(t *testing.T) {
	h := newSchemaHost(t)
	r := newTestResolver(h, cache.New(t.TempDir()))

	report := r.Lookup(context.Background(), "/proj/Cargo.toml")
	if !report.Matched || !report.Available || report.MatchedBy != "catalog" {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.ContentLength != len(cargoSchema) || report.Origin != OriginNetwork {
		t.Errorf("unexpected report %+v", report)
	}

	miss := r.Lookup(context.Background(), "/proj/package.json")
	if miss.Matched || miss.Available || miss.Origin != OriginNone {
		t.Errorf("expected no match, got %+v", miss)
	}
	if miss.String() != "no schema matches /proj/package.json" {
		t.Errorf("unexpected rendering %q", miss.String())
	}
}
