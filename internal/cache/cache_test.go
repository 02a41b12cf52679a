package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestKey_RoundTripsAndIsFileSafe(t *testing.T) {
	urls := []string{
		"https://json.schemastore.org/cargo.json",
		"https://example.com/a?b=c&d=e#frag",
		"http://x/",
	}

	seen := make(map[string]string)
	for _, u := range urls {
		k := Key(u)
		if strings.ContainsAny(k, `/\:?*"<>|=`) {
			t.Errorf("key %q for %q contains unsafe characters", k, u)
		}
		back, err := KeyURL(k)
		if err != nil {
			t.Fatalf("KeyURL(%q): %v", k, err)
		}
		if back != u {
			t.Errorf("round trip: got %q, want %q", back, u)
		}
		if prev, dup := seen[k]; dup {
			t.Errorf("%q and %q share key %q", prev, u, k)
		}
		seen[k] = u
	}
}

func TestLoad_Miss(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "absent"))

	if _, err := c.Load("https://a.test/s.json"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
	if _, ok := c.Get("https://a.test/s.json"); ok {
		t.Error("expected Get to miss")
	}
}

func TestPut_CreatesRootAndStoresContent(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "schemas")
	c := New(root)
	url := "https://a.test/s.json"

	if err := c.Put(context.Background(), url, []byte(`{"type":"object"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok := c.Get(url)
	if !ok {
		t.Fatal("expected fresh hit after Put")
	}
	if string(got) != `{"type":"object"}` {
		t.Errorf("unexpected content %q", got)
	}
	if _, err := os.Stat(c.Path(url)); err != nil {
		t.Errorf("expected cache file at %s: %v", c.Path(url), err)
	}

	// A second Put replaces the entry.
	if err := c.Put(context.Background(), url, []byte(`{}`)); err != nil {
		t.Fatalf("second Put: %v", err)
	}
	got, _ = c.Get(url)
	if string(got) != `{}` {
		t.Errorf("expected replaced content, got %q", got)
	}
}

func TestPut_LeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	c := New(root)

	for i := 0; i < 3; i++ {
		if err := c.Put(context.Background(), fmt.Sprintf("https://a.test/%d.json", i), []byte("{}")); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), tempExt) {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestLoad_Freshness(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := New(root, WithClock(func() time.Time { return now }))
	url := "https://a.test/s.json"

	if err := c.Put(context.Background(), url, []byte("{}")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		age   time.Duration
		fresh bool
	}{
		{"just written", time.Minute, true},
		{"just inside window", FreshnessWindow - time.Second, true},
		{"at window", FreshnessWindow, false},
		{"days old", 72 * time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mtime := now.Add(-tt.age)
			if err := os.Chtimes(c.Path(url), mtime, mtime); err != nil {
				t.Fatal(err)
			}

			e, err := c.Load(url)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if e.Fresh != tt.fresh {
				t.Errorf("Fresh = %v, want %v", e.Fresh, tt.fresh)
			}
			if !e.FetchedAt.Equal(mtime) {
				t.Errorf("FetchedAt = %v, want %v", e.FetchedAt, mtime)
			}
			if _, ok := c.Get(url); ok != tt.fresh {
				t.Errorf("Get hit = %v, want %v", ok, tt.fresh)
			}
		})
	}
}

func TestPut_ConcurrentWritersProduceWholeFile(t *testing.T) {
	c := New(t.TempDir())
	url := "https://a.test/s.json"

	bodies := []string{
		`{"v":"` + strings.Repeat("a", 4096) + `"}`,
		`{"v":"` + strings.Repeat("b", 4096) + `"}`,
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := c.Put(context.Background(), url, []byte(bodies[i%2])); err != nil {
				t.Errorf("Put: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, ok := c.Get(url)
	if !ok {
		t.Fatal("expected a hit")
	}
	if string(got) != bodies[0] && string(got) != bodies[1] {
		t.Errorf("content is a mix of writers (%d bytes)", len(got))
	}
}

func TestPut_TwoCachesShareDirectory(t *testing.T) {
	root := t.TempDir()
	a := New(root)
	b := New(root)
	url := "https://a.test/s.json"

	var wg sync.WaitGroup
	for _, c := range []*Cache{a, b} {
		wg.Add(1)
		go func(c *Cache) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if err := c.Put(context.Background(), url, []byte("{}")); err != nil {
					t.Errorf("Put: %v", err)
				}
			}
		}(c)
	}
	wg.Wait()

	if _, ok := b.Get(url); !ok {
		t.Error("expected entry written through either cache to be visible")
	}
}

func TestSweep(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := New(root, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	oldURL := "https://a.test/old.json"
	newURL := "https://a.test/new.json"
	for _, u := range []string{oldURL, newURL} {
		if err := c.Put(ctx, u, []byte("{}")); err != nil {
			t.Fatal(err)
		}
	}
	old := now.Add(-40 * 24 * time.Hour)
	if err := os.Chtimes(c.Path(oldURL), old, old); err != nil {
		t.Fatal(err)
	}
	recent := now.Add(-time.Hour)
	if err := os.Chtimes(c.Path(newURL), recent, recent); err != nil {
		t.Fatal(err)
	}

	abandoned := filepath.Join(root, Key(newURL)+".123"+tempExt)
	if err := os.WriteFile(abandoned, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(abandoned, old, old); err != nil {
		t.Fatal(err)
	}
	unrelated := filepath.Join(root, "README")
	if err := os.WriteFile(unrelated, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(unrelated, old, old); err != nil {
		t.Fatal(err)
	}

	n, err := c.Sweep(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 files removed, got %d", n)
	}
	if _, err := c.Load(oldURL); !errors.Is(err, ErrMiss) {
		t.Errorf("expected old entry evicted, got %v", err)
	}
	if _, err := c.Load(newURL); err != nil {
		t.Errorf("expected recent entry kept, got %v", err)
	}
	if _, err := os.Stat(abandoned); !os.IsNotExist(err) {
		t.Error("expected abandoned temp file removed")
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Error("expected unrelated file kept")
	}
	if _, err := os.Stat(filepath.Join(root, lockName)); err != nil {
		t.Error("expected lock file kept")
	}
}

func TestSweep_MissingRootAndDisabled(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "absent"))

	if n, err := c.Sweep(context.Background(), time.Hour); err != nil || n != 0 {
		t.Errorf("missing root: got (%d, %v)", n, err)
	}
	if n, err := c.Sweep(context.Background(), 0); err != nil || n != 0 {
		t.Errorf("zero max age: got (%d, %v)", n, err)
	}
}

func TestList(t *testing.T) {
	c := New(t.TempDir())
	ctx := context.Background()

	if err := c.Put(ctx, "https://a.test/one.json", []byte("{}")); err != nil {
		t.Fatal(err)
	}
	if err := c.Put(ctx, "https://a.test/two.json", []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}

	infos, err := c.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(infos))
	}
	urls := map[string]int64{}
	for _, i := range infos {
		urls[i.URL] = i.Size
		if !i.Fresh {
			t.Errorf("expected %s to be fresh", i.URL)
		}
	}
	if urls["https://a.test/two.json"] != 7 {
		t.Errorf("unexpected sizes %v", urls)
	}
}
