package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"tomlkit-schema-service/internal/catalog"
	"tomlkit-schema-service/internal/config"
	"tomlkit-schema-service/internal/editor"
	"tomlkit-schema-service/internal/models"
)

const testSchema = `{"type":"object","properties":{"name":{"type":"string"}}}`

func testConfig(t *testing.T, srv *httptest.Server) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Catalog.URL = srv.URL + "/catalog.json"
	cfg.Catalog.RetryCooldown = 0
	cfg.Cache.Dir = t.TempDir()
	cfg.Cache.SweepInterval = time.Hour
	cfg.Observability.LogLevel = "error"
	cfg.Associations = []catalog.Entry{{URL: srv.URL + "/tool.json", FileMatch: []string{"tool.toml"}}}
	return cfg
}

func schemaServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/catalog.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"schemas":[]}`))
	})
	mux.HandleFunc("/tool.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(testSchema))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestApplication_ValidatesOpenedDocuments(t *testing.T) {
	a := New(testConfig(t, schemaServer(t)))
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}
	defer a.Shutdown()

	if !a.Ready() {
		t.Fatal("expected application to be ready after Start")
	}
	if !a.Validator.Available() {
		t.Fatal("expected the builtin validator to load")
	}

	a.Hub.Open(editor.Document{URI: "file:///proj/broken.toml", LanguageID: "toml", Version: 1, Text: "a = \n"})
	a.Hub.Open(editor.Document{URI: "file:///proj/tool.toml", LanguageID: "toml", Version: 1, Text: "name = 7\n"})
	a.Orchestrator.Wait()

	broken := a.Diagnostics.Get("file:///proj/broken.toml")
	if len(broken) != 1 || broken[0].Severity != models.SeverityError {
		t.Errorf("expected one syntax error, got %+v", broken)
	}
	tool := a.Diagnostics.Get("file:///proj/tool.toml")
	if len(tool) != 1 || tool[0].Severity != models.SeverityWarning || tool[0].Path != "/name" {
		t.Errorf("expected one schema warning, got %+v", tool)
	}

	infos, err := a.Cache.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 {
		t.Errorf("expected the association schema to be cached, got %+v", infos)
	}
}

func TestApplication_MockValidator(t *testing.T) {
	cfg := testConfig(t, schemaServer(t))
	cfg.Service.Validator = config.ValidatorMock

	a := New(cfg)
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}
	defer a.Shutdown()

	if a.Validator.Name() != config.ValidatorMock {
		t.Errorf("expected mock validator, got %s", a.Validator.Name())
	}
	a.Hub.Open(editor.Document{URI: "file:///proj/broken.toml", LanguageID: "toml", Version: 1, Text: "a = \n"})
	a.Orchestrator.Wait()
	if n := len(a.Diagnostics.Get("file:///proj/broken.toml")); n != 0 {
		t.Errorf("expected the mock validator to accept everything, got %d diagnostics", n)
	}
}

func TestApplication_SweepsOldEntriesOnStart(t *testing.T) {
	cfg := testConfig(t, schemaServer(t))
	cfg.Cache.MaxAge = 48 * time.Hour

	a := New(cfg)
	if err := a.Cache.Put(context.Background(), "https://old.test/s.json", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-72 * time.Hour)
	if err := os.Chtimes(a.Cache.Path("https://old.test/s.json"), old, old); err != nil {
		t.Fatal(err)
	}

	if err := a.Start(); err != nil {
		t.Fatal(err)
	}
	defer a.Shutdown()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(a.Cache.Path("https://old.test/s.json")); os.IsNotExist(err) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("expected the old entry to be swept")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestApplication_ShutdownClearsReadiness(t *testing.T) {
	a := New(testConfig(t, schemaServer(t)))
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}
	a.Shutdown()

	if a.Ready() {
		t.Error("expected application not to be ready after Shutdown")
	}
	if _, err := a.Orchestrator.Validate(context.Background(), editor.Document{URI: "file:///a.toml", Text: "a = 1"}); err == nil {
		t.Error("expected validation to be refused after Shutdown")
	}
}
