package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"tomlkit-schema-service/internal/app"
	"tomlkit-schema-service/internal/cache"
	"tomlkit-schema-service/internal/editor"
	"tomlkit-schema-service/internal/models"
	"tomlkit-schema-service/internal/resolver"
)

// Backend is what the HTTP API needs from the application.
type Backend struct {
	Documents interface {
		Open(doc editor.Document)
		Change(doc editor.Document)
		Activate(uri string) error
		Close(uri string) error
		URIs() []string
		Active() (editor.Document, bool)
	}
	Diagnostics interface {
		Publication(uri string) (editor.Publication, bool)
		Len() int
	}
	// Sequences reports the latest validation trigger per document.
	Sequences interface {
		Sequence(uri string) (uint64, bool)
	}
	Catalog interface {
		Loaded() bool
		Reset()
	}
	Lookup interface {
		Lookup(ctx context.Context, path string) resolver.LookupReport
	}
	Cache interface {
		List() ([]cache.Info, error)
	}
	Ready func() bool
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	return NewBackendRouter(Backend{
		Documents:   application.Hub,
		Diagnostics: application.Diagnostics,
		Sequences:   application.Orchestrator,
		Catalog:     application.Catalog,
		Lookup:      application.Resolver,
		Cache:       application.Cache,
		Ready:       application.Ready,
	})
}

// NewBackendRouter constructs the router over an explicit backend.
func NewBackendRouter(b Backend) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if b.Ready != nil && !b.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/schemas/lookup", b.lookupSchema)
		r.Get("/diagnostics", b.getDiagnostics)
		r.Get("/documents", b.listDocuments)
		r.Post("/documents/{event}", b.documentEvent)
		r.Get("/cache", b.listCache)
		r.Get("/catalog", b.catalogStatus)
		r.Post("/catalog/reset", b.resetCatalog)
	})

	return r
}

type documentRequest struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int32  `json:"version"`
	Text       string `json:"text"`
}

type documentInfo struct {
	URI      string `json:"uri"`
	Active   bool   `json:"active"`
	Sequence uint64 `json:"sequence,omitempty"`
}

type documentsResponse struct {
	Documents       []documentInfo `json:"documents"`
	WithDiagnostics int            `json:"withDiagnostics"`
}

type catalogResponse struct {
	Loaded bool `json:"loaded"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (b Backend) lookupSchema(w http.ResponseWriter, r *http.Request) {
	file := r.URL.Query().Get("file")
	if file == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "file query parameter is required"})
		return
	}
	writeJSON(w, http.StatusOK, b.Lookup.Lookup(r.Context(), file))
}

func (b Backend) getDiagnostics(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "uri query parameter is required"})
		return
	}
	pub, ok := b.Diagnostics.Publication(uri)
	if !ok {
		pub = editor.Publication{URI: uri}
	}
	if pub.Diagnostics == nil {
		pub.Diagnostics = []models.Diagnostic{}
	}
	writeJSON(w, http.StatusOK, pub)
}

func (b Backend) documentEvent(w http.ResponseWriter, r *http.Request) {
	kind, err := editor.ParseKind(chi.URLParam(r, "event"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}

	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.URI == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "uri is required"})
		return
	}
	doc := editor.Document{URI: req.URI, LanguageID: req.LanguageID, Version: req.Version, Text: req.Text}

	switch kind {
	case editor.KindOpened:
		b.Documents.Open(doc)
	case editor.KindChanged:
		b.Documents.Change(doc)
	case editor.KindActiveEditorChanged:
		err = b.Documents.Activate(req.URI)
	case editor.KindClosed:
		err = b.Documents.Close(req.URI)
	}
	if errors.Is(err, editor.ErrUnknownDocument) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"uri": req.URI, "event": kind.String()})
}

func (b Backend) listDocuments(w http.ResponseWriter, _ *http.Request) {
	active, hasActive := b.Documents.Active()
	resp := documentsResponse{
		Documents:       []documentInfo{},
		WithDiagnostics: b.Diagnostics.Len(),
	}
	for _, uri := range b.Documents.URIs() {
		info := documentInfo{URI: uri, Active: hasActive && active.URI == uri}
		if b.Sequences != nil {
			info.Sequence, _ = b.Sequences.Sequence(uri)
		}
		resp.Documents = append(resp.Documents, info)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (b Backend) catalogStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, catalogResponse{Loaded: b.Catalog.Loaded()})
}

// resetCatalog drops the memoized catalog; the next resolution reloads it.
func (b Backend) resetCatalog(w http.ResponseWriter, _ *http.Request) {
	b.Catalog.Reset()
	writeJSON(w, http.StatusAccepted, catalogResponse{Loaded: b.Catalog.Loaded()})
}

func (b Backend) listCache(w http.ResponseWriter, _ *http.Request) {
	entries, err := b.Cache.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if entries == nil {
		entries = []cache.Info{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}
