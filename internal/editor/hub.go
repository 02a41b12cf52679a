package editor

import (
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"tomlkit-schema-service/internal/observability/logging"
)

// ErrUnknownDocument is returned when an event names a document that is not open.
var ErrUnknownDocument = errors.New("document is not open")

// Handler receives document events. Handlers run on the caller's goroutine
// and must not block.
type Handler func(Event)

// Source is a subscription point for document events.
type Source interface {
	Subscribe(h Handler) (unsubscribe func())
}

// Hub tracks open documents and dispatches their lifecycle events to
// subscribers. It is the in-process editor host used by the transports.
type Hub struct {
	mu       sync.RWMutex
	docs     map[string]Document
	active   string
	handlers map[int]Handler
	nextID   int
	log      zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		docs:     make(map[string]Document),
		handlers: make(map[int]Handler),
		log:      logging.WithComponent("editor"),
	}
}

// Subscribe implements Source.
func (h *Hub) Subscribe(fn Handler) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.handlers[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.handlers, id)
		h.mu.Unlock()
	}
}

// Open records doc and emits an Opened event.
func (h *Hub) Open(doc Document) {
	h.mu.Lock()
	h.docs[doc.URI] = doc
	h.mu.Unlock()
	h.emit(Event{Kind: KindOpened, Document: doc})
}

// Change replaces the text of an open document and emits a Changed event.
// Unknown documents are opened implicitly.
func (h *Hub) Change(doc Document) {
	h.mu.Lock()
	if prev, ok := h.docs[doc.URI]; ok && doc.LanguageID == "" {
		doc.LanguageID = prev.LanguageID
	}
	h.docs[doc.URI] = doc
	h.mu.Unlock()
	h.emit(Event{Kind: KindChanged, Document: doc})
}

// Activate marks an open document as the active editor and emits an
// ActiveEditorChanged event carrying its current text.
func (h *Hub) Activate(uri string) error {
	h.mu.Lock()
	doc, ok := h.docs[uri]
	if ok {
		h.active = uri
	}
	h.mu.Unlock()
	if !ok {
		return ErrUnknownDocument
	}
	h.emit(Event{Kind: KindActiveEditorChanged, Document: doc})
	return nil
}

// Close forgets a document and emits a Closed event.
func (h *Hub) Close(uri string) error {
	h.mu.Lock()
	doc, ok := h.docs[uri]
	delete(h.docs, uri)
	if h.active == uri {
		h.active = ""
	}
	h.mu.Unlock()
	if !ok {
		return ErrUnknownDocument
	}
	h.emit(Event{Kind: KindClosed, Document: doc})
	return nil
}

// Document returns the current snapshot of an open document.
func (h *Hub) Document(uri string) (Document, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	doc, ok := h.docs[uri]
	return doc, ok
}

// Active returns the active document, if any.
func (h *Hub) Active() (Document, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	doc, ok := h.docs[h.active]
	return doc, ok
}

// URIs returns the URIs of all open documents in sorted order.
func (h *Hub) URIs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.docs))
	for uri := range h.docs {
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}

func (h *Hub) emit(ev Event) {
	h.mu.RLock()
	handlers := make([]Handler, 0, len(h.handlers))
	for _, fn := range h.handlers {
		handlers = append(handlers, fn)
	}
	h.mu.RUnlock()

	h.log.Debug().
		Str("event", ev.Kind.String()).
		Str("uri", ev.Document.URI).
		Int32("version", ev.Document.Version).
		Int("subscribers", len(handlers)).
		Msg("Document event")

	for _, fn := range handlers {
		fn(ev)
	}
}
