// Package orchestrator runs validation for editor documents and publishes
// their diagnostics.
//
// Every trigger for a document gets a new sequence number. Tasks run
// concurrently, and a task publishes only if no newer trigger for the same
// document has started, so the published set always reflects the latest
// trigger regardless of completion order.
package orchestrator

import (
	"context"
	"errors"
	"hash/fnv"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tomlkit-schema-service/internal/diagnostic"
	"tomlkit-schema-service/internal/editor"
	"tomlkit-schema-service/internal/models"
	"tomlkit-schema-service/internal/observability/logging"
	"tomlkit-schema-service/internal/observability/metrics"
	"tomlkit-schema-service/internal/resolver"
	"tomlkit-schema-service/internal/service/document"
	"tomlkit-schema-service/internal/service/validator"
)

var (
	// ErrNotRecognized is returned by Validate for documents of another file type.
	ErrNotRecognized = errors.New("document type not recognized")
	// ErrSuperseded is returned when a newer trigger for the document started
	// before the task could publish.
	ErrSuperseded = errors.New("validation superseded by a newer trigger")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("orchestrator closed")
)

// SchemaResolver finds the schema for a file path.
type SchemaResolver interface {
	Resolve(ctx context.Context, path string) (resolver.Schema, bool)
}

// Config defines which documents are validated and how long a task may run.
type Config struct {
	LanguageIDs []string
	Extensions  []string
	TaskTimeout time.Duration
	// Downstream sinks receive every committed publication after the
	// document's publish lock is released. Slow sinks here never hold up
	// other documents.
	Downstream []editor.Sink
}

// DefaultConfig recognizes TOML documents.
func DefaultConfig() Config {
	return Config{
		LanguageIDs: []string{"toml"},
		Extensions:  []string{".toml"},
		TaskTimeout: 30 * time.Second,
	}
}

const lockStripes = 64

// Orchestrator validates documents on editor events.
type Orchestrator struct {
	module   *validator.Module
	resolver SchemaResolver
	sink       editor.Sink
	downstream editor.Sinks
	seq        *document.Sequencer

	languages  map[string]struct{}
	extensions map[string]struct{}
	timeout    time.Duration

	// publishLocks make "is latest" and the primary publish atomic per document.
	publishLocks [lockStripes]sync.Mutex

	mu           sync.Mutex
	closed       bool
	unsubscribes []func()
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc

	metrics *metrics.Metrics
	log     zerolog.Logger
}

// New creates an orchestrator.
func New(module *validator.Module, res SchemaResolver, sink editor.Sink, cfg Config) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		module:     module,
		resolver:   res,
		sink:       sink,
		downstream: editor.Sinks(cfg.Downstream),
		seq:        document.NewSequencer(),
		languages:  make(map[string]struct{}),
		extensions: make(map[string]struct{}),
		timeout:    cfg.TaskTimeout,
		ctx:        ctx,
		cancel:     cancel,
		metrics:    metrics.DefaultMetrics,
		log:        logging.WithComponent("orchestrator"),
	}
	for _, id := range cfg.LanguageIDs {
		o.languages[strings.ToLower(id)] = struct{}{}
	}
	for _, ext := range cfg.Extensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		o.extensions[strings.ToLower(ext)] = struct{}{}
	}
	return o
}

// Recognizes reports whether doc is of a validated file type, by language
// ID or by file extension.
func (o *Orchestrator) Recognizes(doc editor.Document) bool {
	if _, ok := o.languages[strings.ToLower(doc.LanguageID)]; ok && doc.LanguageID != "" {
		return true
	}
	_, ok := o.extensions[strings.ToLower(filepath.Ext(doc.Path()))]
	return ok
}

// Attach subscribes the orchestrator to src until Close.
func (o *Orchestrator) Attach(src editor.Source) {
	unsubscribe := src.Subscribe(o.Handle)
	o.mu.Lock()
	o.unsubscribes = append(o.unsubscribes, unsubscribe)
	o.mu.Unlock()
}

// Handle starts the work for one editor event without blocking. Events for
// unrecognized documents are ignored and leave their diagnostics untouched.
func (o *Orchestrator) Handle(ev editor.Event) {
	doc := ev.Document
	if !o.Recognizes(doc) {
		o.log.Debug().Str("uri", doc.URI).Str("languageId", doc.LanguageID).Msg("Ignoring unrecognized document")
		return
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	// The number is taken here so trigger order, not scheduling, decides which task is latest.
	seq := o.seq.Next(doc.URI)
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		ctx, cancel := o.taskContext(o.ctx)
		defer cancel()

		if ev.Kind == editor.KindClosed {
			o.clear(ctx, doc, seq)
			return
		}
		_, _ = o.run(ctx, doc, seq)
	}()
}

// Validate runs one validation for doc on the caller's goroutine and returns
// what was published.
func (o *Orchestrator) Validate(ctx context.Context, doc editor.Document) (editor.Publication, error) {
	if !o.Recognizes(doc) {
		return editor.Publication{}, ErrNotRecognized
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return editor.Publication{}, ErrClosed
	}
	seq := o.seq.Next(doc.URI)
	o.mu.Unlock()

	ctx, cancel := o.taskContext(ctx)
	defer cancel()
	return o.run(ctx, doc, seq)
}

// Sequence returns the latest trigger number issued for uri. Closed
// documents have none.
func (o *Orchestrator) Sequence(uri string) (uint64, bool) {
	return o.seq.Latest(uri)
}

// Wait blocks until every task started by Handle has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close unsubscribes from all sources, cancels in-flight tasks and waits for
// them. Cancelled tasks publish nothing.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	unsubscribes := o.unsubscribes
	o.unsubscribes = nil
	o.mu.Unlock()

	for _, fn := range unsubscribes {
		fn()
	}
	o.cancel()
	o.wg.Wait()
	o.log.Info().Msg("Orchestrator closed")
}

func (o *Orchestrator) taskContext(parent context.Context) (context.Context, context.CancelFunc) {
	if o.timeout > 0 {
		return context.WithTimeout(parent, o.timeout)
	}
	return context.WithCancel(parent)
}

// run executes one validation task.
func (o *Orchestrator) run(ctx context.Context, doc editor.Document, seq uint64) (editor.Publication, error) {
	lc := document.NewLifecycle(doc.URI, seq)
	log := logging.WithDocument(doc.URI, seq)

	if err := o.module.Load(); err != nil {
		lc.Abandon()
		o.metrics.RecordValidationSkipped("unavailable")
		log.Debug().Err(err).Msg("Validator unavailable, skipping")
		return editor.Publication{}, err
	}

	start := time.Now()
	o.metrics.RecordValidationStart()
	outcome := "published"
	defer func() {
		o.metrics.RecordValidationEnd(outcome, time.Since(start).Seconds())
	}()

	_ = lc.BeginSyntax()
	syn, err := o.module.ValidateSyntax(doc.Text)
	if err != nil {
		lc.Abandon()
		outcome = "fault"
		log.Error().Err(err).Msg("Syntax validation failed, keeping previous diagnostics")
		return editor.Publication{}, err
	}
	diags := diagnostic.MapSyntax(syn)

	if syn.Valid {
		if !o.seq.IsLatest(doc.URI, seq) {
			lc.Abandon()
			outcome = "superseded"
			log.Debug().Msg("Superseded before schema check")
			return editor.Publication{}, ErrSuperseded
		}

		_ = lc.BeginSchema()
		schemaDiags, err := o.checkSchema(ctx, doc, log)
		if err != nil {
			lc.Abandon()
			outcome = "fault"
			log.Error().Err(err).Msg("Schema validation failed, keeping previous diagnostics")
			return editor.Publication{}, err
		}
		diags = append(diags, schemaDiags...)
	}

	pub := editor.Publication{
		URI:         doc.URI,
		Version:     doc.Version,
		Sequence:    seq,
		Diagnostics: diags,
	}
	if err := o.publish(ctx, pub); err != nil {
		lc.Abandon()
		if errors.Is(err, ErrSuperseded) {
			outcome = "superseded"
			log.Debug().Msg("Superseded, discarding diagnostics")
		} else {
			outcome = "cancelled"
			log.Debug().Err(err).Msg("Task cancelled before publishing")
		}
		return pub, err
	}

	_ = lc.Finish()
	log.Debug().
		Int32("version", doc.Version).
		Int("diagnostics", len(diags)).
		Str("state", lc.State().String()).
		Msg("Diagnostics published")
	return pub, nil
}

// checkSchema resolves the document's schema and evaluates it. A document
// without a schema has no schema diagnostics.
func (o *Orchestrator) checkSchema(ctx context.Context, doc editor.Document, log zerolog.Logger) ([]models.Diagnostic, error) {
	s, ok := o.resolver.Resolve(ctx, doc.Path())
	if !ok {
		log.Debug().Msg("No schema for document")
		return nil, nil
	}

	out, err := o.module.ValidateSchema(doc.Text, string(s.Content))
	if err != nil {
		return nil, err
	}
	return diagnostic.MapSchema(out, doc.Text), nil
}

// clear removes the diagnostics of a closed document.
func (o *Orchestrator) clear(ctx context.Context, doc editor.Document, seq uint64) {
	err := o.publish(ctx, editor.Publication{URI: doc.URI, Version: doc.Version, Sequence: seq})
	if err == nil {
		o.seq.Release(doc.URI, seq)
	}
}

// publish hands pub to the sink if its task is still the latest for the
// document, then forwards it downstream. Sink failures are logged, not
// returned: the task itself succeeded.
func (o *Orchestrator) publish(ctx context.Context, pub editor.Publication) error {
	if err := o.commit(ctx, pub); err != nil {
		return err
	}
	if len(o.downstream) > 0 {
		if err := o.downstream.Publish(ctx, pub); err != nil {
			o.log.Warn().Err(err).Str("uri", pub.URI).Uint64("sequence", pub.Sequence).Msg("Downstream diagnostics sink failed")
		}
	}
	return nil
}

// commit makes "is latest" and "publish to the primary sink" atomic per document.
func (o *Orchestrator) commit(ctx context.Context, pub editor.Publication) error {
	lock := o.lockFor(pub.URI)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if !o.seq.IsLatest(pub.URI, pub.Sequence) {
		return ErrSuperseded
	}

	if err := o.sink.Publish(ctx, pub); err != nil {
		o.log.Warn().Err(err).Str("uri", pub.URI).Msg("Diagnostics sink failed")
	}
	for _, d := range pub.Diagnostics {
		o.metrics.RecordDiagnostic(d.Severity.String())
	}
	return nil
}

func (o *Orchestrator) lockFor(uri string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(uri))
	return &o.publishLocks[h.Sum32()%lockStripes]
}
