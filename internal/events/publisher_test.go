package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"tomlkit-schema-service/internal/editor"
	"tomlkit-schema-service/internal/models"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func enabledPublisher(w *fakeWriter) *Publisher {
	return &Publisher{
		writer:    w,
		principal: "svc-test",
		topic:     "editor.diagnostics.published",
		enabled:   true,
		now:       func() time.Time { return time.UnixMilli(1700000000000) },
		metrics:   New(nil).metrics,
	}
}

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.writer != nil {
				t.Error("expected nil writer when disabled")
			}
		})
	}
}

func TestNew_ConfigValues(t *testing.T) {
	p := New(&Config{
		Enabled:   false,
		Brokers:   []string{"localhost:9092"},
		Topic:     "test.diagnostics",
		Principal: "test-principal",
	})

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topic != "test.diagnostics" {
		t.Errorf("expected topic 'test.diagnostics', got %s", p.topic)
	}
}

func TestPublisher_Publish_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false})

	err := p.Publish(context.Background(), editor.Publication{URI: "file:///a.toml"})
	if err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_Publish_WritesEvent(t *testing.T) {
	w := &fakeWriter{}
	p := enabledPublisher(w)

	pub := editor.Publication{
		URI:      "file:///proj/Cargo.toml",
		Version:  4,
		Sequence: 9,
		Diagnostics: []models.Diagnostic{{
			Range:    models.Range{Start: models.Position{Line: 1}, End: models.Position{Line: 1, Character: 4}},
			Message:  "wrong type",
			Severity: models.SeverityWarning,
			Path:     "/package/name",
		}},
	}
	if err := p.Publish(context.Background(), pub); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != pub.URI {
		t.Errorf("expected key %q, got %q", pub.URI, msg.Key)
	}

	var ev models.DiagnosticsPublished
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if _, err := uuid.Parse(ev.EventID); err != nil {
		t.Errorf("expected a UUID event id, got %q", ev.EventID)
	}
	if ev.EventType != models.EventTypeDiagnosticsPublished || ev.Principal != "svc-test" {
		t.Errorf("unexpected envelope %+v", ev)
	}
	if ev.Version != 4 || ev.Sequence != 9 || ev.Timestamp != 1700000000000 {
		t.Errorf("unexpected fields %+v", ev)
	}
	if len(ev.Diagnostics) != 1 || ev.Diagnostics[0].Severity != models.SeverityWarning {
		t.Errorf("unexpected diagnostics %+v", ev.Diagnostics)
	}

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["eventType"] != models.EventTypeDiagnosticsPublished || headers["principal"] != "svc-test" {
		t.Errorf("unexpected headers %v", headers)
	}
}

func TestPublisher_Publish_ClearEmitsEmptyList(t *testing.T) {
	w := &fakeWriter{}
	p := enabledPublisher(w)

	if err := p.Publish(context.Background(), editor.Publication{URI: "u"}); err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(w.msgs[0].Value, &raw); err != nil {
		t.Fatal(err)
	}
	list, ok := raw["diagnostics"].([]any)
	if !ok || len(list) != 0 {
		t.Errorf("expected an empty diagnostics array, got %#v", raw["diagnostics"])
	}
}

func TestPublisher_Publish_WriteError(t *testing.T) {
	boom := errors.New("leader not available")
	p := enabledPublisher(&fakeWriter{err: boom})

	err := p.Publish(context.Background(), editor.Publication{URI: "u"})
	if !errors.Is(err, boom) {
		t.Errorf("expected write error, got %v", err)
	}
}

func TestPublisher_Close(t *testing.T) {
	if err := New(&Config{Enabled: false}).Close(); err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}

	w := &fakeWriter{}
	if err := enabledPublisher(w).Close(); err != nil {
		t.Fatal(err)
	}
	if !w.closed {
		t.Error("expected writer to be closed")
	}
}
