// Diagnostics Viewer - live view of published TOML diagnostics
// Consumes the diagnostics topic from Kafka and pushes it to browsers over WebSocket
package main

import (
	"context"
	"embed"
	"encoding/json"
	"flag"
	"io/fs"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
)

//go:embed static/*
var staticFiles embed.FS

// Position is a zero-indexed line and character.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Diagnostic is one positioned message.
type Diagnostic struct {
	Range struct {
		Start Position `json:"start"`
		End   Position `json:"end"`
	} `json:"range"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Path     string `json:"path,omitempty"`
}

// DiagnosticsEvent represents a diagnostics message from Kafka
type DiagnosticsEvent struct {
	EventID     string       `json:"eventId"`
	EventType   string       `json:"eventType"`
	URI         string       `json:"uri"`
	Version     int32        `json:"version"`
	Sequence    uint64       `json:"sequence"`
	Diagnostics []Diagnostic `json:"diagnostics"`
	Timestamp   int64        `json:"timestamp"`
}

// documents keeps the newest event per document so new clients start from
// the current state. Events with a lower sequence than the stored one are stale.
type documents struct {
	mu     sync.Mutex
	latest map[string]DiagnosticsEvent
}

func newDocuments() *documents {
	return &documents{latest: make(map[string]DiagnosticsEvent)}
}

// apply records ev and reports whether it is newer than what was stored.
func (d *documents) apply(ev DiagnosticsEvent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.latest[ev.URI]; ok && prev.Sequence >= ev.Sequence {
		return false
	}
	d.latest[ev.URI] = ev
	return true
}

// snapshot returns the documents that currently have diagnostics, by URI.
func (d *documents) snapshot() []DiagnosticsEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DiagnosticsEvent, 0, len(d.latest))
	for _, ev := range d.latest {
		if len(ev.Diagnostics) > 0 {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// Hub manages WebSocket connections
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan DiagnosticsEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	docs       *documents
	mu         sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan DiagnosticsEvent, 100),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		docs:       newDocuments(),
	}
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			for _, ev := range h.docs.snapshot() {
				if err := conn.WriteJSON(ev); err != nil {
					log.Printf("Write error: %v", err)
					break
				}
			}
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			log.Printf("Client connected. Total: %d", len(h.clients))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
			log.Printf("Client disconnected. Total: %d", len(h.clients))

		case event := <-h.broadcast:
			if !h.docs.apply(event) {
				continue
			}
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteJSON(event); err != nil {
					log.Printf("Write error: %v", err)
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local dev
	},
}

func wsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade error: %v", err)
			return
		}
		hub.register <- conn

		// Keep connection alive, handle disconnects
		go func() {
			defer func() {
				hub.unregister <- conn
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					break
				}
			}
		}()
	}
}

func consumeKafka(ctx context.Context, hub *Hub, brokers, topic string, since time.Duration) {
	// Partition reader without consumer group; the service keys by URI so a
	// single-partition topic keeps per-document order.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   strings.Split(brokers, ","),
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-since)); err != nil {
		log.Printf("Could not seek %s: %v", topic, err)
	}

	log.Printf("Consuming from Kafka topic: %s partition 0 (last %s)", topic, since)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Kafka read error on %s: %v", topic, err)
			time.Sleep(time.Second)
			continue
		}

		var event DiagnosticsEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Printf("JSON unmarshal error: %v", err)
			continue
		}

		log.Printf("Received %s: %s v%d (%d diagnostics)", event.EventType, event.URI, event.Version, len(event.Diagnostics))
		hub.broadcast <- event
	}
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "editor.diagnostics.published", "Diagnostics topic")
	since := flag.Duration("since", time.Hour, "Replay events newer than this")
	flag.Parse()

	hub := newHub()
	go hub.run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go consumeKafka(ctx, hub, *brokers, *topic, *since)

	// Serve static files
	staticFS, _ := fs.Sub(staticFiles, "static")
	http.Handle("/", http.FileServer(http.FS(staticFS)))

	// WebSocket endpoint
	http.HandleFunc("/ws", wsHandler(hub))

	log.Printf("Diagnostics Viewer starting on http://localhost:%s", *port)
	log.Printf("   Kafka brokers: %s", *brokers)
	log.Printf("   Topic: %s", *topic)

	if err := http.ListenAndServe(":"+*port, nil); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
