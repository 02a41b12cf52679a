package models

// EventTypeDiagnosticsPublished is the event type emitted on every publish.
const EventTypeDiagnosticsPublished = "editor.diagnostics.published"

// DiagnosticsPublished is emitted whenever the diagnostic set of a document is
// replaced. An empty Diagnostics slice clears the document.
type DiagnosticsPublished struct {
	EventID     string       `json:"eventId"`
	EventType   string       `json:"eventType"`
	Principal   string       `json:"principal,omitempty"`
	URI         string       `json:"uri"`
	Version     int32        `json:"version"`
	Sequence    uint64       `json:"sequence"`
	Diagnostics []Diagnostic `json:"diagnostics"`
	Timestamp   int64        `json:"timestamp"`
}
