package grpcapi

import (
	"tomlkit-schema-service/internal/editor"
	"tomlkit-schema-service/internal/models"
)

// DocumentRequest carries the full state of an open document.
type DocumentRequest struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int32  `json:"version"`
	Text       string `json:"text"`
}

func (r *DocumentRequest) document() editor.Document {
	return editor.Document{
		URI:        r.URI,
		LanguageID: r.LanguageID,
		Version:    r.Version,
		Text:       r.Text,
	}
}

// Target implements observability.Targeted.
func (r *DocumentRequest) Target() string { return r.URI }

// URIRequest names a document.
type URIRequest struct {
	URI string `json:"uri"`
}

// Target implements observability.Targeted.
func (r *URIRequest) Target() string { return r.URI }

// Ack acknowledges a document event.
type Ack struct {
	URI   string `json:"uri"`
	Event string `json:"event"`
}

// DiagnosticsResponse is the diagnostic set currently published for a document.
type DiagnosticsResponse struct {
	URI         string              `json:"uri"`
	Version     int32               `json:"version"`
	Sequence    uint64              `json:"sequence"`
	Diagnostics []models.Diagnostic `json:"diagnostics"`
}

func fromPublication(p editor.Publication) *DiagnosticsResponse {
	diags := p.Diagnostics
	if diags == nil {
		diags = []models.Diagnostic{}
	}
	return &DiagnosticsResponse{
		URI:         p.URI,
		Version:     p.Version,
		Sequence:    p.Sequence,
		Diagnostics: diags,
	}
}

// LookupRequest asks which schema applies to a file.
type LookupRequest struct {
	File string `json:"file"`
}

// Target implements observability.Targeted.
func (r *LookupRequest) Target() string { return r.File }

// WatchRequest filters the diagnostics stream to one document; an empty URI
// watches every document.
type WatchRequest struct {
	URI string `json:"uri,omitempty"`
}

// Target implements observability.Targeted.
func (r *WatchRequest) Target() string { return r.URI }
