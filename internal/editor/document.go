// Package editor models the capabilities the validation core needs from an
// editor host: document text and identity, lifecycle events, and a sink for
// per-document diagnostics.
package editor

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Document is a snapshot of an open document.
type Document struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId,omitempty"`
	Version    int32  `json:"version"`
	Text       string `json:"text"`
}

// Path returns the file system path of a file URI, or the URI unchanged for
// any other scheme.
func (d Document) Path() string {
	if !strings.HasPrefix(d.URI, "file:") {
		return d.URI
	}
	u, err := url.Parse(d.URI)
	if err != nil || u.Path == "" {
		return d.URI
	}
	return filepath.FromSlash(u.Path)
}

// Kind identifies a document lifecycle event.
type Kind int

const (
	KindOpened Kind = iota + 1
	KindChanged
	KindActiveEditorChanged
	KindClosed
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindOpened:
		return "opened"
	case KindChanged:
		return "changed"
	case KindActiveEditorChanged:
		return "activated"
	case KindClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParseKind parses a wire name produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "opened", "open":
		return KindOpened, nil
	case "changed", "change":
		return KindChanged, nil
	case "activated", "activate":
		return KindActiveEditorChanged, nil
	case "closed", "close":
		return KindClosed, nil
	default:
		return 0, fmt.Errorf("unknown document event %q", s)
	}
}

// Event is a document lifecycle notification.
type Event struct {
	Kind     Kind
	Document Document
}
