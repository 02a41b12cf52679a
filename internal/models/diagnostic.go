// Package models defines the data structures shared between the validator,
// the diagnostic mapper and the publishing sinks.
package models

import (
	"fmt"
	"strings"
)

// Severity classifies a diagnostic. Values follow the editor convention where
// lower numbers are more severe.
type Severity int

const (
	SeverityError   Severity = 1
	SeverityWarning Severity = 2
)

// String returns the lowercase name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "error":
		*s = SeverityError
	case "warning":
		*s = SeverityWarning
	default:
		return fmt.Errorf("unknown severity %q", string(b))
	}
	return nil
}

// Position is a zero-indexed line and character. Characters are counted in
// Unicode code points.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a half-open span [Start, End).
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Diagnostic is a positioned message attached to a document.
type Diagnostic struct {
	Range    Range    `json:"range"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Source   string   `json:"source,omitempty"`
	// Path is the JSON pointer of the schema error the diagnostic came from.
	Path string `json:"path,omitempty"`
}
