// Package diagnostic converts validator outcomes into positioned diagnostics.
//
// Schema errors carry a JSON pointer into the document's data model, not a
// text position. They are placed by searching the document for the pointer's
// last segment, so a diagnostic may land on an unrelated occurrence of the
// same word. The placement is approximate by construction.
package diagnostic

import (
	"strings"
	"unicode/utf8"

	"tomlkit-schema-service/internal/models"
)

// Source labels every diagnostic produced here.
const Source = "tomlkit"

// RootAnchor is the anchor of a pointer with no non-empty segments.
const RootAnchor = "root"

// MapSyntax returns one Error diagnostic for a failed syntax check and none
// for a valid document. A missing end position defaults to one character
// past the start on the same line.
func MapSyntax(outcome models.SyntaxOutcome) []models.Diagnostic {
	if outcome.Valid {
		return nil
	}

	endLine := outcome.Line
	if outcome.EndLine != nil {
		endLine = *outcome.EndLine
	}
	endCol := outcome.Column + 1
	if outcome.EndColumn != nil {
		endCol = *outcome.EndColumn
	}

	return []models.Diagnostic{{
		Range: models.Range{
			Start: models.Position{Line: outcome.Line, Character: outcome.Column},
			End:   models.Position{Line: endLine, Character: endCol},
		},
		Message:  outcome.Message,
		Severity: models.SeverityError,
		Source:   Source,
	}}
}

// MapSchema returns one Warning diagnostic per schema error, in order.
func MapSchema(outcome models.SchemaOutcome, text string) []models.Diagnostic {
	if len(outcome.Errors) == 0 {
		return nil
	}

	out := make([]models.Diagnostic, 0, len(outcome.Errors))
	for _, e := range outcome.Errors {
		out = append(out, models.Diagnostic{
			Range:    Locate(text, AnchorKey(e.Path)),
			Message:  e.Message,
			Severity: models.SeverityWarning,
			Source:   Source,
			Path:     e.Path,
		})
	}
	return out
}

// AnchorKey returns the last non-empty segment of a slash-delimited JSON
// pointer, unescaped, or RootAnchor when there is none.
func AnchorKey(pointer string) string {
	segs := strings.Split(pointer, "/")
	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i] == "" {
			continue
		}
		return unescape(segs[i])
	}
	return RootAnchor
}

// unescape decodes a JSON pointer reference token (RFC 6901).
func unescape(seg string) string {
	if !strings.Contains(seg, "~") {
		return seg
	}
	return strings.ReplaceAll(strings.ReplaceAll(seg, "~1", "/"), "~0", "~")
}

// Locate returns the range of the first occurrence of anchor in text, or the
// document's first character when anchor is RootAnchor or does not occur.
func Locate(text, anchor string) models.Range {
	idx := -1
	if anchor != RootAnchor && anchor != "" {
		idx = strings.Index(text, anchor)
	}
	if idx < 0 {
		return models.Range{
			Start: models.Position{Line: 0, Character: 0},
			End:   models.Position{Line: 0, Character: 1},
		}
	}

	start := PositionAt(text, idx)
	return models.Range{
		Start: start,
		End:   advance(start, anchor),
	}
}

// PositionAt converts a byte offset into a line and code-point column.
func PositionAt(text string, offset int) models.Position {
	if offset > len(text) {
		offset = len(text)
	}
	prefix := text[:offset]
	line := strings.Count(prefix, "\n")
	lineStart := strings.LastIndexByte(prefix, '\n') + 1
	return models.Position{
		Line:      line,
		Character: utf8.RuneCountInString(prefix[lineStart:]),
	}
}

// advance returns the position reached after writing s starting at p.
func advance(p models.Position, s string) models.Position {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return models.Position{
			Line:      p.Line + strings.Count(s, "\n"),
			Character: utf8.RuneCountInString(s[i+1:]),
		}
	}
	return models.Position{Line: p.Line, Character: p.Character + utf8.RuneCountInString(s)}
}
