// Package schema is the validation engine: it parses TOML documents and
// evaluates them against JSON Schemas.
package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/pelletier/go-toml/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"tomlkit-schema-service/internal/diagnostic"
	"tomlkit-schema-service/internal/models"
	"tomlkit-schema-service/internal/service/validator"
)

const (
	// PathSchema locates errors in the schema itself.
	PathSchema = "schema"
	// PathRoot locates errors that apply to the whole document.
	PathRoot = "root"

	resourceName  = "tomlkit://schema.json"
	maxCompiled   = 32
	invalidSyntax = "Invalid TOML syntax"
)

var _ validator.Validator = (*Validator)(nil)

// Validator checks TOML syntax with go-toml and schema conformance with
// jsonschema. Compiled schemas are reused across calls.
type Validator struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

// New creates a validator.
func New() *Validator {
	return &Validator{compiled: make(map[string]*jsonschema.Schema)}
}

// Load is a validator.Loader for the engine.
func Load() (validator.Validator, error) {
	return New(), nil
}

// ValidateSyntax parses text as TOML. On failure the reported range covers
// the token around the parser's error position.
func (v *Validator) ValidateSyntax(text string) (models.SyntaxOutcome, error) {
	var doc map[string]any
	err := toml.Unmarshal([]byte(text), &doc)
	if err == nil {
		return models.SyntaxValid(), nil
	}

	var de *toml.DecodeError
	if !errors.As(err, &de) {
		return models.SyntaxError(0, 0, err.Error()), nil
	}

	row, col := de.Position()
	start, end := widen(text, offsetOf(text, row, col))
	s := diagnostic.PositionAt(text, start)
	e := diagnostic.PositionAt(text, end)
	return models.SyntaxErrorRange(s.Line, s.Character, e.Line, e.Character, de.Error()), nil
}

// ValidateSchema evaluates text against schemaText. Vendor extension keys
// ("x-…") are removed from the schema before it is compiled.
func (v *Validator) ValidateSchema(text, schemaText string) (models.SchemaOutcome, error) {
	var doc map[string]any
	if err := toml.Unmarshal([]byte(text), &doc); err != nil {
		return models.SchemaInvalid(models.SchemaError{Path: PathRoot, Message: invalidSyntax}), nil
	}

	sch, err := v.compile(schemaText)
	if err != nil {
		return models.SchemaInvalid(models.SchemaError{
			Path:    PathSchema,
			Message: fmt.Sprintf("Invalid JSON Schema: %v", err),
		}), nil
	}

	instance, err := toInstance(doc)
	if err != nil {
		return models.SchemaOutcome{}, fmt.Errorf("converting document: %w", err)
	}

	err = sch.Validate(instance)
	if err == nil {
		return models.SchemaValid(), nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return models.SchemaOutcome{}, err
	}
	return models.SchemaInvalid(leaves(ve, nil)...), nil
}

func (v *Validator) compile(schemaText string) (*jsonschema.Schema, error) {
	v.mu.Lock()
	if s, ok := v.compiled[schemaText]; ok {
		v.mu.Unlock()
		return s, nil
	}
	v.mu.Unlock()

	var raw any
	if err := json.Unmarshal([]byte(schemaText), &raw); err != nil {
		return nil, err
	}
	clean, err := json.Marshal(stripExtensions(raw))
	if err != nil {
		return nil, err
	}

	c := jsonschema.NewCompiler()
	c.LoadURL = func(u string) (io.ReadCloser, error) {
		return nil, fmt.Errorf("external reference %s not loaded", u)
	}
	if err := c.AddResource(resourceName, bytes.NewReader(clean)); err != nil {
		return nil, err
	}
	s, err := c.Compile(resourceName)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	if len(v.compiled) >= maxCompiled {
		for k := range v.compiled {
			delete(v.compiled, k)
			break
		}
	}
	v.compiled[schemaText] = s
	v.mu.Unlock()
	return s, nil
}

// stripExtensions removes every object key starting with "x-", recursively.
func stripExtensions(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if strings.HasPrefix(k, "x-") {
				delete(t, k)
				continue
			}
			t[k] = stripExtensions(val)
		}
	case []any:
		for i, val := range t {
			t[i] = stripExtensions(val)
		}
	}
	return v
}

// toInstance converts a decoded TOML document into the value model the
// schema evaluator expects.
func toInstance(doc map[string]any) (any, error) {
	b, err := json.Marshal(normalize(doc))
	if err != nil {
		return nil, err
	}
	d := json.NewDecoder(bytes.NewReader(b))
	d.UseNumber()
	var out any
	if err := d.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// normalize replaces values JSON cannot represent. Non-finite floats become
// null and date-times become RFC 3339 strings.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
	case []any:
		for i, val := range t {
			t[i] = normalize(val)
		}
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
	case time.Time:
		return t.Format(time.RFC3339Nano)
	}
	return v
}

func leaves(ve *jsonschema.ValidationError, out []models.SchemaError) []models.SchemaError {
	if len(ve.Causes) == 0 {
		return append(out, models.SchemaError{Path: ve.InstanceLocation, Message: ve.Message})
	}
	for _, c := range ve.Causes {
		out = leaves(c, out)
	}
	return out
}

// offsetOf converts go-toml's one-based row and byte column to a byte offset.
func offsetOf(text string, row, col int) int {
	off := 0
	for r := 1; r < row; r++ {
		i := strings.IndexByte(text[off:], '\n')
		if i < 0 {
			return len(text)
		}
		off += i + 1
	}
	off += col - 1
	if off < 0 {
		return 0
	}
	if off > len(text) {
		return len(text)
	}
	return off
}

// widen expands an error offset to the surrounding token.
func widen(text string, offset int) (int, int) {
	start, end := offset, offset
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:start])
		if unicode.IsSpace(r) || strings.ContainsRune(`=[{,"'`, r) {
			break
		}
		start -= size
	}
	for end < len(text) {
		r, size := utf8.DecodeRuneInString(text[end:])
		if unicode.IsSpace(r) || strings.ContainsRune(`#]},"'`, r) {
			break
		}
		end += size
	}
	if end == start && end < len(text) {
		_, size := utf8.DecodeRuneInString(text[end:])
		end += size
	}
	return start, end
}
