// Package mock provides a scriptable validator for tests and for running the
// service without the real validation engine.
package mock

import (
	"sync"
	"time"

	"tomlkit-schema-service/internal/models"
)

// Validator implements validator.Validator with scripted results. The zero
// value reports every document as valid.
type Validator struct {
	// Syntax, when set, produces the syntax outcome for a text.
	Syntax func(text string) (models.SyntaxOutcome, error)
	// Schema, when set, produces the schema outcome for a text and schema.
	Schema func(text, schemaText string) (models.SchemaOutcome, error)
	// Delay is applied before every call, simulating a slow engine.
	Delay time.Duration

	mu          sync.Mutex
	syntaxCalls int
	schemaCalls int
	lastSchema  string
}

// New creates a mock validator that accepts everything.
func New() *Validator {
	return &Validator{}
}

// ValidateSyntax returns the scripted syntax outcome.
func (v *Validator) ValidateSyntax(text string) (models.SyntaxOutcome, error) {
	v.mu.Lock()
	v.syntaxCalls++
	fn, delay := v.Syntax, v.Delay
	v.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fn == nil {
		return models.SyntaxValid(), nil
	}
	return fn(text)
}

// ValidateSchema returns the scripted schema outcome.
func (v *Validator) ValidateSchema(text, schemaText string) (models.SchemaOutcome, error) {
	v.mu.Lock()
	v.schemaCalls++
	v.lastSchema = schemaText
	fn, delay := v.Schema, v.Delay
	v.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fn == nil {
		return models.SchemaValid(), nil
	}
	return fn(text, schemaText)
}

// SyntaxCalls returns the number of syntax checks performed.
func (v *Validator) SyntaxCalls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.syntaxCalls
}

// SchemaCalls returns the number of schema checks performed.
func (v *Validator) SchemaCalls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.schemaCalls
}

// LastSchema returns the schema text of the most recent schema check.
func (v *Validator) LastSchema() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastSchema
}
