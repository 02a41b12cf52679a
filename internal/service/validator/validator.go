// Package validator defines the contract of the syntax and schema validator
// and wraps an implementation in a load-once module.
package validator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"tomlkit-schema-service/internal/models"
	"tomlkit-schema-service/internal/observability/logging"
)

var (
	// ErrUnavailable is returned by every call on a module that failed to load.
	ErrUnavailable = errors.New("validator module unavailable")
	// ErrFault is returned when a validator call fails or panics.
	ErrFault = errors.New("validator fault")
)

// Validator checks documents. Both methods are pure: the same input always
// yields the same outcome. A returned error means the call itself failed,
// not that the document is invalid.
type Validator interface {
	// ValidateSyntax parses text and reports the first syntax error.
	ValidateSyntax(text string) (models.SyntaxOutcome, error)

	// ValidateSchema evaluates text against the JSON Schema in schemaText.
	ValidateSchema(text, schemaText string) (models.SchemaOutcome, error)
}

// Loader produces a Validator. It is called at most once per Module.
type Loader func() (Validator, error)

// Module loads a Validator on first use. A failed load is permanent: every
// later call returns ErrUnavailable without retrying.
type Module struct {
	name string
	load Loader
	once sync.Once
	impl Validator
	err  error
	log  zerolog.Logger
}

// NewModule creates a module that loads lazily through load.
func NewModule(name string, load Loader) *Module {
	return &Module{
		name: name,
		load: load,
		log:  logging.WithComponent("validator").With().Str("module", name).Logger(),
	}
}

// Static wraps an already constructed validator.
func Static(name string, v Validator) *Module {
	return NewModule(name, func() (Validator, error) { return v, nil })
}

// Name identifies the module in logs.
func (m *Module) Name() string {
	return m.name
}

// Load loads the validator if it has not been loaded yet and reports whether
// it is usable.
func (m *Module) Load() error {
	m.once.Do(func() {
		impl, err := m.safeLoad()
		if err == nil && impl == nil {
			err = errors.New("loader returned no validator")
		}
		if err != nil {
			m.err = fmt.Errorf("%w: %s: %w", ErrUnavailable, m.name, err)
			m.log.Error().Err(err).Msg("Validator module failed to load")
			return
		}
		m.impl = impl
		m.log.Info().Msg("Validator module loaded")
	})
	return m.err
}

// Available reports whether the module loaded successfully.
func (m *Module) Available() bool {
	return m.Load() == nil
}

// ValidateSyntax implements Validator.
func (m *Module) ValidateSyntax(text string) (out models.SyntaxOutcome, err error) {
	if err := m.Load(); err != nil {
		return models.SyntaxOutcome{}, err
	}
	defer recoverFault(&err, "syntax")

	out, err = m.impl.ValidateSyntax(text)
	if err != nil {
		return models.SyntaxOutcome{}, fmt.Errorf("%w: syntax: %w", ErrFault, err)
	}
	return out, nil
}

// ValidateSchema implements Validator.
func (m *Module) ValidateSchema(text, schemaText string) (out models.SchemaOutcome, err error) {
	if err := m.Load(); err != nil {
		return models.SchemaOutcome{}, err
	}
	defer recoverFault(&err, "schema")

	out, err = m.impl.ValidateSchema(text, schemaText)
	if err != nil {
		return models.SchemaOutcome{}, fmt.Errorf("%w: schema: %w", ErrFault, err)
	}
	return out, nil
}

func (m *Module) safeLoad() (v Validator, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("loader panicked: %v", r)
		}
	}()
	return m.load()
}

func recoverFault(err *error, call string) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %s: panic: %v", ErrFault, call, r)
	}
}
