package models

// SyntaxOutcome is the result of a syntax check. When Valid is false the
// position fields describe the error; all positions are zero-indexed.
type SyntaxOutcome struct {
	Valid     bool   `json:"valid"`
	Line      int    `json:"line,omitempty"`
	Column    int    `json:"column,omitempty"`
	EndLine   *int   `json:"end_line,omitempty"`
	EndColumn *int   `json:"end_column,omitempty"`
	Message   string `json:"message,omitempty"`
}

// SyntaxValid is the outcome for a document that parsed cleanly.
func SyntaxValid() SyntaxOutcome {
	return SyntaxOutcome{Valid: true}
}

// SyntaxError builds an outcome without an end position.
func SyntaxError(line, column int, message string) SyntaxOutcome {
	return SyntaxOutcome{Line: line, Column: column, Message: message}
}

// SyntaxErrorRange builds an outcome with an explicit end position.
func SyntaxErrorRange(line, column, endLine, endColumn int, message string) SyntaxOutcome {
	return SyntaxOutcome{
		Line:      line,
		Column:    column,
		EndLine:   &endLine,
		EndColumn: &endColumn,
		Message:   message,
	}
}

// SchemaError is one schema violation located by a JSON pointer into the
// document's data model.
type SchemaError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// SchemaOutcome is the result of evaluating a document against a schema.
type SchemaOutcome struct {
	Valid  bool          `json:"valid"`
	Errors []SchemaError `json:"errors"`
}

// SchemaValid is the outcome for a document that satisfies its schema.
func SchemaValid() SchemaOutcome {
	return SchemaOutcome{Valid: true}
}

// SchemaInvalid builds a failing outcome from the given errors.
func SchemaInvalid(errs ...SchemaError) SchemaOutcome {
	return SchemaOutcome{Errors: errs}
}
