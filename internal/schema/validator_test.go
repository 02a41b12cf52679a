package schema

import (
	"strings"
	"testing"
)

func TestValidateSyntax_Valid(t *testing.T) {
	v := New()
	out, err := v.ValidateSyntax("[package]\nname = \"test\"\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Valid {
		t.Errorf("expected valid, got %+v", out)
	}
}

func TestValidateSyntax_ReportsLineOfError(t *testing.T) {
	v := New()
	out, err := v.ValidateSyntax("[package]\nname = \n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Valid {
		t.Fatal("expected a syntax error")
	}
	if out.Message == "" {
		t.Error("expected a message")
	}
	if out.EndLine == nil || out.EndColumn == nil {
		t.Fatal("expected an explicit end position")
	}
	if *out.EndLine < out.Line || (*out.EndLine == out.Line && *out.EndColumn < out.Column) {
		t.Errorf("end (%d,%d) before start (%d,%d)", *out.EndLine, *out.EndColumn, out.Line, out.Column)
	}
}

func TestWiden(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		offset    int
		wantStart int
		wantEnd   int
	}{
		{"token start", "a = tru e", 4, 4, 7},
		{"inside token", "a = tru e", 6, 4, 7},
		{"stops at bracket", "x = [1, 2x]", 8, 8, 10},
		{"stops at comment", "k = v#c", 4, 4, 5},
		{"stops at quote", `k = "ab"x`, 8, 8, 9},
		{"equals inside token", "a = = 1", 4, 4, 5},
		{"on delimiter widens one rune", "a = ]", 4, 4, 5},
		{"end of text", "a = ", 4, 4, 4},
		{"multibyte token", "k = ééé", 6, 4, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := widen(tt.text, tt.offset)
			if start != tt.wantStart || end != tt.wantEnd {
				t.Errorf("widen(%q, %d) = (%d, %d), want (%d, %d)", tt.text, tt.offset, start, end, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestOffsetOf(t *testing.T) {
	text := "ab\ncde\nf"
	tests := []struct {
		row, col int
		want     int
	}{
		{1, 1, 0},
		{1, 3, 2},
		{2, 1, 3},
		{2, 3, 5},
		{3, 1, 7},
		{9, 1, len(text)},
		{1, 0, 0},
	}
	for _, tt := range tests {
		if got := offsetOf(text, tt.row, tt.col); got != tt.want {
			t.Errorf("offsetOf(%d, %d) = %d, want %d", tt.row, tt.col, got, tt.want)
		}
	}
}

func TestValidateSchema_EmptySchemaAcceptsDocument(t *testing.T) {
	v := New()
	out, err := v.ValidateSchema("[package]\nname = \"test\"", "{}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Valid || len(out.Errors) != 0 {
		t.Errorf("expected valid with no errors, got %+v", out)
	}
}

func TestValidateSchema_ReportsInstanceLocation(t *testing.T) {
	schema := `{
	  "type": "object",
	  "properties": {
	    "package": {
	      "type": "object",
	      "properties": {"name": {"type": "integer"}},
	      "required": ["name"]
	    }
	  }
	}`
	v := New()
	out, err := v.ValidateSchema("[package]\nname = \"test\"", schema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Valid || len(out.Errors) != 1 {
		t.Fatalf("expected one error, got %+v", out)
	}
	if out.Errors[0].Path != "/package/name" {
		t.Errorf("path = %q, want /package/name", out.Errors[0].Path)
	}
	if out.Errors[0].Message == "" {
		t.Error("expected a message")
	}
}

func TestValidateSchema_StripsExtensionKeys(t *testing.T) {
	// Without stripping, the "x-internal" property would reject a string.
	schema := `{
	  "type": "object",
	  "x-taplo": {"links": {"key": "https://example.com"}},
	  "properties": {
	    "x-internal": {"type": "integer"},
	    "name": {"type": "string"}
	  }
	}`
	v := New()
	out, err := v.ValidateSchema("x-internal = \"text\"\nname = \"a\"", schema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Valid {
		t.Errorf("expected extension keys to be ignored, got %+v", out)
	}
}

func TestValidateSchema_InvalidDocument(t *testing.T) {
	v := New()
	out, err := v.ValidateSchema("name = ", "{}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Valid || len(out.Errors) != 1 || out.Errors[0].Path != PathRoot || out.Errors[0].Message != "Invalid TOML syntax" {
		t.Errorf("unexpected outcome %+v", out)
	}
}

func TestValidateSchema_InvalidSchema(t *testing.T) {
	tests := []struct {
		name   string
		schema string
	}{
		{"not json", "{"},
		{"bad keyword value", `{"type": 12}`},
	}

	v := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := v.ValidateSchema("a = 1", tt.schema)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.Valid || len(out.Errors) != 1 || out.Errors[0].Path != PathSchema {
				t.Fatalf("unexpected outcome %+v", out)
			}
			if !strings.HasPrefix(out.Errors[0].Message, "Invalid JSON Schema: ") {
				t.Errorf("unexpected message %q", out.Errors[0].Message)
			}
		})
	}
}

func TestValidateSchema_TOMLValueTypes(t *testing.T) {
	schema := `{
	  "type": "object",
	  "properties": {
	    "when": {"type": "string"},
	    "day": {"type": "string"},
	    "n": {"type": "integer"},
	    "ratio": {"type": "number"},
	    "missing": {"type": "null"},
	    "list": {"type": "array", "items": {"type": "integer"}}
	  }
	}`
	doc := `when = 1979-05-27T07:32:00Z
day = 1979-05-27
n = 42
ratio = 0.5
missing = nan
list = [1, 2, 3]
`
	v := New()
	out, err := v.ValidateSchema(doc, schema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Valid {
		t.Errorf("expected valid, got %+v", out)
	}
}

func TestValidateSchema_ReusesCompiledSchema(t *testing.T) {
	v := New()
	for i := 0; i < 3; i++ {
		if _, err := v.ValidateSchema("a = 1", `{"type":"object"}`); err != nil {
			t.Fatal(err)
		}
	}
	v.mu.Lock()
	n := len(v.compiled)
	v.mu.Unlock()
	if n != 1 {
		t.Errorf("expected 1 compiled schema, got %d", n)
	}
}
