package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"tomlkit-schema-service/internal/editor"
	"tomlkit-schema-service/internal/schema"
	"tomlkit-schema-service/internal/service/orchestrator"
	"tomlkit-schema-service/internal/service/validator"
)

const nameSchema = `{"type":"object","properties":{"name":{"type":"string"}}}`

// localValidator validates against nameSchema with the real engine.
func localValidator() DocumentValidator {
	return orchestrator.New(
		validator.Static("builtin", schema.New()),
		fileSchema{path: "/schemas/name.json", content: []byte(nameSchema)},
		editor.NewCollection(),
		orchestrator.DefaultConfig(),
	)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func runCheck(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var schemaFlag string
	cmd := NewCheckCmd(func(schemaFile string) (DocumentValidator, error) {
		schemaFlag = schemaFile
		return localValidator(), nil
	})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.SetArgs(args)
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	err := cmd.Execute()
	return out.String(), schemaFlag, err
}

func TestCheckCmd_CleanFile(t *testing.T) {
	p := writeFile(t, t.TempDir(), "ok.toml", "name = \"demo\"\n")

	out, _, err := runCheck(t, p)
	if err != nil {
		t.Fatalf("expected no error for a clean file, got %v", err)
	}
	if out != "" {
		t.Errorf("expected no output, got %q", out)
	}
}

func TestCheckCmd_Findings(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.toml", "name = \n")
	wrong := writeFile(t, dir, "wrong.toml", "name = 3\n")

	out, _, err := runCheck(t, bad, wrong)

	var findings *FindingsDetectedError
	if !errors.As(err, &findings) {
		t.Fatalf("expected FindingsDetectedError, got %v", err)
	}
	if findings.Errors != 1 || findings.Warnings != 1 {
		t.Errorf("expected 1 error and 1 warning, got %+v", findings)
	}
	if ExitCodeFromError(err) != 2 {
		t.Errorf("expected exit code 2, got %d", ExitCodeFromError(err))
	}
	if !strings.Contains(out, bad+":1:") || !strings.Contains(out, wrong+":1:1: warning:") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "1 error(s), 1 warning(s)") {
		t.Errorf("expected a summary line, got:\n%s", out)
	}
}

func TestCheckCmd_JSON(t *testing.T) {
	p := writeFile(t, t.TempDir(), "wrong.toml", "name = false\n")

	out, schemaFlag, err := runCheck(t, "--json", "--schema", "/tmp/name.json", p)
	if err == nil {
		t.Fatal("expected findings")
	}
	if schemaFlag != "/tmp/name.json" {
		t.Errorf("expected --schema to reach the factory, got %q", schemaFlag)
	}

	var resp struct {
		Files []struct {
			File        string `json:"file"`
			Diagnostics []struct {
				Severity string `json:"severity"`
				Path     string `json:"path"`
			} `json:"diagnostics"`
		} `json:"files"`
		Summary struct {
			Errors   int `json:"errors"`
			Warnings int `json:"warnings"`
		} `json:"summary"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(resp.Files) != 1 || len(resp.Files[0].Diagnostics) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	d := resp.Files[0].Diagnostics[0]
	if d.Severity != "warning" || d.Path != "/name" || resp.Summary.Warnings != 1 {
		t.Errorf("unexpected diagnostic %+v summary %+v", d, resp.Summary)
	}
}

func TestCheckCmd_Errors(t *testing.T) {
	dir := t.TempDir()
	notToml := writeFile(t, dir, "data.json", "{}")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing file", []string{filepath.Join(dir, "absent.toml")}, "absent.toml"},
		{"not toml", []string{notToml}, "not a TOML file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runCheck(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
			if ExitCodeFromError(err) != 1 {
				t.Errorf("expected exit code 1, got %d", ExitCodeFromError(err))
			}
		})
	}
}
