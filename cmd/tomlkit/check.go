package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"tomlkit-schema-service/internal/editor"
	"tomlkit-schema-service/internal/models"
	"tomlkit-schema-service/internal/service/orchestrator"
)

// DocumentValidator validates one document and returns its diagnostics.
type DocumentValidator interface {
	Validate(ctx context.Context, doc editor.Document) (editor.Publication, error)
}

// FindingsDetectedError is returned when check reports diagnostics.
type FindingsDetectedError struct {
	Errors   int
	Warnings int
}

// Error implements the error interface.
func (e *FindingsDetectedError) Error() string {
	return fmt.Sprintf("check found %d errors, %d warnings", e.Errors, e.Warnings)
}

// ExitCode returns the exit code for findings (always 2).
func (e *FindingsDetectedError) ExitCode() int {
	return 2
}

// fileResult is the check outcome of one file.
type fileResult struct {
	File        string              `json:"file"`
	Diagnostics []models.Diagnostic `json:"diagnostics"`
}

type checkJSONResponse struct {
	Files   []fileResult `json:"files"`
	Summary struct {
		Errors   int `json:"errors"`
		Warnings int `json:"warnings"`
	} `json:"summary"`
}

// NewCheckCmd creates the check command. newValidator receives the --schema flag.
func NewCheckCmd(newValidator func(schemaFile string) (DocumentValidator, error)) *cobra.Command {
	var jsonOutput bool
	var schemaFile string

	cmd := &cobra.Command{
		Use:   "check <file>...",
		Short: "Validate TOML files against their JSON Schema",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newValidator(schemaFile)
			if err != nil {
				return err
			}

			results := make([]fileResult, 0, len(args))
			for _, path := range args {
				res, err := checkFile(cmd.Context(), v, path)
				if err != nil {
					return err
				}
				results = append(results, res)
			}
			return report(cmd.OutOrStdout(), results, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&schemaFile, "schema", "", "Validate against this local schema file instead of resolving one")
	return cmd
}

func checkFile(ctx context.Context, v DocumentValidator, path string) (fileResult, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return fileResult{}, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fileResult{}, err
	}

	// No language ID: the configured extensions decide what is checked.
	doc := editor.Document{
		URI:     "file://" + filepath.ToSlash(abs),
		Version: 1,
		Text:    string(text),
	}
	pub, err := v.Validate(ctx, doc)
	if errors.Is(err, orchestrator.ErrNotRecognized) {
		return fileResult{}, fmt.Errorf("%s: not a TOML file", path)
	}
	if err != nil {
		return fileResult{}, fmt.Errorf("%s: %w", path, err)
	}
	diags := pub.Diagnostics
	if diags == nil {
		diags = []models.Diagnostic{}
	}
	return fileResult{File: path, Diagnostics: diags}, nil
}

func report(w io.Writer, results []fileResult, jsonOutput bool) error {
	var errCount, warnCount int
	for _, r := range results {
		for _, d := range r.Diagnostics {
			if d.Severity == models.SeverityError {
				errCount++
			} else {
				warnCount++
			}
		}
	}

	if jsonOutput {
		out := checkJSONResponse{Files: results}
		out.Summary.Errors = errCount
		out.Summary.Warnings = warnCount
		writeJSON(w, out)
	} else {
		for _, r := range results {
			for _, d := range r.Diagnostics {
				fmt.Fprintf(w, "%s:%d:%d: %s: %s\n",
					r.File, d.Range.Start.Line+1, d.Range.Start.Character+1, d.Severity, d.Message)
			}
		}
		if errCount > 0 || warnCount > 0 {
			fmt.Fprintf(w, "\n%d error(s), %d warning(s)\n", errCount, warnCount)
		}
	}

	if errCount > 0 || warnCount > 0 {
		return &FindingsDetectedError{Errors: errCount, Warnings: warnCount}
	}
	return nil
}
