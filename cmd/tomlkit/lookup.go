package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"tomlkit-schema-service/internal/resolver"
)

// LookupRunner reports which schema applies to a file.
type LookupRunner interface {
	Lookup(ctx context.Context, path string) resolver.LookupReport
}

// NoSchemaError is returned when no schema could be obtained for a file.
type NoSchemaError struct {
	File string
}

// Error implements the error interface.
func (e *NoSchemaError) Error() string {
	return fmt.Sprintf("no schema available for %s", e.File)
}

// ExitCode returns the exit code for a failed lookup (always 3).
func (e *NoSchemaError) ExitCode() int {
	return 3
}

// NewLookupCmd creates the lookup command. newRunner receives the --refresh flag.
func NewLookupCmd(newRunner func(refresh bool) (LookupRunner, error)) *cobra.Command {
	var jsonOutput, refresh bool

	cmd := &cobra.Command{
		Use:   "lookup <file>",
		Short: "Show which JSON Schema applies to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := newRunner(refresh)
			if err != nil {
				return err
			}
			report := runner.Lookup(cmd.Context(), args[0])

			if jsonOutput {
				writeJSON(cmd.OutOrStdout(), report)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), report.String())
			}
			if !report.Available {
				return &NoSchemaError{File: report.File}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Download the schema again even if the cached copy is fresh")
	return cmd
}
