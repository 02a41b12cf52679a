package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"tomlkit-schema-service/internal/cache"
	"tomlkit-schema-service/internal/catalog"
	"tomlkit-schema-service/internal/config"
	"tomlkit-schema-service/internal/editor"
	"tomlkit-schema-service/internal/fetch"
	"tomlkit-schema-service/internal/observability/logging"
	"tomlkit-schema-service/internal/resolver"
	"tomlkit-schema-service/internal/schema"
	"tomlkit-schema-service/internal/service/orchestrator"
	"tomlkit-schema-service/internal/service/validator"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	verbose    bool
	cacheDir   string
	catalogURL string
}

// ExitCoder is implemented by errors that carry a specific process exit code.
type ExitCoder interface {
	ExitCode() int
}

// ExitCodeFromError returns the process exit code for err: 0 for nil, the
// code of an ExitCoder, and 1 otherwise.
func ExitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var coder ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return 1
}

// NewRootCmd creates the tomlkit command tree wired to the real resolver and
// validator.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "tomlkit",
		Short:         "Look up and check JSON Schemas for TOML files",
		Long:          "tomlkit resolves the JSON Schema that applies to a TOML file and validates files against it.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := "warn"
			if flags.verbose {
				level = "debug"
			}
			logging.InitWriter(logging.Config{Level: level, Format: "console"}, cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging to stderr")
	cmd.PersistentFlags().StringVar(&flags.cacheDir, "cache-dir", "", "Schema cache directory (default: user cache dir)")
	cmd.PersistentFlags().StringVar(&flags.catalogURL, "catalog-url", "", "Schema catalog URL")

	cmd.AddCommand(NewLookupCmd(func(refresh bool) (LookupRunner, error) {
		return flags.resolver(refresh)
	}))
	cmd.AddCommand(NewCheckCmd(func(schemaFile string) (DocumentValidator, error) {
		return flags.validator(schemaFile)
	}))
	return cmd
}

func (f *globalFlags) config() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if f.cacheDir != "" {
		cfg.Cache.Dir = f.cacheDir
	}
	if f.catalogURL != "" {
		cfg.Catalog.URL = f.catalogURL
	}
	return cfg, nil
}

// resolver builds a resolver from configuration. With refresh, every cached
// schema counts as stale, so schemas are downloaded again when reachable.
func (f *globalFlags) resolver(refresh bool) (*resolver.Resolver, error) {
	cfg, err := f.config()
	if err != nil {
		return nil, err
	}
	fetcher := fetch.New(fetch.Config{UserAgent: cfg.Catalog.UserAgent, Timeout: cfg.Catalog.FetchTimeout})
	cat := catalog.New(catalog.Config{
		URL:           cfg.Catalog.URL,
		RetryCooldown: cfg.Catalog.RetryCooldown,
		Timeout:       cfg.Catalog.FetchTimeout,
	}, fetcher)

	var opts []cache.Option
	if refresh {
		opts = append(opts, cache.WithClock(func() time.Time { return time.Now().Add(cache.FreshnessWindow) }))
	}
	store := cache.New(cfg.Cache.Dir, opts...)
	return resolver.New(cat, store, fetcher,
		resolver.WithAssociations(cfg.Associations),
		resolver.WithDownloadTimeout(cfg.Catalog.FetchTimeout),
	), nil
}

// validator builds a one-shot orchestrator. A schema file, when given,
// replaces schema resolution.
func (f *globalFlags) validator(schemaFile string) (DocumentValidator, error) {
	cfg, err := f.config()
	if err != nil {
		return nil, err
	}

	var res orchestrator.SchemaResolver
	if schemaFile != "" {
		content, err := os.ReadFile(schemaFile)
		if err != nil {
			return nil, fmt.Errorf("read schema: %w", err)
		}
		res = fileSchema{path: schemaFile, content: content}
	} else {
		if res, err = f.resolver(false); err != nil {
			return nil, err
		}
	}

	module := validator.NewModule(config.ValidatorBuiltin, schema.Load)
	return orchestrator.New(module, res, editor.NewCollection(), orchestrator.Config{
		LanguageIDs: cfg.Documents.LanguageIDs,
		Extensions:  cfg.Documents.Extensions,
		TaskTimeout: cfg.Documents.TaskTimeout,
	}), nil
}

// fileSchema resolves every document to one local schema.
type fileSchema struct {
	path    string
	content []byte
}

func (s fileSchema) Resolve(context.Context, string) (resolver.Schema, bool) {
	return resolver.Schema{URL: "file://" + s.path, Content: s.content, Origin: resolver.OriginCache}, true
}

// writeJSON encodes v as JSON to w, handling I/O errors at the boundary.
func writeJSON(w io.Writer, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(w, "{\"error\":%q}\n", err.Error())
	}
}
