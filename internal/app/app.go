package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tomlkit-schema-service/internal/cache"
	"tomlkit-schema-service/internal/catalog"
	"tomlkit-schema-service/internal/config"
	"tomlkit-schema-service/internal/editor"
	"tomlkit-schema-service/internal/events"
	"tomlkit-schema-service/internal/fetch"
	"tomlkit-schema-service/internal/observability/logging"
	"tomlkit-schema-service/internal/resolver"
	"tomlkit-schema-service/internal/schema"
	"tomlkit-schema-service/internal/service/orchestrator"
	"tomlkit-schema-service/internal/service/validator"
	"tomlkit-schema-service/internal/service/validator/mock"
)

const serviceName = "tomlkit-schema-service"

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Fetcher      *fetch.Client
	Catalog      *catalog.Client
	Cache        *cache.Cache
	Resolver     *resolver.Resolver
	Validator    *validator.Module
	Hub          *editor.Hub
	Diagnostics  *editor.Collection
	Publisher    *events.Publisher
	Orchestrator *orchestrator.Orchestrator

	ready     atomic.Bool
	stopSweep context.CancelFunc
	sweepWG   sync.WaitGroup
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Config) *Application {
	a := &Application{
		Cfg: cfg,
	}
	a.setupLogger()

	a.Fetcher = fetch.New(fetch.Config{
		UserAgent: cfg.Catalog.UserAgent,
		Timeout:   cfg.Catalog.FetchTimeout,
	})
	a.Catalog = catalog.New(catalog.Config{
		URL:           cfg.Catalog.URL,
		RetryCooldown: cfg.Catalog.RetryCooldown,
		Timeout:       cfg.Catalog.FetchTimeout,
	}, a.Fetcher)
	a.Cache = cache.New(cfg.Cache.Dir)
	a.Resolver = resolver.New(a.Catalog, a.Cache, a.Fetcher,
		resolver.WithAssociations(cfg.Associations),
		resolver.WithDownloadTimeout(cfg.Catalog.FetchTimeout),
	)
	a.Validator = newValidator(cfg.Service.Validator)

	a.Hub = editor.NewHub()
	a.Diagnostics = editor.NewCollection()
	a.Publisher = events.New(&events.Config{
		Enabled:   cfg.Kafka.Enabled,
		Brokers:   cfg.Kafka.Brokers,
		Topic:     cfg.Kafka.TopicDiagnostics,
		Principal: cfg.Kafka.Principal,
	})
	a.Orchestrator = orchestrator.New(a.Validator, a.Resolver, a.Diagnostics, orchestrator.Config{
		LanguageIDs: cfg.Documents.LanguageIDs,
		Extensions:  cfg.Documents.Extensions,
		TaskTimeout: cfg.Documents.TaskTimeout,
		Downstream:  []editor.Sink{a.Publisher},
	})
	a.Orchestrator.Attach(a.Hub)

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	appLogger.Info().
		Str("cacheDir", a.Cache.Root()).
		Str("catalogUrl", cfg.Catalog.URL).
		Str("validator", a.Validator.Name()).
		Int("associations", len(cfg.Associations)).
		Msg("TOML schema service application created")
	return a
}

func newValidator(mode string) *validator.Module {
	if mode == config.ValidatorMock {
		return validator.Static(config.ValidatorMock, mock.New())
	}
	return validator.NewModule(config.ValidatorBuiltin, schema.Load)
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	logging.Init(logging.Config{
		Level:      a.Cfg.Observability.LogLevel,
		Format:     a.Cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})

	a.Logger = logging.Logger().With().
		Str("service", serviceName).
		Str("component", "application").
		Logger()

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("logFormat", a.Cfg.Observability.LogFormat).
		Msg("Logger setup completed")
}

// Start loads the validator and starts background maintenance. The service
// is ready afterwards even if the validator failed to load: documents are
// then skipped rather than rejected.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()

	if err := a.Validator.Load(); err != nil {
		startLogger.Error().Err(err).Msg("Validator unavailable, documents will not be validated")
	}

	if a.Cfg.Cache.MaxAge > 0 && a.Cfg.Cache.SweepInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		a.stopSweep = cancel
		a.sweepWG.Add(1)
		go a.sweepLoop(ctx)
	}

	a.ready.Store(true)
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("TOML schema service starting")

	return nil
}

// Ready reports whether the service accepts traffic.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// sweepLoop evicts old cache entries once at start and then on every interval.
func (a *Application) sweepLoop(ctx context.Context) {
	defer a.sweepWG.Done()

	ticker := time.NewTicker(a.Cfg.Cache.SweepInterval)
	defer ticker.Stop()

	for {
		a.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *Application) sweep(ctx context.Context) {
	if _, err := a.Cache.Sweep(ctx, a.Cfg.Cache.MaxAge); err != nil {
		a.Logger.Warn().Err(err).Msg("Cache sweep failed")
	}
}

// Shutdown performs a best-effort cleanup before process exit. In-flight
// validations are cancelled and publish nothing.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	a.ready.Store(false)
	if a.stopSweep != nil {
		a.stopSweep()
		a.sweepWG.Wait()
	}
	a.Orchestrator.Close()
	if err := a.Publisher.Close(); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Publisher close failed")
	}

	shutdownLogger.Info().
		Dur("uptime", time.Since(a.StartupTime)).
		Msg("TOML schema service shutting down")
}
