package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/changeops/internal/audit"
	"github.com/c360studio/changeops/internal/config"
	"github.com/c360studio/changeops/internal/dispatch"
	"github.com/c360studio/changeops/internal/draft"
	"github.com/c360studio/changeops/internal/llmgen"
	_ "github.com/c360studio/changeops/internal/llmgen/providers" // self-register openai/anthropic/ollama producers
	"github.com/c360studio/changeops/internal/override"
	"github.com/c360studio/changeops/internal/promotion"
	"github.com/c360studio/changeops/internal/store"
	"github.com/c360studio/changeops/internal/telemetry"
	"github.com/c360studio/changeops/internal/tenantctx"
	"github.com/c360studio/changeops/internal/wfengine"
)

// App wires together every component exercised by the CLI: one store, one
// LLM registry/client, and the five C5-C9 engines sharing a single audit
// recorder, the same composition-root role the teacher's cmd/semspec/App
// plays for its own components.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	embeddedServer *server.Server
	natsConn       *nats.Conn
	js             jetstream.JetStream

	store store.Store

	llmRegistry *llmgen.Registry
	llmClient   *llmgen.Client

	Audit       *audit.Recorder
	Metrics     *telemetry.Metrics
	Draft       *draft.Engine
	Override    *override.Composer
	Workflow    *wfengine.Engine
	Dispatch    *dispatch.Dispatcher
	Environment *promotion.EnvironmentStore
	Promotion   *promotion.Engine

	configWatcher *config.Watcher
	metricsServer *http.Server
}

// newAppFromFlags loads configuration honoring the layered precedence in
// internal/config, applies CLI flag overrides, and constructs an App —
// no network I/O happens until Start.
func newAppFromFlags(ctx context.Context, flags *rootFlags) (*App, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var cfg *config.Config
	var err error
	if flags.configPath != "" {
		cfg, err = config.LoadFromFile(flags.configPath)
	} else {
		cfg, err = config.NewLoader(logger).Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if flags.natsURL != "" {
		cfg.Store.URL = flags.natsURL
		cfg.Store.Embedded = false
	}
	if flags.tenantID != "" {
		cfg.Tenant.DefaultID = flags.tenantID
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.ApplyCapabilities()

	return NewApp(cfg, logger), nil
}

// NewApp constructs an App around cfg. Components that depend on a live
// NATS connection (the store, engines) are created in Start, since they
// need the JetStream context that only exists after the connection is up.
func NewApp(cfg *config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger}
}

// Start brings up NATS (embedded or external), registers the configured
// LLM endpoints, and constructs every engine over the shared store and
// audit recorder.
func (a *App) Start(ctx context.Context) error {
	if err := a.startNATS(ctx); err != nil {
		return fmt.Errorf("start NATS: %w", err)
	}

	a.store = store.NewNATSKVStore(a.js, a.cfg.Store.BucketPrefix, 5)

	a.llmRegistry = llmgen.NewRegistry()
	a.llmRegistry.RegisterEndpoint(a.cfg.LLM.Model, llmgen.EndpointConfig{
		Provider: a.cfg.LLM.Provider,
		Model:    a.cfg.LLM.Model,
		URL:      a.cfg.LLM.Endpoint,
	})
	a.llmRegistry.SetFallbackChain(llmgen.CapabilityDraftGeneration, a.cfg.LLM.Model)
	a.llmRegistry.SetFallbackChain(llmgen.CapabilityRepair, a.cfg.LLM.Model)

	a.llmClient = llmgen.NewClient(a.llmRegistry,
		llmgen.WithLogger(a.logger),
		llmgen.WithRetryConfig(llmgen.RetryConfig{
			MaxAttempts:       a.cfg.LLM.RetryMaxAttempts,
			BackoffBase:       a.cfg.LLM.RetryBackoffBase,
			BackoffMultiplier: a.cfg.LLM.RetryBackoffMultiplier,
			MaxBackoff:        a.cfg.LLM.RetryMaxBackoff,
		}),
	)

	a.Audit = audit.NewRecorder(a.store)
	a.Metrics = telemetry.NewMetrics("changeops")
	a.Environment = promotion.NewEnvironmentStore(a.store)
	a.Draft = draft.NewEngine(a.store, a.llmClient, a.Environment, draft.WithLogger(a.logger), draft.WithAudit(a.Audit), draft.WithMetrics(a.Metrics))
	a.Override = override.NewComposer(a.store, override.WithAudit(a.Audit))
	a.Workflow = wfengine.NewEngine(a.store, wfengine.WithAudit(a.Audit))
	a.Dispatch = dispatch.NewDispatcher(a.store, a.Workflow, a.cfg.Dispatcher.Concurrency, dispatch.WithAudit(a.Audit), dispatch.WithMetrics(a.Metrics))
	a.Promotion = promotion.NewEngine(a.store, a.Environment, promotion.WithAudit(a.Audit), promotion.WithMetrics(a.Metrics))

	a.startMetricsServer()
	a.startConfigWatcher(ctx)
	return nil
}

// startMetricsServer brings up the OpenMetrics HTTP endpoint when
// metrics.enabled is set; absence is not an error, matching
// startConfigWatcher's "missing is a valid, inactive state" convention.
func (a *App) startMetricsServer() {
	if !a.cfg.Metrics.Enabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.Metrics.Handler())
	srv := &http.Server{Addr: a.cfg.Metrics.ListenAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	a.metricsServer = srv
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Warn("metrics server stopped", "error", err)
		}
	}()
}

// startConfigWatcher watches the project config file, if one exists, so
// a governance administrator editing capability-profile definitions on
// disk takes effect without restarting the dispatcher. Absence of a
// project config file is not an error — hot reload is simply inactive.
func (a *App) startConfigWatcher(ctx context.Context) {
	path := config.ProjectConfigFile
	if _, err := os.Stat(path); err != nil {
		return
	}

	w, err := config.NewWatcher(path, a.logger, func(cfg *config.Config) {
		a.cfg = cfg
	}, func(err error) {
		a.logger.Warn("config hot reload rejected", "error", err)
	})
	if err != nil {
		a.logger.Warn("failed to start config watcher", "error", err)
		return
	}
	if err := w.Start(ctx); err != nil {
		a.logger.Warn("failed to start config watcher", "error", err)
		return
	}
	a.configWatcher = w
}

func (a *App) startNATS(ctx context.Context) error {
	if a.cfg.Store.URL != "" && !a.cfg.Store.Embedded {
		conn, err := nats.Connect(a.cfg.Store.URL)
		if err != nil {
			return fmt.Errorf("connect to NATS at %s: %w", a.cfg.Store.URL, err)
		}
		a.natsConn = conn
	} else {
		opts := &server.Options{
			Port:      -1,
			JetStream: true,
			NoLog:     true,
			NoSigs:    true,
		}
		ns, err := server.NewServer(opts)
		if err != nil {
			return fmt.Errorf("create embedded NATS server: %w", err)
		}
		go ns.Start()

		if !ns.ReadyForConnections(5 * time.Second) {
			ns.Shutdown()
			return fmt.Errorf("embedded NATS server failed to start")
		}
		a.embeddedServer = ns

		conn, err := nats.Connect(ns.ClientURL())
		if err != nil {
			ns.Shutdown()
			return fmt.Errorf("connect to embedded NATS: %w", err)
		}
		a.natsConn = conn
	}

	js, err := jetstream.New(a.natsConn)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	a.js = js
	return nil
}

// Shutdown gracefully stops every component Start brought up.
func (a *App) Shutdown() {
	if a.configWatcher != nil {
		a.configWatcher.Stop()
	}
	if a.metricsServer != nil {
		a.metricsServer.Close() //nolint:errcheck // best-effort on process shutdown
	}
	if a.natsConn != nil {
		a.natsConn.Drain()
		a.natsConn.Close()
	}
	if a.embeddedServer != nil {
		a.embeddedServer.Shutdown()
		a.embeddedServer.WaitForShutdown()
	}
}

// tenantContext builds the tenantctx.Context shared by every subcommand,
// from the persistent --tenant/--actor-id/--actor-type/--change-id/
// --capability-profile flags.
func tenantContext(flags *rootFlags) tenantctx.Context {
	tenantID := flags.tenantID
	tc := tenantctx.New(tenantID, tenantctx.SourceHeader, tenantctx.Actor{
		ID:   flags.actorID,
		Type: tenantctx.ActorType(flags.actorType),
	})
	if flags.changeID != "" {
		tc = tc.WithGovernance(flags.changeID)
	}
	if flags.capabilityProfile != "" {
		tc = tc.WithCapabilities(tenantctx.ProfileName(flags.capabilityProfile))
	}
	return tc
}

// resolveModulePath validates requested against the CLI's --module-root
// boundary and returns the path to actually open, per spec §4.1's
// MODULE_BOUNDARY_ESCAPE contract for filesystem-scoped operations —
// every subcommand flag that names a file to read on disk (--ops-file,
// --file, --input-file) goes through this before os.ReadFile.
func resolveModulePath(flags *rootFlags, requested string) (string, error) {
	boundary := tenantctx.NewBoundary(flags.moduleRoot)
	rel, err := boundary.Validate(requested)
	if err != nil {
		return "", err
	}
	return filepath.Join(flags.moduleRoot, rel), nil
}
