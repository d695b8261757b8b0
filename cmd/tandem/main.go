package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/tandemlab/tandem/internal/compat"
	"github.com/tandemlab/tandem/internal/convert"
	"github.com/tandemlab/tandem/internal/expressions"
	"github.com/tandemlab/tandem/internal/integrations"
	"github.com/tandemlab/tandem/internal/logging"
	"github.com/tandemlab/tandem/internal/scheduler"
	"github.com/tandemlab/tandem/internal/statesync"
	"github.com/tandemlab/tandem/internal/store"
	"github.com/tandemlab/tandem/internal/streaming"
	"github.com/tandemlab/tandem/internal/suite"
	"github.com/tandemlab/tandem/internal/validation"
	"github.com/tandemlab/tandem/pkg/mcp"
	"github.com/tandemlab/tandem/pkg/schema"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		printVersion()
		return
	}

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("tandem exited", "error", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger: text to stderr, correlation IDs
// injected from the context. Stdout carries the MCP protocol.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("config loaded", "store", cfg.StorePath, "overrides", configDiff(cfg))

	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	st, err := store.NewLibSQLStore("file:" + cfg.StorePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	hub := streaming.NewMemoryHub()

	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return fmt.Errorf("init cel engine: %w", err)
	}

	converter := convert.NewEngine(nil, nil, hub, logger, convert.EngineConfig{Version: version})
	validator, err := validation.New(converter, celEngine)
	if err != nil {
		return fmt.Errorf("init validator: %w", err)
	}
	converter.SetValidator(validator)

	comparator := compat.NewEngine(nil, hub, logger)
	syncLayer := statesync.NewLayer(statesync.Config{SyncEnabled: true, ValidateTypes: true}, hub, logger)
	recorder := integrations.NewRecorder(hub, logger)
	intValidator := integrations.NewValidator(logger)

	cmpCfg := compat.DefaultConfig()
	cmpCfg.DurationTolerance = schema.Millis(cfg.DurationToleranceMs)

	var orch *suite.Orchestrator
	if cfg.WorkflowRunnerCmd != "" && cfg.JourneyRunnerCmd != "" {
		orch, err = suite.NewOrchestrator(nil, suite.Deps{
			Workflows:      storeWorkflows{s: st},
			Journeys:       storeJourneys{s: st},
			Converter:      converter,
			WorkflowRunner: workflowExecRunner{execRunner{command: cfg.WorkflowRunnerCmd}},
			JourneyRunner:  journeyExecRunner{execRunner{command: cfg.JourneyRunnerCmd}},
			Comparator:     comparator,
			CompareConfig:  &cmpCfg,
			Defaults: suite.Config{
				MaxConcurrentTests: cfg.MaxConcurrentTests,
				TestTimeout:        schema.Millis(cfg.TestTimeoutMs),
			},
			Integrations:         recorder,
			IntegrationValidator: intValidator,
			States:               syncLayer,
			Store:                st,
			Hub:                  hub,
			Logger:               logger,
		})
		if err != nil {
			return fmt.Errorf("init orchestrator: %w", err)
		}
	} else {
		logger.Warn("engine runner commands not configured, suite runs disabled")
	}

	if cfg.SchedulerEnabled && orch != nil {
		sched := scheduler.NewScheduler(st, orch, logger)
		sched.SetPollInterval(cfg.pollInterval())
		if err := sched.RecoverMissed(ctx); err != nil {
			logger.Warn("missed schedule recovery failed", "error", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer func() { _ = sched.Stop() }()
	}

	srv := mcp.NewTandemServer(mcp.TandemServerDeps{
		Store:        st,
		Converter:    converter,
		Validator:    validator,
		Comparator:   comparator,
		Orchestrator: orch,
		Logger:       logger,
	})

	logger.Info("tandem serving MCP over stdio", "version", version)
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
