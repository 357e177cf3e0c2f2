package terminal

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"vision_automation/application/agent"
	"vision_automation/application/executor"
	"vision_automation/application/match"
	"vision_automation/application/memory"
	"vision_automation/application/perception"
	"vision_automation/application/ranking"
	"vision_automation/application/state"
	"vision_automation/domain/interfaces"
	"vision_automation/infrastructure/analytics"
	"vision_automation/infrastructure/audit"
	"vision_automation/infrastructure/browser"
	"vision_automation/infrastructure/config"
	"vision_automation/infrastructure/observability"
	"vision_automation/infrastructure/security"
	"vision_automation/infrastructure/storage"
	"vision_automation/infrastructure/vision"
)

// App - every component wired from one configuration
type App struct {
	cfg       *config.Config
	logger    *logrus.Logger
	desktop   interfaces.RemoteDesktop
	memory    *memory.Store
	templates *vision.TemplateLibrary
	runLog    *analytics.RunLog
	agent     *agent.Agent

	stopWatch       context.CancelFunc
	shutdownTracing func(context.Context) error
}

// NewLogger - logrus logger with level and formatter from config
func NewLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	logger.SetOutput(os.Stderr)
	return logger
}

// OpenMemory - memory store over the configured backend
func OpenMemory(cfg config.MemoryConfig, logger *logrus.Logger) (*memory.Store, error) {
	if strings.EqualFold(cfg.Backend, "sqlite") {
		db, err := storage.NewSQLiteMemory(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open memory: %w", err)
		}
		return memory.NewStore(db, logger), nil
	}
	files, err := storage.NewJSONMemory(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory: %w", err)
	}
	return memory.NewStore(files, logger), nil
}

// OpenArtifacts - audit store, nil when auditing is off
func OpenArtifacts(ctx context.Context, cfg config.AuditConfig, logger *logrus.Logger) (interfaces.ArtifactStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "local":
		s, err := audit.NewLocalStore(cfg.Dir, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "minio":
		s, err := audit.NewMinIOStore(ctx, cfg.MinIO, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, nil
	}
}

// NewApp - starts the browser driver and wires the engine around it
func NewApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	desktop, err := browser.New(cfg.Browser, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize browser: %w", err)
	}
	app, err := newApp(ctx, cfg, logger, desktop)
	if err != nil {
		desktop.Close()
		return nil, err
	}
	if cfg.Browser.URL != "" {
		if err := desktop.Open(ctx, cfg.Browser.URL); err != nil {
			app.Close()
			return nil, err
		}
	}
	return app, nil
}

var initTracing = observability.InitTracing

func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger, desktop interfaces.RemoteDesktop) (*App, error) {
	shutdown, err := initTracing("vision_automation", cfg.TraceExporter)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	app := &App{cfg: cfg, logger: logger, shutdownTracing: shutdown}

	app.memory, err = OpenMemory(cfg.Memory, logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.templates, err = vision.NewTemplateLibrary(cfg.Perception.TemplateDir, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to open template library: %w", err)
	}
	watchCtx, stopWatch := context.WithCancel(ctx)
	app.stopWatch = stopWatch
	if err := app.templates.Watch(watchCtx); err != nil {
		logger.WithError(err).Warn("Template directory is not watched")
	}

	artifacts, err := OpenArtifacts(ctx, cfg.Audit, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}

	sink := analytics.NewFanOut(analytics.NewLogSink(logger))
	if cfg.RunsDir != "" {
		app.runLog, err = analytics.NewRunLog(cfg.RunsDir, logger)
		if err != nil {
			app.Close()
			return nil, err
		}
		sink.Add(app.runLog)
	}

	builder := state.NewBuilder(cfg.State, logger)
	var contour interfaces.Detector
	if cfg.Perception.ContourEnabled {
		contour = vision.NewContourDetector(cfg.Perception.Contour, logger)
	}
	pipeline := perception.NewPipeline(desktop, vision.NewTesseractOCR(cfg.Perception.OCR, logger),
		contour, builder, cfg.Perception.OCRFloor, logger)

	engine := match.NewEngine(ranking.NewEngine(cfg.Ranking, logger), app.memory, app.templates,
		vision.NewNCCMatcher(logger), pipeline, cfg.Match, logger)

	exec := executor.NewExecutor(desktop, desktop, pipeline, engine, app.memory, builder,
		sink, artifacts, cfg.Executor, logger)

	app.agent = agent.NewAgent(pipeline, engine, exec, app.templates,
		security.NewSecurityLayer(cfg.Security, logger), sink, cfg.Agent, logger)
	app.desktop = desktop
	return app, nil
}

// Agent - the run coordinator
func (a *App) Agent() *agent.Agent { return a.agent }

// Memory - the coordinate memory
func (a *App) Memory() *memory.Store { return a.memory }

// RunLog - per-run event log, nil when disabled
func (a *App) RunLog() *analytics.RunLog { return a.runLog }

// Close - stops the watcher, flushes traces and releases the browser and memory
func (a *App) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.stopWatch != nil {
		a.stopWatch()
	}
	if a.templates != nil {
		keep(a.templates.Close())
	}
	if a.memory != nil {
		keep(a.memory.Close())
	}
	if a.desktop != nil {
		keep(a.desktop.Close())
	}
	if a.shutdownTracing != nil {
		keep(a.shutdownTracing(context.Background()))
	}
	return firstErr
}
