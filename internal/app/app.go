package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"posextract/internal/auth"
	"posextract/internal/browser"
	"posextract/internal/config"
	"posextract/internal/csvpipeline"
	"posextract/internal/delivery"
	"posextract/internal/download"
	apierrors "posextract/internal/errors"
	"posextract/internal/exporter"
	"posextract/internal/extraction"
	"posextract/internal/infrastructure"
	"posextract/internal/middleware"
	"posextract/internal/operations"
	handlers "posextract/internal/transport/http"
	"posextract/internal/validation"
	ws "posextract/internal/websocket"
	"posextract/pkg/contracts/domain"
)

// activeMarkerSlack is added to the job timeout for the redis admission
// marker so it never expires under a live job.
const activeMarkerSlack = 5 * time.Minute

// Application represents the main application container
type Application struct {
	Config      *config.Config
	Paths       *config.Paths
	Logger      *slog.Logger
	OTel        *infrastructure.OTelProviders
	Metrics     *infrastructure.Metrics
	Store       operations.JobStore
	Browser     *browser.Manager
	Pipeline    *operations.ExtractionPipeline
	Broadcaster *operations.StatusBroadcaster
	Hub         *ws.Hub
	Manager     *operations.Manager
	Handler     http.Handler
	Server      *http.Server

	session operations.Session
	solver  auth.ChallengeSolver

	closeOnce sync.Once
	closeErr  error
}

// Option customizes New.
type Option func(*Application)

// WithSession replaces the chromedp session, e.g. with a scripted page.
func WithSession(s operations.Session) Option {
	return func(a *Application) { a.session = s }
}

// WithSolver installs the challenge solver used during login.
func WithSolver(s auth.ChallengeSolver) Option {
	return func(a *Application) { a.solver = s }
}

// New builds every component. Nothing listens until Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Application{Config: cfg, Logger: logger}
	for _, opt := range opts {
		opt(a)
	}

	logger.InfoContext(ctx, "Application starting",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion))

	paths, err := cfg.GetPaths()
	if err != nil {
		return nil, fmt.Errorf("failed to get paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}
	a.Paths = paths

	a.OTel, err = infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(cfg.Telemetry), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	a.Metrics, err = infrastructure.NewMetrics(a.OTel.Registry)
	if err != nil {
		return nil, a.abort(ctx, fmt.Errorf("failed to register metrics: %w", err))
	}

	a.Store, err = openStore(ctx, cfg)
	if err != nil {
		return nil, a.abort(ctx, err)
	}

	if err := a.initializeServices(ctx); err != nil {
		return nil, a.abort(ctx, fmt.Errorf("failed to initialize services: %w", err))
	}

	recovered, err := a.Manager.Recover(ctx)
	if err != nil {
		return nil, a.abort(ctx, fmt.Errorf("failed to recover interrupted jobs: %w", err))
	}
	if recovered > 0 {
		logger.WarnContext(ctx, "Recovered interrupted jobs", slog.Int("count", recovered))
	}

	if err := a.setupRouter(); err != nil {
		return nil, a.abort(ctx, err)
	}
	a.Server = &http.Server{
		Addr:         net.JoinHostPort("", strconv.Itoa(cfg.Server.Port)),
		Handler:      a.Handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return a, nil
}

// openStore opens the configured job store backend.
func openStore(ctx context.Context, cfg *config.Config) (operations.JobStore, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		return operations.NewMemoryJobStore(), nil
	case "redis":
		rdb, err := operations.DialRedis(ctx, cfg.Store.RedisAddr, cfg.Store.RedisDB)
		if err != nil {
			return nil, err
		}
		return operations.NewRedisJobStore(rdb, operations.RedisStoreOptions{
			TTL:       cfg.Store.RedisTTL,
			ActiveTTL: cfg.Timeouts.Job + activeMarkerSlack,
		}), nil
	case "sqlite":
		return operations.OpenSQLiteJobStore(ctx, cfg.Store.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown job store driver %q", cfg.Store.Driver)
	}
}

func (a *Application) initializeServices(ctx context.Context) error {
	cfg := a.Config
	logger := a.Logger

	if a.session == nil {
		opts := browser.OptionsFrom(cfg)
		opts.ProfileDir = a.Paths.ProfileDir
		opts.DownloadDir = a.Paths.DownloadsDir
		a.Browser = browser.NewManager(opts, browser.ProfileFrom(cfg), logger, a.Metrics)
		a.session = a.Browser
	}

	var columns csvpipeline.ColumnMap
	if cfg.Extraction.ColumnMapFile != "" {
		cm, err := csvpipeline.LoadColumnMap(cfg.Extraction.ColumnMapFile)
		if err != nil {
			return fmt.Errorf("load column map: %w", err)
		}
		columns = cm
	}

	tracer, err := operations.NewJobTracer(a.OTel.Meter)
	if err != nil {
		return fmt.Errorf("create job tracer: %w", err)
	}

	a.Pipeline = &operations.ExtractionPipeline{
		Session:   a.session,
		Auth:      auth.NewFlow(auth.OptionsFrom(cfg), a.solver, logger, a.Metrics),
		Navigator: extraction.NewNavigator(extraction.NavigatorOptionsFrom(cfg), logger),
		Loop: extraction.NewLoop(extraction.LoopOptionsFrom(cfg),
			download.NewWatcher(a.Paths.DownloadsDir, cfg.Timeouts.PollInterval, logger, a.Metrics),
			csvpipeline.NewParser(columns, logger),
			validation.NewService(logger),
			logger, a.Metrics),
		Locations: cfg.Extraction.Locations,
		Tracer:    tracer,
		Logger:    logger,
	}
	if !cfg.Export.Disabled && cfg.Export.Format != "none" {
		exp, err := exporter.NewResultExporter(a.Paths.ReportsDir, cfg.Export.Format, logger)
		if err != nil {
			return err
		}
		a.Pipeline.Exporter = exp
	}

	hubMetrics, err := ws.NewHubMetrics(a.OTel.Meter)
	if err != nil {
		return fmt.Errorf("create hub metrics: %w", err)
	}
	a.Hub = ws.NewHub(logger, hubMetrics)
	a.Broadcaster = operations.NewStatusBroadcaster(a.Hub, logger)
	a.Hub.SetGreeting(a.activeGreeting)

	a.Manager = operations.NewManager(a.Store, a.Pipeline,
		delivery.NewClient(cfg.Delivery, logger, a.Metrics),
		a.Broadcaster, tracer, a.Metrics,
		operations.ManagerOptions{
			JobTimeout:         cfg.Timeouts.Job,
			DefaultDeliveryURL: cfg.Delivery.DefaultURL,
		}, logger)

	logger.InfoContext(ctx, "Services initialized",
		slog.String("store", cfg.Store.Driver),
		slog.Int("locations", len(cfg.Extraction.Locations)),
		slog.Bool("export", a.Pipeline.Exporter != nil))
	return nil
}

// activeGreeting sends a new websocket client the running job's snapshot.
func (a *Application) activeGreeting() []ws.Message {
	snap, ok := a.Broadcaster.ActiveSnapshot()
	if !ok {
		return nil
	}
	return []ws.Message{{
		Type:      ws.TypeJobSnapshot,
		JobID:     snap.JobID,
		Status:    snap.Status,
		Data:      snap,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}}
}

func (a *Application) setupRouter() error {
	errHandler := apierrors.NewErrorHandler(a.Logger, a.Config.Telemetry.Environment == "development")

	otelMiddleware, err := middleware.NewOTelMiddleware(a.OTel)
	if err != nil {
		return err
	}

	store := a.Store
	a.Handler = handlers.NewRouter(handlers.RouterOptions{
		Jobs: handlers.NewJobsHandler(a.Manager, errHandler,
			middleware.NewRateLimiter(a.Config.Server.SubmitRPS, a.Config.Server.SubmitBurst, errHandler, a.Logger),
			a.Logger),
		Health: handlers.NewHealthHandler(map[string]handlers.HealthCheck{
			"store": func(ctx context.Context) error {
				_, err := store.List(ctx, operations.JobFilter{Limit: 1})
				return err
			},
		}, a.Logger),
		Metrics:    a.OTel.PrometheusHTTP,
		Hub:        a.Hub,
		OTel:       otelMiddleware,
		ErrHandler: errHandler,
		Logger:     a.Logger,
	})
	return nil
}

// Run serves HTTP until ctx is cancelled or the server fails, then shuts
// everything down.
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	a.Hub.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.InfoContext(ctx, "HTTP server listening", slog.String("address", ln.Addr().String()))
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.Stop(context.WithoutCancel(ctx))
	})
	return g.Wait()
}

// RunJob runs a single job in the foreground and returns it once finished,
// delivery included.
func (a *Application) RunJob(ctx context.Context, req operations.SubmitRequest) (*domain.Job, error) {
	// Status updates still flow through the hub; with no clients it just drains them.
	a.Hub.Start()
	job, err := a.Manager.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return a.Manager.Wait(ctx, job.ID)
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	timeout := a.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if a.Server != nil {
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}
	return errors.Join(append(errs, a.close(shutdownCtx))...)
}

// close releases everything but the HTTP server. Only the first call does
// any work.
func (a *Application) close(ctx context.Context) error {
	a.closeOnce.Do(func() { a.closeErr = a.release(ctx) })
	return a.closeErr
}

func (a *Application) release(ctx context.Context) error {
	var errs []error
	if a.Manager != nil {
		if err := a.Manager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("job manager shutdown: %w", err))
		}
	}
	if a.Hub != nil {
		a.Hub.Stop()
	}
	if a.Broadcaster != nil {
		a.Broadcaster.Stop()
	}
	if a.Browser != nil {
		if err := a.Browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("browser close: %w", err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("job store close: %w", err))
		}
	}
	if a.OTel != nil {
		if err := a.OTel.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		a.Logger.ErrorContext(ctx, "Shutdown finished with errors", slog.String("error", err.Error()))
		return err
	}
	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return nil
}

// abort releases what New has built so far and returns err.
func (a *Application) abort(ctx context.Context, err error) error {
	_ = a.close(ctx)
	return err
}
