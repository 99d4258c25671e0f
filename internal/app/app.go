package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"dwellwatch/internal/config"
	"dwellwatch/internal/logger"
	"dwellwatch/internal/metrics"
	"dwellwatch/internal/repository"
	"dwellwatch/internal/repository/postgres"
	"dwellwatch/internal/repository/sqlite"
	"dwellwatch/internal/routes"
	"dwellwatch/internal/service"
	"dwellwatch/internal/service/storage"
	"dwellwatch/internal/service/websocket"
)

type App struct {
	config     *config.Config
	logger     *logger.Logger
	metrics    *metrics.Metrics
	repo       repository.EventRepository
	hubService *websocket.HubService
	sink       *storage.Sink
	supervisor *service.Supervisor
	server     *http.Server
}

// NewApp wires every component from cfg; nothing is started yet.
func NewApp(cfg *config.Config, log *logger.Logger) (*App, error) {
	m := metrics.New()

	repo, err := OpenRepository(cfg)
	if err != nil {
		return nil, err
	}

	hub := websocket.NewHubService(log)
	sink := storage.NewSink(storage.Config{
		Root:           cfg.EventDirectory,
		QueueSize:      cfg.QueueSize,
		EnqueueTimeout: cfg.EnqueueTimeout,
		ClassName:      cfg.Model.ClassName,
	}, log, m, repo, hub)

	sup := service.NewSupervisor(cfg, log, m, sink, hub)

	router := routes.SetupRoutes(routes.Deps{
		Config:  cfg,
		Logger:  log,
		Metrics: m,
		Events:  repo,
		Cameras: sup,
		Hub:     hub,
	})

	return &App{
		config:     cfg,
		logger:     log,
		metrics:    m,
		repo:       repo,
		hubService: hub,
		sink:       sink,
		supervisor: sup,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// OpenRepository opens the event index selected by EVENT_STORE.
func OpenRepository(cfg *config.Config) (repository.EventRepository, error) {
	switch cfg.EventStore {
	case config.StorePostgres:
		repo, err := postgres.New(cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres event store: %w", err)
		}
		return repo, nil
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		db, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite event store: %w", err)
		}
		return sqlite.NewEventRepository(db), nil
	}
}

// Run starts the cameras and the HTTP server and blocks until ctx is
// cancelled or the server fails, then shuts everything down in order.
// It returns service.ErrNoCameras when no camera could be started.
func (a *App) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.hubService.Run(hubCtx)

	n, err := a.supervisor.Start(ctx)
	if err != nil {
		a.closeRepository()
		return err
	}

	a.logger.Info("🚀 Dwell monitor started")
	a.logger.Info("📍 URL: http://localhost:%d", a.config.Port)
	a.logger.Info("📷 Cameras: %d", n)
	a.logger.Info("📁 Events: %s (%s index)", a.config.EventDirectory, a.storeName())
	a.logger.Info("🤖 AI Model: %s", a.config.Model.Path)

	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("🛑 Shutdown requested")
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
			a.logger.Error("HTTP server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warning("HTTP server shutdown: %v", err)
	}
	if err := a.supervisor.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Pipeline shutdown: %v", err)
		runErr = errors.Join(runErr, err)
	}
	stopHub()
	a.closeRepository()
	a.logger.Info("👋 Bye")
	return runErr
}

func (a *App) closeRepository() {
	if err := a.repo.Close(); err != nil {
		a.logger.Warning("Closing event store: %v", err)
	}
}

func (a *App) storeName() string {
	if a.config.EventStore == config.StorePostgres {
		return config.StorePostgres
	}
	return config.StoreSQLite
}
