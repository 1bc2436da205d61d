// Package app wires the application: configuration, logging, telemetry,
// storage, the license lifecycle manager and the HTTP server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"keymint/internal/config"
	"keymint/internal/infrastructure"
	"keymint/internal/license"
	custommiddleware "keymint/internal/middleware"
	"keymint/internal/security"
	"keymint/internal/services"
	"keymint/internal/store"
	handlers "keymint/internal/transport/http"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Application is the main application container.
type Application struct {
	Config         *config.Config
	Router         *chi.Mux
	Server         *http.Server
	Store          *store.Store
	LicenseManager *license.Manager
	LicenseService services.LicenseService
	Logger         *slog.Logger
	OTel           *infrastructure.OTelProviders
}

// NewApplication creates a new application instance with dependency
// injection.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("application starting",
		slog.String("service", infrastructure.ServiceName),
		slog.String("version", Version))

	otelProviders, err := infrastructure.InitOTel(Version, false, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	st, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	codec, err := security.NewCodec(cfg.Security.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize crypto: %w", err)
	}

	manager := license.NewManager(st, st, st, st, codec, license.Config{
		AutoDeliver:           cfg.License.AutoDeliver,
		MaxRegenerationRounds: cfg.License.MaxRegenerationRounds,
	}, logger)

	licenseService := services.NewLicenseService(manager, st, logger)

	app := &Application{
		Config:         cfg,
		Store:          st,
		LicenseManager: manager,
		LicenseService: licenseService,
		Logger:         logger,
		OTel:           otelProviders,
	}
	app.setupRouter()
	app.Server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      app.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return app, nil
}

func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(custommiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(custommiddleware.StructuredLogger(a.Logger))
	r.Use(chimiddleware.Recoverer)
	if a.Config.Security.RateLimit.Enabled {
		r.Use(custommiddleware.RateLimit(
			a.Config.Security.RateLimit.RPS,
			a.Config.Security.RateLimit.Burst))
	}
	r.Use(chimiddleware.Timeout(a.Config.Server.RequestTimeout))

	healthHandler := handlers.NewHealthHandler(Version)
	licenseHandler := handlers.NewLicenseHandler(a.LicenseService, a.Logger)
	generatorHandler := handlers.NewGeneratorHandler(a.LicenseService, a.Logger)
	orderHandler := handlers.NewOrderHandler(a.LicenseService, a.Logger)

	r.Get("/healthz", healthHandler.HealthCheck)
	r.Handle("/metrics", a.OTel.PrometheusHTTP)

	r.Route("/api/v2", func(r chi.Router) {
		r.Mount("/licenses", licenseHandler.Routes())
		r.Mount("/generators", generatorHandler.Routes())
		r.Mount("/orders", orderHandler.Routes())
		r.Mount("/products", orderHandler.ProductRoutes())
	})

	a.Router = r
}

// Run starts the HTTP server and blocks until shutdown.
func (a *Application) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-stop:
		a.Logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()
	return a.Shutdown(ctx)
}

// Shutdown stops the server and releases resources.
func (a *Application) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := a.Server.Shutdown(ctx); err != nil {
		firstErr = fmt.Errorf("server shutdown: %w", err)
	}
	if err := a.Store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("store close: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.OTel.Shutdown(shutdownCtx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("telemetry shutdown: %w", err)
	}
	infrastructure.CloseLogFile()
	a.Logger.Info("application stopped")
	return firstErr
}
