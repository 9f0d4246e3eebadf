package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/rpattn/asset360/internal/config"
	"github.com/rpattn/asset360/internal/ctxlog"
	"github.com/rpattn/asset360/internal/db"
	"github.com/rpattn/asset360/internal/history"
	"github.com/rpattn/asset360/internal/httpapi"
	"github.com/rpattn/asset360/internal/middleware"
	"github.com/rpattn/asset360/internal/repository"
	"github.com/rpattn/asset360/internal/schema"
	"github.com/rpattn/asset360/internal/schema/validator"
)

func main() {
	configDir := flag.String("config", ".", "directory holding config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := ctxlog.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = ctxlog.WithLogger(ctx, logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	sv := schema.NewSchemaView()
	for _, path := range cfg.Schema.Paths {
		if err := sv.AddSchemaFromPath(path); err != nil {
			return err
		}
	}
	if err := validator.ValidateClasses(sv); err != nil {
		return err
	}
	logger.Info("schemas loaded", "files", len(cfg.Schema.Paths), "classes", len(sv.ClassNames()))

	var repo repository.ChangeStageRepository
	switch cfg.Server.Storage {
	case "memory":
		logger.Warn("using in-memory storage; chains are lost on restart")
		repo = repository.NewMemoryChangeStageRepository()
	default:
		if cfg.Server.Migrate {
			if err := db.RunMigrations(cfg.Database); err != nil {
				return err
			}
		}
		conn, err := db.NewConnection(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer conn.Close()
		repo = repository.NewChangeStageRepository(conn.Pool)
	}

	service := history.NewService(sv, repo)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{middleware.RequestIDHeader, "Content-Disposition"},
	})
	handler := middleware.LoggingMiddleware(logger)(corsHandler.Handler(httpapi.NewHTTPHandler(service)))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Server.Addr, "storage", cfg.Server.Storage)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server exited")
	return nil
}
