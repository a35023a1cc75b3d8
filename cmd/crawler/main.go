// cmd/crawler/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saadkhi/crawl-pipeline/internal/api"
	"github.com/saadkhi/crawl-pipeline/internal/backoff"
	"github.com/saadkhi/crawl-pipeline/internal/config"
	"github.com/saadkhi/crawl-pipeline/internal/crawler"
	"github.com/saadkhi/crawl-pipeline/internal/store"
	"github.com/saadkhi/crawl-pipeline/internal/upstream"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dbpool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbpool.Close()

	if err := runMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied")

	db := store.New(dbpool, logger)
	client := upstream.NewClient(cfg.GithubToken, cfg.RequestsPerSecond, logger)
	fetcher := upstream.NewFetcher(client, backoff.Default(), cfg.MaxAttempts, logger)

	var meta crawler.MetaFetcher
	if cfg.EnrichMeta {
		meta = client
	}
	c := crawler.New(db, fetcher, meta, cfg.PageSize, cfg.Concurrency, logger)

	var server *http.Server
	if cfg.Serve {
		server = &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: api.NewRouter(db, logger),
		}
		go func() {
			logger.Info("API server listening", "addr", cfg.HTTPAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("API server error", "error", err)
			}
		}()
	}

	streams, err := crawlStreams(cfg)
	if err != nil {
		return err
	}

	report, runErr := c.RunAll(ctx, streams, cfg.MaxPages)
	logger.Info("Crawl complete",
		"pages", report.Pages, "records", report.Records, "new_observations", report.Written)

	if server != nil && runErr == nil {
		<-ctx.Done()
	}
	if server != nil {
		_ = server.Shutdown(context.Background())
	}
	return runErr
}

// crawlStreams maps the configured streams into crawl targets, applying the
// one-off START_CURSOR override to the primary stream.
func crawlStreams(cfg *config.Config) ([]crawler.Stream, error) {
	configured, err := cfg.Streams()
	if err != nil {
		return nil, err
	}
	streams := make([]crawler.Stream, len(configured))
	for i, s := range configured {
		streams[i] = crawler.Stream{ID: s.ID, Query: s.Query}
	}
	if cfg.StartCursor != "" {
		streams[0].StartCursor = &cfg.StartCursor
	}
	return streams, nil
}

func runMigrations(dbURL string) error {
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
