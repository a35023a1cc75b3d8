// cmd/export/main.go
//
// Dumps the full star observation history as CSV, to stdout or a file.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saadkhi/crawl-pipeline/internal/api"
	"github.com/saadkhi/crawl-pipeline/internal/config"
	"github.com/saadkhi/crawl-pipeline/internal/store"
)

func main() {
	out := flag.String("o", "", "output file (default stdout)")
	flag.Parse()

	if err := run(*out); err != nil {
		slog.Error("Export failed", "error", err)
		os.Exit(1)
	}
}

func run(outPath string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	dbURL, err := config.LoadDatabaseURL()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx := context.Background()
	dbpool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbpool.Close()

	rows, err := store.New(dbpool, logger).ExportRows(ctx)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	if err := api.WriteCSV(w, rows); err != nil {
		return err
	}
	logger.Info("Export written", "rows", len(rows))
	return nil
}
