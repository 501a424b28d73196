// cmd/seeder/main.go
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/unclebandit/steadyletters-backend/internal/config"
	"github.com/unclebandit/steadyletters-backend/internal/db"
)

func main() {
	dir := flag.String("dir", "seed", "Directory holding the seed SQL files")
	schemaOnly := flag.Bool("schema-only", false, "Apply the schema and skip seed data")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.Database.DSN())
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := db.EnsureSchema(ctx, conn); err != nil {
		slog.Error("schema bootstrap failed", "error", err)
		os.Exit(1)
	}
	slog.Info("schema applied")
	if *schemaOnly {
		return
	}

	// Order matters: recipients and templates reference accounts.
	seedFiles := []string{
		"accounts.sql",
		"recipients.sql",
		"templates.sql",
	}

	for _, file := range seedFiles {
		path := filepath.Join(*dir, file)
		content, err := os.ReadFile(path)
		if err != nil {
			slog.Error("failed to read seed file", "path", path, "error", err)
			os.Exit(1)
		}

		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			slog.Error("failed to execute seed file", "path", path, "error", err)
			os.Exit(1)
		}
		slog.Info("seeded", "path", path)
	}

	slog.Info("database seeding completed successfully")
}
