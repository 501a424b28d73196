// SteadyLetters scheduler tick
//
// Runs the recurring-letter due-scan and the scheduled-order scan once and
// exits. Meant for a platform cron; overlapping ticks are safe.
//
// Usage:
//
//	go run ./cmd/scheduler/ [--only recurring|scheduled]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/unclebandit/steadyletters-backend/internal/config"
	"github.com/unclebandit/steadyletters-backend/internal/db"
	"github.com/unclebandit/steadyletters-backend/internal/mail"
	"github.com/unclebandit/steadyletters-backend/internal/repository"
	"github.com/unclebandit/steadyletters-backend/internal/service"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup happens before exit.
func run() int {
	onlyFlag := flag.String("only", "", "Run a single scan: recurring or scheduled (default both)")
	budgetFlag := flag.Duration("budget", 5*time.Minute, "Wall-clock budget for the whole tick")
	flag.Parse()

	switch *onlyFlag {
	case "", "recurring", "scheduled":
	default:
		fmt.Fprintf(os.Stderr, "Error: --only must be recurring or scheduled, got %q\n\n", *onlyFlag)
		flag.Usage()
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	ctx, cancel := context.WithTimeout(context.Background(), *budgetFlag)
	defer cancel()

	conn, err := db.Open(ctx, cfg.Database.DSN())
	if err != nil {
		slog.Error("database unavailable", "error", err)
		return 1
	}
	defer conn.Close()

	recipientRepo := &repository.RecipientRepository{DB: conn}
	orderRepo := &repository.OrderRepository{DB: conn}
	dispatcher := mail.NewClient(cfg.ThanksIO.APIKey, cfg.ThanksIO.BaseURL, cfg.ThanksIO.DispatchTimeout)

	scans := []scan{
		{"recurring", (&service.RecurringService{
			RecurringRepo:   &repository.RecurringLetterRepository{DB: conn},
			RecipientRepo:   recipientRepo,
			OrderRepo:       orderRepo,
			Usage:           service.NewUsageService(&repository.UsageRepository{DB: conn}, &repository.AccountRepository{DB: conn}),
			Dispatcher:      dispatcher,
			DispatchTimeout: cfg.ThanksIO.DispatchTimeout,
			BatchLimit:      cfg.BatchLimit,
		}).ProcessDue},
		{"scheduled", (&service.OrderProcessor{
			OrderRepo:       orderRepo,
			RecipientRepo:   recipientRepo,
			TemplateRepo:    &repository.TemplateRepository{DB: conn},
			Dispatcher:      dispatcher,
			DispatchTimeout: cfg.ThanksIO.DispatchTimeout,
			BatchLimit:      cfg.BatchLimit,
		}).ProcessScheduled},
	}

	return runScans(ctx, scans, *onlyFlag)
}

type scan struct {
	name string
	run  func(context.Context) (*service.BatchResult, error)
}

// runScans runs every scan (or only the named one) and returns 1 if any aborted.
func runScans(ctx context.Context, scans []scan, only string) int {
	exit := 0
	for _, sc := range scans {
		if only != "" && only != sc.name {
			continue
		}
		result, err := sc.run(ctx)
		if err != nil {
			slog.Error("scan aborted", "scan", sc.name, "error", err)
			exit = 1
			continue
		}
		slog.Info("scan complete",
			"scan", sc.name,
			"run_id", result.RunID,
			"processed", result.Processed,
			"succeeded", result.Succeeded,
			"failed", result.Failed,
			"skipped", result.Skipped,
		)
	}
	return exit
}
