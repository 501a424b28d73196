// cmd/worker/main.go
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unclebandit/steadyletters-backend/internal/config"
	"github.com/unclebandit/steadyletters-backend/internal/db"
	"github.com/unclebandit/steadyletters-backend/internal/notify"
	"github.com/unclebandit/steadyletters-backend/internal/queue"
	"github.com/unclebandit/steadyletters-backend/internal/repository"
)

const jobTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if cfg.AMQPURL == "" {
		slog.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}
	if cfg.SMTP.Host == "" {
		slog.Error("SMTP_HOST is required for the worker")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.Database.DSN())
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	q, err := queue.NewAMQPQueue(cfg.AMQPURL)
	if err != nil {
		slog.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer q.Close()

	deliverer := &notify.Deliverer{
		Accounts: &repository.AccountRepository{DB: conn},
		Mailer:   notify.NewSMTPMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password, cfg.SMTP.From),
	}

	if err := q.Subscribe(cfg.NotificationsQueue, subscriber(ctx, deliverer)); err != nil {
		slog.Error("failed to register consumer", "error", err)
		os.Exit(1)
	}

	slog.Info("worker running, waiting for notification jobs", "queue", cfg.NotificationsQueue)
	<-ctx.Done()
	slog.Info("worker shutting down")
}

// subscriber bounds each job by jobTimeout so one slow SMTP server cannot
// stall the consumer.
func subscriber(ctx context.Context, d *notify.Deliverer) func(payload any) error {
	return func(payload any) error {
		jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
		defer cancel()
		return d.Handle(jobCtx, payload)
	}
}
