// cmd/server/main.go
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
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/steadyletters-backend/internal/auth"
	"github.com/unclebandit/steadyletters-backend/internal/config"
	"github.com/unclebandit/steadyletters-backend/internal/controller"
	"github.com/unclebandit/steadyletters-backend/internal/db"
	"github.com/unclebandit/steadyletters-backend/internal/dedup"
	"github.com/unclebandit/steadyletters-backend/internal/generate"
	"github.com/unclebandit/steadyletters-backend/internal/handler"
	"github.com/unclebandit/steadyletters-backend/internal/mail"
	"github.com/unclebandit/steadyletters-backend/internal/notify"
	"github.com/unclebandit/steadyletters-backend/internal/queue"
	"github.com/unclebandit/steadyletters-backend/internal/repository"
	"github.com/unclebandit/steadyletters-backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	// --- Repositories ---
	accountRepo := &repository.AccountRepository{DB: conn}
	usageRepo := &repository.UsageRepository{DB: conn}
	recipientRepo := &repository.RecipientRepository{DB: conn}
	templateRepo := &repository.TemplateRepository{DB: conn}
	recurringRepo := &repository.RecurringLetterRepository{DB: conn}
	orderRepo := &repository.OrderRepository{DB: conn}
	mailOrderRepo := &repository.MailOrderRepository{DB: conn}

	// --- Collaborators ---
	dispatcher := mail.NewClient(cfg.ThanksIO.APIKey, cfg.ThanksIO.BaseURL, cfg.ThanksIO.DispatchTimeout)
	generator := generate.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model, "")

	q, closeQueue := openQueue(cfg, accountRepo)
	defer closeQueue()

	reconciler := &service.ReconciliationService{
		OrderRepo:     orderRepo,
		MailOrderRepo: mailOrderRepo,
		Notifier:      notify.NewQueueNotifier(q, cfg.NotificationsQueue),
	}
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable, notifications may repeat on webhook replay", "error", err)
		}
		reconciler.Dedup = dedup.NewFilter(rdb)
	}

	verifier, err := auth.NewVerifier(cfg.Supabase.JWTSecret, cfg.Supabase.JWKSURL, cfg.Supabase.Issuer)
	if err != nil {
		slog.Error("auth verifier not configured", "error", err)
		os.Exit(1)
	}

	// --- Services ---
	usageService := service.NewUsageService(usageRepo, accountRepo)
	recurringService := &service.RecurringService{
		RecurringRepo:   recurringRepo,
		RecipientRepo:   recipientRepo,
		OrderRepo:       orderRepo,
		Usage:           usageService,
		Dispatcher:      dispatcher,
		DispatchTimeout: cfg.ThanksIO.DispatchTimeout,
		BatchLimit:      cfg.BatchLimit,
	}
	processor := &service.OrderProcessor{
		OrderRepo:       orderRepo,
		RecipientRepo:   recipientRepo,
		TemplateRepo:    templateRepo,
		Dispatcher:      dispatcher,
		DispatchTimeout: cfg.ThanksIO.DispatchTimeout,
		BatchLimit:      cfg.BatchLimit,
	}
	orderService := &service.OrderService{
		OrderRepo:       orderRepo,
		MailOrderRepo:   mailOrderRepo,
		RecipientRepo:   recipientRepo,
		TemplateRepo:    templateRepo,
		RecurringRepo:   recurringRepo,
		Usage:           usageService,
		Dispatcher:      dispatcher,
		DispatchTimeout: cfg.ThanksIO.DispatchTimeout,
	}
	billingService := &service.BillingService{
		AccountRepo:   accountRepo,
		PricePro:      cfg.Stripe.PricePro,
		PriceBusiness: cfg.Stripe.PriceBusiness,
	}

	resp := controller.Responder{Details: cfg.IsDevelopment()}
	rt := &routes{
		Verifier:   verifier,
		CronSecret: cfg.CronSecret,
		Usage:      &controller.UsageController{Responder: resp, UsageService: usageService, BillingService: billingService},
		Generate: &controller.GenerateController{
			Responder:         resp,
			GenerationService: &service.GenerationService{Usage: usageService, Generator: generator},
		},
		Recurring: &controller.RecurringController{Responder: resp, RecurringService: recurringService},
		Orders:    &controller.OrderController{Responder: resp, OrderService: orderService},
		Webhooks: &controller.WebhookController{
			Responder:     resp,
			Reconciler:    reconciler,
			Authenticator: auth.HMACAuthenticator{},
			Secret:        cfg.ThanksIO.WebhookSecret,
		},
		Stripe: &controller.StripeController{Responder: resp, Billing: billingService, WebhookSecret: cfg.Stripe.WebhookSecret},
		Cron: &controller.CronController{
			Responder:        resp,
			RecurringLetters: recurringService.ProcessDue,
			ScheduledOrders:  processor.ProcessScheduled,
		},
		Reads: handler.NewOrderHandler(orderService, resp),
	}
	if cfg.CronSecret == "" {
		slog.Warn("CRON_SECRET is not set; cron endpoints will refuse every call")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           rt.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("🚀 server listening", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}

// openQueue prefers the broker. Without AMQP_URL, notifications go through the
// in-process queue and are mailed from this process when SMTP is configured.
func openQueue(cfg *config.Config, accounts notify.AccountLookup) (queue.Queue, func()) {
	if cfg.AMQPURL != "" {
		aq, err := queue.NewAMQPQueue(cfg.AMQPURL)
		if err == nil {
			slog.Info("publishing notifications to AMQP", "queue", cfg.NotificationsQueue)
			return aq, func() { aq.Close() }
		}
		slog.Warn("AMQP unavailable, falling back to in-memory queue", "error", err)
	}

	mq := queue.NewInMemoryQueue()
	if cfg.SMTP.Host == "" {
		slog.Warn("SMTP not configured; status notifications will only be logged")
		mq.Subscribe(cfg.NotificationsQueue, func(payload any) error {
			note, err := notify.Decode(payload)
			if err != nil {
				return nil
			}
			slog.Info("notification not mailed", "account_id", note.AccountID, "external_id", note.ExternalID, "status", note.Status)
			return nil
		})
		return mq, mq.Wait
	}
	deliverer := &notify.Deliverer{
		Accounts: accounts,
		Mailer:   notify.NewSMTPMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password, cfg.SMTP.From),
	}
	mq.Subscribe(cfg.NotificationsQueue, func(payload any) error {
		return deliverer.Handle(context.Background(), payload)
	})
	return mq, mq.Wait
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
