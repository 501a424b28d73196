// cmd/server/routes.go
package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/unclebandit/steadyletters-backend/internal/auth"
	"github.com/unclebandit/steadyletters-backend/internal/controller"
	"github.com/unclebandit/steadyletters-backend/internal/handler"
)

// routes bundles everything the router needs.
type routes struct {
	Verifier   auth.TokenVerifier
	CronSecret string

	Usage     *controller.UsageController
	Generate  *controller.GenerateController
	Recurring *controller.RecurringController
	Orders    *controller.OrderController
	Webhooks  *controller.WebhookController
	Stripe    *controller.StripeController
	Cron      *controller.CronController
	Reads     *handler.OrderHandler
}

func (rt *routes) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		controller.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		// Signed by the caller; no user session.
		r.Post("/webhooks/thanks-io", rt.Webhooks.ThanksIOStatus)
		r.Post("/webhooks/stripe", rt.Stripe.StripeWebhook)

		r.Group(func(r chi.Router) {
			r.Use(auth.CronMiddleware(rt.CronSecret))
			r.Post("/cron/recurring-letters", rt.Cron.RunRecurringLetters)
			r.Post("/cron/scheduled-orders", rt.Cron.RunScheduledOrders)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(rt.Verifier))
			r.Use(middleware.Timeout(60 * time.Second))

			r.Post("/auth/sync", rt.Usage.SyncAccount)
			r.Get("/usage", rt.Usage.GetUsage)

			r.Post("/generate/letter", rt.Generate.GenerateLetter)
			r.Post("/generate/images", rt.Generate.GenerateImages)
			r.Post("/transcribe", rt.Generate.Transcribe)
			r.Post("/analyze-image", rt.Generate.AnalyzeImage)

			r.Get("/recurring", rt.Recurring.ListRecurring)
			r.Post("/recurring", rt.Recurring.CreateRecurring)
			r.Get("/recurring/{id}", rt.Reads.GetRecurringHandler)
			r.Patch("/recurring/{id}", rt.Recurring.UpdateRecurring)
			r.Delete("/recurring/{id}", rt.Recurring.DeleteRecurring)

			r.Post("/orders", rt.Orders.CreateOrder)
			r.Get("/orders", rt.Reads.ListOrdersHandler)
			r.Post("/mail-orders", rt.Orders.SendMailOrder)
		})
	})

	return r
}
