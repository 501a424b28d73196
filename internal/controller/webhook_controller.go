// internal/controller/webhook_controller.go
package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/unclebandit/steadyletters-backend/internal/auth"
	appErrors "github.com/unclebandit/steadyletters-backend/internal/errors"
	"github.com/unclebandit/steadyletters-backend/internal/service"
)

const maxWebhookBytes = 1 << 20

// StatusReconciler is satisfied by *service.ReconciliationService.
type StatusReconciler interface {
	HandleStatusEvent(ctx context.Context, ev service.StatusEvent) (*service.ReconcileResult, error)
}

// WebhookController receives mail-provider status callbacks. The signature is
// checked over the raw body before anything is parsed or written.
type WebhookController struct {
	Responder
	Reconciler    StatusReconciler
	Authenticator auth.Authenticator
	Secret        string
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		return nil, appErrors.NewValidation("body", "unreadable or too large")
	}
	return body, nil
}

func (c *WebhookController) ThanksIOStatus(w http.ResponseWriter, r *http.Request) {
	if c.Secret == "" {
		slog.Error("webhook secret not configured")
		WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "webhook not configured"})
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		c.Error(w, err)
		return
	}

	if !c.Authenticator.Verify(body, r.Header.Get(auth.SignatureHeader), c.Secret) {
		slog.Warn("rejected webhook with bad signature", "remote_addr", r.RemoteAddr)
		c.Error(w, appErrors.NewUnauthorized("invalid signature"))
		return
	}

	ev, err := service.ParseStatusEvent(body)
	if err != nil {
		c.Error(w, err)
		return
	}

	result, err := c.Reconciler.HandleStatusEvent(r.Context(), ev)
	if err != nil {
		c.Error(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// StripeEventHandler is satisfied by *service.BillingService.
type StripeEventHandler interface {
	HandleEvent(ctx context.Context, event stripe.Event) error
}

type StripeController struct {
	Responder
	Billing       StripeEventHandler
	WebhookSecret string
}

func (c *StripeController) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if c.WebhookSecret == "" {
		slog.Error("stripe webhook secret not configured")
		WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "webhook not configured"})
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		c.Error(w, err)
		return
	}

	event, err := webhook.ConstructEventWithOptions(body, r.Header.Get("Stripe-Signature"), c.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		slog.Warn("rejected stripe webhook", "error", err)
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid stripe signature"})
		return
	}

	if err := c.Billing.HandleEvent(r.Context(), event); err != nil {
		var verr *appErrors.ErrValidation
		if errors.As(err, &verr) {
			// Malformed payloads will not improve on redelivery.
			slog.Warn("stripe event rejected", "stripe_event_id", event.ID, "error", err)
			WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
			return
		}
		c.Error(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}
