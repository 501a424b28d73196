// internal/controller/usage_controller.go
package controller

import (
	"net/http"

	"github.com/unclebandit/steadyletters-backend/internal/auth"
	"github.com/unclebandit/steadyletters-backend/internal/service"
)

type UsageController struct {
	Responder
	UsageService   *service.UsageService
	BillingService *service.BillingService
}

// GetUsage returns the subscription block and every metered counter.
func (c *UsageController) GetUsage(w http.ResponseWriter, r *http.Request) {
	accountID, ok := c.RequireAccount(w, r)
	if !ok {
		return
	}

	summary, err := c.UsageService.Summary(r.Context(), accountID)
	if err != nil {
		c.Error(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}

// SyncAccount upserts the caller's account from the verified token claims.
func (c *UsageController) SyncAccount(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	accountID, ok := c.RequireAccount(w, r)
	if !ok {
		return
	}

	account, err := c.BillingService.SyncAccount(r.Context(), accountID, claims.Email)
	if err != nil {
		c.Error(w, err)
		return
	}
	if _, err := c.UsageService.GetOrCreateLedger(r.Context(), accountID); err != nil {
		c.Error(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, account)
}
