// internal/controller/cron_controller.go
package controller

import (
	"context"
	"net/http"

	"github.com/unclebandit/steadyletters-backend/internal/service"
)

// BatchRunner is one due-scan: the recurring scheduler or the scheduled order processor.
type BatchRunner func(ctx context.Context) (*service.BatchResult, error)

// CronController exposes the due-scans to an external trigger. Routes are
// expected behind auth.CronMiddleware.
type CronController struct {
	Responder
	RecurringLetters BatchRunner
	ScheduledOrders  BatchRunner
}

func (c *CronController) RunRecurringLetters(w http.ResponseWriter, r *http.Request) {
	c.runBatch(w, r, c.RecurringLetters)
}

func (c *CronController) RunScheduledOrders(w http.ResponseWriter, r *http.Request) {
	c.runBatch(w, r, c.ScheduledOrders)
}

func (c *CronController) runBatch(w http.ResponseWriter, r *http.Request, run BatchRunner) {
	result, err := run(r.Context())
	if err != nil {
		c.Error(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}
