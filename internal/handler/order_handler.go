// internal/handler/order_handler.go
package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/steadyletters-backend/internal/controller"
	appErrors "github.com/unclebandit/steadyletters-backend/internal/errors"
	"github.com/unclebandit/steadyletters-backend/internal/service"
)

// OrderHandler serves the account's read-only order views.
type OrderHandler struct {
	controller.Responder
	Service *service.OrderService
}

func NewOrderHandler(svc *service.OrderService, resp controller.Responder) *OrderHandler {
	return &OrderHandler{Responder: resp, Service: svc}
}

// ListOrdersHandler returns a paginated list of the caller's orders
func (h *OrderHandler) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.RequireAccount(w, r)
	if !ok {
		return
	}

	page := 1
	pageSize := 20
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if ps, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && ps > 0 {
		pageSize = ps
	}
	status := r.URL.Query().Get("status")

	orders, pagination, err := h.Service.ListOrders(r.Context(), accountID, page, pageSize, status)
	if err != nil {
		h.Error(w, err)
		return
	}

	controller.WriteJSON(w, http.StatusOK, map[string]any{
		"data":       orders,
		"pagination": pagination,
	})
}

// GetRecurringHandler returns one recurring letter with per-status counts of
// the orders it has produced.
func (h *OrderHandler) GetRecurringHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.RequireAccount(w, r)
	if !ok {
		return
	}

	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, appErrors.NewValidation("id", "invalid recurring letter id"))
		return
	}

	details, err := h.Service.GetRecurringDetails(r.Context(), accountID, id)
	if err != nil {
		h.Error(w, err)
		return
	}

	slog.Debug("recurring details served", "recurring_letter_id", id, "total_orders", details.Stats["total"])
	controller.WriteJSON(w, http.StatusOK, details)
}
