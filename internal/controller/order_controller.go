// internal/controller/order_controller.go
package controller

import (
	"net/http"

	"github.com/unclebandit/steadyletters-backend/internal/model"
	"github.com/unclebandit/steadyletters-backend/internal/service"
)

type OrderController struct {
	Responder
	OrderService *service.OrderService
}

// CreateOrder dispatches immediately unless scheduledFor lies in the future.
func (c *OrderController) CreateOrder(w http.ResponseWriter, r *http.Request) {
	accountID, ok := c.RequireAccount(w, r)
	if !ok {
		return
	}

	var body service.CreateOrderInput
	if !c.decodeBody(w, r, &body) {
		return
	}

	order, err := c.OrderService.CreateOrder(r.Context(), accountID, body)
	if err != nil {
		c.Error(w, err)
		return
	}

	status := http.StatusCreated
	if order.Status == model.OrderStatusScheduled {
		status = http.StatusAccepted
	}
	WriteJSON(w, status, order)
}

func (c *OrderController) SendMailOrder(w http.ResponseWriter, r *http.Request) {
	accountID, ok := c.RequireAccount(w, r)
	if !ok {
		return
	}

	var body service.MailOrderInput
	if !c.decodeBody(w, r, &body) {
		return
	}

	mo, err := c.OrderService.SendMailOrder(r.Context(), accountID, body)
	if err != nil {
		c.Error(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, mo)
}
