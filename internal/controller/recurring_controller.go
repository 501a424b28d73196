// internal/controller/recurring_controller.go
package controller

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/steadyletters-backend/internal/errors"
	"github.com/unclebandit/steadyletters-backend/internal/service"
)

type RecurringController struct {
	Responder
	RecurringService *service.RecurringService
}

func pathID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		return 0, appErrors.NewValidation("id", "must be a positive integer")
	}
	return id, nil
}

func (c *RecurringController) ListRecurring(w http.ResponseWriter, r *http.Request) {
	accountID, ok := c.RequireAccount(w, r)
	if !ok {
		return
	}

	letters, err := c.RecurringService.List(r.Context(), accountID)
	if err != nil {
		c.Error(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"data": letters})
}

func (c *RecurringController) CreateRecurring(w http.ResponseWriter, r *http.Request) {
	accountID, ok := c.RequireAccount(w, r)
	if !ok {
		return
	}

	var body service.RecurringInput
	if !c.decodeBody(w, r, &body) {
		return
	}

	letter, err := c.RecurringService.Create(r.Context(), accountID, body)
	if err != nil {
		c.Error(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, letter)
}

func (c *RecurringController) UpdateRecurring(w http.ResponseWriter, r *http.Request) {
	accountID, ok := c.RequireAccount(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		c.Error(w, err)
		return
	}

	var patch service.RecurringPatch
	if !c.decodeBody(w, r, &patch) {
		return
	}

	letter, err := c.RecurringService.Update(r.Context(), accountID, id, patch)
	if err != nil {
		c.Error(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, letter)
}

func (c *RecurringController) DeleteRecurring(w http.ResponseWriter, r *http.Request) {
	accountID, ok := c.RequireAccount(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		c.Error(w, err)
		return
	}

	if err := c.RecurringService.Delete(r.Context(), accountID, id); err != nil {
		c.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
