package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/unclebandit/steadyletters-backend/internal/dedup"
	appErrors "github.com/unclebandit/steadyletters-backend/internal/errors"
	"github.com/unclebandit/steadyletters-backend/internal/model"
	"github.com/unclebandit/steadyletters-backend/internal/notify"
	"github.com/unclebandit/steadyletters-backend/internal/repository"
)

// StatusEvent is the provider's delivery-status callback.
type StatusEvent struct {
	OrderID   string `json:"order_id"`
	Status    string `json:"status,omitempty"`
	EventType string `json:"event_type,omitempty"`
}

type ReconcileResult struct {
	Received          bool `json:"received"`
	OrdersUpdated     int  `json:"ordersUpdated"`
	MailOrdersUpdated int  `json:"mailOrdersUpdated"`
	EmailsSent        int  `json:"emailsSent"`
}

// Deduper is satisfied by *dedup.Filter.
type Deduper interface {
	IsNew(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

type ReconciliationService struct {
	OrderRepo     repository.OrderRepositoryInterface
	MailOrderRepo repository.MailOrderRepositoryInterface
	Notifier      notify.Notifier
	Dedup         Deduper
}

// ParseStatusEvent decodes and validates a webhook body.
func ParseStatusEvent(body []byte) (StatusEvent, error) {
	var ev StatusEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, appErrors.NewValidation("body", "invalid JSON")
	}
	ev.OrderID = strings.TrimSpace(ev.OrderID)
	if ev.OrderID == "" {
		return ev, appErrors.NewValidation("order_id", "is required")
	}
	return ev, nil
}

// ResolveStatus prefers the explicit status and otherwise takes the last
// segment of the event type ("order.delivered" -> "delivered").
func (e StatusEvent) ResolveStatus() string {
	if s := strings.TrimSpace(e.Status); s != "" {
		return s
	}
	et := strings.TrimSpace(e.EventType)
	if i := strings.LastIndex(et, "."); i >= 0 {
		et = et[i+1:]
	}
	return et
}

// HandleStatusEvent overwrites the status of every order and mail order
// carrying the external id. An unknown id updates nothing and is not an error.
// An event without a status or event type is acknowledged as a no-op.
func (s *ReconciliationService) HandleStatusEvent(ctx context.Context, ev StatusEvent) (*ReconcileResult, error) {
	status := ev.ResolveStatus()
	log := slog.With("run_id", uuid.NewString(), "external_id", ev.OrderID, "status", status)
	if status == "" {
		log.Info("status event without status ignored")
		return &ReconcileResult{Received: true}, nil
	}

	orders, err := s.OrderRepo.UpdateStatusByExternalID(ctx, ev.OrderID, status)
	if err != nil {
		return nil, fmt.Errorf("update orders: %w", err)
	}
	mailOrders, err := s.MailOrderRepo.UpdateStatusByExternalID(ctx, ev.OrderID, status)
	if err != nil {
		return nil, fmt.Errorf("update mail orders: %w", err)
	}

	result := &ReconcileResult{
		Received:          true,
		OrdersUpdated:     len(orders),
		MailOrdersUpdated: len(mailOrders),
	}
	if result.OrdersUpdated+result.MailOrdersUpdated == 0 {
		log.Info("status event for unknown external id")
		return result, nil
	}

	for _, row := range append(orders, mailOrders...) {
		if s.notifyRow(ctx, log, row, ev.OrderID, status) {
			result.EmailsSent++
		}
	}

	log.Info("status event reconciled",
		"orders_updated", result.OrdersUpdated,
		"mail_orders_updated", result.MailOrdersUpdated,
		"emails_sent", result.EmailsSent,
	)
	return result, nil
}

// notifyRow is best effort: failures are logged and never surface.
func (s *ReconciliationService) notifyRow(ctx context.Context, log *slog.Logger, row model.UpdatedRow, externalID, status string) bool {
	if s.Notifier == nil {
		return false
	}
	log = log.With("kind", row.Kind, "row_id", row.ID, "account_id", row.AccountID)

	key := dedup.Key(row.Kind, row.ID, externalID, status)
	if s.Dedup != nil {
		isNew, err := s.Dedup.IsNew(ctx, key)
		if err != nil {
			log.Warn("dedup check failed, notifying anyway", "error", err)
		} else if !isNew {
			log.Debug("notification already sent for this status")
			return false
		}
	}

	err := s.Notifier.Notify(ctx, notify.OrderStatusNotification{
		AccountID:  row.AccountID,
		Kind:       row.Kind,
		RowID:      row.ID,
		ExternalID: externalID,
		Status:     status,
	})
	if err != nil {
		log.Error("notification failed", "error", err)
		if s.Dedup != nil {
			if ferr := s.Dedup.Forget(ctx, key); ferr != nil {
				log.Warn("failed to clear dedup key", "error", ferr)
			}
		}
		return false
	}
	return true
}
