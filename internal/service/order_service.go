package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	appErrors "github.com/unclebandit/steadyletters-backend/internal/errors"
	"github.com/unclebandit/steadyletters-backend/internal/mail"
	"github.com/unclebandit/steadyletters-backend/internal/model"
	"github.com/unclebandit/steadyletters-backend/internal/repository"
	"github.com/unclebandit/steadyletters-backend/internal/tier"
)

// OrderService creates account-initiated orders. Scheduled orders reserve
// their send quota at creation since they are dispatched without a caller.
type OrderService struct {
	OrderRepo     repository.OrderRepositoryInterface
	MailOrderRepo repository.MailOrderRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface
	TemplateRepo  repository.TemplateRepositoryInterface
	RecurringRepo repository.RecurringLetterRepositoryInterface
	Usage         *UsageService
	Dispatcher    mail.Dispatcher

	DispatchTimeout time.Duration
	Now             func() time.Time
}

type CreateOrderInput struct {
	RecipientID  int     `json:"recipientId"`
	TemplateID   *int    `json:"templateId,omitempty"`
	Message      string  `json:"message"`
	ScheduledFor *string `json:"scheduledFor,omitempty"`
}

type MailOrderInput struct {
	RecipientIDs     []int  `json:"recipientIds"`
	Message          string `json:"message"`
	FrontImageURL    string `json:"frontImageUrl,omitempty"`
	HandwritingStyle string `json:"handwritingStyle,omitempty"`
}

// RecurringDetails is a recurring letter plus per-status counts of its orders.
type RecurringDetails struct {
	*model.RecurringLetter
	Stats map[string]int `json:"stats"`
}

func (s *OrderService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// CreateOrder stores a scheduled order when scheduledFor lies in the future
// and otherwise dispatches immediately.
func (s *OrderService) CreateOrder(ctx context.Context, accountID string, in CreateOrderInput) (*model.Order, error) {
	if in.RecipientID <= 0 {
		return nil, appErrors.NewValidation("recipientId", "is required")
	}

	var scheduledFor *time.Time
	if in.ScheduledFor != nil && strings.TrimSpace(*in.ScheduledFor) != "" {
		t, err := time.Parse(time.RFC3339, *in.ScheduledFor)
		if err != nil {
			return nil, appErrors.NewValidation("scheduledFor", "must be an RFC3339 timestamp")
		}
		scheduledFor = &t
	}

	recipient, err := s.RecipientRepo.GetByID(ctx, in.RecipientID)
	if err != nil {
		return nil, err
	}
	if recipient.AccountID != accountID {
		return nil, appErrors.NewNotFound("recipient", in.RecipientID)
	}

	var tmpl *model.Template
	if in.TemplateID != nil {
		tmpl, err = s.TemplateRepo.GetByID(ctx, *in.TemplateID)
		if err != nil {
			return nil, err
		}
		if tmpl.AccountID != accountID {
			return nil, appErrors.NewNotFound("template", *in.TemplateID)
		}
	}

	message := in.Message
	if strings.TrimSpace(message) == "" && tmpl != nil {
		message = tmpl.Message
	}
	if strings.TrimSpace(message) == "" {
		return nil, appErrors.NewValidation("message", "is required without a template")
	}

	order := &model.Order{
		AccountID:   accountID,
		RecipientID: recipient.ID,
		TemplateID:  in.TemplateID,
		ProductType: tmpl.ProductType(),
		Message:     message,
	}

	if scheduledFor != nil && scheduledFor.After(s.now()) {
		if err := s.Usage.CheckAndRecord(ctx, accountID, tier.ActionSend, 1); err != nil {
			return nil, err
		}
		order.Status = model.OrderStatusScheduled
		order.ScheduledFor = scheduledFor
		if err := s.OrderRepo.Create(ctx, order); err != nil {
			return nil, fmt.Errorf("create scheduled order: %w", err)
		}
		slog.Info("order scheduled", "order_id", order.ID, "account_id", accountID, "scheduled_for", scheduledFor)
		return order, nil
	}

	if _, err := s.Usage.Reserve(ctx, accountID, tier.ActionSend, 1); err != nil {
		return nil, err
	}
	order.Status = model.OrderStatusProcessing
	if err := s.OrderRepo.Create(ctx, order); err != nil {
		s.Usage.releaseQuietly(ctx, accountID, tier.ActionSend, 1)
		return nil, fmt.Errorf("create order: %w", err)
	}

	res, err := s.send(ctx, []mail.Address{toAddress(recipient)}, message, tmpl)
	if err != nil {
		s.Usage.releaseQuietly(ctx, accountID, tier.ActionSend, 1)
		if merr := s.OrderRepo.MarkFailed(ctx, order.ID, err.Error()); merr != nil {
			slog.Error("failed to mark order failed", "order_id", order.ID, "error", merr)
		}
		return nil, appErrors.NewDispatch(err)
	}
	if err := s.OrderRepo.AttachExternalID(ctx, order.ID, res.ID, model.OrderStatusQueued); err != nil {
		return nil, fmt.Errorf("attach external id: %w", err)
	}

	order.ExternalID = &res.ID
	order.Status = model.OrderStatusQueued
	slog.Info("order dispatched", "order_id", order.ID, "account_id", accountID, "external_id", res.ID)
	return order, nil
}

func (s *OrderService) send(ctx context.Context, recipients []mail.Address, message string, tmpl *model.Template) (*mail.DispatchResult, error) {
	timeout := s.DispatchTimeout
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if tmpl.ProductType() == model.ProductPostcard {
		return s.Dispatcher.SendPostcard(dctx, mail.PostcardRequest{
			Recipients:       recipients,
			Message:          message,
			FrontImageURL:    derefString(tmpl.FrontImageURL),
			HandwritingStyle: derefString(tmpl.HandwritingStyle),
		})
	}
	var handwriting string
	if tmpl != nil {
		handwriting = derefString(tmpl.HandwritingStyle)
	}
	return s.Dispatcher.SendLetter(dctx, mail.LetterRequest{
		Recipients:       recipients,
		Message:          message,
		HandwritingStyle: handwriting,
	})
}

// SendMailOrder mails one message to several owned recipients in a single
// provider call. Each recipient counts as one send.
func (s *OrderService) SendMailOrder(ctx context.Context, accountID string, in MailOrderInput) (*model.MailOrder, error) {
	if len(in.RecipientIDs) == 0 {
		return nil, appErrors.NewValidation("recipientIds", "at least one recipient is required")
	}
	if strings.TrimSpace(in.Message) == "" {
		return nil, appErrors.NewValidation("message", "is required")
	}

	ids := uniqueIDs(in.RecipientIDs)
	recipients, err := s.RecipientRepo.ListOwned(ctx, accountID, ids)
	if err != nil {
		return nil, err
	}
	if len(recipients) != len(ids) {
		return nil, appErrors.NewNotFound("recipient", missingID(ids, recipients))
	}

	if _, err := s.Usage.Reserve(ctx, accountID, tier.ActionSend, len(recipients)); err != nil {
		return nil, err
	}

	addresses := make([]mail.Address, len(recipients))
	for i := range recipients {
		addresses[i] = toAddress(&recipients[i])
	}

	var tmpl *model.Template
	if in.FrontImageURL != "" || in.HandwritingStyle != "" {
		tmpl = &model.Template{HandwritingStyle: &in.HandwritingStyle}
		if in.FrontImageURL != "" {
			tmpl.FrontImageURL = &in.FrontImageURL
		}
	}

	res, err := s.send(ctx, addresses, in.Message, tmpl)
	if err != nil {
		s.Usage.releaseQuietly(ctx, accountID, tier.ActionSend, len(recipients))
		return nil, appErrors.NewDispatch(err)
	}

	mo := &model.MailOrder{
		AccountID:      accountID,
		ExternalID:     res.ID,
		ProductType:    tmpl.ProductType(),
		RecipientCount: len(recipients),
		Status:         model.OrderStatusQueued,
	}
	if err := s.MailOrderRepo.Create(ctx, mo); err != nil {
		return nil, fmt.Errorf("record mail order %s: %w", res.ID, err)
	}

	slog.Info("mail order dispatched", "mail_order_id", mo.ID, "account_id", accountID, "external_id", res.ID, "recipients", len(recipients))
	return mo, nil
}

// ListOrders fetches orders with pagination
func (s *OrderService) ListOrders(ctx context.Context, accountID string, page, pageSize int, status string) ([]model.Order, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.OrderRepo.ListByAccount(ctx, accountID, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	orders := make([]model.Order, len(ptrs))
	for i, o := range ptrs {
		orders[i] = *o
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return orders, pagination, nil
}

func (s *OrderService) GetRecurringDetails(ctx context.Context, accountID string, id int) (*RecurringDetails, error) {
	l, err := s.RecurringRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.AccountID != accountID {
		return nil, appErrors.NewNotFound("recurring letter", id)
	}

	stats, err := s.OrderRepo.GetRecurringStats(ctx, id)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, n := range stats {
		total += n
	}
	stats["total"] = total

	return &RecurringDetails{RecurringLetter: l, Stats: stats}, nil
}

func uniqueIDs(ids []int) []int {
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func missingID(ids []int, found []model.Recipient) int {
	have := make(map[int]bool, len(found))
	for _, r := range found {
		have[r.ID] = true
	}
	for _, id := range ids {
		if !have[id] {
			return id
		}
	}
	return 0
}
