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
)

// OrderProcessor dispatches orders whose scheduled time has arrived.
type OrderProcessor struct {
	OrderRepo     repository.OrderRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface
	TemplateRepo  repository.TemplateRepositoryInterface
	Dispatcher    mail.Dispatcher

	DispatchTimeout time.Duration
	BatchLimit      int
	Now             func() time.Time
}

func (p *OrderProcessor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// ProcessScheduled claims and dispatches due orders oldest first. An order is
// only dispatched after the claim succeeds, so overlapping runs skip it.
func (p *OrderProcessor) ProcessScheduled(ctx context.Context) (*BatchResult, error) {
	now := p.now()
	result := newBatchResult()
	log := slog.With("run_id", result.RunID, "job", "scheduled_orders")

	limit := p.BatchLimit
	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	due, err := p.OrderRepo.ListDueScheduled(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due orders: %w", err)
	}
	log.Info("scheduled scan started", "due", len(due))

	for _, order := range due {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		claimed, err := p.OrderRepo.ClaimScheduled(ctx, order.ID, now)
		if err != nil {
			return result, fmt.Errorf("claim order %d: %w", order.ID, err)
		}
		if !claimed {
			result.Skipped++
			log.Debug("order claimed elsewhere", "order_id", order.ID)
			continue
		}

		result.Processed++
		if err := p.processOne(ctx, log.With("order_id", order.ID, "account_id", order.AccountID), order, result); err != nil {
			log.Error("scheduled scan aborted", "order_id", order.ID, "error", err)
			return result, err
		}
	}

	log.Info("scheduled scan finished",
		"processed", result.Processed,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"skipped", result.Skipped,
	)
	return result, nil
}

func (p *OrderProcessor) processOne(ctx context.Context, log *slog.Logger, order *model.Order, result *BatchResult) error {
	recipient, err := p.RecipientRepo.GetByID(ctx, order.RecipientID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			return p.markFailed(ctx, order, err, result)
		}
		return fmt.Errorf("load recipient %d: %w", order.RecipientID, err)
	}

	var tmpl *model.Template
	if order.TemplateID != nil {
		tmpl, err = p.TemplateRepo.GetByID(ctx, *order.TemplateID)
		if err != nil {
			if appErrors.IsNotFound(err) {
				return p.markFailed(ctx, order, err, result)
			}
			return fmt.Errorf("load template %d: %w", *order.TemplateID, err)
		}
	}

	message := order.Message
	handwriting := ""
	if tmpl != nil {
		if strings.TrimSpace(message) == "" {
			message = tmpl.Message
		}
		handwriting = derefString(tmpl.HandwritingStyle)
	}
	if strings.TrimSpace(message) == "" {
		return p.markFailed(ctx, order, appErrors.NewValidation("message", "order has no message"), result)
	}

	dctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	recipients := []mail.Address{toAddress(recipient)}
	var res *mail.DispatchResult
	if tmpl.ProductType() == model.ProductPostcard {
		res, err = p.Dispatcher.SendPostcard(dctx, mail.PostcardRequest{
			Recipients:       recipients,
			Message:          message,
			FrontImageURL:    derefString(tmpl.FrontImageURL),
			HandwritingStyle: handwriting,
		})
	} else {
		res, err = p.Dispatcher.SendLetter(dctx, mail.LetterRequest{
			Recipients:       recipients,
			Message:          message,
			HandwritingStyle: handwriting,
		})
	}
	if err != nil {
		log.Warn("scheduled dispatch failed", "error", err)
		return p.markFailed(ctx, order, appErrors.NewDispatch(err), result)
	}

	if err := p.OrderRepo.AttachExternalID(ctx, order.ID, res.ID, model.OrderStatusQueued); err != nil {
		return fmt.Errorf("attach external id %s to order %d: %w", res.ID, order.ID, err)
	}

	result.Succeeded++
	log.Info("scheduled order dispatched", "external_id", res.ID, "product_type", tmpl.ProductType())
	return nil
}

func (p *OrderProcessor) markFailed(ctx context.Context, order *model.Order, cause error, result *BatchResult) error {
	if err := p.OrderRepo.MarkFailed(ctx, order.ID, cause.Error()); err != nil {
		return fmt.Errorf("mark order %d failed: %w", order.ID, err)
	}
	result.fail("order %d: %v", order.ID, cause)
	return nil
}

func (p *OrderProcessor) timeout() time.Duration {
	if p.DispatchTimeout > 0 {
		return p.DispatchTimeout
	}
	return DefaultDispatchTimeout
}
