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
	"github.com/unclebandit/steadyletters-backend/internal/schedule"
	"github.com/unclebandit/steadyletters-backend/internal/tier"
)

type RecurringService struct {
	RecurringRepo repository.RecurringLetterRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface
	OrderRepo     repository.OrderRepositoryInterface
	Usage         *UsageService
	Dispatcher    mail.Dispatcher

	DispatchTimeout time.Duration
	BatchLimit      int
	Now             func() time.Time
}

type RecurringInput struct {
	RecipientID      int     `json:"recipientId"`
	Message          string  `json:"message"`
	HandwritingStyle *string `json:"handwritingStyle,omitempty"`
	Frequency        string  `json:"frequency"`
}

// RecurringPatch holds the fields a PATCH may change; nil means unchanged.
type RecurringPatch struct {
	RecipientID      *int    `json:"recipientId,omitempty"`
	Message          *string `json:"message,omitempty"`
	HandwritingStyle *string `json:"handwritingStyle,omitempty"`
	Frequency        *string `json:"frequency,omitempty"`
	Active           *bool   `json:"active,omitempty"`
}

func (s *RecurringService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *RecurringService) ownedRecipient(ctx context.Context, accountID string, recipientID int) error {
	r, err := s.RecipientRepo.GetByID(ctx, recipientID)
	if err != nil {
		return err
	}
	if r.AccountID != accountID {
		return appErrors.NewNotFound("recipient", recipientID)
	}
	return nil
}

func (s *RecurringService) Create(ctx context.Context, accountID string, in RecurringInput) (*model.RecurringLetter, error) {
	freq, err := schedule.ParseFrequency(in.Frequency)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Message) == "" {
		return nil, appErrors.NewValidation("message", "is required")
	}
	if in.RecipientID <= 0 {
		return nil, appErrors.NewValidation("recipientId", "is required")
	}
	if err := s.ownedRecipient(ctx, accountID, in.RecipientID); err != nil {
		return nil, err
	}

	next, err := schedule.CalculateNextSendDate(freq, s.now())
	if err != nil {
		return nil, err
	}

	l := &model.RecurringLetter{
		AccountID:        accountID,
		RecipientID:      in.RecipientID,
		Message:          in.Message,
		HandwritingStyle: in.HandwritingStyle,
		Frequency:        string(freq),
		Active:           true,
		NextSendAt:       next,
	}
	if err := s.RecurringRepo.Create(ctx, l); err != nil {
		return nil, fmt.Errorf("create recurring letter: %w", err)
	}
	return l, nil
}

// Get returns the letter only if accountID owns it.
func (s *RecurringService) Get(ctx context.Context, accountID string, id int) (*model.RecurringLetter, error) {
	l, err := s.RecurringRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.AccountID != accountID {
		return nil, appErrors.NewNotFound("recurring letter", id)
	}
	return l, nil
}

func (s *RecurringService) List(ctx context.Context, accountID string) ([]*model.RecurringLetter, error) {
	return s.RecurringRepo.ListByAccount(ctx, accountID)
}

// Update applies patch. A frequency change recomputes nextSendAt from now.
func (s *RecurringService) Update(ctx context.Context, accountID string, id int, patch RecurringPatch) (*model.RecurringLetter, error) {
	l, err := s.Get(ctx, accountID, id)
	if err != nil {
		return nil, err
	}

	reschedule := false
	if patch.Frequency != nil {
		freq, err := schedule.ParseFrequency(*patch.Frequency)
		if err != nil {
			return nil, err
		}
		if string(freq) != l.Frequency {
			next, err := schedule.CalculateNextSendDate(freq, s.now())
			if err != nil {
				return nil, err
			}
			l.Frequency = string(freq)
			l.NextSendAt = next
			reschedule = true
		}
	}
	if patch.Message != nil {
		if strings.TrimSpace(*patch.Message) == "" {
			return nil, appErrors.NewValidation("message", "cannot be empty")
		}
		l.Message = *patch.Message
	}
	if patch.RecipientID != nil && *patch.RecipientID != l.RecipientID {
		if err := s.ownedRecipient(ctx, accountID, *patch.RecipientID); err != nil {
			return nil, err
		}
		l.RecipientID = *patch.RecipientID
	}
	if patch.HandwritingStyle != nil {
		l.HandwritingStyle = patch.HandwritingStyle
	}
	if patch.Active != nil {
		l.Active = *patch.Active
	}

	if err := s.RecurringRepo.Update(ctx, l, reschedule); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *RecurringService) Delete(ctx context.Context, accountID string, id int) error {
	return s.RecurringRepo.Delete(ctx, accountID, id)
}

// ProcessDue materializes every due recurring letter into an order and
// dispatches it. Item failures are recorded; only store errors abort the run.
func (s *RecurringService) ProcessDue(ctx context.Context) (*BatchResult, error) {
	now := s.now()
	result := newBatchResult()
	log := slog.With("run_id", result.RunID, "job", "recurring_letters")

	limit := s.BatchLimit
	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	due, err := s.RecurringRepo.ListDue(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due recurring letters: %w", err)
	}
	log.Info("recurring scan started", "due", len(due))

	for _, letter := range due {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.processOne(ctx, log, letter, now, result); err != nil {
			log.Error("recurring scan aborted", "recurring_letter_id", letter.ID, "error", err)
			return result, err
		}
	}

	log.Info("recurring scan finished",
		"processed", result.Processed,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"skipped", result.Skipped,
	)
	return result, nil
}

// processOne returns an error only for failures that must abort the batch.
// The letter is claimed by advancing next_send_at before anything is sent; a
// scan that loses the claim skips the letter, and a failed send releases it.
func (s *RecurringService) processOne(ctx context.Context, log *slog.Logger, letter *model.RecurringLetter, now time.Time, result *BatchResult) error {
	log = log.With("recurring_letter_id", letter.ID, "account_id", letter.AccountID)

	freq, err := schedule.ParseFrequency(letter.Frequency)
	if err != nil {
		result.Processed++
		result.fail("recurring letter %d: %v", letter.ID, err)
		return nil
	}
	next, err := schedule.CalculateNextSendDate(freq, now)
	if err != nil {
		return err
	}

	claimed, err := s.RecurringRepo.ClaimDue(ctx, letter.ID, letter.NextSendAt, next)
	if err != nil {
		return fmt.Errorf("claim recurring letter %d: %w", letter.ID, err)
	}
	if !claimed {
		result.Skipped++
		log.Info("recurring letter claimed by another run")
		return nil
	}
	result.Processed++

	release := func() error {
		return s.RecurringRepo.ReleaseClaim(ctx, letter.ID, next, letter.NextSendAt)
	}
	// itemFailed records a per-item failure and makes the letter due again.
	itemFailed := func(cause error) error {
		result.fail("recurring letter %d: %v", letter.ID, cause)
		if err := release(); err != nil {
			return fmt.Errorf("release recurring letter %d: %w", letter.ID, err)
		}
		return nil
	}
	// abort gives the claim back on a best-effort basis before the batch stops.
	abort := func(cause error) error {
		if err := release(); err != nil {
			log.Error("failed to release claim", "error", err)
		}
		return cause
	}

	recipient, err := s.RecipientRepo.GetByID(ctx, letter.RecipientID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			return itemFailed(err)
		}
		return abort(fmt.Errorf("load recipient %d: %w", letter.RecipientID, err))
	}

	if s.Usage != nil {
		if _, err := s.Usage.Reserve(ctx, letter.AccountID, tier.ActionSend, 1); err != nil {
			if appErrors.IsQuotaExceeded(err) {
				log.Warn("recurring send over quota", "error", err)
				return itemFailed(err)
			}
			return abort(fmt.Errorf("reserve send quota: %w", err))
		}
	}
	releaseQuota := func() {
		if s.Usage != nil {
			s.Usage.releaseQuietly(ctx, letter.AccountID, tier.ActionSend, 1)
		}
	}

	letterID := letter.ID
	order := &model.Order{
		AccountID:         letter.AccountID,
		RecipientID:       letter.RecipientID,
		RecurringLetterID: &letterID,
		Status:            model.OrderStatusQueued,
		ProductType:       model.ProductLetter,
		Message:           letter.Message,
	}
	if err := s.OrderRepo.Create(ctx, order); err != nil {
		releaseQuota()
		return abort(fmt.Errorf("create order for recurring letter %d: %w", letter.ID, err))
	}
	log = log.With("order_id", order.ID)

	res, err := s.dispatch(ctx, mail.LetterRequest{
		Recipients:       []mail.Address{toAddress(recipient)},
		Message:          letter.Message,
		HandwritingStyle: derefString(letter.HandwritingStyle),
	})
	if err != nil {
		log.Warn("recurring dispatch failed", "error", err)
		releaseQuota()
		if merr := s.OrderRepo.MarkFailed(ctx, order.ID, err.Error()); merr != nil {
			return abort(fmt.Errorf("mark order %d failed: %w", order.ID, merr))
		}
		return itemFailed(appErrors.NewDispatch(err))
	}

	if err := s.OrderRepo.AttachExternalID(ctx, order.ID, res.ID, model.OrderStatusQueued); err != nil {
		return fmt.Errorf("attach external id %s to order %d: %w", res.ID, order.ID, err)
	}
	if err := s.RecurringRepo.MarkSent(ctx, letter.ID, now); err != nil {
		return fmt.Errorf("mark recurring letter %d sent: %w", letter.ID, err)
	}

	result.Succeeded++
	log.Info("recurring letter sent", "external_id", res.ID, "next_send_at", next)
	return nil
}

func (s *RecurringService) dispatch(ctx context.Context, req mail.LetterRequest) (*mail.DispatchResult, error) {
	timeout := s.DispatchTimeout
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.Dispatcher.SendLetter(dctx, req)
}
