package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	appErrors "github.com/unclebandit/steadyletters-backend/internal/errors"
	"github.com/unclebandit/steadyletters-backend/internal/model"
	"github.com/unclebandit/steadyletters-backend/internal/repository"
	"github.com/unclebandit/steadyletters-backend/internal/schedule"
	"github.com/unclebandit/steadyletters-backend/internal/tier"
)

// UsageService gates and records metered actions. Every failure to read or
// write the ledger is returned to the caller, so the action does not proceed.
type UsageService struct {
	UsageRepo   repository.UsageRepositoryInterface
	AccountRepo repository.AccountRepositoryInterface
	Now         func() time.Time
}

func NewUsageService(usageRepo repository.UsageRepositoryInterface, accountRepo repository.AccountRepositoryInterface) *UsageService {
	return &UsageService{UsageRepo: usageRepo, AccountRepo: accountRepo, Now: time.Now}
}

func (s *UsageService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// GetOrCreateLedger upserts the ledger (and a FREE account if needed) and reads it back.
func (s *UsageService) GetOrCreateLedger(ctx context.Context, accountID string) (*model.UsageLedger, error) {
	if accountID == "" {
		return nil, appErrors.NewUnauthorized("missing account")
	}
	if err := s.UsageRepo.EnsureLedger(ctx, accountID, schedule.NextResetBoundary(s.now())); err != nil {
		return nil, fmt.Errorf("ensure ledger: %w", err)
	}
	return s.UsageRepo.GetLedger(ctx, accountID)
}

// Used returns the ledger counter for an action.
func Used(l *model.UsageLedger, action tier.Action) int {
	switch action {
	case tier.ActionLetter:
		return l.LettersGenerated
	case tier.ActionImage:
		return l.ImagesGenerated
	case tier.ActionSend:
		return l.LettersSent
	case tier.ActionVoice:
		return l.VoiceTranscriptions
	case tier.ActionAnalysis:
		return l.ImageAnalyses
	}
	return 0
}

func (s *UsageService) IsActionAllowed(l *model.UsageLedger, action tier.Action) (bool, error) {
	limit, err := tier.Limit(tier.Parse(l.Tier), action)
	if err != nil {
		return false, err
	}
	return tier.Allowed(limit, Used(l, action)), nil
}

// RecordUsage adds amount to the counter. Non-positive amounts are ignored.
func (s *UsageService) RecordUsage(ctx context.Context, accountID string, action tier.Action, amount int) error {
	if amount <= 0 {
		return nil
	}
	if err := s.UsageRepo.Increment(ctx, accountID, action, amount); err != nil {
		return fmt.Errorf("record %s usage: %w", action, err)
	}
	return nil
}

// MaybeRollResetWindow zeroes the counters once the reset boundary has passed.
// The roll is a conditional update, so repeated or concurrent calls within
// the same window leave the ledger untouched after the first.
func (s *UsageService) MaybeRollResetWindow(ctx context.Context, l *model.UsageLedger) (*model.UsageLedger, error) {
	now := s.now()
	if now.Before(l.ResetAt) {
		return l, nil
	}

	rolled, err := s.UsageRepo.RollIfDue(ctx, l.AccountID, now, schedule.NextResetBoundary(now))
	if err != nil {
		return nil, fmt.Errorf("roll usage window: %w", err)
	}
	if rolled {
		slog.Info("usage window reset", "account_id", l.AccountID, "previous_reset_at", l.ResetAt)
	}
	return s.UsageRepo.GetLedger(ctx, l.AccountID)
}

// Check returns the current ledger if one more unit of action is allowed,
// or ErrQuotaExceeded.
func (s *UsageService) Check(ctx context.Context, accountID string, action tier.Action) (*model.UsageLedger, error) {
	l, err := s.GetOrCreateLedger(ctx, accountID)
	if err != nil {
		return nil, err
	}
	l, err = s.MaybeRollResetWindow(ctx, l)
	if err != nil {
		return nil, err
	}

	limit, err := tier.Limit(tier.Parse(l.Tier), action)
	if err != nil {
		return nil, err
	}
	used := Used(l, action)
	if !tier.Allowed(limit, used) {
		return l, appErrors.NewQuotaExceeded(string(action), used, limit)
	}
	return l, nil
}

// Reserve takes amount units of action in one conditional increment, so
// concurrent callers cannot push the counter past the tier limit. Work that
// fails after a successful Reserve should hand the units back with Release.
func (s *UsageService) Reserve(ctx context.Context, accountID string, action tier.Action, amount int) (*model.UsageLedger, error) {
	if amount <= 0 {
		return nil, appErrors.NewValidation("amount", "must be positive")
	}
	l, err := s.Check(ctx, accountID, action)
	if err != nil {
		return l, err
	}
	return s.reserve(ctx, l, action, amount)
}

// ReserveUpTo reserves as many of want units as the remaining quota allows
// (at least one) and returns how many it took.
func (s *UsageService) ReserveUpTo(ctx context.Context, accountID string, action tier.Action, want int) (int, error) {
	if want <= 0 {
		return 0, appErrors.NewValidation("amount", "must be positive")
	}
	l, err := s.Check(ctx, accountID, action)
	if err != nil {
		return 0, err
	}
	limit, err := tier.Limit(tier.Parse(l.Tier), action)
	if err != nil {
		return 0, err
	}
	granted := want
	if remaining := tier.Remaining(limit, Used(l, action)); remaining != tier.Unlimited && remaining < want {
		granted = remaining
	}
	if _, err := s.reserve(ctx, l, action, granted); err != nil {
		return 0, err
	}
	return granted, nil
}

func (s *UsageService) reserve(ctx context.Context, l *model.UsageLedger, action tier.Action, amount int) (*model.UsageLedger, error) {
	limit, err := tier.Limit(tier.Parse(l.Tier), action)
	if err != nil {
		return nil, err
	}
	ok, err := s.UsageRepo.IncrementWithin(ctx, l.AccountID, action, amount, limit)
	if err != nil {
		return nil, fmt.Errorf("reserve %s usage: %w", action, err)
	}
	if !ok {
		current, err := s.UsageRepo.GetLedger(ctx, l.AccountID)
		if err != nil {
			return nil, err
		}
		return current, appErrors.NewQuotaExceeded(string(action), Used(current, action), limit)
	}
	return l, nil
}

// Release returns reserved units. Non-positive amounts are ignored.
func (s *UsageService) Release(ctx context.Context, accountID string, action tier.Action, amount int) error {
	if amount <= 0 {
		return nil
	}
	if err := s.UsageRepo.Decrement(ctx, accountID, action, amount); err != nil {
		return fmt.Errorf("release %s usage: %w", action, err)
	}
	return nil
}

// releaseQuietly is Release for failure paths that already have an error to report.
func (s *UsageService) releaseQuietly(ctx context.Context, accountID string, action tier.Action, amount int) {
	if err := s.Release(ctx, accountID, action, amount); err != nil {
		slog.Error("failed to release reserved usage", "account_id", accountID, "action", action, "amount", amount, "error", err)
	}
}

// CheckAndRecord gates the action and, if allowed, records amount units.
func (s *UsageService) CheckAndRecord(ctx context.Context, accountID string, action tier.Action, amount int) error {
	_, err := s.Reserve(ctx, accountID, action, amount)
	return err
}

type Subscription struct {
	Tier             string     `json:"tier"`
	Status           string     `json:"status"`
	CurrentPeriodEnd *time.Time `json:"currentPeriodEnd"`
	PriceID          *string    `json:"priceId"`
}

type Metric struct {
	Used       int `json:"used"`
	Limit      int `json:"limit"`
	Percentage int `json:"percentage"`
}

// UsageSummary is the usage endpoint payload.
type UsageSummary struct {
	Subscription Subscription      `json:"subscription"`
	Usage        map[string]Metric `json:"usage"`
	ResetAt      time.Time         `json:"resetAt"`
	Features     []string          `json:"features"`
}

var metricNames = map[tier.Action]string{
	tier.ActionLetter:   "lettersGenerated",
	tier.ActionImage:    "imagesGenerated",
	tier.ActionSend:     "lettersSent",
	tier.ActionVoice:    "voiceTranscriptions",
	tier.ActionAnalysis: "imageAnalyses",
}

func (s *UsageService) Summary(ctx context.Context, accountID string) (*UsageSummary, error) {
	l, err := s.GetOrCreateLedger(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if l, err = s.MaybeRollResetWindow(ctx, l); err != nil {
		return nil, err
	}
	account, err := s.AccountRepo.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	t := tier.Parse(account.Tier)
	usage := make(map[string]Metric, len(tier.Actions))
	for _, a := range tier.Actions {
		limit, _ := tier.Limit(t, a)
		used := Used(l, a)
		usage[metricNames[a]] = Metric{Used: used, Limit: limit, Percentage: tier.Percentage(limit, used)}
	}

	status := account.SubscriptionStatus
	if status == "" {
		status = "active"
	}

	return &UsageSummary{
		Subscription: Subscription{
			Tier:             string(t),
			Status:           status,
			CurrentPeriodEnd: account.CurrentPeriodEnd,
			PriceID:          account.PriceID,
		},
		Usage:    usage,
		ResetAt:  l.ResetAt,
		Features: tier.PlanFeatures(t),
	}, nil
}
