package controller_test

import (
	"context"
	"sync"
	"time"

	appErrors "github.com/unclebandit/steadyletters-backend/internal/errors"
	"github.com/unclebandit/steadyletters-backend/internal/model"
	"github.com/unclebandit/steadyletters-backend/internal/repository"
	"github.com/unclebandit/steadyletters-backend/internal/tier"
)

// --- Mock Repositories ---

type MockAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*model.Account
}

func (m *MockAccountRepo) Upsert(_ context.Context, id, email string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		a = &model.Account{ID: id, Tier: string(tier.Free)}
		m.accounts[id] = a
	}
	a.Email = email
	cp := *a
	return &cp, nil
}

func (m *MockAccountRepo) GetByID(_ context.Context, id string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, appErrors.NewNotFound("account", id)
	}
	cp := *a
	return &cp, nil
}

func (m *MockAccountRepo) SetStripeCustomer(context.Context, string, string, string) error {
	return nil
}

func (m *MockAccountRepo) UpdateSubscription(context.Context, repository.SubscriptionUpdate) (int64, error) {
	return 0, nil
}

// MockUsageRepo keeps one ledger per account; every account is FREE.
type MockUsageRepo struct {
	mu      sync.Mutex
	ledgers map[string]*model.UsageLedger
}

func newMockUsageRepo() *MockUsageRepo {
	return &MockUsageRepo{ledgers: map[string]*model.UsageLedger{}}
}

func (m *MockUsageRepo) EnsureLedger(_ context.Context, accountID string, resetAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ledgers[accountID]; !ok {
		m.ledgers[accountID] = &model.UsageLedger{AccountID: accountID, ResetAt: resetAt}
	}
	return nil
}

func (m *MockUsageRepo) GetLedger(_ context.Context, accountID string) (*model.UsageLedger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.ledgers[accountID]
	if !ok {
		return nil, appErrors.NewNotFound("usage ledger", accountID)
	}
	cp := *l
	cp.Tier = string(tier.Free)
	return &cp, nil
}

func counter(l *model.UsageLedger, action tier.Action) *int {
	switch action {
	case tier.ActionLetter:
		return &l.LettersGenerated
	case tier.ActionImage:
		return &l.ImagesGenerated
	case tier.ActionSend:
		return &l.LettersSent
	case tier.ActionVoice:
		return &l.VoiceTranscriptions
	case tier.ActionAnalysis:
		return &l.ImageAnalyses
	}
	return new(int)
}

func (m *MockUsageRepo) Increment(_ context.Context, accountID string, action tier.Action, amount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	*counter(m.ledgers[accountID], action) += amount
	return nil
}

func (m *MockUsageRepo) IncrementWithin(_ context.Context, accountID string, action tier.Action, amount, limit int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := counter(m.ledgers[accountID], action)
	if limit >= 0 && *c+amount > limit {
		return false, nil
	}
	*c += amount
	return true, nil
}

func (m *MockUsageRepo) Decrement(_ context.Context, accountID string, action tier.Action, amount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := counter(m.ledgers[accountID], action)
	*c = max(*c-amount, 0)
	return nil
}

func (m *MockUsageRepo) RollIfDue(context.Context, string, time.Time, time.Time) (bool, error) {
	return false, nil
}
