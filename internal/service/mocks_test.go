package service_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/steadyletters-backend/internal/errors"
	"github.com/unclebandit/steadyletters-backend/internal/mail"
	"github.com/unclebandit/steadyletters-backend/internal/model"
	"github.com/unclebandit/steadyletters-backend/internal/repository"
	"github.com/unclebandit/steadyletters-backend/internal/tier"
)

var errStoreDown = errors.New("connection refused")

// ---------------- accounts ----------------

type MockAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*model.Account
}

func newMockAccountRepo() *MockAccountRepo {
	return &MockAccountRepo{accounts: map[string]*model.Account{}}
}

func (m *MockAccountRepo) put(a *model.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = a
}

func (m *MockAccountRepo) ensure(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		m.accounts[id] = &model.Account{ID: id, Tier: string(tier.Free)}
	}
}

func (m *MockAccountRepo) tierOf(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		return a.Tier
	}
	return string(tier.Free)
}

func (m *MockAccountRepo) Upsert(_ context.Context, id, email string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		a = &model.Account{ID: id, Tier: string(tier.Free)}
		m.accounts[id] = a
	}
	if email != "" {
		a.Email = email
	}
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

func (m *MockAccountRepo) SetStripeCustomer(_ context.Context, accountID, customerID, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return appErrors.NewNotFound("account", accountID)
	}
	a.StripeCustomerID = &customerID
	if subscriptionID != "" {
		a.StripeSubscriptionID = &subscriptionID
	}
	return nil
}

func (m *MockAccountRepo) UpdateSubscription(_ context.Context, u repository.SubscriptionUpdate) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.accounts {
		if a.StripeCustomerID == nil || *a.StripeCustomerID != u.StripeCustomerID {
			continue
		}
		a.Tier = u.Tier
		a.SubscriptionStatus = u.Status
		if u.PriceID != "" {
			price := u.PriceID
			a.PriceID = &price
		} else {
			a.PriceID = nil
		}
		a.CurrentPeriodEnd = u.CurrentPeriodEnd
		n++
	}
	return n, nil
}

// ---------------- usage ledger ----------------

type MockUsageRepo struct {
	mu       sync.Mutex
	ledgers  map[string]*model.UsageLedger
	accounts *MockAccountRepo
	err      error
	rolls    int
}

func newMockUsageRepo(accounts *MockAccountRepo) *MockUsageRepo {
	return &MockUsageRepo{ledgers: map[string]*model.UsageLedger{}, accounts: accounts}
}

func (m *MockUsageRepo) EnsureLedger(_ context.Context, accountID string, resetAt time.Time) error {
	if m.err != nil {
		return m.err
	}
	m.accounts.ensure(accountID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ledgers[accountID]; !ok {
		m.ledgers[accountID] = &model.UsageLedger{AccountID: accountID, ResetAt: resetAt}
	}
	return nil
}

func (m *MockUsageRepo) GetLedger(_ context.Context, accountID string) (*model.UsageLedger, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	l, ok := m.ledgers[accountID]
	var cp model.UsageLedger
	if ok {
		cp = *l
	}
	m.mu.Unlock()
	if !ok {
		return nil, appErrors.NewNotFound("usage ledger", accountID)
	}
	cp.Tier = m.accounts.tierOf(accountID)
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
	return nil
}

func (m *MockUsageRepo) Increment(_ context.Context, accountID string, action tier.Action, amount int) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.ledgers[accountID]
	if !ok {
		return appErrors.NewNotFound("usage ledger", accountID)
	}
	c := counter(l, action)
	if c == nil {
		return appErrors.NewValidation("action", "unknown")
	}
	*c += amount
	return nil
}

// IncrementWithin mirrors the conditional SQL update: the check and the add
// happen under one lock.
func (m *MockUsageRepo) IncrementWithin(_ context.Context, accountID string, action tier.Action, amount, limit int) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.ledgers[accountID]
	if !ok {
		return false, nil
	}
	c := counter(l, action)
	if c == nil {
		return false, appErrors.NewValidation("action", "unknown")
	}
	if limit >= 0 && *c+amount > limit {
		return false, nil
	}
	*c += amount
	return true, nil
}

func (m *MockUsageRepo) Decrement(_ context.Context, accountID string, action tier.Action, amount int) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.ledgers[accountID]
	if !ok {
		return nil
	}
	if c := counter(l, action); c != nil {
		*c = max(*c-amount, 0)
	}
	return nil
}

func (m *MockUsageRepo) RollIfDue(_ context.Context, accountID string, now, nextReset time.Time) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.ledgers[accountID]
	if !ok || l.ResetAt.After(now) {
		return false, nil
	}
	*l = model.UsageLedger{AccountID: accountID, ResetAt: nextReset}
	m.rolls++
	return true, nil
}

func (m *MockUsageRepo) ledger(accountID string) model.UsageLedger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.ledgers[accountID]
}

// ---------------- recipients & templates ----------------

type MockRecipientRepo struct {
	recipients map[int]*model.Recipient
	err        error
}

func (m *MockRecipientRepo) GetByID(_ context.Context, id int) (*model.Recipient, error) {
	if m.err != nil {
		return nil, m.err
	}
	r, ok := m.recipients[id]
	if !ok {
		return nil, appErrors.NewNotFound("recipient", id)
	}
	return r, nil
}

func (m *MockRecipientRepo) ListOwned(_ context.Context, accountID string, ids []int) ([]model.Recipient, error) {
	out := []model.Recipient{}
	for _, id := range ids {
		if r, ok := m.recipients[id]; ok && r.AccountID == accountID {
			out = append(out, *r)
		}
	}
	return out, nil
}

type MockTemplateRepo struct {
	templates map[int]*model.Template
}

func (m *MockTemplateRepo) GetByID(_ context.Context, id int) (*model.Template, error) {
	t, ok := m.templates[id]
	if !ok {
		return nil, appErrors.NewNotFound("template", id)
	}
	return t, nil
}

// ---------------- recurring letters ----------------

type MockRecurringRepo struct {
	mu      sync.Mutex
	letters map[int]*model.RecurringLetter
	nextID  int
	listErr error
}

func newMockRecurringRepo(letters ...*model.RecurringLetter) *MockRecurringRepo {
	m := &MockRecurringRepo{letters: map[int]*model.RecurringLetter{}, nextID: 1}
	for _, l := range letters {
		m.letters[l.ID] = l
		if l.ID >= m.nextID {
			m.nextID = l.ID + 1
		}
	}
	return m
}

func (m *MockRecurringRepo) Create(_ context.Context, l *model.RecurringLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = m.nextID
	m.nextID++
	cp := *l
	m.letters[l.ID] = &cp
	return nil
}

func (m *MockRecurringRepo) GetByID(_ context.Context, id int) (*model.RecurringLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.letters[id]
	if !ok {
		return nil, appErrors.NewNotFound("recurring letter", id)
	}
	cp := *l
	return &cp, nil
}

func (m *MockRecurringRepo) ListByAccount(_ context.Context, accountID string) ([]*model.RecurringLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.RecurringLetter{}
	for _, l := range m.letters {
		if l.AccountID == accountID {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockRecurringRepo) Update(_ context.Context, l *model.RecurringLetter, reschedule bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.letters[l.ID]
	if !ok || existing.AccountID != l.AccountID {
		return appErrors.NewNotFound("recurring letter", l.ID)
	}
	if !reschedule {
		l.NextSendAt = existing.NextSendAt
	}
	cp := *l
	m.letters[l.ID] = &cp
	return nil
}

func (m *MockRecurringRepo) Delete(_ context.Context, accountID string, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.letters[id]
	if !ok || l.AccountID != accountID {
		return appErrors.NewNotFound("recurring letter", id)
	}
	delete(m.letters, id)
	return nil
}

func (m *MockRecurringRepo) ListDue(_ context.Context, now time.Time, limit int) ([]*model.RecurringLetter, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.RecurringLetter{}
	for _, l := range m.letters {
		if l.Active && !l.NextSendAt.After(now) {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockRecurringRepo) ClaimDue(_ context.Context, id int, expectedNext, next time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.letters[id]
	if !ok || !l.Active || !l.NextSendAt.Equal(expectedNext) {
		return false, nil
	}
	l.NextSendAt = next
	return true, nil
}

func (m *MockRecurringRepo) ReleaseClaim(_ context.Context, id int, claimedNext, previousNext time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.letters[id]; ok && l.NextSendAt.Equal(claimedNext) {
		l.NextSendAt = previousNext
	}
	return nil
}

func (m *MockRecurringRepo) MarkSent(_ context.Context, id int, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.letters[id]; ok {
		l.LastSentAt = &sentAt
	}
	return nil
}

// setNext simulates another writer moving the schedule.
func (m *MockRecurringRepo) setNext(id int, next time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.letters[id].NextSendAt = next
}

func (m *MockRecurringRepo) get(id int) model.RecurringLetter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.letters[id]
}

// ---------------- orders ----------------

type MockOrderRepo struct {
	mu     sync.Mutex
	orders map[int]*model.Order
	nextID int
}

func newMockOrderRepo(orders ...*model.Order) *MockOrderRepo {
	m := &MockOrderRepo{orders: map[int]*model.Order{}, nextID: 1}
	for _, o := range orders {
		m.orders[o.ID] = o
		if o.ID >= m.nextID {
			m.nextID = o.ID + 1
		}
	}
	return m
}

func (m *MockOrderRepo) Create(_ context.Context, o *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = m.nextID
	m.nextID++
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *MockOrderRepo) GetByID(_ context.Context, id int) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, appErrors.NewNotFound("order", id)
	}
	cp := *o
	return &cp, nil
}

func (m *MockOrderRepo) ListByAccount(_ context.Context, accountID string, offset, limit int, status string) ([]*model.Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := []*model.Order{}
	for _, o := range m.orders {
		if o.AccountID == accountID && (status == "" || o.Status == status) {
			cp := *o
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := len(all)
	if offset >= total {
		return []*model.Order{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *MockOrderRepo) GetRecurringStats(_ context.Context, recurringLetterID int) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := map[string]int{"queued": 0, "sent": 0, "delivered": 0, "failed": 0}
	for _, o := range m.orders {
		if o.RecurringLetterID != nil && *o.RecurringLetterID == recurringLetterID {
			stats[o.Status]++
		}
	}
	return stats, nil
}

func (m *MockOrderRepo) ListDueScheduled(_ context.Context, now time.Time, limit int) ([]*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Order{}
	for _, o := range m.orders {
		if o.ExternalID == nil && o.Status == model.OrderStatusScheduled && o.ScheduledFor != nil && !o.ScheduledFor.After(now) {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(*out[j].ScheduledFor) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockOrderRepo) ClaimScheduled(_ context.Context, id int, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.ExternalID != nil || o.Status != model.OrderStatusScheduled {
		return false, nil
	}
	o.Status = model.OrderStatusProcessing
	o.UpdatedAt = now
	return true, nil
}

func (m *MockOrderRepo) AttachExternalID(_ context.Context, id int, externalID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.ExternalID != nil {
		return fmt.Errorf("order %d already has an external id", id)
	}
	o.ExternalID = &externalID
	o.Status = status
	o.LastError = ""
	return nil
}

func (m *MockOrderRepo) MarkFailed(_ context.Context, id int, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok && o.ExternalID == nil {
		o.Status = model.OrderStatusFailed
		o.LastError = lastError
	}
	return nil
}

func (m *MockOrderRepo) UpdateStatusByExternalID(_ context.Context, externalID, status string) ([]model.UpdatedRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.UpdatedRow{}
	for _, o := range m.orders {
		if o.ExternalID != nil && *o.ExternalID == externalID {
			o.Status = status
			out = append(out, model.UpdatedRow{ID: o.ID, AccountID: o.AccountID, Kind: "order"})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockOrderRepo) all() []model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Order{}
	for _, o := range m.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type MockMailOrderRepo struct {
	mu     sync.Mutex
	orders []*model.MailOrder
}

func (m *MockMailOrderRepo) Create(_ context.Context, mo *model.MailOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mo.ID = len(m.orders) + 1
	cp := *mo
	m.orders = append(m.orders, &cp)
	return nil
}

func (m *MockMailOrderRepo) UpdateStatusByExternalID(_ context.Context, externalID, status string) ([]model.UpdatedRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.UpdatedRow{}
	for _, mo := range m.orders {
		if mo.ExternalID == externalID {
			mo.Status = status
			out = append(out, model.UpdatedRow{ID: mo.ID, AccountID: mo.AccountID, Kind: "mail_order"})
		}
	}
	return out, nil
}

// ---------------- mail dispatch ----------------

type sentMail struct {
	Kind    string
	Names   []string
	Message string
}

// MockDispatcher fails for any recipient whose name is in failFor.
type MockDispatcher struct {
	mu      sync.Mutex
	sent    []sentMail
	failFor map[string]bool
	nextID  int
}

func (d *MockDispatcher) record(kind string, recipients []mail.Address, message string) (*mail.DispatchResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, len(recipients))
	for i, r := range recipients {
		if d.failFor[r.Name] {
			return nil, fmt.Errorf("provider returned 500 for %s", r.Name)
		}
		names[i] = r.Name
	}
	d.nextID++
	d.sent = append(d.sent, sentMail{Kind: kind, Names: names, Message: message})
	return &mail.DispatchResult{ID: fmt.Sprintf("ext-%d", d.nextID)}, nil
}

func (d *MockDispatcher) SendPostcard(_ context.Context, req mail.PostcardRequest) (*mail.DispatchResult, error) {
	return d.record("postcard", req.Recipients, req.Message)
}

func (d *MockDispatcher) SendLetter(_ context.Context, req mail.LetterRequest) (*mail.DispatchResult, error) {
	return d.record("letter", req.Recipients, req.Message)
}

func (d *MockDispatcher) calls() []sentMail {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sentMail(nil), d.sent...)
}

func intPtr(i int) *int { return &i }

func strPtr(s string) *string { return &s }
