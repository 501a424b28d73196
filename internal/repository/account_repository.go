package repository

import (
	"context"
	"database/sql"
	"time"

	appErrors "github.com/unclebandit/steadyletters-backend/internal/errors"
	"github.com/unclebandit/steadyletters-backend/internal/model"
)

type AccountRepositoryInterface interface {
	Upsert(ctx context.Context, id, email string) (*model.Account, error)
	GetByID(ctx context.Context, id string) (*model.Account, error)
	SetStripeCustomer(ctx context.Context, accountID, customerID, subscriptionID string) error
	UpdateSubscription(ctx context.Context, update SubscriptionUpdate) (int64, error)
}

// SubscriptionUpdate is applied to the account owning StripeCustomerID.
type SubscriptionUpdate struct {
	StripeCustomerID     string
	StripeSubscriptionID string
	Tier                 string
	Status               string
	PriceID              string
	CurrentPeriodEnd     *time.Time
}

type AccountRepository struct {
	DB *sql.DB
}

const accountColumns = `id, email, tier, stripe_customer_id, stripe_subscription_id,
	subscription_status, price_id, current_period_end, created_at, updated_at`

// Upsert creates the account on first sync and refreshes the email afterwards.
func (r *AccountRepository) Upsert(ctx context.Context, id, email string) (*model.Account, error) {
	query := `
		INSERT INTO accounts (id, email) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET
			email = CASE WHEN EXCLUDED.email = '' THEN accounts.email ELSE EXCLUDED.email END,
			updated_at = NOW()
		RETURNING ` + accountColumns
	return scanAccount(r.DB.QueryRowContext(ctx, query, id, email))
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*model.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id=$1`
	acc, err := scanAccount(r.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewNotFound("account", id)
	}
	return acc, err
}

func (r *AccountRepository) SetStripeCustomer(ctx context.Context, accountID, customerID, subscriptionID string) error {
	query := `
		UPDATE accounts
		SET stripe_customer_id=$1,
		    stripe_subscription_id=COALESCE(NULLIF($2, ''), stripe_subscription_id),
		    updated_at=NOW()
		WHERE id=$3
	`
	res, err := r.DB.ExecContext(ctx, query, customerID, subscriptionID, accountID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewNotFound("account", accountID)
	}
	return nil
}

// UpdateSubscription returns the number of accounts touched (0 when the
// customer is unknown).
func (r *AccountRepository) UpdateSubscription(ctx context.Context, u SubscriptionUpdate) (int64, error) {
	query := `
		UPDATE accounts
		SET tier=$1,
		    subscription_status=$2,
		    price_id=NULLIF($3, ''),
		    stripe_subscription_id=COALESCE(NULLIF($4, ''), stripe_subscription_id),
		    current_period_end=$5,
		    updated_at=NOW()
		WHERE stripe_customer_id=$6
	`
	res, err := r.DB.ExecContext(ctx, query, u.Tier, u.Status, u.PriceID, u.StripeSubscriptionID, u.CurrentPeriodEnd, u.StripeCustomerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanAccount(row *sql.Row) (*model.Account, error) {
	var a model.Account
	err := row.Scan(
		&a.ID, &a.Email, &a.Tier, &a.StripeCustomerID, &a.StripeSubscriptionID,
		&a.SubscriptionStatus, &a.PriceID, &a.CurrentPeriodEnd, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

var _ AccountRepositoryInterface = (*AccountRepository)(nil)
