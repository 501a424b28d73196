// internal/model/account.go
package model

import "time"

type Account struct {
	ID                   string     `db:"id" json:"id"`
	Email                string     `db:"email" json:"email"`
	Tier                 string     `db:"tier" json:"tier"`
	StripeCustomerID     *string    `db:"stripe_customer_id" json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID *string    `db:"stripe_subscription_id" json:"stripe_subscription_id,omitempty"`
	SubscriptionStatus   string     `db:"subscription_status" json:"subscription_status"`
	PriceID              *string    `db:"price_id" json:"price_id,omitempty"`
	CurrentPeriodEnd     *time.Time `db:"current_period_end" json:"current_period_end,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}
