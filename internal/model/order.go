// internal/model/order.go
package model

import "time"

const (
	OrderStatusScheduled  = "scheduled"
	OrderStatusProcessing = "processing"
	OrderStatusQueued     = "queued"
	OrderStatusSent       = "sent"
	OrderStatusDelivered  = "delivered"
	OrderStatusFailed     = "failed"

	ProductLetter   = "letter"
	ProductPostcard = "postcard"
)

// Order is one unit of mailed output. Status may also hold provider-defined
// values echoed verbatim from webhooks.
type Order struct {
	ID                int        `db:"id" json:"id"`
	AccountID         string     `db:"account_id" json:"account_id"`
	RecipientID       int        `db:"recipient_id" json:"recipient_id"`
	TemplateID        *int       `db:"template_id" json:"template_id,omitempty"`
	RecurringLetterID *int       `db:"recurring_letter_id" json:"recurring_letter_id,omitempty"`
	ExternalID        *string    `db:"external_id" json:"external_id,omitempty"`
	Status            string     `db:"status" json:"status"`
	ProductType       string     `db:"product_type" json:"product_type"`
	Message           string     `db:"message" json:"message"`
	ScheduledFor      *time.Time `db:"scheduled_for" json:"scheduled_for,omitempty"`
	LastError         string     `db:"last_error" json:"last_error,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// MailOrder records a direct bulk send made outside the Order flow; it is
// reconciled by the same provider webhook.
type MailOrder struct {
	ID             int       `db:"id" json:"id"`
	AccountID      string    `db:"account_id" json:"account_id"`
	ExternalID     string    `db:"external_id" json:"external_id"`
	ProductType    string    `db:"product_type" json:"product_type"`
	RecipientCount int       `db:"recipient_count" json:"recipient_count"`
	Status         string    `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// UpdatedRow identifies a row touched by a status reconciliation.
type UpdatedRow struct {
	ID        int
	AccountID string
	Kind      string // "order" or "mail_order"
}
