// internal/model/recurring_letter.go
package model

import "time"

type RecurringLetter struct {
	ID               int        `db:"id" json:"id"`
	AccountID        string     `db:"account_id" json:"account_id"`
	RecipientID      int        `db:"recipient_id" json:"recipient_id"`
	Message          string     `db:"message" json:"message"`
	HandwritingStyle *string    `db:"handwriting_style" json:"handwriting_style,omitempty"`
	Frequency        string     `db:"frequency" json:"frequency"`
	Active           bool       `db:"active" json:"active"`
	NextSendAt       time.Time  `db:"next_send_at" json:"next_send_at"`
	LastSentAt       *time.Time `db:"last_sent_at" json:"last_sent_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}
