// internal/model/recipient.go
package model

import "time"

type Recipient struct {
	ID         int       `db:"id" json:"id"`
	AccountID  string    `db:"account_id" json:"account_id"`
	Name       string    `db:"name" json:"name"`
	Address1   string    `db:"address1" json:"address1"`
	Address2   string    `db:"address2" json:"address2,omitempty"`
	City       string    `db:"city" json:"city"`
	State      string    `db:"state" json:"state"`
	PostalCode string    `db:"postal_code" json:"postal_code"`
	Country    string    `db:"country" json:"country"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
