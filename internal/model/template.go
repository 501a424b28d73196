// internal/model/template.go
package model

import "time"

type Template struct {
	ID               int       `db:"id" json:"id"`
	AccountID        string    `db:"account_id" json:"account_id"`
	Name             string    `db:"name" json:"name"`
	Message          string    `db:"message" json:"message"`
	FrontImageURL    *string   `db:"front_image_url" json:"front_image_url,omitempty"`
	HandwritingStyle *string   `db:"handwriting_style" json:"handwriting_style,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// ProductType is "postcard" when the template carries a front image, "letter" otherwise.
func (t *Template) ProductType() string {
	if t != nil && t.FrontImageURL != nil && *t.FrontImageURL != "" {
		return ProductPostcard
	}
	return ProductLetter
}
