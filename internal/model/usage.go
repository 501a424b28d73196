// internal/model/usage.go
package model

import "time"

// UsageLedger holds one account's counters for the current billing month.
type UsageLedger struct {
	AccountID           string    `db:"account_id" json:"account_id"`
	Tier                string    `db:"tier" json:"tier"`
	LettersGenerated    int       `db:"letters_generated" json:"letters_generated"`
	ImagesGenerated     int       `db:"images_generated" json:"images_generated"`
	LettersSent         int       `db:"letters_sent" json:"letters_sent"`
	VoiceTranscriptions int       `db:"voice_transcriptions" json:"voice_transcriptions"`
	ImageAnalyses       int       `db:"image_analyses" json:"image_analyses"`
	ResetAt             time.Time `db:"reset_at" json:"reset_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}
