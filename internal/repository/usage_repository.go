package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/steadyletters-backend/internal/errors"
	"github.com/unclebandit/steadyletters-backend/internal/model"
	"github.com/unclebandit/steadyletters-backend/internal/tier"
)

type UsageRepositoryInterface interface {
	EnsureLedger(ctx context.Context, accountID string, resetAt time.Time) error
	GetLedger(ctx context.Context, accountID string) (*model.UsageLedger, error)
	Increment(ctx context.Context, accountID string, action tier.Action, amount int) error
	IncrementWithin(ctx context.Context, accountID string, action tier.Action, amount, limit int) (bool, error)
	Decrement(ctx context.Context, accountID string, action tier.Action, amount int) error
	RollIfDue(ctx context.Context, accountID string, now, nextReset time.Time) (bool, error)
}

type UsageRepository struct {
	DB *sql.DB
}

// counterColumns maps actions onto ledger columns. Only these literals are
// ever interpolated into SQL.
var counterColumns = map[tier.Action]string{
	tier.ActionLetter:   "letters_generated",
	tier.ActionImage:    "images_generated",
	tier.ActionSend:     "letters_sent",
	tier.ActionVoice:    "voice_transcriptions",
	tier.ActionAnalysis: "image_analyses",
}

// EnsureLedger creates the account (FREE) and its ledger if absent. Both
// inserts are ON CONFLICT DO NOTHING so concurrent first calls cannot duplicate.
func (r *UsageRepository) EnsureLedger(ctx context.Context, accountID string, resetAt time.Time) error {
	if _, err := r.DB.ExecContext(ctx, `
		INSERT INTO accounts (id, tier) VALUES ($1, 'FREE')
		ON CONFLICT (id) DO NOTHING
	`, accountID); err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	if _, err := r.DB.ExecContext(ctx, `
		INSERT INTO usage_ledgers (account_id, reset_at) VALUES ($1, $2)
		ON CONFLICT (account_id) DO NOTHING
	`, accountID, resetAt); err != nil {
		return fmt.Errorf("ensure ledger: %w", err)
	}
	return nil
}

func (r *UsageRepository) GetLedger(ctx context.Context, accountID string) (*model.UsageLedger, error) {
	query := `
		SELECT l.account_id, a.tier, l.letters_generated, l.images_generated, l.letters_sent,
		       l.voice_transcriptions, l.image_analyses, l.reset_at, l.updated_at
		FROM usage_ledgers l
		JOIN accounts a ON a.id = l.account_id
		WHERE l.account_id=$1
	`
	var l model.UsageLedger
	err := r.DB.QueryRowContext(ctx, query, accountID).Scan(
		&l.AccountID, &l.Tier, &l.LettersGenerated, &l.ImagesGenerated, &l.LettersSent,
		&l.VoiceTranscriptions, &l.ImageAnalyses, &l.ResetAt, &l.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewNotFound("usage ledger", accountID)
		}
		return nil, err
	}
	return &l, nil
}

// Increment adds amount to the action's counter in a single statement.
func (r *UsageRepository) Increment(ctx context.Context, accountID string, action tier.Action, amount int) error {
	column, ok := counterColumns[action]
	if !ok {
		return appErrors.NewValidation("action", "unknown action "+string(action))
	}
	query := fmt.Sprintf(`UPDATE usage_ledgers SET %[1]s = %[1]s + $1, updated_at = NOW() WHERE account_id = $2`, column)
	res, err := r.DB.ExecContext(ctx, query, amount, accountID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewNotFound("usage ledger", accountID)
	}
	return nil
}

// IncrementWithin adds amount only while the counter stays at or under limit
// (a negative limit means unlimited). It reports whether the row was updated,
// so two requests racing for the last unit cannot both get it.
func (r *UsageRepository) IncrementWithin(ctx context.Context, accountID string, action tier.Action, amount, limit int) (bool, error) {
	column, ok := counterColumns[action]
	if !ok {
		return false, appErrors.NewValidation("action", "unknown action "+string(action))
	}
	query := fmt.Sprintf(`
		UPDATE usage_ledgers SET %[1]s = %[1]s + $1, updated_at = NOW()
		WHERE account_id = $2 AND ($3::int < 0 OR %[1]s + $1 <= $3::int)
	`, column)
	res, err := r.DB.ExecContext(ctx, query, amount, accountID, limit)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Decrement hands back units reserved for work that did not happen. The
// counter never drops below zero.
func (r *UsageRepository) Decrement(ctx context.Context, accountID string, action tier.Action, amount int) error {
	column, ok := counterColumns[action]
	if !ok {
		return appErrors.NewValidation("action", "unknown action "+string(action))
	}
	query := fmt.Sprintf(`UPDATE usage_ledgers SET %[1]s = GREATEST(%[1]s - $1, 0), updated_at = NOW() WHERE account_id = $2`, column)
	_, err := r.DB.ExecContext(ctx, query, amount, accountID)
	return err
}

// RollIfDue zeroes the counters and moves reset_at forward, but only while
// reset_at <= now. The predicate turns false once applied, so a second call or
// a racing request affects no rows.
func (r *UsageRepository) RollIfDue(ctx context.Context, accountID string, now, nextReset time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE usage_ledgers
		SET letters_generated = 0,
		    images_generated = 0,
		    letters_sent = 0,
		    voice_transcriptions = 0,
		    image_analyses = 0,
		    reset_at = $1,
		    updated_at = NOW()
		WHERE account_id = $2 AND reset_at <= $3
	`, nextReset, accountID, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var _ UsageRepositoryInterface = (*UsageRepository)(nil)
