package repository

import (
	"context"
	"database/sql"
	"time"

	appErrors "github.com/unclebandit/steadyletters-backend/internal/errors"
	"github.com/unclebandit/steadyletters-backend/internal/model"
)

type RecurringLetterRepositoryInterface interface {
	Create(ctx context.Context, l *model.RecurringLetter) error
	GetByID(ctx context.Context, id int) (*model.RecurringLetter, error)
	ListByAccount(ctx context.Context, accountID string) ([]*model.RecurringLetter, error)
	Update(ctx context.Context, l *model.RecurringLetter, reschedule bool) error
	Delete(ctx context.Context, accountID string, id int) error

	// Due scan
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.RecurringLetter, error)
	ClaimDue(ctx context.Context, id int, expectedNext, next time.Time) (bool, error)
	ReleaseClaim(ctx context.Context, id int, claimedNext, previousNext time.Time) error
	MarkSent(ctx context.Context, id int, sentAt time.Time) error
}

type RecurringLetterRepository struct {
	DB *sql.DB
}

const recurringColumns = `id, account_id, recipient_id, message, handwriting_style, frequency,
	active, next_send_at, last_sent_at, created_at, updated_at`

// ====================== CRUD ======================

func (r *RecurringLetterRepository) Create(ctx context.Context, l *model.RecurringLetter) error {
	query := `
		INSERT INTO recurring_letters (account_id, recipient_id, message, handwriting_style, frequency, active, next_send_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	return r.DB.QueryRowContext(ctx, query,
		l.AccountID, l.RecipientID, l.Message, l.HandwritingStyle, l.Frequency, l.Active, l.NextSendAt,
	).Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
}

func (r *RecurringLetterRepository) GetByID(ctx context.Context, id int) (*model.RecurringLetter, error) {
	query := `SELECT ` + recurringColumns + ` FROM recurring_letters WHERE id=$1`
	l, err := scanRecurring(r.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewNotFound("recurring letter", id)
	}
	return l, err
}

func (r *RecurringLetterRepository) ListByAccount(ctx context.Context, accountID string) ([]*model.RecurringLetter, error) {
	query := `SELECT ` + recurringColumns + ` FROM recurring_letters WHERE account_id=$1 ORDER BY id DESC`
	rows, err := r.DB.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecurring(rows)
}

// Update writes the editable fields. next_send_at is written only when
// reschedule is set; otherwise the stored value is kept, so a PATCH cannot
// undo an advance made by a concurrent due-scan.
func (r *RecurringLetterRepository) Update(ctx context.Context, l *model.RecurringLetter, reschedule bool) error {
	var next *time.Time
	if reschedule {
		next = &l.NextSendAt
	}
	query := `
		UPDATE recurring_letters
		SET recipient_id=$1, message=$2, handwriting_style=$3, frequency=$4, active=$5,
		    next_send_at=COALESCE($6::timestamptz, next_send_at), updated_at=NOW()
		WHERE id=$7 AND account_id=$8
		RETURNING next_send_at, updated_at
	`
	err := r.DB.QueryRowContext(ctx, query,
		l.RecipientID, l.Message, l.HandwritingStyle, l.Frequency, l.Active, next, l.ID, l.AccountID,
	).Scan(&l.NextSendAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return appErrors.NewNotFound("recurring letter", l.ID)
	}
	return err
}

// Delete removes the letter; orders keep a NULL back-reference.
func (r *RecurringLetterRepository) Delete(ctx context.Context, accountID string, id int) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM recurring_letters WHERE id=$1 AND account_id=$2`, id, accountID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewNotFound("recurring letter", id)
	}
	return nil
}

// ====================== Due scan ======================

func (r *RecurringLetterRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.RecurringLetter, error) {
	query := `SELECT ` + recurringColumns + `
		FROM recurring_letters
		WHERE active = TRUE AND next_send_at <= $1
		ORDER BY next_send_at ASC, id ASC
		LIMIT $2`
	rows, err := r.DB.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecurring(rows)
}

// ClaimDue moves next_send_at forward only if it still equals the value the
// caller read. Exactly one of several overlapping scans gets true; the others
// must skip the letter.
func (r *RecurringLetterRepository) ClaimDue(ctx context.Context, id int, expectedNext, next time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE recurring_letters
		SET next_send_at=$1, updated_at=NOW()
		WHERE id=$2 AND active = TRUE AND next_send_at=$3
	`, next, id, expectedNext)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReleaseClaim puts next_send_at back after a failed send so the letter stays
// due. It does nothing if the row was rescheduled since the claim.
func (r *RecurringLetterRepository) ReleaseClaim(ctx context.Context, id int, claimedNext, previousNext time.Time) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE recurring_letters
		SET next_send_at=$1, updated_at=NOW()
		WHERE id=$2 AND next_send_at=$3
	`, previousNext, id, claimedNext)
	return err
}

func (r *RecurringLetterRepository) MarkSent(ctx context.Context, id int, sentAt time.Time) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE recurring_letters SET last_sent_at=$1, updated_at=NOW() WHERE id=$2
	`, sentAt, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecurring(row rowScanner) (*model.RecurringLetter, error) {
	var l model.RecurringLetter
	err := row.Scan(
		&l.ID, &l.AccountID, &l.RecipientID, &l.Message, &l.HandwritingStyle, &l.Frequency,
		&l.Active, &l.NextSendAt, &l.LastSentAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func collectRecurring(rows *sql.Rows) ([]*model.RecurringLetter, error) {
	letters := []*model.RecurringLetter{}
	for rows.Next() {
		l, err := scanRecurring(rows)
		if err != nil {
			return nil, err
		}
		letters = append(letters, l)
	}
	return letters, rows.Err()
}

var _ RecurringLetterRepositoryInterface = (*RecurringLetterRepository)(nil)
