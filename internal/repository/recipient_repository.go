package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/steadyletters-backend/internal/errors"
	"github.com/unclebandit/steadyletters-backend/internal/model"
)

// RecipientRepositoryInterface defines methods used by services
type RecipientRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Recipient, error)
	ListOwned(ctx context.Context, accountID string, ids []int) ([]model.Recipient, error)
}

// RecipientRepository is the concrete implementation
type RecipientRepository struct {
	DB *sql.DB
}

const recipientColumns = `id, account_id, name, address1, address2, city, state, postal_code, country, created_at`

// GetByID fetches a recipient by ID
func (r *RecipientRepository) GetByID(ctx context.Context, id int) (*model.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE id = $1`
	var c model.Recipient
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.AccountID, &c.Name, &c.Address1, &c.Address2,
		&c.City, &c.State, &c.PostalCode, &c.Country, &c.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewNotFound("recipient", id)
		}
		return nil, err
	}
	return &c, nil
}

// ListOwned returns the subset of ids owned by the account.
func (r *RecipientRepository) ListOwned(ctx context.Context, accountID string, ids []int) ([]model.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE account_id = $1 AND id = ANY($2) ORDER BY id`
	ids64 := make([]int64, len(ids))
	for i, id := range ids {
		ids64[i] = int64(id)
	}
	rows, err := r.DB.QueryContext(ctx, query, accountID, pq.Array(ids64))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []model.Recipient{}
	for rows.Next() {
		var c model.Recipient
		if err := rows.Scan(
			&c.ID, &c.AccountID, &c.Name, &c.Address1, &c.Address2,
			&c.City, &c.State, &c.PostalCode, &c.Country, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		recipients = append(recipients, c)
	}
	return recipients, rows.Err()
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
