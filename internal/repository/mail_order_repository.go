package repository

import (
	"context"
	"database/sql"

	"github.com/unclebandit/steadyletters-backend/internal/model"
)

type MailOrderRepositoryInterface interface {
	Create(ctx context.Context, m *model.MailOrder) error
	UpdateStatusByExternalID(ctx context.Context, externalID, status string) ([]model.UpdatedRow, error)
}

type MailOrderRepository struct {
	DB *sql.DB
}

// Create inserts a mail order and fills in the generated ID
func (r *MailOrderRepository) Create(ctx context.Context, m *model.MailOrder) error {
	query := `
		INSERT INTO mail_orders (account_id, external_id, product_type, recipient_count, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	return r.DB.QueryRowContext(ctx, query,
		m.AccountID, m.ExternalID, m.ProductType, m.RecipientCount, m.Status,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
}

func (r *MailOrderRepository) UpdateStatusByExternalID(ctx context.Context, externalID, status string) ([]model.UpdatedRow, error) {
	rows, err := r.DB.QueryContext(ctx, `
		UPDATE mail_orders SET status=$1, updated_at=NOW()
		WHERE external_id=$2
		RETURNING id, account_id
	`, status, externalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUpdated(rows, "mail_order")
}

var _ MailOrderRepositoryInterface = (*MailOrderRepository)(nil)
