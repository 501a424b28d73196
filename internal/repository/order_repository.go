package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/steadyletters-backend/internal/errors"
	"github.com/unclebandit/steadyletters-backend/internal/model"
)

type OrderRepositoryInterface interface {
	// Order CRUD
	Create(ctx context.Context, o *model.Order) error
	GetByID(ctx context.Context, id int) (*model.Order, error)
	ListByAccount(ctx context.Context, accountID string, offset, limit int, status string) ([]*model.Order, int, error)
	GetRecurringStats(ctx context.Context, recurringLetterID int) (map[string]int, error)

	// Dispatch state
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*model.Order, error)
	ClaimScheduled(ctx context.Context, id int, now time.Time) (bool, error)
	AttachExternalID(ctx context.Context, id int, externalID, status string) error
	MarkFailed(ctx context.Context, id int, lastError string) error

	// Reconciliation
	UpdateStatusByExternalID(ctx context.Context, externalID, status string) ([]model.UpdatedRow, error)
}

type OrderRepository struct {
	DB *sql.DB
}

// StaleClaimAfter is how long an order may sit in "processing" before a later
// scan is allowed to claim it again.
const StaleClaimAfter = 10 * time.Minute

const orderColumns = `id, account_id, recipient_id, template_id, recurring_letter_id, external_id,
	status, product_type, message, scheduled_for, last_error, created_at, updated_at`

// ====================== Order CRUD ======================

func (r *OrderRepository) Create(ctx context.Context, o *model.Order) error {
	query := `
		INSERT INTO orders (account_id, recipient_id, template_id, recurring_letter_id, status, product_type, message, scheduled_for)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	return r.DB.QueryRowContext(ctx, query,
		o.AccountID, o.RecipientID, o.TemplateID, o.RecurringLetterID, o.Status, o.ProductType, o.Message, o.ScheduledFor,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
}

func (r *OrderRepository) GetByID(ctx context.Context, id int) (*model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id=$1`
	o, err := scanOrder(r.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewNotFound("order", id)
	}
	return o, err
}

func (r *OrderRepository) ListByAccount(ctx context.Context, accountID string, offset, limit int, status string) ([]*model.Order, int, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE account_id=$1`
	args := []interface{}{accountID}
	argPos := 2

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, 0, err
	}

	// Count total
	countQuery := `SELECT COUNT(*) FROM orders WHERE account_id=$1`
	countArgs := []interface{}{accountID}
	if status != "" {
		countQuery += " AND status=$2"
		countArgs = append(countArgs, status)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}

func (r *OrderRepository) GetRecurringStats(ctx context.Context, recurringLetterID int) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM orders WHERE recurring_letter_id=$1 GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, recurringLetterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{"queued": 0, "sent": 0, "delivered": 0, "failed": 0}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// ====================== Dispatch state ======================

// ListDueScheduled returns undispatched orders whose time has come, oldest first.
// Orders stuck in "processing" past StaleClaimAfter are included so a crashed
// run does not strand them.
func (r *OrderRepository) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*model.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE external_id IS NULL
		  AND scheduled_for <= $1
		  AND (status = 'scheduled' OR (status = 'processing' AND updated_at < $2))
		ORDER BY scheduled_for ASC, id ASC
		LIMIT $3`
	rows, err := r.DB.QueryContext(ctx, query, now, now.Add(-StaleClaimAfter), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

// ClaimScheduled flips an order to "processing". It returns false when another
// run already claimed or dispatched it.
func (r *OrderRepository) ClaimScheduled(ctx context.Context, id int, now time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE orders
		SET status='processing', updated_at=$2
		WHERE id=$1
		  AND external_id IS NULL
		  AND (status='scheduled' OR (status='processing' AND updated_at < $3))
	`, id, now, now.Add(-StaleClaimAfter))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AttachExternalID records the provider id on exactly one row, by primary key.
func (r *OrderRepository) AttachExternalID(ctx context.Context, id int, externalID, status string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE orders
		SET external_id=$1, status=$2, last_error='', updated_at=NOW()
		WHERE id=$3 AND external_id IS NULL
	`, externalID, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order %d already has an external id", id)
	}
	return nil
}

func (r *OrderRepository) MarkFailed(ctx context.Context, id int, lastError string) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE orders SET status='failed', last_error=$1, updated_at=NOW()
		WHERE id=$2 AND external_id IS NULL
	`, lastError, id)
	return err
}

// ====================== Reconciliation ======================

func (r *OrderRepository) UpdateStatusByExternalID(ctx context.Context, externalID, status string) ([]model.UpdatedRow, error) {
	rows, err := r.DB.QueryContext(ctx, `
		UPDATE orders SET status=$1, updated_at=NOW()
		WHERE external_id=$2
		RETURNING id, account_id
	`, status, externalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUpdated(rows, "order")
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var o model.Order
	err := row.Scan(
		&o.ID, &o.AccountID, &o.RecipientID, &o.TemplateID, &o.RecurringLetterID, &o.ExternalID,
		&o.Status, &o.ProductType, &o.Message, &o.ScheduledFor, &o.LastError, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func collectOrders(rows *sql.Rows) ([]*model.Order, error) {
	orders := []*model.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func collectUpdated(rows *sql.Rows, kind string) ([]model.UpdatedRow, error) {
	updated := []model.UpdatedRow{}
	for rows.Next() {
		u := model.UpdatedRow{Kind: kind}
		if err := rows.Scan(&u.ID, &u.AccountID); err != nil {
			return nil, err
		}
		updated = append(updated, u)
	}
	return updated, rows.Err()
}

var _ OrderRepositoryInterface = (*OrderRepository)(nil)
