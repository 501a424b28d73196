package repository

import (
	"context"
	"database/sql"

	appErrors "github.com/unclebandit/steadyletters-backend/internal/errors"
	"github.com/unclebandit/steadyletters-backend/internal/model"
)

type TemplateRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Template, error)
}

type TemplateRepository struct {
	DB *sql.DB
}

func (r *TemplateRepository) GetByID(ctx context.Context, id int) (*model.Template, error) {
	query := `
		SELECT id, account_id, name, message, front_image_url, handwriting_style, created_at
		FROM templates WHERE id=$1
	`
	var t model.Template
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.AccountID, &t.Name, &t.Message, &t.FrontImageURL, &t.HandwritingStyle, &t.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewNotFound("template", id)
		}
		return nil, err
	}
	return &t, nil
}

var _ TemplateRepositoryInterface = (*TemplateRepository)(nil)
