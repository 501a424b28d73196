package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/unclebandit/steadyletters-backend/internal/model"
)

// AccountLookup resolves the owner of a notification.
type AccountLookup interface {
	GetByID(ctx context.Context, id string) (*model.Account, error)
}

// Deliverer renders notification jobs into email.
type Deliverer struct {
	Accounts AccountLookup
	Mailer   Mailer
}

// Handle is the queue subscriber. Errors are returned so the queue retries.
func (d *Deliverer) Handle(ctx context.Context, payload any) error {
	note, err := Decode(payload)
	if err != nil {
		// Malformed jobs never succeed; drop them.
		slog.Error("dropping notification job", "error", err)
		return nil
	}

	account, err := d.Accounts.GetByID(ctx, note.AccountID)
	if err != nil {
		return fmt.Errorf("load account %s: %w", note.AccountID, err)
	}
	if account.Email == "" {
		slog.Warn("account has no email, skipping notification", "account_id", note.AccountID, "job_id", note.JobID)
		return nil
	}

	subject, body := Render(note)
	if err := d.Mailer.Send(ctx, account.Email, subject, body); err != nil {
		return fmt.Errorf("send notification email: %w", err)
	}

	slog.Info("notification sent", "job_id", note.JobID, "account_id", note.AccountID, "external_id", note.ExternalID, "status", note.Status)
	return nil
}

// Render builds the subject and body for one status change.
func Render(n *OrderStatusNotification) (string, string) {
	what := "letter"
	if n.Kind == "mail_order" {
		what = "mailing"
	}
	status := strings.ReplaceAll(n.Status, "_", " ")

	subject := fmt.Sprintf("Your %s is now %s", what, status)
	body := fmt.Sprintf(
		"Hello,\n\nThe status of your %s (reference %s) changed to %q.\n\nThanks for using SteadyLetters.\n",
		what, n.ExternalID, n.Status,
	)
	return subject, body
}
