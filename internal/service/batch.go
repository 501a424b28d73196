package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/steadyletters-backend/internal/mail"
	"github.com/unclebandit/steadyletters-backend/internal/model"
)

const (
	DefaultBatchLimit      = 50
	DefaultDispatchTimeout = 20 * time.Second
)

// BatchResult summarizes one due-scan. Per-item failures land in Errors and
// never abort the scan.
type BatchResult struct {
	RunID     string   `json:"runId"`
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors"`
}

func newBatchResult() *BatchResult {
	return &BatchResult{RunID: uuid.NewString(), Errors: []string{}}
}

func (r *BatchResult) fail(format string, args ...any) {
	r.Failed++
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func toAddress(r *model.Recipient) mail.Address {
	return mail.Address{
		Name:       r.Name,
		Address:    r.Address1,
		Address2:   r.Address2,
		City:       r.City,
		Province:   r.State,
		PostalCode: r.PostalCode,
		Country:    r.Country,
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
