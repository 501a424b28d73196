// Package schedule computes recurring send dates and usage reset boundaries.
package schedule

import (
	"strings"
	"time"

	appErrors "github.com/unclebandit/steadyletters-backend/internal/errors"
)

type Frequency string

const (
	Weekly    Frequency = "weekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
	Yearly    Frequency = "yearly"
)

// ParseFrequency rejects anything that is not one of the four known values.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case Weekly, Monthly, Quarterly, Yearly:
		return f, nil
	}
	return "", appErrors.NewValidation("frequency", "must be one of weekly, monthly, quarterly, yearly")
}

// CalculateNextSendDate returns the next occurrence after from. Month arithmetic
// follows time.AddDate, so Jan 31 + 1 month lands on Mar 2 or 3.
func CalculateNextSendDate(freq Frequency, from time.Time) (time.Time, error) {
	switch freq {
	case Weekly:
		return from.AddDate(0, 0, 7), nil
	case Monthly:
		return from.AddDate(0, 1, 0), nil
	case Quarterly:
		return from.AddDate(0, 3, 0), nil
	case Yearly:
		return from.AddDate(1, 0, 0), nil
	}
	return time.Time{}, appErrors.NewValidation("frequency", "unknown frequency "+string(freq))
}

// NextResetBoundary is the first day of the month after now, at midnight in now's location.
func NextResetBoundary(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, now.Location())
}
