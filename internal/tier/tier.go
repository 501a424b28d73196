// Package tier is the single source of truth for subscription tiers and
// their monthly quotas.
package tier

import (
	"strconv"
	"strings"

	appErrors "github.com/unclebandit/steadyletters-backend/internal/errors"
)

type Tier string

const (
	Free     Tier = "FREE"
	Pro      Tier = "PRO"
	Business Tier = "BUSINESS"
)

type Action string

const (
	ActionLetter   Action = "letter"
	ActionImage    Action = "image"
	ActionSend     Action = "send"
	ActionVoice    Action = "voice"
	ActionAnalysis Action = "analysis"
)

// Unlimited is the quota value meaning "always allowed".
const Unlimited = -1

// Quota defines the monthly limits for one tier.
type Quota struct {
	Letters  int
	Images   int
	Sends    int
	Voice    int
	Analyses int
}

// Quotas maps tiers to their limits. Numbers follow the billing plan feature list.
var Quotas = map[Tier]Quota{
	Free: {
		Letters:  5,
		Images:   10,
		Sends:    3,
		Voice:    5,
		Analyses: 5,
	},
	Pro: {
		Letters:  50,
		Images:   100,
		Sends:    10,
		Voice:    Unlimited,
		Analyses: Unlimited,
	},
	Business: {
		Letters:  200,
		Images:   400,
		Sends:    50,
		Voice:    Unlimited,
		Analyses: Unlimited,
	},
}

// Actions lists every metered action in display order.
var Actions = []Action{ActionLetter, ActionImage, ActionSend, ActionVoice, ActionAnalysis}

// Parse returns the tier for s, defaulting to Free for unknown values.
func Parse(s string) Tier {
	switch Tier(strings.ToUpper(strings.TrimSpace(s))) {
	case Pro:
		return Pro
	case Business:
		return Business
	default:
		return Free
	}
}

func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Actions {
		if a == known {
			return a, nil
		}
	}
	return "", appErrors.NewValidation("action", "unknown action "+s)
}

// GetQuota returns the quota for a tier, defaulting to the free tier.
func GetQuota(t Tier) Quota {
	if q, ok := Quotas[t]; ok {
		return q
	}
	return Quotas[Free]
}

// Limit returns the monthly quota for an action on a tier.
func Limit(t Tier, a Action) (int, error) {
	q := GetQuota(t)
	switch a {
	case ActionLetter:
		return q.Letters, nil
	case ActionImage:
		return q.Images, nil
	case ActionSend:
		return q.Sends, nil
	case ActionVoice:
		return q.Voice, nil
	case ActionAnalysis:
		return q.Analyses, nil
	}
	return 0, appErrors.NewValidation("action", "unknown action "+string(a))
}

// Allowed reports whether one more unit may be consumed.
func Allowed(limit, used int) bool {
	if limit == Unlimited {
		return true
	}
	return used < limit
}

// Remaining returns how many units are left, or Unlimited.
func Remaining(limit, used int) int {
	if limit == Unlimited {
		return Unlimited
	}
	if used >= limit {
		return 0
	}
	return limit - used
}

// Percentage of the quota consumed, capped at 100. Unlimited quotas report 0.
func Percentage(limit, used int) int {
	if limit == Unlimited || limit <= 0 {
		return 0
	}
	p := used * 100 / limit
	if p > 100 {
		return 100
	}
	return p
}

// PlanFeatures is the feature list shown on the billing page.
func PlanFeatures(t Tier) []string {
	q := GetQuota(t)
	return []string{
		describe(q.Letters, "AI letter generations"),
		describe(q.Images, "AI card images"),
		describe(q.Sends, "mailed letters"),
		describe(q.Voice, "voice transcriptions"),
		describe(q.Analyses, "image analyses"),
	}
}

func describe(limit int, what string) string {
	if limit == Unlimited {
		return "Unlimited " + what
	}
	return strconv.Itoa(limit) + " " + what + " per month"
}
