package categoryrule

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrRuleNotFound = errors.New("category rule not found")
	ErrForbidden    = errors.New("forbidden: rule does not belong to user")
)

// Match fields. A rule matches against the description, the payee, or either.
const (
	FieldDescription = "description"
	FieldPayee       = "payee"
	FieldAny         = "any"
)

// Rule assigns a category to imported transactions whose description or payee
// contains the pattern. Matching is case-insensitive substring; rules with a
// higher priority win, ties break on the older rule.
type Rule struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"-"`
	Pattern   string    `json:"pattern"`
	Field     string    `json:"field"`
	Category  string    `json:"category"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Matches reports whether the rule applies to the given description/payee pair.
func (r *Rule) Matches(description, payee string) bool {
	pattern := strings.ToLower(r.Pattern)
	switch r.Field {
	case FieldDescription:
		return strings.Contains(strings.ToLower(description), pattern)
	case FieldPayee:
		return strings.Contains(strings.ToLower(payee), pattern)
	default:
		return strings.Contains(strings.ToLower(description), pattern) ||
			strings.Contains(strings.ToLower(payee), pattern)
	}
}

type CreateRuleParams struct {
	UserID   int64
	Pattern  string
	Field    string
	Category string
	Priority int
}

func (p *CreateRuleParams) Validate() error {
	if p.UserID <= 0 {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(p.Pattern) == "" {
		return errors.New("pattern is required")
	}
	if p.Category == "" {
		return errors.New("category is required")
	}
	if p.Field != FieldDescription && p.Field != FieldPayee && p.Field != FieldAny {
		return errors.New("field must be description, payee or any")
	}
	return nil
}

type UpdateRuleParams struct {
	Pattern  *string
	Field    *string
	Category *string
	Priority *int
}
