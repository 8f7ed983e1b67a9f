package categoryrule

import (
	"context"
	"fmt"
)

// Service handles business logic for category rules.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateRule validates and persists a new rule.
func (s *Service) CreateRule(ctx context.Context, params CreateRuleParams) (*Rule, error) {
	if params.Field == "" {
		params.Field = FieldAny
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	rule, err := s.repo.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}
	return rule, nil
}

// GetRule returns a rule by ID, verifying ownership.
func (s *Service) GetRule(ctx context.Context, ruleID, userID int64) (*Rule, error) {
	rule, err := s.repo.GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, ErrRuleNotFound
	}
	if rule.UserID != userID {
		return nil, ErrForbidden
	}
	return rule, nil
}

// ListRules returns all rules for a user in matching order.
func (s *Service) ListRules(ctx context.Context, userID int64) ([]*Rule, error) {
	return s.repo.ListByUserID(ctx, userID)
}

// UpdateRule updates a rule after verifying ownership.
func (s *Service) UpdateRule(ctx context.Context, ruleID, userID int64, params UpdateRuleParams) (*Rule, error) {
	if _, err := s.GetRule(ctx, ruleID, userID); err != nil {
		return nil, err
	}
	rule, err := s.repo.Update(ctx, ruleID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}
	return rule, nil
}

// DeleteRule deletes a rule after verifying ownership.
func (s *Service) DeleteRule(ctx context.Context, ruleID, userID int64) error {
	if _, err := s.GetRule(ctx, ruleID, userID); err != nil {
		return err
	}
	return s.repo.Delete(ctx, ruleID)
}

// RuleSet is a user's rules loaded once per import batch so categorization
// does not hit the database per row.
type RuleSet struct {
	rules []*Rule
}

// RulesFor loads the user's rules into a RuleSet.
func (s *Service) RulesFor(ctx context.Context, userID int64) (*RuleSet, error) {
	rules, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	return &RuleSet{rules: rules}, nil
}

// Match returns the category of the first matching rule, or nil when no rule
// applies. Repository ordering (priority desc, oldest first) decides ties.
func (rs *RuleSet) Match(description, payee string) *string {
	for _, rule := range rs.rules {
		if rule.Matches(description, payee) {
			category := rule.Category
			return &category
		}
	}
	return nil
}

// Len reports the number of loaded rules.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}
