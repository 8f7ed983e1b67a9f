package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"kassa/internal/domain/categoryrule"
)

type RuleRepository struct {
	db *DB
}

func NewRuleRepository(db *DB) *RuleRepository {
	return &RuleRepository{db: db}
}

const ruleColumns = `id, user_id, pattern, field, category, priority, created_at, updated_at`

func (r *RuleRepository) Create(ctx context.Context, params categoryrule.CreateRuleParams) (*categoryrule.Rule, error) {
	query := `
		INSERT INTO category_rules (user_id, pattern, field, category, priority)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + ruleColumns

	rule, err := scanRule(r.db.QueryRowContext(ctx, query,
		params.UserID, params.Pattern, params.Field, params.Category, params.Priority))
	if err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}
	return rule, nil
}

func (r *RuleRepository) GetByID(ctx context.Context, id int64) (*categoryrule.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM category_rules WHERE id = $1`

	rule, err := scanRule(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

func (r *RuleRepository) ListByUserID(ctx context.Context, userID int64) ([]*categoryrule.Rule, error) {
	// Ordering defines match precedence.
	query := `SELECT ` + ruleColumns + `
		FROM category_rules
		WHERE user_id = $1
		ORDER BY priority DESC, created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*categoryrule.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return rules, nil
}

func (r *RuleRepository) Update(ctx context.Context, id int64, params categoryrule.UpdateRuleParams) (*categoryrule.Rule, error) {
	query := `
		UPDATE category_rules
		SET pattern = COALESCE($1, pattern),
		    field = COALESCE($2, field),
		    category = COALESCE($3, category),
		    priority = COALESCE($4, priority),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $5
		RETURNING ` + ruleColumns

	rule, err := scanRule(r.db.QueryRowContext(ctx, query,
		params.Pattern, params.Field, params.Category, params.Priority, id))
	if err == sql.ErrNoRows {
		return nil, categoryrule.ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}
	return rule, nil
}

func (r *RuleRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM category_rules WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return categoryrule.ErrRuleNotFound
	}
	return nil
}

func scanRule(s scanner) (*categoryrule.Rule, error) {
	var rule categoryrule.Rule
	err := s.Scan(
		&rule.ID, &rule.UserID, &rule.Pattern, &rule.Field,
		&rule.Category, &rule.Priority, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}
