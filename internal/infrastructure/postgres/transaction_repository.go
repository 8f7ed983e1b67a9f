package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"kassa/internal/domain/transaction"
)

type TransactionRepository struct {
	db *DB
}

func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `id, user_id, account_id, connection_id, amount, currency, description,
       payee, category, transaction_date, fingerprint, source, created_at`

func (r *TransactionRepository) Create(ctx context.Context, params transaction.CreateTransactionParams) (*transaction.Transaction, error) {
	query := `
		INSERT INTO transactions (id, user_id, account_id, connection_id, amount, currency,
		                          description, payee, category, transaction_date, fingerprint, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + transactionColumns

	row := r.db.QueryRowContext(
		ctx, query,
		uuid.NewString(), params.UserID, params.AccountID, params.ConnectionID,
		params.Amount, params.Currency, params.Description, params.Payee,
		params.Category, params.TransactionDate, params.Fingerprint, params.Source,
	)

	txn, err := scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return txn, nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*transaction.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	txn, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

func (r *TransactionRepository) ListByAccountID(ctx context.Context, accountID string, limit, offset int) ([]*transaction.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE account_id = $1
		ORDER BY transaction_date DESC, created_at DESC
		LIMIT $2 OFFSET $3`

	return r.list(ctx, query, accountID, limit, offset)
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, limit, offset int) ([]*transaction.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1
		ORDER BY transaction_date DESC, created_at DESC
		LIMIT $2 OFFSET $3`

	return r.list(ctx, query, userID, limit, offset)
}

func (r *TransactionRepository) CountByUserID(ctx context.Context, userID int64) (int64, error) {
	query := `SELECT COUNT(*) FROM transactions WHERE user_id = $1`

	var count int64
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

func (r *TransactionRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM transactions WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return transaction.ErrNotFound
	}
	return nil
}

// ExistingFingerprints returns which of the given fingerprints already exist
// for the account. A single ANY($2) query regardless of batch size.
func (r *TransactionRepository) ExistingFingerprints(ctx context.Context, accountID string, fingerprints []string) (map[string]struct{}, error) {
	if len(fingerprints) == 0 {
		return map[string]struct{}{}, nil
	}

	query := `
		SELECT fingerprint
		FROM transactions
		WHERE account_id = $1 AND fingerprint = ANY($2)`

	rows, err := r.db.QueryContext(ctx, query, accountID, pq.Array(fingerprints))
	if err != nil {
		return nil, fmt.Errorf("failed to query fingerprints: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]struct{})
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		existing[fp] = struct{}{}
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fingerprints: %w", err)
	}
	return existing, nil
}

func (r *TransactionRepository) list(ctx context.Context, query string, args ...any) ([]*transaction.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*transaction.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, txn)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return transactions, nil
}

func scanTransaction(s scanner) (*transaction.Transaction, error) {
	var txn transaction.Transaction
	var connectionID sql.NullString
	var payee sql.NullString
	var category sql.NullString

	err := s.Scan(
		&txn.ID, &txn.UserID, &txn.AccountID, &connectionID, &txn.Amount,
		&txn.Currency, &txn.Description, &payee, &category,
		&txn.TransactionDate, &txn.Fingerprint, &txn.Source, &txn.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if connectionID.Valid {
		txn.ConnectionID = &connectionID.String
	}
	if payee.Valid {
		txn.Payee = payee.String
	}
	if category.Valid {
		txn.Category = &category.String
	}
	return &txn, nil
}
