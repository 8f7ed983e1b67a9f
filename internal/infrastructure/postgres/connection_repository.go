package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kassa/internal/domain/connection"
)

type ConnectionRepository struct {
	db *DB
}

func NewConnectionRepository(db *DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

const connectionColumns = `id, user_id, bank_name, kind, status, access_token, refresh_token,
       token_expires_at, last_synced_at, last_error, created_at, updated_at`

func (r *ConnectionRepository) Create(ctx context.Context, params connection.CreateParams) (*connection.Connection, error) {
	query := `
		INSERT INTO bank_connections (id, user_id, bank_name, kind, status, access_token, refresh_token, token_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + connectionColumns

	row := r.db.QueryRowContext(
		ctx, query,
		uuid.NewString(), params.UserID, params.BankName, params.Kind, connection.StatusActive,
		params.AccessToken, params.RefreshToken, params.TokenExpiresAt,
	)

	conn, err := scanConnection(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}
	return conn, nil
}

func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM bank_connections WHERE id = $1`

	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

func (r *ConnectionRepository) ListByUserID(ctx context.Context, userID int64) ([]*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + `
		FROM bank_connections
		WHERE user_id = $1
		ORDER BY created_at DESC`

	return r.list(ctx, query, userID)
}

func (r *ConnectionRepository) ListByStatus(ctx context.Context, status string) ([]*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + `
		FROM bank_connections
		WHERE status = $1
		ORDER BY created_at ASC`

	return r.list(ctx, query, status)
}

func (r *ConnectionRepository) FindActiveByUserAndBank(ctx context.Context, userID int64, bankName string) (*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + `
		FROM bank_connections
		WHERE user_id = $1 AND bank_name = $2 AND status = $3`

	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, userID, bankName, connection.StatusActive))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active connection: %w", err)
	}
	return conn, nil
}

func (r *ConnectionRepository) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	query := `
		UPDATE bank_connections
		SET access_token = $1, refresh_token = $2, token_expires_at = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $4`

	return r.exec(ctx, query, accessToken, refreshToken, expiresAt, id)
}

func (r *ConnectionRepository) UpdateStatus(ctx context.Context, id, status string, lastError *string) error {
	query := `
		UPDATE bank_connections
		SET status = $1, last_error = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $3`

	return r.exec(ctx, query, status, lastError, id)
}

func (r *ConnectionRepository) UpdateLastSyncedAt(ctx context.Context, id string, syncedAt time.Time) error {
	query := `
		UPDATE bank_connections
		SET last_synced_at = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2`

	return r.exec(ctx, query, syncedAt, id)
}

func (r *ConnectionRepository) exec(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return connection.ErrConnectionNotFound
	}
	return nil
}

func (r *ConnectionRepository) list(ctx context.Context, query string, args ...any) ([]*connection.Connection, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var connections []*connection.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		connections = append(connections, conn)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}
	return connections, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConnection(s scanner) (*connection.Connection, error) {
	var conn connection.Connection
	var lastSyncedAt sql.NullTime
	var lastError sql.NullString

	err := s.Scan(
		&conn.ID, &conn.UserID, &conn.BankName, &conn.Kind, &conn.Status,
		&conn.AccessToken, &conn.RefreshToken, &conn.TokenExpiresAt,
		&lastSyncedAt, &lastError, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastSyncedAt.Valid {
		conn.LastSyncedAt = &lastSyncedAt.Time
	}
	if lastError.Valid {
		conn.LastError = &lastError.String
	}
	return &conn, nil
}
