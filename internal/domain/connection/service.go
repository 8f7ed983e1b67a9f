package connection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"kassa/internal/infrastructure/providers"
)

// refreshSkew is how close to expiry a token may get before EnsureFresh
// refreshes it proactively.
const refreshSkew = 5 * time.Minute

// Codec encrypts token material before it reaches the repository and decrypts
// it on the way back. Satisfied by crypto.Encryptor.
type Codec interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Service is the connection registry. It owns the encryption boundary: bank
// clients and callers deal in plaintext tokens, the repository only ever sees
// ciphertext.
type Service struct {
	repo      Repository
	providers *providers.Registry
	codec     Codec
	now       func() time.Time
}

func NewService(repo Repository, registry *providers.Registry, codec Codec) *Service {
	return &Service{
		repo:      repo,
		providers: registry,
		codec:     codec,
		now:       time.Now,
	}
}

// AuthorizationURL resolves the bank and builds its consent URL.
func (s *Service) AuthorizationURL(bankName, redirectURI, state string) (string, error) {
	client, err := s.providers.Resolve(bankName)
	if err != nil {
		return "", err
	}
	return client.AuthorizationURL(redirectURI, state), nil
}

// CreateConnection exchanges the authorization artifact for tokens and
// persists a new active connection. An existing active connection to the same
// bank is revoked first: one live consent per user and bank.
func (s *Service) CreateConnection(ctx context.Context, userID int64, bankName, code, redirectURI string) (*Connection, error) {
	client, err := s.providers.Resolve(bankName)
	if err != nil {
		return nil, err
	}

	tokens, err := client.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindActiveByUserAndBank(ctx, userID, bankName)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing connection: %w", err)
	}
	if existing != nil {
		if err := s.transition(ctx, existing, StatusRevoked, nil); err != nil {
			return nil, fmt.Errorf("failed to revoke superseded connection: %w", err)
		}
		log.Printf("Revoked superseded connection %s (bank=%s)", existing.ID, bankName)
	}

	encAccess, encRefresh, err := s.sealTokens(tokens)
	if err != nil {
		return nil, err
	}

	params := CreateParams{
		UserID:         userID,
		BankName:       bankName,
		Kind:           client.Kind(),
		AccessToken:    encAccess,
		RefreshToken:   encRefresh,
		TokenExpiresAt: tokens.ExpiresAt,
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	conn, err := s.repo.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}
	return conn, nil
}

// GetConnection retrieves a connection by ID and verifies ownership.
func (s *Service) GetConnection(ctx context.Context, id string, userID int64) (*Connection, error) {
	conn, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, ErrConnectionNotFound
	}
	if conn.UserID != userID {
		return nil, ErrForbidden
	}
	return conn, nil
}

// ListConnections returns all of the user's connections.
func (s *Service) ListConnections(ctx context.Context, userID int64) ([]*Connection, error) {
	if userID <= 0 {
		return nil, errors.New("valid user ID is required")
	}
	return s.repo.ListByUserID(ctx, userID)
}

// ListSyncable returns every connection the scheduler should attempt, across
// users. Connections in the error status stay syncable: a transient provider
// outage must not strand them, and MarkSynced clears the status on the next
// clean run.
func (s *Service) ListSyncable(ctx context.Context) ([]*Connection, error) {
	active, err := s.repo.ListByStatus(ctx, StatusActive)
	if err != nil {
		return nil, err
	}
	errored, err := s.repo.ListByStatus(ctx, StatusError)
	if err != nil {
		return nil, err
	}
	return append(active, errored...), nil
}

// RevokeConnection moves a connection to its terminal status after verifying
// ownership. Stored token ciphertext stays in place; a revoked connection is
// never used again.
func (s *Service) RevokeConnection(ctx context.Context, id string, userID int64) error {
	conn, err := s.GetConnection(ctx, id, userID)
	if err != nil {
		return err
	}
	return s.transition(ctx, conn, StatusRevoked, nil)
}

// EnsureFresh returns a plaintext token set that is valid for at least
// refreshSkew. Refreshed tokens are persisted before they are returned, so a
// crash cannot orphan a rotated refresh token.
func (s *Service) EnsureFresh(ctx context.Context, conn *Connection) (*providers.TokenSet, error) {
	// Error means a previous sync failed on something transient; the tokens
	// themselves are still good, so the connection stays usable.
	if conn.Status != StatusActive && conn.Status != StatusError {
		return nil, fmt.Errorf("%w: status is %s", ErrNotActive, conn.Status)
	}

	tokens, err := s.openTokens(conn)
	if err != nil {
		return nil, err
	}

	if tokens.ExpiresAt.Sub(s.now()) > refreshSkew {
		return tokens, nil
	}

	client, err := s.providers.Resolve(conn.BankName)
	if err != nil {
		return nil, err
	}

	refreshed, err := client.Refresh(ctx, *tokens)
	if err != nil {
		if errors.Is(err, providers.ErrAuthFailed) {
			s.markExpired(ctx, conn, err)
		}
		return nil, fmt.Errorf("failed to refresh tokens: %w", err)
	}

	encAccess, encRefresh, err := s.sealTokens(refreshed)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateTokens(ctx, conn.ID, encAccess, encRefresh, refreshed.ExpiresAt); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	conn.AccessToken = encAccess
	conn.RefreshToken = encRefresh
	conn.TokenExpiresAt = refreshed.ExpiresAt

	return refreshed, nil
}

// Accounts lists the provider accounts behind a connection, refreshing tokens
// first when needed.
func (s *Service) Accounts(ctx context.Context, id string, userID int64) ([]providers.Account, error) {
	conn, err := s.GetConnection(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	return s.AccountsForConnection(ctx, conn)
}

// AccountsForConnection is the ownership-free variant used by the scheduler,
// which already holds the connection.
func (s *Service) AccountsForConnection(ctx context.Context, conn *Connection) ([]providers.Account, error) {
	client, tokens, err := s.clientAndTokens(ctx, conn)
	if err != nil {
		return nil, err
	}

	accounts, err := client.Accounts(ctx, tokens.AccessToken)
	if err != nil {
		if errors.Is(err, providers.ErrAuthFailed) {
			s.markExpired(ctx, conn, err)
		}
		return nil, err
	}
	return accounts, nil
}

// TransactionsForConnection fetches booked transactions for one provider
// account in [from, to].
func (s *Service) TransactionsForConnection(ctx context.Context, conn *Connection, accountID string, from, to time.Time) ([]providers.Transaction, error) {
	client, tokens, err := s.clientAndTokens(ctx, conn)
	if err != nil {
		return nil, err
	}

	txns, err := client.Transactions(ctx, tokens.AccessToken, accountID, from, to)
	if err != nil {
		if errors.Is(err, providers.ErrAuthFailed) {
			s.markExpired(ctx, conn, err)
		}
		return nil, err
	}
	return txns, nil
}

// MarkSynced advances the connection's sync watermark and clears any error
// status.
func (s *Service) MarkSynced(ctx context.Context, conn *Connection, syncedAt time.Time) error {
	if err := s.repo.UpdateLastSyncedAt(ctx, conn.ID, syncedAt); err != nil {
		return fmt.Errorf("failed to update sync watermark: %w", err)
	}
	conn.LastSyncedAt = &syncedAt

	if conn.Status == StatusError {
		return s.transition(ctx, conn, StatusActive, nil)
	}
	return nil
}

// MarkSyncError records a non-auth sync failure without touching tokens.
func (s *Service) MarkSyncError(ctx context.Context, conn *Connection, cause error) error {
	msg := cause.Error()
	return s.transition(ctx, conn, StatusError, &msg)
}

func (s *Service) clientAndTokens(ctx context.Context, conn *Connection) (providers.Client, *providers.TokenSet, error) {
	tokens, err := s.EnsureFresh(ctx, conn)
	if err != nil {
		return nil, nil, err
	}
	client, err := s.providers.Resolve(conn.BankName)
	if err != nil {
		return nil, nil, err
	}
	return client, tokens, nil
}

func (s *Service) sealTokens(tokens *providers.TokenSet) (access, refresh string, err error) {
	access, err = s.codec.Encrypt(tokens.AccessToken)
	if err != nil {
		return "", "", fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err = s.codec.Encrypt(tokens.RefreshToken)
	if err != nil {
		return "", "", fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	return access, refresh, nil
}

func (s *Service) openTokens(conn *Connection) (*providers.TokenSet, error) {
	access, err := s.codec.Decrypt(conn.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refresh, err := s.codec.Decrypt(conn.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	return &providers.TokenSet{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    conn.TokenExpiresAt,
	}, nil
}

func (s *Service) transition(ctx context.Context, conn *Connection, to string, lastError *string) error {
	if !CanTransition(conn.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, conn.Status, to)
	}
	if err := s.repo.UpdateStatus(ctx, conn.ID, to, lastError); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	conn.Status = to
	conn.LastError = lastError
	return nil
}

// markExpired is best-effort: the auth failure itself is the error the caller
// gets, a failed status write only logs.
func (s *Service) markExpired(ctx context.Context, conn *Connection, cause error) {
	msg := cause.Error()
	if err := s.transition(ctx, conn, StatusExpired, &msg); err != nil {
		log.Printf("Failed to mark connection %s expired: %v", conn.ID, err)
	}
}
