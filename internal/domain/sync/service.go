package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"kassa/internal/domain/connection"
	"kassa/internal/domain/importer"
	"kassa/internal/domain/transaction"
	"kassa/internal/infrastructure/providers"
)

// syncOverlap is subtracted from the watermark when computing the fetch
// window. Banks book transactions late; anything replayed inside the overlap
// is absorbed by the fingerprint dedup.
const syncOverlap = 3 * 24 * time.Hour

// ConnectionGateway is the slice of the connection registry the sync engine
// needs. Satisfied by *connection.Service.
type ConnectionGateway interface {
	GetConnection(ctx context.Context, id string, userID int64) (*connection.Connection, error)
	ListSyncable(ctx context.Context) ([]*connection.Connection, error)
	AccountsForConnection(ctx context.Context, conn *connection.Connection) ([]providers.Account, error)
	TransactionsForConnection(ctx context.Context, conn *connection.Connection, accountID string, from, to time.Time) ([]providers.Transaction, error)
	MarkSynced(ctx context.Context, conn *connection.Connection, syncedAt time.Time) error
	MarkSyncError(ctx context.Context, conn *connection.Connection, cause error) error
}

// Importer is the slice of the import pipeline the sync engine needs.
// Satisfied by *importer.Service.
type Importer interface {
	Import(ctx context.Context, params importer.ImportParams) (*importer.Result, error)
}

// ErrAccountNotFound is returned when an on-demand sync names an account the
// connection does not have.
var ErrAccountNotFound = errors.New("account not found on connection")

// Options narrows an on-demand sync run. The zero value reproduces the
// scheduler's behavior: every account, the watermark window, duplicates
// skipped.
type Options struct {
	AccountID      string
	From           *time.Time
	To             *time.Time
	SkipDuplicates *bool
}

// scoped reports whether the run covers less than the full watermark window,
// in which case the watermark must not advance.
func (o Options) scoped() bool {
	return o.AccountID != "" || o.From != nil || o.To != nil
}

func (o Options) skipDuplicates() bool {
	if o.SkipDuplicates == nil {
		return true
	}
	return *o.SkipDuplicates
}

// Result summarizes one connection's sync run.
type Result struct {
	ConnectionID string     `json:"connectionId"`
	BankName     string     `json:"bankName"`
	Accounts     int        `json:"accounts"`
	Fetched      int        `json:"fetched"`
	Imported     int        `json:"imported"`
	Duplicates   int        `json:"duplicates"`
	Failed       int        `json:"failed"`
	JobID        string     `json:"jobId,omitempty"`
	SyncedAt     *time.Time `json:"syncedAt,omitempty"`
	Errors       []string   `json:"errors,omitempty"`
}

// Service pulls transactions from the banks and feeds them through the import
// pipeline. One run covers one connection; failures never leak across
// connections.
type Service struct {
	connections  ConnectionGateway
	imports      Importer
	lookbackDays int
	now          func() time.Time
}

func NewService(connections ConnectionGateway, imports Importer, lookbackDays int) *Service {
	if lookbackDays <= 0 {
		lookbackDays = 90
	}
	return &Service{
		connections:  connections,
		imports:      imports,
		lookbackDays: lookbackDays,
		now:          time.Now,
	}
}

// SyncConnection fetches new transactions for every account behind the
// connection and imports them. The watermark only advances when all accounts
// were fetched cleanly; a partial run is imported anyway and retried in full
// on the next interval, with the dedup absorbing the replay.
func (s *Service) SyncConnection(ctx context.Context, conn *connection.Connection) (*Result, error) {
	return s.syncConnection(ctx, conn, Options{})
}

func (s *Service) syncConnection(ctx context.Context, conn *connection.Connection, opts Options) (*Result, error) {
	result := &Result{
		ConnectionID: conn.ID,
		BankName:     conn.BankName,
	}

	to := s.now()
	if opts.To != nil {
		to = *opts.To
	}
	from := s.windowStart(conn, to)
	if opts.From != nil {
		from = *opts.From
	}

	accounts, err := s.connections.AccountsForConnection(ctx, conn)
	if err != nil {
		// Auth failures already expired the connection; anything else is a
		// transient sync error.
		if !errors.Is(err, providers.ErrAuthFailed) && !errors.Is(err, connection.ErrNotActive) {
			if markErr := s.connections.MarkSyncError(ctx, conn, err); markErr != nil {
				log.Printf("Failed to record sync error for connection %s: %v", conn.ID, markErr)
			}
		}
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	if opts.AccountID != "" {
		scoped := accounts[:0:0]
		for _, acc := range accounts {
			if acc.ID == opts.AccountID {
				scoped = append(scoped, acc)
			}
		}
		if len(scoped) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, opts.AccountID)
		}
		accounts = scoped
	}
	result.Accounts = len(accounts)

	var records []importer.Record
	fetchedAll := true
	for _, acc := range accounts {
		txns, err := s.connections.TransactionsForConnection(ctx, conn, acc.ID, from, to)
		if err != nil {
			if errors.Is(err, providers.ErrAuthFailed) || errors.Is(err, connection.ErrNotActive) {
				return nil, fmt.Errorf("failed to fetch transactions for account %s: %w", acc.ID, err)
			}
			fetchedAll = false
			result.Errors = append(result.Errors, fmt.Sprintf("account %s: %v", acc.ID, err))
			log.Printf("Failed to fetch transactions for connection %s account %s: %v", conn.ID, acc.ID, err)
			continue
		}

		for _, txn := range txns {
			currency := txn.Currency
			if currency == "" {
				currency = acc.Currency
			}
			records = append(records, importer.Record{
				AccountID:   acc.ID,
				ExternalID:  txn.ID,
				Amount:      txn.Amount,
				Currency:    currency,
				Description: txn.Description,
				Payee:       txn.Payee,
				Date:        txn.BookingDate,
			})
		}
	}
	result.Fetched = len(records)

	importResult, err := s.imports.Import(ctx, importer.ImportParams{
		UserID:         conn.UserID,
		ConnectionID:   &conn.ID,
		Source:         transaction.SourceSync,
		Records:        records,
		SkipDuplicates: opts.skipDuplicates(),
	})
	if err != nil {
		if markErr := s.connections.MarkSyncError(ctx, conn, err); markErr != nil {
			log.Printf("Failed to record sync error for connection %s: %v", conn.ID, markErr)
		}
		return nil, fmt.Errorf("failed to import transactions: %w", err)
	}

	result.JobID = importResult.JobID
	result.Imported = importResult.Imported
	result.Duplicates = importResult.Duplicates
	result.Failed = importResult.Failed

	if !fetchedAll {
		err := errors.New(result.Errors[0])
		if markErr := s.connections.MarkSyncError(ctx, conn, err); markErr != nil {
			log.Printf("Failed to record sync error for connection %s: %v", conn.ID, markErr)
		}
		log.Printf("Partial sync for connection %s: imported=%d duplicates=%d errors=%d",
			conn.ID, result.Imported, result.Duplicates, len(result.Errors))
		return result, nil
	}

	// A scoped run (single account or custom window) covers less than the
	// watermark window, so advancing the watermark would skip data.
	if !opts.scoped() {
		if err := s.connections.MarkSynced(ctx, conn, to); err != nil {
			return nil, fmt.Errorf("failed to advance sync watermark: %w", err)
		}
		result.SyncedAt = &to
	}

	log.Printf("Sync completed for connection %s (%s): accounts=%d fetched=%d imported=%d duplicates=%d failed=%d",
		conn.ID, conn.BankName, result.Accounts, result.Fetched, result.Imported, result.Duplicates, result.Failed)

	return result, nil
}

// SyncNow runs a sync for one connection on behalf of its owner.
func (s *Service) SyncNow(ctx context.Context, connectionID string, userID int64, opts Options) (*Result, error) {
	conn, err := s.connections.GetConnection(ctx, connectionID, userID)
	if err != nil {
		return nil, err
	}
	return s.syncConnection(ctx, conn, opts)
}

// SyncAll runs every syncable connection in sequence. One connection's
// failure is logged and recorded on that connection only.
func (s *Service) SyncAll(ctx context.Context) ([]*Result, error) {
	conns, err := s.connections.ListSyncable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list syncable connections: %w", err)
	}

	var results []*Result
	for _, conn := range conns {
		result, err := s.SyncConnection(ctx, conn)
		if err != nil {
			log.Printf("Failed to sync connection %s (%s): %v", conn.ID, conn.BankName, err)
			results = append(results, &Result{
				ConnectionID: conn.ID,
				BankName:     conn.BankName,
				Errors:       []string{err.Error()},
			})
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

// windowStart computes the fetch window's lower bound: the watermark minus
// the booking overlap, floored at the configured lookback for first syncs.
func (s *Service) windowStart(conn *connection.Connection, to time.Time) time.Time {
	floor := to.AddDate(0, 0, -s.lookbackDays)
	if conn.LastSyncedAt == nil {
		return floor
	}
	from := conn.LastSyncedAt.Add(-syncOverlap)
	if from.Before(floor) {
		return floor
	}
	return from
}
