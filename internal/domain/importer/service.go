package importer

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"kassa/internal/domain/categoryrule"
	"kassa/internal/domain/transaction"
)

// Matcher supplies the user's category rules. Satisfied by the categoryrule
// service; the pipeline never sees rule persistence.
type Matcher interface {
	RulesFor(ctx context.Context, userID int64) (*categoryrule.RuleSet, error)
}

// ImportParams describes one batch entering the pipeline.
type ImportParams struct {
	UserID       int64
	ConnectionID *string // nil for CSV imports
	Source       string  // transaction.SourceSync or transaction.SourceCSV
	Records      []Record

	// RowErrors carries rows that already failed upstream (CSV parse errors).
	// They count toward the job's totals and failure tally.
	RowErrors []RowError

	// SkipDuplicates skips rows whose fingerprint is already stored (or seen
	// earlier in the batch). When false, duplicates are inserted anyway and
	// flagged in the job summary.
	SkipDuplicates bool
}

// Result summarizes a finished import. The job carries the same numbers; the
// result exists so callers do not need to re-read the job.
type Result struct {
	JobID      string     `json:"jobId"`
	Status     string     `json:"status"`
	TotalRows  int        `json:"totalRows"`
	Imported   int        `json:"imported"`
	Duplicates int        `json:"duplicates"`
	Failed     int        `json:"failed"`
	RowErrors  []RowError `json:"rowErrors,omitempty"`
}

// Service is the import and deduplication pipeline.
type Service struct {
	transactions transaction.Repository
	jobs         JobRepository
	matcher      Matcher
	now          func() time.Time
}

func NewService(transactions transaction.Repository, jobs JobRepository, matcher Matcher) *Service {
	return &Service{
		transactions: transactions,
		jobs:         jobs,
		matcher:      matcher,
		now:          time.Now,
	}
}

// Import runs the batch through normalization, dedup, categorization and
// persistence. Row failures are recorded, never fatal; the job always ends in
// a terminal status even when the pipeline errors out early.
func (s *Service) Import(ctx context.Context, params ImportParams) (*Result, error) {
	job := &Job{
		ID:           uuid.NewString(),
		UserID:       params.UserID,
		ConnectionID: params.ConnectionID,
		Source:       params.Source,
		Status:       StatusRunning,
		TotalRows:    len(params.Records) + len(params.RowErrors),
		Failed:       len(params.RowErrors),
		RowErrors:    params.RowErrors,
		StartedAt:    s.now(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create import job: %w", err)
	}

	// Whatever happens below, the job must not be left running.
	finished := false
	defer func() {
		if !finished {
			s.finish(ctx, job, StatusFailed)
		}
	}()

	rules := s.loadRules(ctx, params.UserID)

	existing, err := s.existingFingerprints(ctx, params)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(params.Records))
	for i, record := range params.Records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fp, dup, rowErr := s.importRecord(ctx, params, record, rules, existing, seen)
		if rowErr != nil {
			job.Failed++
			job.RowErrors = append(job.RowErrors, RowError{Row: i, Reason: rowErr.Error()})
			continue
		}
		if dup {
			job.Duplicates++
			if params.SkipDuplicates {
				continue
			}
		}
		seen[fp] = struct{}{}
		job.Imported++
	}

	status := StatusCompleted
	if job.Failed > 0 {
		status = StatusCompletedWithErrors
	}
	s.finish(ctx, job, status)
	finished = true

	log.Printf("Import job %s finished: total=%d imported=%d duplicates=%d failed=%d",
		job.ID, job.TotalRows, job.Imported, job.Duplicates, job.Failed)

	return &Result{
		JobID:      job.ID,
		Status:     job.Status,
		TotalRows:  job.TotalRows,
		Imported:   job.Imported,
		Duplicates: job.Duplicates,
		Failed:     job.Failed,
		RowErrors:  job.RowErrors,
	}, nil
}

// importRecord processes a single row. The duplicate check always runs so the
// job can flag duplicates either way; the flag only decides whether a
// duplicate row is stored.
func (s *Service) importRecord(
	ctx context.Context,
	params ImportParams,
	record Record,
	rules *categoryrule.RuleSet,
	existing map[string]struct{},
	seen map[string]struct{},
) (fp string, dup bool, err error) {
	fp = Fingerprint(record.AccountID, record.Date, record.Amount, record.Description)

	if _, dup = existing[fp]; !dup {
		_, dup = seen[fp]
	}
	if dup && params.SkipDuplicates {
		return fp, true, nil
	}

	var category *string
	if rules != nil {
		category = rules.Match(record.Description, record.Payee)
	}

	createParams := transaction.CreateTransactionParams{
		UserID:          params.UserID,
		AccountID:       record.AccountID,
		ConnectionID:    params.ConnectionID,
		Amount:          record.Amount,
		Currency:        record.Currency,
		Description:     record.Description,
		Payee:           record.Payee,
		Category:        category,
		TransactionDate: record.Date,
		Fingerprint:     fp,
		Source:          params.Source,
	}
	if err := createParams.Validate(); err != nil {
		return "", false, err
	}

	if _, err := s.transactions.Create(ctx, createParams); err != nil {
		return "", false, fmt.Errorf("failed to store transaction: %w", err)
	}
	return fp, dup, nil
}

// existingFingerprints collects the already-stored fingerprints for every
// account in the batch, one query per account.
func (s *Service) existingFingerprints(ctx context.Context, params ImportParams) (map[string]struct{}, error) {
	byAccount := make(map[string][]string)
	for _, record := range params.Records {
		fp := Fingerprint(record.AccountID, record.Date, record.Amount, record.Description)
		byAccount[record.AccountID] = append(byAccount[record.AccountID], fp)
	}

	existing := make(map[string]struct{})
	for accountID, fingerprints := range byAccount {
		found, err := s.transactions.ExistingFingerprints(ctx, accountID, fingerprints)
		if err != nil {
			return nil, fmt.Errorf("failed to look up fingerprints for account %s: %w", accountID, err)
		}
		for fp := range found {
			existing[fp] = struct{}{}
		}
	}
	return existing, nil
}

// loadRules is best-effort: categorization is an enhancement, a broken rule
// load must not block the import.
func (s *Service) loadRules(ctx context.Context, userID int64) *categoryrule.RuleSet {
	if s.matcher == nil {
		return nil
	}
	rules, err := s.matcher.RulesFor(ctx, userID)
	if err != nil {
		log.Printf("Failed to load category rules for user %d: %v", userID, err)
		return nil
	}
	return rules
}

// finish moves the job to a terminal status. A failed write is logged, not
// returned: by this point the import outcome is already decided.
func (s *Service) finish(ctx context.Context, job *Job, status string) {
	finishedAt := s.now()
	job.Status = status
	job.FinishedAt = &finishedAt

	// The batch may have been canceled; finalize the job regardless.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if err := s.jobs.Update(ctx, job); err != nil {
		log.Printf("Failed to finalize import job %s: %v", job.ID, err)
	}
}

// GetJob returns an import job, verifying ownership.
func (s *Service) GetJob(ctx context.Context, jobID string, userID int64) (*Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	if job.UserID != userID {
		return nil, ErrForbidden
	}
	return job, nil
}

// ListJobs returns the user's import jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, userID int64, limit, offset int) ([]*Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.jobs.ListByUserID(ctx, userID, limit, offset)
}
