package importer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kassa/internal/domain/categoryrule"
	"kassa/internal/domain/transaction"
)

// MockTransactionRepo implements transaction.Repository for testing
type MockTransactionRepo struct {
	CreateFunc               func(ctx context.Context, params transaction.CreateTransactionParams) (*transaction.Transaction, error)
	ExistingFingerprintsFunc func(ctx context.Context, accountID string, fingerprints []string) (map[string]struct{}, error)
}

func (m *MockTransactionRepo) Create(ctx context.Context, params transaction.CreateTransactionParams) (*transaction.Transaction, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, params)
	}
	return &transaction.Transaction{ID: "tx-1"}, nil
}
func (m *MockTransactionRepo) GetByID(ctx context.Context, id string) (*transaction.Transaction, error) {
	return nil, nil
}
func (m *MockTransactionRepo) ListByAccountID(ctx context.Context, accountID string, limit, offset int) ([]*transaction.Transaction, error) {
	return nil, nil
}
func (m *MockTransactionRepo) ListByUserID(ctx context.Context, userID int64, limit, offset int) ([]*transaction.Transaction, error) {
	return nil, nil
}
func (m *MockTransactionRepo) CountByUserID(ctx context.Context, userID int64) (int64, error) {
	return 0, nil
}
func (m *MockTransactionRepo) Delete(ctx context.Context, id string) error { return nil }
func (m *MockTransactionRepo) ExistingFingerprints(ctx context.Context, accountID string, fingerprints []string) (map[string]struct{}, error) {
	if m.ExistingFingerprintsFunc != nil {
		return m.ExistingFingerprintsFunc(ctx, accountID, fingerprints)
	}
	return map[string]struct{}{}, nil
}

// MockJobRepo implements JobRepository for testing
type MockJobRepo struct {
	CreateFunc func(ctx context.Context, job *Job) error
	UpdateFunc func(ctx context.Context, job *Job) error
	GetFunc    func(ctx context.Context, id string) (*Job, error)

	lastUpdate *Job
}

func (m *MockJobRepo) Create(ctx context.Context, job *Job) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, job)
	}
	return nil
}
func (m *MockJobRepo) Update(ctx context.Context, job *Job) error {
	m.lastUpdate = job
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, job)
	}
	return nil
}
func (m *MockJobRepo) GetByID(ctx context.Context, id string) (*Job, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return nil, nil
}
func (m *MockJobRepo) ListByUserID(ctx context.Context, userID int64, limit, offset int) ([]*Job, error) {
	return nil, nil
}

type staticMatcher struct {
	rules *categoryrule.RuleSet
	err   error
}

func (m *staticMatcher) RulesFor(ctx context.Context, userID int64) (*categoryrule.RuleSet, error) {
	return m.rules, m.err
}

func record(accountID, description string, amount float64, day int) Record {
	return Record{
		AccountID:   accountID,
		Amount:      decimal.NewFromFloat(amount),
		Currency:    "SEK",
		Description: description,
		Date:        time.Date(2026, 1, day, 0, 0, 0, 0, time.UTC),
	}
}

func TestImport_HappyPath(t *testing.T) {
	var created []transaction.CreateTransactionParams
	txRepo := &MockTransactionRepo{
		CreateFunc: func(ctx context.Context, params transaction.CreateTransactionParams) (*transaction.Transaction, error) {
			created = append(created, params)
			return &transaction.Transaction{ID: "tx"}, nil
		},
	}
	jobRepo := &MockJobRepo{}
	svc := NewService(txRepo, jobRepo, nil)

	result, err := svc.Import(context.Background(), ImportParams{
		UserID: 1,
		Source: transaction.SourceSync,
		Records: []Record{
			record("acc-1", "ICA MAXI LINDHAGEN", -249.00, 15),
			record("acc-1", "LÖN JANUARI", 32000.00, 25),
		},
		SkipDuplicates: true,
	})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}

	if result.Imported != 2 || result.Duplicates != 0 || result.Failed != 0 {
		t.Errorf("result = %+v", result)
	}
	if result.Status != StatusCompleted {
		t.Errorf("Status = %q", result.Status)
	}
	if len(created) != 2 {
		t.Fatalf("created %d transactions, want 2", len(created))
	}
	if created[0].Fingerprint == "" {
		t.Error("fingerprint was not set on the stored row")
	}
	if jobRepo.lastUpdate == nil || !jobRepo.lastUpdate.Terminal() {
		t.Error("job was not finalized")
	}
}

func TestImport_SkipsStoredDuplicates(t *testing.T) {
	existing := Fingerprint("acc-1", time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		decimal.NewFromFloat(-249.00), "ICA MAXI LINDHAGEN")

	txRepo := &MockTransactionRepo{
		ExistingFingerprintsFunc: func(ctx context.Context, accountID string, fingerprints []string) (map[string]struct{}, error) {
			return map[string]struct{}{existing: {}}, nil
		},
	}
	svc := NewService(txRepo, &MockJobRepo{}, nil)

	result, err := svc.Import(context.Background(), ImportParams{
		UserID: 1,
		Source: transaction.SourceSync,
		Records: []Record{
			record("acc-1", "ICA MAXI, LINDHAGEN", -249.00, 15), // same purchase, different rendering
			record("acc-1", "COOP", -100.00, 16),
		},
		SkipDuplicates: true,
	})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}

	if result.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", result.Duplicates)
	}
	if result.Imported != 1 {
		t.Errorf("Imported = %d, want 1", result.Imported)
	}
}

func TestImport_SkipsWithinBatchDuplicates(t *testing.T) {
	svc := NewService(&MockTransactionRepo{}, &MockJobRepo{}, nil)

	result, err := svc.Import(context.Background(), ImportParams{
		UserID: 1,
		Source: transaction.SourceCSV,
		Records: []Record{
			record("acc-1", "SL BILJETT", -42.00, 10),
			record("acc-1", "SL  BILJETT.", -42.00, 10), // normalizes identically
		},
		SkipDuplicates: true,
	})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}

	if result.Imported != 1 || result.Duplicates != 1 {
		t.Errorf("result = %+v, want 1 imported and 1 duplicate", result)
	}
}

func TestImport_Idempotent(t *testing.T) {
	stored := make(map[string]map[string]struct{}) // accountID -> fingerprints
	txRepo := &MockTransactionRepo{
		CreateFunc: func(ctx context.Context, params transaction.CreateTransactionParams) (*transaction.Transaction, error) {
			if stored[params.AccountID] == nil {
				stored[params.AccountID] = make(map[string]struct{})
			}
			stored[params.AccountID][params.Fingerprint] = struct{}{}
			return &transaction.Transaction{ID: "tx"}, nil
		},
		ExistingFingerprintsFunc: func(ctx context.Context, accountID string, fingerprints []string) (map[string]struct{}, error) {
			found := make(map[string]struct{})
			for _, fp := range fingerprints {
				if _, ok := stored[accountID][fp]; ok {
					found[fp] = struct{}{}
				}
			}
			return found, nil
		},
	}
	svc := NewService(txRepo, &MockJobRepo{}, nil)

	params := ImportParams{
		UserID: 1,
		Source: transaction.SourceSync,
		Records: []Record{
			record("acc-1", "ICA MAXI", -249.00, 15),
			record("acc-1", "HYRA", -9500.00, 1),
		},
		SkipDuplicates: true,
	}

	first, err := svc.Import(context.Background(), params)
	if err != nil {
		t.Fatalf("first Import() failed: %v", err)
	}
	second, err := svc.Import(context.Background(), params)
	if err != nil {
		t.Fatalf("second Import() failed: %v", err)
	}

	if first.Imported != 2 {
		t.Errorf("first Imported = %d, want 2", first.Imported)
	}
	if second.Imported != 0 || second.Duplicates != 2 {
		t.Errorf("second run = %+v, want everything deduplicated", second)
	}
}

func TestImport_SkipDuplicatesDisabled(t *testing.T) {
	// Dedup detection always runs; the flag only decides whether a duplicate
	// row is stored. With the flag off both rows land, one flagged.
	lookups := 0
	created := 0
	txRepo := &MockTransactionRepo{
		ExistingFingerprintsFunc: func(ctx context.Context, accountID string, fingerprints []string) (map[string]struct{}, error) {
			lookups++
			return nil, nil
		},
		CreateFunc: func(ctx context.Context, params transaction.CreateTransactionParams) (*transaction.Transaction, error) {
			created++
			return &transaction.Transaction{ID: "tx"}, nil
		},
	}
	svc := NewService(txRepo, &MockJobRepo{}, nil)

	result, err := svc.Import(context.Background(), ImportParams{
		UserID: 1,
		Source: transaction.SourceCSV,
		Records: []Record{
			record("acc-1", "SL BILJETT", -42.00, 10),
			record("acc-1", "SL BILJETT", -42.00, 10),
		},
		SkipDuplicates: false,
	})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}

	if result.Imported != 2 {
		t.Errorf("Imported = %d, want both rows with dedup disabled", result.Imported)
	}
	if created != 2 {
		t.Errorf("stored rows = %d, want 2", created)
	}
	if result.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want the repeated row flagged", result.Duplicates)
	}
	if lookups == 0 {
		t.Error("fingerprint lookup must run even with dedup disabled")
	}
}

func TestImport_RowErrorsDoNotAbortBatch(t *testing.T) {
	txRepo := &MockTransactionRepo{
		CreateFunc: func(ctx context.Context, params transaction.CreateTransactionParams) (*transaction.Transaction, error) {
			if params.Description == "BROKEN" {
				return nil, errors.New("constraint violation")
			}
			return &transaction.Transaction{ID: "tx"}, nil
		},
	}
	jobRepo := &MockJobRepo{}
	svc := NewService(txRepo, jobRepo, nil)

	badRow := record("", "no account", -10.00, 5) // fails validation

	result, err := svc.Import(context.Background(), ImportParams{
		UserID: 1,
		Source: transaction.SourceSync,
		Records: []Record{
			record("acc-1", "OK ROW", -10.00, 5),
			badRow,
			record("acc-1", "BROKEN", -20.00, 6),
			record("acc-1", "ANOTHER OK ROW", -30.00, 7),
		},
		SkipDuplicates: true,
	})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}

	if result.Imported != 2 {
		t.Errorf("Imported = %d, want 2", result.Imported)
	}
	if result.Failed != 2 {
		t.Errorf("Failed = %d, want 2", result.Failed)
	}
	if result.Status != StatusCompletedWithErrors {
		t.Errorf("Status = %q", result.Status)
	}
	if len(result.RowErrors) != 2 {
		t.Fatalf("RowErrors = %v", result.RowErrors)
	}
	if result.RowErrors[0].Row != 1 || result.RowErrors[1].Row != 2 {
		t.Errorf("row indexes = %d, %d", result.RowErrors[0].Row, result.RowErrors[1].Row)
	}
}

func TestImport_UpstreamParseFailuresLandOnJob(t *testing.T) {
	svc := NewService(&MockTransactionRepo{}, &MockJobRepo{}, nil)

	result, err := svc.Import(context.Background(), ImportParams{
		UserID:  1,
		Source:  transaction.SourceCSV,
		Records: []Record{record("acc-1", "ICA", -10.00, 5)},
		RowErrors: []RowError{
			{Row: 3, Reason: `unparseable date "not-a-date"`},
		},
		SkipDuplicates: true,
	})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}

	if result.TotalRows != 2 {
		t.Errorf("TotalRows = %d, want parse failures counted", result.TotalRows)
	}
	if result.Imported != 1 || result.Failed != 1 {
		t.Errorf("Imported/Failed = %d/%d, want 1/1", result.Imported, result.Failed)
	}
	if result.Status != StatusCompletedWithErrors {
		t.Errorf("Status = %q", result.Status)
	}
	if len(result.RowErrors) != 1 || result.RowErrors[0].Row != 3 {
		t.Errorf("RowErrors = %+v, want the seeded parse failure", result.RowErrors)
	}
}

func TestImport_JobTerminalEvenWhenPipelineFails(t *testing.T) {
	txRepo := &MockTransactionRepo{
		ExistingFingerprintsFunc: func(ctx context.Context, accountID string, fingerprints []string) (map[string]struct{}, error) {
			return nil, errors.New("database is down")
		},
	}
	jobRepo := &MockJobRepo{}
	svc := NewService(txRepo, jobRepo, nil)

	_, err := svc.Import(context.Background(), ImportParams{
		UserID:         1,
		Source:         transaction.SourceSync,
		Records:        []Record{record("acc-1", "ICA", -10.00, 5)},
		SkipDuplicates: true,
	})
	if err == nil {
		t.Fatal("Import() succeeded, want error")
	}

	if jobRepo.lastUpdate == nil {
		t.Fatal("job was never finalized")
	}
	if jobRepo.lastUpdate.Status != StatusFailed {
		t.Errorf("job status = %q, want failed", jobRepo.lastUpdate.Status)
	}
	if jobRepo.lastUpdate.FinishedAt == nil {
		t.Error("FinishedAt was not set")
	}
}

func TestImport_AppliesCategoryRules(t *testing.T) {
	ruleSvc := categoryrule.NewService(&categoryRuleListStub{
		rules: []*categoryrule.Rule{
			{Pattern: "ica", Field: categoryrule.FieldAny, Category: "Matvaror"},
		},
	})

	var created []transaction.CreateTransactionParams
	txRepo := &MockTransactionRepo{
		CreateFunc: func(ctx context.Context, params transaction.CreateTransactionParams) (*transaction.Transaction, error) {
			created = append(created, params)
			return &transaction.Transaction{ID: "tx"}, nil
		},
	}
	svc := NewService(txRepo, &MockJobRepo{}, ruleSvc)

	_, err := svc.Import(context.Background(), ImportParams{
		UserID: 1,
		Source: transaction.SourceSync,
		Records: []Record{
			record("acc-1", "ICA MAXI", -249.00, 15),
			record("acc-1", "HYRA", -9500.00, 1),
		},
		SkipDuplicates: true,
	})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}

	if created[0].Category == nil || *created[0].Category != "Matvaror" {
		t.Errorf("Category = %v, want Matvaror", created[0].Category)
	}
	if created[1].Category != nil {
		t.Errorf("Category = %v, want nil for unmatched row", created[1].Category)
	}
}

func TestImport_RuleLoadFailureDoesNotBlockImport(t *testing.T) {
	svc := NewService(&MockTransactionRepo{}, &MockJobRepo{}, &staticMatcher{err: errors.New("rules table missing")})

	result, err := svc.Import(context.Background(), ImportParams{
		UserID:         1,
		Source:         transaction.SourceSync,
		Records:        []Record{record("acc-1", "ICA", -10.00, 5)},
		SkipDuplicates: true,
	})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if result.Imported != 1 {
		t.Errorf("Imported = %d, want 1", result.Imported)
	}
}

func TestGetJob_Ownership(t *testing.T) {
	svc := NewService(&MockTransactionRepo{}, &MockJobRepo{
		GetFunc: func(ctx context.Context, id string) (*Job, error) {
			return &Job{ID: id, UserID: 7, Status: StatusCompleted}, nil
		},
	}, nil)

	if _, err := svc.GetJob(context.Background(), "job-1", 7); err != nil {
		t.Errorf("GetJob() failed for owner: %v", err)
	}
	if _, err := svc.GetJob(context.Background(), "job-1", 8); !errors.Is(err, ErrForbidden) {
		t.Errorf("GetJob() error = %v, want ErrForbidden", err)
	}
}

// categoryRuleListStub backs the real categoryrule.Service in tests.
type categoryRuleListStub struct {
	rules []*categoryrule.Rule
}

func (s *categoryRuleListStub) Create(ctx context.Context, params categoryrule.CreateRuleParams) (*categoryrule.Rule, error) {
	return nil, nil
}
func (s *categoryRuleListStub) GetByID(ctx context.Context, id int64) (*categoryrule.Rule, error) {
	return nil, nil
}
func (s *categoryRuleListStub) ListByUserID(ctx context.Context, userID int64) ([]*categoryrule.Rule, error) {
	return s.rules, nil
}
func (s *categoryRuleListStub) Update(ctx context.Context, id int64, params categoryrule.UpdateRuleParams) (*categoryrule.Rule, error) {
	return nil, nil
}
func (s *categoryRuleListStub) Delete(ctx context.Context, id int64) error { return nil }
