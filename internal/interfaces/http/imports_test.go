package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kassa/internal/domain/importer"
	"kassa/internal/domain/transaction"
)

// MockImportService implements importService for testing
type MockImportService struct {
	ImportFunc   func(ctx context.Context, params importer.ImportParams) (*importer.Result, error)
	GetJobFunc   func(ctx context.Context, jobID string, userID int64) (*importer.Job, error)
	ListJobsFunc func(ctx context.Context, userID int64, limit, offset int) ([]*importer.Job, error)
}

func (m *MockImportService) Import(ctx context.Context, params importer.ImportParams) (*importer.Result, error) {
	if m.ImportFunc != nil {
		return m.ImportFunc(ctx, params)
	}
	return &importer.Result{Status: importer.StatusCompleted}, nil
}

func (m *MockImportService) GetJob(ctx context.Context, jobID string, userID int64) (*importer.Job, error) {
	if m.GetJobFunc != nil {
		return m.GetJobFunc(ctx, jobID, userID)
	}
	return nil, importer.ErrJobNotFound
}

func (m *MockImportService) ListJobs(ctx context.Context, userID int64, limit, offset int) ([]*importer.Job, error) {
	if m.ListJobsFunc != nil {
		return m.ListJobsFunc(ctx, userID, limit, offset)
	}
	return nil, nil
}

// MockUploadStore implements uploadStore for testing
type MockUploadStore struct {
	PutFunc     func(userID int64, accountID, filename string, records []importer.Record, rowErrs []importer.RowError) string
	TakeFunc    func(id string, userID int64) (*importer.PendingUpload, error)
	DiscardFunc func(id string, userID int64)
}

func (m *MockUploadStore) Put(userID int64, accountID, filename string, records []importer.Record, rowErrs []importer.RowError) string {
	if m.PutFunc != nil {
		return m.PutFunc(userID, accountID, filename, records, rowErrs)
	}
	return "upload-1"
}

func (m *MockUploadStore) Take(id string, userID int64) (*importer.PendingUpload, error) {
	if m.TakeFunc != nil {
		return m.TakeFunc(id, userID)
	}
	return nil, importer.ErrUploadNotFound
}

func (m *MockUploadStore) Discard(id string, userID int64) {
	if m.DiscardFunc != nil {
		m.DiscardFunc(id, userID)
	}
}

func multipartUpload(t *testing.T, accountID, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if accountID != "" {
		mw.WriteField("accountId", accountID)
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile() failed: %v", err)
	}
	fw.Write([]byte(content))
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestHandleUpload(t *testing.T) {
	csv := "Date,Description,Amount\n2025-03-01,ICA Maxi,-249.00\n2025-03-02,Salary,32000.00\n"

	var putRecords []importer.Record
	uploads := &MockUploadStore{
		PutFunc: func(userID int64, accountID, filename string, records []importer.Record, rowErrs []importer.RowError) string {
			putRecords = records
			return "upload-42"
		},
	}
	handler := NewImportHandler(&MockImportService{}, uploads)

	body, contentType := multipartUpload(t, "acc-1", "statement.csv", csv)
	req := authedRequest(http.MethodPost, "/api/imports/upload", body.Bytes())
	req.Header.Set("Content-Type", contentType)

	rr := httptest.NewRecorder()
	handler.HandleUpload(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}

	var resp UploadResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.UploadID != "upload-42" {
		t.Errorf("UploadID = %q, want upload-42", resp.UploadID)
	}
	if resp.TotalRows != 2 {
		t.Errorf("TotalRows = %d, want 2", resp.TotalRows)
	}
	if len(putRecords) != 2 {
		t.Errorf("staged records = %d, want 2", len(putRecords))
	}
	if len(resp.Preview) != 2 {
		t.Errorf("preview = %d rows, want 2", len(resp.Preview))
	}
}

func TestHandleUpload_BadRowsAreReportedNotFatal(t *testing.T) {
	csv := "Date,Description,Amount\n2025-03-01,ICA Maxi,-249.00\nnot-a-date,Coop,-20.00\n"

	var stagedErrs []importer.RowError
	uploads := &MockUploadStore{
		PutFunc: func(userID int64, accountID, filename string, records []importer.Record, rowErrs []importer.RowError) string {
			stagedErrs = rowErrs
			return "upload-42"
		},
	}
	handler := NewImportHandler(&MockImportService{}, uploads)

	body, contentType := multipartUpload(t, "acc-1", "statement.csv", csv)
	req := authedRequest(http.MethodPost, "/api/imports/upload", body.Bytes())
	req.Header.Set("Content-Type", contentType)

	rr := httptest.NewRecorder()
	handler.HandleUpload(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}

	var resp UploadResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.TotalRows != 2 {
		t.Errorf("TotalRows = %d, want parseable plus failed rows", resp.TotalRows)
	}
	if len(resp.RowErrors) != 1 || resp.RowErrors[0].Row != 3 {
		t.Errorf("RowErrors = %v, want one failure at file line 3", resp.RowErrors)
	}
	if len(stagedErrs) != 1 {
		t.Errorf("staged row errors = %d, want 1", len(stagedErrs))
	}
}

func TestHandleUpload_MissingAccountID(t *testing.T) {
	handler := NewImportHandler(&MockImportService{}, &MockUploadStore{})

	body, contentType := multipartUpload(t, "", "statement.csv", "Date,Description,Amount\n")
	req := authedRequest(http.MethodPost, "/api/imports/upload", body.Bytes())
	req.Header.Set("Content-Type", contentType)

	rr := httptest.NewRecorder()
	handler.HandleUpload(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestHandleUpload_UnparseableStatement(t *testing.T) {
	handler := NewImportHandler(&MockImportService{}, &MockUploadStore{})

	body, contentType := multipartUpload(t, "acc-1", "statement.csv", "this;is;not\na;statement;file\n")
	req := authedRequest(http.MethodPost, "/api/imports/upload", body.Bytes())
	req.Header.Set("Content-Type", contentType)

	rr := httptest.NewRecorder()
	handler.HandleUpload(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleConfirm(t *testing.T) {
	staged := &importer.PendingUpload{
		ID:        "upload-42",
		UserID:    1,
		AccountID: "acc-1",
		Records: []importer.Record{
			{AccountID: "acc-1", Description: "ICA Maxi", Currency: "SEK", Date: time.Now()},
		},
		RowErrors: []importer.RowError{{Row: 3, Reason: "unparseable date"}},
	}

	var importParams importer.ImportParams
	uploads := &MockUploadStore{
		TakeFunc: func(id string, userID int64) (*importer.PendingUpload, error) {
			if id != "upload-42" || userID != 1 {
				return nil, importer.ErrUploadNotFound
			}
			return staged, nil
		},
	}
	imports := &MockImportService{
		ImportFunc: func(ctx context.Context, params importer.ImportParams) (*importer.Result, error) {
			importParams = params
			return &importer.Result{JobID: "job-1", Status: importer.StatusCompleted, TotalRows: 1, Imported: 1}, nil
		},
	}
	handler := NewImportHandler(imports, uploads)

	body, _ := json.Marshal(ConfirmImportRequest{UploadID: "upload-42"})
	rr := httptest.NewRecorder()
	handler.HandleConfirm(rr, authedRequest(http.MethodPost, "/api/imports/confirm", body))

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rr.Code, rr.Body.String())
	}

	if importParams.Source != transaction.SourceCSV {
		t.Errorf("Source = %q, want %q", importParams.Source, transaction.SourceCSV)
	}
	if !importParams.SkipDuplicates {
		t.Error("SkipDuplicates should default to true")
	}
	if importParams.ConnectionID != nil {
		t.Error("CSV imports must not carry a connection ID")
	}
	if len(importParams.RowErrors) != 1 || importParams.RowErrors[0].Row != 3 {
		t.Errorf("RowErrors = %v, want the staged parse failure threaded through", importParams.RowErrors)
	}
}

func TestHandleConfirm_UploadExpired(t *testing.T) {
	handler := NewImportHandler(&MockImportService{}, &MockUploadStore{})

	body, _ := json.Marshal(ConfirmImportRequest{UploadID: "gone"})
	rr := httptest.NewRecorder()
	handler.HandleConfirm(rr, authedRequest(http.MethodPost, "/api/imports/confirm", body))

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestHandleConfirm_SkipDuplicatesDisabled(t *testing.T) {
	uploads := &MockUploadStore{
		TakeFunc: func(id string, userID int64) (*importer.PendingUpload, error) {
			return &importer.PendingUpload{ID: id, UserID: userID}, nil
		},
	}
	var got importer.ImportParams
	imports := &MockImportService{
		ImportFunc: func(ctx context.Context, params importer.ImportParams) (*importer.Result, error) {
			got = params
			return &importer.Result{Status: importer.StatusCompleted}, nil
		},
	}
	handler := NewImportHandler(imports, uploads)

	skip := false
	body, _ := json.Marshal(ConfirmImportRequest{UploadID: "upload-42", SkipDuplicates: &skip})
	rr := httptest.NewRecorder()
	handler.HandleConfirm(rr, authedRequest(http.MethodPost, "/api/imports/confirm", body))

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rr.Code)
	}
	if got.SkipDuplicates {
		t.Error("SkipDuplicates should honor an explicit false")
	}
}

func TestHandleImportByID(t *testing.T) {
	tests := []struct {
		name           string
		getJob         func(ctx context.Context, jobID string, userID int64) (*importer.Job, error)
		expectedStatus int
	}{
		{
			name: "Success",
			getJob: func(ctx context.Context, jobID string, userID int64) (*importer.Job, error) {
				return &importer.Job{ID: jobID, UserID: userID, Status: importer.StatusCompleted, StartedAt: time.Now()}, nil
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "Not Found",
			getJob: func(ctx context.Context, jobID string, userID int64) (*importer.Job, error) {
				return nil, importer.ErrJobNotFound
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name: "Forbidden",
			getJob: func(ctx context.Context, jobID string, userID int64) (*importer.Job, error) {
				return nil, importer.ErrForbidden
			},
			expectedStatus: http.StatusForbidden,
		},
		{
			name: "Repository Error",
			getJob: func(ctx context.Context, jobID string, userID int64) (*importer.Job, error) {
				return nil, errors.New("db error")
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewImportHandler(&MockImportService{GetJobFunc: tt.getJob}, &MockUploadStore{})

			rr := httptest.NewRecorder()
			req := authedRequest(http.MethodGet, "/api/imports/job-1", nil)
			req.SetPathValue("id", "job-1")
			handler.HandleImportByID(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.expectedStatus)
			}
		})
	}
}

func TestHandleDiscard(t *testing.T) {
	var discarded string
	uploads := &MockUploadStore{
		DiscardFunc: func(id string, userID int64) {
			discarded = id
		},
	}
	handler := NewImportHandler(&MockImportService{}, uploads)

	rr := httptest.NewRecorder()
	req := authedRequest(http.MethodDelete, "/api/imports/uploads/upload-42", nil)
	req.SetPathValue("id", "upload-42")
	handler.HandleDiscard(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if discarded != "upload-42" {
		t.Errorf("discarded = %q, want upload-42", discarded)
	}
}
