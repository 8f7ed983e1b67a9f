package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"kassa/internal/domain/importer"
	"kassa/internal/domain/transaction"
	"kassa/internal/shared/middleware"
)

// maxUploadBytes caps a single statement upload. Bank exports are small;
// anything bigger is not a statement.
const maxUploadBytes = 10 << 20

// importService is the slice of the import pipeline the handlers need.
// Satisfied by *importer.Service.
type importService interface {
	Import(ctx context.Context, params importer.ImportParams) (*importer.Result, error)
	GetJob(ctx context.Context, jobID string, userID int64) (*importer.Job, error)
	ListJobs(ctx context.Context, userID int64, limit, offset int) ([]*importer.Job, error)
}

// uploadStore stages parsed statements between upload and confirm.
// Satisfied by *importer.UploadStore.
type uploadStore interface {
	Put(userID int64, accountID, filename string, records []importer.Record, rowErrs []importer.RowError) string
	Take(id string, userID int64) (*importer.PendingUpload, error)
	Discard(id string, userID int64)
}

type ImportHandler struct {
	imports importService
	uploads uploadStore
}

func NewImportHandler(imports importService, uploads uploadStore) *ImportHandler {
	return &ImportHandler{imports: imports, uploads: uploads}
}

// Request/Response DTOs

type UploadResponse struct {
	UploadID  string              `json:"uploadId"`
	Filename  string              `json:"filename"`
	TotalRows int                 `json:"totalRows"`
	Preview   []importer.Record   `json:"preview"`
	RowErrors []importer.RowError `json:"rowErrors,omitempty"`
}

type ConfirmImportRequest struct {
	UploadID       string `json:"uploadId"`
	SkipDuplicates *bool  `json:"skipDuplicates,omitempty"` // defaults to true
}

type ImportJobResponse struct {
	ID           string              `json:"id"`
	ConnectionID *string             `json:"connectionId,omitempty"`
	Source       string              `json:"source"`
	Status       string              `json:"status"`
	TotalRows    int                 `json:"totalRows"`
	Imported     int                 `json:"imported"`
	Duplicates   int                 `json:"duplicates"`
	Failed       int                 `json:"failed"`
	RowErrors    []importer.RowError `json:"rowErrors,omitempty"`
	StartedAt    string              `json:"startedAt"`
	FinishedAt   *string             `json:"finishedAt,omitempty"`
}

func toImportJobResponse(j *importer.Job) ImportJobResponse {
	resp := ImportJobResponse{
		ID:           j.ID,
		ConnectionID: j.ConnectionID,
		Source:       j.Source,
		Status:       j.Status,
		TotalRows:    j.TotalRows,
		Imported:     j.Imported,
		Duplicates:   j.Duplicates,
		Failed:       j.Failed,
		RowErrors:    j.RowErrors,
		StartedAt:    j.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if j.FinishedAt != nil {
		s := j.FinishedAt.Format("2006-01-02T15:04:05Z07:00")
		resp.FinishedAt = &s
	}
	return resp
}

// HandleUpload is phase one of the CSV flow: parse the statement, stage it,
// and return a preview. Nothing is written to the ledger yet.
func (h *ImportHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "Invalid multipart request", http.StatusBadRequest)
		return
	}

	accountID := r.FormValue("accountId")
	if accountID == "" {
		http.Error(w, "accountId is required", http.StatusBadRequest)
		return
	}
	currency := r.FormValue("currency")
	if currency == "" {
		currency = "SEK"
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	records, rowErrs, err := importer.ParseCSVStatement(file, accountID, currency)
	if err != nil {
		if errors.Is(err, importer.ErrEmptyStatement) || errors.Is(err, importer.ErrNoHeader) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("Error parsing statement upload for user %d: %v", userID, err)
		http.Error(w, "Failed to parse statement: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(records) == 0 {
		http.Error(w, "No parseable rows in statement", http.StatusBadRequest)
		return
	}

	uploadID := h.uploads.Put(userID, accountID, header.Filename, records, rowErrs)

	preview := records
	if len(preview) > 5 {
		preview = preview[:5]
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(UploadResponse{
		UploadID:  uploadID,
		Filename:  header.Filename,
		TotalRows: len(records) + len(rowErrs),
		Preview:   preview,
		RowErrors: rowErrs,
	})
}

// HandleConfirm is phase two: consume the staged upload and run it through
// the import pipeline.
func (h *ImportHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req ConfirmImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UploadID == "" {
		http.Error(w, "uploadId is required", http.StatusBadRequest)
		return
	}

	upload, err := h.uploads.Take(req.UploadID, userID)
	if err != nil {
		http.Error(w, "Upload not found or expired", http.StatusNotFound)
		return
	}

	skipDuplicates := true
	if req.SkipDuplicates != nil {
		skipDuplicates = *req.SkipDuplicates
	}

	result, err := h.imports.Import(r.Context(), importer.ImportParams{
		UserID:         userID,
		Source:         transaction.SourceCSV,
		Records:        upload.Records,
		RowErrors:      upload.RowErrors,
		SkipDuplicates: skipDuplicates,
	})
	if err != nil {
		log.Printf("Error importing upload %s for user %d: %v", req.UploadID, userID, err)
		http.Error(w, "Failed to import statement", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(result)
}

// HandleDiscard drops a staged upload without importing it.
func (h *ImportHandler) HandleDiscard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	uploadID := r.PathValue("id")
	if uploadID == "" {
		http.Error(w, "Upload ID is required", http.StatusBadRequest)
		return
	}

	h.uploads.Discard(uploadID, userID)
	w.WriteHeader(http.StatusNoContent)
}

// HandleImports lists the user's import jobs.
func (h *ImportHandler) HandleImports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit := 50
	offset := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	jobs, err := h.imports.ListJobs(r.Context(), userID, limit, offset)
	if err != nil {
		log.Printf("Error listing import jobs for user %d: %v", userID, err)
		http.Error(w, "Failed to list import jobs", http.StatusInternalServerError)
		return
	}

	responses := make([]ImportJobResponse, 0, len(jobs))
	for _, j := range jobs {
		responses = append(responses, toImportJobResponse(j))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}

// HandleImportByID returns one import job.
func (h *ImportHandler) HandleImportByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	jobID := r.PathValue("id")
	if jobID == "" {
		http.Error(w, "Import job ID is required", http.StatusBadRequest)
		return
	}

	job, err := h.imports.GetJob(r.Context(), jobID, userID)
	if err != nil {
		switch {
		case errors.Is(err, importer.ErrJobNotFound):
			http.Error(w, "Import job not found", http.StatusNotFound)
		case errors.Is(err, importer.ErrForbidden):
			http.Error(w, "Forbidden", http.StatusForbidden)
		default:
			log.Printf("Error getting import job %s: %v", jobID, err)
			http.Error(w, "Failed to get import job", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toImportJobResponse(job))
}
