package importer

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Job statuses. Running is the only non-terminal status; a job that started
// always ends in one of the other three.
const (
	StatusRunning             = "running"
	StatusCompleted           = "completed"
	StatusCompletedWithErrors = "completed_with_errors"
	StatusFailed              = "failed"
)

var (
	ErrJobNotFound = errors.New("import job not found")
	ErrForbidden   = errors.New("forbidden: job does not belong to user")
)

// Record is one transaction row entering the pipeline, already mapped from
// its source (provider fetch or CSV upload) but not yet normalized.
type Record struct {
	AccountID   string          `json:"accountId"`
	ExternalID  string          `json:"externalId,omitempty"` // provider transaction id, empty for CSV rows
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	Payee       string          `json:"payee,omitempty"`
	Date        time.Time       `json:"date"`
}

// RowError is a per-row failure. Row is the zero-based index into the input
// batch.
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// Job is the persisted record of one import run.
type Job struct {
	ID           string     `json:"id"`
	UserID       int64      `json:"-"`
	ConnectionID *string    `json:"connectionId,omitempty"`
	Source       string     `json:"source"`
	Status       string     `json:"status"`
	TotalRows    int        `json:"totalRows"`
	Imported     int        `json:"imported"`
	Duplicates   int        `json:"duplicates"`
	Failed       int        `json:"failed"`
	RowErrors    []RowError `json:"rowErrors,omitempty"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
}

// Terminal reports whether the job has reached a final status.
func (j *Job) Terminal() bool {
	return j.Status != StatusRunning
}
