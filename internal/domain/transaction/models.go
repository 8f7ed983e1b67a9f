package transaction

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction sources.
const (
	SourceSync = "sync" // pulled from a bank connection
	SourceCSV  = "csv"  // uploaded statement file
)

var (
	ErrNotFound = errors.New("transaction not found")
)

// Transaction is the canonical ledger row. Provider and CSV rows are both
// normalized into this shape before persistence; the fingerprint is computed
// once at import time and never recomputed.
type Transaction struct {
	ID              string          `json:"id"`
	UserID          int64           `json:"userId"`
	AccountID       string          `json:"accountId"`
	ConnectionID    *string         `json:"connectionId,omitempty"` // nil for CSV imports
	Amount          decimal.Decimal `json:"amount"`                 // signed, positive is income
	Currency        string          `json:"currency"`
	Description     string          `json:"description"`
	Payee           string          `json:"payee,omitempty"`
	Category        *string         `json:"category,omitempty"`
	TransactionDate time.Time       `json:"transactionDate"`
	Fingerprint     string          `json:"-"`
	Source          string          `json:"source"`
	CreatedAt       time.Time       `json:"createdAt"`
}

type CreateTransactionParams struct {
	UserID          int64
	AccountID       string
	ConnectionID    *string
	Amount          decimal.Decimal
	Currency        string
	Description     string
	Payee           string
	Category        *string
	TransactionDate time.Time
	Fingerprint     string
	Source          string
}

// Validate rejects rows that can never be persisted. Duplicate detection is
// not validation; a valid row may still be skipped by the importer.
func (p CreateTransactionParams) Validate() error {
	if p.UserID <= 0 {
		return fmt.Errorf("user id is required")
	}
	if p.AccountID == "" {
		return fmt.Errorf("account id is required")
	}
	if p.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	if p.TransactionDate.IsZero() {
		return fmt.Errorf("transaction date is required")
	}
	if p.Fingerprint == "" {
		return fmt.Errorf("fingerprint is required")
	}
	if p.Source != SourceSync && p.Source != SourceCSV {
		return fmt.Errorf("invalid source %q", p.Source)
	}
	return nil
}
