package transaction

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func validParams() CreateTransactionParams {
	return CreateTransactionParams{
		UserID:          1,
		AccountID:       "acc-1",
		Amount:          decimal.NewFromFloat(-249.00),
		Currency:        "SEK",
		Description:     "ICA MAXI LINDHAGEN",
		TransactionDate: time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		Fingerprint:     "acc-1|2026-01-15|-249.00|ica maxi lindhagen",
		Source:          SourceSync,
	}
}

func TestCreateTransactionParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CreateTransactionParams)
		wantErr bool
	}{
		{"valid sync row", func(p *CreateTransactionParams) {}, false},
		{"valid csv row", func(p *CreateTransactionParams) { p.Source = SourceCSV }, false},
		{"missing user", func(p *CreateTransactionParams) { p.UserID = 0 }, true},
		{"missing account", func(p *CreateTransactionParams) { p.AccountID = "" }, true},
		{"missing currency", func(p *CreateTransactionParams) { p.Currency = "" }, true},
		{"zero date", func(p *CreateTransactionParams) { p.TransactionDate = time.Time{} }, true},
		{"missing fingerprint", func(p *CreateTransactionParams) { p.Fingerprint = "" }, true},
		{"unknown source", func(p *CreateTransactionParams) { p.Source = "manual" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := validParams()
			tt.mutate(&params)

			err := params.Validate()
			if tt.wantErr && err == nil {
				t.Error("Validate() succeeded, want error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() failed: %v", err)
			}
		})
	}
}

func TestCreateTransactionParams_ZeroAmountIsValid(t *testing.T) {
	params := validParams()
	params.Amount = decimal.Zero

	if err := params.Validate(); err != nil {
		t.Errorf("Validate() rejected a zero-amount row: %v", err)
	}
}
