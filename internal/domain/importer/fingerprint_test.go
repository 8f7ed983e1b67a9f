package importer

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNormalizeDescription(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases", "ICA MAXI LINDHAGEN", "ica maxi lindhagen"},
		{"strips punctuation", "ICA MAXI, LINDHAGEN.", "ica maxi lindhagen"},
		{"collapses whitespace", "  ICA   MAXI \t LINDHAGEN ", "ica maxi lindhagen"},
		{"keeps digits", "Swish till 0701234567", "swish till 0701234567"},
		{"unicode letters survive", "Överföring Sparkonto", "överföring sparkonto"},
		{"punctuation acts as separator", "ICA*MAXI/LINDHAGEN", "ica maxi lindhagen"},
		{"empty", "", ""},
		{"only punctuation", "***", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeDescription(tt.input); got != tt.want {
				t.Errorf("NormalizeDescription(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFingerprint_StableAcrossRenderings(t *testing.T) {
	date := time.Date(2026, 1, 15, 14, 30, 0, 0, time.UTC)
	amount := decimal.NewFromFloat(-249.00)

	a := Fingerprint("acc-1", date, amount, "ICA MAXI, LINDHAGEN")
	b := Fingerprint("acc-1", date.Truncate(24*time.Hour), amount, "ica   maxi lindhagen")

	if a != b {
		t.Errorf("fingerprints differ for the same purchase:\n%q\n%q", a, b)
	}
}

func TestFingerprint_Discriminates(t *testing.T) {
	date := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	amount := decimal.NewFromFloat(-249.00)
	base := Fingerprint("acc-1", date, amount, "ICA MAXI")

	variants := []struct {
		name string
		fp   string
	}{
		{"different account", Fingerprint("acc-2", date, amount, "ICA MAXI")},
		{"different day", Fingerprint("acc-1", date.AddDate(0, 0, 1), amount, "ICA MAXI")},
		{"different amount", Fingerprint("acc-1", date, decimal.NewFromFloat(-249.01), "ICA MAXI")},
		{"different description", Fingerprint("acc-1", date, amount, "ICA KVANTUM")},
	}

	for _, v := range variants {
		if v.fp == base {
			t.Errorf("%s produced the same fingerprint", v.name)
		}
	}
}

func TestFingerprint_AmountFixedToTwoDecimals(t *testing.T) {
	date := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	a := Fingerprint("acc-1", date, decimal.NewFromFloat(-249), "x")
	b := Fingerprint("acc-1", date, decimal.RequireFromString("-249.00"), "x")

	if a != b {
		t.Errorf("-249 and -249.00 must fingerprint identically:\n%q\n%q", a, b)
	}
}
