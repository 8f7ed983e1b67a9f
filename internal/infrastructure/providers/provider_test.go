package providers

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestRegistry_Resolve(t *testing.T) {
	swedbank := NewSwedbankClient("id", "secret", "")
	seb := NewSEBClient("id", "secret", "")
	avanza := NewAvanzaClient("")

	registry := NewRegistry(swedbank, seb, avanza)

	tests := []struct {
		bankName string
		wantKind string
	}{
		{"Swedbank", KindPSD2},
		{"SEB", KindPSD2},
		{"Avanza", KindProprietary},
	}

	for _, tt := range tests {
		client, err := registry.Resolve(tt.bankName)
		if err != nil {
			t.Errorf("Resolve(%q) failed: %v", tt.bankName, err)
			continue
		}
		if client.Name() != tt.bankName {
			t.Errorf("Resolve(%q).Name() = %q", tt.bankName, client.Name())
		}
		if client.Kind() != tt.wantKind {
			t.Errorf("Resolve(%q).Kind() = %q, want %q", tt.bankName, client.Kind(), tt.wantKind)
		}
	}
}

func TestRegistry_Resolve_UnsupportedBank(t *testing.T) {
	registry := NewRegistry(NewSwedbankClient("id", "secret", ""))

	_, err := registry.Resolve("Handelsbanken")
	if !errors.Is(err, ErrUnsupportedBank) {
		t.Errorf("Resolve() error = %v, want ErrUnsupportedBank", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	registry := NewRegistry(NewSwedbankClient("id", "secret", ""), NewSEBClient("id", "secret", ""))

	names := registry.Names()
	if len(names) != 2 {
		t.Fatalf("Names() returned %d names, want 2", len(names))
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"1500.50", "1500.5", false},
		{"-42.00", "-42", false},
		{"0", "0", false},
		{"not-a-number", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := parseAmount(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseAmount(%q) succeeded, want error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseAmount(%q) failed: %v", tt.input, err)
			continue
		}
		want, _ := decimal.NewFromString(tt.want)
		if !got.Equal(want) {
			t.Errorf("parseAmount(%q) = %s, want %s", tt.input, got, want)
		}
	}
}
