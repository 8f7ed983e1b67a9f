// Package providers contains the bank API clients. Each client speaks one
// external bank or brokerage API and maps its vocabulary onto the canonical
// account and transaction shapes used by the rest of the sync engine.
package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Provider kinds. PSD2 clients authenticate with an OAuth2 authorization-code
// flow; proprietary clients hold a username/password session.
const (
	KindPSD2        = "psd2"
	KindProprietary = "proprietary"
)

// Canonical account types.
const (
	AccountTypeChecking   = "checking"
	AccountTypeSavings    = "savings"
	AccountTypeInvestment = "investment"
	AccountTypeCreditCard = "credit_card"
)

// Error taxonomy. Provider-specific failures are translated into these at the
// client boundary so callers never branch on provider error shapes.
var (
	// ErrAuthFailed marks a rejected token, refresh, or session. The
	// connection must transition to Expired and the user must re-authorize.
	ErrAuthFailed = errors.New("provider authentication failed")

	// ErrSecondFactorRequired is returned by proprietary clients when the
	// provider demands a one-time code that was not supplied.
	ErrSecondFactorRequired = errors.New("second factor required")

	// ErrUnsupportedBank is returned by the registry for unknown bank names.
	ErrUnsupportedBank = errors.New("unsupported bank")
)

// TokenSet is the in-memory (plaintext) credential material for one
// connection. Clients only ever see and return TokenSets; encrypting them
// before persistence is the connection registry's job.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Account is a provider-reported bank account, already mapped to canonical
// vocabulary. It is transient: the engine never persists it as-is.
type Account struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	IBAN     string          `json:"iban,omitempty"`
	Number   string          `json:"number,omitempty"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
	Type     string          `json:"type"`
}

// Transaction is a provider-reported transaction. Amount is signed with the
// canonical convention: positive is income.
type Transaction struct {
	ID          string
	BookingDate time.Time
	ValueDate   time.Time
	Amount      decimal.Decimal
	Currency    string
	Description string
	Payee       string
	Reference   string
}

// Client is the uniform contract every bank client satisfies. The connection
// registry and the scheduler are written against this interface only.
type Client interface {
	// Name is the exact bank name the client is registered under.
	Name() string

	// Kind reports whether this is a PSD2 or a proprietary client.
	Kind() string

	// AuthorizationURL builds the URL the user is sent to. Pure for PSD2
	// clients; proprietary clients return an internal credential-entry URL
	// since they have no redirect-based flow.
	AuthorizationURL(redirectURI, state string) string

	// ExchangeCode trades an authorization artifact for tokens. For PSD2
	// clients the code is the OAuth2 authorization code; proprietary
	// clients overload it as colon-delimited credentials.
	ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenSet, error)

	// Refresh obtains fresh tokens. PSD2 clients use the refresh token;
	// proprietary clients re-validate the session and extend its expiry.
	Refresh(ctx context.Context, tokens TokenSet) (*TokenSet, error)

	// Accounts lists the accounts visible to the connection.
	Accounts(ctx context.Context, accessToken string) ([]Account, error)

	// Transactions lists booked transactions for one account in [from, to].
	Transactions(ctx context.Context, accessToken, accountID string, from, to time.Time) ([]Transaction, error)
}

// Registry resolves a bank name to its client. Built once at startup.
type Registry struct {
	clients map[string]Client
}

// NewRegistry indexes the given clients by their declared name.
func NewRegistry(clients ...Client) *Registry {
	byName := make(map[string]Client, len(clients))
	for _, c := range clients {
		byName[c.Name()] = c
	}
	return &Registry{clients: byName}
}

// Resolve returns the client registered under bankName, or ErrUnsupportedBank.
func (r *Registry) Resolve(bankName string) (Client, error) {
	c, ok := r.clients[bankName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBank, bankName)
	}
	return c, nil
}

// Names returns the registered bank names, for diagnostics and validation.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}

// parseAmount parses a provider amount string into a decimal. PSD2 APIs
// return amounts as strings to avoid float rounding on the wire.
func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse amount %q: %w", s, err)
	}
	return d, nil
}
