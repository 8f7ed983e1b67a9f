package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	swedbankName           = "Swedbank"
	swedbankDefaultBaseURL = "https://psd2.api.swedbank.com"
	swedbankBIC            = "SANDSESS" // sandbox BIC; production uses SWEDSESS
	swedbankTimeout        = 30 * time.Second

	// Swedbank throttles AIS consumers per TPP; stay well under the limit.
	swedbankRateLimit = 4 // requests per second
	swedbankRateBurst = 8
)

// SwedbankClient is the PSD2 AIS client for Swedbank. Authentication is a
// standard OAuth2 authorization-code flow scoped to account information.
type SwedbankClient struct {
	clientID     string
	clientSecret string
	baseURL      string
	httpClient   *http.Client
	limiter      *rate.Limiter
}

// NewSwedbankClient creates a Swedbank client. baseURL overrides the
// production endpoint (used by tests and the sandbox).
func NewSwedbankClient(clientID, clientSecret, baseURL string) *SwedbankClient {
	if baseURL == "" {
		baseURL = swedbankDefaultBaseURL
	}
	return &SwedbankClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: swedbankTimeout},
		limiter:      rate.NewLimiter(swedbankRateLimit, swedbankRateBurst),
	}
}

func (c *SwedbankClient) Name() string { return swedbankName }
func (c *SwedbankClient) Kind() string { return KindPSD2 }

// AuthorizationURL builds the consent URL for the AIS scope. Pure, no I/O.
func (c *SwedbankClient) AuthorizationURL(redirectURI, state string) string {
	params := url.Values{}
	params.Set("client_id", c.clientID)
	params.Set("response_type", "code")
	params.Set("scope", "PSD2account_list PSD2")
	params.Set("redirect_uri", redirectURI)
	params.Set("state", state)
	params.Set("bic", swedbankBIC)
	return c.baseURL + "/psd2/authorize?" + params.Encode()
}

type swedbankTokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// ExchangeCode trades the authorization code for an access/refresh token pair.
func (c *SwedbankClient) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenSet, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("client_id", c.clientID)
	data.Set("client_secret", c.clientSecret)
	data.Set("redirect_uri", redirectURI)

	return c.tokenRequest(ctx, data)
}

// Refresh trades the refresh token for a new token pair.
func (c *SwedbankClient) Refresh(ctx context.Context, tokens TokenSet) (*TokenSet, error) {
	if tokens.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token stored", ErrAuthFailed)
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", tokens.RefreshToken)
	data.Set("client_id", c.clientID)
	data.Set("client_secret", c.clientSecret)

	refreshed, err := c.tokenRequest(ctx, data)
	if err != nil {
		return nil, err
	}
	// Swedbank omits the refresh token when it is still valid.
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = tokens.RefreshToken
	}
	return refreshed, nil
}

func (c *SwedbankClient) tokenRequest(ctx context.Context, data url.Values) (*TokenSet, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/psd2/token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
		// 400 on the token endpoint means a rejected grant (invalid_grant),
		// which is an authentication failure, not a transient fault.
		return nil, fmt.Errorf("%w: token endpoint returned %d", ErrAuthFailed, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp swedbankTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token in response", ErrAuthFailed)
	}

	return &TokenSet{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
	}, nil
}

type swedbankAccountList struct {
	Accounts []struct {
		ResourceID string `json:"resourceId"`
		IBAN       string `json:"iban"`
		Currency   string `json:"currency"`
		Product    string `json:"product"`
		Name       string `json:"name"`
		Balances   []struct {
			BalanceType   string `json:"balanceType"`
			BalanceAmount struct {
				Amount   string `json:"amount"`
				Currency string `json:"currency"`
			} `json:"balanceAmount"`
		} `json:"balances"`
	} `json:"accounts"`
}

// Accounts lists the accounts covered by the consent.
func (c *SwedbankClient) Accounts(ctx context.Context, accessToken string) ([]Account, error) {
	var list swedbankAccountList
	if err := c.get(ctx, accessToken, "/v5/accounts?withBalance=true", &list); err != nil {
		return nil, err
	}

	accounts := make([]Account, 0, len(list.Accounts))
	for _, a := range list.Accounts {
		acc := Account{
			ID:       a.ResourceID,
			Name:     a.Name,
			IBAN:     a.IBAN,
			Currency: a.Currency,
			Type:     swedbankAccountType(a.Product),
		}
		if acc.Name == "" {
			acc.Name = a.Product
		}
		for _, b := range a.Balances {
			if b.BalanceType == "interimAvailable" || b.BalanceType == "closingBooked" {
				amount, err := parseAmount(b.BalanceAmount.Amount)
				if err != nil {
					return nil, err
				}
				acc.Balance = amount
				break
			}
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

type swedbankTransactionList struct {
	Transactions struct {
		Booked []struct {
			TransactionID     string `json:"transactionId"`
			BookingDate       string `json:"bookingDate"`
			ValueDate         string `json:"valueDate"`
			TransactionAmount struct {
				Amount   string `json:"amount"`
				Currency string `json:"currency"`
			} `json:"transactionAmount"`
			CreditorName                      string `json:"creditorName"`
			DebtorName                        string `json:"debtorName"`
			RemittanceInformationUnstructured string `json:"remittanceInformationUnstructured"`
			EndToEndID                        string `json:"endToEndId"`
		} `json:"booked"`
	} `json:"transactions"`
}

// Transactions lists booked transactions for one account in [from, to].
func (c *SwedbankClient) Transactions(ctx context.Context, accessToken, accountID string, from, to time.Time) ([]Transaction, error) {
	path := fmt.Sprintf("/v5/accounts/%s/transactions?bookingStatus=booked&dateFrom=%s&dateTo=%s",
		url.PathEscape(accountID), from.Format("2006-01-02"), to.Format("2006-01-02"))

	var list swedbankTransactionList
	if err := c.get(ctx, accessToken, path, &list); err != nil {
		return nil, err
	}

	txns := make([]Transaction, 0, len(list.Transactions.Booked))
	for _, t := range list.Transactions.Booked {
		amount, err := parseAmount(t.TransactionAmount.Amount)
		if err != nil {
			return nil, err
		}
		bookingDate, err := time.Parse("2006-01-02", t.BookingDate)
		if err != nil {
			return nil, fmt.Errorf("failed to parse booking date %q: %w", t.BookingDate, err)
		}
		valueDate := bookingDate
		if t.ValueDate != "" {
			if d, err := time.Parse("2006-01-02", t.ValueDate); err == nil {
				valueDate = d
			}
		}

		payee := t.CreditorName
		if amount.IsPositive() {
			payee = t.DebtorName
		}

		txns = append(txns, Transaction{
			ID:          t.TransactionID,
			BookingDate: bookingDate,
			ValueDate:   valueDate,
			Amount:      amount,
			Currency:    t.TransactionAmount.Currency,
			Description: t.RemittanceInformationUnstructured,
			Payee:       payee,
			Reference:   t.EndToEndID,
		})
	}
	return txns, nil
}

func (c *SwedbankClient) get(ctx context.Context, accessToken, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// swedbankAccountType maps Swedbank product names to canonical account types.
func swedbankAccountType(product string) string {
	// Investment products first: "Investeringssparkonto" contains "spar" and
	// must not fall into the savings branch.
	p := strings.ToLower(product)
	switch {
	case strings.Contains(p, "depå"), strings.Contains(p, "invest"), strings.Contains(p, "isk"):
		return AccountTypeInvestment
	case strings.Contains(p, "kredit"), strings.Contains(p, "credit"), strings.Contains(p, "mastercard"):
		return AccountTypeCreditCard
	case strings.Contains(p, "spar"), strings.Contains(p, "saving"):
		return AccountTypeSavings
	default:
		return AccountTypeChecking
	}
}

var _ Client = (*SwedbankClient)(nil)
