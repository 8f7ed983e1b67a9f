package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	avanzaName           = "Avanza"
	avanzaDefaultBaseURL = "https://www.avanza.se"
	avanzaTimeout        = 30 * time.Second

	// Avanza invalidates sessions after ~30 minutes of inactivity; keep the
	// stored expiry slightly under that so the refresh gate fires first.
	avanzaSessionTTL = 25 * time.Minute

	avanzaRateLimit = 2
	avanzaRateBurst = 4
)

// AvanzaClient is the proprietary client for the Avanza brokerage. There is
// no OAuth2 flow: the user enters username/password (and a TOTP code when the
// account has two-factor enabled) and the client holds a session token pair.
type AvanzaClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewAvanzaClient(baseURL string) *AvanzaClient {
	if baseURL == "" {
		baseURL = avanzaDefaultBaseURL
	}
	return &AvanzaClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: avanzaTimeout},
		limiter:    rate.NewLimiter(avanzaRateLimit, avanzaRateBurst),
	}
}

func (c *AvanzaClient) Name() string { return avanzaName }
func (c *AvanzaClient) Kind() string { return KindProprietary }

// AuthorizationURL points at the app's own credential-entry page: there is no
// external consent screen to redirect to.
func (c *AvanzaClient) AuthorizationURL(redirectURI, state string) string {
	params := url.Values{}
	params.Set("bank", avanzaName)
	params.Set("state", state)
	params.Set("redirect_uri", redirectURI)
	return "/connect/credentials?" + params.Encode()
}

// avanzaSession is the credential material serialized into the TokenSet
// access token. Both values are required on every authenticated call.
type avanzaSession struct {
	AuthenticationSession string `json:"authenticationSession"`
	SecurityToken         string `json:"securityToken"`
}

func encodeAvanzaSession(s avanzaSession) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode session: %w", err)
	}
	return string(raw), nil
}

func decodeAvanzaSession(accessToken string) (avanzaSession, error) {
	var s avanzaSession
	if err := json.Unmarshal([]byte(accessToken), &s); err != nil {
		return s, fmt.Errorf("%w: stored session is not decodable", ErrAuthFailed)
	}
	return s, nil
}

type avanzaLoginResponse struct {
	AuthenticationSession string `json:"authenticationSession"`
	CustomerID            string `json:"customerId"`
	TwoFactorLogin        *struct {
		TransactionID string `json:"transactionId"`
		Method        string `json:"method"`
	} `json:"twoFactorLogin"`
}

// ExchangeCode authenticates with colon-delimited credentials:
// "username:password" or "username:password:totp". A missing TOTP code on an
// account that demands one fails with ErrSecondFactorRequired so the UI can
// re-prompt instead of treating it as a bad password.
func (c *AvanzaClient) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenSet, error) {
	parts := strings.SplitN(code, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: expected username:password credentials", ErrAuthFailed)
	}
	username, password := parts[0], parts[1]
	totp := ""
	if len(parts) == 3 {
		totp = parts[2]
	}

	login, securityToken, err := c.postJSON(ctx, "/_api/authentication/sessions/usercredentials",
		map[string]string{"username": username, "password": password}, nil)
	if err != nil {
		return nil, err
	}

	if login.TwoFactorLogin != nil {
		if totp == "" {
			return nil, fmt.Errorf("%w: %s challenge pending", ErrSecondFactorRequired, login.TwoFactorLogin.Method)
		}
		headers := map[string]string{
			"Cookie": "AZAMFATRANSACTION=" + login.TwoFactorLogin.TransactionID,
		}
		login, securityToken, err = c.postJSON(ctx, "/_api/authentication/sessions/totp",
			map[string]string{"method": "TOTP", "totpCode": totp}, headers)
		if err != nil {
			return nil, err
		}
	}

	if login.AuthenticationSession == "" || securityToken == "" {
		return nil, fmt.Errorf("%w: incomplete session in login response", ErrAuthFailed)
	}

	accessToken, err := encodeAvanzaSession(avanzaSession{
		AuthenticationSession: login.AuthenticationSession,
		SecurityToken:         securityToken,
	})
	if err != nil {
		return nil, err
	}

	return &TokenSet{
		AccessToken: accessToken,
		ExpiresAt:   time.Now().Add(avanzaSessionTTL),
	}, nil
}

// Refresh re-validates the stored session and extends its expiry. Avanza has
// no refresh token; either the session is still alive or the user must log in
// again.
func (c *AvanzaClient) Refresh(ctx context.Context, tokens TokenSet) (*TokenSet, error) {
	session, err := decodeAvanzaSession(tokens.AccessToken)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/_api/authentication/session", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create session request: %w", err)
	}
	c.setSessionHeaders(req, session)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session validation failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		return &TokenSet{
			AccessToken: tokens.AccessToken,
			ExpiresAt:   time.Now().Add(avanzaSessionTTL),
		}, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: session invalidated by provider", ErrAuthFailed)
	default:
		return nil, fmt.Errorf("session validation returned status %d", resp.StatusCode)
	}
}

type avanzaOverview struct {
	Accounts []struct {
		AccountID    string      `json:"accountId"`
		Name         string      `json:"name"`
		AccountType  string      `json:"accountType"`
		TotalBalance json.Number `json:"totalBalance"`
		CurrencyCode string      `json:"currencyCode"`
	} `json:"accounts"`
}

func (c *AvanzaClient) Accounts(ctx context.Context, accessToken string) ([]Account, error) {
	session, err := decodeAvanzaSession(accessToken)
	if err != nil {
		return nil, err
	}

	var overview avanzaOverview
	if err := c.get(ctx, session, "/_api/account-overview/overview/categorized", &overview); err != nil {
		return nil, err
	}

	accounts := make([]Account, 0, len(overview.Accounts))
	for _, a := range overview.Accounts {
		balance, err := decimal.NewFromString(a.TotalBalance.String())
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance %q: %w", a.TotalBalance, err)
		}
		currency := a.CurrencyCode
		if currency == "" {
			currency = "SEK"
		}
		accounts = append(accounts, Account{
			ID:       a.AccountID,
			Name:     a.Name,
			Number:   a.AccountID,
			Currency: currency,
			Balance:  balance,
			Type:     avanzaAccountType(a.AccountType),
		})
	}
	return accounts, nil
}

type avanzaTransactionList struct {
	Transactions []struct {
		ID              string      `json:"id"`
		TransactionType string      `json:"transactionType"`
		Description     string      `json:"description"`
		Amount          json.Number `json:"amount"`
		Date            string      `json:"date"`
		VerificationDate string     `json:"verificationDate"`
		CurrencyCode    string      `json:"currencyCode"`
	} `json:"transactions"`
}

func (c *AvanzaClient) Transactions(ctx context.Context, accessToken, accountID string, from, to time.Time) ([]Transaction, error) {
	session, err := decodeAvanzaSession(accessToken)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/_api/account/transactions/%s?from=%s&to=%s",
		url.PathEscape(accountID), from.Format("2006-01-02"), to.Format("2006-01-02"))

	var list avanzaTransactionList
	if err := c.get(ctx, session, path, &list); err != nil {
		return nil, err
	}

	txns := make([]Transaction, 0, len(list.Transactions))
	for _, t := range list.Transactions {
		amount, err := decimal.NewFromString(t.Amount.String())
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount %q: %w", t.Amount, err)
		}
		date, err := time.Parse("2006-01-02", t.Date)
		if err != nil {
			return nil, fmt.Errorf("failed to parse date %q: %w", t.Date, err)
		}
		valueDate := date
		if t.VerificationDate != "" {
			if d, err := time.Parse("2006-01-02", t.VerificationDate); err == nil {
				valueDate = d
			}
		}
		currency := t.CurrencyCode
		if currency == "" {
			currency = "SEK"
		}

		txns = append(txns, Transaction{
			ID:          t.ID,
			BookingDate: date,
			ValueDate:   valueDate,
			Amount:      amount,
			Currency:    currency,
			Description: t.Description,
			Reference:   t.TransactionType,
		})
	}
	return txns, nil
}

func (c *AvanzaClient) setSessionHeaders(req *http.Request, session avanzaSession) {
	req.Header.Set("X-AuthenticationSession", session.AuthenticationSession)
	req.Header.Set("X-SecurityToken", session.SecurityToken)
	req.Header.Set("Accept", "application/json")
}

func (c *AvanzaClient) get(ctx context.Context, session avanzaSession, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setSessionHeaders(req, session)

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

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// postJSON posts a JSON body and returns the parsed login response plus the
// X-SecurityToken response header.
func (c *AvanzaClient) postJSON(ctx context.Context, path string, payload map[string]string, headers map[string]string) (*avanzaLoginResponse, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read login response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, "", fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("login failed with status %d: %s", resp.StatusCode, string(body))
	}

	var login avanzaLoginResponse
	if err := json.Unmarshal(body, &login); err != nil {
		return nil, "", fmt.Errorf("failed to parse login response: %w", err)
	}

	return &login, resp.Header.Get("X-SecurityToken"), nil
}

// avanzaAccountType maps Avanza's Swedish account-type names onto the
// canonical types. Brokerage accounts default to investment.
func avanzaAccountType(accountType string) string {
	switch strings.ToLower(accountType) {
	case "sparkonto", "sparkonto+":
		return AccountTypeSavings
	case "kreditkonto", "kreditkortskonto":
		return AccountTypeCreditCard
	case "lönekonto", "transaktionskonto":
		return AccountTypeChecking
	default:
		// Aktie- & fondkonto, ISK, Kapitalförsäkring, Tjänstepension, ...
		return AccountTypeInvestment
	}
}

var _ Client = (*AvanzaClient)(nil)
