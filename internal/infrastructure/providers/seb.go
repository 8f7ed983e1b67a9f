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
	sebName           = "SEB"
	sebDefaultBaseURL = "https://api-sandbox.sebgroup.com"
	sebTimeout        = 30 * time.Second

	sebRateLimit = 2 // requests per second; SEB's AIS quota is tighter
	sebRateBurst = 4
)

// SEBClient is the PSD2 AIS client for SEB. Same OAuth2 authorization-code
// flow as Swedbank but an independent implementation: endpoints, payload
// shapes and quirks differ, and the two must be free to drift apart.
type SEBClient struct {
	clientID     string
	clientSecret string
	baseURL      string
	httpClient   *http.Client
	limiter      *rate.Limiter
}

func NewSEBClient(clientID, clientSecret, baseURL string) *SEBClient {
	if baseURL == "" {
		baseURL = sebDefaultBaseURL
	}
	return &SEBClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: sebTimeout},
		limiter:      rate.NewLimiter(sebRateLimit, sebRateBurst),
	}
}

func (c *SEBClient) Name() string { return sebName }
func (c *SEBClient) Kind() string { return KindPSD2 }

func (c *SEBClient) AuthorizationURL(redirectURI, state string) string {
	params := url.Values{}
	params.Set("client_id", c.clientID)
	params.Set("response_type", "code")
	params.Set("scope", "psd2_accounts psd2_payments")
	params.Set("redirect_uri", redirectURI)
	params.Set("state", state)
	return c.baseURL + "/mga/sps/oauth/oauth20/authorize?" + params.Encode()
}

type sebTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

func (c *SEBClient) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenSet, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", redirectURI)

	return c.tokenRequest(ctx, data)
}

func (c *SEBClient) Refresh(ctx context.Context, tokens TokenSet) (*TokenSet, error) {
	if tokens.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token stored", ErrAuthFailed)
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", tokens.RefreshToken)

	refreshed, err := c.tokenRequest(ctx, data)
	if err != nil {
		return nil, err
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = tokens.RefreshToken
	}
	return refreshed, nil
}

// tokenRequest posts to the token endpoint. SEB authenticates the TPP with
// HTTP Basic credentials rather than body parameters.
func (c *SEBClient) tokenRequest(ctx context.Context, data url.Values) (*TokenSet, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mga/sps/oauth/oauth20/token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.clientID, c.clientSecret)

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
		return nil, fmt.Errorf("%w: token endpoint returned %d", ErrAuthFailed, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp sebTokenResponse
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

type sebAccountList struct {
	Accounts []struct {
		ResourceID      string `json:"resourceId"`
		IBAN            string `json:"iban"`
		BBAN            string `json:"bban"`
		Currency        string `json:"currency"`
		Name            string `json:"name"`
		Product         string `json:"product"`
		CashAccountType string `json:"cashAccountType"` // ISO 20022 external code
		Balances        []struct {
			BalanceType   string `json:"balanceType"`
			BalanceAmount struct {
				Amount   string `json:"amount"`
				Currency string `json:"currency"`
			} `json:"balanceAmount"`
		} `json:"balances"`
	} `json:"accounts"`
}

func (c *SEBClient) Accounts(ctx context.Context, accessToken string) ([]Account, error) {
	var list sebAccountList
	if err := c.get(ctx, accessToken, "/ais/v7/identified2/accounts?withBalance=true", &list); err != nil {
		return nil, err
	}

	accounts := make([]Account, 0, len(list.Accounts))
	for _, a := range list.Accounts {
		acc := Account{
			ID:       a.ResourceID,
			Name:     a.Name,
			IBAN:     a.IBAN,
			Number:   a.BBAN,
			Currency: a.Currency,
			Type:     sebAccountType(a.CashAccountType, a.Product),
		}
		if acc.Name == "" {
			acc.Name = a.Product
		}
		for _, b := range a.Balances {
			if b.BalanceType == "interimBooked" || b.BalanceType == "closingBooked" {
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

type sebTransactionList struct {
	Transactions struct {
		Booked []struct {
			TransactionID     string `json:"transactionId"`
			BookingDate       string `json:"bookingDate"`
			ValueDate         string `json:"valueDate"`
			TransactionAmount struct {
				Amount   string `json:"amount"`
				Currency string `json:"currency"`
			} `json:"transactionAmount"`
			DescriptiveText string `json:"descriptiveText"`
			CreditorName    string `json:"creditorName"`
			DebtorName      string `json:"debtorName"`
			EndToEndID      string `json:"endToEndId"`
		} `json:"booked"`
	} `json:"transactions"`
}

func (c *SEBClient) Transactions(ctx context.Context, accessToken, accountID string, from, to time.Time) ([]Transaction, error) {
	path := fmt.Sprintf("/ais/v7/identified2/accounts/%s/transactions?bookingStatus=booked&dateFrom=%s&dateTo=%s",
		url.PathEscape(accountID), from.Format("2006-01-02"), to.Format("2006-01-02"))

	var list sebTransactionList
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
			Description: t.DescriptiveText,
			Payee:       payee,
			Reference:   t.EndToEndID,
		})
	}
	return txns, nil
}

func (c *SEBClient) get(ctx context.Context, accessToken, path string, out any) error {
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

// sebAccountType maps the ISO cash account type (falling back to the product
// name) onto the canonical account types.
func sebAccountType(cashAccountType, product string) string {
	switch cashAccountType {
	case "SVGS":
		return AccountTypeSavings
	case "CARD":
		return AccountTypeCreditCard
	case "CACC", "TRAN":
		return AccountTypeChecking
	}

	// Investment products first: "Investeringssparkonto" contains "spar" and
	// must not fall into the savings branch.
	p := strings.ToLower(product)
	switch {
	case strings.Contains(p, "depå"), strings.Contains(p, "isk"), strings.Contains(p, "invest"):
		return AccountTypeInvestment
	case strings.Contains(p, "kort"), strings.Contains(p, "kredit"):
		return AccountTypeCreditCard
	case strings.Contains(p, "spar"):
		return AccountTypeSavings
	default:
		return AccountTypeChecking
	}
}

var _ Client = (*SEBClient)(nil)
