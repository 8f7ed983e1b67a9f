package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"kassa/internal/domain/connection"
	"kassa/internal/domain/sync"
	"kassa/internal/infrastructure/providers"
	"kassa/internal/shared/middleware"
)

// connectionService is the slice of the connection registry the handlers
// need. Satisfied by *connection.Service.
type connectionService interface {
	AuthorizationURL(bankName, redirectURI, state string) (string, error)
	CreateConnection(ctx context.Context, userID int64, bankName, code, redirectURI string) (*connection.Connection, error)
	GetConnection(ctx context.Context, id string, userID int64) (*connection.Connection, error)
	ListConnections(ctx context.Context, userID int64) ([]*connection.Connection, error)
	RevokeConnection(ctx context.Context, id string, userID int64) error
	Accounts(ctx context.Context, id string, userID int64) ([]providers.Account, error)
}

// stateStore issues and consumes single-use authorization states.
// Satisfied by *authstate.Store.
type stateStore interface {
	Generate(provider string) (string, error)
	Validate(token, provider string) bool
}

// syncer triggers an on-demand sync. Satisfied by *sync.Service.
type syncer interface {
	SyncNow(ctx context.Context, connectionID string, userID int64, opts sync.Options) (*sync.Result, error)
}

type BankHandler struct {
	connections connectionService
	states      stateStore
	syncer      syncer
	redirectURL string
	knownBanks  map[string]struct{}
}

func NewBankHandler(connections connectionService, states stateStore, syncer syncer, redirectURL string, bankNames []string) *BankHandler {
	known := make(map[string]struct{}, len(bankNames))
	for _, name := range bankNames {
		known[name] = struct{}{}
	}
	return &BankHandler{
		connections: connections,
		states:      states,
		syncer:      syncer,
		redirectURL: redirectURL,
		knownBanks:  known,
	}
}

// Request/Response DTOs

type AuthorizeRequest struct {
	Bank string `json:"bank"`
}

type AuthorizeResponse struct {
	AuthorizationURL string `json:"authorizationUrl"`
	State            string `json:"state"`
}

type ConnectRequest struct {
	Bank  string `json:"bank"`
	Code  string `json:"code"`
	State string `json:"state"`
}

type ConnectionResponse struct {
	ID           string  `json:"id"`
	BankName     string  `json:"bankName"`
	Kind         string  `json:"kind"`
	Status       string  `json:"status"`
	LastSyncedAt *string `json:"lastSyncedAt,omitempty"`
	LastError    *string `json:"lastError,omitempty"`
	CreatedAt    string  `json:"createdAt"`
}

func toConnectionResponse(c *connection.Connection) ConnectionResponse {
	resp := ConnectionResponse{
		ID:        c.ID,
		BankName:  c.BankName,
		Kind:      c.Kind,
		Status:    c.Status,
		LastError: c.LastError,
		CreatedAt: c.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if c.LastSyncedAt != nil {
		s := c.LastSyncedAt.Format("2006-01-02T15:04:05Z07:00")
		resp.LastSyncedAt = &s
	}
	return resp
}

// safeBankName returns the bank name when it is one we support, so untrusted
// request input never reaches the logs verbatim.
func (h *BankHandler) safeBankName(bank string) string {
	if _, ok := h.knownBanks[bank]; ok {
		return bank
	}
	return "unknown"
}

// HandleAuthorize starts an authorization flow: it issues a single-use state
// token and returns the bank's authorization URL.
func (h *BankHandler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if _, ok := r.Context().Value(middleware.UserIDKey).(int64); !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req AuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Bank == "" {
		http.Error(w, "bank is required", http.StatusBadRequest)
		return
	}
	if _, ok := h.knownBanks[req.Bank]; !ok {
		http.Error(w, "Unsupported bank", http.StatusBadRequest)
		return
	}

	state, err := h.states.Generate(req.Bank)
	if err != nil {
		log.Printf("Error generating authorization state for bank %s: %v", h.safeBankName(req.Bank), err)
		http.Error(w, "Failed to start authorization", http.StatusServiceUnavailable)
		return
	}

	authURL, err := h.connections.AuthorizationURL(req.Bank, h.redirectURL, state)
	if err != nil {
		if errors.Is(err, providers.ErrUnsupportedBank) {
			http.Error(w, "Unsupported bank", http.StatusBadRequest)
			return
		}
		log.Printf("Error building authorization URL for bank %s: %v", h.safeBankName(req.Bank), err)
		http.Error(w, "Failed to start authorization", http.StatusInternalServerError)
		return
	}

	log.Printf("Authorization started for bank %s", h.safeBankName(req.Bank))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthorizeResponse{AuthorizationURL: authURL, State: state})
}

// HandleCallback receives the bank's redirect and forwards code and state to
// the frontend connect page. The code is exchanged later by HandleConnect; it
// is never logged here.
func (h *BankHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	target := url.URL{Path: "/connect"}
	passthrough := url.Values{}
	for _, key := range []string{"code", "state", "error", "error_description"} {
		if v := q.Get(key); v != "" {
			passthrough.Set(key, v)
		}
	}
	target.RawQuery = passthrough.Encode()

	if q.Get("error") != "" {
		log.Printf("Authorization callback returned error=%s", q.Get("error"))
	}

	http.Redirect(w, r, target.String(), http.StatusFound)
}

// HandleConnect finishes the flow: it consumes the state token and exchanges
// the code for tokens. The state is consumed before the exchange, so a failed
// exchange still burns it.
func (h *BankHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Bank == "" || req.Code == "" || req.State == "" {
		http.Error(w, "bank, code, and state are required", http.StatusBadRequest)
		return
	}

	if !h.states.Validate(req.State, req.Bank) {
		log.Printf("Rejected connect for bank %s: invalid or expired state", h.safeBankName(req.Bank))
		http.Error(w, "Invalid or expired authorization state", http.StatusBadRequest)
		return
	}

	conn, err := h.connections.CreateConnection(r.Context(), userID, req.Bank, req.Code, h.redirectURL)
	if err != nil {
		switch {
		case errors.Is(err, providers.ErrUnsupportedBank):
			http.Error(w, "Unsupported bank", http.StatusBadRequest)
		case errors.Is(err, providers.ErrSecondFactorRequired):
			http.Error(w, "Second factor required", http.StatusUnauthorized)
		case errors.Is(err, providers.ErrAuthFailed):
			http.Error(w, "Authorization failed", http.StatusUnauthorized)
		default:
			log.Printf("Error creating connection for bank %s: %v", h.safeBankName(req.Bank), err)
			http.Error(w, "Failed to create connection", http.StatusInternalServerError)
		}
		return
	}

	log.Printf("Connection %s created for bank %s", conn.ID, h.safeBankName(req.Bank))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toConnectionResponse(conn))
}

// HandleConnections lists the authenticated user's connections.
func (h *BankHandler) HandleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conns, err := h.connections.ListConnections(r.Context(), userID)
	if err != nil {
		log.Printf("Error listing connections for user %d: %v", userID, err)
		http.Error(w, "Failed to list connections", http.StatusInternalServerError)
		return
	}

	responses := make([]ConnectionResponse, 0, len(conns))
	for _, c := range conns {
		responses = append(responses, toConnectionResponse(c))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}

// HandleConnectionByID handles GET and DELETE for /api/connections/{id}.
func (h *BankHandler) HandleConnectionByID(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	id := r.PathValue("id")

	switch r.Method {
	case http.MethodGet:
		conn, err := h.connections.GetConnection(r.Context(), id, userID)
		if err != nil {
			writeConnectionError(w, id, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toConnectionResponse(conn))
	case http.MethodDelete:
		if err := h.connections.RevokeConnection(r.Context(), id, userID); err != nil {
			writeConnectionError(w, id, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleConnectionAccounts lists the provider accounts behind a connection.
func (h *BankHandler) HandleConnectionAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	id := r.PathValue("id")

	accounts, err := h.connections.Accounts(r.Context(), id, userID)
	if err != nil {
		writeConnectionError(w, id, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(accounts)
}

// SyncRequest narrows an on-demand sync. The body is optional: an empty body
// syncs every account over the watermark window with dedup on.
type SyncRequest struct {
	AccountID      string `json:"accountId"`
	FromDate       string `json:"fromDate"`
	ToDate         string `json:"toDate"`
	SkipDuplicates *bool  `json:"skipDuplicates"`
}

func (req SyncRequest) toOptions() (sync.Options, error) {
	opts := sync.Options{
		AccountID:      req.AccountID,
		SkipDuplicates: req.SkipDuplicates,
	}
	if req.FromDate != "" {
		from, err := time.Parse("2006-01-02", req.FromDate)
		if err != nil {
			return sync.Options{}, fmt.Errorf("invalid fromDate %q", req.FromDate)
		}
		opts.From = &from
	}
	if req.ToDate != "" {
		to, err := time.Parse("2006-01-02", req.ToDate)
		if err != nil {
			return sync.Options{}, fmt.Errorf("invalid toDate %q", req.ToDate)
		}
		opts.To = &to
	}
	return opts, nil
}

// HandleConnectionSync runs an on-demand sync for one connection.
func (h *BankHandler) HandleConnectionSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	id := r.PathValue("id")

	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	opts, err := req.toOptions()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.syncer.SyncNow(r.Context(), id, userID, opts)
	if err != nil {
		if errors.Is(err, sync.ErrAccountNotFound) {
			http.Error(w, "Account not found on connection", http.StatusNotFound)
			return
		}
		writeConnectionError(w, id, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(result)
}

func writeConnectionError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, connection.ErrConnectionNotFound):
		http.Error(w, "Connection not found", http.StatusNotFound)
	case errors.Is(err, connection.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, connection.ErrNotActive):
		http.Error(w, "Connection is not active", http.StatusConflict)
	case errors.Is(err, connection.ErrInvalidTransition):
		http.Error(w, "Connection cannot change state", http.StatusConflict)
	case errors.Is(err, providers.ErrAuthFailed):
		http.Error(w, "Bank authorization expired, reconnect required", http.StatusUnauthorized)
	default:
		log.Printf("Error handling connection %s: %v", id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
