package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"kassa/internal/domain/categoryrule"
	"kassa/internal/shared/middleware"
)

// ruleService is the slice of the categorization engine the handlers need.
// Satisfied by *categoryrule.Service.
type ruleService interface {
	CreateRule(ctx context.Context, params categoryrule.CreateRuleParams) (*categoryrule.Rule, error)
	GetRule(ctx context.Context, ruleID, userID int64) (*categoryrule.Rule, error)
	ListRules(ctx context.Context, userID int64) ([]*categoryrule.Rule, error)
	UpdateRule(ctx context.Context, ruleID, userID int64, params categoryrule.UpdateRuleParams) (*categoryrule.Rule, error)
	DeleteRule(ctx context.Context, ruleID, userID int64) error
}

type RuleHandler struct {
	rules ruleService
}

func NewRuleHandler(rules ruleService) *RuleHandler {
	return &RuleHandler{rules: rules}
}

// Request DTOs

type CreateRuleRequest struct {
	Pattern  string `json:"pattern"`
	Field    string `json:"field,omitempty"`
	Category string `json:"category"`
	Priority int    `json:"priority,omitempty"`
}

type UpdateRuleRequest struct {
	Pattern  *string `json:"pattern,omitempty"`
	Field    *string `json:"field,omitempty"`
	Category *string `json:"category,omitempty"`
	Priority *int    `json:"priority,omitempty"`
}

// HandleRules routes requests to the appropriate handler based on method
func (h *RuleHandler) HandleRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleListRules(w, r)
	case http.MethodPost:
		h.handleCreateRule(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleRuleByID routes requests for a specific rule
func (h *RuleHandler) HandleRuleByID(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleGetRule(w, r)
	case http.MethodPut:
		h.handleUpdateRule(w, r)
	case http.MethodDelete:
		h.handleDeleteRule(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *RuleHandler) handleListRules(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	rules, err := h.rules.ListRules(r.Context(), userID)
	if err != nil {
		log.Printf("Error listing rules for user %d: %v", userID, err)
		http.Error(w, "Failed to list rules", http.StatusInternalServerError)
		return
	}
	if rules == nil {
		rules = []*categoryrule.Rule{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rules)
}

func (h *RuleHandler) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rule, err := h.rules.CreateRule(r.Context(), categoryrule.CreateRuleParams{
		UserID:   userID,
		Pattern:  req.Pattern,
		Field:    req.Field,
		Category: req.Category,
		Priority: req.Priority,
	})
	if err != nil {
		if errors.Is(err, categoryrule.ErrRuleNotFound) || errors.Is(err, categoryrule.ErrForbidden) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// Validation failures surface as plain errors from the service.
		log.Printf("Error creating rule for user %d: %v", userID, err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(rule)
}

func (h *RuleHandler) handleGetRule(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ruleID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid rule ID", http.StatusBadRequest)
		return
	}

	rule, err := h.rules.GetRule(r.Context(), ruleID, userID)
	if err != nil {
		writeRuleError(w, ruleID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rule)
}

func (h *RuleHandler) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ruleID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid rule ID", http.StatusBadRequest)
		return
	}

	var req UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rule, err := h.rules.UpdateRule(r.Context(), ruleID, userID, categoryrule.UpdateRuleParams{
		Pattern:  req.Pattern,
		Field:    req.Field,
		Category: req.Category,
		Priority: req.Priority,
	})
	if err != nil {
		writeRuleError(w, ruleID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rule)
}

func (h *RuleHandler) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ruleID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid rule ID", http.StatusBadRequest)
		return
	}

	if err := h.rules.DeleteRule(r.Context(), ruleID, userID); err != nil {
		writeRuleError(w, ruleID, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeRuleError(w http.ResponseWriter, ruleID int64, err error) {
	switch {
	case errors.Is(err, categoryrule.ErrRuleNotFound):
		http.Error(w, "Rule not found", http.StatusNotFound)
	case errors.Is(err, categoryrule.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	default:
		log.Printf("Error handling rule %d: %v", ruleID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
