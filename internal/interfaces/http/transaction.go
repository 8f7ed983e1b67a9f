package http

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"kassa/internal/domain/transaction"
	"kassa/internal/shared/middleware"
)

// TransactionHandler serves the imported ledger. Rows only enter through the
// sync and import pipelines, so there is no create endpoint here.
type TransactionHandler struct {
	transactionRepo transaction.Repository
}

func NewTransactionHandler(transactionRepo transaction.Repository) *TransactionHandler {
	return &TransactionHandler{transactionRepo: transactionRepo}
}

// HandleListTransactions returns the user's transactions, optionally scoped
// to one account via ?accountId=.
func (h *TransactionHandler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// Parse pagination parameters
	limit := 50
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsedOffset, err := strconv.Atoi(offsetStr); err == nil && parsedOffset >= 0 {
			offset = parsedOffset
		}
	}

	var (
		transactions []*transaction.Transaction
		err          error
	)
	if accountID := r.URL.Query().Get("accountId"); accountID != "" {
		transactions, err = h.transactionRepo.ListByAccountID(r.Context(), accountID, limit, offset)
		// Account IDs are provider-scoped; filter to the caller's rows.
		filtered := transactions[:0]
		for _, txn := range transactions {
			if txn.UserID == userID {
				filtered = append(filtered, txn)
			}
		}
		transactions = filtered
	} else {
		transactions, err = h.transactionRepo.ListByUserID(r.Context(), userID, limit, offset)
	}
	if err != nil {
		log.Printf("Error listing transactions for user %d: %v", userID, err)
		http.Error(w, "Failed to list transactions", http.StatusInternalServerError)
		return
	}

	if transactions == nil {
		transactions = []*transaction.Transaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transactions)
}

// HandleTransactionByID returns or deletes a specific transaction.
func (h *TransactionHandler) HandleTransactionByID(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	transactionID := r.PathValue("id")
	if transactionID == "" {
		http.Error(w, "Transaction ID is required", http.StatusBadRequest)
		return
	}

	txn, err := h.transactionRepo.GetByID(r.Context(), transactionID)
	if err != nil {
		log.Printf("Error getting transaction %s: %v", transactionID, err)
		http.Error(w, "Failed to get transaction", http.StatusInternalServerError)
		return
	}
	if txn == nil {
		http.Error(w, "Transaction not found", http.StatusNotFound)
		return
	}
	if txn.UserID != userID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(txn)

	case http.MethodDelete:
		if err := h.transactionRepo.Delete(r.Context(), transactionID); err != nil {
			log.Printf("Error deleting transaction %s: %v", transactionID, err)
			http.Error(w, "Failed to delete transaction", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
