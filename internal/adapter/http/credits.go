package httpadapter

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"savanna-sms/internal/core/port"
)

// handleTopUp credits the tenant's balance. The session ID deduplicates
// replayed billing webhooks: the same session never credits twice.
func (h *Handler) handleTopUp(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(w, r)
	if tenant == 0 {
		return
	}

	var payload struct {
		Amount    int64  `json:"amount"`
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if payload.Amount <= 0 {
		http.Error(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	balance, err := h.credits.TopUp(r.Context(), tenant, payload.Amount, payload.SessionID)
	if err != nil {
		if errors.Is(err, port.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.logger.Error("top-up error", slog.Int64("tenant", tenant), slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

// handleBalance returns the tenant's current credit balance.
func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(w, r)
	if tenant == 0 {
		return
	}
	balance, err := h.credits.Balance(r.Context(), tenant)
	if err != nil {
		if errors.Is(err, port.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.logger.Error("balance error", slog.Int64("tenant", tenant), slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

// handleHistory returns recent ledger entries for the tenant.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(w, r)
	if tenant == 0 {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.credits.History(r.Context(), tenant, limit)
	if err != nil {
		h.logger.Error("history error", slog.Int64("tenant", tenant), slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}
