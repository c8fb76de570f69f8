package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// tenantHeader carries the authenticated tenant. Authentication itself is
// handled upstream of this service; every tenant-scoped query still filters
// by this ID so no handler can leak another tenant's rows.
const tenantHeader = "X-Tenant-ID"

// tenantID extracts the tenant from the request header. A zero return means
// the header was missing or malformed and a 400 was already written.
func tenantID(w http.ResponseWriter, r *http.Request) int64 {
	id, err := strconv.ParseInt(r.Header.Get(tenantHeader), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "missing or invalid "+tenantHeader+" header", http.StatusBadRequest)
		return 0
	}
	return id
}

// pathID extracts the {id} route parameter. A zero return means a 400 was
// already written.
func pathID(w http.ResponseWriter, r *http.Request) int64 {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0
	}
	return id
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", slog.Any("error", err))
	}
}
