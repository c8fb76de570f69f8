package httpadapter

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"savanna-sms/internal/core/port"
)

// handleCampaignSend triggers the enqueue orchestrator for a campaign. On
// success it returns the created message and job counts. Policy rejections
// map to 4xx statuses with a machine-readable reason; infrastructure
// failures produce HTTP 500.
func (h *Handler) handleCampaignSend(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(w, r)
	if tenant == 0 {
		return
	}
	id := pathID(w, r)
	if id == 0 {
		return
	}
	if !h.ownsCampaign(w, r, tenant, id) {
		return
	}

	res, err := h.enqueuer.Enqueue(r.Context(), id)
	if err != nil {
		h.logger.Error("enqueue error", slog.Int64("campaign", id), slog.Any("error", err))
		if res.OK {
			// messages were persisted before batch publication broke;
			// report the partial success
			h.writeJSON(w, http.StatusAccepted, enqueueResponse(res))
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !res.OK {
		h.writeJSON(w, reasonStatus(res.Reason), enqueueResponse(res))
		return
	}
	h.writeJSON(w, http.StatusOK, enqueueResponse(res))
}

// handleCampaignGet returns the campaign with its aggregate counters.
func (h *Handler) handleCampaignGet(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(w, r)
	if tenant == 0 {
		return
	}
	id := pathID(w, r)
	if id == 0 {
		return
	}

	c, err := h.campaigns.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, port.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.logger.Error("load campaign error", slog.Int64("campaign", id), slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if c.TenantID != tenant {
		http.NotFound(w, r)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"id":         c.ID,
		"name":       c.Name,
		"status":     c.Status,
		"total":      c.Total,
		"sent":       c.Sent,
		"failed":     c.Failed,
		"processed":  c.Processed(),
		"scheduled":  c.ScheduledAt,
		"startedAt":  c.StartedAt,
		"finishedAt": c.FinishedAt,
	})
}

func (h *Handler) ownsCampaign(w http.ResponseWriter, r *http.Request, tenant, id int64) bool {
	c, err := h.campaigns.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, port.ErrNotFound) {
			http.NotFound(w, r)
			return false
		}
		h.logger.Error("load campaign error", slog.Int64("campaign", id), slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return false
	}
	if c.TenantID != tenant {
		http.NotFound(w, r)
		return false
	}
	return true
}

func enqueueResponse(res port.EnqueueResult) map[string]any {
	out := map[string]any{
		"ok":           res.OK,
		"created":      res.Created,
		"enqueuedJobs": res.EnqueuedJobs,
	}
	if res.Reason != "" {
		out["reason"] = res.Reason
	}
	return out
}

// reasonStatus maps policy rejection reasons onto HTTP statuses.
func reasonStatus(reason string) int {
	switch {
	case reason == port.ReasonInsufficientCredits:
		return http.StatusPaymentRequired
	case reason == port.ReasonInactiveSubscription:
		return http.StatusForbidden
	case reason == port.ReasonNoRecipients:
		return http.StatusUnprocessableEntity
	case reason == port.ReasonAlreadySending,
		strings.HasPrefix(reason, port.ReasonInvalidStatus):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
