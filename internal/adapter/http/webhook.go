package httpadapter

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"savanna-sms/internal/adapter/gateway"
	"savanna-sms/internal/core/port"
)

// signatureHeader carries the gateway's HMAC-SHA256 signature over the raw
// callback body, hex encoded.
const signatureHeader = "X-Gateway-Signature"

// handleDeliveryReport consumes asynchronous delivery reports from the
// upstream gateway. The signature is verified over the raw body before any
// parsing; unverifiable callbacks are rejected with 401. Reports for
// unknown messages are acknowledged anyway so the gateway stops retrying
// them.
func (h *Handler) handleDeliveryReport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if len(h.webhookSecret) == 0 || !gateway.VerifySignature(h.webhookSecret, body, r.Header.Get(signatureHeader)) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload struct {
		MessageID      string    `json:"messageId"`
		DeliveryStatus string    `json:"deliveryStatus"`
		Timestamp      time.Time `json:"timestamp"`
	}
	if err = json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if payload.MessageID == "" {
		http.Error(w, "missing messageId", http.StatusBadRequest)
		return
	}

	err = h.reconciler.ApplyDeliveryReport(r.Context(), port.DeliveryReport{
		UpstreamID: payload.MessageID,
		Status:     payload.DeliveryStatus,
		Timestamp:  payload.Timestamp,
	})
	if err != nil {
		h.logger.Error("apply delivery report error",
			slog.String("upstream", payload.MessageID), slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
