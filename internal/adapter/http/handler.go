package httpadapter

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"log/slog"

	"savanna-sms/internal/adapter/usecase"
	"savanna-sms/internal/core/port"
)

// Handler contains dependencies and routes. It is the inbound HTTP adapter:
// the enqueue trigger, the delivery-report webhook and the credit endpoints.
// Routes are registered on a chi.Router for convenient method handling.
type Handler struct {
	campaigns     port.CampaignRepository
	enqueuer      port.CampaignEnqueuer
	reconciler    port.StatusReconciler
	credits       *usecase.Credits
	webhookSecret []byte
	logger        *slog.Logger
	router        chi.Router
}

// NewHandler creates a handler with all routes configured. webhookSecret
// signs delivery-report callbacks; an empty secret rejects all callbacks.
func NewHandler(
	campaigns port.CampaignRepository,
	enqueuer port.CampaignEnqueuer,
	reconciler port.StatusReconciler,
	credits *usecase.Credits,
	webhookSecret string,
	logger *slog.Logger,
) *Handler {
	h := &Handler{
		campaigns:     campaigns,
		enqueuer:      enqueuer,
		reconciler:    reconciler,
		credits:       credits,
		webhookSecret: []byte(webhookSecret),
		logger:        logger,
	}
	r := chi.NewRouter()

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/campaigns/{id}/send", h.handleCampaignSend)
		r.Get("/campaigns/{id}", h.handleCampaignGet)
		r.Post("/webhooks/delivery", h.handleDeliveryReport)
		r.Post("/credits/topup", h.handleTopUp)
		r.Get("/credits/balance", h.handleBalance)
		r.Get("/credits/history", h.handleHistory)
	})
	h.router = r
	return h
}

// Router returns the underlying http.Handler.
func (h *Handler) Router() http.Handler {
	return h.router
}
