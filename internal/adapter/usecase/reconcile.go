package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"savanna-sms/internal/core/domain"
	"savanna-sms/internal/core/port"
)

// deliveryOutcome classifies the gateway's delivery status vocabulary.
type deliveryOutcome int

const (
	outcomePending deliveryOutcome = iota
	outcomeDelivered
	outcomeFailed
)

// mapDeliveryStatus folds the gateway's status vocabulary onto the local
// terminal states. Unknown statuses count as still in flight.
func mapDeliveryStatus(status string) deliveryOutcome {
	switch status {
	case "DeliveredToTerminal", "Delivered", "Success":
		return outcomeDelivered
	case "Rejected", "Expired", "Undeliverable", "Failed":
		return outcomeFailed
	default:
		return outcomePending
	}
}

// Reconciler implements port.StatusReconciler and the two periodic repair
// sweeps: the ledger backfill for sent-but-unbilled messages and the status
// lookup for messages whose send response was lost.
type Reconciler struct {
	campaigns port.CampaignRepository
	messages  port.MessageRepository
	ledger    port.CreditLedger
	gateway   port.SMSGateway
	logger    *slog.Logger
}

// NewReconciler wires the reconciler.
func NewReconciler(
	campaigns port.CampaignRepository,
	messages port.MessageRepository,
	ledger port.CreditLedger,
	gw port.SMSGateway,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		campaigns: campaigns,
		messages:  messages,
		ledger:    ledger,
		gateway:   gw,
		logger:    logger,
	}
}

// Reconcile recomputes the campaign aggregates from message rows and infers
// the lifecycle status. It only ever reads counts, so it is idempotent and
// safe to run while workers are still settling messages.
func (r *Reconciler) Reconcile(ctx context.Context, campaignID int64) error {
	counts, err := r.messages.CountByStatus(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("count messages: %w", err)
	}
	if counts.Total() == 0 {
		// draft campaigns without messages are left alone
		return nil
	}

	c, err := r.campaigns.Get(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("load campaign %d: %w", campaignID, err)
	}
	total := c.Total
	if total == 0 {
		total = counts.Total()
	}

	var (
		status     domain.CampaignStatus
		finishedAt *time.Time
	)
	switch {
	case counts.Queued == 0 && counts.Processed() >= total && total > 0:
		if c.Status != domain.CampaignStatusCompleted {
			status = domain.CampaignStatusCompleted
			now := time.Now()
			finishedAt = &now
		}
	case counts.Queued > 0:
		if c.Status != domain.CampaignStatusSending {
			status = domain.CampaignStatusSending
		}
	}

	return r.campaigns.SetCounters(ctx, campaignID, total, counts.Sent, counts.Failed, status, finishedAt)
}

// ApplyDeliveryReport settles the message the report refers to and
// reconciles its campaign. Reports for unknown messages or messages already
// settled the same way are ignored; terminal states are sticky.
func (r *Reconciler) ApplyDeliveryReport(ctx context.Context, rep port.DeliveryReport) error {
	m, err := r.messages.FindByUpstreamID(ctx, rep.UpstreamID)
	if err != nil {
		if errors.Is(err, port.ErrNotFound) {
			r.logger.Debug("delivery report for unknown message", slog.String("upstream", rep.UpstreamID))
			return nil
		}
		return fmt.Errorf("find message by upstream id: %w", err)
	}

	if m.Status == domain.MessageStatusQueued {
		at := rep.Timestamp
		if at.IsZero() {
			at = time.Now()
		}
		switch mapDeliveryStatus(rep.Status) {
		case outcomeDelivered:
			r.settleRecovered(ctx, *m, rep.UpstreamID, at)
		case outcomeFailed:
			if _, err = r.messages.MarkFailed(ctx, m.ID, domain.FailReasonDeliveryRejected, at); err != nil {
				return fmt.Errorf("mark failed: %w", err)
			}
		case outcomePending:
			return nil
		}
	}

	return r.Reconcile(ctx, m.CampaignID)
}

// SweepUnbilled backfills ledger debits for sent messages whose
// debit-after-send write was lost. It returns the number of rows repaired.
func (r *Reconciler) SweepUnbilled(ctx context.Context, now time.Time, grace time.Duration, limit int) (int, error) {
	msgs, err := r.messages.ListUnbilledSent(ctx, now.Add(-grace), limit)
	if err != nil {
		return 0, fmt.Errorf("list unbilled: %w", err)
	}
	repaired := 0
	for _, m := range msgs {
		meta := map[string]string{domain.MetaKeyTrackingID: m.TrackingID}
		if m.UpstreamID != nil {
			meta[domain.MetaKeyUpstreamID] = *m.UpstreamID
		}
		if _, err = r.ledger.Debit(ctx, m.TenantID, 1, port.LedgerEntry{
			Reason: domain.CreditReasonBackfill,
			Meta:   meta,
		}); err != nil {
			if errors.Is(err, port.ErrAlreadyBilled) {
				// a concurrent sweep or the settle path won the race
				continue
			}
			r.logger.Warn("backfill debit failed",
				slog.Int64("message", m.ID), slog.Int64("tenant", m.TenantID), slog.Any("error", err))
			continue
		}
		repaired++
	}
	if repaired > 0 {
		r.logger.Info("backfilled missing debits", slog.Int("count", repaired))
	}
	return repaired, nil
}

// PollStale asks the gateway about messages that were submitted upstream
// but never settled locally, correcting records whose send response was
// lost. Affected campaigns are reconciled afterwards.
func (r *Reconciler) PollStale(ctx context.Context, now time.Time, staleAfter time.Duration, limit int) (int, error) {
	msgs, err := r.messages.ListStale(ctx, now.Add(-staleAfter), limit)
	if err != nil {
		return 0, fmt.Errorf("list stale: %w", err)
	}
	settled := 0
	campaigns := map[int64]struct{}{}
	for _, m := range msgs {
		res, err := r.gateway.LookupStatus(ctx, m.TrackingID)
		if err != nil {
			r.logger.Warn("status lookup failed",
				slog.Int64("message", m.ID), slog.Any("error", err))
			continue
		}
		switch mapDeliveryStatus(res.Status) {
		case outcomeDelivered:
			r.settleRecovered(ctx, m, res.MessageID, now)
		case outcomeFailed:
			if _, err = r.messages.MarkFailed(ctx, m.ID, domain.FailReasonSendFailed, now); err != nil {
				r.logger.Error("mark failed failed", slog.Int64("message", m.ID), slog.Any("error", err))
				continue
			}
		case outcomePending:
			continue
		}
		settled++
		campaigns[m.CampaignID] = struct{}{}
	}
	for id := range campaigns {
		if err := r.Reconcile(ctx, id); err != nil {
			r.logger.Warn("reconcile after poll failed", slog.Int64("campaign", id), slog.Any("error", err))
		}
	}
	return settled, nil
}

// settleRecovered marks a recovered message sent and debits its credit.
// The debit carries the tracking ID, so if it fails here the backfill sweep
// picks it up.
func (r *Reconciler) settleRecovered(ctx context.Context, m domain.Message, upstreamID string, at time.Time) {
	batchID := ""
	if m.BatchID != nil {
		batchID = *m.BatchID
	}
	ok, err := r.messages.MarkSent(ctx, m.ID, upstreamID, batchID, at)
	if err != nil {
		r.logger.Error("mark sent failed", slog.Int64("message", m.ID), slog.Any("error", err))
		return
	}
	if !ok {
		return
	}
	_, err = r.ledger.Debit(ctx, m.TenantID, 1, port.LedgerEntry{
		Reason: domain.CreditReasonBulkSend,
		Meta: map[string]string{
			domain.MetaKeyTrackingID: m.TrackingID,
			domain.MetaKeyUpstreamID: upstreamID,
		},
	})
	if err != nil && !errors.Is(err, port.ErrAlreadyBilled) {
		r.logger.Warn("debit for recovered send failed, leaving for backfill sweep",
			slog.Int64("message", m.ID), slog.Any("error", err))
	}
}
