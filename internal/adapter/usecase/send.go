package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"savanna-sms/internal/config/configs"
	"savanna-sms/internal/core/domain"
	"savanna-sms/internal/core/port"
	"savanna-sms/internal/render"
)

// Sender implements port.BatchProcessor: one invocation settles one batch
// of messages against the upstream gateway. Credits move only after the
// gateway confirms a send, and only for messages still queued, which is
// what makes replayed batch jobs debit at most once.
type Sender struct {
	messages   port.MessageRepository
	tenants    port.TenantRepository
	ledger     port.CreditLedger
	limiter    port.RateLimiter
	gateway    port.SMSGateway
	renderer   *render.Renderer
	reconciler port.StatusReconciler
	cfg        configs.Pipeline

	// account is the upstream traffic account scope shared by all tenants.
	account       string
	defaultSender string

	logger *slog.Logger
}

// NewSender wires the bulk send worker.
func NewSender(
	messages port.MessageRepository,
	tenants port.TenantRepository,
	ledger port.CreditLedger,
	limiter port.RateLimiter,
	gw port.SMSGateway,
	renderer *render.Renderer,
	reconciler port.StatusReconciler,
	cfg configs.Pipeline,
	account, defaultSender string,
	logger *slog.Logger,
) *Sender {
	return &Sender{
		messages:      messages,
		tenants:       tenants,
		ledger:        ledger,
		limiter:       limiter,
		gateway:       gw,
		renderer:      renderer,
		reconciler:    reconciler,
		cfg:           cfg,
		account:       account,
		defaultSender: defaultSender,
		logger:        logger,
	}
}

// prepared pairs a still-queued message with its outgoing gateway form.
type prepared struct {
	msg domain.Message
	out port.GatewayMessage
}

// ProcessBatch settles one batch. It returns port.ErrRateLimited when a
// rate-limit window is saturated and the raw error on a whole-RPC failure;
// both leave every message untouched so the work queue can retry. All other
// outcomes settle each message terminally.
func (s *Sender) ProcessBatch(ctx context.Context, job port.BatchJob) error {
	log := s.logger.With(slog.String("job", job.Key), slog.Int64("campaign", job.CampaignID))

	msgs, err := s.messages.GetBatch(ctx, job.MessageIDs)
	if err != nil {
		return fmt.Errorf("load batch: %w", err)
	}

	// a replayed job finds its messages already terminal and skips them
	pending := msgs[:0]
	for _, m := range msgs {
		if m.Status == domain.MessageStatusQueued {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		s.reconcile(ctx, job.CampaignID)
		return nil
	}

	tenant, err := s.tenants.Get(ctx, job.TenantID)
	if err != nil {
		return fmt.Errorf("load tenant %d: %w", job.TenantID, err)
	}
	if !tenant.SubscriptionActive {
		s.failAll(ctx, pending, domain.FailReasonInactiveSubscription)
		s.reconcile(ctx, job.CampaignID)
		return nil
	}

	balance, err := s.ledger.Balance(ctx, job.TenantID)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	if balance < int64(len(pending)) {
		s.failAll(ctx, pending, domain.FailReasonInsufficientCredits)
		s.reconcile(ctx, job.CampaignID)
		return nil
	}

	sender := tenant.SenderID
	if sender == "" {
		sender = s.defaultSender
	}
	ready, broken := s.prepare(pending, sender)

	// both scopes must be under their ceiling; saturation is transient, so
	// it must surface as a retryable error, never as a terminal failure
	if err = s.checkLimits(ctx, job.TenantID); err != nil {
		return err
	}

	for _, m := range broken {
		s.fail(ctx, m, domain.FailReasonPreparationFailed)
	}
	if len(ready) == 0 {
		s.reconcile(ctx, job.CampaignID)
		return nil
	}

	outgoing := make([]port.GatewayMessage, len(ready))
	for i, p := range ready {
		outgoing[i] = p.out
	}
	results, err := s.gateway.SendBulk(ctx, outgoing)
	if err != nil {
		// hard RPC failure: nothing sent, nothing debited, queue retries
		return fmt.Errorf("bulk send rpc: %w", err)
	}

	batchID := uuid.NewString()
	now := time.Now()
	var sent, failed int
	for i, p := range ready {
		if results[i].MessageID == "" {
			s.fail(ctx, p.msg, domain.FailReasonSendFailed)
			failed++
			continue
		}
		s.settleSent(ctx, p.msg, results[i].MessageID, batchID, now)
		sent++
	}
	log.Info("batch settled",
		slog.Int("sent", sent), slog.Int("failed", failed+len(broken)), slog.String("batch", batchID))

	s.reconcile(ctx, job.CampaignID)
	return nil
}

// AbortBatch settles every still-queued message of the batch as failed.
// The consumer calls it once retries are exhausted.
func (s *Sender) AbortBatch(ctx context.Context, job port.BatchJob, reason string) error {
	msgs, err := s.messages.GetBatch(ctx, job.MessageIDs)
	if err != nil {
		return fmt.Errorf("load batch: %w", err)
	}
	for _, m := range msgs {
		if m.Status == domain.MessageStatusQueued {
			s.fail(ctx, m, reason)
		}
	}
	s.reconcile(ctx, job.CampaignID)
	return nil
}

// prepare resolves the outgoing form of each message. A missing opt-out
// link degrades to sending without one; only an unusable destination makes
// a message unsendable.
func (s *Sender) prepare(pending []domain.Message, sender string) (ready []prepared, broken []domain.Message) {
	for _, m := range pending {
		if strings.TrimSpace(m.Destination) == "" {
			broken = append(broken, m)
			continue
		}
		body := m.Body
		if !strings.Contains(body, "Opt out:") {
			if link, err := s.renderer.OptOutLink(m.ContactID, m.TrackingID); err == nil {
				body += " Opt out: " + link
			} else {
				s.logger.Warn("sending without opt-out link",
					slog.Int64("message", m.ID), slog.Any("error", err))
			}
		}
		ready = append(ready, prepared{
			msg: m,
			out: port.GatewayMessage{
				Destination: m.Destination,
				SenderID:    sender,
				Text:        body,
				Ref:         m.TrackingID,
			},
		})
	}
	return ready, broken
}

func (s *Sender) checkLimits(ctx context.Context, tenantID int64) error {
	accountScope := "account:" + s.account
	res, err := s.limiter.Check(ctx, accountScope, s.cfg.AccountRateMax, s.cfg.AccountRateWindow)
	if err != nil {
		return fmt.Errorf("rate limit check %s: %w", accountScope, err)
	}
	if !res.Allowed {
		return fmt.Errorf("%w: scope %s resets at %s", port.ErrRateLimited, accountScope, res.ResetAt.Format(time.RFC3339))
	}

	tenantScope := fmt.Sprintf("tenant:%d", tenantID)
	res, err = s.limiter.Check(ctx, tenantScope, s.cfg.TenantRateMax, s.cfg.TenantRateWindow)
	if err != nil {
		return fmt.Errorf("rate limit check %s: %w", tenantScope, err)
	}
	if !res.Allowed {
		return fmt.Errorf("%w: scope %s resets at %s", port.ErrRateLimited, tenantScope, res.ResetAt.Format(time.RFC3339))
	}
	return nil
}

// settleSent marks the message sent and debits one credit. A debit failure
// is logged for the backfill sweep, never turned into a send failure: the
// gateway has already accepted the message and that cannot be undone.
func (s *Sender) settleSent(ctx context.Context, m domain.Message, upstreamID, batchID string, at time.Time) {
	ok, err := s.messages.MarkSent(ctx, m.ID, upstreamID, batchID, at)
	if err != nil {
		s.logger.Error("mark sent failed",
			slog.Int64("message", m.ID), slog.String("upstream", upstreamID), slog.Any("error", err))
		return
	}
	if !ok {
		// lost the race to another settle; no debit
		return
	}
	_, err = s.ledger.Debit(ctx, m.TenantID, 1, port.LedgerEntry{
		Reason: domain.CreditReasonBulkSend,
		Meta: map[string]string{
			domain.MetaKeyTrackingID: m.TrackingID,
			domain.MetaKeyUpstreamID: upstreamID,
			domain.MetaKeyBatchID:    batchID,
		},
	})
	if err != nil && !errors.Is(err, port.ErrAlreadyBilled) {
		s.logger.Warn("debit after send failed, leaving for backfill sweep",
			slog.Int64("message", m.ID), slog.Int64("tenant", m.TenantID), slog.Any("error", err))
	}
}

func (s *Sender) failAll(ctx context.Context, msgs []domain.Message, reason string) {
	for _, m := range msgs {
		s.fail(ctx, m, reason)
	}
}

func (s *Sender) fail(ctx context.Context, m domain.Message, reason string) {
	if _, err := s.messages.MarkFailed(ctx, m.ID, reason, time.Now()); err != nil {
		s.logger.Error("mark failed failed",
			slog.Int64("message", m.ID), slog.String("reason", reason), slog.Any("error", err))
	}
}

// reconcile is best-effort: aggregates recompute from durable rows, so a
// missed reconcile here is corrected by the next one.
func (s *Sender) reconcile(ctx context.Context, campaignID int64) {
	if err := s.reconciler.Reconcile(ctx, campaignID); err != nil {
		s.logger.Warn("reconcile after batch failed",
			slog.Int64("campaign", campaignID), slog.Any("error", err))
	}
}
