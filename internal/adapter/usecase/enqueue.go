package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"savanna-sms/internal/config/configs"
	"savanna-sms/internal/core/domain"
	"savanna-sms/internal/core/port"
	"savanna-sms/internal/render"
)

// BatchJobName is the work-queue job type for bulk-send batches.
const BatchJobName = "campaign.batch.send"

// Enqueuer implements port.CampaignEnqueuer. It owns the campaign state
// machine on the enqueue side: audience expansion, the subscription and
// credit gates, bulk message persistence and batch job publication.
type Enqueuer struct {
	campaigns port.CampaignRepository
	messages  port.MessageRepository
	tenants   port.TenantRepository
	ledger    port.CreditLedger
	audience  port.AudienceBuilder
	queue     port.JobQueue
	renderer  *render.Renderer
	cfg       configs.Pipeline
	logger    *slog.Logger
}

// NewEnqueuer wires the orchestrator. All collaborators are injected; the
// enqueuer holds no state of its own beyond configuration.
func NewEnqueuer(
	campaigns port.CampaignRepository,
	messages port.MessageRepository,
	tenants port.TenantRepository,
	ledger port.CreditLedger,
	audience port.AudienceBuilder,
	queue port.JobQueue,
	renderer *render.Renderer,
	cfg configs.Pipeline,
	logger *slog.Logger,
) *Enqueuer {
	return &Enqueuer{
		campaigns: campaigns,
		messages:  messages,
		tenants:   tenants,
		ledger:    ledger,
		audience:  audience,
		queue:     queue,
		renderer:  renderer,
		cfg:       cfg,
		logger:    logger,
	}
}

// Enqueue validates the campaign, expands its audience into one queued
// message per recipient and publishes batch jobs. Policy rejections come
// back in the result with a reason code; an error return means an
// infrastructure failure.
func (e *Enqueuer) Enqueue(ctx context.Context, campaignID int64) (port.EnqueueResult, error) {
	c, err := e.campaigns.Get(ctx, campaignID)
	if err != nil {
		return port.EnqueueResult{}, fmt.Errorf("load campaign %d: %w", campaignID, err)
	}
	if !c.CanEnqueue() {
		return port.EnqueueResult{Reason: fmt.Sprintf("%s:%s", port.ReasonInvalidStatus, c.Status)}, nil
	}

	// audience expansion is potentially slow and unbounded, so it happens
	// before any transaction or status change
	contacts, err := e.audience.Build(ctx, c.TenantID, c.Audience)
	if err != nil {
		return port.EnqueueResult{}, fmt.Errorf("build audience: %w", err)
	}
	if len(contacts) == 0 {
		if err = e.campaigns.MarkFailed(ctx, campaignID, 0); err != nil {
			return port.EnqueueResult{}, fmt.Errorf("mark campaign failed: %w", err)
		}
		return port.EnqueueResult{Reason: port.ReasonNoRecipients}, nil
	}

	tenant, err := e.tenants.Get(ctx, c.TenantID)
	if err != nil {
		return port.EnqueueResult{}, fmt.Errorf("load tenant %d: %w", c.TenantID, err)
	}
	if !tenant.SubscriptionActive {
		return port.EnqueueResult{Reason: port.ReasonInactiveSubscription}, nil
	}

	// one credit per recipient is reserved by this check; nothing is
	// debited until the gateway confirms each send
	balance, err := e.ledger.Balance(ctx, c.TenantID)
	if err != nil {
		return port.EnqueueResult{}, fmt.Errorf("read balance: %w", err)
	}
	if balance < int64(len(contacts)) {
		return port.EnqueueResult{Reason: port.ReasonInsufficientCredits}, nil
	}

	flipped, err := e.campaigns.MarkSending(ctx, campaignID, time.Now())
	if err != nil {
		return port.EnqueueResult{}, fmt.Errorf("mark sending: %w", err)
	}
	if !flipped {
		return port.EnqueueResult{Reason: port.ReasonAlreadySending}, nil
	}

	ids, err := e.persistMessages(ctx, c, tenant, contacts)
	if err != nil {
		// nothing durable exists for this invocation yet; roll the status
		// back so the campaign can be enqueued again
		if revertErr := e.campaigns.RevertToDraft(ctx, campaignID); revertErr != nil {
			e.logger.Error("revert campaign to draft failed",
				slog.Int64("campaign", campaignID), slog.Any("error", revertErr))
		}
		return port.EnqueueResult{}, fmt.Errorf("persist messages: %w", err)
	}

	if err = e.campaigns.SetCounters(ctx, campaignID, len(ids), 0, 0, "", nil); err != nil {
		// counters recompute from message rows on the next reconcile; do
		// not fail the enqueue over them
		e.logger.Warn("set campaign counters failed",
			slog.Int64("campaign", campaignID), slog.Any("error", err))
	}

	jobs, err := e.publishBatches(ctx, c, ids)
	if err != nil {
		return port.EnqueueResult{OK: true, Created: len(ids), EnqueuedJobs: jobs}, err
	}
	return port.EnqueueResult{OK: true, Created: len(ids), EnqueuedJobs: jobs}, nil
}

// persistMessages renders and inserts one message row per contact, chunked
// so a huge campaign never holds one giant transaction.
func (e *Enqueuer) persistMessages(ctx context.Context, c *domain.Campaign, tenant *domain.Tenant, contacts []domain.Contact) ([]int64, error) {
	msgs := make([]domain.Message, 0, len(contacts))
	for _, contact := range contacts {
		trackingID := render.NewTrackingID()
		body, linked := e.renderer.Render(c.Template, contact, trackingID)
		if !linked {
			// message still sends without the opt-out link
			e.logger.Warn("opt-out link unavailable",
				slog.Int64("campaign", c.ID), slog.Int64("contact", contact.ID))
		}
		msgs = append(msgs, domain.Message{
			TenantID:    tenant.ID,
			CampaignID:  c.ID,
			ContactID:   contact.ID,
			Destination: contact.Phone,
			Body:        body,
			TrackingID:  trackingID,
		})
	}

	chunk := e.cfg.InsertChunk
	if chunk <= 0 || chunk > len(msgs) {
		chunk = len(msgs)
	}
	ids := make([]int64, 0, len(msgs))
	for start := 0; start < len(msgs); start += chunk {
		end := min(start+chunk, len(msgs))
		chunkIDs, err := e.messages.InsertBatch(ctx, msgs[start:end])
		if err != nil {
			return nil, err
		}
		ids = append(ids, chunkIDs...)
	}
	return ids, nil
}

// publishBatches partitions the message IDs into fixed-size batch jobs. The
// first cfg.SyncBatches are awaited so the caller observes at least partial
// enqueue success; the rest are published from a background goroutine whose
// failures land in the log, not in the void.
func (e *Enqueuer) publishBatches(ctx context.Context, c *domain.Campaign, ids []int64) (int, error) {
	size := e.cfg.BatchSize
	if size <= 0 {
		size = len(ids)
	}
	now := time.Now().Unix()

	var jobs []port.Job
	for start, index := 0, 0; start < len(ids); start, index = start+size, index+1 {
		end := min(start+size, len(ids))
		payload, err := json.Marshal(port.BatchJob{
			Key:        fmt.Sprintf("send:%d:%d:%d", c.ID, index, now),
			TenantID:   c.TenantID,
			CampaignID: c.ID,
			MessageIDs: ids[start:end],
		})
		if err != nil {
			return 0, err
		}
		jobs = append(jobs, port.Job{
			Key:     fmt.Sprintf("send:%d:%d:%d", c.ID, index, now),
			Name:    BatchJobName,
			Payload: payload,
		})
	}

	sync := min(e.cfg.SyncBatches, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs[:sync] {
		g.Go(func() error {
			return e.queue.Enqueue(gctx, job)
		})
	}
	if err := g.Wait(); err != nil {
		return sync, fmt.Errorf("enqueue first batches: %w", err)
	}

	rest := jobs[sync:]
	if len(rest) > 0 {
		bg := context.WithoutCancel(ctx)
		go func() {
			for _, job := range rest {
				if err := e.queue.Enqueue(bg, job); err != nil {
					e.logger.Error("enqueue batch job failed",
						slog.String("job", job.Key), slog.Any("error", err))
				}
			}
		}()
	}
	return len(jobs), nil
}

// DispatchDue enqueues every scheduled campaign whose scheduled time has
// passed. The sending status flip makes a re-dispatch of the same campaign
// a no-op.
func (e *Enqueuer) DispatchDue(ctx context.Context, now time.Time) (int, error) {
	due, err := e.campaigns.ListDueScheduled(ctx, now, 100)
	if err != nil {
		return 0, fmt.Errorf("list due campaigns: %w", err)
	}
	dispatched := 0
	for _, id := range due {
		res, err := e.Enqueue(ctx, id)
		if err != nil {
			e.logger.Error("dispatch scheduled campaign failed",
				slog.Int64("campaign", id), slog.Any("error", err))
			continue
		}
		if res.OK {
			dispatched++
		} else {
			e.logger.Warn("scheduled campaign rejected",
				slog.Int64("campaign", id), slog.String("reason", res.Reason))
		}
	}
	return dispatched, nil
}
