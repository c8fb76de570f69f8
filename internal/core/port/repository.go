package port

import (
	"context"
	"errors"
	"time"

	"savanna-sms/internal/core/domain"
)

// ErrNotFound is returned by repositories when the requested row does not
// exist or belongs to another tenant.
var ErrNotFound = errors.New("not found")

// CampaignRepository is the persistence port for campaign rows.
// Implementations must be concurrency-safe; status flips happen under an
// optimistic re-read inside a short transaction.
type CampaignRepository interface {
	// Get returns the campaign or ErrNotFound.
	Get(ctx context.Context, id int64) (*domain.Campaign, error)

	// MarkSending atomically flips the campaign to sending with the given
	// start time, but only if its current status still allows enqueueing.
	// It returns false when another caller won the race.
	MarkSending(ctx context.Context, id int64, startedAt time.Time) (bool, error)

	// RevertToDraft undoes a sending flip after a failed enqueue, clearing
	// startedAt. Used only before any message row was persisted.
	RevertToDraft(ctx context.Context, id int64) error

	// MarkFailed terminates the campaign with the given total (used for
	// empty audiences).
	MarkFailed(ctx context.Context, id int64, total int) error

	// SetCounters persists total/sent/failed and, when status is non-empty,
	// the inferred lifecycle status and finish time.
	SetCounters(ctx context.Context, id int64, total, sent, failed int, status domain.CampaignStatus, finishedAt *time.Time) error

	// ListDueScheduled returns IDs of scheduled campaigns whose scheduled
	// time is at or before now.
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]int64, error)
}

// MessageRepository is the persistence port for per-recipient message rows.
// Terminal transitions are conditional on the row still being queued, which
// is what makes batch retries idempotent.
type MessageRepository interface {
	// InsertBatch persists the given messages and returns their IDs in input
	// order. Rows violating the (campaign, contact) uniqueness are skipped.
	InsertBatch(ctx context.Context, msgs []domain.Message) ([]int64, error)

	// GetBatch loads the given messages. Missing IDs are silently dropped
	// from the result.
	GetBatch(ctx context.Context, ids []int64) ([]domain.Message, error)

	// MarkSent settles the message as sent with the upstream and batch
	// identifiers. It returns false when the message was not in queued
	// status, in which case nothing was written.
	MarkSent(ctx context.Context, id int64, upstreamID, batchID string, at time.Time) (bool, error)

	// MarkFailed settles the message as failed with a reason. Returns false
	// when the message was already terminal.
	MarkFailed(ctx context.Context, id int64, reason string, at time.Time) (bool, error)

	// CountByStatus aggregates the campaign's messages by status.
	CountByStatus(ctx context.Context, campaignID int64) (domain.MessageCounts, error)

	// FindByUpstreamID returns the message carrying the given gateway ID, or
	// ErrNotFound.
	FindByUpstreamID(ctx context.Context, upstreamID string) (*domain.Message, error)

	// ListStale returns messages still queued since before the cutoff, for
	// status-lookup polling of potentially lost send responses.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.Message, error)

	// ListUnbilledSent returns sent messages settled before the cutoff that
	// have no matching ledger debit, for the backfill sweep.
	ListUnbilledSent(ctx context.Context, cutoff time.Time, limit int) ([]domain.Message, error)
}

// TenantRepository resolves tenant rows for subscription and sender checks.
type TenantRepository interface {
	// Get returns the tenant or ErrNotFound.
	Get(ctx context.Context, id int64) (*domain.Tenant, error)
}
