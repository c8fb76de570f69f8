package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"savanna-sms/internal/core/domain"
	"savanna-sms/internal/core/port"
)

const messageColumns = `id, tenant_id, campaign_id, contact_id, destination, body, tracking_id,
	status, upstream_id, batch_id, error_detail, sent_at, failed_at, created_at`

// MessageRepository implements port.MessageRepository using pgxpool. The
// terminal transitions are conditional updates on status = 'queued', which
// makes replayed batch jobs harmless.
type MessageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository returns a new repository instance.
func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// InsertBatch persists the messages in one transaction using a pgx batch.
// Rows conflicting on (campaign_id, contact_id) are skipped; returned IDs
// keep input order.
func (r *MessageRepository) InsertBatch(ctx context.Context, msgs []domain.Message) ([]int64, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
	}()

	batch := &pgx.Batch{}
	for i := range msgs {
		m := &msgs[i]
		batch.Queue(`INSERT INTO messages
	(tenant_id, campaign_id, contact_id, destination, body, tracking_id, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,'queued',now())
ON CONFLICT (campaign_id, contact_id) DO NOTHING
RETURNING id`,
			m.TenantID, m.CampaignID, m.ContactID, m.Destination, m.Body, m.TrackingID)
	}

	br := tx.SendBatch(ctx, batch)
	ids := make([]int64, 0, len(msgs))
	for range msgs {
		var id int64
		scanErr := br.QueryRow().Scan(&id)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			// duplicate (campaign, contact) within this enqueue; skip
			continue
		}
		if scanErr != nil {
			err = scanErr
			_ = br.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err = br.Close(); err != nil {
		return nil, err
	}
	return ids, nil
}

// GetBatch loads the given messages. Missing IDs are dropped.
func (r *MessageRepository) GetBatch(ctx context.Context, ids []int64) ([]domain.Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, collectMessage)
}

// MarkSent settles the message as sent, but only if it is still queued.
func (r *MessageRepository) MarkSent(ctx context.Context, id int64, upstreamID, batchID string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET status = 'sent', upstream_id = $2, batch_id = $3, sent_at = $4, error_detail = NULL
		 WHERE id = $1 AND status = 'queued'`,
		id, upstreamID, batchID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed settles the message as failed, but only if it is still queued.
func (r *MessageRepository) MarkFailed(ctx context.Context, id int64, reason string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET status = 'failed', error_detail = $2, failed_at = $3
		 WHERE id = $1 AND status = 'queued'`,
		id, reason, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CountByStatus aggregates the campaign's messages by status.
func (r *MessageRepository) CountByStatus(ctx context.Context, campaignID int64) (domain.MessageCounts, error) {
	var counts domain.MessageCounts
	err := r.pool.QueryRow(ctx, `SELECT
		COALESCE(count(*) FILTER (WHERE status = 'queued'), 0),
		COALESCE(count(*) FILTER (WHERE status = 'sent'), 0),
		COALESCE(count(*) FILTER (WHERE status = 'failed'), 0)
	FROM messages WHERE campaign_id = $1`, campaignID).
		Scan(&counts.Queued, &counts.Sent, &counts.Failed)
	return counts, err
}

// FindByUpstreamID returns the message carrying the given gateway ID.
func (r *MessageRepository) FindByUpstreamID(ctx context.Context, upstreamID string) (*domain.Message, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE upstream_id = $1`, upstreamID)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListStale returns messages still queued long after their creation. These
// are candidates for a status lookup: the send RPC response may have been
// lost after the gateway accepted the batch.
func (r *MessageRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE status = 'queued' AND created_at < $1
		 ORDER BY created_at LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, collectMessage)
}

// ListUnbilledSent returns sent messages older than the cutoff that have no
// matching ledger debit recorded against their tracking ID.
func (r *MessageRepository) ListUnbilledSent(ctx context.Context, cutoff time.Time, limit int) ([]domain.Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages m
		 WHERE m.status = 'sent' AND m.sent_at < $1
		   AND NOT EXISTS (
			SELECT 1 FROM credit_transactions t
			WHERE t.tenant_id = m.tenant_id
			  AND t.reason IN ('sms:send:bulk', 'sms:send:backfill')
			  AND t.meta->>'trackingId' = m.tracking_id)
		 ORDER BY m.sent_at LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, collectMessage)
}

func collectMessage(row pgx.CollectableRow) (domain.Message, error) {
	m, err := scanMessage(row)
	if err != nil {
		return domain.Message{}, err
	}
	return *m, nil
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var (
		m      domain.Message
		status string
	)
	err := row.Scan(
		&m.ID,
		&m.TenantID,
		&m.CampaignID,
		&m.ContactID,
		&m.Destination,
		&m.Body,
		&m.TrackingID,
		&status,
		&m.UpstreamID,
		&m.BatchID,
		&m.ErrorDetail,
		&m.SentAt,
		&m.FailedAt,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Status = domain.MessageStatus(status)
	return &m, nil
}
