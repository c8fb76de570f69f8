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

const campaignColumns = `id, tenant_id, name, template, gender, age_group, name_search, list_id,
	status, total, sent, failed, scheduled_at, started_at, finished_at, created_at, updated_at`

// CampaignRepository implements port.CampaignRepository using pgxpool.
type CampaignRepository struct {
	pool *pgxpool.Pool
}

// NewCampaignRepository returns a new repository instance.
func NewCampaignRepository(pool *pgxpool.Pool) *CampaignRepository {
	return &CampaignRepository{pool: pool}
}

// Get returns the campaign by id.
func (r *CampaignRepository) Get(ctx context.Context, id int64) (*domain.Campaign, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// MarkSending flips the campaign to sending under a row lock, but only when
// its current status still allows enqueueing. Returns false when another
// caller already flipped it.
func (r *CampaignRepository) MarkSending(ctx context.Context, id int64, startedAt time.Time) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
	}()

	// re-read the status under lock: two concurrent enqueue calls must not
	// both win the draft -> sending flip
	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM campaigns WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
		return false, port.ErrNotFound
	}
	if err != nil {
		return false, err
	}
	c := domain.Campaign{Status: domain.CampaignStatus(status)}
	if !c.CanEnqueue() {
		return false, nil
	}
	_, err = tx.Exec(ctx, `UPDATE campaigns SET status = 'sending', started_at = $2, updated_at = now() WHERE id = $1`, id, startedAt)
	if err != nil {
		return false, err
	}
	return true, nil
}

// RevertToDraft undoes a failed enqueue, clearing started_at.
func (r *CampaignRepository) RevertToDraft(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE campaigns SET status = 'draft', started_at = NULL, updated_at = now() WHERE id = $1`, id)
	return err
}

// MarkFailed terminates the campaign with the given total.
func (r *CampaignRepository) MarkFailed(ctx context.Context, id int64, total int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE campaigns SET status = 'failed', total = $2, finished_at = now(), updated_at = now() WHERE id = $1`,
		id, total)
	return err
}

// SetCounters persists the aggregate counters and, when status is non-empty,
// the inferred lifecycle status and finish time.
func (r *CampaignRepository) SetCounters(ctx context.Context, id int64, total, sent, failed int, status domain.CampaignStatus, finishedAt *time.Time) error {
	if status == "" {
		_, err := r.pool.Exec(ctx,
			`UPDATE campaigns SET total = $2, sent = $3, failed = $4, updated_at = now() WHERE id = $1`,
			id, total, sent, failed)
		return err
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE campaigns SET total = $2, sent = $3, failed = $4, status = $5, finished_at = $6, updated_at = now() WHERE id = $1`,
		id, total, sent, failed, string(status), finishedAt)
	return err
}

// ListDueScheduled returns IDs of scheduled campaigns whose scheduled time
// has passed.
func (r *CampaignRepository) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM campaigns WHERE status = 'scheduled' AND scheduled_at IS NOT NULL AND scheduled_at <= $1 ORDER BY scheduled_at LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (int64, error) {
		var id int64
		err := row.Scan(&id)
		return id, err
	})
}

func scanCampaign(row pgx.Row) (*domain.Campaign, error) {
	var (
		c      domain.Campaign
		status string
	)
	err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.Name,
		&c.Template,
		&c.Audience.Gender,
		&c.Audience.AgeGroup,
		&c.Audience.NameSearch,
		&c.Audience.ListID,
		&status,
		&c.Total,
		&c.Sent,
		&c.Failed,
		&c.ScheduledAt,
		&c.StartedAt,
		&c.FinishedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = domain.CampaignStatus(status)
	return &c, nil
}
