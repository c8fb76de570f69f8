package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"savanna-sms/internal/core/domain"
	"savanna-sms/internal/core/port"
)

// TenantRepository implements port.TenantRepository using pgxpool.
type TenantRepository struct {
	pool *pgxpool.Pool
}

// NewTenantRepository returns a new repository instance.
func NewTenantRepository(pool *pgxpool.Pool) *TenantRepository {
	return &TenantRepository{pool: pool}
}

// Get returns the tenant by id.
func (r *TenantRepository) Get(ctx context.Context, id int64) (*domain.Tenant, error) {
	var t domain.Tenant
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, sender_id, subscription_active, credit_balance, created_at, updated_at
		 FROM tenants WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.SenderID, &t.SubscriptionActive, &t.CreditBalance, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
