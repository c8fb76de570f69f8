package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"savanna-sms/internal/core/domain"
	"savanna-sms/internal/core/port"
)

// LedgerRepository implements port.CreditLedger on PostgreSQL. Every
// mutation locks the tenant row, appends an immutable credit_transactions
// row and updates the materialized balance in the same transaction, so
// concurrent debits from parallel workers serialize at the row lock.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository returns a new repository instance.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// Balance returns the tenant's current credit balance.
func (r *LedgerRepository) Balance(ctx context.Context, tenantID int64) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `SELECT credit_balance FROM tenants WHERE id = $1`, tenantID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, port.ErrNotFound
	}
	return balance, err
}

// Debit appends a negative ledger row and decrements the balance. The
// balance pre-check happens under the row lock; a balance that would go
// negative returns ErrInsufficientCredits with nothing written.
func (r *LedgerRepository) Debit(ctx context.Context, tenantID, amount int64, entry port.LedgerEntry) (int64, error) {
	return r.apply(ctx, tenantID, -amount, entry)
}

// Credit appends a positive ledger row and increments the balance. When the
// entry carries a session ID already recorded for this tenant and reason the
// call is idempotent and returns the current balance unchanged.
func (r *LedgerRepository) Credit(ctx context.Context, tenantID, amount int64, entry port.LedgerEntry) (int64, error) {
	return r.apply(ctx, tenantID, amount, entry)
}

func (r *LedgerRepository) apply(ctx context.Context, tenantID, amount int64, entry port.LedgerEntry) (balance int64, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
	}()

	err = tx.QueryRow(ctx, `SELECT credit_balance FROM tenants WHERE id = $1 FOR UPDATE`, tenantID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
		return 0, port.ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	if amount > 0 {
		// top-ups are idempotent by session ID
		if session, ok := entry.Meta[domain.MetaKeySessionID]; ok && session != "" {
			var exists bool
			err = tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM credit_transactions
				 WHERE tenant_id = $1 AND reason = $2 AND meta->>'sessionId' = $3)`,
				tenantID, entry.Reason, session).Scan(&exists)
			if err != nil {
				return 0, err
			}
			if exists {
				return balance, nil
			}
		}
	}

	balance += amount
	if balance < 0 {
		err = nil
		return 0, port.ErrInsufficientCredits
	}

	_, err = tx.Exec(ctx, `UPDATE tenants SET credit_balance = $2, updated_at = now() WHERE id = $1`, tenantID, balance)
	if err != nil {
		return 0, err
	}
	meta := entry.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO credit_transactions (tenant_id, amount, reason, meta, balance_after, created_at)
		 VALUES ($1,$2,$3,$4,$5,now())`,
		tenantID, amount, entry.Reason, meta, balance)
	if err != nil {
		// the partial unique index on trackingId stops the settle path and
		// the backfill sweep from billing the same send twice
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			err = port.ErrAlreadyBilled
		}
		return 0, err
	}
	return balance, nil
}

// History returns the most recent ledger rows for the tenant, newest first.
func (r *LedgerRepository) History(ctx context.Context, tenantID int64, limit int) ([]domain.CreditTransaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, tenant_id, amount, reason, meta, balance_after, created_at
		 FROM credit_transactions WHERE tenant_id = $1 ORDER BY id DESC LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CreditTransaction, error) {
		var t domain.CreditTransaction
		err := row.Scan(&t.ID, &t.TenantID, &t.Amount, &t.Reason, &t.Meta, &t.BalanceAfter, &t.CreatedAt)
		return t, err
	})
}
