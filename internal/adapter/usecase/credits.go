package usecase

import (
	"context"
	"fmt"

	"savanna-sms/internal/core/domain"
	"savanna-sms/internal/core/port"
)

// Credits exposes the tenant-facing ledger operations: top-ups and balance
// reads. Debits belong to the delivery pipeline and never go through here.
type Credits struct {
	ledger port.CreditLedger
}

// NewCredits wires the credit service.
func NewCredits(ledger port.CreditLedger) *Credits {
	return &Credits{ledger: ledger}
}

// TopUp credits the tenant. sessionID is the billing provider's checkout
// session and makes replayed webhooks idempotent: a session already applied
// returns the current balance without a second credit.
func (c *Credits) TopUp(ctx context.Context, tenantID, amount int64, sessionID string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("top-up amount must be positive, got %d", amount)
	}
	return c.ledger.Credit(ctx, tenantID, amount, port.LedgerEntry{
		Reason: domain.CreditReasonTopUp,
		Meta:   map[string]string{domain.MetaKeySessionID: sessionID},
	})
}

// Balance returns the tenant's current credit balance.
func (c *Credits) Balance(ctx context.Context, tenantID int64) (int64, error) {
	return c.ledger.Balance(ctx, tenantID)
}

// History returns the tenant's most recent ledger entries, newest first.
func (c *Credits) History(ctx context.Context, tenantID int64, limit int) ([]domain.CreditTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return c.ledger.History(ctx, tenantID, limit)
}
