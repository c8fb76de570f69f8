package port

import (
	"context"
	"errors"

	"savanna-sms/internal/core/domain"
)

// ErrInsufficientCredits is returned by Debit when the tenant balance would
// go negative. The balance pre-check and the row lock live inside the
// repository transaction.
var ErrInsufficientCredits = errors.New("insufficient credits")

// ErrAlreadyBilled is returned by Debit when a send debit for the same
// tracking ID already exists. The worker settle path and the backfill sweep
// both write send debits; the storage layer guarantees only one lands.
var ErrAlreadyBilled = errors.New("message already billed")

// LedgerEntry describes one ledger append. Amount is always positive; Debit
// and Credit decide the sign.
type LedgerEntry struct {
	Reason string
	Meta   map[string]string
}

// CreditLedger is the append-only credit ledger. The tenant balance is only
// ever mutated through Debit and Credit, which serialize concurrent writers
// at the storage layer's transaction boundary.
type CreditLedger interface {
	// Balance returns the tenant's current credit balance.
	Balance(ctx context.Context, tenantID int64) (int64, error)

	// Debit appends a negative ledger row and decrements the materialized
	// balance, returning the new balance. ErrInsufficientCredits is returned
	// when the balance would go below zero; no row is written in that case.
	Debit(ctx context.Context, tenantID, amount int64, entry LedgerEntry) (int64, error)

	// Credit appends a positive ledger row and increments the balance. When
	// entry.Meta carries a session ID already recorded for the same tenant
	// and reason, the call is a no-op returning the current balance.
	Credit(ctx context.Context, tenantID, amount int64, entry LedgerEntry) (int64, error)

	// History returns the most recent ledger rows for the tenant, newest
	// first.
	History(ctx context.Context, tenantID int64, limit int) ([]domain.CreditTransaction, error)
}
