package domain

import "time"

// Tenant is an isolated store whose contacts, campaigns and credit balance
// are never shared with other tenants. CreditBalance mirrors the ledger sum
// and is updated in the same transaction as every ledger append.
type Tenant struct {
	ID   int64
	Name string

	// SenderID is the alphanumeric origin shown to recipients.
	SenderID string

	SubscriptionActive bool
	CreditBalance      int64

	CreatedAt time.Time
	UpdatedAt time.Time
}
