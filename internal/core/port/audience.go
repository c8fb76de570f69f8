package port

import (
	"context"

	"savanna-sms/internal/core/domain"
)

// AudienceBuilder resolves campaign audience filters into concrete
// recipients. Implementations must only return subscribed, adult contacts,
// ordered deterministically, and always filter by tenant.
type AudienceBuilder interface {
	// Count returns the audience size without materializing it.
	Count(ctx context.Context, tenantID int64, f domain.AudienceFilter) (int, error)

	// Build returns the full ordered audience. Potentially slow and
	// unbounded; never call it inside a transaction.
	Build(ctx context.Context, tenantID int64, f domain.AudienceFilter) ([]domain.Contact, error)
}
