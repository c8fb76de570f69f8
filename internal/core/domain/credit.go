package domain

import "time"

// Ledger reason tags. Debits are negative amounts, credits positive.
const (
	CreditReasonBulkSend = "sms:send:bulk"
	CreditReasonTopUp    = "stripe:topup"
	CreditReasonBackfill = "sms:send:backfill"
	CreditReasonAdjust   = "manual:adjust"
)

// CreditTransaction is an immutable ledger entry. The tenant balance is the
// running sum of Amount over all rows; BalanceAfter materializes that sum at
// write time for auditing. Meta carries idempotency keys such as the message
// tracking ID for send debits or the checkout session ID for top-ups.
type CreditTransaction struct {
	ID           int64
	TenantID     int64
	Amount       int64
	Reason       string
	Meta         map[string]string
	BalanceAfter int64
	CreatedAt    time.Time
}

// Meta keys used by the pipeline.
const (
	MetaKeyTrackingID = "trackingId"
	MetaKeyUpstreamID = "upstreamId"
	MetaKeyBatchID    = "batchId"
	MetaKeySessionID  = "sessionId"
)
