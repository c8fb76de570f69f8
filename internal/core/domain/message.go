package domain

import "time"

// MessageStatus enumerates the per-recipient message lifecycle. A message
// transitions queued -> sent or queued -> failed exactly once; terminal
// states are sticky.
type MessageStatus string

const (
	MessageStatusQueued MessageStatus = "queued"
	MessageStatusSent   MessageStatus = "sent"
	MessageStatusFailed MessageStatus = "failed"
)

// Failure reasons recorded on terminally failed messages.
const (
	FailReasonSendFailed           = "send_failed"
	FailReasonPreparationFailed    = "preparation_failed"
	FailReasonInactiveSubscription = "inactive_subscription"
	FailReasonInsufficientCredits  = "insufficient_credits"
	FailReasonRetriesExhausted     = "retries_exhausted"
	FailReasonDeliveryRejected     = "delivery_rejected"
)

// Message is one outbound text for one recipient of one campaign. Body holds
// the fully rendered text, placeholders substituted and tracking/opt-out
// links already appended. The (campaign, contact) pair is unique per enqueue.
type Message struct {
	ID         int64
	TenantID   int64
	CampaignID int64
	ContactID  int64

	// Destination is the recipient phone number in E.164 form.
	Destination string
	Body        string

	// TrackingID is generated at enqueue time and doubles as the idempotency
	// key for the ledger debit recorded on a confirmed send.
	TrackingID string

	Status MessageStatus

	// UpstreamID is the gateway's message identifier, set once the bulk-send
	// RPC accepts the message. BatchID groups messages sent in one RPC call.
	UpstreamID *string
	BatchID    *string

	ErrorDetail *string

	SentAt   *time.Time
	FailedAt *time.Time

	CreatedAt time.Time
}

// Terminal reports whether the message has settled.
func (m *Message) Terminal() bool {
	return m.Status == MessageStatusSent || m.Status == MessageStatusFailed
}

// MessageCounts is an aggregate of message rows by status for one campaign.
type MessageCounts struct {
	Queued int
	Sent   int
	Failed int
}

// Total returns the number of counted messages.
func (c MessageCounts) Total() int {
	return c.Queued + c.Sent + c.Failed
}

// Processed returns the number of settled messages.
func (c MessageCounts) Processed() int {
	return c.Sent + c.Failed
}
