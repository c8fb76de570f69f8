package domain

import "time"

// CampaignStatus enumerates the campaign lifecycle. Transitions only move
// forward, except the rollback to draft when enqueueing fails before any
// message row was persisted.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusSending   CampaignStatus = "sending"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
)

// Campaign represents a bulk text-message campaign owned by a single tenant.
// Counters are maintained from durable message rows; Processed is always
// Sent + Failed and never exceeds Total.
type Campaign struct {
	ID       int64
	TenantID int64
	Name     string

	// Template is the message text with {placeholder} markers.
	Template string

	// Audience is either a pair of demographic filters or a reference to a
	// legacy static contact list.
	Audience AudienceFilter

	Status CampaignStatus

	Total  int
	Sent   int
	Failed int

	ScheduledAt *time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Processed returns the number of messages settled to a terminal state.
func (c *Campaign) Processed() int {
	return c.Sent + c.Failed
}

// CanEnqueue reports whether the campaign is in a state from which a send
// may be started.
func (c *Campaign) CanEnqueue() bool {
	switch c.Status {
	case CampaignStatusDraft, CampaignStatusScheduled, CampaignStatusPaused:
		return true
	default:
		return false
	}
}
