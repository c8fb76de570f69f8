package port

import (
	"context"
	"time"
)

// Reason codes reported to callers when an enqueue request is rejected by
// policy. Policy rejections are not errors: they carry no retry semantics
// and cause no side effects beyond what the code documents.
const (
	ReasonInvalidStatus        = "invalid_status"
	ReasonNoRecipients         = "no_recipients"
	ReasonInactiveSubscription = "inactive_subscription"
	ReasonInsufficientCredits  = "insufficient_credits"
	ReasonAlreadySending       = "already_sending"
)

// EnqueueResult reports the outcome of an enqueue request. OK is false when
// a policy rejection occurred, in which case Reason holds one of the reason
// codes above (invalid_status is suffixed with the offending state, e.g.
// "invalid_status:completed").
type EnqueueResult struct {
	OK           bool
	Reason       string
	Created      int
	EnqueuedJobs int
}

// CampaignEnqueuer turns a campaign record into queued per-recipient
// messages and batch jobs. This is the primary inbound port of the delivery
// pipeline.
type CampaignEnqueuer interface {
	// Enqueue validates campaign state, builds the audience, checks the
	// subscription and credit gates, persists one message row per recipient
	// and hands batches of message IDs to the work queue. An error is
	// returned only for infrastructure failures; policy rejections come back
	// in the result.
	Enqueue(ctx context.Context, campaignID int64) (EnqueueResult, error)

	// DispatchDue enqueues every scheduled campaign whose scheduled time has
	// passed. It returns the number of campaigns dispatched.
	DispatchDue(ctx context.Context, now time.Time) (int, error)
}

// BatchJob identifies one fixed-size group of message IDs processed in a
// single upstream RPC call. Key is the job-level idempotency key derived
// from (campaign, batch index, timestamp).
type BatchJob struct {
	Key        string  `json:"key"`
	TenantID   int64   `json:"tenantId"`
	CampaignID int64   `json:"campaignId"`
	MessageIDs []int64 `json:"messageIds"`
}

// BatchProcessor consumes batch jobs from the work queue. One invocation of
// ProcessBatch settles one batch; the queue retries the whole batch when the
// returned error is retryable.
type BatchProcessor interface {
	// ProcessBatch sends the batch upstream and settles each message. It
	// returns ErrRateLimited when a rate-limit window is saturated and the
	// raw error on a whole-RPC failure; both are retried by the work queue
	// with backoff. A nil return means every message reached a terminal
	// state (partial failure within the batch is normal, not an error).
	ProcessBatch(ctx context.Context, job BatchJob) error

	// AbortBatch marks every still-queued message of the batch failed with
	// the given reason. The consumer calls it after retry exhaustion.
	AbortBatch(ctx context.Context, job BatchJob, reason string) error
}

// StatusReconciler folds per-message outcomes back into campaign aggregates
// and applies asynchronous delivery reports.
type StatusReconciler interface {
	// Reconcile recomputes sent/failed/processed for the campaign and infers
	// its status. Idempotent and safe to run concurrently with workers still
	// writing message outcomes.
	Reconcile(ctx context.Context, campaignID int64) error

	// ApplyDeliveryReport settles the message identified by the gateway's
	// upstream ID and triggers a reconcile of its campaign. Reports for
	// unknown or already-settled messages are ignored.
	ApplyDeliveryReport(ctx context.Context, rep DeliveryReport) error
}

// DeliveryReport is an asynchronous status update from the upstream gateway
// for a previously submitted message.
type DeliveryReport struct {
	UpstreamID string
	Status     string
	Timestamp  time.Time
}
