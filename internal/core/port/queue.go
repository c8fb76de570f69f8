package port

import (
	"context"
	"time"
)

// Job is one durable work-queue entry. Key is a job-level deduplication key:
// publishing two jobs with the same key must not double the work (scheduled
// per-campaign jobs reuse a fixed key so re-scheduling replaces rather than
// duplicates).
type Job struct {
	Key     string
	Name    string
	Payload []byte
	Delay   time.Duration
}

// JobQueue is the durable work queue the orchestrator publishes batch jobs
// to. Retry with exponential backoff and bounded attempts is the consumer
// side's concern, not the publisher's.
type JobQueue interface {
	Enqueue(ctx context.Context, job Job) error
}
