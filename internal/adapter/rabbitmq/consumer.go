package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"savanna-sms/internal/core/domain"
	"savanna-sms/internal/core/port"
)

// Consumer pulls batch jobs off the work queue and feeds them to a
// BatchProcessor. A retryable processing error re-publishes the job to the
// retry queue with an exponentially growing TTL; after MaxAttempts the
// batch is aborted and its remaining messages settle as failed.
type Consumer struct {
	conn      *amqp.Connection
	queue     string
	prefetch  int
	maxTries  int
	backoff   time.Duration
	processor port.BatchProcessor
	logger    *slog.Logger
}

// NewConsumer creates a consumer. prefetch bounds in-flight batches per
// worker process; maxAttempts includes the first attempt.
func NewConsumer(conn *amqp.Connection, queue string, prefetch, maxAttempts int, backoffBase time.Duration, processor port.BatchProcessor, logger *slog.Logger) *Consumer {
	return &Consumer{
		conn:      conn,
		queue:     queue,
		prefetch:  prefetch,
		maxTries:  maxAttempts,
		backoff:   backoffBase,
		processor: processor,
		logger:    logger,
	}
}

// Run consumes until the context is cancelled or the channel closes.
// Deliveries are handled in parallel up to the prefetch window, which is
// the worker's concurrency limit.
func (c *Consumer) Run(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if _, err = declareTopology(ch, c.queue); err != nil {
		return err
	}
	if err = ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	c.logger.Info("worker consuming", slog.String("queue", c.queue), slog.Int("prefetch", c.prefetch))
	return c.dispatch(ctx, ch, deliveries)
}

// dispatch fans deliveries out to handler goroutines, bounded by a
// semaphore sized to the prefetch window, and drains in-flight batches
// before returning. Ack and Publish on an amqp channel are safe to call
// from concurrent goroutines.
func (c *Consumer) dispatch(ctx context.Context, ch *amqp.Channel, deliveries <-chan amqp.Delivery) error {
	slots := c.prefetch
	if slots <= 0 {
		slots = 1
	}
	sem := make(chan struct{}, slots)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			sem <- struct{}{}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				c.handle(ctx, ch, d)
			}()
		}
	}
}

func (c *Consumer) handle(ctx context.Context, ch *amqp.Channel, d amqp.Delivery) {
	var job port.BatchJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		c.logger.Error("dropping malformed batch job", slog.Any("error", err))
		_ = d.Ack(false)
		return
	}

	log := c.logger.With(slog.String("job", job.Key), slog.Int64("campaign", job.CampaignID))

	err := c.processor.ProcessBatch(ctx, job)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	attempt := retryCount(d.Headers) + 1
	if attempt >= c.maxTries {
		log.Error("batch retries exhausted", slog.Int("attempts", attempt), slog.Any("error", err))
		if abortErr := c.processor.AbortBatch(ctx, job, domain.FailReasonRetriesExhausted); abortErr != nil {
			log.Error("abort batch failed", slog.Any("error", abortErr))
		}
		_ = d.Ack(false)
		return
	}

	delay := c.backoff << (attempt - 1)
	if errors.Is(err, port.ErrRateLimited) {
		log.Info("batch rate limited, retrying", slog.Int("attempt", attempt), slog.Duration("delay", delay))
	} else {
		log.Warn("batch attempt failed, retrying", slog.Int("attempt", attempt), slog.Duration("delay", delay), slog.Any("error", err))
	}

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[retryCountHeader] = int32(attempt)

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Type:         d.Type,
		Timestamp:    time.Now(),
		Headers:      headers,
		Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
		Body:         d.Body,
	}
	if pubErr := ch.Publish("", c.queue+".retry", false, false, pub); pubErr != nil {
		// could not park the retry; requeue the original so the job is not lost
		log.Error("publish to retry queue failed, requeueing", slog.Any("error", pubErr))
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

func retryCount(headers amqp.Table) int {
	v, ok := headers[retryCountHeader]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
