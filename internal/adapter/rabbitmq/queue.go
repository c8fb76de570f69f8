// Package rabbitmq adapts the durable work queue onto RabbitMQ. Batch jobs
// live on a single durable queue; retries are parked on a companion TTL
// queue that dead-letters back onto the main one, which is how delayed jobs
// and exponential backoff are implemented broker-side.
package rabbitmq

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"savanna-sms/internal/core/port"
)

const retryCountHeader = "x-retry-count"

// Publisher implements port.JobQueue over an AMQP channel with publisher
// confirms, so a confirmed Enqueue means the broker has the job on disk.
// Confirmations carry only a delivery tag, so publish and wait are
// serialized under a mutex and each confirmation is matched against the tag
// of its publish; callers enqueue concurrently.
type Publisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	queue    string
	retryQ   string
	confirms <-chan amqp.Confirmation

	// tag is the delivery tag of the last publish on this channel.
	tag uint64
}

// NewPublisher opens a channel on the connection, declares the queue
// topology and enables publisher confirms.
func NewPublisher(conn *amqp.Connection, queue string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	retryQ, err := declareTopology(ch, queue)
	if err != nil {
		return nil, err
	}
	if err = ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	return &Publisher{
		ch:       ch,
		queue:    queue,
		retryQ:   retryQ,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
	}, nil
}

// Enqueue publishes the job as a persistent message. The job key travels as
// the AMQP message ID; jobs with a delay go through the retry queue and
// dead-letter onto the work queue once the delay expires.
func (p *Publisher) Enqueue(ctx context.Context, job port.Job) error {
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.Key,
		Type:         job.Name,
		Timestamp:    time.Now(),
		Body:         job.Payload,
	}
	target := p.queue
	if job.Delay > 0 {
		target = p.retryQ
		pub.Expiration = strconv.FormatInt(job.Delay.Milliseconds(), 10)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Publish("", target, false, false, pub); err != nil {
		return fmt.Errorf("publish job %s: %w", job.Key, err)
	}
	p.tag++
	if err := awaitConfirm(ctx, p.confirms, p.tag); err != nil {
		return fmt.Errorf("confirm job %s: %w", job.Key, err)
	}
	return nil
}

// awaitConfirm waits for the broker confirmation of the publish with the
// given delivery tag. Confirmations arrive in tag order on the channel, so
// anything below want is a leftover from a wait some earlier caller
// abandoned on context cancellation and is discarded.
func awaitConfirm(ctx context.Context, confirms <-chan amqp.Confirmation, want uint64) error {
	for {
		select {
		case confirm := <-confirms:
			if confirm.DeliveryTag < want {
				continue
			}
			if !confirm.Ack {
				return fmt.Errorf("broker nacked delivery %d", confirm.DeliveryTag)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close releases the channel.
func (p *Publisher) Close() error {
	return p.ch.Close()
}

// declareTopology declares the durable work queue and its retry companion.
// The retry queue has no consumers; expired messages dead-letter back onto
// the work queue through the default exchange.
func declareTopology(ch *amqp.Channel, queue string) (string, error) {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return "", fmt.Errorf("declare queue %s: %w", queue, err)
	}
	retryQ := queue + ".retry"
	_, err := ch.QueueDeclare(retryQ, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
	})
	if err != nil {
		return "", fmt.Errorf("declare queue %s: %w", retryQ, err)
	}
	return retryQ, nil
}
