// Package queue moves job ids from the API to the worker over RabbitMQ.
// The queue is an optimization: when no broker is configured the worker
// claims pending rows straight from Postgres.
package queue

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"mediaforge/internal/infra"
)

// Options configures the dispatch queue connection.
type Options struct {
	URL       string
	QueueName string
	Logger    *infra.Logger
}

// Client wraps one AMQP connection and channel with a declared durable queue.
type Client struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
	logger    infra.Logger
}

// Dial connects to the broker and declares the dispatch queue.
func Dial(opts Options) (*Client, error) {
	conn, err := amqp.Dial(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("queue: dial broker: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue: open channel: %w", err)
	}
	if _, err := channel.QueueDeclare(opts.QueueName, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("queue: declare queue: %w", err)
	}
	client := &Client{
		conn:      conn,
		channel:   channel,
		queueName: opts.QueueName,
	}
	if opts.Logger != nil {
		client.logger = *opts.Logger
	}
	return client, nil
}

// Publish enqueues one job id for the worker.
func (c *Client) Publish(ctx context.Context, jobID string) error {
	err := c.channel.PublishWithContext(ctx, "", c.queueName, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		Body:         []byte(jobID),
	})
	if err != nil {
		return fmt.Errorf("queue: publish job: %w", err)
	}
	return nil
}

// Consume delivers job ids to handle until ctx is cancelled, running up to
// concurrency handlers in parallel. Handle errors nack without requeue; the
// job row already records the terminal failure and redelivery would only
// repeat it.
func (c *Client) Consume(ctx context.Context, concurrency int, handle func(ctx context.Context, jobID string) error) error {
	if concurrency < 1 {
		concurrency = 1
	}
	if err := c.channel.Qos(concurrency, 0, false); err != nil {
		return fmt.Errorf("queue: set qos: %w", err)
	}
	deliveries, err := c.channel.Consume(c.queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue: consume: %w", err)
	}

	slots := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("queue: delivery channel closed")
			}
			slots <- struct{}{}
			wg.Add(1)
			go func(delivery amqp.Delivery) {
				defer wg.Done()
				defer func() { <-slots }()
				jobID := string(delivery.Body)
				if err := handle(ctx, jobID); err != nil {
					c.logger.Error().Err(err).Str("job_id", jobID).Msg("queue: job handling failed")
					if nackErr := delivery.Nack(false, false); nackErr != nil {
						c.logger.Error().Err(nackErr).Str("job_id", jobID).Msg("queue: nack failed")
					}
					return
				}
				if ackErr := delivery.Ack(false); ackErr != nil {
					c.logger.Error().Err(ackErr).Str("job_id", jobID).Msg("queue: ack failed")
				}
			}(delivery)
		}
	}
}

// Close tears down the channel and connection.
func (c *Client) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
