// Package broker wraps RabbitMQ publish/consume for the pipeline's named
// queues. A Client owns one connection and one channel; amqp handles are not
// safe to share across goroutines, so each worker creates its own Client.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrClosed is returned when the client has been closed by the caller.
var ErrClosed = errors.New("broker: client closed")

const (
	connectBackoffBase = time.Second
	redialDelay        = 5 * time.Second
	heartbeat          = 60 * time.Second
)

// Client manages a RabbitMQ connection and operations on its queues.
type Client struct {
	url     string
	queues  []string
	retries int

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

// New creates a lazy Client for the given queues; no connection is made
// until the first operation. retries bounds connection attempts.
func New(url string, retries int, queues ...string) *Client {
	if retries <= 0 {
		retries = 5
	}
	return &Client{url: url, queues: queues, retries: retries}
}

// Connect dials the broker with capped exponential backoff and declares
// the client's queues as durable.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Client) connectLocked() error {
	if c.closed {
		return ErrClosed
	}

	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(connectBackoffBase << (attempt - 1))
		}

		conn, err := amqp.DialConfig(c.url, amqp.Config{Heartbeat: heartbeat})
		if err != nil {
			lastErr = err
			slog.Warn("broker: connection attempt failed",
				"attempt", attempt+1, "max", c.retries, "error", err)
			continue
		}

		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			lastErr = err
			continue
		}

		declared := true
		for _, q := range c.queues {
			if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
				lastErr = fmt.Errorf("declare queue %s: %w", q, err)
				declared = false
				break
			}
		}
		if !declared {
			conn.Close()
			continue
		}

		c.conn = conn
		c.ch = ch
		slog.Info("broker: connected", "queues", c.queues)
		return nil
	}

	return fmt.Errorf("broker: connect after %d attempts: %w", c.retries, lastErr)
}

// ensureLocked reconnects if the connection was lost. Callers hold c.mu.
func (c *Client) ensureLocked() error {
	if c.closed {
		return ErrClosed
	}
	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}
	return c.connectLocked()
}

// Publish JSON-encodes v and publishes it persistently to queue,
// reconnecting first if the connection has gone away.
func (c *Client) Publish(ctx context.Context, queue string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message for %s: %w", queue, err)
	}
	return c.PublishRaw(ctx, queue, body, nil)
}

// PublishRaw publishes a pre-encoded body with optional headers.
// Used by the sender to requeue failed deliveries with a retry counter.
func (c *Client) PublishRaw(ctx context.Context, queue string, body []byte, headers amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureLocked(); err != nil {
		return err
	}

	err := c.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

// Consume delivers messages from queue to handler one at a time (prefetch 1,
// manual ack — the handler owns the ack/nack decision). The loop reconnects
// transparently on connection loss and returns only when ctx is cancelled or
// the client is closed.
func (c *Client) Consume(ctx context.Context, queue string, handler func(amqp.Delivery)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		deliveries, err := c.openConsumer(queue)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return err
			}
			slog.Warn("broker: consumer connect failed, retrying",
				"queue", queue, "delay", redialDelay, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(redialDelay):
			}
			continue
		}

		slog.Info("broker: consuming", "queue", queue)

	recv:
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case d, ok := <-deliveries:
				if !ok {
					// Channel closed under us — redial.
					slog.Warn("broker: queue connection lost, reconnecting",
						"queue", queue, "delay", redialDelay)
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(redialDelay):
					}
					break recv
				}
				handler(d)
			}
		}
	}
}

func (c *Client) openConsumer(queue string) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureLocked(); err != nil {
		return nil, err
	}
	if err := c.ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := c.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}
	return deliveries, nil
}

// QueueDepth returns the current message count of a queue (0 on error —
// used only by the stats surface).
func (c *Client) QueueDepth(queue string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureLocked(); err != nil {
		return 0
	}
	q, err := c.ch.QueueDeclarePassive(queue, true, false, false, false, nil)
	if err != nil {
		slog.Debug("broker: queue depth unavailable", "queue", queue, "error", err)
		// A failed passive declare closes the channel; drop it so the
		// next operation reconnects.
		c.conn.Close()
		return 0
	}
	return q.Messages
}

// Ping reports whether the connection is currently usable.
func (c *Client) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureLocked()
}

// Close shuts the connection down; the client cannot be reused.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			return err
		}
	}
	return nil
}

// RetryCount reads the x-retry-count header from a delivery.
func RetryCount(d amqp.Delivery) int {
	if d.Headers == nil {
		return 0
	}
	switch v := d.Headers["x-retry-count"].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// WithRetryCount returns a header table carrying an incremented retry counter.
func WithRetryCount(d amqp.Delivery, count int) amqp.Table {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers["x-retry-count"] = int32(count)
	return headers
}
