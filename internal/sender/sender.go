// Package sender runs the outbound side of the pipeline: it drains the
// outgoing queue through the WhatsApp gateway under a global rate limit.
package sender

import (
	"context"
	"encoding/json"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/time/rate"

	"github.com/altair-labs/salesagent/internal/broker"
	"github.com/altair-labs/salesagent/internal/bus"
	"github.com/altair-labs/salesagent/internal/gateway"
)

// Queue is the slice of the broker client the sender needs.
type Queue interface {
	Consume(ctx context.Context, queue string, handler func(amqp.Delivery)) error
	PublishRaw(ctx context.Context, queue string, body []byte, headers amqp.Table) error
}

// Sender consumes outbound messages and delivers them through the gateway.
type Sender struct {
	broker     Queue
	gateway    gateway.Sender
	queue      string
	limiter    *rate.Limiter
	maxRetries int
}

// New wires an outbound sender. messagesPerMinute caps gateway throughput
// across all contacts; maxRetries bounds requeues per message.
func New(b Queue, gw gateway.Sender, queue string, messagesPerMinute, maxRetries int) *Sender {
	if messagesPerMinute <= 0 {
		messagesPerMinute = 20
	}
	return &Sender{
		broker:     b,
		gateway:    gw,
		queue:      queue,
		limiter:    rate.NewLimiter(rate.Limit(float64(messagesPerMinute)/60.0), 1),
		maxRetries: maxRetries,
	}
}

// Run consumes the outgoing queue until ctx is canceled.
func (s *Sender) Run(ctx context.Context) error {
	return s.broker.Consume(ctx, s.queue, func(d amqp.Delivery) {
		s.handleDelivery(ctx, d)
	})
}

func (s *Sender) handleDelivery(ctx context.Context, d amqp.Delivery) {
	var msg bus.OutboundMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		slog.Error("send: malformed outbound message dropped", "error", err)
		_ = d.Ack(false)
		return
	}
	if msg.PhoneNumber == "" || msg.MessageText == "" {
		slog.Error("send: outbound message missing phone or text, dropped", "phone", msg.PhoneNumber)
		_ = d.Ack(false)
		return
	}

	if err := s.limiter.Wait(ctx); err != nil {
		// Shutting down: leave the delivery unacked for redelivery.
		_ = d.Nack(false, true)
		return
	}

	if err := s.deliver(ctx, msg); err != nil {
		s.retry(ctx, d, msg, err)
		return
	}

	if msg.MarkAsRead && msg.ReplyToMessageID != "" {
		if err := s.gateway.MarkAsRead(ctx, msg.ReplyToMessageID); err != nil {
			slog.Warn("send: mark as read failed", "phone", msg.PhoneNumber, "error", err)
		}
	}

	slog.Info("send: message delivered", "phone", msg.PhoneNumber, "reply", msg.ReplyToMessageID != "")
	_ = d.Ack(false)
}

func (s *Sender) deliver(ctx context.Context, msg bus.OutboundMessage) error {
	if msg.ReplyToMessageID != "" {
		return s.gateway.ReplyToMessage(ctx, msg.ReplyToMessageID, msg.MessageText)
	}
	return s.gateway.SendMessage(ctx, msg.PhoneNumber, msg.MessageText)
}

// retry republishes a failed delivery with a bumped x-retry-count header,
// dropping it once the retry budget is spent.
func (s *Sender) retry(ctx context.Context, d amqp.Delivery, msg bus.OutboundMessage, cause error) {
	attempts := broker.RetryCount(d)
	if attempts >= s.maxRetries {
		slog.Error("send: message dropped after max retries",
			"phone", msg.PhoneNumber, "attempts", attempts, "error", cause)
		_ = d.Ack(false)
		return
	}

	headers := broker.WithRetryCount(d, attempts+1)
	if err := s.broker.PublishRaw(ctx, s.queue, d.Body, headers); err != nil {
		slog.Error("send: requeue failed, redelivering", "phone", msg.PhoneNumber, "error", err)
		_ = d.Nack(false, true)
		return
	}

	slog.Warn("send: delivery failed, requeued", "phone", msg.PhoneNumber,
		"attempt", attempts+1, "error", cause)
	_ = d.Ack(false)
}
