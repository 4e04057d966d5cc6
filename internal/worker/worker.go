// Package worker runs the ingestion side of the pipeline: it consumes the
// incoming queue into the debounce buffer and turns flushed buffers into
// merged conversation turns for the router.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/altair-labs/salesagent/internal/buffer"
	"github.com/altair-labs/salesagent/internal/bus"
	"github.com/altair-labs/salesagent/internal/store"
)

// Consumer is the slice of the broker client the worker needs.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler func(amqp.Delivery)) error
}

// TurnHandler receives merged conversation turns. Implemented by agent.Router.
type TurnHandler interface {
	HandleTurn(ctx context.Context, contact *store.Contact, turn *store.Message)
}

// Worker consumes inbound gateway events and feeds merged turns to the router.
type Worker struct {
	broker   Consumer
	buf      *buffer.Buffer
	contacts store.ContactStore
	messages store.MessageStore
	router   TurnHandler
	queue    string
}

func New(b Consumer, buf *buffer.Buffer, stores *store.Stores, router TurnHandler, queue string) *Worker {
	return &Worker{
		broker:   b,
		buf:      buf,
		contacts: stores.Contacts,
		messages: stores.Messages,
		router:   router,
		queue:    queue,
	}
}

// Run consumes the incoming queue until ctx is canceled. Flush handling
// runs on its own goroutine so a slow AI round-trip never blocks intake.
func (w *Worker) Run(ctx context.Context) error {
	go w.flushLoop(ctx)
	return w.broker.Consume(ctx, w.queue, w.handleDelivery)
}

// handleDelivery buffers one gateway event. The delivery is acknowledged as
// soon as the event is buffered; from then on the buffer owns it.
func (w *Worker) handleDelivery(d amqp.Delivery) {
	var ev bus.InboundEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		slog.Error("ingest: malformed event dropped", "error", err)
		_ = d.Ack(false)
		return
	}
	if !ev.Valid() {
		slog.Error("ingest: event missing phone or message id, dropped",
			"phone", ev.PhoneNumber, "message_id", ev.MessageID)
		_ = d.Ack(false)
		return
	}

	w.buf.Add(ev.PhoneNumber, ev)
	if err := d.Ack(false); err != nil {
		slog.Error("ingest: ack failed", "phone", ev.PhoneNumber, "error", err)
	}
	slog.Debug("ingest: event buffered", "phone", ev.PhoneNumber, "buffered", w.buf.Len(ev.PhoneNumber))
}

func (w *Worker) flushLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case key := <-w.buf.Ready():
			w.Flush(ctx, key)
		}
	}
}

// Flush drains one sender's buffer and routes the merged turn. The buffer
// is cleared up front so a downstream failure never replays old events.
func (w *Worker) Flush(ctx context.Context, key string) {
	events := w.buf.Drain(key)
	if len(events) == 0 {
		return
	}

	latest := events[len(events)-1]
	contact, err := w.contacts.GetOrCreate(ctx, key, store.ContactProfile{
		Name:         latest.ContactInfo.FirstName,
		FullName:     latest.ContactInfo.FullName,
		BusinessName: latest.ContactInfo.BusinessName,
	})
	if err != nil {
		slog.Error("ingest: get or create contact failed", "phone", key, "error", err)
		return
	}

	// Persist in arrival order; duplicates by external message id are
	// skipped and contribute nothing to the merged turn.
	base := time.Now()
	var (
		texts []string
		turn  *store.Message
	)
	for i, ev := range events {
		m := &store.Message{
			ContactID:   contact.ID,
			PhoneNumber: ev.PhoneNumber,
			MessageID:   ev.MessageID,
			Text:        ev.MessageText,
			IsVoice:     ev.IsVoice,
			Timestamp:   base.Add(time.Duration(i) * time.Millisecond),
		}
		if ev.IsVoice {
			m.VoiceTranscription = ev.MessageText
		}
		inserted, err := w.messages.InsertInbound(ctx, m)
		if err != nil {
			slog.Error("ingest: persist message failed", "phone", key, "message_id", ev.MessageID, "error", err)
			continue
		}
		if !inserted {
			slog.Debug("ingest: duplicate message skipped", "phone", key, "message_id", ev.MessageID)
			continue
		}
		texts = append(texts, ev.MessageText)
		turn = m
	}
	if turn == nil {
		slog.Info("ingest: flush had no new messages", "phone", key)
		return
	}

	// The newest surviving row is the turn identity; its text is the
	// newline-joined batch so the router sees one coherent message.
	turn.Text = strings.Join(texts, "\n")
	slog.Info("ingest: flushing merged turn", "phone", key, "messages", len(texts))
	w.router.HandleTurn(ctx, contact, turn)
}
