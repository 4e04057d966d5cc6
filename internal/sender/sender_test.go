package sender

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/altair-labs/salesagent/internal/broker"
	"github.com/altair-labs/salesagent/internal/bus"
)

type fakeQueue struct {
	published []amqp.Table
	bodies    [][]byte
	err       error
}

func (f *fakeQueue) Consume(ctx context.Context, queue string, handler func(amqp.Delivery)) error {
	return nil
}

func (f *fakeQueue) PublishRaw(ctx context.Context, queue string, body []byte, headers amqp.Table) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, headers)
	f.bodies = append(f.bodies, body)
	return nil
}

type fakeGateway struct {
	sendErr    error
	sent       []string
	replied    []string
	markedRead []string
}

func (f *fakeGateway) SendMessage(ctx context.Context, phone, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, phone)
	return nil
}

func (f *fakeGateway) ReplyToMessage(ctx context.Context, messageID, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.replied = append(f.replied, messageID)
	return nil
}

func (f *fakeGateway) MarkAsRead(ctx context.Context, messageID string) error {
	f.markedRead = append(f.markedRead, messageID)
	return nil
}

type fakeAcker struct {
	acked  bool
	nacked bool
}

func (f *fakeAcker) Ack(tag uint64, multiple bool) error           { f.acked = true; return nil }
func (f *fakeAcker) Nack(tag uint64, multiple, requeue bool) error { f.nacked = true; return nil }
func (f *fakeAcker) Reject(tag uint64, requeue bool) error         { f.nacked = true; return nil }

func delivery(t *testing.T, msg bus.OutboundMessage, headers amqp.Table) (amqp.Delivery, *fakeAcker) {
	t.Helper()
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	ack := &fakeAcker{}
	return amqp.Delivery{Acknowledger: ack, Body: body, Headers: headers}, ack
}

func TestDeliverPlainSend(t *testing.T) {
	q := &fakeQueue{}
	gw := &fakeGateway{}
	s := New(q, gw, "outgoing_messages", 6000, 3)

	d, ack := delivery(t, bus.OutboundMessage{PhoneNumber: "77011234567", MessageText: "привет"}, nil)
	s.handleDelivery(context.Background(), d)

	if len(gw.sent) != 1 || gw.sent[0] != "77011234567" {
		t.Errorf("sent = %v, want one plain send", gw.sent)
	}
	if len(gw.replied) != 0 {
		t.Errorf("replied = %v, want none", gw.replied)
	}
	if !ack.acked {
		t.Error("delivered message not acked")
	}
}

func TestDeliverPrefersReply(t *testing.T) {
	q := &fakeQueue{}
	gw := &fakeGateway{}
	s := New(q, gw, "outgoing_messages", 6000, 3)

	d, _ := delivery(t, bus.OutboundMessage{
		PhoneNumber: "77011234567", MessageText: "ответ", ReplyToMessageID: "m42", MarkAsRead: true,
	}, nil)
	s.handleDelivery(context.Background(), d)

	if len(gw.replied) != 1 || gw.replied[0] != "m42" {
		t.Errorf("replied = %v, want reply to m42", gw.replied)
	}
	if len(gw.sent) != 0 {
		t.Errorf("sent = %v, reply must not also plain-send", gw.sent)
	}
	if len(gw.markedRead) != 1 || gw.markedRead[0] != "m42" {
		t.Errorf("markedRead = %v, want m42 marked", gw.markedRead)
	}
}

func TestFailedDeliveryRequeuesWithRetryHeader(t *testing.T) {
	q := &fakeQueue{}
	gw := &fakeGateway{sendErr: errors.New("gateway 502")}
	s := New(q, gw, "outgoing_messages", 6000, 3)

	d, ack := delivery(t, bus.OutboundMessage{PhoneNumber: "77011234567", MessageText: "x"}, nil)
	s.handleDelivery(context.Background(), d)

	if len(q.published) != 1 {
		t.Fatalf("requeued %d times, want 1", len(q.published))
	}
	if got := q.published[0]["x-retry-count"]; got != int32(1) {
		t.Errorf("x-retry-count = %v (%T), want 1", got, got)
	}
	if !ack.acked {
		t.Error("original delivery must be acked after requeue")
	}
}

func TestRetryBudgetExhaustedDrops(t *testing.T) {
	q := &fakeQueue{}
	gw := &fakeGateway{sendErr: errors.New("gateway 502")}
	s := New(q, gw, "outgoing_messages", 6000, 3)

	d, ack := delivery(t, bus.OutboundMessage{PhoneNumber: "77011234567", MessageText: "x"},
		amqp.Table{"x-retry-count": int32(3)})
	s.handleDelivery(context.Background(), d)

	if len(q.published) != 0 {
		t.Errorf("requeued %d times past the budget, want 0", len(q.published))
	}
	if !ack.acked {
		t.Error("exhausted delivery must be acked (dropped)")
	}
}

func TestMalformedOutboundDropped(t *testing.T) {
	q := &fakeQueue{}
	gw := &fakeGateway{}
	s := New(q, gw, "outgoing_messages", 6000, 3)

	ack := &fakeAcker{}
	s.handleDelivery(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte("{{")})
	if !ack.acked {
		t.Error("malformed delivery must be acked (dropped)")
	}
	if len(gw.sent)+len(gw.replied) != 0 {
		t.Error("malformed delivery must not reach the gateway")
	}
}

func TestRetryCountRoundTrip(t *testing.T) {
	d := amqp.Delivery{Headers: amqp.Table{"x-retry-count": int32(2)}}
	if got := broker.RetryCount(d); got != 2 {
		t.Errorf("RetryCount = %d, want 2", got)
	}

	headers := broker.WithRetryCount(d, 3)
	if got := headers["x-retry-count"]; got != int32(3) {
		t.Errorf("WithRetryCount header = %v, want 3", got)
	}
}
