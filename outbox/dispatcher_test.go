package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeSource struct {
	rows []Message
	sent map[int64]bool
}

func (f *fakeSource) Drain(ctx context.Context, limit int, send func(Message) error) (int, error) {
	if f.sent == nil {
		f.sent = make(map[int64]bool)
	}
	sent := 0
	for _, m := range f.rows {
		if f.sent[m.ID] || sent == limit {
			continue
		}
		if err := send(m); err != nil {
			continue
		}
		f.sent[m.ID] = true
		sent++
	}
	return sent, nil
}

type fakePublisher struct {
	published []string
	failTopic string
}

func (f *fakePublisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	if topic == f.failTopic {
		return errors.New("broker unavailable")
	}
	f.published = append(f.published, topic)
	return nil
}

func TestDrainOnce(t *testing.T) {
	source := &fakeSource{rows: []Message{
		{ID: 1, Topic: "order.created", Payload: []byte(`{}`), CreatedAt: time.Now()},
		{ID: 2, Topic: "order.paid", Payload: []byte(`{}`), CreatedAt: time.Now()},
	}}
	pub := &fakePublisher{}
	d := NewDispatcher(source, pub, zap.NewNop())

	if err := d.drainOnce(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(pub.published) != 2 {
		t.Fatalf("expected 2 published, got %d", len(pub.published))
	}
	if !source.sent[1] || !source.sent[2] {
		t.Fatal("both rows must be retired")
	}
}

func TestDrainOnceLeavesFailedRowsForRetry(t *testing.T) {
	source := &fakeSource{rows: []Message{
		{ID: 1, Topic: "order.created", Payload: []byte(`{}`)},
		{ID: 2, Topic: "order.paid", Payload: []byte(`{}`)},
	}}
	pub := &fakePublisher{failTopic: "order.created"}
	d := NewDispatcher(source, pub, zap.NewNop())

	if err := d.drainOnce(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if source.sent[1] {
		t.Fatal("failed publish must leave the row unsent")
	}
	if !source.sent[2] {
		t.Fatal("a failure must not block the rest of the batch")
	}

	// Broker recovers; next tick delivers the leftover row.
	pub.failTopic = ""
	if err := d.drainOnce(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if !source.sent[1] {
		t.Fatal("recovered row must be delivered on the next tick")
	}
}
