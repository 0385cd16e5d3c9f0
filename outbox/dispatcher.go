// Package outbox delivers the transactional outbox to Kafka. State changes
// enqueue rows inside their own transaction; the dispatcher polls and
// publishes them, giving downstream consumers at-least-once delivery without
// dual writes.
package outbox

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Source drains unsent messages through the send callback, retiring only the
// ones the callback delivered. The repository implementation holds its row
// locks across the whole call.
type Source interface {
	Drain(ctx context.Context, limit int, send func(Message) error) (int, error)
}

// Publisher sends one message to the broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// KafkaPublisher adapts a kafka-go writer. The writer carries no fixed topic;
// each message names its own.
type KafkaPublisher struct {
	w *kafka.Writer
}

func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
		Time:  time.Now(),
	})
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

// Dispatcher polls the outbox and publishes unsent rows in order.
type Dispatcher struct {
	source    Source
	publisher Publisher
	logger    *zap.Logger

	interval  time.Duration
	batchSize int
}

func NewDispatcher(source Source, publisher Publisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		source:    source,
		publisher: publisher,
		logger:    logger,
		interval:  3 * time.Second,
		batchSize: 100,
	}
}

// Run polls until the context is cancelled. A failed publish leaves the row
// unsent; the next tick retries it, so consumers must tolerate duplicates.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.drainOnce(ctx); err != nil {
				d.logger.Error("outbox drain failed", zap.Error(err))
			}
		}
	}
}

func (d *Dispatcher) drainOnce(ctx context.Context) error {
	sent, err := d.source.Drain(ctx, d.batchSize, func(msg Message) error {
		if err := d.publisher.Publish(ctx, msg.Topic, []byte(msg.Topic), msg.Payload); err != nil {
			d.logger.Error("publish failed, will retry",
				zap.Int64("outbox_id", msg.ID), zap.String("topic", msg.Topic), zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	if sent > 0 {
		d.logger.Info("outbox drained", zap.Int("sent", sent))
	}
	return nil
}
