package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a writer that hashes message keys to partitions, so events for one bet
// land on one partition in order.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
	}
}

// KafkaPublisher writes event envelopes to a Kafka topic keyed by Event.Key.
type KafkaPublisher struct {
	writer MessageWriter
	log    *zap.Logger
	now    func() time.Time
}

func NewKafkaPublisher(w MessageWriter, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, log: log.Named("kafka"), now: time.Now}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	at := p.now()
	value, err := Encode(event, at)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.Type(), err)
	}
	msg := kafka.Message{
		Key:   []byte(event.Key()),
		Value: value,
		Time:  at,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type())},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("failed to publish event", zap.String("type", string(event.Type())), zap.Error(err))
		return fmt.Errorf("kafka publish %s: %w", event.Type(), err)
	}
	p.log.Debug("published event", zap.String("type", string(event.Type())), zap.String("key", event.Key()))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
