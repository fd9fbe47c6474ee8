package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Publisher delivers committed events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Envelope is the wire form of an event.
type Envelope struct {
	Type       Type      `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    Event     `json:"payload"`
}

// Encode wraps event in an Envelope and marshals it as JSON.
func Encode(event Event, at time.Time) ([]byte, error) {
	return json.Marshal(Envelope{
		Type:       event.Type(),
		Key:        event.Key(),
		OccurredAt: at.UTC(),
		Payload:    event,
	})
}

// Fanout publishes to every sink and joins their errors. A failing sink does not stop the others.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPublisher writes every event to a zap logger.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log.Named("events")}
}

func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	p.log.Info("event",
		zap.String("type", string(event.Type())),
		zap.String("key", event.Key()),
		zap.Any("payload", event),
	)
	return nil
}
