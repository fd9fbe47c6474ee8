package events

import (
	"context"
	"errors"
)

// Batch holds the events of one transition until it commits.
type Batch struct {
	pub     Publisher
	pending []Event
}

func NewBatch(pub Publisher) *Batch {
	return &Batch{pub: pub}
}

// Add stashes an event until Flush.
func (b *Batch) Add(e Event) {
	b.pending = append(b.pending, e)
}

// Len returns the number of pending events.
func (b *Batch) Len() int {
	return len(b.pending)
}

// Flush publishes pending events in order. Called after the transition has committed, so the
// events are delivered even if ctx was cancelled in the meantime.
func (b *Batch) Flush(ctx context.Context) error {
	pending := b.pending
	b.pending = nil
	if b.pub == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for _, e := range pending {
		if err := b.pub.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops pending events after a rollback.
func (b *Batch) Discard() {
	b.pending = nil
}
