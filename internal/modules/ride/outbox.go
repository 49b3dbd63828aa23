// README: Ride event outbox; deliveries are written with the transition and relayed in commit order.
package ride

import (
	"context"
	"errors"
	"time"

	"rebeca/internal/notify"
	"rebeca/internal/types"
)

const relayBatch = 100

// Message is one pending delivery of a ride event to one topic. It is
// written in the transaction that commits the transition, so the outbox
// order of one ride's messages is its commit order.
type Message struct {
	Seq       int64
	RideID    types.ID
	Topic     notify.Topic
	Event     notify.Event
	CreatedAt time.Time
}

// messages addresses e to the tenant, the client and the assigned driver.
func (s *Service) messages(e notify.Event, r *Ride) []*Message {
	topics := []notify.Topic{
		notify.TenantTopic(r.TenantID),
		notify.ClientTopic(r.TenantID, r.ClientID),
	}
	if r.DriverID != nil {
		topics = append(topics, notify.DriverTopic(r.TenantID, *r.DriverID))
	}
	out := make([]*Message, 0, len(topics))
	for _, t := range topics {
		out = append(out, &Message{RideID: r.ID, Topic: t, Event: e, CreatedAt: e.OccurredAt})
	}
	return out
}

// enqueue queues the event of a transition inside its transaction.
func (s *Service) enqueue(ctx context.Context, tx Tx, typ string, r *Ride, prev Status, payload map[string]any) error {
	return tx.Enqueue(ctx, s.messages(s.event(typ, r, prev, payload), r)...)
}

// kick wakes the relay without blocking.
func (s *Service) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// DeliverEvents publishes queued ride events in commit order until the
// outbox is empty and returns how many were handed to the publisher.
// Publish failures are logged and the message is dropped.
func (s *Service) DeliverEvents(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := s.store.DrainOutbox(ctx, relayBatch, func(ctx context.Context, m *Message) {
			s.send(ctx, m.Topic, m.Event)
		})
		total += n
		if err != nil || n < relayBatch {
			return total, err
		}
	}
}

// RunEventRelay delivers queued events after every commit and at least
// once per interval until ctx is done.
func (s *Service) RunEventRelay(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.DeliverEvents(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.WithError(err).Error("deliver ride events")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.wake:
		}
	}
}
