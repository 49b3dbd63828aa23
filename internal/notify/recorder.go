package notify

import (
	"context"
	"sync"
)

type Delivery struct {
	Topic Topic
	Event Event
}

// Recorder keeps every published event in memory.
type Recorder struct {
	mu         sync.Mutex
	deliveries []Delivery
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, topic Topic, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, Delivery{Topic: topic, Event: e})
	return nil
}

func (r *Recorder) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Delivery, len(r.deliveries))
	copy(out, r.deliveries)
	return out
}

// For returns the events delivered to topic, in publish order.
func (r *Recorder) For(topic Topic) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, d := range r.deliveries {
		if d.Topic == topic {
			out = append(out, d.Event)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = nil
}
