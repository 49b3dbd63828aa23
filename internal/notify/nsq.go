package notify

import (
	"context"
	"encoding/json"
	"fmt"
)

// NSQProducer is the part of *nsq.Producer used here.
type NSQProducer interface {
	Publish(topic string, body []byte) error
}

// NSQPublisher writes every event to one nsqd topic; the audience travels in
// the envelope since NSQ topic names cannot carry tenant ids freely.
type NSQPublisher struct {
	producer NSQProducer
	topic    string
}

func NewNSQPublisher(producer NSQProducer, topic string) *NSQPublisher {
	return &NSQPublisher{producer: producer, topic: topic}
}

func (p *NSQPublisher) Publish(ctx context.Context, topic Topic, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(Envelope{Topic: topic.String(), Event: e})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.producer.Publish(p.topic, body); err != nil {
		return fmt.Errorf("nsq publish %s: %w", p.topic, err)
	}
	return nil
}
