package notify

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// Fanout delivers every event to all sinks, retrying each one independently.
// Delivery is at-least-once: a sink that failed mid-way may see a repeat.
type Fanout struct {
	sinks []Publisher
	retry *Retrier
	log   logrus.FieldLogger
}

func NewFanout(retry *Retrier, log logrus.FieldLogger, sinks ...Publisher) *Fanout {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Fanout{sinks: sinks, retry: retry, log: log}
}

func (f *Fanout) Publish(ctx context.Context, topic Topic, e Event) error {
	var errs []error
	for _, sink := range f.sinks {
		send := func(ctx context.Context) error { return sink.Publish(ctx, topic, e) }
		var err error
		if f.retry != nil {
			err = f.retry.Execute(ctx, send)
		} else {
			err = send(ctx)
		}
		if err != nil {
			f.log.WithError(err).WithFields(logrus.Fields{"topic": topic.String(), "event": e.Type, "ride_id": e.RideID}).Error("event delivery failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
