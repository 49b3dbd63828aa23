package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogPublisher writes events to the application log.
type LogPublisher struct {
	log logrus.FieldLogger
}

func NewLogPublisher(log logrus.FieldLogger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, topic Topic, e Event) error {
	p.log.WithFields(logrus.Fields{
		"topic":     topic.String(),
		"event":     e.Type,
		"ride_id":   e.RideID,
		"tenant_id": e.TenantID,
		"status":    e.Status,
		"version":   e.Version,
	}).Info("ride event")
	return nil
}
