package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"firebase.google.com/go/v4/messaging"
)

// FCMSender is the part of *messaging.Client used here.
type FCMSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMPublisher pushes driver and client events to device topics. Apps
// subscribe a device to the topic named by DeviceTopic. Tenant events are
// not pushed.
type FCMPublisher struct {
	client FCMSender
}

func NewFCMPublisher(client FCMSender) *FCMPublisher {
	return &FCMPublisher{client: client}
}

// DeviceTopic maps a topic to an FCM topic name such as "driver.t1.d42".
func DeviceTopic(topic Topic) string {
	r := strings.NewReplacer(":", "-", " ", "-")
	return fmt.Sprintf("%s.%s.%s", topic.Scope, r.Replace(string(topic.TenantID)), r.Replace(string(topic.ID)))
}

func (p *FCMPublisher) Publish(ctx context.Context, topic Topic, e Event) error {
	if topic.Scope == ScopeTenant {
		return nil
	}
	data := map[string]string{
		"type":        e.Type,
		"ride_id":     string(e.RideID),
		"tenant_id":   string(e.TenantID),
		"status":      e.Status,
		"version":     strconv.Itoa(e.Version),
		"occurred_at": e.OccurredAt.UTC().Format(time.RFC3339),
	}
	if e.DriverID != "" {
		data["driver_id"] = string(e.DriverID)
	}
	if code, ok := e.Payload["confirmation_code"].(string); ok && topic.Scope == ScopeClient {
		data["confirmation_code"] = code
	}
	msg := &messaging.Message{
		Topic: DeviceTopic(topic),
		Data:  data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
	if _, err := p.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("fcm send %s: %w", msg.Topic, err)
	}
	return nil
}
