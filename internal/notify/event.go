// Package notify publishes ride lifecycle events to tenants, drivers and clients.
package notify

import (
	"context"
	"fmt"
	"time"

	"rebeca/internal/types"
)

type Scope string

const (
	ScopeTenant Scope = "tenant"
	ScopeDriver Scope = "driver"
	ScopeClient Scope = "client"
)

// Topic addresses one audience. ID is empty for tenant topics.
type Topic struct {
	Scope    Scope    `json:"scope"`
	TenantID types.ID `json:"tenant_id"`
	ID       types.ID `json:"id,omitempty"`
}

func TenantTopic(tenantID types.ID) Topic {
	return Topic{Scope: ScopeTenant, TenantID: tenantID}
}

func DriverTopic(tenantID, driverID types.ID) Topic {
	return Topic{Scope: ScopeDriver, TenantID: tenantID, ID: driverID}
}

func ClientTopic(tenantID, clientID types.ID) Topic {
	return Topic{Scope: ScopeClient, TenantID: tenantID, ID: clientID}
}

func (t Topic) String() string {
	if t.Scope == ScopeTenant {
		return fmt.Sprintf("tenant:%s", t.TenantID)
	}
	return fmt.Sprintf("%s:%s:%s", t.Scope, t.TenantID, t.ID)
}

const (
	EventRideRequested = "ride.requested"
	EventRideOffered   = "ride.offered"
	EventRideAccepted  = "ride.accepted"
	EventRideStarted   = "ride.started"
	EventRideFinished  = "ride.finished"
	EventRideCancelled = "ride.cancelled"
	EventRideUnmatched = "ride.unmatched"
)

// Event is a committed ride transition. Version increases with every
// transition of the same ride, so consumers can order or drop stale events.
type Event struct {
	Type           string         `json:"type"`
	RideID         types.ID       `json:"ride_id"`
	TenantID       types.ID       `json:"tenant_id"`
	Status         string         `json:"status"`
	PreviousStatus string         `json:"previous_status,omitempty"`
	Version        int            `json:"version"`
	DriverID       types.ID       `json:"driver_id,omitempty"`
	ClientID       types.ID       `json:"client_id,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, topic Topic, e Event) error
}

// Envelope is the wire form for sinks that carry the topic in the body.
type Envelope struct {
	Topic string `json:"topic"`
	Event Event  `json:"event"`
}
