// README: Ride aggregate, status flow and audit event definitions.
package ride

import (
	"time"

	"rebeca/internal/types"
)

type Status string

const (
	StatusNone      Status = "none"
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusStarted   Status = "started"
	StatusFinished  Status = "finished"
	StatusCancelled Status = "cancelled"
	StatusUnmatched Status = "unmatched"
)

type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentPix  PaymentMethod = "pix"
	PaymentCard PaymentMethod = "card"
)

func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentCash, PaymentPix, PaymentCard:
		return true
	}
	return false
}

type ActorType string

const (
	ActorClient ActorType = "client"
	ActorDriver ActorType = "driver"
	ActorAdmin  ActorType = "admin"
	ActorSystem ActorType = "system"
)

type Actor struct {
	Type ActorType `json:"type"`
	ID   types.ID  `json:"id,omitempty"`
}

type Place struct {
	Address string      `json:"address"`
	Point   types.Point `json:"point"`
}

type Ride struct {
	ID               types.ID      `json:"id"`
	TenantID         types.ID      `json:"tenant_id"`
	ClientID         types.ID      `json:"client_id"`
	DriverID         *types.ID     `json:"driver_id,omitempty"`
	Status           Status        `json:"status"`
	StatusVersion    int           `json:"status_version"`
	Origin           Place         `json:"origin"`
	Destination      Place         `json:"destination"`
	DistanceKm       float64       `json:"distance_km"`
	DurationMin      float64       `json:"duration_min"`
	FareTotal        types.Money   `json:"fare_total"`
	FareDriver       types.Money   `json:"fare_driver"`
	FareTenant       types.Money   `json:"fare_tenant"`
	PaymentMethod    PaymentMethod `json:"payment_method"`
	ConfirmationCode string        `json:"confirmation_code"`
	CancelReason     *string       `json:"cancel_reason,omitempty"`
	CancelledBy      *Actor        `json:"cancelled_by,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	AcceptedAt       *time.Time    `json:"accepted_at,omitempty"`
	StartedAt        *time.Time    `json:"started_at,omitempty"`
	FinishedAt       *time.Time    `json:"finished_at,omitempty"`
	CancelledAt      *time.Time    `json:"cancelled_at,omitempty"`
}

func (r *Ride) AssignedTo(driverID types.ID) bool {
	return r.DriverID != nil && *r.DriverID == driverID
}

func (r *Ride) Clone() *Ride {
	c := *r
	if r.DriverID != nil {
		d := *r.DriverID
		c.DriverID = &d
	}
	if r.CancelReason != nil {
		s := *r.CancelReason
		c.CancelReason = &s
	}
	if r.CancelledBy != nil {
		a := *r.CancelledBy
		c.CancelledBy = &a
	}
	c.AcceptedAt = cloneTime(r.AcceptedAt)
	c.StartedAt = cloneTime(r.StartedAt)
	c.FinishedAt = cloneTime(r.FinishedAt)
	c.CancelledAt = cloneTime(r.CancelledAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Event is one row of the ride audit trail.
type Event struct {
	ID         int64
	RideID     types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  ActorType
	ActorID    *types.ID
	Version    int
	CreatedAt  time.Time
}

// AllowedTransitions represents the ride state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusUnmatched, StatusCancelled},
	StatusAccepted: {StatusStarted, StatusCancelled},
	StatusStarted:  {StatusFinished, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusCancelled || s == StatusUnmatched
}

// Overview is the tenant dashboard summary.
type Overview struct {
	ActiveDrivers int            `json:"active_drivers"`
	OnlineDrivers int            `json:"online_drivers"`
	RidesTotal    int            `json:"rides_total"`
	RidesToday    int            `json:"rides_today"`
	ByStatus      map[Status]int `json:"by_status"`
}

// PlatformOverview counts across every tenant. A tenant is counted once it
// has a driver, a price config or a ride.
type PlatformOverview struct {
	Tenants       int `json:"tenants"`
	Drivers       int `json:"drivers"`
	ActiveDrivers int `json:"active_drivers"`
	RidesTotal    int `json:"rides_total"`
	RidesToday    int `json:"rides_today"`
}
