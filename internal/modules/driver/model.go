// README: Driver aggregate and availability status definitions.
package driver

import (
	"errors"
	"time"

	"rebeca/internal/types"
)

type Status string

const (
	StatusOffline Status = "offline"
	StatusOnline  Status = "online"
	StatusInRide  Status = "in_ride"
)

var (
	ErrNotFound   = errors.New("driver not found")
	ErrBusy       = errors.New("driver is in a ride")
	ErrInactive   = errors.New("driver is inactive")
	ErrBadRequest = errors.New("bad request")
)

type Driver struct {
	ID                types.ID     `json:"id"`
	TenantID          types.ID     `json:"tenant_id"`
	Name              string       `json:"name"`
	Phone             string       `json:"phone,omitempty"`
	Status            Status       `json:"status"`
	Location          *types.Point `json:"location,omitempty"`
	LocationUpdatedAt *time.Time   `json:"location_updated_at,omitempty"`
	RideCount         int          `json:"ride_count"`
	TotalEarnings     int64        `json:"total_earnings_cents"`
	Rating            float64      `json:"rating"`
	Active            bool         `json:"active"`
	CreatedAt         time.Time    `json:"created_at"`
}

// Available reports whether the driver can be offered a ride.
func (d Driver) Available() bool {
	return d.Active && d.Status == StatusOnline && d.Location != nil
}
