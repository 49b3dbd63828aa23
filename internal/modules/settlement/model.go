// README: Ledger entries recorded when a ride is finished.
package settlement

import (
	"errors"
	"time"

	"rebeca/internal/types"
)

const (
	TypeRideEarning = "ride_earning"
	StatusSettled   = "settled"
)

var ErrAlreadySettled = errors.New("ride already settled")

type Transaction struct {
	ID        types.ID    `json:"id"`
	TenantID  types.ID    `json:"tenant_id"`
	DriverID  types.ID    `json:"driver_id"`
	RideID    types.ID    `json:"ride_id"`
	Type      string      `json:"type"`
	Amount    types.Money `json:"amount"`
	Status    string      `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// Earning is the finished ride data the ledger needs.
type Earning struct {
	TenantID types.ID
	RideID   types.ID
	DriverID types.ID
	Amount   types.Money
}
