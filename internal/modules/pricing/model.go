// README: Per-tenant price configuration and fare quote definitions.
package pricing

import (
	"errors"
	"fmt"
	"time"

	"rebeca/internal/types"
)

var (
	ErrConfigNotFound     = errors.New("price config not found")
	ErrConfigLookupFailed = errors.New("price config lookup failed")
	ErrValidation         = errors.New("invalid fare input")
)

// Config holds a tenant's tariff. Amounts are in cents.
type Config struct {
	TenantID          types.ID `json:"tenant_id"`
	BaseFare          int64    `json:"base_fare_cents"`
	PerKm             int64    `json:"per_km_cents"`
	PerMinute         int64    `json:"per_minute_cents"`
	MinimumFare       int64    `json:"minimum_fare_cents"`
	NightSurchargePct float64  `json:"night_surcharge_pct"`
	NightStartHour    int      `json:"night_start_hour"`
	NightEndHour      int      `json:"night_end_hour"`
	DriverSharePct    float64  `json:"driver_share_pct"`
	// Timezone is an IANA name; empty means the service default.
	Timezone string `json:"timezone,omitempty"`
}

// DefaultConfig is used whenever a tenant has no stored tariff.
func DefaultConfig(tenantID types.ID) Config {
	return Config{
		TenantID:          tenantID,
		BaseFare:          500,
		PerKm:             250,
		PerMinute:         50,
		MinimumFare:       800,
		NightSurchargePct: 20,
		NightStartHour:    22,
		NightEndHour:      6,
		DriverSharePct:    80,
	}
}

func (c Config) Validate() error {
	if c.BaseFare < 0 || c.PerKm < 0 || c.PerMinute < 0 || c.MinimumFare < 0 {
		return fmt.Errorf("%w: price config: amounts must be non-negative", ErrValidation)
	}
	if c.NightSurchargePct < 0 {
		return fmt.Errorf("%w: price config: night surcharge must be non-negative", ErrValidation)
	}
	if c.NightStartHour < 0 || c.NightStartHour > 23 || c.NightEndHour < 0 || c.NightEndHour > 23 {
		return fmt.Errorf("%w: price config: night window hours must be within 0-23", ErrValidation)
	}
	if c.DriverSharePct < 0 || c.DriverSharePct > 100 {
		return fmt.Errorf("%w: price config: driver share must be within 0-100", ErrValidation)
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("%w: price config: %v", ErrValidation, err)
		}
	}
	return nil
}

type Breakdown struct {
	Base           types.Money `json:"base"`
	Distance       types.Money `json:"distance"`
	Time           types.Money `json:"time"`
	NightSurcharge types.Money `json:"night_surcharge"`
	// MinimumAdjustment is what the floor added on top of the computed fare.
	MinimumAdjustment types.Money `json:"minimum_adjustment"`
}

// Quote is the fare result. Breakdown lines are rounded for display only;
// Total is rounded once from the unrounded sum.
type Quote struct {
	Total          types.Money `json:"total"`
	Breakdown      Breakdown   `json:"breakdown"`
	NightSurcharge bool        `json:"night_surcharge"`
	MinimumApplied bool        `json:"minimum_applied"`
	DefaultConfig  bool        `json:"default_config"`
	Config         Config      `json:"config"`
}
