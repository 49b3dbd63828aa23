// README: Pricing service computes fares and the driver/tenant split.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"rebeca/internal/types"
)

// Upper bounds on a single ride.
const (
	MaxDistanceKm  = 20000.0
	MaxDurationMin = 7 * 24 * 60.0
)

type ConfigSource interface {
	GetConfig(ctx context.Context, tenantID types.ID) (Config, error)
}

type Service struct {
	store    ConfigSource
	loc      *time.Location
	currency string
	log      logrus.FieldLogger
}

// NewService returns a pricing service. A nil store always prices with
// DefaultConfig; a nil loc means UTC.
func NewService(store ConfigSource, loc *time.Location, currency string, log logrus.FieldLogger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if currency == "" {
		currency = types.DefaultCurrency
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{store: store, loc: loc, currency: currency, log: log.WithField("module", "pricing")}
}

// ResolveConfig returns the tenant's tariff, or DefaultConfig with usedDefault
// set when none is stored or the lookup failed. Lookup failures are logged.
func (s *Service) ResolveConfig(ctx context.Context, tenantID types.ID) (cfg Config, usedDefault bool) {
	if s.store == nil {
		return DefaultConfig(tenantID), true
	}
	cfg, err := s.store.GetConfig(ctx, tenantID)
	switch {
	case err == nil:
		return cfg, false
	case errors.Is(err, ErrConfigNotFound):
		s.log.WithField("tenant_id", tenantID).Debug("no price config, using defaults")
	default:
		s.log.WithError(err).WithField("tenant_id", tenantID).Warn("price config lookup failed, using defaults")
	}
	return DefaultConfig(tenantID), true
}

func (s *Service) ComputeFare(ctx context.Context, tenantID types.ID, distanceKm, durationMin float64, at time.Time) (Quote, error) {
	if err := validateInput(tenantID, distanceKm, durationMin, at); err != nil {
		return Quote{}, err
	}
	cfg, usedDefault := s.ResolveConfig(ctx, tenantID)
	q := Calculate(cfg, distanceKm, durationMin, at, s.location(cfg), s.currency)
	if q.Total.Amount >= types.MaxCents {
		return Quote{}, fmt.Errorf("%w: fare exceeds the largest storable amount", ErrValidation)
	}
	q.DefaultConfig = usedDefault
	return q, nil
}

// Split divides total between driver and tenant. The driver share is rounded
// half-up and the tenant receives the remainder, so the parts always sum to total.
func (s *Service) Split(total types.Money, cfg Config) (driver, tenant types.Money) {
	return Split(total, cfg.DriverSharePct)
}

func (s *Service) location(cfg Config) *time.Location {
	if cfg.Timezone == "" {
		return s.loc
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		s.log.WithError(err).WithField("tenant_id", cfg.TenantID).Warn("bad tenant timezone, using default")
		return s.loc
	}
	return loc
}

// Calculate is the pure fare formula.
func Calculate(cfg Config, distanceKm, durationMin float64, at time.Time, loc *time.Location, currency string) Quote {
	base := float64(cfg.BaseFare)
	dist := distanceKm * float64(cfg.PerKm)
	tm := durationMin * float64(cfg.PerMinute)
	total := base + dist + tm

	var surcharge float64
	night := InNightWindow(at.In(loc).Hour(), cfg.NightStartHour, cfg.NightEndHour)
	if night && cfg.NightSurchargePct > 0 {
		surcharged := total * (1 + cfg.NightSurchargePct/100)
		surcharge = surcharged - total
		total = surcharged
	}

	var minAdj float64
	minApplied := false
	if total < float64(cfg.MinimumFare) {
		minAdj = float64(cfg.MinimumFare) - total
		total = float64(cfg.MinimumFare)
		minApplied = true
	}

	money := func(cents float64) types.Money {
		return types.Money{Amount: types.RoundHalfUpCents(cents / 100), Currency: currency}
	}
	return Quote{
		Total: money(total),
		Breakdown: Breakdown{
			Base:              money(base),
			Distance:          money(dist),
			Time:              money(tm),
			NightSurcharge:    money(surcharge),
			MinimumAdjustment: money(minAdj),
		},
		NightSurcharge: night && cfg.NightSurchargePct > 0,
		MinimumApplied: minApplied,
		Config:         cfg,
	}
}

// InNightWindow reports whether hour falls in [start, end), wrapping past
// midnight when start > end. start == end means no window.
func InNightWindow(hour, start, end int) bool {
	switch {
	case start == end:
		return false
	case start < end:
		return hour >= start && hour < end
	default:
		return hour >= start || hour < end
	}
}

func Split(total types.Money, driverSharePct float64) (driver, tenant types.Money) {
	d := types.RoundHalfUpCents(float64(total.Amount) * driverSharePct / 100 / 100)
	if d > total.Amount {
		d = total.Amount
	}
	driver = types.Money{Amount: d, Currency: total.Currency}
	tenant = types.Money{Amount: total.Amount - d, Currency: total.Currency}
	return driver, tenant
}

func validateInput(tenantID types.ID, distanceKm, durationMin float64, at time.Time) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenant is required", ErrValidation)
	}
	if math.IsNaN(distanceKm) || distanceKm < 0 || distanceKm > MaxDistanceKm {
		return fmt.Errorf("%w: distance must be between 0 and %v km", ErrValidation, MaxDistanceKm)
	}
	if math.IsNaN(durationMin) || durationMin < 0 || durationMin > MaxDurationMin {
		return fmt.Errorf("%w: duration must be between 0 and %v minutes", ErrValidation, MaxDurationMin)
	}
	if at.IsZero() {
		return fmt.Errorf("%w: request time is required", ErrValidation)
	}
	return nil
}
