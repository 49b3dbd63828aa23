// README: Dispatch service lists the nearest available drivers for a pickup point.
package dispatch

import (
	"context"
	"fmt"
	"sort"

	"rebeca/internal/modules/driver"
	"rebeca/internal/types"
)

// DriverSource lists the tenant's drivers that may be offered a ride.
type DriverSource interface {
	ListAvailable(ctx context.Context, tenantID types.ID) ([]driver.Driver, error)
}

type Service struct {
	drivers      DriverSource
	defaultLimit int
}

func NewService(drivers DriverSource, defaultLimit int) *Service {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	return &Service{drivers: drivers, defaultLimit: defaultLimit}
}

// FindCandidates returns up to limit drivers ordered by great-circle distance
// to origin, ties broken by driver id. It never writes.
func (s *Service) FindCandidates(ctx context.Context, tenantID types.ID, origin types.Point, limit int) ([]Candidate, error) {
	if !origin.Valid() {
		return nil, fmt.Errorf("dispatch: invalid origin %v", origin)
	}
	if limit <= 0 {
		limit = s.defaultLimit
	}
	pool, err := s.drivers.ListAvailable(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("dispatch: list drivers: %w", err)
	}
	return Rank(pool, tenantID, origin, limit), nil
}

// Rank filters pool down to available drivers of tenantID and orders them.
func Rank(pool []driver.Driver, tenantID types.ID, origin types.Point, limit int) []Candidate {
	out := make([]Candidate, 0, len(pool))
	for _, d := range pool {
		if d.TenantID != tenantID || !d.Available() {
			continue
		}
		out = append(out, Candidate{Driver: d, DistanceKm: types.HaversineKm(origin, *d.Location)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].Driver.ID < out[j].Driver.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
