package maps

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"googlemaps.github.io/maps"

	"rebeca/internal/types"
)

var ErrNoRoute = errors.New("no route found")

// Route is a driving estimate between two points.
type Route struct {
	DistanceKm  float64 `json:"distance_km"`
	DurationMin float64 `json:"duration_min"`
}

type Estimator interface {
	Estimate(ctx context.Context, origin, destination types.Point) (Route, error)
}

// RouteService handles interactions with Google Maps API.
type RouteService struct {
	client *maps.Client
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string, opts ...maps.ClientOption) (*RouteService, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client}, nil
}

// Estimate returns the driving distance and duration of the first route.
func (s *RouteService) Estimate(ctx context.Context, origin, destination types.Point) (Route, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLng(origin),
		Destination: latLng(destination),
		Mode:        maps.TravelModeDriving,
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return Route{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Route{}, ErrNoRoute
	}

	leg := routes[0].Legs[0]
	return Route{
		DistanceKm:  float64(leg.Distance.Meters) / 1000,
		DurationMin: leg.Duration.Minutes(),
	}, nil
}

func latLng(p types.Point) string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// StraightLine estimates a route as the great-circle distance driven at a
// constant average speed.
type StraightLine struct {
	AvgSpeedKmh float64
}

func (s StraightLine) Estimate(_ context.Context, origin, destination types.Point) (Route, error) {
	speed := s.AvgSpeedKmh
	if speed <= 0 {
		speed = 30
	}
	d := types.HaversineKm(origin, destination)
	return Route{
		DistanceKm:  math.Round(d*1000) / 1000,
		DurationMin: math.Round(d/speed*60*10) / 10,
	}, nil
}

// Fallback tries Primary and falls back to Secondary when it fails.
type Fallback struct {
	Primary   Estimator
	Secondary Estimator
	Log       logrus.FieldLogger
}

func (f Fallback) Estimate(ctx context.Context, origin, destination types.Point) (Route, error) {
	if f.Primary != nil {
		r, err := f.Primary.Estimate(ctx, origin, destination)
		if err == nil {
			return r, nil
		}
		if f.Log != nil {
			f.Log.WithError(err).Warn("route estimate failed, using fallback")
		}
	}
	return f.Secondary.Estimate(ctx, origin, destination)
}
