package maps

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmaps "googlemaps.github.io/maps"

	"rebeca/internal/types"
)

type failingEstimator struct{}

func (failingEstimator) Estimate(context.Context, types.Point, types.Point) (Route, error) {
	return Route{}, errors.New("quota exceeded")
}

func TestStraightLine_Estimate(t *testing.T) {
	a := types.Point{Lat: -23.5505, Lng: -46.6333}
	b := types.Point{Lat: -23.5505, Lng: -46.5333}

	r, err := StraightLine{AvgSpeedKmh: 30}.Estimate(context.Background(), a, b)
	require.NoError(t, err)
	assert.InDelta(t, 10.19, r.DistanceKm, 0.05)
	assert.InDelta(t, 20.4, r.DurationMin, 0.2)

	r, err = StraightLine{}.Estimate(context.Background(), a, a)
	require.NoError(t, err)
	assert.Zero(t, r.DistanceKm)
	assert.Zero(t, r.DurationMin)
}

func TestFallback_UsesSecondaryOnError(t *testing.T) {
	a := types.Point{Lat: 0, Lng: 0}
	b := types.Point{Lat: 0, Lng: 0.1}

	f := Fallback{Primary: failingEstimator{}, Secondary: StraightLine{AvgSpeedKmh: 60}}
	r, err := f.Estimate(context.Background(), a, b)
	require.NoError(t, err)
	assert.InDelta(t, 11.12, r.DistanceKm, 0.01)

	f = Fallback{Secondary: StraightLine{AvgSpeedKmh: 60}}
	_, err = f.Estimate(context.Background(), a, b)
	assert.NoError(t, err)
}

func newDirectionsServer(t *testing.T, body string) *RouteService {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "-23.550500,-46.633300", r.URL.Query().Get("origin"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	svc, err := NewRouteService("AIzaTestKey", gmaps.WithBaseURL(srv.URL))
	require.NoError(t, err)
	return svc
}

func TestRouteService_Estimate(t *testing.T) {
	svc := newDirectionsServer(t, `{"status":"OK","routes":[{"summary":"Av. Paulista","legs":[
		{"distance":{"text":"10.2 km","value":10200},"duration":{"text":"21 mins","value":1260}}]}]}`)

	r, err := svc.Estimate(context.Background(),
		types.Point{Lat: -23.5505, Lng: -46.6333}, types.Point{Lat: -23.5614, Lng: -46.6559})
	require.NoError(t, err)
	assert.InDelta(t, 10.2, r.DistanceKm, 0.001)
	assert.InDelta(t, 21, r.DurationMin, 0.001)
}

func TestRouteService_NoRoute(t *testing.T) {
	svc := newDirectionsServer(t, `{"status":"OK","routes":[]}`)

	_, err := svc.Estimate(context.Background(),
		types.Point{Lat: -23.5505, Lng: -46.6333}, types.Point{Lat: -23.5614, Lng: -46.6559})
	assert.ErrorIs(t, err, ErrNoRoute)
}
