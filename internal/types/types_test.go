package types

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineKm_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		a, b      Point
		wantKm    float64
		tolerance float64
	}{
		{"same point", Point{-23.5505, -46.6333}, Point{-23.5505, -46.6333}, 0, 0.001},
		{"Sao Paulo to Rio de Janeiro (~361km)", Point{-23.5505, -46.6333}, Point{-22.9068, -43.1729}, 361, 5},
		{"New York to Los Angeles (~3944km)", Point{40.7128, -74.0060}, Point{34.0522, -118.2437}, 3944, 50},
		{"one degree of latitude (~111.19km)", Point{0, 0}, Point{1, 0}, 111.19, 0.01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineKm(tt.a, tt.b)
			assert.InDelta(t, tt.wantKm, got, tt.tolerance)
		})
	}
}

func TestHaversineKm_Symmetry(t *testing.T) {
	d1 := HaversineKm(Point{25, 121}, Point{26, 122})
	d2 := HaversineKm(Point{26, 122}, Point{25, 121})
	if math.Abs(d1-d2) > 0.0001 {
		t.Errorf("haversine is not symmetric: %f vs %f", d1, d2)
	}
}

func TestRoundHalfUpCents(t *testing.T) {
	cases := []struct {
		in   float64
		want int64
	}{
		{40, 4000},
		{48.00000000000001, 4800},
		{0.125, 13},
		{2.675, 268},
		{10.004, 1000},
		{-1.005, -101},
		{1e17, MaxCents},
		{-1e17, -MaxCents},
		{math.Inf(1), MaxCents},
		{math.NaN(), 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, RoundHalfUpCents(c.in), "RoundHalfUpCents(%v)", c.in)
	}
}

func TestPointValid(t *testing.T) {
	assert.True(t, Point{Lat: -23.5, Lng: -46.6}.Valid())
	assert.False(t, Point{Lat: 91, Lng: 0}.Valid())
	assert.False(t, Point{Lat: 0, Lng: -181}.Valid())
	assert.False(t, Point{Lat: math.NaN(), Lng: 0}.Valid())
}
