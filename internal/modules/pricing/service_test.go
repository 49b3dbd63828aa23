package pricing

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebeca/internal/types"
)

type stubSource struct {
	cfg Config
	err error
}

func (s stubSource) GetConfig(ctx context.Context, tenantID types.ID) (Config, error) {
	if s.err != nil {
		return Config{}, s.err
	}
	c := s.cfg
	c.TenantID = tenantID
	return c, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestService_ComputeFare(t *testing.T) {
	noon := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	late := time.Date(2026, 2, 10, 23, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		distanceKm  float64
		durationMin float64
		at          time.Time
		wantTotal   int64
		wantNight   bool
		wantMinimum bool
	}{
		{name: "daytime fare", distanceKm: 10, durationMin: 20, at: noon, wantTotal: 4000},
		{name: "night surcharge", distanceKm: 10, durationMin: 20, at: late, wantTotal: 4800, wantNight: true},
		{name: "minimum fare floor", distanceKm: 0.1, durationMin: 1, at: noon, wantTotal: 800, wantMinimum: true},
		{name: "zero distance and duration", distanceKm: 0, durationMin: 0, at: noon, wantTotal: 800, wantMinimum: true},
		{name: "window start is inclusive", distanceKm: 10, durationMin: 20, at: time.Date(2026, 2, 10, 22, 0, 0, 0, time.UTC), wantTotal: 4800, wantNight: true},
		{name: "window end is exclusive", distanceKm: 10, durationMin: 20, at: time.Date(2026, 2, 11, 6, 0, 0, 0, time.UTC), wantTotal: 4000},
		{name: "after midnight", distanceKm: 10, durationMin: 20, at: time.Date(2026, 2, 11, 5, 59, 0, 0, time.UTC), wantTotal: 4800, wantNight: true},
	}

	s := NewService(nil, time.UTC, "", quietLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := s.ComputeFare(context.Background(), "t1", tt.distanceKm, tt.durationMin, tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, q.Total.Amount)
			assert.Equal(t, types.DefaultCurrency, q.Total.Currency)
			assert.Equal(t, tt.wantNight, q.NightSurcharge)
			assert.Equal(t, tt.wantMinimum, q.MinimumApplied)
			assert.True(t, q.DefaultConfig)
		})
	}
}

func TestService_ComputeFare_Breakdown(t *testing.T) {
	s := NewService(nil, time.UTC, "", quietLogger())

	q, err := s.ComputeFare(context.Background(), "t1", 10, 20, time.Date(2026, 2, 10, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(500), q.Breakdown.Base.Amount)
	assert.Equal(t, int64(2500), q.Breakdown.Distance.Amount)
	assert.Equal(t, int64(1000), q.Breakdown.Time.Amount)
	assert.Equal(t, int64(800), q.Breakdown.NightSurcharge.Amount)
	assert.Zero(t, q.Breakdown.MinimumAdjustment.Amount)

	q, err = s.ComputeFare(context.Background(), "t1", 0.1, 1, time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(225), q.Breakdown.MinimumAdjustment.Amount)
}

func TestService_ComputeFare_TenantConfig(t *testing.T) {
	cfg := Config{
		BaseFare:          300,
		PerKm:             200,
		PerMinute:         25,
		MinimumFare:       700,
		NightSurchargePct: 50,
		NightStartHour:    20,
		NightEndHour:      5,
		DriverSharePct:    75,
		Timezone:          "America/Sao_Paulo",
	}
	s := NewService(stubSource{cfg: cfg}, time.UTC, "", quietLogger())

	// 18:00 UTC is 15:00 in Sao Paulo.
	q, err := s.ComputeFare(context.Background(), "t1", 5, 10, time.Date(2026, 2, 10, 18, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, q.DefaultConfig)
	assert.False(t, q.NightSurcharge)
	assert.Equal(t, int64(300+1000+250), q.Total.Amount)

	// 23:30 UTC is 20:30 in Sao Paulo.
	q, err = s.ComputeFare(context.Background(), "t1", 5, 10, time.Date(2026, 2, 10, 23, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, q.NightSurcharge)
	assert.Equal(t, int64(2325), q.Total.Amount)
	assert.Equal(t, 75.0, q.Config.DriverSharePct)
}

func TestService_ComputeFare_FallsBackToDefaults(t *testing.T) {
	for name, err := range map[string]error{
		"not found":     ErrConfigNotFound,
		"lookup failed": errors.New("connection refused"),
	} {
		t.Run(name, func(t *testing.T) {
			s := NewService(stubSource{err: err}, time.UTC, "", quietLogger())
			q, ferr := s.ComputeFare(context.Background(), "t1", 10, 20, time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC))
			require.NoError(t, ferr)
			assert.True(t, q.DefaultConfig)
			assert.Equal(t, int64(4000), q.Total.Amount)
			assert.Equal(t, DefaultConfig("t1"), q.Config)
		})
	}
}

func TestService_ComputeFare_Validation(t *testing.T) {
	s := NewService(nil, time.UTC, "", quietLogger())
	at := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		tenant   types.ID
		distance float64
		duration float64
		at       time.Time
	}{
		{"negative distance", "t1", -1, 10, at},
		{"negative duration", "t1", 1, -0.5, at},
		{"nan distance", "t1", math.NaN(), 10, at},
		{"infinite duration", "t1", 1, math.Inf(1), at},
		{"distance beyond the ride limit", "t1", MaxDistanceKm + 1, 10, at},
		{"huge distance", "t1", 1e17, 0, at},
		{"duration over a week", "t1", 1, MaxDurationMin + 1, at},
		{"missing tenant", "", 1, 1, at},
		{"zero time", "t1", 1, 1, time.Time{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.ComputeFare(context.Background(), tc.tenant, tc.distance, tc.duration, tc.at)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestService_ComputeFare_Limits(t *testing.T) {
	at := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	q, err := NewService(nil, time.UTC, "", quietLogger()).ComputeFare(context.Background(), "t1", MaxDistanceKm, MaxDurationMin, at)
	require.NoError(t, err)
	assert.Positive(t, q.Total.Amount)

	cfg := DefaultConfig("t1")
	cfg.PerKm = 1 << 50
	s := NewService(stubSource{cfg: cfg}, time.UTC, "", quietLogger())
	_, err = s.ComputeFare(context.Background(), "t1", MaxDistanceKm, 0, at)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestInNightWindow(t *testing.T) {
	assert.True(t, InNightWindow(22, 22, 6))
	assert.True(t, InNightWindow(0, 22, 6))
	assert.False(t, InNightWindow(6, 22, 6))
	assert.False(t, InNightWindow(21, 22, 6))
	assert.True(t, InNightWindow(1, 0, 5))
	assert.False(t, InNightWindow(5, 0, 5))
	for h := 0; h < 24; h++ {
		assert.False(t, InNightWindow(h, 3, 3), "hour %d", h)
	}
}

func TestSplit(t *testing.T) {
	d, tn := Split(types.Cents(4000), 80)
	assert.Equal(t, int64(3200), d.Amount)
	assert.Equal(t, int64(800), tn.Amount)

	d, tn = Split(types.Cents(4801), 80)
	assert.Equal(t, int64(3841), d.Amount)
	assert.Equal(t, int64(960), tn.Amount)

	for _, pct := range []float64{0, 33.3, 66.7, 80, 85.5, 100} {
		for total := int64(0); total <= 2500; total += 7 {
			d, tn := Split(types.Cents(total), pct)
			require.Equal(t, total, d.Amount+tn.Amount, "total=%d pct=%v", total, pct)
			require.GreaterOrEqual(t, tn.Amount, int64(0))
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig("t1").Validate())

	bad := DefaultConfig("t1")
	bad.DriverSharePct = 120
	assert.ErrorIs(t, bad.Validate(), ErrValidation)

	bad = DefaultConfig("t1")
	bad.NightEndHour = 24
	assert.Error(t, bad.Validate())

	bad = DefaultConfig("t1")
	bad.Timezone = "Mars/Olympus"
	assert.Error(t, bad.Validate())
}
