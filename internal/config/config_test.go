package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, 5, cfg.Dispatch.CandidateLimit)
	assert.Equal(t, 2*time.Minute, cfg.Dispatch.OfferTimeout)
	assert.Equal(t, "America/Sao_Paulo", cfg.Pricing.Timezone)
	assert.Equal(t, []string{"log"}, cfg.Notify.Sinks)
	assert.Equal(t, 15*time.Second, cfg.Dispatch.SweepInterval)
	assert.Equal(t, time.Second, cfg.Notify.RelayInterval)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REBECA_HTTP_ADDR", ":9090")
	t.Setenv("REBECA_DB_DRIVER", "memory")
	t.Setenv("REBECA_DISPATCH_CANDIDATE_LIMIT", "8")
	t.Setenv("REBECA_DISPATCH_OFFER_TIMEOUT", "45s")
	t.Setenv("REBECA_NOTIFY_SINKS", "log,redis")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "memory", cfg.DB.Driver)
	assert.Equal(t, 8, cfg.Dispatch.CandidateLimit)
	assert.Equal(t, 45*time.Second, cfg.Dispatch.OfferTimeout)
	assert.Equal(t, []string{"log", "redis"}, cfg.Notify.Sinks)
}

func TestLoad_RejectsUnknownSink(t *testing.T) {
	t.Setenv("REBECA_NOTIFY_SINKS", "log,carrier-pigeon")
	_, err := Load()
	assert.ErrorContains(t, err, "carrier-pigeon")
}

func TestLoad_RejectsUnknownTimezone(t *testing.T) {
	t.Setenv("REBECA_PRICING_TIMEZONE", "Mars/Olympus_Mons")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsNonPositiveIntervals(t *testing.T) {
	cases := map[string]string{
		"REBECA_DISPATCH_SWEEP_INTERVAL": "0s",
		"REBECA_NOTIFY_RELAY_INTERVAL":   "-1s",
	}
	for env, val := range cases {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, val)
			_, err := Load()
			assert.ErrorContains(t, err, "must be positive")
		})
	}
}
