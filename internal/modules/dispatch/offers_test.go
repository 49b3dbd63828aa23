package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebeca/internal/types"
)

func newOfferLog(t *testing.T) (*OfferLog, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewOfferLog(client, time.Hour), mr
}

func TestOfferLog_RecordAndList(t *testing.T) {
	log, mr := newOfferLog(t)
	ctx := context.Background()
	first := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	require.NoError(t, log.Record(ctx, "t1", "r1", []types.ID{"d2", "d1"}, first))
	require.NoError(t, log.Record(ctx, "t1", "r1", []types.ID{"d3", "d1"}, first.Add(time.Minute)))

	got, err := log.Offered(ctx, "t1", "r1")
	require.NoError(t, err)
	assert.Equal(t, []types.ID{"d1", "d2", "d3"}, got)

	at, ok, err := log.OfferedAt(ctx, "t1", "r1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, first.Equal(at), "first offer time is kept")

	assert.Equal(t, time.Hour, mr.TTL(offeredKey("t1", "r1")))
}

func TestOfferLog_Empty(t *testing.T) {
	log, _ := newOfferLog(t)
	ctx := context.Background()

	require.NoError(t, log.Record(ctx, "t1", "r1", nil, time.Now()))
	got, err := log.Offered(ctx, "t1", "r1")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, ok, err := log.OfferedAt(ctx, "t1", "r1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOfferLog_TenantScoped(t *testing.T) {
	log, _ := newOfferLog(t)
	ctx := context.Background()
	require.NoError(t, log.Record(ctx, "t1", "r1", []types.ID{"d1"}, time.Now()))

	got, err := log.Offered(ctx, "t2", "r1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOfferLog_ServerDown(t *testing.T) {
	log, mr := newOfferLog(t)
	mr.Close()
	err := log.Record(context.Background(), "t1", "r1", []types.ID{"d1"}, time.Now())
	assert.Error(t, err)
}
