package ride_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebeca/internal/modules/dispatch"
	"rebeca/internal/modules/driver"
	"rebeca/internal/modules/pricing"
	"rebeca/internal/modules/ride"
	"rebeca/internal/storage/memory"
	"rebeca/internal/types"
)

func TestCreate_RecordsOffers(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db := memory.New()
	drivers := db.Drivers()
	svc := ride.NewService(ride.Deps{
		Store:    db.Rides(),
		Pricing:  pricing.NewService(db.Prices(), time.UTC, "", quietLogger()),
		Dispatch: dispatch.NewService(drivers, 2),
		Offers:   dispatch.NewOfferLog(client, time.Hour),
		Log:      quietLogger(),
	}, ride.Options{})

	ctx := context.Background()
	for i, id := range []types.ID{"d1", "d2", "d3"} {
		loc := types.Point{Lat: pickup.Point.Lat - float64(i+1)*0.01, Lng: pickup.Point.Lng}
		require.NoError(t, drivers.Create(ctx, &driver.Driver{
			ID: id, TenantID: tenant, Status: driver.StatusOnline, Location: &loc, Active: true,
		}))
	}

	r, err := svc.Create(ctx, createCmd())
	require.NoError(t, err)

	offered, err := svc.Offers(ctx, tenant, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []types.ID{"d1", "d2"}, offered, "only the two nearest are offered")

	_, err = svc.Offers(ctx, "other-tenant", r.ID)
	assert.ErrorIs(t, err, ride.ErrRideNotFound)
}

func TestOffers_WithoutLog(t *testing.T) {
	f := newFixture(t, nil)
	f.addDriver(t, "d1", driver.StatusOnline, 1)
	r := f.pendingRide(t)

	offered, err := f.svc.Offers(context.Background(), tenant, r.ID)
	require.NoError(t, err)
	assert.Empty(t, offered)
}
