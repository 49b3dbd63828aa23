package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebeca/internal/modules/driver"
	"rebeca/internal/modules/ride"
	"rebeca/internal/modules/settlement"
	"rebeca/internal/notify"
	"rebeca/internal/storage/memory"
	"rebeca/internal/types"
)

func seed(t *testing.T, db *memory.DB) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.Drivers().Create(ctx, &driver.Driver{ID: "d1", TenantID: "t1", Status: driver.StatusOnline, Active: true}))
	r := &ride.Ride{
		ID:         "r1",
		TenantID:   "t1",
		ClientID:   "c1",
		Status:     ride.StatusPending,
		FareTotal:  types.Cents(1000),
		FareDriver: types.Cents(800),
		FareTenant: types.Cents(200),
		CreatedAt:  time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Rides().Create(ctx, r,
		&ride.Event{RideID: "r1", ToStatus: ride.StatusPending},
		[]*ride.Message{{RideID: "r1", Topic: notify.TenantTopic("t1"), Event: notify.Event{Type: notify.EventRideRequested}}},
	))
}

func TestWithinTx_FailureRestoresTouchedRows(t *testing.T) {
	db := memory.New()
	seed(t, db)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 14, 5, 0, 0, time.UTC)

	boom := errors.New("boom")
	err := db.Rides().WithinTx(ctx, func(tx ride.Tx) error {
		got, err := tx.ClaimPending(ctx, "t1", "r1", "d1", at)
		require.NoError(t, err)
		require.NotNil(t, got)
		ok, err := tx.ClaimDriver(ctx, "t1", "d1")
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, tx.AppendEvent(ctx, &ride.Event{RideID: "r1", FromStatus: ride.StatusPending, ToStatus: ride.StatusAccepted, Version: 1}))
		require.NoError(t, tx.Enqueue(ctx, &ride.Message{RideID: "r1", Topic: notify.TenantTopic("t1")}))
		inserted, err := tx.InsertTransaction(ctx, &settlement.Transaction{ID: "x1", TenantID: "t1", DriverID: "d1", RideID: "r1", Amount: types.Cents(800)})
		require.NoError(t, err)
		require.True(t, inserted)
		require.NoError(t, tx.AddDriverEarnings(ctx, "t1", "d1", 800))
		return boom
	})
	require.ErrorIs(t, err, boom)

	r, err := db.Rides().Get(ctx, "t1", "r1")
	require.NoError(t, err)
	assert.Equal(t, ride.StatusPending, r.Status)
	assert.Nil(t, r.DriverID)
	assert.Nil(t, r.AcceptedAt)
	assert.Zero(t, r.StatusVersion)

	d, err := db.Drivers().Get(ctx, "t1", "d1")
	require.NoError(t, err)
	assert.Equal(t, driver.StatusOnline, d.Status)
	assert.Zero(t, d.TotalEarnings)

	_, err = db.Ledger().GetByRide(ctx, "t1", "r1")
	assert.ErrorIs(t, err, settlement.ErrNotFound)
	assert.Len(t, db.Rides().Events("r1"), 1)

	require.NoError(t, db.Rides().WithinTx(ctx, func(tx ride.Tx) error {
		return tx.Enqueue(ctx, &ride.Message{RideID: "r1", Topic: notify.ClientTopic("t1", "c1")})
	}))
	out := db.Rides().Outbox()
	require.Len(t, out, 2)
	assert.Equal(t, []int64{1, 2}, []int64{out[0].Seq, out[1].Seq})
}

func TestWithinTx_ReturnedRidesAreCopies(t *testing.T) {
	db := memory.New()
	seed(t, db)
	ctx := context.Background()

	require.NoError(t, db.Rides().WithinTx(ctx, func(tx ride.Tx) error {
		r, err := tx.LockRide(ctx, "t1", "r1")
		require.NoError(t, err)
		r.Status = ride.StatusCancelled
		return nil
	}))

	r, err := db.Rides().Get(ctx, "t1", "r1")
	require.NoError(t, err)
	assert.Equal(t, ride.StatusPending, r.Status)
}

func TestDrainOutbox_DeliversInOrderAndRemoves(t *testing.T) {
	db := memory.New()
	seed(t, db)
	ctx := context.Background()
	require.NoError(t, db.Rides().WithinTx(ctx, func(tx ride.Tx) error {
		return tx.Enqueue(ctx,
			&ride.Message{RideID: "r1", Event: notify.Event{Type: notify.EventRideAccepted}},
			&ride.Message{RideID: "r1", Event: notify.Event{Type: notify.EventRideStarted}},
		)
	}))

	var got []string
	n, err := db.Rides().DrainOutbox(ctx, 2, func(_ context.Context, m *ride.Message) {
		got = append(got, m.Event.Type)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{notify.EventRideRequested, notify.EventRideAccepted}, got)

	rest := db.Rides().Outbox()
	require.Len(t, rest, 1)
	assert.Equal(t, notify.EventRideStarted, rest[0].Event.Type)
}

func TestPlatformOverview(t *testing.T) {
	db := memory.New()
	seed(t, db)
	ctx := context.Background()
	require.NoError(t, db.Drivers().Create(ctx, &driver.Driver{ID: "d2", TenantID: "t2", Status: driver.StatusOffline}))

	o, err := db.Rides().PlatformOverview(ctx, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 2, o.Tenants)
	assert.Equal(t, 2, o.Drivers)
	assert.Equal(t, 1, o.ActiveDrivers)
	assert.Equal(t, 1, o.RidesTotal)
	assert.Equal(t, 1, o.RidesToday)

	o, err = db.Rides().PlatformOverview(ctx, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, o.RidesToday)
}
