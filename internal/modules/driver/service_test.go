package driver_test

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebeca/internal/modules/driver"
	"rebeca/internal/storage/memory"
	"rebeca/internal/types"
)

func newService(t *testing.T) (*driver.Service, *memory.DriverStore) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	store := memory.New().Drivers()
	return driver.NewService(store, log), store
}

func seed(t *testing.T, store *memory.DriverStore, id types.ID, status driver.Status, active bool) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), &driver.Driver{
		ID:       id,
		TenantID: "t1",
		Name:     "driver " + string(id),
		Status:   status,
		Active:   active,
	}))
}

func TestRegister(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	d, err := svc.Register(ctx, driver.RegisterCommand{TenantID: "t1", Name: "Ana", Phone: "+5511999990000"})
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, driver.StatusOffline, d.Status)
	assert.True(t, d.Active)
	assert.False(t, d.Available())

	got, err := svc.Get(ctx, "t1", d.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.Name)

	_, err = svc.Get(ctx, "t2", d.ID)
	assert.ErrorIs(t, err, driver.ErrNotFound)

	_, err = svc.Register(ctx, driver.RegisterCommand{TenantID: "t1"})
	assert.ErrorIs(t, err, driver.ErrBadRequest)
}

func TestSetAvailability(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	seed(t, store, "d1", driver.StatusOffline, true)

	d, err := svc.SetAvailability(ctx, "t1", "d1", true)
	require.NoError(t, err)
	assert.Equal(t, driver.StatusOnline, d.Status)

	d, err = svc.SetAvailability(ctx, "t1", "d1", false)
	require.NoError(t, err)
	assert.Equal(t, driver.StatusOffline, d.Status)
}

func TestSetAvailability_InRideIsBusy(t *testing.T) {
	svc, store := newService(t)
	seed(t, store, "d1", driver.StatusInRide, true)

	for _, online := range []bool{true, false} {
		_, err := svc.SetAvailability(context.Background(), "t1", "d1", online)
		assert.ErrorIs(t, err, driver.ErrBusy)
	}
	d, err := store.Get(context.Background(), "t1", "d1")
	require.NoError(t, err)
	assert.Equal(t, driver.StatusInRide, d.Status)
}

func TestSetAvailability_Inactive(t *testing.T) {
	svc, store := newService(t)
	seed(t, store, "d1", driver.StatusOffline, false)

	_, err := svc.SetAvailability(context.Background(), "t1", "d1", true)
	assert.ErrorIs(t, err, driver.ErrInactive)

	_, err = svc.SetAvailability(context.Background(), "t1", "missing", true)
	assert.ErrorIs(t, err, driver.ErrNotFound)
}

func TestUpdateLocation(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	seed(t, store, "d1", driver.StatusOnline, true)

	p := types.Point{Lat: -23.55, Lng: -46.63}
	require.NoError(t, svc.UpdateLocation(ctx, "t1", "d1", p))

	d, err := store.Get(ctx, "t1", "d1")
	require.NoError(t, err)
	require.NotNil(t, d.Location)
	assert.Equal(t, p, *d.Location)
	assert.NotNil(t, d.LocationUpdatedAt)
	assert.True(t, d.Available())

	err = svc.UpdateLocation(ctx, "t1", "d1", types.Point{Lat: 91, Lng: 0})
	assert.ErrorIs(t, err, driver.ErrBadRequest)

	err = svc.UpdateLocation(ctx, "t1", "ghost", p)
	assert.ErrorIs(t, err, driver.ErrNotFound)
}
