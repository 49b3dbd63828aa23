package ride_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebeca/internal/modules/driver"
	"rebeca/internal/modules/ride"
	"rebeca/internal/notify"
)

// gatedPublisher holds the first tenant delivery of one event type until
// release is closed.
type gatedPublisher struct {
	rec     *notify.Recorder
	hold    string
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedPublisher(hold string) *gatedPublisher {
	return &gatedPublisher{
		rec:     notify.NewRecorder(),
		hold:    hold,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (p *gatedPublisher) Publish(ctx context.Context, topic notify.Topic, e notify.Event) error {
	if e.Type == p.hold && topic.Scope == notify.ScopeTenant {
		p.once.Do(func() {
			close(p.entered)
			<-p.release
		})
	}
	return p.rec.Publish(ctx, topic, e)
}

func TestTransitionsQueueEventsForRelay(t *testing.T) {
	f := newFixture(t, nil)
	f.addDriver(t, "d1", driver.StatusOnline, 1)
	ctx := context.Background()
	r := f.pendingRide(t)
	_, err := f.svc.Accept(ctx, tenant, r.ID, "d1")
	require.NoError(t, err)

	assert.Empty(t, f.events.Deliveries(), "nothing is published on the request path")
	queued := f.db.Rides().Outbox()
	// requested to tenant and client, one offer, accepted to tenant, client and driver.
	require.Len(t, queued, 6)
	for i := 1; i < len(queued); i++ {
		assert.Less(t, queued[i-1].Seq, queued[i].Seq)
	}

	n, err := f.svc.DeliverEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Empty(t, f.db.Rides().Outbox())
	assert.Len(t, f.events.Deliveries(), 6)

	n, err = f.svc.DeliverEvents(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeliverEvents_CommitOrderWhilePublishBlocks(t *testing.T) {
	gate := newGatedPublisher(notify.EventRideAccepted)
	f := newFixture(t, gate)
	f.addDriver(t, "d1", driver.StatusOnline, 1)
	ctx := context.Background()
	r := f.pendingRide(t)
	_, err := f.svc.Accept(ctx, tenant, r.ID, "d1")
	require.NoError(t, err)

	first := make(chan error, 1)
	go func() {
		_, err := f.svc.DeliverEvents(ctx)
		first <- err
	}()
	<-gate.entered

	// Commit a later transition while the accepted event is mid-publish.
	_, err = f.svc.Cancel(ctx, tenant, r.ID, "changed plans", ride.Actor{Type: ride.ActorAdmin})
	require.NoError(t, err)

	second := make(chan error, 1)
	go func() {
		_, err := f.svc.DeliverEvents(ctx)
		second <- err
	}()
	select {
	case <-second:
		t.Fatal("second relay pass finished while the first was still publishing")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	var kinds []string
	var versions []int
	for _, e := range gate.rec.For(notify.TenantTopic(tenant)) {
		kinds = append(kinds, e.Type)
		versions = append(versions, e.Version)
	}
	assert.Equal(t, []string{notify.EventRideRequested, notify.EventRideAccepted, notify.EventRideCancelled}, kinds)
	assert.Equal(t, []int{0, 1, 2}, versions)

	driverEvents := gate.rec.For(notify.DriverTopic(tenant, "d1"))
	require.Len(t, driverEvents, 3)
	assert.Equal(t, notify.EventRideCancelled, driverEvents[2].Type)
}

func TestFailedTransitionQueuesNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.addDriver(t, "d1", driver.StatusOnline, 1)
	f.addDriver(t, "d-off", driver.StatusOffline, 1)
	ctx := context.Background()
	r := f.pendingRide(t)
	before := len(f.db.Rides().Outbox())

	_, err := f.svc.Accept(ctx, tenant, r.ID, "d-off")
	require.ErrorIs(t, err, ride.ErrDriverUnavailable)

	assert.Len(t, f.db.Rides().Outbox(), before)
	assert.Len(t, f.db.Rides().Events(r.ID), 1)
}

func TestRunEventRelay_DeliversAfterCommit(t *testing.T) {
	f := newFixture(t, nil)
	f.addDriver(t, "d1", driver.StatusOnline, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.RunEventRelay(ctx, time.Hour)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	f.pendingRide(t)
	assert.Eventually(t, func() bool {
		return len(f.events.For(notify.ClientTopic(tenant, "c1"))) == 1
	}, time.Second, 5*time.Millisecond)
}
