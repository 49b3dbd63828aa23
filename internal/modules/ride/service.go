// README: Ride service implements guarded state transitions, dispatch on create and event publishing.
package ride

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"

	"rebeca/internal/maps"
	"rebeca/internal/modules/dispatch"
	"rebeca/internal/modules/pricing"
	"rebeca/internal/modules/settlement"
	"rebeca/internal/notify"
	"rebeca/internal/types"
)

// Tx is a store transaction. Every method runs inside the same database
// transaction; returning an error from the WithinTx callback rolls all of it back.
type Tx interface {
	settlement.Tx
	// ClaimPending assigns driverID to the ride in a single conditional
	// update guarded by status = pending. It returns nil, nil when the
	// guard did not match.
	ClaimPending(ctx context.Context, tenantID, rideID, driverID types.ID, at time.Time) (*Ride, error)
	LockRide(ctx context.Context, tenantID, rideID types.ID) (*Ride, error)
	// UpdateRide persists r only if the stored version still equals fromVersion.
	UpdateRide(ctx context.Context, r *Ride, fromVersion int) (bool, error)
	// ClaimDriver moves an active driver of the tenant from online to in_ride.
	ClaimDriver(ctx context.Context, tenantID, driverID types.ID) (bool, error)
	// ReleaseDriver moves the driver back to online, counting the ride when completed.
	ReleaseDriver(ctx context.Context, tenantID, driverID types.ID, completed bool) error
	AppendEvent(ctx context.Context, e *Event) error
	// Enqueue adds deliveries to the outbox in the given order.
	Enqueue(ctx context.Context, msgs ...*Message) error
}

type Store interface {
	Create(ctx context.Context, r *Ride, e *Event, msgs []*Message) error
	Get(ctx context.Context, tenantID, id types.ID) (*Ride, error)
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*Ride, error)
	Overview(ctx context.Context, tenantID types.ID, dayStart time.Time) (*Overview, error)
	PlatformOverview(ctx context.Context, dayStart time.Time) (*PlatformOverview, error)
	// DrainOutbox hands undelivered messages to deliver in outbox order and
	// removes them afterwards. Concurrent drains do not interleave.
	DrainOutbox(ctx context.Context, limit int, deliver func(ctx context.Context, m *Message)) (int, error)
}

type Pricer interface {
	ComputeFare(ctx context.Context, tenantID types.ID, distanceKm, durationMin float64, at time.Time) (pricing.Quote, error)
	ResolveConfig(ctx context.Context, tenantID types.ID) (pricing.Config, bool)
}

type CandidateFinder interface {
	FindCandidates(ctx context.Context, tenantID types.ID, origin types.Point, limit int) ([]dispatch.Candidate, error)
}

// OfferRecorder remembers which drivers were offered a ride.
type OfferRecorder interface {
	Record(ctx context.Context, tenantID, rideID types.ID, driverIDs []types.ID, at time.Time) error
	Offered(ctx context.Context, tenantID, rideID types.ID) ([]types.ID, error)
}

type Deps struct {
	Store     Store
	Pricing   Pricer
	Dispatch  CandidateFinder
	Routes    maps.Estimator
	Ledger    *settlement.Ledger
	Publisher notify.Publisher
	// Offers is optional.
	Offers OfferRecorder
	Log    logrus.FieldLogger
}

type Options struct {
	// CandidateLimit is how many drivers receive an offer; <= 0 uses the dispatch default.
	CandidateLimit int
	// OfferTimeout is how long a ride may stay pending before it is marked unmatched.
	OfferTimeout time.Duration
	// Location defines "today" for the dashboard.
	Location *time.Location
}

type Service struct {
	store     Store
	pricing   Pricer
	dispatch  CandidateFinder
	routes    maps.Estimator
	ledger    *settlement.Ledger
	publisher notify.Publisher
	offers    OfferRecorder
	log       logrus.FieldLogger
	opts      Options
	now       func() time.Time
	wake      chan struct{}
}

func NewService(d Deps, opts Options) *Service {
	if d.Routes == nil {
		d.Routes = maps.StraightLine{}
	}
	if d.Ledger == nil {
		d.Ledger = settlement.NewLedger()
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	if opts.OfferTimeout <= 0 {
		opts.OfferTimeout = 2 * time.Minute
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{
		store:     d.Store,
		pricing:   d.Pricing,
		dispatch:  d.Dispatch,
		routes:    d.Routes,
		ledger:    d.Ledger,
		publisher: d.Publisher,
		offers:    d.Offers,
		log:       d.Log.WithField("module", "ride"),
		opts:      opts,
		now:       time.Now,
		wake:      make(chan struct{}, 1),
	}
}

type CreateCommand struct {
	TenantID    types.ID
	ClientID    types.ID
	Origin      Place
	Destination Place
	// DistanceKm and DurationMin are estimated from the route when nil.
	DistanceKm  *float64
	DurationMin *float64
	// Fare overrides the computed fare when set.
	Fare          *types.Money
	PaymentMethod PaymentMethod
}

func (c *CreateCommand) validate() error {
	switch {
	case c.TenantID == "":
		return fmt.Errorf("%w: tenant is required", ErrValidation)
	case c.ClientID == "":
		return fmt.Errorf("%w: client is required", ErrValidation)
	case c.Origin.Address == "" || c.Destination.Address == "":
		return fmt.Errorf("%w: origin and destination addresses are required", ErrValidation)
	case !c.Origin.Point.Valid() || !c.Destination.Point.Valid():
		return fmt.Errorf("%w: coordinates out of range", ErrValidation)
	case badAmount(c.DistanceKm, pricing.MaxDistanceKm):
		return fmt.Errorf("%w: distance must be between 0 and %v km", ErrValidation, pricing.MaxDistanceKm)
	case badAmount(c.DurationMin, pricing.MaxDurationMin):
		return fmt.Errorf("%w: duration must be between 0 and %v minutes", ErrValidation, pricing.MaxDurationMin)
	case c.Fare != nil && (c.Fare.Amount < 0 || c.Fare.Amount > types.MaxCents):
		return fmt.Errorf("%w: fare out of range", ErrValidation)
	}
	if c.PaymentMethod == "" {
		c.PaymentMethod = PaymentCash
	}
	if !c.PaymentMethod.Valid() {
		return fmt.Errorf("%w: unknown payment method %q", ErrValidation, c.PaymentMethod)
	}
	return nil
}

func badAmount(v *float64, limit float64) bool {
	return v != nil && (math.IsNaN(*v) || *v < 0 || *v > limit)
}

// Create validates and persists a pending ride, then offers it to the nearest
// available drivers. With no candidates the ride is returned unmatched.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Ride, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	now := s.now().UTC()

	distance, duration, err := s.route(ctx, cmd)
	if err != nil {
		return nil, err
	}

	var total types.Money
	var cfg pricing.Config
	if cmd.Fare != nil {
		total = *cmd.Fare
		if total.Currency == "" {
			total.Currency = types.DefaultCurrency
		}
		cfg, _ = s.pricing.ResolveConfig(ctx, cmd.TenantID)
	} else {
		q, err := s.pricing.ComputeFare(ctx, cmd.TenantID, distance, duration, now)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		total, cfg = q.Total, q.Config
	}
	driverShare, tenantShare := pricing.Split(total, cfg.DriverSharePct)

	code, err := confirmationCode()
	if err != nil {
		return nil, err
	}

	r := &Ride{
		ID:               types.NewID(),
		TenantID:         cmd.TenantID,
		ClientID:         cmd.ClientID,
		Status:           StatusPending,
		Origin:           cmd.Origin,
		Destination:      cmd.Destination,
		DistanceKm:       distance,
		DurationMin:      duration,
		FareTotal:        total,
		FareDriver:       driverShare,
		FareTenant:       tenantShare,
		PaymentMethod:    cmd.PaymentMethod,
		ConfirmationCode: code,
		CreatedAt:        now,
	}
	clientID := cmd.ClientID
	requested := s.messages(s.event(notify.EventRideRequested, r, StatusNone, map[string]any{"confirmation_code": r.ConfirmationCode}), r)
	if err := s.store.Create(ctx, r, &Event{
		RideID:     r.ID,
		FromStatus: StatusNone,
		ToStatus:   StatusPending,
		ActorType:  ActorClient,
		ActorID:    &clientID,
		Version:    r.StatusVersion,
		CreatedAt:  now,
	}, requested); err != nil {
		return nil, err
	}
	s.kick()
	s.log.WithFields(logrus.Fields{"tenant_id": r.TenantID, "ride_id": r.ID, "fare_cents": r.FareTotal.Amount}).Info("ride created")

	candidates, err := s.dispatch.FindCandidates(ctx, r.TenantID, r.Origin.Point, s.opts.CandidateLimit)
	if err != nil {
		// The ride stays pending; the sweeper marks it unmatched after the offer timeout.
		s.log.WithError(err).WithField("ride_id", r.ID).Error("candidate lookup failed")
		return r, nil
	}
	if len(candidates) == 0 {
		unmatched, err := s.markUnmatched(ctx, r.TenantID, r.ID, nil)
		if err != nil {
			return nil, err
		}
		if unmatched != nil {
			return unmatched, nil
		}
		return s.store.Get(ctx, r.TenantID, r.ID)
	}
	s.offer(ctx, r, candidates)
	return r, nil
}

func (s *Service) route(ctx context.Context, cmd CreateCommand) (float64, float64, error) {
	if cmd.DistanceKm != nil && cmd.DurationMin != nil {
		return *cmd.DistanceKm, *cmd.DurationMin, nil
	}
	est, err := s.routes.Estimate(ctx, cmd.Origin.Point, cmd.Destination.Point)
	if err != nil {
		return 0, 0, fmt.Errorf("estimate route: %w", err)
	}
	distance, duration := est.DistanceKm, est.DurationMin
	if cmd.DistanceKm != nil {
		distance = *cmd.DistanceKm
	}
	if cmd.DurationMin != nil {
		duration = *cmd.DurationMin
	}
	return distance, duration, nil
}

// offer queues an offer to each candidate while the ride is still pending,
// so an offer never follows a later transition of the same ride.
func (s *Service) offer(ctx context.Context, r *Ride, candidates []dispatch.Candidate) {
	ctx = context.WithoutCancel(ctx)
	ids := make([]types.ID, 0, len(candidates))
	msgs := make([]*Message, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.Driver.ID)
		e := s.event(notify.EventRideOffered, r, StatusNone, map[string]any{
			"distance_km":   c.DistanceKm,
			"origin":        r.Origin,
			"destination":   r.Destination,
			"fare_driver":   r.FareDriver,
			"offer_expires": r.CreatedAt.Add(s.opts.OfferTimeout),
		})
		msgs = append(msgs, &Message{RideID: r.ID, Topic: notify.DriverTopic(r.TenantID, c.Driver.ID), Event: e, CreatedAt: e.OccurredAt})
	}
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		cur, err := tx.LockRide(ctx, r.TenantID, r.ID)
		if err != nil || cur.Status != StatusPending {
			return err
		}
		return tx.Enqueue(ctx, msgs...)
	})
	if err != nil {
		s.log.WithError(err).WithField("ride_id", r.ID).Warn("queue offers")
	}
	s.kick()
	if s.offers != nil {
		if err := s.offers.Record(ctx, r.TenantID, r.ID, ids, r.CreatedAt); err != nil {
			s.log.WithError(err).WithField("ride_id", r.ID).Warn("record offers")
		}
	}
}

// Offers lists the drivers that were offered the ride. Without an offer log
// it returns an empty list.
func (s *Service) Offers(ctx context.Context, tenantID, rideID types.ID) ([]types.ID, error) {
	if _, err := s.store.Get(ctx, tenantID, rideID); err != nil {
		return nil, err
	}
	if s.offers == nil {
		return []types.ID{}, nil
	}
	return s.offers.Offered(ctx, tenantID, rideID)
}

func (s *Service) Get(ctx context.Context, tenantID, id types.ID) (*Ride, error) {
	return s.store.Get(ctx, tenantID, id)
}

// Accept assigns the ride to driverID. Among concurrent accepts of one ride
// exactly one succeeds; the others get ErrRideNoLongerAvailable.
func (s *Service) Accept(ctx context.Context, tenantID, rideID, driverID types.ID) (*Ride, error) {
	if driverID == "" {
		return nil, fmt.Errorf("%w: driver is required", ErrValidation)
	}
	now := s.now().UTC()
	var accepted *Ride
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		r, err := tx.ClaimPending(ctx, tenantID, rideID, driverID, now)
		if err != nil {
			return err
		}
		if r == nil {
			cur, err := tx.LockRide(ctx, tenantID, rideID)
			if err != nil {
				return err
			}
			return fmt.Errorf("%w (status %s)", ErrRideNoLongerAvailable, cur.Status)
		}
		ok, err := tx.ClaimDriver(ctx, tenantID, driverID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrDriverUnavailable
		}
		accepted = r
		if err := tx.AppendEvent(ctx, s.audit(r, StatusPending, Actor{Type: ActorDriver, ID: driverID}, now)); err != nil {
			return err
		}
		return s.enqueue(ctx, tx, notify.EventRideAccepted, r, StatusPending, map[string]any{"confirmation_code": r.ConfirmationCode})
	})
	if err != nil {
		return nil, err
	}
	s.kick()
	s.log.WithFields(logrus.Fields{"ride_id": rideID, "driver_id": driverID}).Info("ride accepted")
	return accepted, nil
}

func (s *Service) Start(ctx context.Context, tenantID, rideID, driverID types.ID) (*Ride, error) {
	now := s.now().UTC()
	var started *Ride
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		r, err := s.lockFor(ctx, tx, tenantID, rideID, StatusStarted)
		if err != nil {
			return err
		}
		if !r.AssignedTo(driverID) {
			return ErrNotAssignedDriver
		}
		r.StartedAt = &now
		if err := s.advance(ctx, tx, r, StatusStarted, Actor{Type: ActorDriver, ID: driverID}, now); err != nil {
			return err
		}
		started = r
		return s.enqueue(ctx, tx, notify.EventRideStarted, r, StatusAccepted, nil)
	})
	if err != nil {
		return nil, err
	}
	s.kick()
	return started, nil
}

// Finish completes the ride, frees the driver and settles the driver's
// earning in one transaction.
func (s *Service) Finish(ctx context.Context, tenantID, rideID, driverID types.ID) (*Ride, *settlement.Transaction, error) {
	now := s.now().UTC()
	var finished *Ride
	var txn *settlement.Transaction
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		r, err := s.lockFor(ctx, tx, tenantID, rideID, StatusFinished)
		if err != nil {
			return err
		}
		if !r.AssignedTo(driverID) {
			return ErrNotAssignedDriver
		}
		r.FinishedAt = &now
		if err := s.advance(ctx, tx, r, StatusFinished, Actor{Type: ActorDriver, ID: driverID}, now); err != nil {
			return err
		}
		if err := tx.ReleaseDriver(ctx, tenantID, driverID, true); err != nil {
			return err
		}
		txn, err = s.ledger.Settle(ctx, tx, settlement.Earning{
			TenantID: r.TenantID,
			RideID:   r.ID,
			DriverID: driverID,
			Amount:   r.FareDriver,
		})
		if err != nil {
			return err
		}
		finished = r
		return s.enqueue(ctx, tx, notify.EventRideFinished, r, StatusStarted, map[string]any{
			"fare_total":  r.FareTotal,
			"fare_driver": r.FareDriver,
		})
	})
	if err != nil {
		return nil, nil, err
	}
	s.kick()
	s.log.WithFields(logrus.Fields{"ride_id": rideID, "driver_id": driverID, "earning_cents": txn.Amount.Amount}).Info("ride finished")
	return finished, txn, nil
}

// Cancel ends a non-terminal ride. A driver may cancel only a ride assigned
// to them and a client only their own ride. The assigned driver, if any,
// goes back online.
func (s *Service) Cancel(ctx context.Context, tenantID, rideID types.ID, reason string, actor Actor) (*Ride, error) {
	switch actor.Type {
	case ActorClient, ActorDriver:
		if actor.ID == "" {
			return nil, fmt.Errorf("%w: actor id is required", ErrValidation)
		}
	case ActorAdmin, ActorSystem:
	default:
		return nil, fmt.Errorf("%w: unknown actor %q", ErrValidation, actor.Type)
	}

	now := s.now().UTC()
	payload := map[string]any{"reason": reason, "cancelled_by": actor}
	var cancelled *Ride
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		r, err := s.lockFor(ctx, tx, tenantID, rideID, StatusCancelled)
		if err != nil {
			return err
		}
		switch {
		case actor.Type == ActorDriver && !r.AssignedTo(actor.ID):
			return ErrNotAssignedDriver
		case actor.Type == ActorClient && r.ClientID != actor.ID:
			return ErrNotRideClient
		}
		from := r.Status
		released := r.DriverID
		r.DriverID = nil
		r.CancelledAt = &now
		r.CancelReason = &reason
		by := actor
		r.CancelledBy = &by
		if err := s.advance(ctx, tx, r, StatusCancelled, actor, now); err != nil {
			return err
		}
		e := s.event(notify.EventRideCancelled, r, from, payload)
		msgs := s.messages(e, r)
		if released != nil {
			if err := tx.ReleaseDriver(ctx, tenantID, *released, false); err != nil {
				return err
			}
			// The ride no longer references the driver, so tell them directly.
			e.DriverID = *released
			msgs = append(msgs, &Message{RideID: r.ID, Topic: notify.DriverTopic(tenantID, *released), Event: e, CreatedAt: now})
		}
		cancelled = r
		return tx.Enqueue(ctx, msgs...)
	})
	if err != nil {
		return nil, err
	}
	s.kick()
	return cancelled, nil
}

// ExpirePending marks rides that stayed pending past the offer timeout as
// unmatched and returns how many were changed.
func (s *Service) ExpirePending(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.opts.OfferTimeout)
	stale, err := s.store.ListStalePending(ctx, cutoff, 100)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range stale {
		changed, err := s.markUnmatched(ctx, r.TenantID, r.ID, &cutoff)
		if err != nil {
			return n, err
		}
		if changed != nil {
			n++
		}
	}
	return n, nil
}

// RunPendingSweeper calls ExpirePending every interval until ctx is done.
func (s *Service) RunPendingSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ExpirePending(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.log.WithError(err).Error("expire pending rides")
				continue
			}
			if n > 0 {
				s.log.WithField("count", n).Info("pending rides expired")
			}
		}
	}
}

// markUnmatched moves a still-pending ride to unmatched. When createdBefore
// is set, rides created at or after it are left alone. It returns nil when
// the ride was no longer eligible.
func (s *Service) markUnmatched(ctx context.Context, tenantID, rideID types.ID, createdBefore *time.Time) (*Ride, error) {
	now := s.now().UTC()
	var out *Ride
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		r, err := tx.LockRide(ctx, tenantID, rideID)
		if err != nil {
			return err
		}
		if r.Status != StatusPending {
			return nil
		}
		if createdBefore != nil && !r.CreatedAt.Before(*createdBefore) {
			return nil
		}
		if err := s.advance(ctx, tx, r, StatusUnmatched, Actor{Type: ActorSystem}, now); err != nil {
			return err
		}
		out = r
		return s.enqueue(ctx, tx, notify.EventRideUnmatched, r, StatusPending, nil)
	})
	if err != nil || out == nil {
		return nil, err
	}
	s.kick()
	s.log.WithField("ride_id", rideID).Info("ride unmatched")
	return out, nil
}

func (s *Service) Overview(ctx context.Context, tenantID types.ID) (*Overview, error) {
	now := s.now().In(s.opts.Location)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.opts.Location)
	return s.store.Overview(ctx, tenantID, dayStart)
}

// PlatformOverview summarises every tenant for the platform operator.
func (s *Service) PlatformOverview(ctx context.Context) (*PlatformOverview, error) {
	now := s.now().In(s.opts.Location)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.opts.Location)
	return s.store.PlatformOverview(ctx, dayStart)
}

func (s *Service) lockFor(ctx context.Context, tx Tx, tenantID, rideID types.ID, to Status) (*Ride, error) {
	r, err := tx.LockRide(ctx, tenantID, rideID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(r.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	return r, nil
}

// advance writes r with status to, bumping its version, and records the audit event.
func (s *Service) advance(ctx context.Context, tx Tx, r *Ride, to Status, actor Actor, at time.Time) error {
	from, fromVersion := r.Status, r.StatusVersion
	r.Status = to
	r.StatusVersion = fromVersion + 1
	ok, err := tx.UpdateRide(ctx, r, fromVersion)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return tx.AppendEvent(ctx, s.audit(r, from, actor, at))
}

func (s *Service) audit(r *Ride, from Status, actor Actor, at time.Time) *Event {
	e := &Event{
		RideID:     r.ID,
		FromStatus: from,
		ToStatus:   r.Status,
		ActorType:  actor.Type,
		Version:    r.StatusVersion,
		CreatedAt:  at,
	}
	if actor.ID != "" {
		id := actor.ID
		e.ActorID = &id
	}
	return e
}

func (s *Service) event(typ string, r *Ride, prev Status, payload map[string]any) notify.Event {
	e := notify.Event{
		Type:       typ,
		RideID:     r.ID,
		TenantID:   r.TenantID,
		Status:     string(r.Status),
		Version:    r.StatusVersion,
		ClientID:   r.ClientID,
		Payload:    payload,
		OccurredAt: s.now().UTC(),
	}
	if prev != StatusNone {
		e.PreviousStatus = string(prev)
	}
	if r.DriverID != nil {
		e.DriverID = *r.DriverID
	}
	return e
}

func (s *Service) send(ctx context.Context, topic notify.Topic, e notify.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, topic, e); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"topic": topic.String(), "event": e.Type, "ride_id": e.RideID}).Warn("publish ride event")
	}
}

// confirmationCode returns a 4-digit code the client reads to the driver.
func confirmationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("confirmation code: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}
