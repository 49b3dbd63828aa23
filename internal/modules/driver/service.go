// README: Driver service handles the manual availability toggle and location updates.
package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"rebeca/internal/types"
)

type Store interface {
	Create(ctx context.Context, d *Driver) error
	Get(ctx context.Context, tenantID, id types.ID) (*Driver, error)
	ListAvailable(ctx context.Context, tenantID types.ID) ([]Driver, error)
	// SetStatus moves the driver between offline and online. It must not
	// touch a driver that is in_ride and reports false in that case.
	SetStatus(ctx context.Context, tenantID, id types.ID, to Status) (bool, error)
	UpdateLocation(ctx context.Context, tenantID, id types.ID, p types.Point, at time.Time) (bool, error)
}

type Service struct {
	store Store
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewService(store Store, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{store: store, log: log.WithField("module", "driver"), now: time.Now}
}

type RegisterCommand struct {
	TenantID types.ID
	Name     string
	Phone    string
}

func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*Driver, error) {
	if cmd.TenantID == "" || cmd.Name == "" {
		return nil, fmt.Errorf("%w: tenant and name are required", ErrBadRequest)
	}
	d := &Driver{
		ID:        types.NewID(),
		TenantID:  cmd.TenantID,
		Name:      cmd.Name,
		Phone:     cmd.Phone,
		Status:    StatusOffline,
		Rating:    5.0,
		Active:    true,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id types.ID) (*Driver, error) {
	return s.store.Get(ctx, tenantID, id)
}

// SetAvailability toggles a driver between online and offline. Drivers in a
// ride are managed by the ride lifecycle and cannot be toggled.
func (s *Service) SetAvailability(ctx context.Context, tenantID, id types.ID, online bool) (*Driver, error) {
	d, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if online && !d.Active {
		return nil, ErrInactive
	}
	to := StatusOffline
	if online {
		to = StatusOnline
	}
	ok, err := s.store.SetStatus(ctx, tenantID, id, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBusy
	}
	s.log.WithFields(logrus.Fields{"tenant_id": tenantID, "driver_id": id, "status": to}).Info("driver availability changed")
	return s.store.Get(ctx, tenantID, id)
}

func (s *Service) UpdateLocation(ctx context.Context, tenantID, id types.ID, p types.Point) error {
	if !p.Valid() {
		return fmt.Errorf("%w: coordinates out of range", ErrBadRequest)
	}
	ok, err := s.store.UpdateLocation(ctx, tenantID, id, p, s.now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
