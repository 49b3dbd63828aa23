// Package memory is an in-process implementation of the ride, driver and
// pricing stores for tests and single-node local runs. Transactions hold one
// lock and mutate the live state in place; every touched row is journaled
// first and restored if the transaction fails.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"rebeca/internal/modules/driver"
	"rebeca/internal/modules/pricing"
	"rebeca/internal/modules/ride"
	"rebeca/internal/modules/settlement"
	"rebeca/internal/types"
)

type state struct {
	rides   map[types.ID]*ride.Ride
	drivers map[types.ID]*driver.Driver
	configs map[types.ID]pricing.Config
	// txns is keyed by ride id.
	txns    map[types.ID]*settlement.Transaction
	events  []ride.Event
	outbox  []ride.Message
	nextSeq int64
}

func newState() *state {
	return &state{
		rides:   map[types.ID]*ride.Ride{},
		drivers: map[types.ID]*driver.Driver{},
		configs: map[types.ID]pricing.Config{},
		txns:    map[types.ID]*settlement.Transaction{},
	}
}

func cloneDriver(d *driver.Driver) *driver.Driver {
	c := *d
	if d.Location != nil {
		p := *d.Location
		c.Location = &p
	}
	if d.LocationUpdatedAt != nil {
		t := *d.LocationUpdatedAt
		c.LocationUpdatedAt = &t
	}
	return &c
}

// journal records the pre-transaction value of every row a transaction
// touches. A nil entry means the row did not exist.
type journal struct {
	st      *state
	rides   map[types.ID]*ride.Ride
	drivers map[types.ID]*driver.Driver
	configs map[types.ID]*pricing.Config
	txns    map[types.ID]*settlement.Transaction
	events  int
	outbox  int
	nextSeq int64
}

func newJournal(st *state) *journal {
	return &journal{
		st:      st,
		rides:   map[types.ID]*ride.Ride{},
		drivers: map[types.ID]*driver.Driver{},
		configs: map[types.ID]*pricing.Config{},
		txns:    map[types.ID]*settlement.Transaction{},
		events:  len(st.events),
		outbox:  len(st.outbox),
		nextSeq: st.nextSeq,
	}
}

// ride returns the live ride for mutation.
func (j *journal) ride(id types.ID) (*ride.Ride, bool) {
	r, ok := j.st.rides[id]
	if _, seen := j.rides[id]; !seen {
		if ok {
			j.rides[id] = r.Clone()
		} else {
			j.rides[id] = nil
		}
	}
	return r, ok
}

func (j *journal) putRide(r *ride.Ride) {
	j.ride(r.ID)
	j.st.rides[r.ID] = r.Clone()
}

// driver returns the live driver for mutation.
func (j *journal) driver(id types.ID) (*driver.Driver, bool) {
	d, ok := j.st.drivers[id]
	if _, seen := j.drivers[id]; !seen {
		if ok {
			j.drivers[id] = cloneDriver(d)
		} else {
			j.drivers[id] = nil
		}
	}
	return d, ok
}

func (j *journal) putDriver(d *driver.Driver) {
	j.driver(d.ID)
	j.st.drivers[d.ID] = cloneDriver(d)
}

func (j *journal) putConfig(c pricing.Config) {
	if _, seen := j.configs[c.TenantID]; !seen {
		if prev, ok := j.st.configs[c.TenantID]; ok {
			j.configs[c.TenantID] = &prev
		} else {
			j.configs[c.TenantID] = nil
		}
	}
	j.st.configs[c.TenantID] = c
}

func (j *journal) putTxn(t *settlement.Transaction) {
	if _, seen := j.txns[t.RideID]; !seen {
		if prev, ok := j.st.txns[t.RideID]; ok {
			c := *prev
			j.txns[t.RideID] = &c
		} else {
			j.txns[t.RideID] = nil
		}
	}
	c := *t
	j.st.txns[t.RideID] = &c
}

func (j *journal) appendEvent(e ride.Event) {
	e.ID = int64(len(j.st.events) + 1)
	j.st.events = append(j.st.events, e)
}

func (j *journal) enqueue(m *ride.Message) {
	j.st.nextSeq++
	m.Seq = j.st.nextSeq
	j.st.outbox = append(j.st.outbox, *m)
}

// rollback restores every journaled row.
func (j *journal) rollback() {
	for id, r := range j.rides {
		if r == nil {
			delete(j.st.rides, id)
		} else {
			j.st.rides[id] = r
		}
	}
	for id, d := range j.drivers {
		if d == nil {
			delete(j.st.drivers, id)
		} else {
			j.st.drivers[id] = d
		}
	}
	for id, c := range j.configs {
		if c == nil {
			delete(j.st.configs, id)
		} else {
			j.st.configs[id] = *c
		}
	}
	for id, t := range j.txns {
		if t == nil {
			delete(j.st.txns, id)
		} else {
			j.st.txns[id] = t
		}
	}
	j.st.events = j.st.events[:j.events]
	j.st.outbox = j.st.outbox[:j.outbox]
	j.st.nextSeq = j.nextSeq
}

type DB struct {
	mu sync.Mutex
	st *state

	// drainMu serializes outbox drains, which deliver outside mu.
	drainMu sync.Mutex
}

func New() *DB {
	return &DB{st: newState()}
}

func (db *DB) Rides() *RideStore { return &RideStore{db: db} }
func (db *DB) Drivers() *DriverStore { return &DriverStore{db: db} }
func (db *DB) Prices() *PriceStore { return &PriceStore{db: db} }
func (db *DB) Ledger() *LedgerReader { return &LedgerReader{db: db} }

func (db *DB) read(fn func(st *state)) {
	db.mu.Lock()
	defer db.mu.Unlock()
	fn(db.st)
}

// update runs fn against the live state and undoes its writes if fn fails.
func (db *DB) update(ctx context.Context, fn func(j *journal) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	j := newJournal(db.st)
	if err := fn(j); err != nil {
		j.rollback()
		return err
	}
	return nil
}

type RideStore struct {
	db *DB
}

func (s *RideStore) Create(ctx context.Context, r *ride.Ride, e *ride.Event, msgs []*ride.Message) error {
	return s.db.update(ctx, func(j *journal) error {
		j.putRide(r)
		j.appendEvent(*e)
		for _, m := range msgs {
			j.enqueue(m)
		}
		return nil
	})
}

func (s *RideStore) Get(ctx context.Context, tenantID, id types.ID) (*ride.Ride, error) {
	var out *ride.Ride
	var err error
	s.db.read(func(st *state) {
		out, err = lookupRide(st, tenantID, id)
	})
	return out, err
}

func (s *RideStore) WithinTx(ctx context.Context, fn func(tx ride.Tx) error) error {
	return s.db.update(ctx, func(j *journal) error {
		return fn(&tx{j: j})
	})
}

func (s *RideStore) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*ride.Ride, error) {
	var out []*ride.Ride
	s.db.read(func(st *state) {
		for _, r := range st.rides {
			if r.Status == ride.StatusPending && r.CreatedAt.Before(createdBefore) {
				out = append(out, r.Clone())
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *RideStore) Overview(ctx context.Context, tenantID types.ID, dayStart time.Time) (*ride.Overview, error) {
	o := &ride.Overview{ByStatus: map[ride.Status]int{}}
	s.db.read(func(st *state) {
		for _, d := range st.drivers {
			if d.TenantID != tenantID || !d.Active {
				continue
			}
			o.ActiveDrivers++
			if d.Status == driver.StatusOnline {
				o.OnlineDrivers++
			}
		}
		for _, r := range st.rides {
			if r.TenantID != tenantID {
				continue
			}
			o.RidesTotal++
			if !r.CreatedAt.Before(dayStart) {
				o.RidesToday++
			}
			o.ByStatus[r.Status]++
		}
	})
	return o, nil
}

func (s *RideStore) PlatformOverview(ctx context.Context, dayStart time.Time) (*ride.PlatformOverview, error) {
	o := &ride.PlatformOverview{}
	s.db.read(func(st *state) {
		tenants := map[types.ID]struct{}{}
		for _, d := range st.drivers {
			tenants[d.TenantID] = struct{}{}
			o.Drivers++
			if d.Active {
				o.ActiveDrivers++
			}
		}
		for id := range st.configs {
			tenants[id] = struct{}{}
		}
		for _, r := range st.rides {
			tenants[r.TenantID] = struct{}{}
			o.RidesTotal++
			if !r.CreatedAt.Before(dayStart) {
				o.RidesToday++
			}
		}
		o.Tenants = len(tenants)
	})
	return o, nil
}

// DrainOutbox copies the oldest messages under the lock, delivers them
// without it, and then drops them from the head of the outbox.
func (s *RideStore) DrainOutbox(ctx context.Context, limit int, deliver func(ctx context.Context, m *ride.Message)) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.db.drainMu.Lock()
	defer s.db.drainMu.Unlock()

	var batch []ride.Message
	s.db.read(func(st *state) {
		n := len(st.outbox)
		if limit > 0 && n > limit {
			n = limit
		}
		batch = append(batch, st.outbox[:n]...)
	})
	if len(batch) == 0 {
		return 0, nil
	}
	for i := range batch {
		deliver(ctx, &batch[i])
	}
	last := batch[len(batch)-1].Seq
	s.db.read(func(st *state) {
		i := 0
		for i < len(st.outbox) && st.outbox[i].Seq <= last {
			i++
		}
		st.outbox = append([]ride.Message(nil), st.outbox[i:]...)
	})
	return len(batch), nil
}

// Outbox returns the undelivered messages in delivery order.
func (s *RideStore) Outbox() []ride.Message {
	var out []ride.Message
	s.db.read(func(st *state) {
		out = append(out, st.outbox...)
	})
	return out
}

// Events returns the audit trail of one ride in write order.
func (s *RideStore) Events(rideID types.ID) []ride.Event {
	var out []ride.Event
	s.db.read(func(st *state) {
		for _, e := range st.events {
			if e.RideID == rideID {
				out = append(out, e)
			}
		}
	})
	return out
}

func lookupRide(st *state, tenantID, id types.ID) (*ride.Ride, error) {
	r, ok := st.rides[id]
	if !ok || r.TenantID != tenantID {
		return nil, ride.ErrRideNotFound
	}
	return r.Clone(), nil
}

type tx struct {
	j *journal
}

func (t *tx) ClaimPending(_ context.Context, tenantID, rideID, driverID types.ID, at time.Time) (*ride.Ride, error) {
	cur, ok := t.j.st.rides[rideID]
	if !ok || cur.TenantID != tenantID || cur.Status != ride.StatusPending {
		return nil, nil
	}
	for _, other := range t.j.st.rides {
		if other.AssignedTo(driverID) && (other.Status == ride.StatusAccepted || other.Status == ride.StatusStarted) {
			return nil, ride.ErrDriverUnavailable
		}
	}
	r, _ := t.j.ride(rideID)
	d := driverID
	accepted := at
	r.DriverID = &d
	r.Status = ride.StatusAccepted
	r.AcceptedAt = &accepted
	r.StatusVersion++
	return r.Clone(), nil
}

func (t *tx) LockRide(_ context.Context, tenantID, rideID types.ID) (*ride.Ride, error) {
	return lookupRide(t.j.st, tenantID, rideID)
}

func (t *tx) UpdateRide(_ context.Context, r *ride.Ride, fromVersion int) (bool, error) {
	cur, ok := t.j.st.rides[r.ID]
	if !ok || cur.TenantID != r.TenantID || cur.StatusVersion != fromVersion {
		return false, nil
	}
	t.j.putRide(r)
	return true, nil
}

func (t *tx) ClaimDriver(_ context.Context, tenantID, driverID types.ID) (bool, error) {
	d, ok := t.j.st.drivers[driverID]
	if !ok || d.TenantID != tenantID {
		return false, ride.ErrDriverNotFound
	}
	if d.Status != driver.StatusOnline || !d.Active {
		return false, nil
	}
	d, _ = t.j.driver(driverID)
	d.Status = driver.StatusInRide
	return true, nil
}

func (t *tx) ReleaseDriver(_ context.Context, tenantID, driverID types.ID, completed bool) error {
	d, ok := t.j.st.drivers[driverID]
	if !ok || d.TenantID != tenantID || d.Status != driver.StatusInRide {
		return ride.ErrConflict
	}
	d, _ = t.j.driver(driverID)
	d.Status = driver.StatusOnline
	if completed {
		d.RideCount++
	}
	return nil
}

func (t *tx) AppendEvent(_ context.Context, e *ride.Event) error {
	t.j.appendEvent(*e)
	return nil
}

func (t *tx) Enqueue(_ context.Context, msgs ...*ride.Message) error {
	for _, m := range msgs {
		t.j.enqueue(m)
	}
	return nil
}

func (t *tx) InsertTransaction(_ context.Context, txn *settlement.Transaction) (bool, error) {
	if _, ok := t.j.st.txns[txn.RideID]; ok {
		return false, nil
	}
	t.j.putTxn(txn)
	return true, nil
}

func (t *tx) AddDriverEarnings(_ context.Context, tenantID, driverID types.ID, amount int64) error {
	d, ok := t.j.driver(driverID)
	if !ok || d.TenantID != tenantID {
		return driver.ErrNotFound
	}
	d.TotalEarnings += amount
	return nil
}

type DriverStore struct {
	db *DB
}

func (s *DriverStore) Create(ctx context.Context, d *driver.Driver) error {
	return s.db.update(ctx, func(j *journal) error {
		j.putDriver(d)
		return nil
	})
}

func (s *DriverStore) Get(ctx context.Context, tenantID, id types.ID) (*driver.Driver, error) {
	var out *driver.Driver
	s.db.read(func(st *state) {
		if d, ok := st.drivers[id]; ok && d.TenantID == tenantID {
			out = cloneDriver(d)
		}
	})
	if out == nil {
		return nil, driver.ErrNotFound
	}
	return out, nil
}

func (s *DriverStore) ListAvailable(ctx context.Context, tenantID types.ID) ([]driver.Driver, error) {
	var out []driver.Driver
	s.db.read(func(st *state) {
		for _, d := range st.drivers {
			if d.TenantID == tenantID && d.Available() {
				out = append(out, *cloneDriver(d))
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *DriverStore) SetStatus(ctx context.Context, tenantID, id types.ID, to driver.Status) (bool, error) {
	changed := false
	err := s.db.update(ctx, func(j *journal) error {
		d, ok := j.driver(id)
		if !ok || d.TenantID != tenantID || d.Status == driver.StatusInRide {
			return nil
		}
		d.Status = to
		changed = true
		return nil
	})
	return changed, err
}

func (s *DriverStore) UpdateLocation(ctx context.Context, tenantID, id types.ID, p types.Point, at time.Time) (bool, error) {
	changed := false
	err := s.db.update(ctx, func(j *journal) error {
		d, ok := j.driver(id)
		if !ok || d.TenantID != tenantID {
			return nil
		}
		pos, when := p, at
		d.Location = &pos
		d.LocationUpdatedAt = &when
		changed = true
		return nil
	})
	return changed, err
}

type PriceStore struct {
	db *DB
}

func (s *PriceStore) GetConfig(ctx context.Context, tenantID types.ID) (pricing.Config, error) {
	var cfg pricing.Config
	var ok bool
	s.db.read(func(st *state) {
		cfg, ok = st.configs[tenantID]
	})
	if !ok {
		return pricing.Config{}, pricing.ErrConfigNotFound
	}
	return cfg, nil
}

func (s *PriceStore) UpsertConfig(ctx context.Context, c pricing.Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return s.db.update(ctx, func(j *journal) error {
		j.putConfig(c)
		return nil
	})
}

type LedgerReader struct {
	db *DB
}

func (s *LedgerReader) GetByRide(ctx context.Context, tenantID, rideID types.ID) (*settlement.Transaction, error) {
	var out *settlement.Transaction
	s.db.read(func(st *state) {
		if t, ok := st.txns[rideID]; ok && t.TenantID == tenantID {
			c := *t
			out = &c
		}
	})
	if out == nil {
		return nil, settlement.ErrNotFound
	}
	return out, nil
}
