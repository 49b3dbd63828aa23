// README: Ride store backed by PostgreSQL; transitions run inside pgx transactions.
package ride

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"rebeca/internal/modules/settlement"
	"rebeca/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const rideColumns = `id, tenant_id, client_id, driver_id, status, status_version,
	origin_address, origin_lat, origin_lng, destination_address, destination_lat, destination_lng,
	distance_km, duration_min, fare_total, fare_driver, fare_tenant, currency,
	payment_method, confirmation_code, cancel_reason, cancelled_by, cancelled_by_id,
	created_at, accepted_at, started_at, finished_at, cancelled_at`

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PGStore) Create(ctx context.Context, r *Ride, e *Event, msgs []*Message) error {
	return s.withTx(ctx, func(tx *pgTx) error {
		_, err := tx.tx.Exec(ctx, `
			INSERT INTO rides (`+rideColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)`,
			r.ID, r.TenantID, r.ClientID, r.DriverID, r.Status, r.StatusVersion,
			r.Origin.Address, r.Origin.Point.Lat, r.Origin.Point.Lng,
			r.Destination.Address, r.Destination.Point.Lat, r.Destination.Point.Lng,
			r.DistanceKm, r.DurationMin, r.FareTotal.Amount, r.FareDriver.Amount, r.FareTenant.Amount, r.FareTotal.Currency,
			r.PaymentMethod, r.ConfirmationCode, r.CancelReason, actorType(r.CancelledBy), actorID(r.CancelledBy),
			r.CreatedAt, r.AcceptedAt, r.StartedAt, r.FinishedAt, r.CancelledAt,
		)
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, e); err != nil {
			return err
		}
		return tx.Enqueue(ctx, msgs...)
	})
}

func (s *PGStore) Get(ctx context.Context, tenantID, id types.ID) (*Ride, error) {
	return getRide(ctx, s.db, tenantID, id, "")
}

// WithinTx runs fn in a read-committed transaction, committing only if fn
// returns nil.
func (s *PGStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.withTx(ctx, func(tx *pgTx) error { return fn(tx) })
}

func (s *PGStore) withTx(ctx context.Context, fn func(tx *pgTx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx, PGTx: settlement.PGTx{Tx: tx}}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PGStore) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*Ride, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+rideColumns+`
		FROM rides
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) Overview(ctx context.Context, tenantID types.ID, dayStart time.Time) (*Overview, error) {
	o := &Overview{ByStatus: map[Status]int{}}
	err := s.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM drivers WHERE tenant_id = $1 AND active),
			(SELECT COUNT(*) FROM drivers WHERE tenant_id = $1 AND active AND status = 'online'),
			(SELECT COUNT(*) FROM rides WHERE tenant_id = $1),
			(SELECT COUNT(*) FROM rides WHERE tenant_id = $1 AND created_at >= $2)`,
		tenantID, dayStart,
	).Scan(&o.ActiveDrivers, &o.OnlineDrivers, &o.RidesTotal, &o.RidesToday)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM rides WHERE tenant_id = $1 GROUP BY status`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var st Status
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		o.ByStatus[st] = n
	}
	return o, rows.Err()
}

func (s *PGStore) PlatformOverview(ctx context.Context, dayStart time.Time) (*PlatformOverview, error) {
	o := &PlatformOverview{}
	err := s.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM (
				SELECT tenant_id FROM drivers
				UNION SELECT tenant_id FROM price_configs
				UNION SELECT tenant_id FROM rides) t),
			(SELECT COUNT(*) FROM drivers),
			(SELECT COUNT(*) FROM drivers WHERE active),
			(SELECT COUNT(*) FROM rides),
			(SELECT COUNT(*) FROM rides WHERE created_at >= $1)`,
		dayStart,
	).Scan(&o.Tenants, &o.Drivers, &o.ActiveDrivers, &o.RidesTotal, &o.RidesToday)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// outboxLock keys the advisory lock held by the draining relay.
const outboxLock = 0x72656265

// DrainOutbox delivers the oldest limit messages under a transaction-scoped
// advisory lock, then deletes them in the same transaction.
func (s *PGStore) DrainOutbox(ctx context.Context, limit int, deliver func(ctx context.Context, m *Message)) (int, error) {
	n := 0
	err := s.withTx(ctx, func(tx *pgTx) error {
		if _, err := tx.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, outboxLock); err != nil {
			return fmt.Errorf("lock outbox: %w", err)
		}
		rows, err := tx.tx.Query(ctx, `
			SELECT seq, ride_id, topic, event, created_at
			FROM ride_outbox
			ORDER BY seq
			LIMIT $1`, limit)
		if err != nil {
			return err
		}
		var msgs []*Message
		for rows.Next() {
			var m Message
			var topic, event []byte
			if err := rows.Scan(&m.Seq, &m.RideID, &topic, &event, &m.CreatedAt); err != nil {
				rows.Close()
				return err
			}
			if err := json.Unmarshal(topic, &m.Topic); err != nil {
				rows.Close()
				return fmt.Errorf("decode outbox topic %d: %w", m.Seq, err)
			}
			if err := json.Unmarshal(event, &m.Event); err != nil {
				rows.Close()
				return fmt.Errorf("decode outbox event %d: %w", m.Seq, err)
			}
			msgs = append(msgs, &m)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}

		seqs := make([]int64, 0, len(msgs))
		for _, m := range msgs {
			deliver(ctx, m)
			seqs = append(seqs, m.Seq)
		}
		if _, err := tx.tx.Exec(ctx, `DELETE FROM ride_outbox WHERE seq = ANY($1)`, seqs); err != nil {
			return err
		}
		n = len(msgs)
		return nil
	})
	return n, err
}

type pgTx struct {
	settlement.PGTx
	tx pgx.Tx
}

func (t *pgTx) ClaimPending(ctx context.Context, tenantID, rideID, driverID types.ID, at time.Time) (*Ride, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE rides
		SET driver_id = $3,
		    status = 'accepted',
		    accepted_at = $4,
		    status_version = status_version + 1
		WHERE id = $1 AND tenant_id = $2 AND status = 'pending'
		RETURNING `+rideColumns,
		rideID, tenantID, driverID, at,
	)
	r, err := scanRide(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "rides_one_active_per_driver_idx" {
		return nil, ErrDriverUnavailable
	}
	return r, err
}

func (t *pgTx) LockRide(ctx context.Context, tenantID, rideID types.ID) (*Ride, error) {
	return getRide(ctx, t.tx, tenantID, rideID, "FOR UPDATE")
}

func (t *pgTx) UpdateRide(ctx context.Context, r *Ride, fromVersion int) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE rides
		SET status = $3,
		    status_version = $4,
		    driver_id = $5,
		    accepted_at = $6,
		    started_at = $7,
		    finished_at = $8,
		    cancelled_at = $9,
		    cancel_reason = $10,
		    cancelled_by = $11,
		    cancelled_by_id = $12
		WHERE id = $1 AND tenant_id = $2 AND status_version = $13`,
		r.ID, r.TenantID, r.Status, r.StatusVersion, r.DriverID,
		r.AcceptedAt, r.StartedAt, r.FinishedAt, r.CancelledAt,
		r.CancelReason, actorType(r.CancelledBy), actorID(r.CancelledBy),
		fromVersion,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) ClaimDriver(ctx context.Context, tenantID, driverID types.ID) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE drivers SET status = 'in_ride'
		WHERE id = $1 AND tenant_id = $2 AND status = 'online' AND active`, driverID, tenantID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM drivers WHERE id = $1 AND tenant_id = $2)`,
		driverID, tenantID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrDriverNotFound
	}
	return false, nil
}

func (t *pgTx) ReleaseDriver(ctx context.Context, tenantID, driverID types.ID, completed bool) error {
	inc := 0
	if completed {
		inc = 1
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE drivers SET status = 'online', ride_count = ride_count + $3
		WHERE id = $1 AND tenant_id = $2 AND status = 'in_ride'`, driverID, tenantID, inc)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: driver %s is not in a ride", ErrConflict, driverID)
	}
	return nil
}

func (t *pgTx) AppendEvent(ctx context.Context, e *Event) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ride_events (ride_id, from_status, to_status, actor_type, actor_id, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.RideID, e.FromStatus, e.ToStatus, e.ActorType, e.ActorID, e.Version, e.CreatedAt,
	)
	return err
}

func (t *pgTx) Enqueue(ctx context.Context, msgs ...*Message) error {
	for _, m := range msgs {
		topic, err := json.Marshal(m.Topic)
		if err != nil {
			return fmt.Errorf("encode outbox topic: %w", err)
		}
		event, err := json.Marshal(m.Event)
		if err != nil {
			return fmt.Errorf("encode outbox event: %w", err)
		}
		if err := t.tx.QueryRow(ctx, `
			INSERT INTO ride_outbox (ride_id, topic, event, created_at)
			VALUES ($1, $2, $3, $4)
			RETURNING seq`,
			m.RideID, topic, event, m.CreatedAt,
		).Scan(&m.Seq); err != nil {
			return err
		}
	}
	return nil
}

func getRide(ctx context.Context, q querier, tenantID, id types.ID, suffix string) (*Ride, error) {
	row := q.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1 AND tenant_id = $2 `+suffix, id, tenantID)
	r, err := scanRide(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRideNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func scanRide(row pgx.Row) (*Ride, error) {
	var r Ride
	var currency string
	var cancelledBy, cancelledByID *string
	err := row.Scan(
		&r.ID, &r.TenantID, &r.ClientID, &r.DriverID, &r.Status, &r.StatusVersion,
		&r.Origin.Address, &r.Origin.Point.Lat, &r.Origin.Point.Lng,
		&r.Destination.Address, &r.Destination.Point.Lat, &r.Destination.Point.Lng,
		&r.DistanceKm, &r.DurationMin, &r.FareTotal.Amount, &r.FareDriver.Amount, &r.FareTenant.Amount, &currency,
		&r.PaymentMethod, &r.ConfirmationCode, &r.CancelReason, &cancelledBy, &cancelledByID,
		&r.CreatedAt, &r.AcceptedAt, &r.StartedAt, &r.FinishedAt, &r.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	r.FareTotal.Currency = currency
	r.FareDriver.Currency = currency
	r.FareTenant.Currency = currency
	if cancelledBy != nil {
		a := Actor{Type: ActorType(*cancelledBy)}
		if cancelledByID != nil {
			a.ID = types.ID(*cancelledByID)
		}
		r.CancelledBy = &a
	}
	return &r, nil
}

func actorType(a *Actor) *string {
	if a == nil {
		return nil
	}
	s := string(a.Type)
	return &s
}

func actorID(a *Actor) *string {
	if a == nil || a.ID == "" {
		return nil
	}
	s := string(a.ID)
	return &s
}
