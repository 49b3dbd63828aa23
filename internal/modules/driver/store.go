// README: Driver store backed by PostgreSQL.
package driver

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rebeca/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const driverColumns = `id, tenant_id, name, COALESCE(phone, ''), status, lat, lng, location_updated_at,
	ride_count, total_earnings, rating, active, created_at`

func (s *PGStore) Create(ctx context.Context, d *Driver) error {
	var lat, lng *float64
	if d.Location != nil {
		lat, lng = &d.Location.Lat, &d.Location.Lng
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO drivers (id, tenant_id, name, phone, status, lat, lng, location_updated_at,
		                     ride_count, total_earnings, rating, active, created_at)
		VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		d.ID, d.TenantID, d.Name, d.Phone, d.Status, lat, lng, d.LocationUpdatedAt,
		d.RideCount, d.TotalEarnings, d.Rating, d.Active, d.CreatedAt)
	return err
}

func (s *PGStore) Get(ctx context.Context, tenantID, id types.ID) (*Driver, error) {
	row := s.db.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	d, err := ScanDriver(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListAvailable returns the tenant's online, active drivers with a known position.
func (s *PGStore) ListAvailable(ctx context.Context, tenantID types.ID) ([]Driver, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+driverColumns+`
		FROM drivers
		WHERE tenant_id = $1 AND status = 'online' AND active
		  AND lat IS NOT NULL AND lng IS NOT NULL
		ORDER BY id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Driver
	for rows.Next() {
		d, err := ScanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *PGStore) SetStatus(ctx context.Context, tenantID, id types.ID, to Status) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers SET status = $3
		WHERE id = $1 AND tenant_id = $2 AND status <> 'in_ride'`, id, tenantID, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) UpdateLocation(ctx context.Context, tenantID, id types.ID, p types.Point, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers SET lat = $3, lng = $4, location_updated_at = $5
		WHERE id = $1 AND tenant_id = $2`, id, tenantID, p.Lat, p.Lng, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ScanDriver reads one row selected with driverColumns.
func ScanDriver(row pgx.Row) (*Driver, error) {
	var d Driver
	var lat, lng *float64
	err := row.Scan(&d.ID, &d.TenantID, &d.Name, &d.Phone, &d.Status, &lat, &lng, &d.LocationUpdatedAt,
		&d.RideCount, &d.TotalEarnings, &d.Rating, &d.Active, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		d.Location = &types.Point{Lat: *lat, Lng: *lng}
	}
	return &d, nil
}
