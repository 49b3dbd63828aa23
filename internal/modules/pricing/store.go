// README: Pricing store backed by PostgreSQL.
package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rebeca/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) GetConfig(ctx context.Context, tenantID types.ID) (Config, error) {
	var c Config
	err := s.db.QueryRow(ctx, `
		SELECT tenant_id, base_fare, per_km, per_minute, minimum_fare,
		       night_surcharge_pct, night_start_hour, night_end_hour, driver_share_pct, timezone
		FROM price_configs WHERE tenant_id = $1`, tenantID,
	).Scan(&c.TenantID, &c.BaseFare, &c.PerKm, &c.PerMinute, &c.MinimumFare,
		&c.NightSurchargePct, &c.NightStartHour, &c.NightEndHour, &c.DriverSharePct, &c.Timezone)
	if errors.Is(err, pgx.ErrNoRows) {
		return Config{}, ErrConfigNotFound
	}
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfigLookupFailed, err)
	}
	return c, nil
}

func (s *Store) UpsertConfig(ctx context.Context, c Config) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO price_configs (tenant_id, base_fare, per_km, per_minute,
		       minimum_fare, night_surcharge_pct, night_start_hour, night_end_hour,
		       driver_share_pct, timezone, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET
		       base_fare = EXCLUDED.base_fare,
		       per_km = EXCLUDED.per_km,
		       per_minute = EXCLUDED.per_minute,
		       minimum_fare = EXCLUDED.minimum_fare,
		       night_surcharge_pct = EXCLUDED.night_surcharge_pct,
		       night_start_hour = EXCLUDED.night_start_hour,
		       night_end_hour = EXCLUDED.night_end_hour,
		       driver_share_pct = EXCLUDED.driver_share_pct,
		       timezone = EXCLUDED.timezone,
		       updated_at = NOW()`,
		c.TenantID, c.BaseFare, c.PerKm, c.PerMinute, c.MinimumFare,
		c.NightSurchargePct, c.NightStartHour, c.NightEndHour, c.DriverSharePct, c.Timezone)
	return err
}
