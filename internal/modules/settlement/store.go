// README: Ledger persistence on a PostgreSQL transaction.
package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rebeca/internal/types"
)

// PGTx implements Tx on an open pgx transaction.
type PGTx struct {
	Tx pgx.Tx
}

func (p PGTx) InsertTransaction(ctx context.Context, t *Transaction) (bool, error) {
	tag, err := p.Tx.Exec(ctx, `
		INSERT INTO transactions (id, tenant_id, driver_id, ride_id, type, amount, currency, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (ride_id) DO NOTHING`,
		t.ID, t.TenantID, t.DriverID, t.RideID, t.Type, t.Amount.Amount, t.Amount.Currency, t.Status, t.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p PGTx) AddDriverEarnings(ctx context.Context, tenantID, driverID types.ID, amount int64) error {
	tag, err := p.Tx.Exec(ctx, `
		UPDATE drivers SET total_earnings = total_earnings + $3
		WHERE id = $1 AND tenant_id = $2`, driverID, tenantID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("driver %s not found", driverID)
	}
	return nil
}

// Store reads settled entries.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

var ErrNotFound = errors.New("transaction not found")

func (s *Store) GetByRide(ctx context.Context, tenantID, rideID types.ID) (*Transaction, error) {
	var t Transaction
	err := s.db.QueryRow(ctx, `
		SELECT id, tenant_id, driver_id, ride_id, type, amount, currency, status, created_at
		FROM transactions WHERE ride_id = $1 AND tenant_id = $2`, rideID, tenantID,
	).Scan(&t.ID, &t.TenantID, &t.DriverID, &t.RideID, &t.Type, &t.Amount.Amount, &t.Amount.Currency, &t.Status, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
