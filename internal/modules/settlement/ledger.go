// README: Ledger writes one earning entry per finished ride inside the caller's transaction.
package settlement

import (
	"context"
	"fmt"
	"time"

	"rebeca/internal/types"
)

// Tx is the slice of a store transaction the ledger writes through.
type Tx interface {
	// InsertTransaction returns false when the ride already has an entry.
	InsertTransaction(ctx context.Context, t *Transaction) (bool, error)
	AddDriverEarnings(ctx context.Context, tenantID, driverID types.ID, amount int64) error
}

type Ledger struct {
	now func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{now: time.Now}
}

// Settle records the driver's earning for a finished ride. It must run in the
// same transaction as the ride's transition to finished.
func (l *Ledger) Settle(ctx context.Context, tx Tx, e Earning) (*Transaction, error) {
	if e.RideID == "" || e.DriverID == "" {
		return nil, fmt.Errorf("settlement: ride and driver are required")
	}
	if e.Amount.Amount < 0 {
		return nil, fmt.Errorf("settlement: negative amount %d", e.Amount.Amount)
	}
	t := &Transaction{
		ID:        types.NewID(),
		TenantID:  e.TenantID,
		DriverID:  e.DriverID,
		RideID:    e.RideID,
		Type:      TypeRideEarning,
		Amount:    e.Amount,
		Status:    StatusSettled,
		CreatedAt: l.now().UTC(),
	}
	inserted, err := tx.InsertTransaction(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("settlement: insert: %w", err)
	}
	if !inserted {
		return nil, ErrAlreadySettled
	}
	if err := tx.AddDriverEarnings(ctx, e.TenantID, e.DriverID, e.Amount.Amount); err != nil {
		return nil, fmt.Errorf("settlement: driver earnings: %w", err)
	}
	return t, nil
}
