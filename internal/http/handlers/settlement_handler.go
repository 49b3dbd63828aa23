// README: Settlement handler for reading a ride's ledger entry.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"rebeca/internal/http/middleware"
	"rebeca/internal/modules/settlement"
	"rebeca/internal/types"
)

type LedgerReader interface {
	GetByRide(ctx context.Context, tenantID, rideID types.ID) (*settlement.Transaction, error)
}

type SettlementHandler struct {
	ledger LedgerReader
}

func NewSettlementHandler(ledger LedgerReader) *SettlementHandler {
	return &SettlementHandler{ledger: ledger}
}

func (h *SettlementHandler) GetByRide(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	t, err := h.ledger.GetByRide(c.Request.Context(), middleware.TenantID(c), types.ID(id))
	if errors.Is(err, settlement.ErrNotFound) {
		writeError(c, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t)
}
