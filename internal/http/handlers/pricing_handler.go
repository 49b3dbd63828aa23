// README: Pricing handlers for fare quotes and tenant price configuration.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rebeca/internal/http/middleware"
	"rebeca/internal/modules/pricing"
)

// ConfigWriter persists a tenant's price configuration.
type ConfigWriter interface {
	UpsertConfig(ctx context.Context, c pricing.Config) error
}

type PricingHandler struct {
	pricing *pricing.Service
	configs ConfigWriter
}

func NewPricingHandler(svc *pricing.Service, configs ConfigWriter) *PricingHandler {
	return &PricingHandler{pricing: svc, configs: configs}
}

type quoteReq struct {
	DistanceKm  float64    `json:"distance_km"`
	DurationMin float64    `json:"duration_min"`
	At          *time.Time `json:"at"`
}

func (h *PricingHandler) Quote(c *gin.Context) {
	var req quoteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	at := time.Now()
	if req.At != nil {
		at = *req.At
	}
	q, err := h.pricing.ComputeFare(c.Request.Context(), middleware.TenantID(c), req.DistanceKm, req.DurationMin, at)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, q)
}

func (h *PricingHandler) GetConfig(c *gin.Context) {
	cfg, isDefault := h.pricing.ResolveConfig(c.Request.Context(), middleware.TenantID(c))
	writeJSON(c, http.StatusOK, map[string]any{"config": cfg, "default": isDefault})
}

func (h *PricingHandler) PutConfig(c *gin.Context) {
	var cfg pricing.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	cfg.TenantID = middleware.TenantID(c)
	if err := cfg.Validate(); err != nil {
		writeServiceError(c, err)
		return
	}
	if err := h.configs.UpsertConfig(c.Request.Context(), cfg); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, cfg)
}
