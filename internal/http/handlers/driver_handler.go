// README: Driver handlers for registration, availability, location and candidate listing.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rebeca/internal/http/middleware"
	"rebeca/internal/modules/dispatch"
	"rebeca/internal/modules/driver"
	"rebeca/internal/types"
)

type DriverHandler struct {
	driver   *driver.Service
	dispatch *dispatch.Service
}

func NewDriverHandler(driverSvc *driver.Service, dispatchSvc *dispatch.Service) *DriverHandler {
	return &DriverHandler{driver: driverSvc, dispatch: dispatchSvc}
}

type registerDriverReq struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type availabilityReq struct {
	Online *bool `json:"online"`
}

type locationReq struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (h *DriverHandler) Register(c *gin.Context) {
	var req registerDriverReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	d, err := h.driver.Register(c.Request.Context(), driver.RegisterCommand{
		TenantID: middleware.TenantID(c),
		Name:     req.Name,
		Phone:    req.Phone,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, d)
}

func (h *DriverHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	d, err := h.driver.Get(c.Request.Context(), middleware.TenantID(c), types.ID(id))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

func (h *DriverHandler) SetAvailability(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Online == nil {
		writeError(c, http.StatusBadRequest, "online is required")
		return
	}
	d, err := h.driver.SetAvailability(c.Request.Context(), middleware.TenantID(c), types.ID(id), *req.Online)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Lat == nil || req.Lng == nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	p := types.Point{Lat: *req.Lat, Lng: *req.Lng}
	if err := h.driver.UpdateLocation(c.Request.Context(), middleware.TenantID(c), types.ID(id), p); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": "ok"})
}

// Candidates lists the drivers a ride from lat,lng would be offered to.
func (h *DriverHandler) Candidates(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(c, http.StatusBadRequest, "lat and lng query parameters are required")
		return
	}
	origin := types.Point{Lat: lat, Lng: lng}
	if !origin.Valid() {
		writeError(c, http.StatusBadRequest, "coordinates out of range")
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	candidates, err := h.dispatch.FindCandidates(c.Request.Context(), middleware.TenantID(c), origin, limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"candidates": candidates})
}
