// README: Ride handlers for create/get/accept/start/finish/cancel.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rebeca/internal/http/middleware"
	"rebeca/internal/modules/ride"
	"rebeca/internal/types"
)

type RideHandler struct {
	ride *ride.Service
}

func NewRideHandler(svc *ride.Service) *RideHandler {
	return &RideHandler{ride: svc}
}

type placeReq struct {
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

func (p placeReq) place() ride.Place {
	return ride.Place{Address: p.Address, Point: types.Point{Lat: p.Lat, Lng: p.Lng}}
}

type createRideReq struct {
	ClientID      string   `json:"client_id"`
	Origin        placeReq `json:"origin"`
	Destination   placeReq `json:"destination"`
	DistanceKm    *float64 `json:"distance_km"`
	DurationMin   *float64 `json:"duration_min"`
	FareCents     *int64   `json:"fare_cents"`
	PaymentMethod string   `json:"payment_method"`
}

type driverReq struct {
	DriverID string `json:"driver_id"`
}

type cancelReq struct {
	Reason    string `json:"reason"`
	ActorType string `json:"actor_type"`
	ActorID   string `json:"actor_id"`
}

func (h *RideHandler) Create(c *gin.Context) {
	var req createRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	cmd := ride.CreateCommand{
		TenantID:      middleware.TenantID(c),
		ClientID:      types.ID(req.ClientID),
		Origin:        req.Origin.place(),
		Destination:   req.Destination.place(),
		DistanceKm:    req.DistanceKm,
		DurationMin:   req.DurationMin,
		PaymentMethod: ride.PaymentMethod(req.PaymentMethod),
	}
	if req.FareCents != nil {
		fare := types.Cents(*req.FareCents)
		cmd.Fare = &fare
	}
	r, err := h.ride.Create(c.Request.Context(), cmd)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, r)
}

func (h *RideHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	r, err := h.ride.Get(c.Request.Context(), middleware.TenantID(c), types.ID(id))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) Offers(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	drivers, err := h.ride.Offers(c.Request.Context(), middleware.TenantID(c), types.ID(id))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"ride_id": id, "drivers": drivers})
}

// bindDriver reads the path ride id and the acting driver from the body.
func bindDriver(c *gin.Context) (rideID, driverID types.ID, ok bool) {
	id, ok := pathID(c)
	if !ok {
		return "", "", false
	}
	var req driverReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return "", "", false
	}
	if !isValidID(req.DriverID) {
		writeError(c, http.StatusBadRequest, "missing driver_id")
		return "", "", false
	}
	return types.ID(id), types.ID(req.DriverID), true
}

func (h *RideHandler) Accept(c *gin.Context) {
	rideID, driverID, ok := bindDriver(c)
	if !ok {
		return
	}
	r, err := h.ride.Accept(c.Request.Context(), middleware.TenantID(c), rideID, driverID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) Start(c *gin.Context) {
	rideID, driverID, ok := bindDriver(c)
	if !ok {
		return
	}
	r, err := h.ride.Start(c.Request.Context(), middleware.TenantID(c), rideID, driverID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) Finish(c *gin.Context) {
	rideID, driverID, ok := bindDriver(c)
	if !ok {
		return
	}
	r, txn, err := h.ride.Finish(c.Request.Context(), middleware.TenantID(c), rideID, driverID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"ride": r, "transaction": txn})
}

func (h *RideHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req cancelReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	actor := ride.Actor{Type: ride.ActorType(req.ActorType), ID: types.ID(req.ActorID)}
	if actor.Type == ride.ActorSystem {
		writeError(c, http.StatusBadRequest, "system actor is reserved")
		return
	}
	r, err := h.ride.Cancel(c.Request.Context(), middleware.TenantID(c), types.ID(id), req.Reason, actor)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) Dashboard(c *gin.Context) {
	o, err := h.ride.Overview(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

// MasterDashboard reports platform-wide counts across tenants.
func (h *RideHandler) MasterDashboard(c *gin.Context) {
	o, err := h.ride.PlatformOverview(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}
