// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"rebeca/internal/http/handlers"
	"rebeca/internal/http/middleware"
	"rebeca/internal/modules/dispatch"
	"rebeca/internal/modules/driver"
	"rebeca/internal/modules/pricing"
	"rebeca/internal/modules/ride"
)

type RouterDeps struct {
	Ride     *ride.Service
	Driver   *driver.Service
	Dispatch *dispatch.Service
	Pricing  *pricing.Service
	Configs  handlers.ConfigWriter
	Ledger   handlers.LedgerReader
	Log      logrus.FieldLogger
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(d.Log), middleware.Logging(d.Log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	rideHandler := handlers.NewRideHandler(d.Ride)
	r.GET("/api/master/dashboard", rideHandler.MasterDashboard)

	api := r.Group("/api", middleware.Tenant())

	api.POST("/rides", rideHandler.Create)
	api.GET("/rides/:id", rideHandler.Get)
	api.GET("/rides/:id/offers", rideHandler.Offers)
	api.POST("/rides/:id/accept", rideHandler.Accept)
	api.POST("/rides/:id/start", rideHandler.Start)
	api.POST("/rides/:id/finish", rideHandler.Finish)
	api.POST("/rides/:id/cancel", rideHandler.Cancel)
	api.GET("/admin/dashboard", rideHandler.Dashboard)

	settlementHandler := handlers.NewSettlementHandler(d.Ledger)
	api.GET("/rides/:id/transaction", settlementHandler.GetByRide)

	driverHandler := handlers.NewDriverHandler(d.Driver, d.Dispatch)
	api.POST("/drivers", driverHandler.Register)
	api.GET("/drivers/:id", driverHandler.Get)
	api.PUT("/drivers/:id/availability", driverHandler.SetAvailability)
	api.PUT("/drivers/:id/location", driverHandler.UpdateLocation)
	api.GET("/dispatch/candidates", driverHandler.Candidates)

	pricingHandler := handlers.NewPricingHandler(d.Pricing, d.Configs)
	api.POST("/pricing/quote", pricingHandler.Quote)
	api.GET("/pricing/config", pricingHandler.GetConfig)
	api.PUT("/pricing/config", pricingHandler.PutConfig)

	return r
}
