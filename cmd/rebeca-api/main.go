// README: Entry point; loads config, wires services, starts HTTP server and the pending-ride sweeper.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"rebeca/internal/config"
	httptransport "rebeca/internal/http"
	"rebeca/internal/infra"
	"rebeca/internal/maps"
	"rebeca/internal/modules/dispatch"
	"rebeca/internal/modules/driver"
	"rebeca/internal/modules/pricing"
	"rebeca/internal/modules/ride"
	"rebeca/internal/modules/settlement"
	"rebeca/internal/notify"
	"rebeca/internal/storage/memory"
	"rebeca/internal/types"
)

// stores groups the persistence backends selected by db.driver.
type stores struct {
	rides   ride.Store
	drivers interface {
		driver.Store
		dispatch.DriverSource
	}
	prices interface {
		pricing.ConfigSource
		UpsertConfig(ctx context.Context, c pricing.Config) error
	}
	ledger interface {
		GetByRide(ctx context.Context, tenantID, rideID types.ID) (*settlement.Transaction, error)
	}
	close func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := infra.NewLogger(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("open stores")
	}
	defer st.close()

	var redisClient *redis.Client
	if cfg.Dispatch.RecordOffers || hasSink(cfg.Notify.Sinks, "redis") {
		redisClient, err = infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.WithError(err).Fatal("connect redis")
		}
		defer redisClient.Close()
	}

	publisher, closePublisher, err := newPublisher(ctx, cfg, redisClient, log)
	if err != nil {
		log.WithError(err).Fatal("init notification sinks")
	}
	defer closePublisher()

	loc, err := time.LoadLocation(cfg.Pricing.Timezone)
	if err != nil {
		log.WithError(err).Fatal("load pricing timezone")
	}

	routes := maps.Fallback{Secondary: maps.StraightLine{AvgSpeedKmh: cfg.Maps.AvgSpeedKmh}, Log: log}
	if cfg.Maps.APIKey != "" {
		google, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			log.WithError(err).Fatal("init google maps client")
		}
		routes.Primary = google
	}

	pricingSvc := pricing.NewService(st.prices, loc, cfg.Pricing.Currency, log)
	dispatchSvc := dispatch.NewService(st.drivers, cfg.Dispatch.CandidateLimit)
	driverSvc := driver.NewService(st.drivers, log)

	deps := ride.Deps{
		Store:     st.rides,
		Pricing:   pricingSvc,
		Dispatch:  dispatchSvc,
		Routes:    routes,
		Ledger:    settlement.NewLedger(),
		Publisher: publisher,
		Log:       log,
	}
	if cfg.Dispatch.RecordOffers {
		deps.Offers = dispatch.NewOfferLog(redisClient, cfg.Dispatch.OfferTTL)
	}
	rideSvc := ride.NewService(deps, ride.Options{
		CandidateLimit: cfg.Dispatch.CandidateLimit,
		OfferTimeout:   cfg.Dispatch.OfferTimeout,
		Location:       loc,
	})

	gin.SetMode(gin.ReleaseMode)
	router := httptransport.NewRouter(httptransport.RouterDeps{
		Ride:     rideSvc,
		Driver:   driverSvc,
		Dispatch: dispatchSvc,
		Pricing:  pricingSvc,
		Configs:  st.prices,
		Ledger:   st.ledger,
		Log:      log,
	})
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	go rideSvc.RunPendingSweeper(ctx, cfg.Dispatch.SweepInterval)
	go rideSvc.RunEventRelay(ctx, cfg.Notify.RelayInterval)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("http shutdown")
		}
	}()

	log.WithFields(logrus.Fields{"addr": cfg.HTTP.Addr, "db": cfg.DB.Driver, "sinks": cfg.Notify.Sinks}).Info("rebeca api listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("http server")
	}
	log.Info("rebeca api stopped")
}

func openStores(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*stores, error) {
	if cfg.DB.Driver == "memory" {
		log.Warn("using the in-memory store; data is lost on restart")
		db := memory.New()
		return &stores{
			rides:   db.Rides(),
			drivers: db.Drivers(),
			prices:  db.Prices(),
			ledger:  db.Ledger(),
			close:   func() {},
		}, nil
	}

	pool, err := infra.NewDB(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		return nil, err
	}
	if cfg.DB.AutoMigrate {
		if err := infra.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("migrations applied")
	}
	return &stores{
		rides:   ride.NewStore(pool),
		drivers: driver.NewStore(pool),
		prices:  pricing.NewStore(pool),
		ledger:  settlement.NewStore(pool),
		close:   pool.Close,
	}, nil
}

// newPublisher builds the configured sinks behind one retrying fan-out.
func newPublisher(ctx context.Context, cfg config.Config, redisClient *redis.Client, log logrus.FieldLogger) (notify.Publisher, func(), error) {
	var sinks []notify.Publisher
	closers := []func(){}
	for _, name := range cfg.Notify.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, notify.NewLogPublisher(log))
		case "redis":
			sinks = append(sinks, notify.NewRedisPublisher(redisClient, cfg.Notify.RedisChannel))
		case "nsq":
			producer, err := infra.NewNSQProducer(cfg.Notify.NSQAddr)
			if err != nil {
				return nil, nil, err
			}
			closers = append(closers, producer.Stop)
			sinks = append(sinks, notify.NewNSQPublisher(producer, cfg.Notify.NSQTopic))
		case "fcm":
			client, err := infra.NewFirebaseMessaging(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
			if err != nil {
				return nil, nil, err
			}
			sinks = append(sinks, notify.NewFCMPublisher(client))
		}
	}
	retryCfg := notify.DefaultRetryConfig()
	retryCfg.MaxRetries = cfg.Notify.RetryAttempts
	retryCfg.BaseDelay = cfg.Notify.RetryBaseDelay

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	return notify.NewFanout(notify.NewRetrier(retryCfg, log), log, sinks...), closeAll, nil
}

func hasSink(sinks []string, name string) bool {
	for _, s := range sinks {
		if s == name {
			return true
		}
	}
	return false
}
