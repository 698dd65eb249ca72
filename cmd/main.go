package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"restaurant-service/internal/catalog"
	"restaurant-service/internal/events"
	"restaurant-service/internal/handler"
	"restaurant-service/internal/inventory"
	mid "restaurant-service/internal/middleware"
	"restaurant-service/internal/order"
	"restaurant-service/internal/store"
	"restaurant-service/internal/store/gormstore"
	"restaurant-service/internal/store/memstore"
	"restaurant-service/pkg/config"
	"restaurant-service/pkg/database"
	"restaurant-service/pkg/jwtutil"
	"restaurant-service/pkg/logger"
	"restaurant-service/pkg/metrics"
	"restaurant-service/pkg/observability"
	"restaurant-service/prometheus"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	appConfig, err := config.Load()
	if err != nil {
		// Can't use structured logger yet since it's not initialized
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	if err := logger.InitLogger(appConfig); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	log := logger.GetLogger()
	defer log.Sync()

	log.Info("Starting restaurant-service", appConfig.LogConfig()...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracingSDK(ctx, appConfig)
	if err != nil {
		log.Fatal("Failed to set up tracing", zap.Error(err))
	}

	prometheus.InitMetrics(appConfig)
	log.Info("Prometheus metrics initialized",
		zap.String("metrics_prefix", appConfig.Metrics.Prefix))

	st, closeStore := openStore(appConfig, log)
	defer closeStore()

	publisher := openPublisher(appConfig, log)
	defer publisher.Close()

	jwtUtil := jwtutil.NewJWTUtil(&appConfig.JWT)

	ledger := inventory.NewLedger(st, publisher, log)
	resolver := catalog.NewResolver(st, log)
	h := handler.New(
		resolver,
		catalog.NewService(st, log),
		inventory.NewService(st, ledger, log),
		order.NewManager(st, ledger, resolver, publisher, log),
	)

	e := echo.New()
	e.HideBanner = true

	httpMetrics := metrics.NewHTTPMetrics(appConfig.ServiceName, promclient.DefaultRegisterer)
	e.Use(middleware.Recover())
	e.Use(mid.RequestIDMiddleware())
	e.Use(logger.Middleware())
	e.Use(httpMetrics.Middleware())

	e.GET("/metrics", echo.WrapHandler(metrics.GetPrometheusHandler()))
	h.Register(e, jwtUtil)

	go func() {
		port := appConfig.Server.Port
		log.Info("Starting server", zap.String("port", port))
		if err := e.Start(":" + port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("Tracing shutdown failed", zap.Error(err))
	}
}

func openStore(cfg *config.Config, log *zap.Logger) (store.Store, func()) {
	if cfg.Storage.Driver == "memory" {
		log.Warn("Using in-memory storage; data is lost on restart")
		return memstore.New(), func() {}
	}

	db, err := database.InitDB(cfg)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	log.Info("Database connection established")

	return gormstore.New(db), func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func openPublisher(cfg *config.Config, log *zap.Logger) events.Publisher {
	if len(cfg.Kafka.Brokers) == 0 {
		log.Info("No Kafka brokers configured, events are not published")
		return events.Nop{}
	}
	p, err := events.NewKafkaPublisher(cfg, otel.GetTracerProvider())
	if err != nil {
		log.Fatal("Failed to create Kafka publisher", zap.Error(err))
	}
	log.Info("Kafka publisher ready", zap.Strings("brokers", cfg.Kafka.Brokers))
	return p
}
