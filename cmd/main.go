package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ONEONUORA/stellar-insights/internal/api/routes"
	"github.com/ONEONUORA/stellar-insights/internal/domain/services/alert"
	"github.com/ONEONUORA/stellar-insights/internal/domain/services/listener"
	"github.com/ONEONUORA/stellar-insights/internal/domain/services/rpcclient"
	"github.com/ONEONUORA/stellar-insights/internal/domain/services/verifier"
	"github.com/ONEONUORA/stellar-insights/internal/infrastructure/config"
	"github.com/ONEONUORA/stellar-insights/internal/infrastructure/database"
	"github.com/ONEONUORA/stellar-insights/internal/infrastructure/cache"
	infrarepos "github.com/ONEONUORA/stellar-insights/internal/infrastructure/repositories"
	"github.com/ONEONUORA/stellar-insights/pkg/graceful"
	"github.com/ONEONUORA/stellar-insights/pkg/logger"
	"github.com/ONEONUORA/stellar-insights/pkg/metrics"
	"github.com/ONEONUORA/stellar-insights/pkg/tracing"
)

// @title Stellar Insights Reconciliation API
// @version 1.0
// @description Read-only query facade over cross-checked Soroban contract events and snapshot verifications.
// @termsOfService http://swagger.io/terms/

// @contact.name Platform Engineering

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /api/v1

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}
	defer log.Sync()

	tracingConfig := tracing.Config{
		Enabled:      cfg.Environment != "test",
		CollectorURL: "localhost:4317",
		Environment:  cfg.Environment,
		SampleRate:   1.0,
	}
	tracingShutdown, err := tracing.InitTracer(context.Background(), tracingConfig, log.Zap())
	if err != nil {
		log.Fatal("failed to initialize tracing", "error", err)
	}
	defer tracingShutdown(context.Background())

	db, err := database.NewConnection(cfg.Database, log)
	if err != nil {
		log.Fatal("failed to connect to database", "error", err)
	}

	if err := database.RunMigrations(cfg.Database.URL); err != nil {
		log.Fatal("failed to run migrations", "error", err)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	eventRepo := infrarepos.NewPostgresEventRepository(db)
	snapshotRepo := infrarepos.NewPostgresSnapshotReader(db)
	cursorRepo := infrarepos.NewPostgresListenerCursorRepository(db)

	alertDispatcher := alert.New(alert.Config{
		WebhookURL:    cfg.Alert.WebhookURL,
		WebhookSecret: cfg.Alert.WebhookSecret,
		EmailAPIKey:   cfg.Alert.EmailAPIKey,
		EmailFrom:     cfg.Alert.EmailFrom,
		EmailTo:       cfg.Alert.EmailTo,
	}, log)

	verifierSvc := verifier.New(eventRepo, snapshotRepo, alertDispatcher, log)

	rpcClient := rpcclient.New(rpcclient.Config{
		RPCURL:  cfg.RPC.URL,
		Timeout: cfg.RPC.Timeout(),
	}, log)

	listenerSvc := listener.New(listener.Config{
		ContractID:   cfg.RPC.ContractID,
		PollInterval: cfg.Listener.PollInterval(),
		StartLedger:  uint64(cfg.Listener.StartLedger),
	}, rpcClient, eventRepo, cursorRepo, verifierSvc, alertDispatcher, log)

	if err := listenerSvc.Start(context.Background()); err != nil {
		log.Fatal("failed to start listener", "error", err)
	}

	stopRetention := startRetentionSweeper(context.Background(), eventRepo, cfg.Listener, log)

	var rdb cache.RedisClient
	if cfg.Redis.Enabled {
		rdb, err = cache.NewRedisClient(&cfg.Redis, log.Zap())
		if err != nil {
			log.Warn("redis cache disabled: failed to connect", "error", err)
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	router := routes.Setup(routes.Config{
		Environment:     cfg.Environment,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		RateLimitPerMin: cfg.Server.RateLimitPerMin,
		TrustedProxies:  cfg.Server.TrustedProxies,
		CacheTTL:        time.Duration(cfg.Redis.TTL) * time.Second,
	}, eventRepo, rdb, log)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Info("starting server", "port", cfg.Server.Port, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", "error", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := db.Stats()
			metrics.DatabaseConnectionsGauge.WithLabelValues("open").Set(float64(stats.OpenConnections))
			metrics.DatabaseConnectionsGauge.WithLabelValues("idle").Set(float64(stats.Idle))
			metrics.DatabaseConnectionsGauge.WithLabelValues("in_use").Set(float64(stats.InUse))
		}
	}()

	shutdownManager := graceful.NewShutdownManager(server, db, log)
	shutdownManager.Register(listenerSvc)
	shutdownManager.Register(stopRetention)
	shutdownManager.WaitForShutdown()
}
