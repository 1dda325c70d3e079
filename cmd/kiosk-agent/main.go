package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-kiosk-agent/internal/backend"
	"github.com/noah-isme/sma-kiosk-agent/internal/handler"
	"github.com/noah-isme/sma-kiosk-agent/internal/middleware"
	"github.com/noah-isme/sma-kiosk-agent/internal/repository"
	"github.com/noah-isme/sma-kiosk-agent/internal/service"
	"github.com/noah-isme/sma-kiosk-agent/pkg/config"
	"github.com/noah-isme/sma-kiosk-agent/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-kiosk-agent/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-kiosk-agent/pkg/middleware/requestid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	store, err := repository.NewSnapshotRepository(cfg.Store.Path, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to open snapshot", "error", err)
	}

	metricsSvc := service.NewMetricsService()
	resolverSvc := service.NewResolverService(store, logr)
	queueSvc := service.NewQueueService(store, cfg.Device, logr)
	rosterSvc := service.NewRosterService(store, logr)

	backendClient := backend.NewClient(cfg.Backend, cfg.Device, logr)
	syncSvc := service.NewSyncService(queueSvc, rosterSvc, backendClient, cfg.Sync, cfg.Device.Online, metricsSvc, logr)
	withdrawalSvc := service.NewWithdrawalService(backendClient, cfg.Withdrawal, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go syncSvc.Run(ctx)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	kioskHandler := handler.NewKioskHandler(resolverSvc, queueSvc, rosterSvc, syncSvc, cfg.Device, cfg.Kiosk)
	withdrawalHandler := handler.NewWithdrawalHandler(withdrawalSvc, metricsSvc)

	api := r.Group("/api/v1")
	{
		api.POST("/scan", kioskHandler.Scan)
		api.GET("/status", kioskHandler.Status)
		api.POST("/sync", kioskHandler.TriggerSync)
		api.POST("/roster/biometric", kioskHandler.EnrollBiometric)

		api.POST("/withdrawals", withdrawalHandler.Start)
		api.PUT("/withdrawals/students", withdrawalHandler.SelectStudents)
		api.POST("/withdrawals/initiate", withdrawalHandler.Initiate)
		api.POST("/withdrawals/verify", withdrawalHandler.Verify)
		api.POST("/withdrawals/complete", withdrawalHandler.Complete)
		api.DELETE("/withdrawals", withdrawalHandler.Abandon)
		api.GET("/withdrawals", withdrawalHandler.Current)
		api.GET("/withdrawals/today", withdrawalHandler.Today)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("agent starting", "addr", addr, "device_id", cfg.Device.DeviceID, "gate_id", cfg.Device.GateID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("shutdown incomplete", "error", err)
	}
	logr.Sugar().Infow("agent stopped")
}
