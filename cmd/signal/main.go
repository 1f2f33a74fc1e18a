package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"jamlink/internal/core/events"
	"jamlink/internal/core/services"
	httphandlers "jamlink/internal/handlers/http"
	"jamlink/internal/infrastructure/middleware"
	"jamlink/internal/infrastructure/monitoring"
	"jamlink/internal/infrastructure/repositories"
	signalgw "jamlink/internal/infrastructure/signal"
	"jamlink/pkg/config"
	"jamlink/pkg/logger"
	"jamlink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"config.yaml",
	}
	if path := os.Getenv("JAMLINK_CONFIG"); path != "" {
		configPaths = append([]string{path}, configPaths...)
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		log.Fatalf("could not load configuration: %v", err)
	}

	zlog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zlog.Sync()
	sugar := zlog.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerEndpoint,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		sugar.Fatalw("failed to initialize tracing", "error", err)
	}

	stores := repositories.Open(cfg, sugar)
	defer stores.Close()

	publisher := events.NewPublisher(zlog)
	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)

	roomService := services.NewRoomService(stores.Rooms, publisher, zlog)
	connService := services.NewConnectionService(stores.Connections, publisher, services.ConnectionServiceConfig{
		StaleAfter:           cfg.Connections.StaleAfter,
		MaxReconnectAttempts: cfg.Connections.MaxReconnectAttempts,
		MonitorInterval:      cfg.Connections.MonitorInterval,
		ReapInterval:         cfg.Connections.ReapInterval,
		ReapAfter:            cfg.Connections.ReapAfter,
	}, zlog)

	queue := services.NewMessageQueue(services.MessageQueueConfig{
		DrainInterval:   cfg.Queue.DrainInterval,
		BatchSize:       cfg.Queue.BatchSize,
		MaxPending:      cfg.Queue.MaxPending,
		CandidateMaxAge: cfg.Queue.CandidateMaxAge,
	}, connService.ProcessSignalBatch, collector, zlog)

	gateway := signalgw.NewWebSocketServer(roomService, connService, queue, signalgw.Config{
		MaxConnectionsPerRoom: cfg.Rooms.MaxConnectionsPerRoom,
		PingInterval:          cfg.Signal.PingInterval,
		PongTimeout:           cfg.Signal.PongTimeout,
		WriteTimeout:          cfg.Signal.WriteTimeout,
		StatsMonitorInterval:  cfg.Rooms.StatsMonitorInterval,
		StatsIdleReap:         cfg.Rooms.StatsIdleReap,
		RateLimitEnabled:      cfg.RateLimiting.Enabled,
		MessagesPerSecond:     cfg.RateLimiting.WebSocket.MessagesPerSecond,
		MessageBurst:          cfg.RateLimiting.WebSocket.Burst,
	}, collector, zlog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue.Start(ctx)
	connService.Start(ctx)
	gateway.Start(ctx)

	// Signaling endpoint
	signalMux := http.NewServeMux()
	signalMux.HandleFunc(cfg.Signal.Path, gateway.HandleWebSocket)
	signalMux.HandleFunc("/health", gateway.HealthCheck)

	signalServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Signal.Port),
		Handler: signalMux,
	}

	// Administrative API
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(sugar))
	router.Use(middleware.ErrorHandlerMiddleware(sugar))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	httphandlers.NewRoomHandler(roomService).SetupRoutes(router)
	router.GET("/health", func(c *gin.Context) {
		if err := stores.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	adminServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var metricsServer *http.Server
	if cfg.Monitoring.PrometheusEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort),
			Handler: metricsMux,
		}
		go func() {
			sugar.Infow("metrics server listening", "port", cfg.Monitoring.PrometheusPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				sugar.Errorw("metrics server failed", "error", err)
			}
		}()
	}

	go func() {
		sugar.Infow("signaling server listening", "port", cfg.Signal.Port, "path", cfg.Signal.Path)
		if err := signalServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("signaling server failed", "error", err)
		}
	}()

	go func() {
		sugar.Infow("admin server listening", "address", cfg.Server.Address)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("admin server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	sugar.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Signal.ShutdownTimeout)
	defer shutdownCancel()

	gateway.Stop()
	connService.Stop()
	queue.Stop()

	if err := signalServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("signal server shutdown failed", "error", err)
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("admin server shutdown failed", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			sugar.Warnw("metrics server shutdown failed", "error", err)
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("tracer shutdown failed", "error", err)
	}

	sugar.Info("shutdown complete")
}
