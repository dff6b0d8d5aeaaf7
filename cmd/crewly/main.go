// Package main is the crewly daemon entry point. One binary runs the
// store, the session backend, the delivery pipeline, both schedulers and
// the HTTP+WebSocket API together over shared infrastructure.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stevehuang0115/agentmux-sub002/internal/checks"
	"github.com/stevehuang0115/agentmux-sub002/internal/common/config"
	"github.com/stevehuang0115/agentmux-sub002/internal/common/httpmw"
	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
	"github.com/stevehuang0115/agentmux-sub002/internal/common/tracing"
	"github.com/stevehuang0115/agentmux-sub002/internal/delivery"
	"github.com/stevehuang0115/agentmux-sub002/internal/scheduler"
	"github.com/stevehuang0115/agentmux-sub002/internal/session"
	"github.com/stevehuang0115/agentmux-sub002/internal/session/ptypool"
	"github.com/stevehuang0115/agentmux-sub002/internal/session/tmux"
	"github.com/stevehuang0115/agentmux-sub002/internal/store"
	taskcontroller "github.com/stevehuang0115/agentmux-sub002/internal/task/controller"
	taskhandlers "github.com/stevehuang0115/agentmux-sub002/internal/task/handlers"
	taskservice "github.com/stevehuang0115/agentmux-sub002/internal/task/service"
	"github.com/stevehuang0115/agentmux-sub002/internal/task/watcher"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting crewly...", zap.String("home", cfg.Home.Dir))

	tracing.Configure(cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Initialize event bus (in-memory unless NATS is configured)
	eventBus, busCleanup, err := provideEventBus(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer busCleanup()
	if cfg.NATS.URL != "" {
		log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		log.Info("Using in-memory event bus")
	}

	// 5. Open the persistent store
	storeCfg := store.DefaultConfig(cfg.Home.Dir)
	storeCfg.BackupEnabled = cfg.Store.BackupEnabled
	storeCfg.ActivityCap = cfg.Store.ActivityCap
	storeCfg.DeliveryLogCap = cfg.Store.DeliveryLogCap
	storeCfg.FlushInterval = cfg.Store.ActivityFlushInterval()
	st, err := store.New(storeCfg, log)
	if err != nil {
		log.Fatal("Failed to open store", zap.Error(err))
	}
	st.Start()
	defer st.Close()
	log.Info("Store ready", zap.String("dir", st.Dir()))

	// 6. Select the session backend
	var backend session.Backend
	switch cfg.Backend.Kind {
	case "pty":
		pool := ptypool.New(ptypool.DefaultConfig(), log)
		defer pool.CloseAll()
		backend = pool
		log.Info("Using in-process PTY session backend")
	default:
		backend = tmux.New(cfg.Backend.TmuxBinary, log)
		log.Info("Using tmux session backend", zap.String("binary", cfg.Backend.TmuxBinary))
	}

	resolver := session.NewResolver(st, log)

	// ============================================
	// DELIVERY PIPELINE
	// ============================================
	deliverer := delivery.New(delivery.Config{
		MaxAttempts:       cfg.Delivery.MaxAttempts,
		VerifySchedule:    cfg.Delivery.VerifySchedule(),
		IdleProbes:        cfg.Delivery.IdleProbes,
		SnapshotLines:     cfg.Backend.SnapshotLines,
		InterWriteDelay:   cfg.Delivery.InterWriteDelay(),
		IdleProbeBackoff:  cfg.Delivery.IdleProbeBackoff(),
		FingerprintLength: cfg.Delivery.FingerprintLength,
		AckTTL:            cfg.Delivery.AckTTL(),
	}, backend, eventBus, log)

	scanner := delivery.NewScanner(deliverer, backend, st, resolver, cfg.Delivery.StuckScanInterval(), log)
	if err := scanner.Start(ctx); err != nil {
		log.Fatal("Failed to start stuck-message scanner", zap.Error(err))
	}

	// ============================================
	// TASK ENGINE & SCHEDULERS
	// ============================================
	engine := taskservice.NewService(st, eventBus, log, taskservice.Config{
		AbandonThreshold: cfg.Recovery.AbandonThreshold(),
	})

	boardWatcher, err := watcher.New(watcher.DefaultConfig(), st, eventBus, log)
	if err != nil {
		log.Fatal("Failed to create board watcher", zap.Error(err))
	}
	if err := boardWatcher.Start(ctx); err != nil {
		log.Fatal("Failed to start board watcher", zap.Error(err))
	}

	msgScheduler := scheduler.NewService(scheduler.Config{
		Quantum: cfg.Scheduler.ExecutionQuantum(),
	}, st, deliverer, resolver, eventBus, log)
	if err := msgScheduler.Start(ctx); err != nil {
		log.Fatal("Failed to start message scheduler", zap.Error(err))
	}

	checkScheduler := checks.NewService(checks.Config{
		InitialCheckinMinutes: cfg.Checks.InitialCheckinMinutes,
		ProgressCheckMinutes:  cfg.Checks.ProgressCheckMinutes,
		CommitReminderMinutes: cfg.Checks.CommitReminderMinutes,
		AdaptiveBaseMinutes:   cfg.Checks.AdaptiveBaseMinutes,
		AdaptiveFactor:        cfg.Checks.AdaptiveFactor,
		AdaptiveMinMinutes:    cfg.Checks.AdaptiveMinMinutes,
		AdaptiveMaxMinutes:    cfg.Checks.AdaptiveMaxMinutes,
	}, st, deliverer, resolver, eventBus, log)
	// No continuation collaborator runs inside the unified binary;
	// continuation checks fall back to plain message delivery.
	checkScheduler.SetActivityMonitor(&promptActivityMonitor{backend: backend, resolver: resolver})
	if err := checkScheduler.Start(ctx); err != nil {
		log.Fatal("Failed to start check scheduler", zap.Error(err))
	}

	// 7. Startup recovery pass: reclaim tasks whose owners died while the
	// daemon was down.
	recoveryCtx, recoveryCancel := context.WithTimeout(ctx, cfg.Recovery.ScanTimeout())
	report, err := engine.RecoverAbandonedTasks(recoveryCtx, teamStatus(backend))
	recoveryCancel()
	if err != nil {
		log.Warn("Startup recovery pass failed", zap.Error(err))
	} else if report.Recovered > 0 || report.Skipped > 0 {
		log.Info("Startup recovery pass done",
			zap.Int("recovered", report.Recovered),
			zap.Int("skipped", report.Skipped))
	}

	// 8. Controller over the engine and both schedulers
	ctrl := taskcontroller.New(engine, st, msgScheduler, checkScheduler, eventBus, log)
	ctrl.SetTeamStatus(teamStatus(backend))

	// 9. WebSocket gateway
	gateway := provideGateway(ctx, log, eventBus)

	// ============================================
	// HTTP SERVER (WebSocket + HTTP endpoints)
	// ============================================
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(httpmw.RequestLogger(log, "crewly"))
	router.Use(httpmw.OtelTracing("crewly"))
	router.Use(httpmw.SessionHeartbeat(func(sessionName string) {
		engine.Heartbeat(ctx, sessionName)
	}))

	// WebSocket endpoint - primary realtime transport
	gateway.SetupRoutes(router)

	// Task, schedule, check and entity handlers (HTTP + WebSocket)
	taskhandlers.Register(router, gateway.Dispatcher, ctrl, log)

	// Health check (simple HTTP for load balancers/monitoring)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"service":      "crewly",
			"busConnected": eventBus.IsConnected(),
		})
	})

	// Create HTTP server
	port := cfg.Server.Port
	if port == 0 {
		port = 8787
	}
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// Start server
	go func() {
		log.Info("API server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("API configured",
		zap.String("websocket", "/ws"),
		zap.String("health", "/health"),
		zap.String("http", "/api/v1"),
	)

	// ============================================
	// GRACEFUL SHUTDOWN
	// ============================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down crewly...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	scanner.Stop()
	if err := checkScheduler.Stop(); err != nil {
		log.Error("Check scheduler stop error", zap.Error(err))
	}
	if err := msgScheduler.Stop(); err != nil {
		log.Error("Message scheduler stop error", zap.Error(err))
	}
	boardWatcher.Stop()

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracing shutdown error", zap.Error(err))
	}

	log.Info("crewly stopped")
}
