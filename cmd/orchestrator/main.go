// Command orchestrator is the C10 HTTP façade process: it wires the state
// store (C2), the coordination store (C3), the container driver (C1), the
// execution queue (C5), the activity ledger (C6), the agent lifecycle
// manager (C7), the inter-agent RPC gateway (C8), and the HTTP/WebSocket
// API (C10) into one running control plane. The scheduler (C9) runs as its
// own standalone process, cmd/scheduler.
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

	"github.com/kandev/orchestrator/internal/api"
	"github.com/kandev/orchestrator/internal/common/config"
	"github.com/kandev/orchestrator/internal/common/logger"
	"github.com/kandev/orchestrator/internal/coordination"
	docker "github.com/kandev/orchestrator/internal/container"
	"github.com/kandev/orchestrator/internal/db"
	"github.com/kandev/orchestrator/internal/events/bus"
	"github.com/kandev/orchestrator/internal/ledger"
	"github.com/kandev/orchestrator/internal/lifecycle"
	"github.com/kandev/orchestrator/internal/queue"
	"github.com/kandev/orchestrator/internal/rpcgateway"
	"github.com/kandev/orchestrator/internal/scheduler"
	"github.com/kandev/orchestrator/internal/store"
	"github.com/kandev/orchestrator/internal/wsgateway"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	pool, err := db.Connect(cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	ctx := context.Background()
	if err := store.Bootstrap(ctx, pool); err != nil {
		log.Fatal("failed to bootstrap schema", zap.Error(err))
	}
	st := store.New(pool)

	coord, err := coordination.New(coordination.Config{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		KeyPrefix:   cfg.Redis.KeyPrefix,
		DialTimeout: cfg.Redis.DialTimeoutDuration(),
	}, log.Zap())
	if err != nil {
		log.Fatal("failed to connect to coordination store", zap.Error(err))
	}

	dockerClient, err := docker.NewClient(cfg.Docker, log)
	if err != nil {
		log.Fatal("failed to connect to container engine", zap.Error(err))
	}
	defer dockerClient.Close()

	eventBus := buildEventBus(cfg, log)
	defer eventBus.Close()

	resolver := lifecycle.NewContainerResolver(dockerClient)
	injector := lifecycle.NewHTTPSandboxInjector(resolver, log)
	templates := lifecycle.NewCatalogResolver(templateCatalogPath())

	lifecycleManager := lifecycle.New(st, dockerClient, coord, templates, injector, log)
	if err := lifecycleManager.Reconcile(ctx); err != nil {
		log.Error("startup reconciliation failed", zap.Error(err))
	}

	q := queue.New(coord)
	led := ledger.New(st, eventBus)
	agentClient := rpcgateway.NewHTTPAgentClient(resolver, log)
	gateway := rpcgateway.New(st, q, led, agentClient, log)

	hub := wsgateway.NewHub(eventBus, log)
	if err := hub.Start(); err != nil {
		log.Fatal("failed to start websocket hub", zap.Error(err))
	}
	defer hub.Stop()
	wsHandler := wsgateway.NewHandler(hub, st, log)

	// This process never calls sched.Start(): the cron evaluation loop is
	// cmd/scheduler's job, as a single-instance process per spec.md §4.9.
	// This instance exists only so the API's manual-trigger endpoint has a
	// Scheduler to call Trigger on.
	sched := scheduler.New(st, coord, q, led, agentClient, log, scheduler.DefaultConfig())

	handler := api.NewHandler(api.Deps{
		Store:           st,
		Lifecycle:       lifecycleManager,
		Gateway:         gateway,
		AgentClient:     agentClient,
		Queue:           q,
		Ledger:          led,
		Scheduler:       sched,
		Bus:             eventBus,
		SystemAgentName: cfg.SystemAgent.Name,
	}, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	api.SetupRoutes(router, handler, wsHandler, st, cfg.Auth.JWTSecret, cfg.SystemAgent.Name, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: 0, // SSE execution streams and long /chat calls outlive a fixed write timeout
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down orchestrator")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("orchestrator stopped")
}

// buildEventBus prefers NATS when a URL is configured, matching the
// teacher's own dual-mode event bus; an empty URL means single-replica
// deployments run entirely on the in-memory bus.
func buildEventBus(cfg *config.Config, log *logger.Logger) bus.EventBus {
	if cfg.NATS.URL == "" {
		return bus.NewMemoryEventBus(log)
	}
	natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
	if err != nil {
		log.Fatal("failed to connect to NATS", zap.Error(err))
	}
	return natsBus
}

func templateCatalogPath() string {
	if p := os.Getenv("ORCH_TEMPLATE_CATALOG"); p != "" {
		return p
	}
	return "./templates.yaml"
}
