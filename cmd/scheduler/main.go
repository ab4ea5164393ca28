// Command scheduler is the C9 standalone single-instance process: it
// evaluates cron schedules and dispatches each due schedule's execution
// through the same queue and ledger the HTTP façade process shares. Each
// fire first claims a per-schedule lock in the coordination store, so a
// second replica started by mistake skips a schedule another one is
// already firing; there is no process-wide leader lock.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	// A docker client and container resolver are needed here only so the RPC
	// gateway's HTTP agent client can turn an agent name into a container
	// address when dispatching a scheduled execution; this process never
	// starts, stops, or reconciles containers itself.
	dockerClient, err := docker.NewClient(cfg.Docker, log)
	if err != nil {
		log.Fatal("failed to connect to container engine", zap.Error(err))
	}
	defer dockerClient.Close()
	resolver := lifecycle.NewContainerResolver(dockerClient)

	eventBus := buildEventBus(cfg, log)
	defer eventBus.Close()

	q := queue.New(coord)
	led := ledger.New(st, eventBus)
	agentClient := rpcgateway.NewHTTPAgentClient(resolver, log)

	sched := scheduler.New(st, coord, q, led, agentClient, log, scheduler.DefaultConfig())
	if err := sched.Start(ctx); err != nil {
		log.Fatal("failed to start scheduler", zap.Error(err))
	}

	log.Info("scheduler running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down scheduler")
	cancel()
	if err := sched.Stop(); err != nil {
		log.Error("scheduler shutdown error", zap.Error(err))
	}
	log.Info("scheduler stopped")
}

// buildEventBus mirrors cmd/orchestrator's selection: NATS when configured,
// otherwise the in-memory bus. With the in-memory bus, events this process
// publishes reach only subscribers inside this same process.
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
