// Command agentctl is the in-sandbox runtime stub: it links the Process
// Registry (C4, internal/registry) and exposes the HTTP surface the
// orchestration core treats as opaque (/task, /chat), plus the two
// registry endpoints spec.md §4.4 requires and the injection endpoints
// lifecycle.HTTPSandboxInjector calls right after container start.
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

	"github.com/kandev/orchestrator/internal/common/logger"
	"github.com/kandev/orchestrator/internal/registry"
)

func main() {
	cfg := loadConfig()

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputPath: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("starting agentctl", zap.Int("port", cfg.Port), zap.String("workdir", cfg.WorkDir))

	reg := registry.New(log)
	h := newHandler(cfg, reg, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	setupRoutes(router, h)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // /chat can run as long as a sequential slot lease allows
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

	log.Info("shutting down agentctl")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("agentctl stopped")
}
