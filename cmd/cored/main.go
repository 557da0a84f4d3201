package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/arclight-os/core/internal/core"
	"github.com/arclight-os/core/internal/infrastructure/config"
	"github.com/arclight-os/core/internal/infrastructure/logging"
	"github.com/arclight-os/core/internal/infrastructure/monitoring"
	"github.com/arclight-os/core/internal/server"
)

func main() {
	policyPath := flag.String("policy", "", "Path to YAML resource policy (built-in default when empty)")
	flag.Parse()

	cfg := config.LoadOrDefault()

	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}
	defer logger.Sync()

	policy := config.DefaultPolicy()
	if *policyPath != "" {
		loaded, err := config.LoadPolicy(*policyPath)
		if err != nil {
			log.Fatalf("Failed to load policy: %v", err)
		}
		policy = loaded
	}

	metrics := monitoring.NewMetrics()

	c, err := core.Boot(cfg, policy, logger, metrics)
	if err != nil {
		log.Fatalf("Failed to boot core: %v", err)
	}
	c.Start()

	srv := server.New(cfg, c, logger, metrics)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Shutdown failed", zap.Error(err))
		}
	case err := <-errChan:
		log.Fatalf("Server error: %v", err)
	}
}
