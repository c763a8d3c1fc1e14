// Package main runs the swarm orchestrator: the websocket hub that
// routes tasks between clients, agents, and services, supervises MCP
// tool servers, and optionally exposes an MCP gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/codeboltai/agentswarmprotocol-sub001/internal/common/config"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/common/logger"
	"github.com/codeboltai/agentswarmprotocol-sub001/internal/orchestrator"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	log.Info("Starting swarm orchestrator",
		zap.Int("agent_port", cfg.Server.AgentPort),
		zap.Int("client_port", cfg.Server.ClientPort),
		zap.Int("service_port", cfg.Server.ServicePort))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub, err := orchestrator.New(cfg, log)
	if err != nil {
		log.Fatal("Failed to assemble orchestrator", zap.Error(err))
	}

	if err := hub.Start(ctx); err != nil {
		log.Fatal("Failed to start orchestrator", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := hub.Stop(shutdownCtx); err != nil {
		log.Error("Shutdown error", zap.Error(err))
	}
}
