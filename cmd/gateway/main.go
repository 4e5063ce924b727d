package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/fitsync/pkg/gateway"
	"github.com/DeBrosOfficial/fitsync/pkg/logging"
	"github.com/DeBrosOfficial/fitsync/pkg/node"
)

func main() {
	cfg, err := parseGatewayConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(logging.ComponentGeneral, logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputFile: cfg.Logging.OutputFile,
		Colors:     true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			logger.ComponentError(logging.ComponentGeneral, "invalid configuration", zap.Error(e))
		}
		os.Exit(2)
	}
	logConfig(logger, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	n := node.NewNode(cfg, logger)
	err = n.Start(ctx)
	cancel()
	if err != nil {
		logger.ComponentError(logging.ComponentGeneral, "failed to start feed node", zap.Error(err))
		os.Exit(1)
	}
	defer n.Stop()

	var cache gateway.SnapshotCache
	if m := n.SnapshotCache(); m != nil {
		cache = m
	}
	g := gateway.New(logger, &gateway.Config{
		ListenAddr:      cfg.Gateway.ListenAddr,
		APIKeys:         cfg.Gateway.APIKeys,
		PrincipalHeader: cfg.Gateway.PrincipalHeader,
		PingInterval:    cfg.Gateway.PingInterval,
		WriteTimeout:    cfg.Gateway.WriteTimeout,
		AllowedOrigins:  cfg.Gateway.AllowedOrigins,
	}, n.Service(), cache)
	server := g.Server()

	serverErr := make(chan error, 1)
	go func() {
		logger.ComponentInfo(logging.ComponentGateway, "Gateway HTTP server starting",
			zap.String("addr", cfg.Gateway.ListenAddr),
			zap.String("peer_id", n.PeerID()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		logger.ComponentError(logging.ComponentGateway, "HTTP server error", zap.Error(err))
	}
	logger.ComponentInfo(logging.ComponentGateway, "Shutting down gateway HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.ComponentError(logging.ComponentGateway, "HTTP server shutdown error", zap.Error(err))
	}
	logger.ComponentInfo(logging.ComponentGeneral, "Gateway shutdown complete")
}
