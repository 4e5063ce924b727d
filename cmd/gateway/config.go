package main

import (
	"flag"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/fitsync/pkg/config"
	"github.com/DeBrosOfficial/fitsync/pkg/logging"
)

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

// parseGatewayConfig resolves the configuration.
// Priority: flags > env > config file > defaults.
func parseGatewayConfig(args []string) (*config.Config, error) {
	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)
	configPath := fs.String("config", getEnvDefault("FITSYNC_CONFIG", ""), "Path to gateway.yaml (default ~/.fitsync/gateway.yaml when present)")
	addr := fs.String("addr", os.Getenv("GATEWAY_ADDR"), "HTTP listen address (e.g., :8080)")
	sourceKind := fs.String("source", os.Getenv("FITSYNC_SOURCE"), "Push source: sql, websocket or p2p")
	dsn := fs.String("dsn", os.Getenv("FITSYNC_DSN"), "Database DSN for the sql source")
	upstream := fs.String("upstream", os.Getenv("FITSYNC_UPSTREAM"), "Base URL for the websocket source")
	peers := fs.String("bootstrap-peers", os.Getenv("FITSYNC_BOOTSTRAP_PEERS"), "Comma-separated bootstrap peers for the p2p source")
	cacheKind := fs.String("cache", os.Getenv("FITSYNC_CACHE"), "Snapshot cache: none, memory or olric")
	logLevel := fs.String("log-level", os.Getenv("FITSYNC_LOG_LEVEL"), "Log level")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(*configPath)
	if err != nil {
		return nil, err
	}

	if *addr != "" {
		cfg.Gateway.ListenAddr = *addr
	}
	if *sourceKind != "" {
		cfg.Source.Kind = *sourceKind
	}
	if *dsn != "" {
		cfg.Source.SQL.DSN = *dsn
	}
	if *upstream != "" {
		cfg.Source.WebSocket.URL = *upstream
	}
	if p := strings.TrimSpace(*peers); p != "" {
		cfg.Source.P2P.BootstrapPeers = splitList(p)
	}
	if *cacheKind != "" {
		cfg.Cache.Kind = *cacheKind
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	return cfg, nil
}

// loadConfigFile loads path, or the default file when it exists, or defaults.
func loadConfigFile(path string) (*config.Config, error) {
	if path == "" {
		def, err := config.DefaultPath("gateway.yaml")
		if err != nil {
			return config.DefaultConfig(), nil
		}
		if _, err := os.Stat(def); err != nil {
			return config.DefaultConfig(), nil
		}
		path = def
	}
	return config.Load(path)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func logConfig(logger *logging.ColoredLogger, cfg *config.Config) {
	logger.ComponentInfo(logging.ComponentGeneral, "Loaded gateway configuration",
		zap.String("addr", cfg.Gateway.ListenAddr),
		zap.String("source", cfg.Source.Kind),
		zap.String("cache", cfg.Cache.Kind),
		zap.Int("api_keys", len(cfg.Gateway.APIKeys)),
		zap.Int("bootstrap_peer_count", len(cfg.Source.P2P.BootstrapPeers)),
	)
}
