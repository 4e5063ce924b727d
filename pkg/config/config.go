package config

import (
	"fmt"
	"os"
	"time"

	"github.com/multiformats/go-multiaddr"
)

// Config is the configuration of the feed gateway and the feedwatch tool.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	Source  SourceConfig  `yaml:"source"`
	Session SessionConfig `yaml:"session"`
	Cache   CacheConfig   `yaml:"cache"`
	Feeds   FeedsConfig   `yaml:"feeds"`
	Logging LoggingConfig `yaml:"logging"`
}

// GatewayConfig contains HTTP and WebSocket gateway configuration
type GatewayConfig struct {
	ListenAddr      string            `yaml:"listen_addr"`      // e.g. ":8080"
	APIKeys         map[string]string `yaml:"api_keys"`         // API key -> principal id
	PrincipalHeader string            `yaml:"principal_header"` // Trusted header set by an auth proxy; empty disables
	PingInterval    time.Duration     `yaml:"ping_interval"`    // WebSocket keepalive
	WriteTimeout    time.Duration     `yaml:"write_timeout"`    // Per WebSocket frame
	AllowedOrigins  []string          `yaml:"allowed_origins"`  // Empty allows any origin
}

// Source kinds.
const (
	SourceSQL       = "sql"
	SourceWebSocket = "websocket"
	SourceP2P       = "p2p"
)

// SourceConfig selects and configures the upstream push source
type SourceConfig struct {
	Kind      string                `yaml:"kind"` // sql, websocket or p2p
	SQL       SQLSourceConfig       `yaml:"sql"`
	WebSocket WebSocketSourceConfig `yaml:"websocket"`
	P2P       P2PSourceConfig       `yaml:"p2p"`
}

// SQLSourceConfig configures the polling source over the managed database
type SQLSourceConfig struct {
	Driver       string                 `yaml:"driver"` // rqlite or sqlite3
	DSN          string                 `yaml:"dsn"`    // e.g. "http://localhost:5001" for rqlite
	PollInterval time.Duration          `yaml:"poll_interval"`
	QueryTimeout time.Duration          `yaml:"query_timeout"`
	Queries      map[string]QueryConfig `yaml:"queries"` // channel -> query
}

// QueryConfig is the query run for one channel. Args name the positional
// arguments: "principal" or a feed parameter such as "limit".
type QueryConfig struct {
	SQL  string   `yaml:"sql"`
	Args []string `yaml:"args"`
}

// WebSocketSourceConfig configures the streaming upstream
type WebSocketSourceConfig struct {
	URL          string            `yaml:"url"` // base URL; the channel is appended as a path segment
	DialTimeout  time.Duration     `yaml:"dial_timeout"`
	PingInterval time.Duration     `yaml:"ping_interval"`
	Headers      map[string]string `yaml:"headers"`
}

// P2PSourceConfig configures the gossip upstream
type P2PSourceConfig struct {
	ListenAddresses []string `yaml:"listen_addresses"` // LibP2P listen addresses
	BootstrapPeers  []string `yaml:"bootstrap_peers"`  // Peer multiaddrs with /p2p/<id>
	Namespace       string   `yaml:"namespace"`        // Topic namespace
	IdentityFile    string   `yaml:"identity_file"`    // Persistent peer key; empty uses an ephemeral identity
}

// SessionConfig configures how headless tools find the signed-in principal
type SessionConfig struct {
	CredentialsFile string        `yaml:"credentials_file"` // Empty uses ~/.fitsync/credentials.json
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxWait         time.Duration `yaml:"max_wait"`
}

// Cache kinds.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheOlric  = "olric"
)

// CacheConfig configures the last-snapshot cache used by one-shot fetches
type CacheConfig struct {
	Kind         string        `yaml:"kind"` // none, memory or olric
	OlricServers []string      `yaml:"olric_servers"`
	DMap         string        `yaml:"dmap"`
	Timeout      time.Duration `yaml:"timeout"`
	QueueSize    int           `yaml:"queue_size"`
}

// FeedsConfig holds domain feed settings
type FeedsConfig struct {
	PipelineLimit    int `yaml:"pipeline_limit"`     // Default rows per pipelines feed
	MaxPipelineLimit int `yaml:"max_pipeline_limit"` // Upper bound accepted from clients
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Format     string `yaml:"format"`      // json, console
	OutputFile string `yaml:"output_file"` // Empty for stdout
}

// ParseListenAddrs converts the P2P listen addresses to multiaddr objects
func (c *Config) ParseListenAddrs() ([]multiaddr.Multiaddr, error) {
	var addrs []multiaddr.Multiaddr
	for _, addr := range c.Source.P2P.ListenAddresses {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, ma)
	}
	return addrs, nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ListenAddr:      ":8080",
			APIKeys:         map[string]string{},
			PrincipalHeader: "",
			PingInterval:    30 * time.Second,
			WriteTimeout:    10 * time.Second,
		},
		Source: SourceConfig{
			Kind: SourceSQL,
			SQL: SQLSourceConfig{
				Driver:       "rqlite",
				DSN:          "http://localhost:5001",
				PollInterval: 2 * time.Second,
				QueryTimeout: 5 * time.Second,
				Queries: map[string]QueryConfig{
					"pipelines": {
						SQL: "SELECT id, name, provider, status, last_run_at, updated_at FROM pipelines " +
							"WHERE user_id = ? ORDER BY updated_at DESC LIMIT ?",
						Args: []string{"principal", "limit"},
					},
					"pending-inputs": {
						SQL: "SELECT id, pipeline_id, kind, prompt, created_at FROM pending_inputs " +
							"WHERE user_id = ? AND resolved_at IS NULL ORDER BY created_at DESC",
						Args: []string{"principal"},
					},
				},
			},
			WebSocket: WebSocketSourceConfig{
				DialTimeout:  10 * time.Second,
				PingInterval: 30 * time.Second,
			},
			P2P: P2PSourceConfig{
				ListenAddresses: []string{"/ip4/0.0.0.0/tcp/4101"},
				Namespace:       "fitsync",
			},
		},
		Session: SessionConfig{
			PollInterval: 500 * time.Millisecond,
			MaxWait:      30 * time.Second,
		},
		Cache: CacheConfig{
			Kind:      CacheMemory,
			DMap:      "feed-snapshots",
			Timeout:   2 * time.Second,
			QueueSize: 256,
		},
		Feeds: FeedsConfig{
			PipelineLimit:    20,
			MaxPipelineLimit: 200,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a YAML file on top of DefaultConfig. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	if err := DecodeStrict(f, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
