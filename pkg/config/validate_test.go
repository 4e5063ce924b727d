package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if errs := DefaultConfig().Validate(); len(errs) != 0 {
		t.Fatalf("default config must be valid, got %v", errs)
	}
}

func hasPath(errs []error, path string) bool {
	for _, err := range errs {
		if ve, ok := err.(ValidationError); ok && ve.Path == path {
			return true
		}
	}
	return false
}

func TestValidateGateway(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"empty listen addr", func(c *Config) { c.Gateway.ListenAddr = "" }, "gateway.listen_addr"},
		{"bad port", func(c *Config) { c.Gateway.ListenAddr = ":99999" }, "gateway.listen_addr"},
		{"no port", func(c *Config) { c.Gateway.ListenAddr = "localhost" }, "gateway.listen_addr"},
		{"empty principal", func(c *Config) { c.Gateway.APIKeys = map[string]string{"ak": ""} }, "gateway.api_keys"},
		{"short ping", func(c *Config) { c.Gateway.PingInterval = 10 * time.Millisecond }, "gateway.ping_interval"},
		{"no write timeout", func(c *Config) { c.Gateway.WriteTimeout = 0 }, "gateway.write_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if errs := cfg.Validate(); !hasPath(errs, tt.path) {
				t.Errorf("expected error at %s, got %v", tt.path, errs)
			}
		})
	}
}

func TestValidateSQLSource(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SQLSourceConfig)
		path   string
	}{
		{"unknown driver", func(s *SQLSourceConfig) { s.Driver = "postgres" }, "source.sql.driver"},
		{"empty dsn", func(s *SQLSourceConfig) { s.DSN = "" }, "source.sql.dsn"},
		{"rqlite dsn without scheme", func(s *SQLSourceConfig) { s.DSN = "localhost:5001" }, "source.sql.dsn"},
		{"fast poll", func(s *SQLSourceConfig) { s.PollInterval = time.Millisecond }, "source.sql.poll_interval"},
		{"no queries", func(s *SQLSourceConfig) { s.Queries = nil }, "source.sql.queries"},
		{
			"arg mismatch",
			func(s *SQLSourceConfig) {
				s.Queries = map[string]QueryConfig{"pipelines": {SQL: "SELECT * FROM p WHERE a = ? AND b = ?", Args: []string{"principal"}}}
			},
			"source.sql.queries.pipelines.args",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg.Source.SQL)
			if errs := cfg.Validate(); !hasPath(errs, tt.path) {
				t.Errorf("expected error at %s, got %v", tt.path, errs)
			}
		})
	}

	cfg := DefaultConfig()
	cfg.Source.SQL.Driver = "sqlite3"
	cfg.Source.SQL.DSN = "file:feeds.db"
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("sqlite3 file DSN must be valid, got %v", errs)
	}
}

func TestValidateWebSocketSource(t *testing.T) {
	tests := []struct {
		url   string
		valid bool
	}{
		{"ws://localhost:9000/feeds", true},
		{"wss://sync.example.com/feeds", true},
		{"http://localhost:9000", false},
		{"", false},
		{"ws://", false},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.Source.Kind = SourceWebSocket
		cfg.Source.WebSocket.URL = tt.url
		errs := cfg.Validate()
		if got := !hasPath(errs, "source.websocket.url"); got != tt.valid {
			t.Errorf("url %q: valid = %v, want %v (%v)", tt.url, got, tt.valid, errs)
		}
	}
}

func TestValidateP2PListenAddresses(t *testing.T) {
	tests := []struct {
		name        string
		addresses   []string
		shouldError bool
	}{
		{"valid single", []string{"/ip4/0.0.0.0/tcp/4101"}, false},
		{"valid ipv6", []string{"/ip6/::/tcp/4101"}, false},
		{"invalid port", []string{"/ip4/0.0.0.0/tcp/99999"}, true},
		{"invalid multiaddr", []string{"invalid"}, true},
		{"empty", []string{}, true},
		{"duplicate", []string{"/ip4/0.0.0.0/tcp/4101", "/ip4/0.0.0.0/tcp/4101"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Source.Kind = SourceP2P
			cfg.Source.P2P.ListenAddresses = tt.addresses
			errs := cfg.Validate()
			if tt.shouldError && len(errs) == 0 {
				t.Errorf("expected errors, got none")
			}
			if !tt.shouldError && len(errs) > 0 {
				t.Errorf("expected no errors, got %v", errs)
			}
		})
	}
}

func TestValidateP2PBootstrapAndNamespace(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Source.Kind = SourceP2P
	cfg.Source.P2P.BootstrapPeers = []string{
		"/ip4/127.0.0.1/tcp/4001/p2p/12D3KooWHbcFcrGPXKUrHcxvd8MXEeUzRYyvY8fQcpEBxncSUwhj",
		"/ip4/127.0.0.1/tcp/4001",
	}
	cfg.Source.P2P.Namespace = "fit.sync"

	errs := cfg.Validate()
	if hasPath(errs, "source.p2p.bootstrap_peers[0]") {
		t.Errorf("first peer is valid, got %v", errs)
	}
	if !hasPath(errs, "source.p2p.bootstrap_peers[1]") {
		t.Errorf("peer without /p2p must fail, got %v", errs)
	}
	if !hasPath(errs, "source.p2p.namespace") {
		t.Errorf("dotted namespace must fail, got %v", errs)
	}
}

func TestValidateUnknownKinds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Source.Kind = "carrier-pigeon"
	cfg.Cache.Kind = "disk"
	errs := cfg.Validate()
	if !hasPath(errs, "source.kind") || !hasPath(errs, "cache.kind") {
		t.Errorf("expected kind errors, got %v", errs)
	}
}

func TestValidateOlricCache(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.Kind = CacheOlric
	errs := cfg.Validate()
	if !hasPath(errs, "cache.olric_servers") {
		t.Errorf("expected olric_servers error, got %v", errs)
	}

	cfg.Cache.OlricServers = []string{"localhost:3320", "nohost"}
	errs = cfg.Validate()
	if hasPath(errs, "cache.olric_servers[0]") || !hasPath(errs, "cache.olric_servers[1]") {
		t.Errorf("unexpected olric server validation: %v", errs)
	}
}

func TestValidateSessionFeedsLogging(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.MaxWait = time.Millisecond
	cfg.Feeds.PipelineLimit = 50
	cfg.Feeds.MaxPipelineLimit = 10
	cfg.Logging.Level = "verbose"
	cfg.Logging.Format = "xml"

	errs := cfg.Validate()
	for _, path := range []string{"session.max_wait", "feeds.max_pipeline_limit", "logging.level", "logging.format"} {
		if !hasPath(errs, path) {
			t.Errorf("expected error at %s, got %v", path, errs)
		}
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := ValidationError{Path: "source.kind", Message: "unknown", Hint: "expected sql"}
	if err.Error() != "source.kind: unknown; expected sql" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if (ValidationError{Path: "a", Message: "b"}).Error() != "a: b" {
		t.Error("unexpected message without hint")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	data := `
gateway:
  listen_addr: ":9090"
  api_keys:
    ak_test: u1
source:
  kind: websocket
  websocket:
    url: ws://localhost:9000/feeds
cache:
  kind: none
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Gateway.ListenAddr != ":9090" || cfg.Gateway.APIKeys["ak_test"] != "u1" {
		t.Errorf("gateway not loaded: %+v", cfg.Gateway)
	}
	if cfg.Source.WebSocket.DialTimeout != 10*time.Second {
		t.Errorf("defaults must be kept, got %v", cfg.Source.WebSocket.DialTimeout)
	}
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("loaded config must be valid, got %v", errs)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte("gateway:\n  listen_adr: \":1\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Errorf("expected strict decode error, got %v", err)
	}
}

func TestDefaultPath(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "x.yaml")
	if got, _ := DefaultPath(abs); got != abs {
		t.Errorf("absolute path must be returned as-is, got %s", got)
	}
	got, err := DefaultPath("gateway.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(got, filepath.Join(".fitsync", "gateway.yaml")) {
		t.Errorf("unexpected default path %s", got)
	}
}
