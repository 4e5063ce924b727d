package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// ValidationError represents a single validation error with context.
type ValidationError struct {
	Path    string // e.g., "source.p2p.listen_addresses[0]"
	Message string // e.g., "invalid multiaddr"
	Hint    string // e.g., "expected /ip{4,6}/.../tcp/<port>"
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s; %s", e.Path, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate performs comprehensive validation of the entire config.
// It aggregates all errors and returns them, allowing the caller to print all issues at once.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateGateway()...)
	errs = append(errs, c.validateSource()...)
	errs = append(errs, c.validateSession()...)
	errs = append(errs, c.validateCache()...)
	errs = append(errs, c.validateFeeds()...)
	errs = append(errs, c.validateLogging()...)

	return errs
}

func (c *Config) validateGateway() []error {
	var errs []error
	gc := c.Gateway

	if gc.ListenAddr == "" {
		errs = append(errs, ValidationError{
			Path:    "gateway.listen_addr",
			Message: "must not be empty",
		})
	} else if err := validateListenAddr(gc.ListenAddr); err != nil {
		errs = append(errs, ValidationError{
			Path:    "gateway.listen_addr",
			Message: err.Error(),
			Hint:    "expected [host]:port",
		})
	}

	for key, principal := range gc.APIKeys {
		if strings.TrimSpace(key) == "" || strings.TrimSpace(principal) == "" {
			errs = append(errs, ValidationError{
				Path:    "gateway.api_keys",
				Message: "api keys and principals must not be empty",
			})
			break
		}
	}

	if gc.PingInterval < time.Second {
		errs = append(errs, ValidationError{
			Path:    "gateway.ping_interval",
			Message: fmt.Sprintf("must be >= 1s; got %v", gc.PingInterval),
			Hint:    "recommended: 30s",
		})
	}
	if gc.WriteTimeout <= 0 {
		errs = append(errs, ValidationError{
			Path:    "gateway.write_timeout",
			Message: fmt.Sprintf("must be positive; got %v", gc.WriteTimeout),
		})
	}

	return errs
}

func (c *Config) validateSource() []error {
	var errs []error
	sc := c.Source

	switch sc.Kind {
	case SourceSQL:
		errs = append(errs, validateSQLSource(sc.SQL)...)
	case SourceWebSocket:
		errs = append(errs, validateWebSocketSource(sc.WebSocket)...)
	case SourceP2P:
		errs = append(errs, validateP2PSource(sc.P2P)...)
	default:
		errs = append(errs, ValidationError{
			Path:    "source.kind",
			Message: fmt.Sprintf("unknown source kind %q", sc.Kind),
			Hint:    "expected one of: sql, websocket, p2p",
		})
	}

	return errs
}

func validateSQLSource(sc SQLSourceConfig) []error {
	var errs []error

	if sc.Driver != "rqlite" && sc.Driver != "sqlite3" {
		errs = append(errs, ValidationError{
			Path:    "source.sql.driver",
			Message: fmt.Sprintf("unsupported driver %q", sc.Driver),
			Hint:    "expected rqlite or sqlite3",
		})
	}
	if sc.DSN == "" {
		errs = append(errs, ValidationError{
			Path:    "source.sql.dsn",
			Message: "must not be empty",
		})
	} else if sc.Driver == "rqlite" {
		if u, err := url.Parse(sc.DSN); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, ValidationError{
				Path:    "source.sql.dsn",
				Message: "invalid rqlite URL",
				Hint:    "expected http://host:port",
			})
		}
	}
	if sc.PollInterval < 100*time.Millisecond {
		errs = append(errs, ValidationError{
			Path:    "source.sql.poll_interval",
			Message: fmt.Sprintf("must be >= 100ms; got %v", sc.PollInterval),
		})
	}
	if sc.QueryTimeout <= 0 {
		errs = append(errs, ValidationError{
			Path:    "source.sql.query_timeout",
			Message: fmt.Sprintf("must be positive; got %v", sc.QueryTimeout),
		})
	}
	if len(sc.Queries) == 0 {
		errs = append(errs, ValidationError{
			Path:    "source.sql.queries",
			Message: "must define at least one channel",
		})
	}
	for channel, q := range sc.Queries {
		path := fmt.Sprintf("source.sql.queries.%s", channel)
		if strings.TrimSpace(q.SQL) == "" {
			errs = append(errs, ValidationError{Path: path + ".sql", Message: "must not be empty"})
			continue
		}
		if placeholders := strings.Count(q.SQL, "?"); placeholders != len(q.Args) {
			errs = append(errs, ValidationError{
				Path:    path + ".args",
				Message: fmt.Sprintf("query has %d placeholders but %d args", placeholders, len(q.Args)),
			})
		}
	}

	return errs
}

func validateWebSocketSource(wc WebSocketSourceConfig) []error {
	var errs []error

	u, err := url.Parse(wc.URL)
	if wc.URL == "" || err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		errs = append(errs, ValidationError{
			Path:    "source.websocket.url",
			Message: fmt.Sprintf("invalid websocket URL %q", wc.URL),
			Hint:    "expected ws://host:port/path or wss://...",
		})
	}
	if wc.DialTimeout <= 0 {
		errs = append(errs, ValidationError{
			Path:    "source.websocket.dial_timeout",
			Message: fmt.Sprintf("must be positive; got %v", wc.DialTimeout),
		})
	}

	return errs
}

func validateP2PSource(pc P2PSourceConfig) []error {
	var errs []error

	if len(pc.ListenAddresses) == 0 {
		errs = append(errs, ValidationError{
			Path:    "source.p2p.listen_addresses",
			Message: "must not be empty",
		})
	}

	seen := make(map[string]bool)
	for i, addr := range pc.ListenAddresses {
		path := fmt.Sprintf("source.p2p.listen_addresses[%d]", i)

		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("invalid multiaddr: %v", err),
				Hint:    "expected /ip{4,6}/.../tcp/<port>",
			})
			continue
		}

		tcpAddr, err := manet.ToNetAddr(ma)
		if err != nil {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("cannot convert multiaddr to network address: %v", err),
				Hint:    "ensure multiaddr contains /tcp/<port>",
			})
			continue
		}
		if tcp, ok := tcpAddr.(*net.TCPAddr); ok && (tcp.Port < 1 || tcp.Port > 65535) {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("invalid TCP port %d", tcp.Port),
				Hint:    "port must be between 1 and 65535",
			})
		}

		if seen[addr] {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: "duplicate listen address",
			})
		}
		seen[addr] = true
	}

	for i, peer := range pc.BootstrapPeers {
		path := fmt.Sprintf("source.p2p.bootstrap_peers[%d]", i)
		ma, err := multiaddr.NewMultiaddr(peer)
		if err != nil {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("invalid multiaddr: %v", err),
				Hint:    "expected /ip{4,6}/.../tcp/<port>/p2p/<peerID>",
			})
			continue
		}
		if _, err := ma.ValueForProtocol(multiaddr.P_P2P); err != nil {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: "missing /p2p/<peerID> component",
				Hint:    "expected /ip{4,6}/.../tcp/<port>/p2p/<peerID>",
			})
		}
	}

	if pc.Namespace == "" || strings.ContainsAny(pc.Namespace, ". /") {
		errs = append(errs, ValidationError{
			Path:    "source.p2p.namespace",
			Message: fmt.Sprintf("invalid namespace %q", pc.Namespace),
			Hint:    "must be non-empty and contain no dots, spaces or slashes",
		})
	}

	return errs
}

func (c *Config) validateSession() []error {
	var errs []error
	sc := c.Session

	if sc.PollInterval <= 0 {
		errs = append(errs, ValidationError{
			Path:    "session.poll_interval",
			Message: fmt.Sprintf("must be positive; got %v", sc.PollInterval),
		})
	}
	if sc.MaxWait < sc.PollInterval {
		errs = append(errs, ValidationError{
			Path:    "session.max_wait",
			Message: fmt.Sprintf("must be >= session.poll_interval (%v); got %v", sc.PollInterval, sc.MaxWait),
		})
	}

	return errs
}

func (c *Config) validateCache() []error {
	var errs []error
	cc := c.Cache

	switch cc.Kind {
	case CacheNone:
		return nil
	case CacheMemory:
	case CacheOlric:
		if len(cc.OlricServers) == 0 {
			errs = append(errs, ValidationError{
				Path:    "cache.olric_servers",
				Message: "must not be empty when cache.kind is olric",
			})
		}
		for i, server := range cc.OlricServers {
			if err := validateHostPort(server); err != nil {
				errs = append(errs, ValidationError{
					Path:    fmt.Sprintf("cache.olric_servers[%d]", i),
					Message: err.Error(),
					Hint:    "expected format: host:port",
				})
			}
		}
		if cc.DMap == "" {
			errs = append(errs, ValidationError{
				Path:    "cache.dmap",
				Message: "must not be empty",
			})
		}
		if cc.Timeout <= 0 {
			errs = append(errs, ValidationError{
				Path:    "cache.timeout",
				Message: fmt.Sprintf("must be positive; got %v", cc.Timeout),
			})
		}
	default:
		errs = append(errs, ValidationError{
			Path:    "cache.kind",
			Message: fmt.Sprintf("unknown cache kind %q", cc.Kind),
			Hint:    "expected one of: none, memory, olric",
		})
	}

	if cc.QueueSize < 1 {
		errs = append(errs, ValidationError{
			Path:    "cache.queue_size",
			Message: fmt.Sprintf("must be >= 1; got %d", cc.QueueSize),
		})
	}

	return errs
}

func (c *Config) validateFeeds() []error {
	var errs []error
	fc := c.Feeds

	if fc.PipelineLimit < 1 {
		errs = append(errs, ValidationError{
			Path:    "feeds.pipeline_limit",
			Message: fmt.Sprintf("must be >= 1; got %d", fc.PipelineLimit),
		})
	}
	if fc.MaxPipelineLimit < fc.PipelineLimit {
		errs = append(errs, ValidationError{
			Path:    "feeds.max_pipeline_limit",
			Message: fmt.Sprintf("must be >= feeds.pipeline_limit (%d); got %d", fc.PipelineLimit, fc.MaxPipelineLimit),
		})
	}

	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error
	lc := c.Logging

	switch lc.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Path:    "logging.level",
			Message: fmt.Sprintf("invalid value %q", lc.Level),
			Hint:    "allowed values: debug, info, warn, error",
		})
	}

	switch lc.Format {
	case "json", "console":
	default:
		errs = append(errs, ValidationError{
			Path:    "logging.format",
			Message: fmt.Sprintf("invalid value %q", lc.Format),
			Hint:    "allowed values: json, console",
		})
	}

	return errs
}

func validateListenAddr(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address: %v", err)
	}
	return validatePort(port)
}

func validateHostPort(hostPort string) error {
	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		return fmt.Errorf("expected format host:port")
	}
	if host == "" {
		return fmt.Errorf("host must not be empty")
	}
	return validatePort(port)
}

func validatePort(port string) error {
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("port must be a number between 1 and 65535; got %q", port)
	}
	return nil
}
