package snapcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	olriclib "github.com/olric-data/olric"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/fitsync/pkg/logging"
)

// OlricConfig holds configuration for the Olric store
type OlricConfig struct {
	// Servers is a list of Olric server addresses. Defaults to ["localhost:3320"].
	Servers []string
	// DMap names the distributed map holding snapshots. Defaults to "feed-snapshots".
	DMap string
	// Timeout bounds each operation. Defaults to 5 seconds.
	Timeout time.Duration
}

// OlricStore stores snapshots in an Olric cluster DMap.
type OlricStore struct {
	client  olriclib.Client
	dm      olriclib.DMap
	timeout time.Duration
	logger  *logging.ColoredLogger
}

// NewOlricStore connects to the cluster and opens the DMap.
func NewOlricStore(cfg OlricConfig, logger *logging.ColoredLogger) (*OlricStore, error) {
	servers := cfg.Servers
	if len(servers) == 0 {
		servers = []string{"localhost:3320"}
	}
	dmap := cfg.DMap
	if dmap == "" {
		dmap = "feed-snapshots"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	client, err := olriclib.NewClusterClient(servers)
	if err != nil {
		return nil, fmt.Errorf("failed to create Olric cluster client: %w", err)
	}
	dm, err := client.NewDMap(dmap)
	if err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("failed to create DMap %s: %w", dmap, err)
	}

	logger = logging.OrNop(logger)
	logger.ComponentInfo(logging.ComponentCache, "Olric snapshot store ready",
		zap.Strings("servers", servers),
		zap.String("dmap", dmap))

	return &OlricStore{client: client, dm: dm, timeout: timeout, logger: logger}, nil
}

func (s *OlricStore) Put(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.dm.Put(ctx, key, value); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *OlricStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	gr, err := s.dm.Get(ctx, key)
	if err != nil {
		if isKeyNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	var value []byte
	if err := gr.Scan(&value); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return value, true, nil
}

// Close closes the Olric client connection
func (s *OlricStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Close(ctx)
}

// The cluster client does not always wrap ErrKeyNotFound.
func isKeyNotFound(err error) bool {
	return errors.Is(err, olriclib.ErrKeyNotFound) || strings.Contains(err.Error(), "key not found")
}
