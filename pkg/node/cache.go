package node

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/fitsync/pkg/config"
	"github.com/DeBrosOfficial/fitsync/pkg/logging"
	"github.com/DeBrosOfficial/fitsync/pkg/snapcache"
)

const olricConnectAttempts = 3

func (n *Node) startCache(ctx context.Context) error {
	cc := n.config.Cache
	var store snapcache.Store
	switch cc.Kind {
	case config.CacheNone, "":
		return nil
	case config.CacheMemory:
		store = snapcache.NewMemoryStore()
	case config.CacheOlric:
		s, err := n.connectOlricWithRetry(ctx, snapcache.OlricConfig{
			Servers: cc.OlricServers,
			DMap:    cc.DMap,
			Timeout: cc.Timeout,
		})
		if err != nil {
			return err
		}
		store = s
	default:
		return fmt.Errorf("unknown cache kind %q", cc.Kind)
	}
	n.mirror = snapcache.NewMirror(store, cc.QueueSize, n.logger)
	return nil
}

func (n *Node) connectOlricWithRetry(ctx context.Context, cfg snapcache.OlricConfig) (*snapcache.OlricStore, error) {
	var lastErr error
	backoff := time.Second
	for attempt := 1; attempt <= olricConnectAttempts; attempt++ {
		s, err := snapcache.NewOlricStore(cfg, n.logger)
		if err == nil {
			return s, nil
		}
		lastErr = err
		n.logger.ComponentWarn(logging.ComponentCache, "Olric connection failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt == olricConnectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = calculateNextBackoff(backoff)
	}
	return nil, fmt.Errorf("olric unreachable after %d attempts: %w", olricConnectAttempts, lastErr)
}
