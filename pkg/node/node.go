// Package node assembles a running feed stack from configuration: the push
// source, the shared registry, the snapshot cache and the dashboard service.
package node

import (
	"context"
	"database/sql"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/fitsync/pkg/config"
	"github.com/DeBrosOfficial/fitsync/pkg/dashboard"
	ferrors "github.com/DeBrosOfficial/fitsync/pkg/errors"
	"github.com/DeBrosOfficial/fitsync/pkg/feed"
	"github.com/DeBrosOfficial/fitsync/pkg/logging"
	"github.com/DeBrosOfficial/fitsync/pkg/snapcache"
	"github.com/DeBrosOfficial/fitsync/pkg/source/p2p"
)

// Node owns every long-lived component of a feed process.
type Node struct {
	config *config.Config
	logger *logging.ColoredLogger

	db         *sql.DB
	host       host.Host
	pubsub     *p2p.Manager
	source     feed.Source
	mirror     *snapcache.Mirror
	registry   *feed.Registry
	service    *dashboard.Service

	// lifetime of background work (gossip router, bootstrap dialer); ends in Stop
	ctx    context.Context
	cancel context.CancelFunc
}

// NewNode creates an unstarted node.
func NewNode(cfg *config.Config, logger *logging.ColoredLogger) *Node {
	return &Node{
		config: cfg,
		logger: logging.OrNop(logger),
	}
}

// Start builds the source and cache, then the registry and service on top.
// ctx bounds startup only. On failure everything already started is stopped.
func (n *Node) Start(ctx context.Context) error {
	n.ctx, n.cancel = context.WithCancel(context.Background())
	n.logger.ComponentInfo(logging.ComponentGeneral, "Starting feed node",
		zap.String("source", n.config.Source.Kind),
		zap.String("cache", n.config.Cache.Kind),
	)

	src, err := n.startSource(ctx)
	if err != nil {
		n.Stop()
		return ferrors.Wrapf(err, "failed to start %s source", n.config.Source.Kind)
	}
	n.source = src

	if err := n.startCache(ctx); err != nil {
		n.Stop()
		return ferrors.Wrapf(err, "failed to start %s cache", n.config.Cache.Kind)
	}

	var opts []feed.RegistryOption
	if n.mirror != nil {
		opts = append(opts, feed.WithObserver(n.mirror))
	}
	n.registry = feed.NewRegistry(n.source, n.logger, opts...)
	n.service = dashboard.NewService(n.registry, dashboard.Config{
		DefaultLimit: n.config.Feeds.PipelineLimit,
		MaxLimit:     n.config.Feeds.MaxPipelineLimit,
	}, n.logger)

	n.logger.ComponentInfo(logging.ComponentGeneral, "Feed node started")
	return nil
}

// Stop tears down the registry first so no source callback outlives it.
func (n *Node) Stop() {
	n.logger.ComponentInfo(logging.ComponentGeneral, "Stopping feed node")

	if n.registry != nil {
		n.registry.Close()
	}
	if n.cancel != nil {
		n.cancel()
	}
	if n.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := n.mirror.Close(ctx); err != nil {
			n.logger.ComponentWarn(logging.ComponentCache, "error during snapshot cache close", zap.Error(err))
		}
		cancel()
	}
	if n.pubsub != nil {
		_ = n.pubsub.Close()
	}
	if n.host != nil {
		_ = n.host.Close()
	}
	if n.db != nil {
		_ = n.db.Close()
	}

	n.logger.ComponentInfo(logging.ComponentGeneral, "Feed node stopped")
}

// Registry returns the shared registry. Nil before Start.
func (n *Node) Registry() *feed.Registry { return n.registry }

// Service returns the dashboard service. Nil before Start.
func (n *Node) Service() *dashboard.Service { return n.service }

// Publisher returns the gossip manager when the source kind is p2p.
func (n *Node) Publisher() *p2p.Manager { return n.pubsub }

// SnapshotCache returns the snapshot mirror, or nil when caching is off.
func (n *Node) SnapshotCache() *snapcache.Mirror { return n.mirror }

// PeerID returns the libp2p peer id, or "" when the source is not p2p.
func (n *Node) PeerID() string {
	if n.host == nil {
		return ""
	}
	return n.host.ID().String()
}
