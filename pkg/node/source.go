package node

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/fitsync/pkg/config"
	"github.com/DeBrosOfficial/fitsync/pkg/feed"
	"github.com/DeBrosOfficial/fitsync/pkg/logging"
	"github.com/DeBrosOfficial/fitsync/pkg/source/p2p"
	"github.com/DeBrosOfficial/fitsync/pkg/source/sqlpoll"
	"github.com/DeBrosOfficial/fitsync/pkg/source/wsfeed"
)

func (n *Node) startSource(ctx context.Context) (feed.Source, error) {
	switch n.config.Source.Kind {
	case config.SourceSQL:
		return n.startSQLSource(ctx)
	case config.SourceWebSocket:
		return n.startWebSocketSource(), nil
	case config.SourceP2P:
		return n.startP2PSource()
	default:
		return nil, fmt.Errorf("unknown source kind %q", n.config.Source.Kind)
	}
}

func (n *Node) startSQLSource(ctx context.Context) (feed.Source, error) {
	sc := n.config.Source.SQL
	n.logger.ComponentInfo(logging.ComponentSource, "Connecting to database",
		zap.String("driver", sc.Driver),
		zap.String("dsn", sc.DSN))

	db, err := sqlpoll.Open(ctx, sc.Driver, sc.DSN)
	if err != nil {
		return nil, err
	}
	n.db = db

	queries := make(map[string]sqlpoll.Query, len(sc.Queries))
	for channel, q := range sc.Queries {
		queries[channel] = sqlpoll.Query{SQL: q.SQL, Args: q.Args}
	}
	return sqlpoll.New(db, sqlpoll.Config{
		PollInterval: sc.PollInterval,
		QueryTimeout: sc.QueryTimeout,
		Queries:      queries,
	}, n.logger), nil
}

func (n *Node) startWebSocketSource() feed.Source {
	wc := n.config.Source.WebSocket
	header := http.Header{}
	for k, v := range wc.Headers {
		header.Set(k, v)
	}
	n.logger.ComponentInfo(logging.ComponentSource, "Using streaming upstream", zap.String("url", wc.URL))
	return wsfeed.New(wsfeed.Config{
		URL:          wc.URL,
		DialTimeout:  wc.DialTimeout,
		PingInterval: wc.PingInterval,
		Header:       header,
	}, n.logger)
}

func (n *Node) startP2PSource() (feed.Source, error) {
	pc := n.config.Source.P2P

	addrs, err := n.config.ParseListenAddrs()
	if err != nil {
		return nil, fmt.Errorf("invalid listen address: %w", err)
	}
	identity, err := loadOrCreateIdentity(pc.IdentityFile, n.logger)
	if err != nil {
		return nil, err
	}

	h, ps, err := p2p.NewHost(n.ctx, addrs, identity)
	if err != nil {
		return nil, err
	}
	n.host = h
	n.pubsub = p2p.NewManager(ps, pc.Namespace, n.logger)

	n.logger.ComponentInfo(logging.ComponentSource, "LibP2P host started",
		zap.String("peer_id", h.ID().String()),
		zap.Int("bootstrap_peers", len(pc.BootstrapPeers)))

	if len(pc.BootstrapPeers) > 0 {
		go n.dialBootstrapPeers(n.ctx, pc.BootstrapPeers)
	}
	return p2p.NewSource(n.pubsub), nil
}

// dialBootstrapPeers keeps retrying until at least one peer is reached.
func (n *Node) dialBootstrapPeers(ctx context.Context, peers []string) {
	interval := 5 * time.Second
	for {
		dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		connected, err := p2p.Connect(dialCtx, n.host, peers)
		cancel()
		if connected > 0 {
			n.logger.ComponentInfo(logging.ComponentSource, "Connected to bootstrap peers",
				zap.Int("connected", connected))
			return
		}
		n.logger.ComponentWarn(logging.ComponentSource, "No bootstrap peer reachable, retrying",
			zap.Duration("retry_in", interval),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(addJitter(interval)):
		}
		interval = calculateNextBackoff(interval)
	}
}
