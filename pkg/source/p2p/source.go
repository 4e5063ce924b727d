// Package p2p implements a feed.Source over libp2p GossipSub. Backends publish
// JSON row snapshots on "{namespace}.{channel}.{principal}" topics.
package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/DeBrosOfficial/fitsync/pkg/feed"
)

// Topic returns the un-namespaced topic of a channel for a principal.
func Topic(channel, principal string) string {
	return fmt.Sprintf("%s.%s", channel, principal)
}

// Source subscribes feeds to gossip topics through a Manager.
type Source struct {
	manager *Manager
}

// NewSource creates a Source.
func NewSource(m *Manager) *Source {
	return &Source{manager: m}
}

// Subscribe registers a topic handler that decodes each message as rows and
// pushes it. A "limit" param truncates the rows. Undecodable messages are
// reported through sink.Fail.
func (s *Source) Subscribe(ctx context.Context, target feed.Target, sink feed.Sink) (feed.CancelFunc, error) {
	limit := 0
	if v, ok := target.Params["limit"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid limit %q", v)
		}
		limit = n
	}

	topic := Topic(target.Channel, target.Principal)
	id, err := s.manager.Subscribe(topic, func(_ string, data []byte) error {
		if ctx.Err() != nil {
			return nil
		}
		var rows feed.Rows
		if err := json.Unmarshal(data, &rows); err != nil {
			err = fmt.Errorf("decode snapshot on %s: %w", topic, err)
			sink.Fail(err)
			return err
		}
		if rows == nil {
			rows = feed.Rows{}
		}
		if limit > 0 && len(rows) > limit {
			rows = rows[:limit]
		}
		sink.Push(rows)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { s.manager.Unsubscribe(topic, id) })
	}, nil
}

// PublishRows publishes a snapshot for a channel and principal.
func PublishRows(ctx context.Context, m *Manager, channel, principal string, rows feed.Rows) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return m.Publish(ctx, Topic(channel, principal), data)
}
