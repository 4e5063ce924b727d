package snapcache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/fitsync/pkg/feed"
	"github.com/DeBrosOfficial/fitsync/pkg/logging"
)

const defaultQueueSize = 256

type write struct {
	key   string
	value []byte
}

// Mirror is a feed.Observer that writes every snapshot to a Store. Writes go
// through a bounded queue drained by one worker, so a slow store never blocks
// fan-out; snapshots arriving while the queue is full are dropped.
type Mirror struct {
	store   Store
	logger  *logging.ColoredLogger
	timeout time.Duration

	queue     chan write
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.RWMutex
	closed bool
}

// NewMirror starts the write worker. A queueSize of zero uses the default.
func NewMirror(store Store, queueSize int, logger *logging.ColoredLogger) *Mirror {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	m := &Mirror{
		store:   store,
		logger:  logging.OrNop(logger),
		timeout: 5 * time.Second,
		queue:   make(chan write, queueSize),
		done:    make(chan struct{}),
	}
	go m.run()
	return m
}

// OnSnapshot implements feed.Observer.
func (m *Mirror) OnSnapshot(key feed.Key, snapshot any) {
	value, err := json.Marshal(snapshot)
	if err != nil {
		m.logger.ComponentWarn(logging.ComponentCache, "Snapshot not cacheable",
			zap.String("feed", key.String()),
			zap.Error(err))
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- write{key: key.String(), value: value}:
	default:
		m.logger.ComponentWarn(logging.ComponentCache, "Snapshot cache queue full, dropping write",
			zap.String("feed", key.String()))
	}
}

// Load returns the cached JSON snapshot of key.
func (m *Mirror) Load(ctx context.Context, key feed.Key) (json.RawMessage, bool, error) {
	v, ok, err := m.store.Get(ctx, key.String())
	if err != nil || !ok {
		return nil, false, err
	}
	return json.RawMessage(v), true, nil
}

func (m *Mirror) run() {
	defer close(m.done)
	for w := range m.queue {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		if err := m.store.Put(ctx, w.key, w.value); err != nil {
			m.logger.ComponentWarn(logging.ComponentCache, "Snapshot cache write failed",
				zap.String("feed", w.key),
				zap.Error(err))
		}
		cancel()
	}
}

// Close flushes queued writes and closes the store.
func (m *Mirror) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		close(m.queue)
		m.mu.Unlock()
	})

	select {
	case <-m.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.store.Close(ctx)
}
