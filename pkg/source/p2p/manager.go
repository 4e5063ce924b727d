package p2p

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/fitsync/pkg/logging"
)

// MessageHandler is called for every message on a subscribed topic. Handlers of
// one topic are called sequentially from a single goroutine.
type MessageHandler func(topic string, data []byte) error

// HandlerID identifies one handler registration.
type HandlerID string

// Manager multiplexes handlers over one libp2p subscription per topic. Topics
// are namespaced as "{namespace}.{topic}".
type Manager struct {
	pubsub    *pubsub.PubSub
	namespace string
	logger    *logging.ColoredLogger

	mu            sync.Mutex
	topics        map[string]*pubsub.Topic
	subscriptions map[string]*topicSubscription
}

type topicSubscription struct {
	sub      *pubsub.Subscription
	cancel   context.CancelFunc
	mu       sync.RWMutex
	handlers map[HandlerID]MessageHandler
	order    []HandlerID
}

// NewManager creates a new pubsub manager
func NewManager(ps *pubsub.PubSub, namespace string, logger *logging.ColoredLogger) *Manager {
	return &Manager{
		pubsub:        ps,
		namespace:     namespace,
		logger:        logging.OrNop(logger),
		topics:        make(map[string]*pubsub.Topic),
		subscriptions: make(map[string]*topicSubscription),
	}
}

func (m *Manager) namespaced(topic string) string {
	return fmt.Sprintf("%s.%s", m.namespace, topic)
}

// Subscribe registers handler on topic. The first handler of a topic joins it
// and starts the fan-out goroutine; later handlers share that subscription.
func (m *Manager) Subscribe(topic string, handler MessageHandler) (HandlerID, error) {
	if m.pubsub == nil {
		return "", fmt.Errorf("pubsub not initialized")
	}
	name := m.namespaced(topic)
	id := HandlerID(uuid.NewString())

	m.mu.Lock()
	defer m.mu.Unlock()

	if ts, ok := m.subscriptions[name]; ok {
		ts.mu.Lock()
		ts.handlers[id] = handler
		ts.order = append(ts.order, id)
		ts.mu.Unlock()
		return id, nil
	}

	t, err := m.getOrCreateTopicLocked(name)
	if err != nil {
		return "", err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return "", fmt.Errorf("failed to subscribe to topic: %w", err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	ts := &topicSubscription{
		sub:      sub,
		cancel:   cancel,
		handlers: map[HandlerID]MessageHandler{id: handler},
		order:    []HandlerID{id},
	}
	m.subscriptions[name] = ts
	go m.fanOut(subCtx, topic, ts)

	m.logger.ComponentDebug(logging.ComponentSource, "Joined gossip topic", zap.String("topic", name))
	return id, nil
}

func (m *Manager) fanOut(ctx context.Context, topic string, ts *topicSubscription) {
	defer ts.sub.Cancel()

	for {
		msg, err := ts.sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.ComponentWarn(logging.ComponentSource, "Gossip subscription ended",
				zap.String("topic", topic),
				zap.Error(err))
			return
		}

		ts.mu.RLock()
		handlers := make([]MessageHandler, 0, len(ts.order))
		for _, id := range ts.order {
			handlers = append(handlers, ts.handlers[id])
		}
		ts.mu.RUnlock()

		for _, h := range handlers {
			if err := h(topic, msg.Data); err != nil {
				m.logger.ComponentDebug(logging.ComponentSource, "Gossip handler failed",
					zap.String("topic", topic),
					zap.Error(err))
			}
		}
	}
}

// Unsubscribe removes one handler. The libp2p subscription is cancelled when
// the last handler of the topic is removed. Unknown ids are ignored.
func (m *Manager) Unsubscribe(topic string, id HandlerID) {
	name := m.namespaced(topic)

	m.mu.Lock()
	defer m.mu.Unlock()

	ts, ok := m.subscriptions[name]
	if !ok {
		return
	}
	ts.mu.Lock()
	if _, ok := ts.handlers[id]; !ok {
		ts.mu.Unlock()
		return
	}
	delete(ts.handlers, id)
	for i, hid := range ts.order {
		if hid == id {
			ts.order = append(ts.order[:i], ts.order[i+1:]...)
			break
		}
	}
	remaining := len(ts.handlers)
	ts.mu.Unlock()

	if remaining == 0 {
		ts.cancel()
		delete(m.subscriptions, name)
		m.logger.ComponentDebug(logging.ComponentSource, "Left gossip topic", zap.String("topic", name))
	}
}

// Publish publishes data to topic.
func (m *Manager) Publish(ctx context.Context, topic string, data []byte) error {
	if m.pubsub == nil {
		return fmt.Errorf("pubsub not initialized")
	}

	m.mu.Lock()
	t, err := m.getOrCreateTopicLocked(m.namespaced(topic))
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if err := t.Publish(ctx, data); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// ListTopics returns the subscribed topics without their namespace prefix.
func (m *Manager) ListTopics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := m.namespace + "."
	var topics []string
	for name := range m.subscriptions {
		if len(name) > len(prefix) && name[:len(prefix)] == prefix {
			topics = append(topics, name[len(prefix):])
		}
	}
	return topics
}

// Close cancels all subscriptions and closes all topics.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ts := range m.subscriptions {
		ts.cancel()
	}
	m.subscriptions = make(map[string]*topicSubscription)

	for _, t := range m.topics {
		_ = t.Close()
	}
	m.topics = make(map[string]*pubsub.Topic)
	return nil
}

func (m *Manager) getOrCreateTopicLocked(name string) (*pubsub.Topic, error) {
	if t, ok := m.topics[name]; ok {
		return t, nil
	}
	t, err := m.pubsub.Join(name)
	if err != nil {
		return nil, fmt.Errorf("failed to join topic: %w", err)
	}
	m.topics[name] = t
	return t, nil
}
