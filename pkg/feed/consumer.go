package feed

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	ferrors "github.com/DeBrosOfficial/fitsync/pkg/errors"
	"github.com/DeBrosOfficial/fitsync/pkg/logging"
)

// Options configure a Consumer. S is the snapshot type the source pushes for the
// channel and T the consumer's own projection of it. Exactly one of Mapper and
// Fold must be set.
type Options[S, T any] struct {
	// Name identifies the consumer in logs and mapper errors.
	Name    string
	Channel string
	Params  Params

	// Target builds the source target for a principal. Returning false keeps the
	// consumer Idle. A nil Target uses the key itself.
	Target func(principal string) (Target, bool)

	// Mapper projects every snapshot independently. The snapshot is the shared
	// cached value unless S implements Cloner, in which case it is a private
	// copy; a mapper must not modify a shared snapshot.
	Mapper func(S) (T, error)
	// Fold projects a snapshot against the previously held value, which is nil
	// before the first snapshot. prev is copied like State.Data.
	Fold func(prev *T, s S) (T, error)

	// OnData is called after every successful projection, outside the consumer
	// lock. It runs on the feed's delivery path and may call Refresh; a push
	// that Refresh triggers is delivered after OnData returns.
	OnData func(T)

	Disabled bool
}

// Consumer attaches one independent view to a shared feed. Mapper and Fold run
// under the consumer lock and must not call back into the same consumer.
type Consumer[S, T any] struct {
	registry   *Registry
	principals PrincipalSupplier
	logger     *logging.ColoredLogger
	opts       Options[S, T]

	mu        sync.Mutex
	state     State[T]
	key       Key
	handle    *Handle
	attaching bool
	epoch     uint64 // bumped per attach; callbacks from older attaches are ignored
	closed    bool
	changes   chan struct{}
}

// NewConsumer creates a consumer in PhaseIdle. Call Start to attach.
func NewConsumer[S, T any](reg *Registry, principals PrincipalSupplier, logger *logging.ColoredLogger, opts Options[S, T]) (*Consumer[S, T], error) {
	if reg == nil {
		return nil, ferrors.NewValidationError("registry", "registry is required", nil)
	}
	if opts.Channel == "" {
		return nil, ferrors.NewValidationError("channel", "channel is required", nil)
	}
	if (opts.Mapper == nil) == (opts.Fold == nil) {
		return nil, ferrors.NewValidationError("mapper", "exactly one of Mapper or Fold is required", nil)
	}
	if opts.Name == "" {
		opts.Name = opts.Channel
	}
	opts.Params = opts.Params.clone()

	return &Consumer[S, T]{
		registry:   reg,
		principals: principals,
		logger:     logging.OrNop(logger),
		opts:       opts,
		state:      State[T]{Phase: PhaseIdle},
		changes:    make(chan struct{}, 1),
	}, nil
}

// Start attaches the consumer to its feed. Without a principal, when disabled,
// or when the target factory declines, the consumer stays Idle and the factory
// is never consulted in the first two cases. Start on an attached consumer is a
// no-op.
func (c *Consumer[S, T]) Start() {
	c.mu.Lock()
	if c.closed || c.handle != nil || c.attaching {
		c.mu.Unlock()
		return
	}

	principal, ok := "", false
	if !c.opts.Disabled && c.principals != nil {
		principal, ok = c.principals.CurrentPrincipalID()
	}
	if !ok || principal == "" {
		c.setLocked(State[T]{Phase: PhaseIdle})
		c.mu.Unlock()
		return
	}

	key := NewKey(principal, c.opts.Channel, c.opts.Params)
	c.key = key
	c.attaching = true
	c.epoch++
	epoch := c.epoch
	c.setLocked(State[T]{Loading: true, Phase: PhaseAttaching})
	c.mu.Unlock()

	h, err := c.registry.Acquire(key, c.factory(principal, key), Callback{
		OnSnapshot: func(s any) { c.onSnapshot(epoch, s) },
		OnError:    func(err error) { c.onError(epoch, err) },
	})

	c.mu.Lock()
	if epoch != c.epoch || c.closed {
		c.mu.Unlock()
		if h != nil {
			h.Release()
		}
		return
	}
	c.attaching = false
	if err != nil {
		if errors.Is(err, ErrNoTarget) {
			c.setLocked(State[T]{Phase: PhaseIdle})
		} else {
			c.setLocked(State[T]{Err: err, Phase: PhaseError})
		}
		c.mu.Unlock()
		c.logger.ComponentDebug(logging.ComponentFeed, "Consumer not attached",
			zap.String("consumer", c.opts.Name),
			zap.String("feed", key.String()),
			zap.Error(err))
		return
	}
	c.handle = h
	c.mu.Unlock()
}

func (c *Consumer[S, T]) factory(principal string, key Key) TargetFactory {
	if c.opts.Target == nil {
		return FixedTarget(key.Target())
	}
	return func() (Target, bool) { return c.opts.Target(principal) }
}

func (c *Consumer[S, T]) onSnapshot(epoch uint64, raw any) {
	c.mu.Lock()
	if c.closed || epoch != c.epoch {
		c.mu.Unlock()
		return
	}

	next, err := c.project(raw)
	if err != nil {
		merr := ferrors.NewMapperError(c.key.String(), c.opts.Name, err)
		st := c.state
		st.Err = merr
		st.Loading = false
		c.setLocked(st)
		c.mu.Unlock()
		c.logger.ComponentWarn(logging.ComponentFeed, "Snapshot projection failed",
			zap.String("consumer", c.opts.Name),
			zap.String("feed", c.key.String()),
			zap.Error(err))
		return
	}

	c.setLocked(State[T]{Data: &next, Listening: true, Phase: PhaseActive})
	onData := c.opts.OnData
	var out T
	if onData != nil {
		out = cloneValue(next)
	}
	c.mu.Unlock()

	if onData != nil {
		onData(out)
	}
}

// project runs the mapper or fold for one snapshot, turning a type mismatch or a
// panic into an error.
func (c *Consumer[S, T]) project(raw any) (out T, err error) {
	s, ok := raw.(S)
	if !ok {
		return out, fmt.Errorf("unexpected snapshot type %T", raw)
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	s = cloneValue(s)
	if c.opts.Fold != nil {
		var prev *T
		if c.state.Data != nil {
			cp := cloneValue(*c.state.Data)
			prev = &cp
		}
		return c.opts.Fold(prev, s)
	}
	return c.opts.Mapper(s)
}

func (c *Consumer[S, T]) onError(epoch uint64, err error) {
	c.mu.Lock()
	if c.closed || epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	c.setLocked(State[T]{Data: c.state.Data, Err: err, Phase: PhaseError})
	c.mu.Unlock()
}

// Refresh forces the shared feed to resubscribe and returns the consumer to
// Attaching, keeping the last data visible. An Idle consumer retries Start.
func (c *Consumer[S, T]) Refresh() {
	c.mu.Lock()
	if c.closed || c.attaching {
		c.mu.Unlock()
		return
	}
	h := c.handle
	if h == nil {
		c.mu.Unlock()
		c.Start()
		return
	}
	c.setLocked(State[T]{Data: c.state.Data, Loading: true, Phase: PhaseAttaching})
	c.mu.Unlock()

	if h.Refresh() {
		return
	}

	// The feed is gone, for example after a refresh whose factory declined.
	c.mu.Lock()
	if c.handle == h {
		c.handle = nil
	}
	c.mu.Unlock()
	h.Release()
	c.Start()
}

// Update applies fn to a copy of the held data and stores the result. It reports
// false when there is no data yet or the consumer is closed.
func (c *Consumer[S, T]) Update(fn func(*T)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.state.Data == nil {
		return false
	}
	d := cloneValue(*c.state.Data)
	fn(&d)
	st := c.state
	st.Data = &d
	c.setLocked(st)
	return true
}

// Close detaches the consumer. It is safe to call more than once.
func (c *Consumer[S, T]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.setLocked(State[T]{Data: c.state.Data, Phase: PhaseDetached})
	c.closed = true
	c.epoch++
	h := c.handle
	c.handle = nil
	close(c.changes)
	c.mu.Unlock()

	if h != nil {
		h.Release()
	}
}

// State returns a copy of the current state. Data is deep-copied when T
// implements Cloner.
func (c *Consumer[S, T]) State() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Key returns the feed key of the last attach. It is zero before Start.
func (c *Consumer[S, T]) Key() Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

// Name returns the consumer name.
func (c *Consumer[S, T]) Name() string { return c.opts.Name }

// Changes signals state changes. Signals are coalesced, so readers should call
// State after each receive. The channel is closed by Close.
func (c *Consumer[S, T]) Changes() <-chan struct{} { return c.changes }

func (c *Consumer[S, T]) setLocked(st State[T]) {
	c.state = st
	select {
	case c.changes <- struct{}{}:
	default:
	}
}
