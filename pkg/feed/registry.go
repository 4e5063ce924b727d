package feed

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	ferrors "github.com/DeBrosOfficial/fitsync/pkg/errors"
	"github.com/DeBrosOfficial/fitsync/pkg/logging"
)

var (
	// ErrNoTarget is returned by Acquire when the target factory reports that the
	// feed does not apply. No subscription is opened and the caller stays idle.
	ErrNoTarget = errors.New("feed: no target for key")

	// ErrRegistryClosed is returned by Acquire after Close.
	ErrRegistryClosed = errors.New("feed: registry closed")
)

// Registry owns the upstream subscriptions for every attached feed. It is
// constructed explicitly and shared by injection; tests build isolated instances.
type Registry struct {
	source    Source
	logger    *logging.ColoredLogger
	observers []Observer

	ctx       context.Context
	cancelAll context.CancelFunc

	mu      sync.Mutex
	entries map[string]*entry // Key.String() -> entry
	gen     uint64            // last generation handed out
	seq     uint64            // last event sequence handed out, registry-wide
	closed  bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithObserver registers an observer that sees every snapshot after fan-out.
func WithObserver(o Observer) RegistryOption {
	return func(r *Registry) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// entry is the per-feed record. All fields are guarded by Registry.mu.
type entry struct {
	key     Key
	gen     uint64
	factory TargetFactory
	subs    []*subscriber

	ctx       context.Context
	cancelCtx context.CancelFunc
	stop      CancelFunc // set once Subscribe confirms
	torn      bool

	snapshot    any
	hasSnapshot bool
	snapSeq     uint64
	err         error
	errSeq      uint64
	listening   bool
}

// subscriber is one attached callback. seq is the newest event accepted for it,
// so an older event is never delivered after a newer one. Accepted events are
// queued and run one at a time by whichever goroutine is draining, without mu
// held, so a callback may trigger a delivery to itself.
type subscriber struct {
	id       string
	cb       Callback
	mu       sync.Mutex
	seq      uint64
	queue    []func()
	draining bool
	closed   atomic.Bool
}

// replayState is what a late subscriber receives synchronously from Acquire.
type replayState struct {
	snapshot    any
	hasSnapshot bool
	snapSeq     uint64
	err         error
	errSeq      uint64
}

// NewRegistry creates a registry that opens subscriptions through src.
func NewRegistry(src Source, logger *logging.ColoredLogger, opts ...RegistryOption) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		source:    src,
		logger:    logging.OrNop(logger),
		ctx:       ctx,
		cancelAll: cancel,
		entries:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire attaches cb to the feed identified by key.
//
// If the feed is already live, cb joins it and any cached snapshot (followed by a
// cached error, if one is pending) is delivered to cb before Acquire returns,
// unless a newer push to cb is already in flight and supersedes it.
// Otherwise factory is asked for a target; if it declines, Acquire returns
// ErrNoTarget. If it produces one, a new entry is registered and the source is
// subscribed from the calling goroutine. A nil factory uses key.Target().
//
// The returned Handle must be released when the consumer goes away.
func (r *Registry) Acquire(key Key, factory TargetFactory, cb Callback) (*Handle, error) {
	if factory == nil {
		factory = FixedTarget(key.Target())
	}
	ks := key.String()
	sub := &subscriber{id: uuid.NewString(), cb: cb}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}

	if e, ok := r.entries[ks]; ok {
		e.subs = append(e.subs, sub)
		count := len(e.subs)
		replay := replayState{
			snapshot:    e.snapshot,
			hasSnapshot: e.hasSnapshot,
			snapSeq:     e.snapSeq,
			err:         e.err,
			errSeq:      e.errSeq,
		}
		r.mu.Unlock()

		r.logger.ComponentDebug(logging.ComponentRegistry, "Joined shared feed",
			zap.String("feed", ks),
			zap.String("subscriber", sub.id),
			zap.Int("subscribers", count),
			zap.Bool("cached", replay.hasSnapshot))
		r.replay(ks, sub, replay)
		return newHandle(r, key, sub.id), nil
	}

	target, ok := factory()
	if !ok {
		r.mu.Unlock()
		return nil, ErrNoTarget
	}
	e := r.newEntryLocked(key, factory)
	e.subs = append(e.subs, sub)
	r.entries[ks] = e
	r.mu.Unlock()

	r.attach(e, target)
	return newHandle(r, key, sub.id), nil
}

// Release detaches the callback registered under id. When the last callback of a
// feed is released, the upstream subscription is cancelled and the entry removed.
// Releasing an unknown key or id is a no-op, so duplicate teardown is harmless.
func (r *Registry) Release(key Key, id string) {
	ks := key.String()

	r.mu.Lock()
	e, ok := r.entries[ks]
	if !ok {
		r.mu.Unlock()
		return
	}
	idx := -1
	for i, s := range e.subs {
		if s.id == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return
	}
	e.subs[idx].closed.Store(true)
	e.subs = append(e.subs[:idx], e.subs[idx+1:]...)
	remaining := len(e.subs)

	var stop func()
	if remaining == 0 {
		stop = r.teardownLocked(e)
		delete(r.entries, ks)
	}
	r.mu.Unlock()

	if stop != nil {
		stop()
		r.logger.ComponentInfo(logging.ComponentRegistry, "Feed released",
			zap.String("feed", ks),
			zap.Uint64("generation", e.gen))
		return
	}
	r.logger.ComponentDebug(logging.ComponentRegistry, "Subscriber detached",
		zap.String("feed", ks),
		zap.String("subscriber", id),
		zap.Int("subscribers", remaining))
}

// Refresh tears down the live subscription for key and immediately replaces it
// with a new one that carries over every attached callback. It returns false if
// no entry exists for key.
//
// If the stored factory no longer produces a target, the feed is dropped and the
// attached callbacks receive an AttachError wrapping ErrNoTarget.
func (r *Registry) Refresh(key Key) bool {
	ks := key.String()

	r.mu.Lock()
	old, ok := r.entries[ks]
	if !ok || r.closed {
		r.mu.Unlock()
		return false
	}
	stopOld := r.teardownLocked(old)
	delete(r.entries, ks)
	subs := old.subs
	old.subs = nil

	target, ok := old.factory()
	if !ok {
		r.seq++
		seq := r.seq
		r.mu.Unlock()
		stopOld()

		err := ferrors.NewAttachError(ks, ErrNoTarget)
		for _, s := range subs {
			r.deliverError(ks, s, seq, err)
		}
		r.logger.ComponentWarn(logging.ComponentRegistry, "Feed dropped on refresh: no target",
			zap.String("feed", ks))
		return true
	}

	e := r.newEntryLocked(old.key, old.factory)
	e.subs = subs
	r.entries[ks] = e
	r.mu.Unlock()

	stopOld()
	r.logger.ComponentInfo(logging.ComponentRegistry, "Refreshing feed",
		zap.String("feed", ks),
		zap.Uint64("old_generation", old.gen),
		zap.Uint64("generation", e.gen),
		zap.Int("subscribers", len(subs)))
	r.attach(e, target)
	return true
}

// Close cancels every subscription. Acquire fails afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	stops := make([]func(), 0, len(r.entries))
	for _, e := range r.entries {
		for _, s := range e.subs {
			s.closed.Store(true)
		}
		stops = append(stops, r.teardownLocked(e))
	}
	count := len(r.entries)
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	r.cancelAll()
	r.logger.ComponentInfo(logging.ComponentRegistry, "Registry closed", zap.Int("feeds", count))
}

func (r *Registry) newEntryLocked(key Key, factory TargetFactory) *entry {
	r.gen++
	ctx, cancel := context.WithCancel(r.ctx)
	return &entry{
		key:       key,
		gen:       r.gen,
		factory:   factory,
		ctx:       ctx,
		cancelCtx: cancel,
	}
}

// teardownLocked marks e dead and returns the function that cancels it. The
// source's CancelFunc runs at most once: either here or, if Subscribe has not
// confirmed yet, in attach when it sees the torn flag.
func (r *Registry) teardownLocked(e *entry) func() {
	e.torn = true
	e.listening = false
	stop := e.stop
	e.stop = nil
	return func() {
		e.cancelCtx()
		if stop != nil {
			stop()
		}
	}
}

// attach subscribes e to the source. It runs without the registry lock.
func (r *Registry) attach(e *entry, target Target) {
	ks := e.key.String()
	stop, err := r.source.Subscribe(e.ctx, target, entrySink{r: r, key: ks, gen: e.gen})

	r.mu.Lock()
	if e.torn {
		r.mu.Unlock()
		if stop != nil {
			stop()
		}
		r.logger.ComponentDebug(logging.ComponentRegistry, "Subscription confirmed after teardown; cancelled",
			zap.String("feed", ks),
			zap.Uint64("generation", e.gen))
		return
	}
	if err != nil {
		r.mu.Unlock()
		r.publishError(ks, e.gen, err)
		return
	}
	e.stop = stop
	r.mu.Unlock()

	r.logger.ComponentInfo(logging.ComponentRegistry, "Feed attached",
		zap.String("feed", ks),
		zap.String("target", target.String()),
		zap.Uint64("generation", e.gen))
}

// publish records snapshot as the latest value of the feed and fans it out.
// Pushes from a generation that is no longer live are dropped.
func (r *Registry) publish(ks string, gen uint64, snapshot any) {
	r.mu.Lock()
	e, ok := r.entries[ks]
	if !ok || e.gen != gen || e.torn {
		r.mu.Unlock()
		r.logger.ComponentDebug(logging.ComponentRegistry, "Dropping push from stale subscription",
			zap.String("feed", ks),
			zap.Uint64("generation", gen))
		return
	}
	r.seq++
	seq := r.seq
	e.snapshot = snapshot
	e.hasSnapshot = true
	e.snapSeq = seq
	e.err = nil
	e.errSeq = 0
	e.listening = true
	subs := append([]*subscriber(nil), e.subs...)
	key := e.key
	r.mu.Unlock()

	for _, s := range subs {
		r.deliverSnapshot(ks, s, seq, snapshot)
	}
	for _, o := range r.observers {
		r.notify(ks, o, key, snapshot)
	}
}

// publishError records err on the feed and fans it out. The entry is kept; an
// explicit Refresh is needed to retry.
func (r *Registry) publishError(ks string, gen uint64, err error) {
	r.mu.Lock()
	e, ok := r.entries[ks]
	if !ok || e.gen != gen || e.torn {
		r.mu.Unlock()
		return
	}
	if !ferrors.IsAttach(err) && !ferrors.IsPush(err) {
		if e.hasSnapshot {
			err = ferrors.NewPushError(ks, err)
		} else {
			err = ferrors.NewAttachError(ks, err)
		}
	}
	r.seq++
	seq := r.seq
	e.err = err
	e.errSeq = seq
	e.listening = false
	subs := append([]*subscriber(nil), e.subs...)
	r.mu.Unlock()

	r.logger.ComponentWarn(logging.ComponentRegistry, "Feed error",
		zap.String("feed", ks),
		zap.Uint64("generation", gen),
		zap.Int("subscribers", len(subs)),
		zap.Error(err))
	for _, s := range subs {
		r.deliverError(ks, s, seq, err)
	}
}

func (r *Registry) replay(ks string, s *subscriber, st replayState) {
	if st.hasSnapshot {
		r.deliverSnapshot(ks, s, st.snapSeq, st.snapshot)
	}
	if st.err != nil {
		r.deliverError(ks, s, st.errSeq, st.err)
	}
}

func (r *Registry) deliverSnapshot(ks string, s *subscriber, seq uint64, snapshot any) {
	var fn func()
	if s.cb.OnSnapshot != nil {
		fn = func() { s.cb.OnSnapshot(snapshot) }
	}
	r.deliver(ks, s, seq, fn)
}

func (r *Registry) deliverError(ks string, s *subscriber, seq uint64, err error) {
	var fn func()
	if s.cb.OnError != nil {
		fn = func() { s.cb.OnError(err) }
	}
	r.deliver(ks, s, seq, fn)
}

// deliver queues fn for one subscriber and drains the queue unless another
// call is already draining it. A delivery made from inside one of the
// subscriber's own callbacks runs after that callback returns.
func (r *Registry) deliver(ks string, s *subscriber, seq uint64, fn func()) {
	s.mu.Lock()
	if s.closed.Load() || seq <= s.seq {
		s.mu.Unlock()
		return
	}
	s.seq = seq
	if fn == nil {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, fn)
	if s.draining {
		s.mu.Unlock()
		return
	}

	s.draining = true
	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()
		if !s.closed.Load() {
			r.run(ks, s, next)
		}
		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

// run isolates panics so the remaining subscribers of the feed still receive
// the event.
func (r *Registry) run(ks string, s *subscriber, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.ComponentError(logging.ComponentRegistry, "Feed callback panicked",
				zap.String("feed", ks),
				zap.String("subscriber", s.id),
				zap.Any("panic", p))
		}
	}()
	fn()
}

func (r *Registry) notify(ks string, o Observer, key Key, snapshot any) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.ComponentError(logging.ComponentRegistry, "Feed observer panicked",
				zap.String("feed", ks),
				zap.Any("panic", p))
		}
	}()
	o.OnSnapshot(key, snapshot)
}

// entrySink routes source events to the entry generation that opened them.
type entrySink struct {
	r   *Registry
	key string
	gen uint64
}

func (s entrySink) Push(snapshot any) { s.r.publish(s.key, s.gen, snapshot) }
func (s entrySink) Fail(err error)    { s.r.publishError(s.key, s.gen, err) }

// EntryStats is a read-only view of one feed.
type EntryStats struct {
	Key         Key    `json:"-"`
	Feed        string `json:"feed"`
	Subscribers int    `json:"subscribers"`
	Listening   bool   `json:"listening"`
	HasSnapshot bool   `json:"has_snapshot"`
	LastError   string `json:"last_error,omitempty"`
	Generation  uint64 `json:"generation"`
}

func statsLocked(e *entry) EntryStats {
	st := EntryStats{
		Key:         e.key,
		Feed:        e.key.String(),
		Subscribers: len(e.subs),
		Listening:   e.listening,
		HasSnapshot: e.hasSnapshot,
		Generation:  e.gen,
	}
	if e.err != nil {
		st.LastError = e.err.Error()
	}
	return st
}

// Peek returns the stats and cached snapshot of the feed for key, without
// attaching to it.
func (r *Registry) Peek(key Key) (EntryStats, any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key.String()]
	if !ok {
		return EntryStats{}, nil, false
	}
	return statsLocked(e), e.snapshot, true
}

// Stats lists every live feed, ordered by feed name.
func (r *Registry) Stats() []EntryStats {
	r.mu.Lock()
	out := make([]EntryStats, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, statsLocked(e))
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Feed < out[j].Feed })
	return out
}
