// Package feedtest provides a controllable in-memory feed.Source for tests.
package feedtest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/DeBrosOfficial/fitsync/pkg/feed"
)

// Subscription is one Subscribe call recorded by Source.
type Subscription struct {
	Target feed.Target
	Ctx    context.Context

	sink    feed.Sink
	cancels atomic.Int32
}

// Push delivers snapshot to the sink even if the subscription was cancelled,
// which lets tests simulate late events from a dead subscription.
func (s *Subscription) Push(snapshot any) { s.sink.Push(snapshot) }

// Fail delivers err to the sink unconditionally.
func (s *Subscription) Fail(err error) { s.sink.Fail(err) }

// Cancelled reports whether the CancelFunc was called.
func (s *Subscription) Cancelled() bool { return s.cancels.Load() > 0 }

// Cancels returns how many times the CancelFunc was called.
func (s *Subscription) Cancels() int { return int(s.cancels.Load()) }

// Source records subscriptions and lets tests drive them.
type Source struct {
	mu      sync.Mutex
	subs    map[string][]*Subscription
	gate    chan struct{}
	waiting int
	failErr error
}

// New creates an empty Source.
func New() *Source {
	return &Source{subs: make(map[string][]*Subscription)}
}

// Subscribe records the call, blocks while the source is held and returns the
// configured failure, if any.
func (s *Source) Subscribe(ctx context.Context, target feed.Target, sink feed.Sink) (feed.CancelFunc, error) {
	sub := &Subscription{Target: target, Ctx: ctx, sink: sink}

	s.mu.Lock()
	ks := target.String()
	s.subs[ks] = append(s.subs[ks], sub)
	gate := s.gate
	if gate != nil {
		s.waiting++
	}
	s.mu.Unlock()

	if gate != nil {
		<-gate
		s.mu.Lock()
		s.waiting--
		s.mu.Unlock()
	}

	s.mu.Lock()
	err := s.failErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return func() { sub.cancels.Add(1) }, nil
}

// Hold makes subsequent Subscribe calls block until Release.
func (s *Source) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate == nil {
		s.gate = make(chan struct{})
	}
}

// Release unblocks every held Subscribe call.
func (s *Source) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

// Waiting returns the number of Subscribe calls blocked by Hold.
func (s *Source) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiting
}

// FailSubscribes makes Subscribe return err until called again with nil.
func (s *Source) FailSubscribes(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// Subscriptions returns every subscription opened for target, oldest first.
func (s *Source) Subscriptions(target string) []*Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Subscription(nil), s.subs[target]...)
}

// Latest returns the newest subscription for target, or nil.
func (s *Source) Latest(target string) *Subscription {
	subs := s.Subscriptions(target)
	if len(subs) == 0 {
		return nil
	}
	return subs[len(subs)-1]
}

// Subscribes counts Subscribe calls for target.
func (s *Source) Subscribes(target string) int {
	return len(s.Subscriptions(target))
}

// Cancels counts CancelFunc calls across all subscriptions for target.
func (s *Source) Cancels(target string) int {
	n := 0
	for _, sub := range s.Subscriptions(target) {
		n += sub.Cancels()
	}
	return n
}

// Push delivers snapshot to every live subscription for target and returns how
// many received it.
func (s *Source) Push(target string, snapshot any) int {
	n := 0
	for _, sub := range s.Subscriptions(target) {
		if sub.Cancelled() || sub.Ctx.Err() != nil {
			continue
		}
		sub.Push(snapshot)
		n++
	}
	return n
}

// Fail delivers err to every live subscription for target.
func (s *Source) Fail(target string, err error) int {
	n := 0
	for _, sub := range s.Subscriptions(target) {
		if sub.Cancelled() || sub.Ctx.Err() != nil {
			continue
		}
		sub.Fail(err)
		n++
	}
	return n
}
