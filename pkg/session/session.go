// Package session supplies the authenticated principal that feeds are keyed by.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/DeBrosOfficial/fitsync/pkg/feed"
)

// Session is a mutable principal holder, safe for concurrent use.
type Session struct {
	mu        sync.RWMutex
	principal string
}

// New returns a signed-out session.
func New() *Session { return &Session{} }

// SignIn sets the current principal.
func (s *Session) SignIn(principalID string) {
	s.mu.Lock()
	s.principal = principalID
	s.mu.Unlock()
}

// SignOut clears the current principal.
func (s *Session) SignOut() { s.SignIn("") }

// CurrentPrincipalID implements feed.PrincipalSupplier.
func (s *Session) CurrentPrincipalID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.principal, s.principal != ""
}

// Static is a fixed principal, such as the one resolved for a single request.
type Static string

// CurrentPrincipalID implements feed.PrincipalSupplier.
func (s Static) CurrentPrincipalID() (string, bool) { return string(s), s != "" }

// File reads the principal from a credentials file on every call, so a login
// performed by another process is picked up without a restart.
type File struct {
	Path string
}

// CurrentPrincipalID implements feed.PrincipalSupplier. Missing, unreadable or
// expired credentials mean no principal.
func (f File) CurrentPrincipalID() (string, bool) {
	creds, err := LoadCredentials(f.Path)
	if err != nil || !creds.IsValid() {
		return "", false
	}
	return creds.UserID, true
}

// WaitForPrincipal polls s every interval until it reports a principal or
// maxWait elapses. It returns false on timeout or when ctx is done; callers
// then run without a principal and their feeds stay idle.
func WaitForPrincipal(ctx context.Context, s feed.PrincipalSupplier, interval, maxWait time.Duration) (string, bool) {
	if id, ok := s.CurrentPrincipalID(); ok {
		return id, true
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", false
		case <-ticker.C:
			if id, ok := s.CurrentPrincipalID(); ok {
				return id, true
			}
		}
	}
}

type ctxKey struct{}

// WithPrincipal stores a principal id in ctx.
func WithPrincipal(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, principalID)
}

// FromContext returns the principal id stored by WithPrincipal.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}
