package feed

import "sync/atomic"

// Handle is a consumer's claim on a shared feed. Releasing it is idempotent; the
// upstream subscription ends when the last handle for the feed is released.
type Handle struct {
	registry *Registry
	key      Key
	id       string
	released atomic.Bool
}

func newHandle(r *Registry, key Key, id string) *Handle {
	return &Handle{registry: r, key: key, id: id}
}

// Key returns the feed key the handle is attached to.
func (h *Handle) Key() Key { return h.key }

// ID returns the callback id registered for this handle.
func (h *Handle) ID() string { return h.id }

// Release detaches the handle. Only the first call has an effect.
func (h *Handle) Release() {
	if h.released.CompareAndSwap(false, true) {
		h.registry.Release(h.key, h.id)
	}
}

// Released reports whether Release has been called.
func (h *Handle) Released() bool { return h.released.Load() }

// Refresh forces the shared feed to resubscribe. The handle stays attached.
func (h *Handle) Refresh() bool {
	if h.released.Load() {
		return false
	}
	return h.registry.Refresh(h.key)
}
