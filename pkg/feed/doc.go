// Package feed multiplexes server-pushed data feeds across independent consumers.
//
// A Registry keeps exactly one live upstream subscription per Key, no matter how
// many consumers are attached to it. Consumers attach with Acquire and hold the
// returned Handle until they are done; releasing the last handle cancels the
// upstream subscription. Every push is fanned out to all attached callbacks in the
// order the Source emitted it, and the latest snapshot is cached so that a consumer
// attaching later receives it before Acquire returns.
//
// Consumer wraps a Handle with a typed projection of the raw snapshot and a small
// state machine (Idle, Attaching, Active, Error, Detached) that widgets can poll or
// watch through Changes.
//
// Thread safety: all exported methods are safe for concurrent use. Callbacks are
// invoked without the registry lock held, so they may call Acquire or Release.
package feed
