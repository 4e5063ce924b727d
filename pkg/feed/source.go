package feed

import "context"

// Row is one record of a pushed list snapshot.
type Row = map[string]any

// Rows is the snapshot type produced by the bundled sources.
type Rows []Row

// Clone returns a deep copy of the rows. Nested maps and slices decoded from
// JSON are copied too.
func (r Rows) Clone() Rows {
	if r == nil {
		return nil
	}
	out := make(Rows, len(r))
	for i, row := range r {
		if row != nil {
			out[i] = cloneJSON(row).(map[string]any)
		}
	}
	return out
}

func cloneJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = cloneJSON(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = cloneJSON(x)
		}
		return out
	case Rows:
		return t.Clone()
	default:
		return v
	}
}

// Sink receives events for one upstream subscription. Push and Fail may be called
// from any goroutine, but a Source must call them sequentially for a given
// subscription so that ordering is preserved.
type Sink interface {
	Push(snapshot any)
	Fail(err error)
}

// CancelFunc stops an upstream subscription.
type CancelFunc func()

// Source opens upstream subscriptions. Subscribe may block while connecting; it
// must stop delivering to sink once ctx is done or the returned CancelFunc is
// called. Pushes may arrive before Subscribe returns.
type Source interface {
	Subscribe(ctx context.Context, target Target, sink Sink) (CancelFunc, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, target Target, sink Sink) (CancelFunc, error)

// Subscribe calls f.
func (f SourceFunc) Subscribe(ctx context.Context, target Target, sink Sink) (CancelFunc, error) {
	return f(ctx, target, sink)
}

// Callback is what a consumer registers with Acquire. Either function may be nil.
type Callback struct {
	OnSnapshot func(snapshot any)
	OnError    func(err error)
}

// Observer is notified of every snapshot after it has been fanned out.
type Observer interface {
	OnSnapshot(key Key, snapshot any)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(key Key, snapshot any)

// OnSnapshot calls f.
func (f ObserverFunc) OnSnapshot(key Key, snapshot any) { f(key, snapshot) }

// PrincipalSupplier reports the currently authenticated identity, if any.
type PrincipalSupplier interface {
	CurrentPrincipalID() (string, bool)
}
