package feed

// Phase is the lifecycle position of a Consumer.
type Phase string

const (
	// PhaseIdle means no feed applies: there is no principal, the consumer is
	// disabled, or its target factory declined.
	PhaseIdle Phase = "idle"
	// PhaseAttaching means the consumer waits for the first snapshot.
	PhaseAttaching Phase = "attaching"
	// PhaseActive means snapshots are flowing.
	PhaseActive Phase = "active"
	// PhaseError means the shared feed reported an attach or push failure. The last
	// good data stays visible; Refresh is needed to recover.
	PhaseError Phase = "error"
	// PhaseDetached is terminal and follows Close.
	PhaseDetached Phase = "detached"
)

// Cloner is implemented by snapshot and projection types that hold references,
// such as Rows. Consumers deep-copy such values at every hand-off, so no two
// consumers, and no consumer and the registry cache, share mutable data.
// Values of other types are copied by assignment only.
type Cloner[T any] interface {
	Clone() T
}

func cloneValue[T any](v T) T {
	if c, ok := any(v).(Cloner[T]); ok {
		return c.Clone()
	}
	return v
}

// State is the view a consumer exposes to its owner. It is never shared between
// consumers.
type State[T any] struct {
	Data      *T
	Loading   bool
	Err       error
	Listening bool
	Phase     Phase
}

// HasData reports whether a value has been projected yet.
func (s State[T]) HasData() bool { return s.Data != nil }

func (s State[T]) clone() State[T] {
	if s.Data != nil {
		d := cloneValue(*s.Data)
		s.Data = &d
	}
	return s
}
