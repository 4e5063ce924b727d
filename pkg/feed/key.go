package feed

import (
	"net/url"
	"sort"
	"strings"
)

// Params are channel-specific parameters of a feed, such as a row limit.
type Params map[string]string

// Key identifies one shareable feed. Consumers with equal keys share one upstream
// subscription; any difference in principal, channel or params yields a separate one.
type Key struct {
	Principal string
	Channel   string
	Params    Params
}

// NewKey builds a Key, copying params so later mutation by the caller has no effect.
func NewKey(principal, channel string, params Params) Key {
	return Key{Principal: principal, Channel: channel, Params: params.clone()}
}

// String returns the canonical form principal/channel?k=v with sorted parameter
// names. Principal and channel are path-escaped, so distinct keys never share a
// string. It is the map key used by the Registry.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(url.PathEscape(k.Principal))
	b.WriteByte('/')
	b.WriteString(url.PathEscape(k.Channel))
	if len(k.Params) == 0 {
		return b.String()
	}

	names := make([]string, 0, len(k.Params))
	for name := range k.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(k.Params[name]))
	}
	return b.String()
}

// Target returns the source-neutral description of this key.
func (k Key) Target() Target {
	return Target{Principal: k.Principal, Channel: k.Channel, Params: k.Params.clone()}
}

func (p Params) clone() Params {
	if len(p) == 0 {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Target describes what a Source should watch. It is produced by a consumer's
// TargetFactory, which may decline to produce one when the feed does not apply.
type Target struct {
	Principal string
	Channel   string
	Params    Params
}

// String renders the target for logs.
func (t Target) String() string {
	return Key{Principal: t.Principal, Channel: t.Channel, Params: t.Params}.String()
}

// TargetFactory produces the Target for a feed. Returning false means the feed is
// not applicable and no subscription is opened. Factories are called with the
// registry lock held and must not block or call back into the Registry.
type TargetFactory func() (Target, bool)

// FixedTarget returns a factory that always yields t.
func FixedTarget(t Target) TargetFactory {
	return func() (Target, bool) { return t, true }
}
