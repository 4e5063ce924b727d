// Package merge reconciles a freshly pushed list with a richer local copy of the
// same items, keeping locally enriched fields that the push does not carry.
package merge

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Options describe how items of type T are matched, enriched and ordered.
type Options[K comparable, T any] struct {
	// Key returns the identity of an item.
	Key func(T) K
	// Keep copies sticky fields from the existing item into merged, which starts
	// as the incoming item. Nil keeps incoming items as they are.
	Keep func(existing T, merged *T)
	// Less orders items ascending; the result is sorted descending. Nil keeps
	// the incoming order.
	Less func(a, b T) bool
	// Limit truncates the result. Zero or negative means no limit.
	Limit int
}

// Merge returns the incoming items, each enriched from the existing item with
// the same key, sorted descending and truncated. Items only present in existing
// are dropped. Neither input is modified.
func Merge[K comparable, T any](existing, incoming []T, opts Options[K, T]) []T {
	byKey := make(map[K]T, len(existing))
	for _, item := range existing {
		byKey[opts.Key(item)] = item
	}

	out := make([]T, 0, len(incoming))
	for _, item := range incoming {
		merged := item
		if prev, ok := byKey[opts.Key(item)]; ok && opts.Keep != nil {
			opts.Keep(prev, &merged)
		}
		out = append(out, merged)
	}

	if opts.Less != nil {
		sort.SliceStable(out, func(i, j int) bool { return opts.Less(out[j], out[i]) })
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

// RecordOptions configure Records.
type RecordOptions struct {
	IDField    string
	Sticky     []string
	OrderField string
	Limit      int
}

// Records merges dynamic rows. A matched row is the existing row overlaid with
// the incoming one, except that sticky fields which are absent or nil in the
// incoming row keep their existing value. Rows are ordered by OrderField
// descending; rows without an order value come last.
func Records(existing, incoming []map[string]any, opts RecordOptions) []map[string]any {
	sticky := make(map[string]bool, len(opts.Sticky))
	for _, f := range opts.Sticky {
		sticky[f] = true
	}

	copies := make([]map[string]any, len(incoming))
	for i, row := range incoming {
		copies[i] = cloneRow(row)
	}

	mopts := Options[string, map[string]any]{
		Key: func(row map[string]any) string { return idOf(row[opts.IDField]) },
		Keep: func(prev map[string]any, merged *map[string]any) {
			out := cloneRow(prev)
			for k, v := range *merged {
				if v == nil && sticky[k] {
					if _, ok := prev[k]; ok {
						continue
					}
				}
				out[k] = v
			}
			*merged = out
		},
		Limit: opts.Limit,
	}
	if opts.OrderField != "" {
		mopts.Less = func(a, b map[string]any) bool {
			return lessValue(a[opts.OrderField], b[opts.OrderField])
		}
	}
	return Merge(existing, copies, mopts)
}

func cloneRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

// idOf renders an identity value so that 1, int64(1), 1.0 and json.Number("1")
// match, which is what decoded JSON needs. Integers are rendered exactly, so
// large ids never collide through float rounding.
func idOf(v any) string {
	switch n := v.(type) {
	case int:
		return "n:" + strconv.FormatInt(int64(n), 10)
	case int32:
		return "n:" + strconv.FormatInt(int64(n), 10)
	case int64:
		return "n:" + strconv.FormatInt(n, 10)
	case uint:
		return "n:" + strconv.FormatUint(uint64(n), 10)
	case uint32:
		return "n:" + strconv.FormatUint(uint64(n), 10)
	case uint64:
		return "n:" + strconv.FormatUint(n, 10)
	case float32:
		return floatID(float64(n))
	case float64:
		return floatID(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return "n:" + strconv.FormatInt(i, 10)
		}
		if u, err := strconv.ParseUint(string(n), 10, 64); err == nil {
			return "n:" + strconv.FormatUint(u, 10)
		}
		if f, err := n.Float64(); err == nil {
			return floatID(f)
		}
	}
	return fmt.Sprintf("%T:%v", v, v)
}

func floatID(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) {
		return "n:" + strconv.FormatFloat(f, 'f', 0, 64)
	}
	return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
}

// lessValue orders nil before everything else so that missing values end up
// last in a descending sort.
func lessValue(a, b any) bool {
	switch {
	case a == nil:
		return b != nil
	case b == nil:
		return false
	}

	if fa, ok := number(a); ok {
		if fb, ok := number(b); ok {
			return fa < fb
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Before(tb)
		}
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return sa < sb
		}
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
