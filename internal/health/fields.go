package health

import (
	"fmt"
	"sort"
	"time"
)

// Kind discriminates the variants a Value may hold. spec.md §9 calls for a
// tagged variant in place of the source's untyped JSON values, covering
// exactly the shapes custom_fields needs to carry: scalars, lists, nested
// maps, and timestamps.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
	KindTimestamp
)

// Value is one entry of a HealthReport's custom_fields map, or an element
// of a List/Map value. Exactly one of the typed fields is meaningful,
// selected by Kind; construct with the Value* helpers rather than the zero
// value directly (the zero value is KindNull).
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	list []Value
	m    map[string]Value
	ts   time.Time
}

func Null() Value                 { return Value{kind: KindNull} }
func Bool(v bool) Value           { return Value{kind: KindBool, b: v} }
func Int(v int64) Value           { return Value{kind: KindInt, i: v} }
func Float(v float64) Value       { return Value{kind: KindFloat, f: v} }
func String(v string) Value       { return Value{kind: KindString, s: v} }
func List(items ...Value) Value   { return Value{kind: KindList, list: append([]Value(nil), items...)} }
func Timestamp(t time.Time) Value { return Value{kind: KindTimestamp, ts: t.UTC()} }

// Map builds a KindMap value from a plain map, copying it so later mutation
// of the caller's map does not alias the Value.
func Map(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindMap, m: cp}
}

func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null variant, including the zero Value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsMap returns the underlying map for a KindMap value, or nil otherwise.
func (v Value) AsMap() map[string]Value {
	if v.kind != KindMap {
		return nil
	}
	return v.m
}

// AsList returns the underlying slice for a KindList value, or nil
// otherwise.
func (v Value) AsList() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.list
}

// AsString returns the underlying string for a KindString value, and
// whether v was in fact a string.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// JSON converts v into a tree of JSON-safe Go values (string, bool,
// float64/int64, []interface{}, map[string]interface{}, nil), applying the
// timestamp rendering rule from spec.md §4.2: ISO-8601 with an explicit UTC
// offset.
func (v Value) JSON() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindTimestamp:
		return v.ts.UTC().Format("2006-01-02T15:04:05-07:00")
	case KindList:
		out := make([]interface{}, len(v.list))
		for i, item := range v.list {
			out[i] = item.JSON()
		}
		return out
	case KindMap:
		out := make(map[string]interface{}, len(v.m))
		for k, item := range v.m {
			out[k] = item.JSON()
		}
		return out
	default:
		return nil
	}
}

// Equal compares two Values structurally; map key order never matters,
// list order does.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindString:
		return v.s == other.s
	case KindTimestamp:
		return v.ts.Equal(other.ts)
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(other.m) {
			return false
		}
		for k, a := range v.m {
			b, ok := other.m[k]
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	}
	return false
}

// sortedKeys returns m's keys in ascending order, for deterministic
// iteration where it matters (details rebuilding).
func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (v Value) String() string {
	return fmt.Sprintf("%v", v.JSON())
}
