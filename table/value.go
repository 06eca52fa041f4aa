package table

import (
	"cmp"
	"fmt"
	"math"
	"strings"

	"github.com/chazu/tablespace/channel"
	"github.com/chazu/tablespace/gc"
)

// Kind tags the variant held by a StoredValue. Reference kinds carry a
// collector handle; the rest are inline scalars.
type Kind uint8

const (
	KindBool Kind = iota + 1
	KindInt
	KindFloat
	KindString
	KindTable
	KindFunction
	KindChannel
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "boolean"
	case KindInt, KindFloat:
		return "number"
	case KindString:
		return "string"
	case KindTable:
		return "tablespace.table"
	case KindFunction:
		return "function"
	case KindChannel:
		return "tablespace.channel"
	default:
		return "invalid"
	}
}

// IsReference reports whether values of this kind name a shared entity.
func (k Kind) IsReference() bool {
	return k == KindTable || k == KindFunction || k == KindChannel
}

// StoredValue is the owned form of a value kept inside a table. It is
// comparable, and two StoredValues are equal iff they have the same kind
// and the same payload.
type StoredValue struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	h    gc.Handle
}

// Kind returns the variant tag.
func (v StoredValue) Kind() Kind {
	return v.kind
}

// Handle returns the collector handle of a reference value, or gc.Null.
func (v StoredValue) Handle() gc.Handle {
	if v.kind.IsReference() {
		return v.h
	}
	return gc.Null
}

func (v StoredValue) String() string {
	switch v.kind {
	case KindBool:
		return fmt.Sprint(v.b)
	case KindInt:
		return fmt.Sprint(v.i)
	case KindFloat:
		return fmt.Sprint(v.f)
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindTable, KindFunction, KindChannel:
		return fmt.Sprintf("%s: 0x%08x", v.kind, uint64(v.h))
	default:
		return "<invalid>"
	}
}

func boolValue(b bool) StoredValue { return StoredValue{kind: KindBool, b: b} }
func intValue(i int64) StoredValue { return StoredValue{kind: KindInt, i: i} }
func floatValue(f float64) StoredValue { return StoredValue{kind: KindFloat, f: f} }
func stringValue(s string) StoredValue { return StoredValue{kind: KindString, s: s} }
func refValue(k Kind, h gc.Handle) StoredValue { return StoredValue{kind: k, h: h} }

// compareStored is the total order used for table keys: kind first, then
// payload. Booleans order false before true.
func compareStored(a, b StoredValue) int {
	if c := cmp.Compare(a.kind, b.kind); c != 0 {
		return c
	}
	switch a.kind {
	case KindBool:
		switch {
		case a.b == b.b:
			return 0
		case !a.b:
			return -1
		default:
			return 1
		}
	case KindInt:
		return cmp.Compare(a.i, b.i)
	case KindFloat:
		return cmp.Compare(a.f, b.f)
	case KindString:
		return strings.Compare(a.s, b.s)
	default:
		return cmp.Compare(a.h, b.h)
	}
}

// asKey normalises a value for use as a table key: floats holding an
// exact integer become integers so that 2 and 2.0 name the same slot.
func asKey(v StoredValue) StoredValue {
	if v.kind != KindFloat {
		return v
	}
	if f := v.f; f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return intValue(int64(f))
	}
	return v
}

// scalarValue converts host scalars. ok is false for anything else.
func scalarValue(v any) (StoredValue, bool) {
	switch x := v.(type) {
	case bool:
		return boolValue(x), true
	case int:
		return intValue(int64(x)), true
	case int8:
		return intValue(int64(x)), true
	case int16:
		return intValue(int64(x)), true
	case int32:
		return intValue(int64(x)), true
	case int64:
		return intValue(x), true
	case uint:
		return unsignedValue(uint64(x)), true
	case uint8:
		return intValue(int64(x)), true
	case uint16:
		return intValue(int64(x)), true
	case uint32:
		return intValue(int64(x)), true
	case uint64:
		return unsignedValue(x), true
	case float32:
		return floatValue(float64(x)), true
	case float64:
		return floatValue(x), true
	case string:
		return stringValue(x), true
	}
	return StoredValue{}, false
}

func unsignedValue(u uint64) StoredValue {
	if u > math.MaxInt64 {
		return floatValue(float64(u))
	}
	return intValue(int64(u))
}

// isNaN reports whether v is a floating-point NaN. NaN is never a valid
// key: stores reject it and lookups find nothing.
func isNaN(v any) bool {
	switch x := v.(type) {
	case float64:
		return math.IsNaN(x)
	case float32:
		return math.IsNaN(float64(x))
	}
	return false
}

// isAbsent reports whether v is the absence sentinel.
func isAbsent(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case SharedTable:
		return x.IsZero()
	case *Function:
		return x == nil
	case *channel.Channel:
		return x == nil
	case *Plain:
		return x == nil
	}
	return false
}

// TypeName returns the script-visible type name of a host value.
func TypeName(v any) string {
	if isAbsent(v) {
		return "nil"
	}
	switch v.(type) {
	case bool:
		return "boolean"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return "number"
	case string:
		return "string"
	case SharedTable:
		return "tablespace.table"
	case *Function, GoFunc, func(...any) ([]any, error):
		return "function"
	case *channel.Channel:
		return "tablespace.channel"
	case *Plain:
		return "table"
	default:
		return "userdata"
	}
}

// truthy applies the script truth rule: only nil and false are false.
func truthy(v any) bool {
	if isAbsent(v) {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}
