package vm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-cmp/cmp"

	"simplify/internal/dex"
)

// UnknownValue marks a register whose value could not be determined. It
// absorbs every join and fails every all-arguments-known test.
type UnknownValue struct{}

func (UnknownValue) String() string { return "Unknown" }

// Unknown is the UnknownValue marker.
var Unknown = UnknownValue{}

// IsUnknown reports whether v is the unknown marker.
func IsUnknown(v any) bool {
	_, ok := v.(UnknownValue)
	return ok
}

// ClassRef is a class literal produced by const-class.
type ClassRef string

// Instance is a mutable object. Native holds emulator state such as the
// contents of a StringBuilder; it is copied with Clone when it implements
// NativeCloner and shallowly otherwise.
type Instance struct {
	Class  string
	Fields map[string]any
	Native any

	origin *Instance // object this one was copied from; nil when fresh
}

// NativeCloner is implemented by native state that needs a deep copy.
type NativeCloner interface {
	CloneNative() any
}

// NewInstance returns an instance of class with no fields set.
func NewInstance(class string) *Instance {
	return &Instance{Class: class, Fields: map[string]any{}}
}

func (i *Instance) String() string {
	if i.Native != nil {
		return fmt.Sprintf("%s(%v)", dex.JavaName(i.Class), i.Native)
	}
	return dex.JavaName(i.Class) + "{}"
}

// Array is a mutable array value.
type Array struct {
	Type     string // element type descriptor
	Elements []any

	origin *Array
}

func (a *Array) String() string {
	parts := make([]string, len(a.Elements))
	for i, e := range a.Elements {
		parts[i] = FormatValue(e)
	}
	return dex.JavaName(a.Type) + "[]{" + strings.Join(parts, ", ") + "}"
}

// NewByteArray wraps b as a byte[] value.
func NewByteArray(b []byte) *Array {
	a := &Array{Type: dex.TypeByte, Elements: make([]any, len(b))}
	for i, c := range b {
		a.Elements[i] = int8(c)
	}
	return a
}

// Bytes unwraps a byte[] value. Narrow int elements are accepted since
// literals are stored as int.
func (a *Array) Bytes() ([]byte, error) {
	out := make([]byte, len(a.Elements))
	for i, e := range a.Elements {
		switch x := e.(type) {
		case int8:
			out[i] = byte(x)
		case int32:
			out[i] = byte(x)
		default:
			return nil, fmt.Errorf("byte[%d] is %s", i, FormatValue(e))
		}
	}
	return out, nil
}

// Equal compares object state. Lineage is ignored, so copies of one object
// and fresh objects with the same contents all compare equal.
func (i *Instance) Equal(o *Instance) bool { return equalState(i, o, map[[2]any]bool{}) }

// Equal compares element state, ignoring lineage.
func (a *Array) Equal(o *Array) bool { return equalState(a, o, map[[2]any]bool{}) }

// equalState walks object graphs pairwise. Pairs already under comparison
// count as equal so cyclic graphs terminate.
func equalState(x, y any, seen map[[2]any]bool) bool {
	switch a := x.(type) {
	case *Instance:
		b, ok := y.(*Instance)
		if !ok || a == nil || b == nil {
			return ok && a == b
		}
		k := [2]any{a, b}
		if seen[k] {
			return true
		}
		seen[k] = true
		if a.Class != b.Class || len(a.Fields) != len(b.Fields) || !cmp.Equal(a.Native, b.Native) {
			return false
		}
		for name, f := range a.Fields {
			g, ok := b.Fields[name]
			if !ok || !equalState(f, g, seen) {
				return false
			}
		}
		return true
	case *Array:
		b, ok := y.(*Array)
		if !ok || a == nil || b == nil {
			return ok && a == b
		}
		k := [2]any{a, b}
		if seen[k] {
			return true
		}
		seen[k] = true
		if a.Type != b.Type || len(a.Elements) != len(b.Elements) {
			return false
		}
		for i := range a.Elements {
			if !equalState(a.Elements[i], b.Elements[i], seen) {
				return false
			}
		}
		return true
	}
	return cmp.Equal(x, y)
}

// SameObject reports whether a and b are the same tracked object, either
// directly or as copies made when contexts were cloned.
func SameObject(a, b any) bool {
	la := lineage(a)
	return la != nil && la == lineage(b)
}

func lineage(v any) any {
	switch x := v.(type) {
	case *Instance:
		if x == nil {
			return nil
		}
		if x.origin != nil {
			return x.origin
		}
		return x
	case *Array:
		if x == nil {
			return nil
		}
		if x.origin != nil {
			return x.origin
		}
		return x
	}
	return nil
}

// IsMutableValue reports whether v is an object the VM tracks by reference.
func IsMutableValue(v any) bool {
	switch v.(type) {
	case *Instance, *Array:
		return true
	}
	return false
}

// cloneValue deep-copies mutable values, mapping each original pointer to a
// single copy so aliases within one context stay aliases.
func cloneValue(v any, memo map[any]any) any {
	switch x := v.(type) {
	case *Instance:
		if x == nil {
			return x
		}
		if c, ok := memo[x]; ok {
			return c
		}
		c := &Instance{Class: x.Class, Fields: make(map[string]any, len(x.Fields)), origin: x}
		if x.origin != nil {
			c.origin = x.origin
		}
		memo[x] = c
		for k, f := range x.Fields {
			c.Fields[k] = cloneValue(f, memo)
		}
		if nc, ok := x.Native.(NativeCloner); ok {
			c.Native = nc.CloneNative()
		} else {
			c.Native = x.Native
		}
		return c
	case *Array:
		if x == nil {
			return x
		}
		if c, ok := memo[x]; ok {
			return c
		}
		c := &Array{Type: x.Type, Elements: make([]any, len(x.Elements)), origin: x}
		if x.origin != nil {
			c.origin = x.origin
		}
		memo[x] = c
		for i, e := range x.Elements {
			c.Elements[i] = cloneValue(e, memo)
		}
		return c
	case []byte:
		return append([]byte(nil), x...)
	default:
		return v
	}
}

// CloneValue returns an independent deep copy of v.
func CloneValue(v any) any {
	return cloneValue(v, map[any]any{})
}

// FormatValue renders a value the way a Java literal would read.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case UnknownValue:
		return "Unknown"
	case string:
		return strconv.Quote(x)
	case uint16:
		return strconv.QuoteRune(rune(x))
	case int64:
		return strconv.FormatInt(x, 10) + "L"
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32) + "f"
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case ClassRef:
		return dex.JavaName(string(x)) + ".class"
	case []byte:
		return fmt.Sprintf("byte[]%q", x)
	default:
		return fmt.Sprint(v)
	}
}
