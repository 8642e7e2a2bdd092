package dex

import (
	"fmt"
	"strings"
)

// Common type descriptors.
const (
	TypeVoid    = "V"
	TypeInt     = "I"
	TypeLong    = "J"
	TypeBoolean = "Z"
	TypeByte    = "B"
	TypeShort   = "S"
	TypeChar    = "C"
	TypeFloat   = "F"
	TypeDouble  = "D"
	TypeString  = "Ljava/lang/String;"
	TypeObject  = "Ljava/lang/Object;"
	TypeClass   = "Ljava/lang/Class;"
)

// IsWide reports whether values of the type occupy two register slots.
func IsWide(t string) bool {
	return t == TypeLong || t == TypeDouble
}

// IsPrimitive reports whether t is a primitive (non-reference) descriptor.
func IsPrimitive(t string) bool {
	if len(t) != 1 {
		return false
	}
	switch t {
	case TypeInt, TypeLong, TypeBoolean, TypeByte, TypeShort, TypeChar, TypeFloat, TypeDouble:
		return true
	}
	return false
}

// IsArray reports whether t is an array descriptor.
func IsArray(t string) bool {
	return strings.HasPrefix(t, "[")
}

// ArgumentSlot is one logical argument: its type and the register slot offset
// it starts at. Wide arguments span Offset and Offset+1.
type ArgumentSlot struct {
	Type   string
	Offset int
}

// Wide reports whether the argument occupies two slots.
func (a ArgumentSlot) Wide() bool {
	return IsWide(a.Type)
}

// ArgumentSlots lays out types over consecutive register slots. Every piece of
// code that walks call operands goes through here so the wide-pair rule lives
// in one place.
func ArgumentSlots(types []string) []ArgumentSlot {
	slots := make([]ArgumentSlot, 0, len(types))
	offset := 0
	for _, t := range types {
		slots = append(slots, ArgumentSlot{Type: t, Offset: offset})
		offset++
		if IsWide(t) {
			offset++
		}
	}
	return slots
}

// SlotCount returns the number of register slots the types occupy.
func SlotCount(types []string) int {
	n := 0
	for _, t := range types {
		n++
		if IsWide(t) {
			n++
		}
	}
	return n
}

// ParseTypeList splits a concatenated descriptor list such as "IJLjava/lang/String;[I".
func ParseTypeList(s string) ([]string, error) {
	var types []string
	for i := 0; i < len(s); {
		start := i
		for i < len(s) && s[i] == '[' {
			i++
		}
		if i >= len(s) {
			return nil, fmt.Errorf("truncated array type in %q", s)
		}
		switch s[i] {
		case 'L':
			end := strings.IndexByte(s[i:], ';')
			if end < 0 {
				return nil, fmt.Errorf("unterminated class type in %q", s)
			}
			i += end + 1
		case 'V', 'I', 'J', 'Z', 'B', 'S', 'C', 'F', 'D':
			i++
		default:
			return nil, fmt.Errorf("invalid type character %q in %q", s[i], s)
		}
		types = append(types, s[start:i])
	}
	return types, nil
}

// JavaName renders a descriptor as a Java source type name.
func JavaName(t string) string {
	dims := 0
	for strings.HasPrefix(t, "[") {
		dims++
		t = t[1:]
	}
	var name string
	switch t {
	case TypeVoid:
		name = "void"
	case TypeInt:
		name = "int"
	case TypeLong:
		name = "long"
	case TypeBoolean:
		name = "boolean"
	case TypeByte:
		name = "byte"
	case TypeShort:
		name = "short"
	case TypeChar:
		name = "char"
	case TypeFloat:
		name = "float"
	case TypeDouble:
		name = "double"
	default:
		name = strings.ReplaceAll(strings.TrimSuffix(strings.TrimPrefix(t, "L"), ";"), "/", ".")
	}
	return name + strings.Repeat("[]", dims)
}
