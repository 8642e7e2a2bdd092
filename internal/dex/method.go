package dex

import (
	"fmt"
	"strings"
)

// MethodReference names a method by its declaring type and prototype.
type MethodReference struct {
	DefiningClass  string
	Name           string
	ParameterTypes []string
	ReturnType     string
}

// Descriptor returns the fully qualified form, e.g. "Lfoo/Bar;->baz(IJ)V".
func (m MethodReference) Descriptor() string {
	var sb strings.Builder
	sb.WriteString(m.DefiningClass)
	sb.WriteString("->")
	sb.WriteString(m.Name)
	sb.WriteByte('(')
	for _, p := range m.ParameterTypes {
		sb.WriteString(p)
	}
	sb.WriteByte(')')
	sb.WriteString(m.ReturnType)
	return sb.String()
}

func (m MethodReference) String() string {
	return m.Descriptor()
}

// ReturnsVoid reports whether the method has no return value.
func (m MethodReference) ReturnsVoid() bool {
	return m.ReturnType == TypeVoid
}

// ArgumentTypes returns the types of every operand a call site passes,
// including the receiver for instance calls.
func (m MethodReference) ArgumentTypes(isStatic bool) []string {
	types := make([]string, 0, len(m.ParameterTypes)+1)
	if !isStatic {
		types = append(types, m.DefiningClass)
	}
	return append(types, m.ParameterTypes...)
}

// ParseMethodReference parses a descriptor of the form "Lfoo/Bar;->baz(IJ)V".
func ParseMethodReference(s string) (MethodReference, error) {
	arrow := strings.Index(s, "->")
	if arrow < 0 {
		return MethodReference{}, fmt.Errorf("method reference %q: missing \"->\"", s)
	}
	open := strings.IndexByte(s[arrow:], '(')
	closing := strings.LastIndexByte(s, ')')
	if open < 0 || closing < arrow+open {
		return MethodReference{}, fmt.Errorf("method reference %q: malformed prototype", s)
	}
	open += arrow

	params, err := ParseTypeList(s[open+1 : closing])
	if err != nil {
		return MethodReference{}, fmt.Errorf("method reference %q: %w", s, err)
	}
	ret := s[closing+1:]
	if types, err := ParseTypeList(ret); err != nil || len(types) != 1 {
		return MethodReference{}, fmt.Errorf("method reference %q: invalid return type %q", s, ret)
	}

	return MethodReference{
		DefiningClass:  s[:arrow],
		Name:           s[arrow+2 : open],
		ParameterTypes: params,
		ReturnType:     ret,
	}, nil
}

// Method is a decoded method body.
type Method struct {
	Reference     MethodReference
	Static        bool
	RegisterCount int
	Instructions  []Instruction
}

// Descriptor returns the method's fully qualified descriptor.
func (m *Method) Descriptor() string {
	return m.Reference.Descriptor()
}

// ParameterSlots returns the number of register slots taken by declared
// parameters, excluding the receiver.
func (m *Method) ParameterSlots() int {
	return SlotCount(m.Reference.ParameterTypes)
}

// Instruction is one decoded instruction at a code-unit address.
type Instruction struct {
	Address   int
	Opcode    string
	Registers []int
	Literal   any // int64 for numeric constants, string for const-string
	Type      string
	Field     string
	Method    *MethodReference
	Targets   []int   // branch targets, in payload order for switches
	Keys      []int32 // switch keys aligned with Targets
}

// Info returns the static opcode description.
func (i Instruction) Info() (OpcodeInfo, bool) {
	return Lookup(i.Opcode)
}

// Units returns the instruction size in code units.
func (i Instruction) Units() int {
	if info, ok := Lookup(i.Opcode); ok {
		return info.Units
	}
	return 1
}

// Next returns the fall-through address.
func (i Instruction) Next() int {
	return i.Address + i.Units()
}
