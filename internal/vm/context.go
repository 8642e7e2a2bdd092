package vm

import (
	"fmt"
	"strings"
)

// ReturnRegister addresses the value set by a return opcode.
const ReturnRegister = -1

// MethodContext is the register file at one point of one method invocation.
// Registers [ParameterStart(), RegisterCount()) hold the declared parameters;
// for instance methods the receiver sits at ParameterStart()-1.
//
// A wide value is stored as the same *RegisterStore in both slots of its pair.
// Callers address the first slot only.
type MethodContext struct {
	registers      []*RegisterStore
	parameterStart int
	result         *RegisterStore
	returnValue    *RegisterStore
	callDepth      int
	reads          map[int]int // register -> address of the last recorded read
}

// NewMethodContext returns a context with registerCount empty registers, the
// last parameterCount of which form the parameter window.
func NewMethodContext(registerCount, parameterCount, callDepth int) *MethodContext {
	if registerCount < 0 || parameterCount < 0 || parameterCount > registerCount {
		panic(contractf("new context", "parameter count %d does not fit %d registers", parameterCount, registerCount))
	}
	return &MethodContext{
		registers:      make([]*RegisterStore, registerCount),
		parameterStart: registerCount - parameterCount,
		callDepth:      callDepth,
		reads:          map[int]int{},
	}
}

func (c *MethodContext) RegisterCount() int  { return len(c.registers) }
func (c *MethodContext) ParameterStart() int { return c.parameterStart }
func (c *MethodContext) ParameterCount() int { return len(c.registers) - c.parameterStart }
func (c *MethodContext) CallDepth() int      { return c.callDepth }

func (c *MethodContext) SetCallDepth(depth int) {
	c.callDepth = depth
}

func (c *MethodContext) check(op string, index int) {
	if index < 0 || index >= len(c.registers) {
		panic(contractf(op, "register %d out of range [0, %d)", index, len(c.registers)))
	}
}

// Get returns the store at index and records address as its last reader.
func (c *MethodContext) Get(index, address int) *RegisterStore {
	if index == ReturnRegister {
		return c.returnValue
	}
	c.check("get", index)
	c.reads[index] = address
	return c.registers[index]
}

// Peek returns the store at index without recording the read.
func (c *MethodContext) Peek(index int) *RegisterStore {
	if index == ReturnRegister {
		return c.returnValue
	}
	c.check("peek", index)
	return c.registers[index]
}

// PeekType returns the declared type at index, or "" when the register is unset.
func (c *MethodContext) PeekType(index int) string {
	if s := c.Peek(index); s != nil {
		return s.Type
	}
	return ""
}

// LastRead returns the address that last read the register through Get.
func (c *MethodContext) LastRead(index int) (int, bool) {
	addr, ok := c.reads[index]
	return addr, ok
}

// Set stores s at index. A wide store also claims index+1; overwriting either
// half of an existing pair clears the other half.
func (c *MethodContext) Set(index int, s *RegisterStore) {
	if index == ReturnRegister {
		c.returnValue = s
		return
	}
	c.check("set", index)
	c.breakPair(index)
	c.registers[index] = s
	if s.IsWide() {
		c.check("set wide", index+1)
		c.breakPair(index + 1)
		c.registers[index+1] = s
	}
}

func (c *MethodContext) breakPair(index int) {
	old := c.registers[index]
	if old == nil || !old.IsWide() {
		return
	}
	if index+1 < len(c.registers) && c.registers[index+1] == old {
		c.registers[index+1] = nil
	}
	if index > 0 && c.registers[index-1] == old {
		c.registers[index-1] = nil
	}
}

// SetParameter stores s at the i'th parameter slot. Slots are register
// offsets, so a wide parameter consumes two.
func (c *MethodContext) SetParameter(i int, s *RegisterStore) {
	c.Set(c.parameterStart+i, s)
}

// Parameter returns the store at the i'th parameter slot.
func (c *MethodContext) Parameter(i int) *RegisterStore {
	return c.Peek(c.parameterStart + i)
}

// SetReceiver binds the "this" register of an instance method.
func (c *MethodContext) SetReceiver(s *RegisterStore) {
	if c.parameterStart == 0 {
		panic(contractf("set receiver", "no register precedes the parameter window"))
	}
	c.Set(c.parameterStart-1, s)
}

func (c *MethodContext) SetResultRegister(s *RegisterStore) { c.result = s }
func (c *MethodContext) ResultRegister() *RegisterStore     { return c.result }
func (c *MethodContext) SetReturnRegister(s *RegisterStore) { c.returnValue = s }
func (c *MethodContext) ReturnValue() *RegisterStore        { return c.returnValue }

// Clone deep-copies the context. Register pairs and aliased objects are
// preserved within the copy.
func (c *MethodContext) Clone() *MethodContext {
	stores := map[*RegisterStore]*RegisterStore{}
	values := map[any]any{}
	cp := func(s *RegisterStore) *RegisterStore {
		if s == nil {
			return nil
		}
		if n, ok := stores[s]; ok {
			return n
		}
		n := &RegisterStore{Type: s.Type, Value: cloneValue(s.Value, values)}
		stores[s] = n
		return n
	}

	clone := &MethodContext{
		registers:      make([]*RegisterStore, len(c.registers)),
		parameterStart: c.parameterStart,
		callDepth:      c.callDepth,
		reads:          make(map[int]int, len(c.reads)),
	}
	for i, s := range c.registers {
		clone.registers[i] = cp(s)
	}
	clone.result = cp(c.result)
	clone.returnValue = cp(c.returnValue)
	for k, v := range c.reads {
		clone.reads[k] = v
	}
	return clone
}

func (c *MethodContext) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "depth=%d params@%d", c.callDepth, c.parameterStart)
	for i, s := range c.registers {
		if s == nil || (i > 0 && c.registers[i-1] == s) {
			continue
		}
		fmt.Fprintf(&sb, "\n  r%d: %s", i, s)
	}
	if c.result != nil {
		fmt.Fprintf(&sb, "\n  result: %s", c.result)
	}
	if c.returnValue != nil {
		fmt.Fprintf(&sb, "\n  return: %s", c.returnValue)
	}
	return sb.String()
}
