package vm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"

	"simplify/internal/dex"
)

// TargetError reports an exception raised by a reflected target itself, as
// opposed to a failure to perform the call.
type TargetError struct {
	Exception string // Java exception class, e.g. java.lang.NumberFormatException
	Err       error
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("%s: %v", e.Exception, e.Err)
}

func (e *TargetError) Unwrap() error { return e.Err }

type invokeHandler struct {
	base
	vm        *VirtualMachine
	caller    string
	registers []int
	rangeForm bool
	method    dex.MethodReference
	isStatic  bool
	slots     []dex.ArgumentSlot // offsets index into registers
	next      int
}

func newInvokeHandler(vm *VirtualMachine, m *dex.Method, inst dex.Instruction) (OpHandler, error) {
	if inst.Method == nil {
		return nil, contractf("build invoke", "%s at %d: missing method reference", inst.Opcode, inst.Address)
	}
	h := &invokeHandler{
		base:      base{inst.Address, inst.Opcode},
		vm:        vm,
		caller:    m.Descriptor(),
		registers: inst.Registers,
		rangeForm: dex.IsRangeForm(inst.Opcode),
		method:    *inst.Method,
		isStatic:  dex.IsStaticInvoke(inst.Opcode),
		next:      inst.Next(),
	}

	if h.rangeForm {
		for i, r := range h.registers {
			if r != h.registers[0]+i {
				return nil, contractf("build invoke", "%s at %d: registers are not contiguous", inst.Opcode, inst.Address)
			}
		}
	} else if len(h.registers) > 5 {
		return nil, contractf("build invoke", "%s at %d: %d registers in explicit form", inst.Opcode, inst.Address, len(h.registers))
	}

	types := h.method.ArgumentTypes(h.isStatic)
	if n := dex.SlotCount(types); n != len(h.registers) {
		return nil, contractf("build invoke", "%s at %d: %s takes %d register slots, call site passes %d",
			inst.Opcode, inst.Address, h.method.Descriptor(), n, len(h.registers))
	}
	h.slots = dex.ArgumentSlots(types)
	return h, nil
}

func (h *invokeHandler) PossibleChildren() []int { return []int{h.next} }

func (h *invokeHandler) String() string {
	var regs string
	switch {
	case len(h.registers) == 0:
		regs = "{}"
	case h.rangeForm:
		regs = fmt.Sprintf("{r%d .. r%d}", h.registers[0], h.registers[len(h.registers)-1])
	default:
		parts := make([]string, len(h.registers))
		for i, r := range h.registers {
			parts[i] = fmt.Sprintf("r%d", r)
		}
		regs = "{" + strings.Join(parts, ", ") + "}"
	}
	return fmt.Sprintf("%s %s, %s", h.opcode, regs, h.method.Descriptor())
}

func (h *invokeHandler) Execute(ctx context.Context, mctx *MethodContext) ([]int, error) {
	desc := h.method.Descriptor()
	args := h.snapshot(mctx)

	var (
		res Resolution
		err error
	)
	if h.vm.IsMethodDefined(desc) {
		res, err = h.executeDefined(ctx, mctx, desc)
	} else {
		res, err = h.executeExternal(mctx, desc)
	}
	if err != nil {
		return nil, err
	}

	e := Event{
		Kind:       EventInvoke,
		Method:     h.caller,
		Address:    h.address,
		Target:     desc,
		Args:       args,
		Resolution: res,
		Depth:      mctx.CallDepth(),
	}
	if !h.method.ReturnsVoid() {
		e.Result = mctx.ResultRegister().Clone()
	}
	h.vm.emit(e)
	return []int{h.next}, nil
}

// snapshot copies the operands as they are before the call.
func (h *invokeHandler) snapshot(mctx *MethodContext) []*RegisterStore {
	out := make([]*RegisterStore, len(h.slots))
	for i, slot := range h.slots {
		if s := mctx.Peek(h.registers[slot.Offset]); s != nil {
			out[i] = s.Clone()
		} else {
			out[i] = NewUnknownStore(slot.Type)
		}
	}
	return out
}

// bind returns the store passed for one argument. Mutable values share the
// caller's cell so in-place effects land in the caller; everything else is
// copied.
func (h *invokeHandler) bind(mctx *MethodContext, slot dex.ArgumentSlot) *RegisterStore {
	s := mctx.Get(h.registers[slot.Offset], h.address)
	if s == nil {
		return NewUnknownStore(slot.Type)
	}
	if IsMutableValue(s.Value) || !h.vm.IsImmutableClass(s.Type) {
		return s
	}
	return NewRegisterStore(s.Type, s.Value)
}

// calleeRegister maps an argument to its register in a callee context built
// from the callee's own register layout.
func (h *invokeHandler) calleeRegister(callee *MethodContext, i int, slot dex.ArgumentSlot) int {
	if h.isStatic {
		return callee.ParameterStart() + slot.Offset
	}
	if i == 0 {
		return callee.ParameterStart() - 1
	}
	return callee.ParameterStart() + slot.Offset - 1
}

func (h *invokeHandler) executeDefined(ctx context.Context, mctx *MethodContext, desc string) (Resolution, error) {
	ig, err := h.vm.InstructionGraph(desc)
	if err != nil {
		return "", err
	}
	if ig.Method().Static != h.isStatic {
		return "", contractf("invoke", "%s at %d: static mismatch calling %s", h.opcode, h.address, desc)
	}

	callee := ig.RootContext()
	callee.SetCallDepth(mctx.CallDepth() + 1)
	for i, slot := range h.slots {
		callee.Set(h.calleeRegister(callee, i, slot), h.bind(mctx, slot))
	}

	graph, err := h.vm.Execute(ctx, desc, callee)
	if err != nil {
		if !errors.Is(err, ErrResourceExhausted) {
			return "", err
		}
		h.unresolved(mctx, desc, err.Error())
		return ResolutionUnresolved, nil
	}

	terms := graph.ConnectedTerminatingAddresses()
	if len(terms) == 0 {
		h.unresolved(mctx, desc, "callee never terminates")
		return ResolutionUnresolved, nil
	}

	if !h.method.ReturnsVoid() {
		r := graph.Consensus(terms, ReturnRegister)
		if r.Type == "" {
			r.Type = h.method.ReturnType
		}
		mctx.SetResultRegister(r)
	}
	h.propagateArguments(mctx, graph, terms)
	return ResolutionAnalyzed, nil
}

// propagateArguments carries the callee's final state of each mutable argument
// back to the caller. Objects are updated in place so other registers aliasing
// them observe the change; anything imprecise collapses to Unknown, as does a
// parameter register the callee rebound to a different object.
func (h *invokeHandler) propagateArguments(mctx *MethodContext, graph *ContextGraph, terms []int) {
	root := graph.RootContext()
	for i, slot := range h.slots {
		reg := h.registers[slot.Offset]
		cur := mctx.Peek(reg)
		if cur == nil || (h.vm.IsImmutableClass(cur.Type) && !IsMutableValue(cur.Value)) {
			continue
		}
		if !h.vm.opts.PropagateArguments || root == nil {
			mctx.Set(reg, NewUnknownStore(cur.Type))
			continue
		}
		c := finalState(graph, terms, h.calleeRegister(root, i, slot), cur.Value)
		if c.IsUnknown() || !copyInto(cur.Value, c.Value) {
			mctx.Set(reg, NewUnknownStore(cur.Type))
		}
	}
}

// finalState joins register across the contexts at every terminating address.
// For a tracked object each path must still hold a copy of arg.
func finalState(graph *ContextGraph, terms []int, register int, arg any) *RegisterStore {
	if !IsMutableValue(arg) {
		return graph.Consensus(terms, register)
	}
	var stores []*RegisterStore
	for _, a := range terms {
		cs := graph.Contexts(a)
		if len(cs) == 0 {
			return NewUnknownStore("")
		}
		for _, c := range cs {
			s := c.Peek(register)
			if s == nil || !SameObject(arg, s.Value) {
				return NewUnknownStore("")
			}
			stores = append(stores, s)
		}
	}
	return Join(stores...)
}

// copyInto overwrites dst with the state of src when both are objects of the
// same kind. Equal immutable values also count as copied.
func copyInto(dst, src any) bool {
	switch d := dst.(type) {
	case *Instance:
		s, ok := src.(*Instance)
		if !ok || s == nil || d == nil {
			return false
		}
		d.Class, d.Fields, d.Native = s.Class, s.Fields, s.Native
		return true
	case *Array:
		s, ok := src.(*Array)
		if !ok || s == nil || d == nil {
			return false
		}
		d.Type, d.Elements = s.Type, s.Elements
		return true
	}
	return !IsUnknown(dst) && cmp.Equal(dst, src)
}

func (h *invokeHandler) executeExternal(mctx *MethodContext, desc string) (Resolution, error) {
	n := len(h.registers)
	callee := NewMethodContext(n, n, mctx.CallDepth()+1)
	known := true
	for _, slot := range h.slots {
		s := h.bind(mctx, slot)
		callee.SetParameter(slot.Offset, s)
		if s.IsUnknown() {
			known = false
		}
	}

	opts := h.vm.opts
	var res Resolution
	switch {
	case known && !opts.DisableEmulation && h.vm.emulator != nil && h.vm.emulator.CanEmulate(desc):
		if err := h.vm.emulator.Emulate(callee, desc); err != nil {
			return "", &ContractError{Op: "emulate", Msg: desc, Err: err}
		}
		res = ResolutionEmulated
		h.vm.emit(Event{Kind: EventEmulated, Method: h.caller, Address: h.address, Target: desc, Depth: mctx.CallDepth()})
	case known && !opts.DisableReflection && h.vm.reflector != nil && h.vm.reflector.CanReflect(desc):
		if err := h.vm.reflector.Bind(h.method, h.isStatic).Reflect(callee); err != nil {
			var te *TargetError
			if !errors.As(err, &te) {
				return "", &ContractError{Op: "reflect", Msg: desc, Err: err}
			}
			h.unresolved(mctx, desc, te.Error())
			return ResolutionUnresolved, nil
		}
		res = ResolutionReflected
		h.vm.emit(Event{Kind: EventReflected, Method: h.caller, Address: h.address, Target: desc, Depth: mctx.CallDepth()})
	default:
		detail := "no emulation or reflection path"
		if !known {
			detail = "unknown argument"
		}
		h.unresolved(mctx, desc, detail)
		return ResolutionUnresolved, nil
	}

	if !h.method.ReturnsVoid() {
		r := callee.ReturnValue()
		if r == nil {
			r = NewUnknownStore(h.method.ReturnType)
		}
		mctx.SetResultRegister(r)
	}
	return res, nil
}

func (h *invokeHandler) unresolved(mctx *MethodContext, desc, detail string) {
	h.assumeMaximumUnknown(mctx)
	h.vm.emit(Event{
		Kind:       EventUnresolvedCall,
		Method:     h.caller,
		Address:    h.address,
		Target:     desc,
		Detail:     detail,
		Resolution: ResolutionUnresolved,
		Depth:      mctx.CallDepth(),
	})
}

// assumeMaximumUnknown treats the call as able to mutate every argument that
// is not of an immutable type.
func (h *invokeHandler) assumeMaximumUnknown(mctx *MethodContext) {
	for _, slot := range h.slots {
		reg := h.registers[slot.Offset]
		typ := mctx.PeekType(reg)
		if typ == "" {
			typ = slot.Type
		}
		if h.vm.IsImmutableClass(typ) {
			continue
		}
		mctx.Set(reg, NewUnknownStore(typ))
	}
	if !h.method.ReturnsVoid() {
		mctx.SetResultRegister(NewUnknownStore(h.method.ReturnType))
	}
}
