package vm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"simplify/internal/dex"
)

// OpHandler executes the instruction at one address. Execute mutates mctx in
// place and returns the successors feasible for that context; PossibleChildren
// is the static successor set. A handler with no possible children terminates
// the method.
type OpHandler interface {
	Execute(ctx context.Context, mctx *MethodContext) ([]int, error)
	Address() int
	PossibleChildren() []int
	String() string
}

type handlerFactory func(vm *VirtualMachine, m *dex.Method, inst dex.Instruction) (OpHandler, error)

// handlerFactories maps each opcode category to the constructor of its handler.
var handlerFactories = map[dex.Category]handlerFactory{
	dex.Nop:         newNopHandler,
	dex.Const:       newConstHandler,
	dex.Move:        newMoveHandler,
	dex.MoveResult:  newMoveResultHandler,
	dex.Return:      newReturnHandler,
	dex.ReturnVoid:  newReturnVoidHandler,
	dex.Throw:       newThrowHandler,
	dex.Goto:        newGotoHandler,
	dex.Switch:      newSwitchHandler,
	dex.If:          newIfHandler,
	dex.IfZ:         newIfHandler,
	dex.NewInstance: newNewInstanceHandler,
	dex.Invoke:      newInvokeHandler,
	dex.Other:       newFallbackHandler,
}

func newHandler(vm *VirtualMachine, m *dex.Method, inst dex.Instruction) (OpHandler, error) {
	cat := dex.CategoryOf(inst.Opcode)
	factory, ok := handlerFactories[cat]
	if !ok {
		return nil, contractf("build handler", "unknown opcode %q at %d", inst.Opcode, inst.Address)
	}
	return factory(vm, m, inst)
}

func requireRegisters(inst dex.Instruction, n int) error {
	if len(inst.Registers) != n {
		return contractf("build handler", "%s at %d: expected %d registers, got %d",
			inst.Opcode, inst.Address, n, len(inst.Registers))
	}
	return nil
}

type base struct {
	address int
	opcode  string
}

func (b base) Address() int { return b.address }

// straight is embedded by handlers that always fall through.
type straight struct {
	base
	next int
}

func (s straight) PossibleChildren() []int { return []int{s.next} }

type nopHandler struct{ straight }

func newNopHandler(_ *VirtualMachine, _ *dex.Method, inst dex.Instruction) (OpHandler, error) {
	return &nopHandler{straight{base{inst.Address, inst.Opcode}, inst.Next()}}, nil
}

func (h *nopHandler) Execute(context.Context, *MethodContext) ([]int, error) {
	return []int{h.next}, nil
}

func (h *nopHandler) String() string {
	return h.opcode
}

type constHandler struct {
	straight
	dest  int
	store *RegisterStore
}

func newConstHandler(_ *VirtualMachine, _ *dex.Method, inst dex.Instruction) (OpHandler, error) {
	if err := requireRegisters(inst, 1); err != nil {
		return nil, err
	}
	var store *RegisterStore
	switch {
	case strings.HasPrefix(inst.Opcode, "const-string"):
		s, ok := inst.Literal.(string)
		if !ok {
			return nil, contractf("build handler", "%s at %d: literal is %T", inst.Opcode, inst.Address, inst.Literal)
		}
		store = NewRegisterStore(dex.TypeString, s)
	case inst.Opcode == "const-class":
		store = NewRegisterStore(dex.TypeClass, ClassRef(inst.Type))
	default:
		n, ok := inst.Literal.(int64)
		if !ok {
			return nil, contractf("build handler", "%s at %d: literal is %T", inst.Opcode, inst.Address, inst.Literal)
		}
		if strings.HasPrefix(inst.Opcode, "const-wide") {
			store = NewRegisterStore(dex.TypeLong, n)
		} else {
			store = NewRegisterStore(dex.TypeInt, int32(n))
		}
	}
	return &constHandler{
		straight: straight{base{inst.Address, inst.Opcode}, inst.Next()},
		dest:     inst.Registers[0],
		store:    store,
	}, nil
}

func (h *constHandler) Execute(_ context.Context, mctx *MethodContext) ([]int, error) {
	mctx.Set(h.dest, h.store.Clone())
	return []int{h.next}, nil
}

func (h *constHandler) String() string {
	return fmt.Sprintf("%s r%d, %s", h.opcode, h.dest, FormatValue(h.store.Value))
}

type moveHandler struct {
	straight
	dest, src int
}

func newMoveHandler(_ *VirtualMachine, _ *dex.Method, inst dex.Instruction) (OpHandler, error) {
	if err := requireRegisters(inst, 2); err != nil {
		return nil, err
	}
	return &moveHandler{
		straight: straight{base{inst.Address, inst.Opcode}, inst.Next()},
		dest:     inst.Registers[0],
		src:      inst.Registers[1],
	}, nil
}

func (h *moveHandler) Execute(_ context.Context, mctx *MethodContext) ([]int, error) {
	src := mctx.Get(h.src, h.address)
	if src == nil {
		mctx.Set(h.dest, NewUnknownStore(dex.ResultType(h.opcode)))
	} else {
		// Objects keep their identity across moves.
		mctx.Set(h.dest, NewRegisterStore(src.Type, src.Value))
	}
	return []int{h.next}, nil
}

func (h *moveHandler) String() string {
	return fmt.Sprintf("%s r%d, r%d", h.opcode, h.dest, h.src)
}

type moveResultHandler struct {
	straight
	dest int
}

func newMoveResultHandler(_ *VirtualMachine, _ *dex.Method, inst dex.Instruction) (OpHandler, error) {
	if err := requireRegisters(inst, 1); err != nil {
		return nil, err
	}
	return &moveResultHandler{
		straight: straight{base{inst.Address, inst.Opcode}, inst.Next()},
		dest:     inst.Registers[0],
	}, nil
}

func (h *moveResultHandler) Execute(_ context.Context, mctx *MethodContext) ([]int, error) {
	r := mctx.ResultRegister()
	if r == nil {
		mctx.Set(h.dest, NewUnknownStore(dex.ResultType(h.opcode)))
	} else {
		mctx.Set(h.dest, NewRegisterStore(r.Type, r.Value))
	}
	return []int{h.next}, nil
}

func (h *moveResultHandler) String() string {
	return fmt.Sprintf("%s r%d", h.opcode, h.dest)
}

type returnHandler struct {
	base
	src int
}

func newReturnHandler(_ *VirtualMachine, _ *dex.Method, inst dex.Instruction) (OpHandler, error) {
	if err := requireRegisters(inst, 1); err != nil {
		return nil, err
	}
	return &returnHandler{base: base{inst.Address, inst.Opcode}, src: inst.Registers[0]}, nil
}

func (h *returnHandler) Execute(_ context.Context, mctx *MethodContext) ([]int, error) {
	s := mctx.Get(h.src, h.address)
	if s == nil {
		s = NewUnknownStore(dex.ResultType(h.opcode))
	}
	mctx.SetReturnRegister(NewRegisterStore(s.Type, s.Value))
	return nil, nil
}

func (h *returnHandler) PossibleChildren() []int { return nil }

func (h *returnHandler) String() string {
	return fmt.Sprintf("%s r%d", h.opcode, h.src)
}

type returnVoidHandler struct{ base }

func newReturnVoidHandler(_ *VirtualMachine, _ *dex.Method, inst dex.Instruction) (OpHandler, error) {
	return &returnVoidHandler{base{inst.Address, inst.Opcode}}, nil
}

func (h *returnVoidHandler) Execute(context.Context, *MethodContext) ([]int, error) {
	return nil, nil
}

func (h *returnVoidHandler) PossibleChildren() []int { return nil }
func (h *returnVoidHandler) String() string          { return h.opcode }

type throwHandler struct {
	base
	src int
}

func newThrowHandler(_ *VirtualMachine, _ *dex.Method, inst dex.Instruction) (OpHandler, error) {
	if err := requireRegisters(inst, 1); err != nil {
		return nil, err
	}
	return &throwHandler{base: base{inst.Address, inst.Opcode}, src: inst.Registers[0]}, nil
}

func (h *throwHandler) Execute(_ context.Context, mctx *MethodContext) ([]int, error) {
	mctx.Get(h.src, h.address)
	return nil, nil
}

func (h *throwHandler) PossibleChildren() []int { return nil }

func (h *throwHandler) String() string {
	return fmt.Sprintf("%s r%d", h.opcode, h.src)
}

type gotoHandler struct {
	base
	target int
}

func newGotoHandler(_ *VirtualMachine, _ *dex.Method, inst dex.Instruction) (OpHandler, error) {
	if len(inst.Targets) != 1 {
		return nil, contractf("build handler", "%s at %d: expected one target", inst.Opcode, inst.Address)
	}
	return &gotoHandler{base: base{inst.Address, inst.Opcode}, target: inst.Targets[0]}, nil
}

func (h *gotoHandler) Execute(context.Context, *MethodContext) ([]int, error) {
	return []int{h.target}, nil
}

func (h *gotoHandler) PossibleChildren() []int { return []int{h.target} }

func (h *gotoHandler) String() string {
	return fmt.Sprintf("%s #%d", h.opcode, h.target)
}

type switchHandler struct {
	base
	reg      int
	keys     []int32
	targets  []int
	next     int
	children []int
}

func newSwitchHandler(_ *VirtualMachine, _ *dex.Method, inst dex.Instruction) (OpHandler, error) {
	if err := requireRegisters(inst, 1); err != nil {
		return nil, err
	}
	if len(inst.Keys) != len(inst.Targets) {
		return nil, contractf("build handler", "%s at %d: %d keys for %d targets",
			inst.Opcode, inst.Address, len(inst.Keys), len(inst.Targets))
	}
	h := &switchHandler{
		base:    base{inst.Address, inst.Opcode},
		reg:     inst.Registers[0],
		keys:    inst.Keys,
		targets: inst.Targets,
		next:    inst.Next(),
	}
	h.children = uniqueSorted(append([]int{h.next}, h.targets...))
	return h, nil
}

func (h *switchHandler) Execute(_ context.Context, mctx *MethodContext) ([]int, error) {
	s := mctx.Get(h.reg, h.address)
	v, ok := intValue(s)
	if !ok {
		return h.children, nil
	}
	for i, k := range h.keys {
		if int64(k) == v {
			return []int{h.targets[i]}, nil
		}
	}
	return []int{h.next}, nil
}

func (h *switchHandler) PossibleChildren() []int { return h.children }

func (h *switchHandler) String() string {
	cases := make([]string, len(h.keys))
	for i, k := range h.keys {
		cases[i] = fmt.Sprintf("%d -> #%d", k, h.targets[i])
	}
	return fmt.Sprintf("%s r%d, {%s}", h.opcode, h.reg, strings.Join(cases, ", "))
}

// ifHandler covers if-test (two registers) and if-testz (register vs zero).
type ifHandler struct {
	base
	a, b   int // b is NoOperand for the z forms
	test   string
	target int
	next   int
}

func newIfHandler(_ *VirtualMachine, _ *dex.Method, inst dex.Instruction) (OpHandler, error) {
	zero := dex.CategoryOf(inst.Opcode) == dex.IfZ
	want := 2
	if zero {
		want = 1
	}
	if err := requireRegisters(inst, want); err != nil {
		return nil, err
	}
	if len(inst.Targets) != 1 {
		return nil, contractf("build handler", "%s at %d: expected one target", inst.Opcode, inst.Address)
	}
	h := &ifHandler{
		base:   base{inst.Address, inst.Opcode},
		a:      inst.Registers[0],
		b:      dex.NoOperand,
		test:   strings.TrimSuffix(strings.TrimPrefix(inst.Opcode, "if-"), "z"),
		target: inst.Targets[0],
		next:   inst.Next(),
	}
	if !zero {
		h.b = inst.Registers[1]
	}
	return h, nil
}

func (h *ifHandler) Execute(_ context.Context, mctx *MethodContext) ([]int, error) {
	sa := mctx.Get(h.a, h.address)
	if h.b != dex.NoOperand {
		sb := mctx.Get(h.b, h.address)
		if !sa.IsUnknown() && !sb.IsUnknown() && (isReference(sa.Value) || isReference(sb.Value)) {
			same, ok := sameReference(sa.Value, sb.Value)
			if !ok || (h.test != "eq" && h.test != "ne") {
				return h.PossibleChildren(), nil
			}
			return h.successor(same == (h.test == "eq")), nil
		}
	}

	a, okA := intValue(sa)
	b, okB := int64(0), true
	if h.b != dex.NoOperand {
		b, okB = intValue(mctx.Get(h.b, h.address))
	}
	if !okA || !okB {
		return h.PossibleChildren(), nil
	}

	var taken bool
	switch h.test {
	case "eq":
		taken = a == b
	case "ne":
		taken = a != b
	case "lt":
		taken = a < b
	case "ge":
		taken = a >= b
	case "gt":
		taken = a > b
	case "le":
		taken = a <= b
	}
	return h.successor(taken), nil
}

func (h *ifHandler) successor(taken bool) []int {
	if taken {
		return []int{h.target}
	}
	return []int{h.next}
}

func (h *ifHandler) PossibleChildren() []int {
	return uniqueSorted([]int{h.next, h.target})
}

func (h *ifHandler) String() string {
	if h.b == dex.NoOperand {
		return fmt.Sprintf("%s r%d, #%d", h.opcode, h.a, h.target)
	}
	return fmt.Sprintf("%s r%d, r%d, #%d", h.opcode, h.a, h.b, h.target)
}

func isReference(v any) bool {
	switch v.(type) {
	case string, ClassRef, *Instance, *Array:
		return true
	}
	return false
}

// sameReference decides reference equality where the model allows it: a null
// side (nil or a zero constant) or two tracked objects compared by identity.
// Strings and class literals carry no identity, so ok is false for them.
func sameReference(a, b any) (same, ok bool) {
	if isNull(a) || isNull(b) {
		return isNull(a) && isNull(b), true
	}
	if IsMutableValue(a) && IsMutableValue(b) {
		return a == b, true
	}
	return false, false
}

func isNull(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case int32:
		return x == 0
	case int64:
		return x == 0
	}
	return false
}

// intValue returns the integral view of a known store. References compare as
// 0 for null and 1 otherwise, which is enough for the z forms.
func intValue(s *RegisterStore) (int64, bool) {
	if s.IsUnknown() {
		return 0, false
	}
	switch v := s.Value.(type) {
	case nil:
		return 0, true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case uint16:
		return int64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string, ClassRef, *Instance, *Array:
		return 1, true
	}
	return 0, false
}

type newInstanceHandler struct {
	straight
	dest  int
	class string
}

func newNewInstanceHandler(_ *VirtualMachine, _ *dex.Method, inst dex.Instruction) (OpHandler, error) {
	if err := requireRegisters(inst, 1); err != nil {
		return nil, err
	}
	if inst.Type == "" {
		return nil, contractf("build handler", "%s at %d: missing class", inst.Opcode, inst.Address)
	}
	return &newInstanceHandler{
		straight: straight{base{inst.Address, inst.Opcode}, inst.Next()},
		dest:     inst.Registers[0],
		class:    inst.Type,
	}, nil
}

func (h *newInstanceHandler) Execute(_ context.Context, mctx *MethodContext) ([]int, error) {
	mctx.Set(h.dest, NewRegisterStore(h.class, NewInstance(h.class)))
	return []int{h.next}, nil
}

func (h *newInstanceHandler) String() string {
	return fmt.Sprintf("%s r%d, %s", h.opcode, h.dest, h.class)
}

// fallbackHandler runs opcodes without a dedicated handler. It marks the
// affected register Unknown, clears the call result slot when the opcode
// writes it, and falls through.
type fallbackHandler struct {
	straight
	vm       *VirtualMachine
	method   string
	inst     dex.Instruction
	info     dex.OpcodeInfo
	declared string // type of the value the opcode defines, when the operand says so
	mutates  bool   // the affected register holds an object the opcode changes
}

func newFallbackHandler(vm *VirtualMachine, m *dex.Method, inst dex.Instruction) (OpHandler, error) {
	info, _ := dex.Lookup(inst.Opcode)
	if info.Affects != dex.NoOperand && info.Affects >= len(inst.Registers) {
		return nil, contractf("build handler", "%s at %d: missing operand %d", inst.Opcode, inst.Address, info.Affects)
	}
	h := &fallbackHandler{
		straight: straight{base{inst.Address, inst.Opcode}, inst.Next()},
		vm:       vm,
		method:   m.Descriptor(),
		inst:     inst,
		info:     info,
		mutates:  info.Affects > 0 || inst.Opcode == "fill-array-data",
	}
	switch {
	case strings.HasPrefix(inst.Opcode, "new-array"),
		strings.HasPrefix(inst.Opcode, "iget"),
		strings.HasPrefix(inst.Opcode, "sget"),
		strings.HasPrefix(inst.Opcode, "filled-new-array"):
		h.declared = inst.Type
	}
	return h, nil
}

func (h *fallbackHandler) Execute(_ context.Context, mctx *MethodContext) ([]int, error) {
	if h.info.Affects != dex.NoOperand {
		reg := h.inst.Registers[h.info.Affects]
		typ := h.declared
		if h.mutates {
			typ = mctx.PeekType(reg)
		}
		if typ == "" {
			typ = dex.ResultType(h.opcode)
		}
		mctx.Set(reg, NewUnknownStore(typ))
	}
	if h.info.Result {
		typ := h.declared
		if typ == "" {
			typ = "[I"
		}
		mctx.SetResultRegister(NewUnknownStore(typ))
	}
	h.vm.emit(Event{
		Kind:    EventUnsupportedOp,
		Method:  h.method,
		Address: h.address,
		Detail:  h.opcode,
		Depth:   mctx.CallDepth(),
	})
	return []int{h.next}, nil
}

func (h *fallbackHandler) String() string {
	regs := make([]string, len(h.inst.Registers))
	for i, r := range h.inst.Registers {
		regs[i] = fmt.Sprintf("r%d", r)
	}
	s := h.opcode
	if len(regs) > 0 {
		s += " " + strings.Join(regs, ", ")
	}
	switch {
	case h.inst.Field != "":
		s += ", " + h.inst.Field
	case h.inst.Type != "":
		s += ", " + h.inst.Type
	case h.inst.Literal != nil:
		s += fmt.Sprintf(", %v", h.inst.Literal)
	}
	return s
}

func uniqueSorted(in []int) []int {
	seen := map[int]bool{}
	out := make([]int, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}
