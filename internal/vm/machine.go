package vm

import (
	"context"
	"fmt"
	"sort"

	"simplify/internal/dex"
)

// Emulator simulates known external methods. Emulate runs against a context
// whose parameters are all known; it writes the return value with
// SetReturnRegister and applies side effects to the parameter stores in place.
type Emulator interface {
	CanEmulate(descriptor string) bool
	Emulate(mctx *MethodContext, descriptor string) error
}

// Reflector performs real calls to external methods that are safe to run.
type Reflector interface {
	CanReflect(descriptor string) bool
	Bind(method dex.MethodReference, isStatic bool) Reflection
}

// Reflection is a bound call site. A *TargetError from Reflect means the
// target itself threw; any other error is a plumbing failure.
type Reflection interface {
	Reflect(mctx *MethodContext) error
}

// Options bounds and tunes execution.
type Options struct {
	MaxCallDepth       int
	MaxNodeVisits      int
	MaxAddressVisits   int
	PropagateArguments bool
	DisableEmulation   bool
	DisableReflection  bool
	ImmutableClasses   []string
}

func DefaultOptions() Options {
	return Options{
		MaxCallDepth:       10,
		MaxNodeVisits:      10000,
		MaxAddressVisits:   500,
		PropagateArguments: true,
	}
}

// Option configures a VirtualMachine.
type Option func(*VirtualMachine)

func WithEmulator(e Emulator) Option   { return func(vm *VirtualMachine) { vm.emulator = e } }
func WithReflector(r Reflector) Option { return func(vm *VirtualMachine) { vm.reflector = r } }
func WithSink(s Sink) Option           { return func(vm *VirtualMachine) { vm.sink = s } }

var immutableClasses = []string{
	dex.TypeInt, dex.TypeLong, dex.TypeBoolean, dex.TypeByte, dex.TypeShort,
	dex.TypeChar, dex.TypeFloat, dex.TypeDouble,
	dex.TypeString, dex.TypeClass,
	"Ljava/lang/Integer;", "Ljava/lang/Long;", "Ljava/lang/Boolean;",
	"Ljava/lang/Byte;", "Ljava/lang/Short;", "Ljava/lang/Character;",
	"Ljava/lang/Float;", "Ljava/lang/Double;",
	"Ljava/math/BigInteger;", "Ljava/math/BigDecimal;",
}

// VirtualMachine owns the method registry and drives execution. All of its
// state is fixed by New; a single machine runs one execution at a time.
type VirtualMachine struct {
	opts      Options
	methods   map[string]*dex.Method
	order     []string
	graphs    map[string]*InstructionGraph
	graphErrs map[string]error
	immutable map[string]bool
	emulator  Emulator
	reflector Reflector
	sink      Sink
}

// New registers methods and builds an instruction graph for each. A method
// whose graph cannot be built stays defined; executing it returns the build
// error.
func New(methods []*dex.Method, opts Options, options ...Option) (*VirtualMachine, error) {
	vm := &VirtualMachine{
		opts:      opts,
		methods:   make(map[string]*dex.Method, len(methods)),
		graphs:    make(map[string]*InstructionGraph, len(methods)),
		graphErrs: map[string]error{},
		immutable: map[string]bool{},
		sink:      Discard,
	}
	for _, o := range options {
		o(vm)
	}
	if vm.sink == nil {
		vm.sink = Discard
	}
	for _, t := range immutableClasses {
		vm.immutable[t] = true
	}
	for _, t := range opts.ImmutableClasses {
		vm.immutable[t] = true
	}

	for _, m := range methods {
		desc := m.Descriptor()
		if _, dup := vm.methods[desc]; dup {
			return nil, fmt.Errorf("duplicate method %s", desc)
		}
		vm.methods[desc] = m
		vm.order = append(vm.order, desc)
	}
	for _, desc := range vm.order {
		g, err := buildInstructionGraph(vm, vm.methods[desc])
		if err != nil {
			vm.graphErrs[desc] = err
			continue
		}
		vm.graphs[desc] = g
	}
	return vm, nil
}

func (vm *VirtualMachine) Options() Options { return vm.opts }

// Methods returns the registered descriptors in registration order.
func (vm *VirtualMachine) Methods() []string {
	return append([]string(nil), vm.order...)
}

func (vm *VirtualMachine) Method(descriptor string) (*dex.Method, bool) {
	m, ok := vm.methods[descriptor]
	return m, ok
}

func (vm *VirtualMachine) IsMethodDefined(descriptor string) bool {
	_, ok := vm.methods[descriptor]
	return ok
}

// InstructionGraph returns the handler table of a defined method.
func (vm *VirtualMachine) InstructionGraph(descriptor string) (*InstructionGraph, error) {
	if err, ok := vm.graphErrs[descriptor]; ok {
		return nil, fmt.Errorf("%s: %w", descriptor, err)
	}
	g, ok := vm.graphs[descriptor]
	if !ok {
		return nil, fmt.Errorf("%s: %w", descriptor, ErrMethodNotDefined)
	}
	return g, nil
}

// IsImmutableClass reports whether values of the type cannot be changed by an
// opaque call. Arrays are always mutable.
func (vm *VirtualMachine) IsImmutableClass(typ string) bool {
	return vm.immutable[typ]
}

func (vm *VirtualMachine) emit(e Event) {
	vm.sink.Emit(e)
}

// ExecuteMethod runs a defined method from its default entry context.
func (vm *VirtualMachine) ExecuteMethod(ctx context.Context, descriptor string) (*ContextGraph, error) {
	ig, err := vm.InstructionGraph(descriptor)
	if err != nil {
		return nil, err
	}
	return vm.Execute(ctx, descriptor, ig.RootContext())
}

type workItem struct {
	address int
	mctx    *MethodContext
}

// Execute explores every path of the method from mctx and returns the graph of
// states reached. mctx itself is not modified. Exceeding a limit returns an
// error wrapping ErrResourceExhausted and no graph; contract violations and
// context cancellation are returned as they are.
func (vm *VirtualMachine) Execute(ctx context.Context, descriptor string, mctx *MethodContext) (graph *ContextGraph, err error) {
	ig, err := vm.InstructionGraph(descriptor)
	if err != nil {
		return nil, err
	}
	if mctx.CallDepth() > vm.opts.MaxCallDepth {
		vm.emit(Event{
			Kind:   EventCallDepthExceeded,
			Method: descriptor,
			Detail: fmt.Sprintf("depth %d > %d", mctx.CallDepth(), vm.opts.MaxCallDepth),
			Depth:  mctx.CallDepth(),
		})
		return nil, fmt.Errorf("%s: %w", descriptor, ErrCallDepthExceeded)
	}

	defer func() {
		if r := recover(); r != nil {
			ce, ok := r.(*ContractError)
			if !ok {
				panic(r)
			}
			graph, err = nil, fmt.Errorf("%s: %w", descriptor, ce)
		}
	}()

	graph = NewContextGraph(descriptor, ig.Entry(), mctx.Clone(), ig.TerminatingAddresses())
	for _, a := range ig.Addresses() {
		h, _ := ig.Handler(a)
		graph.SetLabel(a, h.String())
	}

	queue := []workItem{{address: ig.Entry(), mctx: mctx.Clone()}}
	visits := map[int]int{}
	nodes := 0
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := queue[0]
		queue = queue[1:]

		nodes++
		if nodes > vm.opts.MaxNodeVisits {
			vm.emit(Event{Kind: EventNodeVisitsExceeded, Method: descriptor, Address: item.address, Depth: mctx.CallDepth()})
			return nil, fmt.Errorf("%s: %w", descriptor, ErrNodeVisitsExceeded)
		}
		visits[item.address]++
		if visits[item.address] > vm.opts.MaxAddressVisits {
			vm.emit(Event{Kind: EventAddressVisitsExceeded, Method: descriptor, Address: item.address, Depth: mctx.CallDepth()})
			return nil, fmt.Errorf("%s @%d: %w", descriptor, item.address, ErrAddressVisitsExceeded)
		}

		h, ok := ig.Handler(item.address)
		if !ok {
			return nil, fmt.Errorf("%s: %w", descriptor, contractf("execute", "no handler at %d", item.address))
		}
		children, err := h.Execute(ctx, item.mctx)
		if err != nil {
			return nil, fmt.Errorf("%s @%d: %w", descriptor, item.address, err)
		}
		graph.RecordContext(item.address, item.mctx)

		for _, child := range children {
			graph.AddEdge(item.address, child)
			queue = append(queue, workItem{address: child, mctx: item.mctx.Clone()})
		}
	}

	vm.emit(Event{
		Kind:   EventMethodExecuted,
		Method: descriptor,
		Detail: fmt.Sprintf("%d nodes", nodes),
		Depth:  mctx.CallDepth(),
	})
	return graph, nil
}

// InstructionGraph holds one handler per instruction address of a method.
type InstructionGraph struct {
	method      *dex.Method
	handlers    map[int]OpHandler
	addresses   []int
	terminating []int
}

func buildInstructionGraph(vm *VirtualMachine, m *dex.Method) (*InstructionGraph, error) {
	receiver := 0
	if !m.Static {
		receiver = 1
	}
	if need := m.ParameterSlots() + receiver; m.RegisterCount < need {
		return nil, contractf("build graph", "%d registers cannot hold %d parameter slots", m.RegisterCount, need)
	}
	if len(m.Instructions) == 0 {
		return nil, contractf("build graph", "empty method body")
	}

	g := &InstructionGraph{method: m, handlers: make(map[int]OpHandler, len(m.Instructions))}
	for _, inst := range m.Instructions {
		if _, dup := g.handlers[inst.Address]; dup {
			return nil, contractf("build graph", "two instructions at %d", inst.Address)
		}
		h, err := newHandler(vm, m, inst)
		if err != nil {
			return nil, err
		}
		g.handlers[inst.Address] = h
		g.addresses = append(g.addresses, inst.Address)
	}
	sort.Ints(g.addresses)

	for _, a := range g.addresses {
		children := g.handlers[a].PossibleChildren()
		if len(children) == 0 {
			g.terminating = append(g.terminating, a)
		}
		for _, c := range children {
			if _, ok := g.handlers[c]; !ok {
				return nil, contractf("build graph", "%s at %d flows to %d, which holds no instruction", g.handlers[a], a, c)
			}
		}
	}
	return g, nil
}

func (g *InstructionGraph) Method() *dex.Method { return g.method }

// Entry returns the first instruction address.
func (g *InstructionGraph) Entry() int { return g.addresses[0] }

func (g *InstructionGraph) Addresses() []int { return g.addresses }

func (g *InstructionGraph) TerminatingAddresses() []int { return g.terminating }

func (g *InstructionGraph) Handler(address int) (OpHandler, bool) {
	h, ok := g.handlers[address]
	return h, ok
}

// RootContext returns an entry context whose parameters, and receiver for
// instance methods, are Unknown values of their declared types.
func (g *InstructionGraph) RootContext() *MethodContext {
	m := g.method
	mctx := NewMethodContext(m.RegisterCount, m.ParameterSlots(), 0)
	if !m.Static {
		mctx.SetReceiver(NewUnknownStore(m.Reference.DefiningClass))
	}
	for _, slot := range dex.ArgumentSlots(m.Reference.ParameterTypes) {
		mctx.SetParameter(slot.Offset, NewUnknownStore(slot.Type))
	}
	return mctx
}
