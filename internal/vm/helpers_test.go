package vm

import (
	"testing"

	"simplify/internal/dex"
)

// assemble assigns sequential code-unit addresses. Targets are given as
// instruction indices and rewritten to addresses.
func assemble(insts ...dex.Instruction) []dex.Instruction {
	addrs := make([]int, len(insts))
	addr := 0
	for i := range insts {
		addrs[i] = addr
		insts[i].Address = addr
		addr += insts[i].Units()
	}
	for i := range insts {
		for j, t := range insts[i].Targets {
			insts[i].Targets[j] = addrs[t]
		}
	}
	return insts
}

func mustRef(t *testing.T, desc string) *dex.MethodReference {
	t.Helper()
	ref, err := dex.ParseMethodReference(desc)
	if err != nil {
		t.Fatalf("ParseMethodReference(%q): %v", desc, err)
	}
	return &ref
}

func newMethod(t *testing.T, desc string, static bool, registers int, insts ...dex.Instruction) *dex.Method {
	t.Helper()
	return &dex.Method{
		Reference:     *mustRef(t, desc),
		Static:        static,
		RegisterCount: registers,
		Instructions:  assemble(insts...),
	}
}

func op(opcode string, regs ...int) dex.Instruction {
	return dex.Instruction{Opcode: opcode, Registers: regs}
}

func constInt(reg int, v int64) dex.Instruction {
	return dex.Instruction{Opcode: "const/4", Registers: []int{reg}, Literal: v}
}

func constString(reg int, s string) dex.Instruction {
	return dex.Instruction{Opcode: "const-string", Registers: []int{reg}, Literal: s}
}

func invoke(t *testing.T, opcode, desc string, regs ...int) dex.Instruction {
	return dex.Instruction{Opcode: opcode, Registers: regs, Method: mustRef(t, desc)}
}

func branch(opcode string, target int, regs ...int) dex.Instruction {
	return dex.Instruction{Opcode: opcode, Registers: regs, Targets: []int{target}}
}

func newVM(t *testing.T, opts Options, methods []*dex.Method, options ...Option) *VirtualMachine {
	t.Helper()
	vm, err := New(methods, opts, options...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return vm
}

// fakeEmulator emulates a fixed set of descriptors with test callbacks.
type fakeEmulator struct {
	rules map[string]func(*MethodContext) error
	calls []string
}

func (f *fakeEmulator) CanEmulate(desc string) bool {
	_, ok := f.rules[desc]
	return ok
}

func (f *fakeEmulator) Emulate(mctx *MethodContext, desc string) error {
	f.calls = append(f.calls, desc)
	return f.rules[desc](mctx)
}

type fakeReflector struct {
	targets map[string]func(*MethodContext) error
}

func (f *fakeReflector) CanReflect(desc string) bool {
	_, ok := f.targets[desc]
	return ok
}

func (f *fakeReflector) Bind(ref dex.MethodReference, _ bool) Reflection {
	return reflectionFunc(f.targets[ref.Descriptor()])
}

type reflectionFunc func(*MethodContext) error

func (r reflectionFunc) Reflect(mctx *MethodContext) error { return r(mctx) }
