// Package analysis runs the virtual machine over loaded methods and turns the
// resulting execution graphs into reportable findings: what each method
// returns, what its registers hold, and what every call site was passed.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"simplify/internal/dex"
	"simplify/internal/emulate"
	"simplify/internal/reflection"
	"simplify/internal/vm"
)

// Analyzer executes methods and collects per-method results. It is not safe
// for concurrent use.
type Analyzer struct {
	machine *vm.VirtualMachine
	methods []*dex.Method
	events  *vm.Recorder
	chain   *DetectorChain
}

// New builds an analyzer over methods. Events are recorded for findings and
// also forwarded to sink, which may be nil.
func New(methods []*dex.Method, opts vm.Options, sink vm.Sink, detectors ...Detector) (*Analyzer, error) {
	a := &Analyzer{
		methods: methods,
		events:  &vm.Recorder{},
		chain:   NewDetectorChain(detectors...),
	}
	machine, err := vm.New(methods, opts,
		vm.WithEmulator(emulate.New()),
		vm.WithReflector(reflection.New()),
		vm.WithSink(vm.Tee(a.events, sink)),
	)
	if err != nil {
		return nil, err
	}
	a.machine = machine
	return a, nil
}

// Machine exposes the underlying virtual machine.
func (a *Analyzer) Machine() *vm.VirtualMachine { return a.machine }

// Analyze executes one method. Resource exhaustion and contract violations are
// recorded in the result; only context cancellation is returned as an error.
func (a *Analyzer) Analyze(ctx context.Context, desc string) (MethodResult, error) {
	m, ok := a.machine.Method(desc)
	if !ok {
		return MethodResult{}, fmt.Errorf("%s: %w", desc, vm.ErrMethodNotDefined)
	}
	a.events.Reset()
	res := MethodResult{Method: desc}

	g, err := a.machine.ExecuteMethod(ctx, desc)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Error = err.Error()
		res.Exhausted = errors.Is(err, vm.ErrResourceExhausted)
	}
	res.Degraded = a.degraded()

	if g == nil {
		return res, nil
	}
	res.Graph = g
	res.Nodes = g.NodeCount()
	res.Terminating = g.ConnectedTerminatingAddresses()

	if !m.Reference.ReturnsVoid() {
		ret := NewParamValue("return", g.Consensus(res.Terminating, vm.ReturnRegister))
		res.Return = &ret
	}
	res.Registers = a.registers(g, m, res.Terminating)
	res.Findings = a.findings(m)
	return res, nil
}

// AnalyzeAll analyzes every loaded method accepted by filter, or all of them
// when filter is nil, and runs the detector chain over the collected findings.
func (a *Analyzer) AnalyzeAll(ctx context.Context, filter func(string) bool) (Report, error) {
	var report Report
	scan := ScanMethods(a.methods)
	for _, s := range scan.Entrypoints {
		report.EntryPoints = append(report.EntryPoints, s.Descriptor)
	}
	for _, s := range scan.Setters {
		report.Setters = append(report.Setters, s.Descriptor)
	}

	var findings []CallFinding
	for _, desc := range a.machine.Methods() {
		if filter != nil && !filter(desc) {
			continue
		}
		res, err := a.Analyze(ctx, desc)
		if err != nil {
			return report, err
		}
		report.Methods = append(report.Methods, res)
		findings = append(findings, res.Findings...)
	}
	report.Findings = a.chain.Detect(findings)
	return report, nil
}

func (a *Analyzer) degraded() int {
	n := 0
	for _, e := range a.events.Events {
		if e.Kind.Degraded() {
			n++
		}
	}
	return n
}

// registers reports the consensus of every register at the terminating
// addresses. High halves of wide pairs and registers never written are skipped.
func (a *Analyzer) registers(g *vm.ContextGraph, m *dex.Method, terms []int) []ParamValue {
	if len(terms) == 0 {
		return nil
	}
	var out []ParamValue
	for r := 0; r < m.RegisterCount; r++ {
		s := g.Consensus(terms, r)
		if s.Type == "" {
			continue
		}
		out = append(out, NewParamValue(fmt.Sprintf("r%d", r), s))
		if dex.IsWide(s.Type) {
			r++
		}
	}
	return out
}

// findings merges the top-level call events of m by call site.
func (a *Analyzer) findings(m *dex.Method) []CallFinding {
	desc := m.Descriptor()
	insts := make(map[int]dex.Instruction, len(m.Instructions))
	for _, inst := range m.Instructions {
		insts[inst.Address] = inst
	}

	sites := map[int][]vm.Event{}
	for _, e := range a.events.Filter(vm.EventInvoke) {
		if e.Method == desc && e.Depth == 0 {
			sites[e.Address] = append(sites[e.Address], e)
		}
	}
	addrs := make([]int, 0, len(sites))
	for addr := range sites {
		addrs = append(addrs, addr)
	}
	sort.Ints(addrs)

	out := make([]CallFinding, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, mergeSite(desc, insts[addr], sites[addr]))
	}
	return out
}

// mergeSite joins every visit of one call site. Arguments that differ between
// visits become Unknown, and one unresolved visit makes the site unresolved.
func mergeSite(method string, inst dex.Instruction, visits []vm.Event) CallFinding {
	first := visits[0]
	f := CallFinding{
		Method:     method,
		Address:    first.Address,
		Target:     first.Target,
		Symbol:     first.Target,
		Resolution: first.Resolution,
	}
	if ref, err := dex.ParseMethodReference(first.Target); err == nil {
		f.Symbol = JavaSignature(ref)
		isStatic := dex.IsStaticInvoke(inst.Opcode)
		for i, slot := range dex.ArgumentSlots(ref.ArgumentTypes(isStatic)) {
			if i == MaxArgs {
				break
			}
			column := make([]*vm.RegisterStore, len(visits))
			for j, v := range visits {
				if i < len(v.Args) {
					column[j] = v.Args[i]
				}
			}
			f.Args = append(f.Args, NewParamValue(registerName(inst, slot.Offset), vm.Join(column...)))
		}
	}

	var results []*vm.RegisterStore
	for _, v := range visits {
		if v.Resolution == vm.ResolutionUnresolved {
			f.Resolution = vm.ResolutionUnresolved
		}
		if v.Result != nil {
			results = append(results, v.Result)
		}
	}
	if len(results) > 0 {
		r := NewParamValue("result", vm.Join(results...))
		f.Result = &r
	}
	return f
}

func registerName(inst dex.Instruction, offset int) string {
	if offset < len(inst.Registers) {
		return fmt.Sprintf("r%d", inst.Registers[offset])
	}
	return fmt.Sprintf("arg%d", offset)
}
