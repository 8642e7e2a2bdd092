package vm

import (
	"fmt"
	"sort"

	"github.com/emicklei/dot"
	"github.com/google/go-cmp/cmp"
)

// ContextGraph accumulates the execution states of one method invocation.
// Each node holds the contexts observed after executing the handler at that
// address.
type ContextGraph struct {
	method      string
	root        int
	rootContext *MethodContext
	nodes       map[int][]*MethodContext
	edges       map[int]map[int]int // from -> to -> times traversed
	terminating map[int]bool
	labels      map[int]string
}

// NewContextGraph returns an empty graph rooted at root. terminating lists the
// addresses whose handlers declare no successors.
func NewContextGraph(method string, root int, rootContext *MethodContext, terminating []int) *ContextGraph {
	g := &ContextGraph{
		method:      method,
		root:        root,
		rootContext: rootContext,
		nodes:       map[int][]*MethodContext{},
		edges:       map[int]map[int]int{},
		terminating: make(map[int]bool, len(terminating)),
		labels:      map[int]string{},
	}
	for _, a := range terminating {
		g.terminating[a] = true
	}
	return g
}

func (g *ContextGraph) Method() string { return g.method }
func (g *ContextGraph) Root() int      { return g.root }

// RootContext returns the entry snapshot the execution started from.
func (g *ContextGraph) RootContext() *MethodContext {
	return g.rootContext
}

func (g *ContextGraph) AddEdge(from, to int) {
	m, ok := g.edges[from]
	if !ok {
		m = map[int]int{}
		g.edges[from] = m
	}
	m[to]++
}

func (g *ContextGraph) RecordContext(address int, mctx *MethodContext) {
	g.nodes[address] = append(g.nodes[address], mctx)
}

// SetLabel attaches the handler's trace form to an address for rendering.
func (g *ContextGraph) SetLabel(address int, label string) {
	g.labels[address] = label
}

// Contexts returns every context recorded at address.
func (g *ContextGraph) Contexts(address int) []*MethodContext {
	return g.nodes[address]
}

// Addresses returns the visited addresses in ascending order.
func (g *ContextGraph) Addresses() []int {
	out := make([]int, 0, len(g.nodes))
	for a := range g.nodes {
		out = append(out, a)
	}
	sort.Ints(out)
	return out
}

// NodeCount returns the number of recorded contexts.
func (g *ContextGraph) NodeCount() int {
	n := 0
	for _, cs := range g.nodes {
		n += len(cs)
	}
	return n
}

// Children returns the recorded successors of address in ascending order.
func (g *ContextGraph) Children(address int) []int {
	out := make([]int, 0, len(g.edges[address]))
	for to := range g.edges[address] {
		out = append(out, to)
	}
	sort.Ints(out)
	return out
}

// IsTerminating reports whether the handler at address has no successors.
func (g *ContextGraph) IsTerminating(address int) bool {
	return g.terminating[address]
}

// ConnectedTerminatingAddresses returns, in ascending order, the terminating
// addresses reachable from the root over recorded edges that hold at least one
// context.
func (g *ContextGraph) ConnectedTerminatingAddresses() []int {
	if len(g.nodes[g.root]) == 0 {
		return nil
	}
	seen := map[int]bool{g.root: true}
	queue := []int{g.root}
	var out []int
	for len(queue) > 0 {
		a := queue[0]
		queue = queue[1:]
		if g.terminating[a] && len(g.nodes[a]) > 0 {
			out = append(out, a)
		}
		for to := range g.edges[a] {
			if !seen[to] {
				seen[to] = true
				queue = append(queue, to)
			}
		}
	}
	sort.Ints(out)
	return out
}

// Consensus joins the register across every context recorded at addresses.
// A unanimous concrete value is returned as a copy; any Unknown, unset or
// disagreeing store yields Unknown. It returns nil when addresses is empty.
func (g *ContextGraph) Consensus(addresses []int, register int) *RegisterStore {
	if len(addresses) == 0 {
		return nil
	}

	var stores []*RegisterStore
	missing := false
	for _, a := range addresses {
		cs := g.nodes[a]
		if len(cs) == 0 {
			missing = true
		}
		for _, c := range cs {
			s := c.Peek(register)
			if s == nil {
				missing = true
				continue
			}
			stores = append(stores, s)
		}
	}
	return join(stores, missing)
}

// Join is the flat-lattice join Consensus applies, over stores already
// gathered. Nil stores read as unset.
func Join(stores ...*RegisterStore) *RegisterStore {
	present := make([]*RegisterStore, 0, len(stores))
	for _, s := range stores {
		if s != nil {
			present = append(present, s)
		}
	}
	return join(present, len(present) < len(stores))
}

// join is the flat-lattice join.The result type is the shared type, or the
// least type name on disagreement so the join stays order independent.
func join(stores []*RegisterStore, missing bool) *RegisterStore {
	if len(stores) == 0 {
		return NewUnknownStore("")
	}
	typ := stores[0].Type
	for _, s := range stores[1:] {
		if s.Type < typ {
			typ = s.Type
		}
	}

	first := stores[0]
	known := !missing && !first.IsUnknown()
	for _, s := range stores[1:] {
		if !known {
			break
		}
		if s.Type != first.Type || s.IsUnknown() || !cmp.Equal(first.Value, s.Value) {
			known = false
		}
	}
	if !known {
		return NewUnknownStore(typ)
	}
	return NewRegisterStore(typ, CloneValue(first.Value))
}

// DOT renders the graph in Graphviz format. Terminating nodes are drawn with
// a double border and edges carry their traversal count.
func (g *ContextGraph) DOT() string {
	d := dot.NewGraph(dot.Directed)
	d.Attr("label", g.method)

	nodes := map[int]dot.Node{}
	for _, a := range g.Addresses() {
		label := fmt.Sprintf("%d", a)
		if l, ok := g.labels[a]; ok {
			label = fmt.Sprintf("%d: %s", a, l)
		}
		if n := len(g.nodes[a]); n > 1 {
			label = fmt.Sprintf("%s (x%d)", label, n)
		}
		n := d.Node(fmt.Sprintf("n%d", a)).Attr("label", label).Box()
		if g.terminating[a] {
			n = n.Attr("peripheries", "2")
		}
		nodes[a] = n
	}

	for _, from := range g.Addresses() {
		for _, to := range g.Children(from) {
			n0, ok0 := nodes[from]
			n1, ok1 := nodes[to]
			if !ok0 || !ok1 {
				continue
			}
			d.Edge(n0, n1, fmt.Sprintf("%d", g.edges[from][to]))
		}
	}
	return d.String()
}
