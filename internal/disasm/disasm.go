// Package disasm renders method bodies as address-ordered listings, optionally
// annotated with what an execution graph observed at each address.
package disasm

import (
	"fmt"
	"strings"

	"simplify/internal/vm"
)

// Inst is one rendered instruction.
type Inst struct {
	Address int    // code-unit address
	Text    string // handler rendering, e.g. "const/4 r0, 1"
	Op      string // mnemonic
	Comment string // annotation, empty when none
	Visits  int    // contexts recorded at Address
	Dead    bool   // never reached
}

// Stream is a linear sequence of instructions.
type Stream []Inst

// Listing renders every instruction of a built method.
func Listing(ig *vm.InstructionGraph) Stream {
	out := make(Stream, 0, len(ig.Addresses()))
	for _, a := range ig.Addresses() {
		h, ok := ig.Handler(a)
		if !ok {
			continue
		}
		text := h.String()
		op, _, _ := strings.Cut(text, " ")
		out = append(out, Inst{Address: a, Text: text, Op: op})
	}
	return out
}

// Annotate records visit counts from g. Instructions with no recorded context
// are marked dead.
func (s Stream) Annotate(g *vm.ContextGraph) Stream {
	out := make(Stream, len(s))
	for i, inst := range s {
		cs := g.Contexts(inst.Address)
		inst.Visits = len(cs)
		inst.Dead = len(cs) == 0
		if inst.Dead {
			inst.Comment = "dead"
		}
		out[i] = inst
	}
	return out
}

// Comment attaches text to the instruction at address.
func (s Stream) Comment(address int, text string) {
	for i := range s {
		if s[i].Address == address {
			if s[i].Comment != "" {
				s[i].Comment += "; "
			}
			s[i].Comment += text
			return
		}
	}
}

// Lines formats the stream as "address  text  ; comment" lines.
func (s Stream) Lines() []string {
	width := 0
	for _, inst := range s {
		width = max(width, len(inst.Text))
	}
	lines := make([]string, len(s))
	for i, inst := range s {
		line := fmt.Sprintf("%04x  %s", inst.Address, inst.Text)
		if inst.Comment != "" {
			line += strings.Repeat(" ", width-len(inst.Text)) + "  ; " + inst.Comment
		}
		lines[i] = line
	}
	return lines
}

func (s Stream) String() string {
	return strings.Join(s.Lines(), "\n")
}
