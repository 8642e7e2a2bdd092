package disasm

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"simplify/internal/smali"
	"simplify/internal/vm"
)

const src = `
.class LMain;
.method public static f()I
    .registers 1
    const/4 v0, 0x1
    if-eqz v0, :dead
    return v0
    :dead
    const/4 v0, 0x2
    return v0
.end method
`

func build(t *testing.T) (*vm.InstructionGraph, *vm.ContextGraph) {
	t.Helper()
	methods, err := smali.ParseString(src)
	if err != nil {
		t.Fatal(err)
	}
	machine, err := vm.New(methods, vm.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	ig, err := machine.InstructionGraph("LMain;->f()I")
	if err != nil {
		t.Fatal(err)
	}
	g, err := machine.ExecuteMethod(context.Background(), "LMain;->f()I")
	if err != nil {
		t.Fatal(err)
	}
	return ig, g
}

func TestListing(t *testing.T) {
	ig, g := build(t)
	s := Listing(ig)

	var ops []string
	for _, inst := range s {
		ops = append(ops, inst.Op)
	}
	want := []string{"const/4", "if-eqz", "return", "const/4", "return"}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Errorf("ops mismatch (-want +got):\n%s", diff)
	}

	annotated := s.Annotate(g)
	var dead []bool
	for _, inst := range annotated {
		dead = append(dead, inst.Dead)
	}
	if diff := cmp.Diff([]bool{false, false, false, true, true}, dead); diff != "" {
		t.Errorf("dead mismatch (-want +got):\n%s", diff)
	}
	if s[3].Dead {
		t.Errorf("Annotate modified its receiver")
	}
}

func TestLines(t *testing.T) {
	s := Stream{
		{Address: 0, Text: "nop"},
		{Address: 1, Text: "return-void"},
	}
	s.Comment(0, "first")
	s.Comment(0, "again")
	s.Comment(7, "nowhere")
	want := "0000  nop          ; first; again\n0001  return-void"
	if got := s.String(); got != want {
		t.Errorf("String() =\n%s\nwant\n%s", got, want)
	}
	if strings.Contains(s.String(), "nowhere") {
		t.Errorf("comment for a missing address was kept")
	}
}
