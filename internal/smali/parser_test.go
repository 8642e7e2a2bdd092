package smali

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"simplify/internal/dex"
)

const sample = `
.class public Lcom/example/Foo;
.super Ljava/lang/Object;
.source "Foo.java"

# instance field with an annotation block
.field private name:Ljava/lang/String;
    .annotation runtime Lcom/example/Keep;
    .end annotation
.end field

.method public constructor <init>()V
    .registers 1
    invoke-direct {p0}, Ljava/lang/Object;-><init>()V
    return-void
.end method

.method public static pick(IJ)Ljava/lang/String;
    .locals 2
    .param p0, "n"    # I
    .prologue
    .line 10
    if-eqz p0, :zero
    const-string v0, "non-zero, \"quoted\" # not a comment"
    return-object v0

    :zero
    const/4 v1, -0x1
    const-wide v0, 0x100000000L
    invoke-static/range {v0 .. v1}, Lcom/example/Foo;->wide(J)V
    goto :end

    :end
    const-string v0, "zero"
    return-object v0
.end method

.method public abstract nothing()V
.end method

.method public sw(I)I
    .registers 3
    packed-switch p1, :pswitch_data
    sparse-switch p1, :sswitch_data
    const/4 v0, 0x0
    return v0

    :a
    const/16 v0, 0x7f
    return v0

    :b
    iget v0, p0, Lcom/example/Foo;->count:I
    return v0

    :pswitch_data
    .packed-switch 0x1
        :a
        :b
    .end packed-switch

    :sswitch_data
    .sparse-switch
        -0x5 -> :b
        0x64 -> :a
    .end sparse-switch
.end method
`

func TestParse(t *testing.T) {
	methods, err := ParseString(sample)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}

	var descs []string
	for _, m := range methods {
		descs = append(descs, m.Descriptor())
	}
	want := []string{
		"Lcom/example/Foo;-><init>()V",
		"Lcom/example/Foo;->pick(IJ)Ljava/lang/String;",
		"Lcom/example/Foo;->sw(I)I",
	}
	if diff := cmp.Diff(want, descs); diff != "" {
		t.Fatalf("methods mismatch (-want +got):\n%s", diff)
	}

	init, pick, sw := methods[0], methods[1], methods[2]
	if init.Static || init.RegisterCount != 1 {
		t.Errorf("<init>: static=%v registers=%d", init.Static, init.RegisterCount)
	}
	if !pick.Static || pick.RegisterCount != 5 {
		t.Errorf("pick: static=%v registers=%d, want static with 5", pick.Static, pick.RegisterCount)
	}

	wantPick := []dex.Instruction{
		{Address: 0, Opcode: "if-eqz", Registers: []int{2}, Targets: []int{5}},
		{Address: 2, Opcode: "const-string", Registers: []int{0}, Literal: `non-zero, "quoted" # not a comment`},
		{Address: 4, Opcode: "return-object", Registers: []int{0}},
		{Address: 5, Opcode: "const/4", Registers: []int{1}, Literal: int64(-1)},
		{Address: 6, Opcode: "const-wide", Registers: []int{0}, Literal: int64(0x100000000)},
		{Address: 11, Opcode: "invoke-static/range", Registers: []int{0, 1}, Method: &dex.MethodReference{
			DefiningClass: "Lcom/example/Foo;", Name: "wide", ParameterTypes: []string{"J"}, ReturnType: "V",
		}},
		{Address: 14, Opcode: "goto", Targets: []int{15}},
		{Address: 15, Opcode: "const-string", Registers: []int{0}, Literal: "zero"},
		{Address: 17, Opcode: "return-object", Registers: []int{0}},
	}
	if diff := cmp.Diff(wantPick, pick.Instructions); diff != "" {
		t.Errorf("pick instructions mismatch (-want +got):\n%s", diff)
	}

	wantSw := []dex.Instruction{
		{Address: 0, Opcode: "packed-switch", Registers: []int{2}, Keys: []int32{1, 2}, Targets: []int{8, 11}},
		{Address: 3, Opcode: "sparse-switch", Registers: []int{2}, Keys: []int32{-5, 100}, Targets: []int{11, 8}},
		{Address: 6, Opcode: "const/4", Registers: []int{0}, Literal: int64(0)},
		{Address: 7, Opcode: "return", Registers: []int{0}},
		{Address: 8, Opcode: "const/16", Registers: []int{0}, Literal: int64(0x7f)},
		{Address: 10, Opcode: "return", Registers: []int{0}},
		{Address: 11, Opcode: "iget", Registers: []int{0, 1}, Field: "Lcom/example/Foo;->count:I", Type: "I"},
		{Address: 13, Opcode: "return", Registers: []int{0}},
	}
	if diff := cmp.Diff(wantSw, sw.Instructions); diff != "" {
		t.Errorf("sw instructions mismatch (-want +got):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"method before class", ".method public static f()V\n.registers 1\nreturn-void\n.end method"},
		{"unknown opcode", ".class LFoo;\n.method static f()V\n.registers 1\nfrobnicate v0\n.end method"},
		{"undefined label", ".class LFoo;\n.method static f()V\n.registers 1\ngoto :nowhere\n.end method"},
		{"register out of range", ".class LFoo;\n.method static f()V\n.registers 1\nconst/4 v1, 0x1\nreturn-void\n.end method"},
		{"parameter out of range", ".class LFoo;\n.method static f(I)V\n.registers 1\nconst/4 p1, 0x1\nreturn-void\n.end method"},
		{"missing size", ".class LFoo;\n.method static f()V\nreturn-void\n.end method"},
		{"too few registers", ".class LFoo;\n.method f(J)V\n.registers 2\nreturn-void\n.end method"},
		{"unterminated method", ".class LFoo;\n.method static f()V\n.registers 1\nreturn-void\n"},
		{"bad literal", ".class LFoo;\n.method static f()V\n.registers 1\nconst/4 v0, 0xZZ\nreturn-void\n.end method"},
		{"unknown directive", ".class LFoo;\n.bogus\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseString(tt.src)
			if err == nil {
				t.Fatalf("ParseString succeeded, want error")
			}
			if tt.name != "unterminated method" && !errors.Is(err, ErrSyntax) {
				t.Errorf("error %v does not wrap ErrSyntax", err)
			}
		})
	}
}

func TestParseFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "A.smali")
	b := filepath.Join(dir, "B.smali")
	if err := os.WriteFile(a, []byte(".class LA;\n.method static f()V\n.registers 1\nreturn-void\n.end method\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte(".class LB;\n.method static g()I\n.registers 1\nconst/4 v0, 0x2\nreturn v0\n.end method\n"), 0644); err != nil {
		t.Fatal(err)
	}

	methods, err := ParseFiles(a, b)
	if err != nil {
		t.Fatalf("ParseFiles: %v", err)
	}
	if len(methods) != 2 || methods[0].Descriptor() != "LA;->f()V" || methods[1].Descriptor() != "LB;->g()I" {
		t.Errorf("unexpected methods %v", methods)
	}

	if _, err := ParseFiles(filepath.Join(dir, "missing.smali")); err == nil {
		t.Errorf("ParseFiles on a missing file succeeded")
	}
}

func TestParseInt(t *testing.T) {
	tests := map[string]int64{
		"0x1":                 1,
		"-0x1":                -1,
		"10":                  10,
		"0x7fL":               127,
		"0xffffffffffffffffL": -1,
		"-0x80t":              -128,
		"0x10s":               16,
	}
	for in, want := range tests {
		got, err := parseInt(in)
		if err != nil || got != want {
			t.Errorf("parseInt(%q) = %d, %v; want %d", in, got, err, want)
		}
	}
}
