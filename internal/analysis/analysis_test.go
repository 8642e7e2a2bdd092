package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"simplify/internal/dex"
	"simplify/internal/smali"
	"simplify/internal/vm"
)

const source = `
.class LMain;
.method public static key()Ljava/lang/String;
    .registers 2
    const-string v0, "se"
    const-string v1, "cret"
    invoke-virtual {v0, v1}, Ljava/lang/String;->concat(Ljava/lang/String;)Ljava/lang/String;
    move-result-object v0
    return-object v0
.end method

.method public static pick(I)V
    .registers 2
    if-eqz v1, :b
    const-string v0, "a"
    goto :call
    :b
    const-string v0, "b"
    :call
    invoke-static {v0}, LSink;->use(Ljava/lang/String;)V
    return-void
.end method

.method public static same(I)V
    .registers 2
    if-eqz v1, :b
    const-string v0, "k"
    goto :call
    :b
    const-string v0, "k"
    :call
    invoke-static {v0}, Lorg/cocos2dx/lib/Cocos2dxHelper;->setXXTeaKey(Ljava/lang/String;)V
    return-void
.end method

.method public static spin(I)V
    .registers 1
    :top
    if-eqz v0, :out
    goto :top
    :out
    return-void
.end method
`

func newAnalyzer(t *testing.T, opts vm.Options, detectors ...Detector) *Analyzer {
	t.Helper()
	methods, err := smali.ParseString(source)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	a, err := New(methods, opts, nil, detectors...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

var ignoreValue = cmpopts.IgnoreFields(ParamValue{}, "Value")

func TestAnalyze(t *testing.T) {
	a := newAnalyzer(t, vm.DefaultOptions())
	res, err := a.Analyze(context.Background(), "LMain;->key()Ljava/lang/String;")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !res.Simplified() || res.Degraded != 0 {
		t.Fatalf("Analyze = %+v, want a clean run", res)
	}

	wantReturn := &ParamValue{Reg: "return", Type: dex.TypeString, Known: true, Text: `"secret"`}
	if diff := cmp.Diff(wantReturn, res.Return, ignoreValue); diff != "" {
		t.Errorf("return mismatch (-want +got):\n%s", diff)
	}
	wantRegs := []ParamValue{
		{Reg: "r0", Type: dex.TypeString, Known: true, Text: `"secret"`},
		{Reg: "r1", Type: dex.TypeString, Known: true, Text: `"cret"`},
	}
	if diff := cmp.Diff(wantRegs, res.Registers, ignoreValue); diff != "" {
		t.Errorf("registers mismatch (-want +got):\n%s", diff)
	}

	if len(res.Findings) != 1 {
		t.Fatalf("got %d findings, want 1", len(res.Findings))
	}
	f := res.Findings[0]
	want := CallFinding{
		Method:     "LMain;->key()Ljava/lang/String;",
		Address:    f.Address,
		Target:     "Ljava/lang/String;->concat(Ljava/lang/String;)Ljava/lang/String;",
		Symbol:     "java.lang.String.concat(java.lang.String)",
		Resolution: vm.ResolutionReflected,
		Args: []ParamValue{
			{Reg: "r0", Type: dex.TypeString, Known: true, Text: `"se"`},
			{Reg: "r1", Type: dex.TypeString, Known: true, Text: `"cret"`},
		},
		Result: &ParamValue{Reg: "result", Type: dex.TypeString, Known: true, Text: `"secret"`},
	}
	if diff := cmp.Diff(want, f, ignoreValue); diff != "" {
		t.Errorf("finding mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyzeMergesVisits(t *testing.T) {
	tests := []struct {
		desc       string
		known      bool
		text       string
		resolution vm.Resolution
	}{
		{"LMain;->pick(I)V", false, "Unknown", vm.ResolutionUnresolved},
		{"LMain;->same(I)V", true, `"k"`, vm.ResolutionUnresolved},
	}
	a := newAnalyzer(t, vm.DefaultOptions())
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			res, err := a.Analyze(context.Background(), tt.desc)
			if err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			if res.Return != nil {
				t.Errorf("void method has return %v", res.Return)
			}
			if len(res.Findings) != 1 {
				t.Fatalf("got %d findings, want one per call site", len(res.Findings))
			}
			f := res.Findings[0]
			if f.Resolution != tt.resolution {
				t.Errorf("resolution = %s, want %s", f.Resolution, tt.resolution)
			}
			if len(f.Args) != 1 || f.Args[0].Known != tt.known || f.Args[0].Text != tt.text {
				t.Errorf("args = %+v, want known=%v %s", f.Args, tt.known, tt.text)
			}
			if res.Degraded != 2 {
				t.Errorf("degraded = %d, want 2 unresolved visits", res.Degraded)
			}
		})
	}
}

func TestAnalyzeExhausted(t *testing.T) {
	opts := vm.DefaultOptions()
	opts.MaxAddressVisits = 5
	a := newAnalyzer(t, opts)

	res, err := a.Analyze(context.Background(), "LMain;->spin(I)V")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !res.Exhausted || res.Simplified() || res.Graph != nil {
		t.Errorf("Analyze = %+v, want an exhausted result without a graph", res)
	}
	if res.Degraded == 0 {
		t.Errorf("exhaustion was not counted as degraded")
	}
}

func TestAnalyzeErrors(t *testing.T) {
	a := newAnalyzer(t, vm.DefaultOptions())
	if _, err := a.Analyze(context.Background(), "LNope;->x()V"); !errors.Is(err, vm.ErrMethodNotDefined) {
		t.Errorf("Analyze(undefined) error = %v, want ErrMethodNotDefined", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Analyze(ctx, "LMain;->key()Ljava/lang/String;"); !errors.Is(err, context.Canceled) {
		t.Errorf("Analyze(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestAnalyzeAll(t *testing.T) {
	tag := DetectorFunc(func(fs []CallFinding) []CallFinding {
		for i := range fs {
			fs[i].Comment = "seen"
		}
		return fs
	})
	a := newAnalyzer(t, vm.DefaultOptions(), tag)

	report, err := a.AnalyzeAll(context.Background(), func(desc string) bool {
		return !strings.Contains(desc, "spin")
	})
	if err != nil {
		t.Fatalf("AnalyzeAll: %v", err)
	}
	var got []string
	for _, m := range report.Methods {
		got = append(got, m.Method)
	}
	want := []string{"LMain;->key()Ljava/lang/String;", "LMain;->pick(I)V", "LMain;->same(I)V"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("methods mismatch (-want +got):\n%s", diff)
	}
	if len(report.Findings) != 3 {
		t.Fatalf("got %d findings, want 3", len(report.Findings))
	}
	for _, f := range report.Findings {
		if f.Comment != "seen" {
			t.Errorf("finding %s@%d skipped the detector chain", f.Method, f.Address)
		}
	}
}

func TestNewParamValue(t *testing.T) {
	long := strings.Repeat("x", MaxStringLength+10)
	tests := []struct {
		name  string
		store *vm.RegisterStore
		want  ParamValue
	}{
		{"nil", nil, ParamValue{Reg: "r0", Text: "Unknown"}},
		{"unknown", vm.NewUnknownStore("I"), ParamValue{Reg: "r0", Type: "I", Text: "Unknown"}},
		{"int", vm.NewRegisterStore("I", int32(7)), ParamValue{Reg: "r0", Type: "I", Known: true, Text: "7"}},
		{"escaped", vm.NewRegisterStore(dex.TypeString, "a\x01"), ParamValue{Reg: "r0", Type: dex.TypeString, Known: true, Text: `"a\u0001"`}},
		{"truncated", vm.NewRegisterStore(dex.TypeString, long), ParamValue{Reg: "r0", Type: dex.TypeString, Known: true, Text: `"` + long[:MaxStringLength] + `..."`}},
		{"bytes", vm.NewRegisterStore("[B", vm.NewByteArray([]byte{'k', 0xff})),
			ParamValue{Reg: "r0", Type: "[B", Known: true, Text: `byte[]"k\xFF"`, Hex: "6bff"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewParamValue("r0", tt.store)
			if diff := cmp.Diff(tt.want, got, ignoreValue); diff != "" {
				t.Errorf("NewParamValue mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParamValueAccessors(t *testing.T) {
	p := NewParamValue("r1", vm.NewRegisterStore("[B", vm.NewByteArray([]byte("hi"))))
	if b, ok := p.Bytes(); !ok || string(b) != "hi" {
		t.Errorf("Bytes() = %q, %v", b, ok)
	}
	if _, ok := p.StringValue(); ok {
		t.Errorf("String() on byte[] succeeded")
	}
	s := NewParamValue("r2", vm.NewRegisterStore(dex.TypeString, "key"))
	if v, ok := s.StringValue(); !ok || v != "key" {
		t.Errorf("String() = %q, %v", v, ok)
	}
	if _, ok := NewParamValue("r3", vm.NewUnknownStore(dex.TypeString)).Bytes(); ok {
		t.Errorf("Bytes() on Unknown succeeded")
	}
}
