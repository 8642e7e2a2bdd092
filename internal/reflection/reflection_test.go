package reflection

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"simplify/internal/dex"
	"simplify/internal/smali"
	"simplify/internal/vm"
)

func str(s string) *vm.RegisterStore { return vm.NewRegisterStore(dex.TypeString, s) }
func num(n int32) *vm.RegisterStore  { return vm.NewRegisterStore(dex.TypeInt, n) }

func invoke(t *testing.T, desc string, isStatic bool, args ...*vm.RegisterStore) (*vm.RegisterStore, error) {
	t.Helper()
	ref, err := dex.ParseMethodReference(desc)
	if err != nil {
		t.Fatal(err)
	}
	slots := dex.ArgumentSlots(ref.ArgumentTypes(isStatic))
	if len(slots) != len(args) {
		t.Fatalf("%s takes %d arguments, got %d", desc, len(slots), len(args))
	}
	n := dex.SlotCount(ref.ArgumentTypes(isStatic))
	mctx := vm.NewMethodContext(n, n, 0)
	for i, slot := range slots {
		mctx.SetParameter(slot.Offset, args[i])
	}

	r := New()
	if !r.CanReflect(desc) {
		t.Fatalf("%s is not whitelisted", desc)
	}
	err = r.Bind(ref, isStatic).Reflect(mctx)
	return mctx.ReturnValue(), err
}

func TestReflect(t *testing.T) {
	tests := []struct {
		name     string
		desc     string
		isStatic bool
		args     []*vm.RegisterStore
		want     *vm.RegisterStore
	}{
		{"parseInt", "Ljava/lang/Integer;->parseInt(Ljava/lang/String;)I", true, []*vm.RegisterStore{str("-42")}, num(-42)},
		{"parseInt radix", "Ljava/lang/Integer;->parseInt(Ljava/lang/String;I)I", true, []*vm.RegisterStore{str("ff"), num(16)}, num(255)},
		{"toHexString", "Ljava/lang/Integer;->toHexString(I)Ljava/lang/String;", true, []*vm.RegisterStore{num(-1)}, str("ffffffff")},
		{"max long", "Ljava/lang/Math;->max(JJ)J", true,
			[]*vm.RegisterStore{vm.NewRegisterStore("J", int64(3)), vm.NewRegisterStore("J", int64(9))},
			vm.NewRegisterStore("J", int64(9))},
		{"abs min int", "Ljava/lang/Math;->abs(I)I", true, []*vm.RegisterStore{num(-2147483648)}, num(-2147483648)},
		{"floorMod", "Ljava/lang/Math;->floorMod(II)I", true, []*vm.RegisterStore{num(-7), num(3)}, num(2)},
		{"length utf16", "Ljava/lang/String;->length()I", false, []*vm.RegisterStore{str("a\U0001F600")}, num(3)},
		{"charAt", "Ljava/lang/String;->charAt(I)C", false, []*vm.RegisterStore{str("xyz"), num(1)}, vm.NewRegisterStore("C", uint16('y'))},
		{"substring", "Ljava/lang/String;->substring(II)Ljava/lang/String;", false, []*vm.RegisterStore{str("hello"), num(1), num(3)}, str("el")},
		{"indexOf", "Ljava/lang/String;->indexOf(Ljava/lang/String;)I", false, []*vm.RegisterStore{str("\U0001F600ab"), str("b")}, num(3)},
		{"equals other type", "Ljava/lang/String;->equals(Ljava/lang/Object;)Z", false,
			[]*vm.RegisterStore{str("1"), num(1)}, vm.NewRegisterStore("Z", false)},
		{"equals", "Ljava/lang/String;->equals(Ljava/lang/Object;)Z", false,
			[]*vm.RegisterStore{str("ab"), str("ab")}, vm.NewRegisterStore("Z", true)},
		{"trim", "Ljava/lang/String;->trim()Ljava/lang/String;", false, []*vm.RegisterStore{str("\t x \n")}, str("x")},
		{"hashCode", "Ljava/lang/String;->hashCode()I", false, []*vm.RegisterStore{str("hello")}, num(99162322)},
		{"valueOf bool literal", "Ljava/lang/String;->valueOf(Z)Ljava/lang/String;", true, []*vm.RegisterStore{num(1)}, str("true")},
		{"base64 decode", "Landroid/util/Base64;->decode(Ljava/lang/String;I)[B", true,
			[]*vm.RegisterStore{str("aGk=\n"), num(0)}, vm.NewRegisterStore("[B", vm.NewByteArray([]byte("hi")))},
		{"base64 url", "Landroid/util/Base64;->decode(Ljava/lang/String;I)[B", true,
			[]*vm.RegisterStore{str("-_8"), num(base64URLSafe)}, vm.NewRegisterStore("[B", vm.NewByteArray([]byte{0xfb, 0xff}))},
		{"base64 encode", "Landroid/util/Base64;->encodeToString([BI)Ljava/lang/String;", true,
			[]*vm.RegisterStore{vm.NewRegisterStore("[B", vm.NewByteArray([]byte("hi"))), num(0)}, str("aGk=\n")},
		{"base64 encode no wrap", "Landroid/util/Base64;->encodeToString([BI)Ljava/lang/String;", true,
			[]*vm.RegisterStore{vm.NewRegisterStore("[B", vm.NewByteArray([]byte("hi"))), num(base64NoWrap | base64NoPadding)}, str("aGk")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := invoke(t, tt.desc, tt.isStatic, tt.args...)
			if err != nil {
				t.Fatalf("Reflect: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("result mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReflectThrows(t *testing.T) {
	tests := []struct {
		name      string
		desc      string
		isStatic  bool
		args      []*vm.RegisterStore
		exception string
	}{
		{"bad number", "Ljava/lang/Integer;->parseInt(Ljava/lang/String;)I", true, []*vm.RegisterStore{str("12x")}, numberFormat},
		{"overflow", "Ljava/lang/Integer;->parseInt(Ljava/lang/String;)I", true, []*vm.RegisterStore{str("2147483648")}, numberFormat},
		{"bad radix", "Ljava/lang/Integer;->parseInt(Ljava/lang/String;I)I", true, []*vm.RegisterStore{str("1"), num(99)}, numberFormat},
		{"index", "Ljava/lang/String;->charAt(I)C", false, []*vm.RegisterStore{str("a"), num(4)}, indexOutOfBounds},
		{"null receiver", "Ljava/lang/String;->length()I", false, []*vm.RegisterStore{vm.NewRegisterStore(dex.TypeString, nil)}, "java.lang.NullPointerException"},
		{"bad base64", "Landroid/util/Base64;->decode(Ljava/lang/String;I)[B", true, []*vm.RegisterStore{str("***"), num(0)}, illegalArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := invoke(t, tt.desc, tt.isStatic, tt.args...)
			var te *vm.TargetError
			if !errors.As(err, &te) {
				t.Fatalf("Reflect error = %v, want *vm.TargetError", err)
			}
			if te.Exception != tt.exception {
				t.Errorf("exception = %s, want %s", te.Exception, tt.exception)
			}
		})
	}
}

func TestReflectPlumbingErrors(t *testing.T) {
	// A value of the wrong kind is a failure to call, not a thrown exception.
	_, err := invoke(t, "Ljava/lang/Integer;->toString(I)Ljava/lang/String;", true, str("1"))
	var te *vm.TargetError
	if err == nil || errors.As(err, &te) {
		t.Errorf("Reflect error = %v, want a plain error", err)
	}

	ref, _ := dex.ParseMethodReference("LFoo;->bar()V")
	if err := New().Bind(ref, true).Reflect(vm.NewMethodContext(0, 0, 0)); err == nil {
		t.Errorf("Reflect on a method that is not whitelisted succeeded")
	}
}

func TestRegister(t *testing.T) {
	r := New()
	tests := []struct {
		name string
		desc string
		fn   any
		ok   bool
	}{
		{"plain", "LFoo;->twice(I)I", func(n int32) int32 { return 2 * n }, true},
		{"with error", "LFoo;->check(I)V", func(n int32) error { return nil }, true},
		{"receiver", "LFoo;->size()I", func(s string) int32 { return 0 }, true},
		{"not a function", "LFoo;->x()I", 3, false},
		{"arity", "LFoo;->y(II)I", func() int32 { return 0 }, false},
		{"void mismatch", "LFoo;->z()V", func() int32 { return 0 }, false},
		{"bad descriptor", "Foo.bar", func() {}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.desc, tt.fn)
			if (err == nil) != tt.ok {
				t.Errorf("Register(%s) error = %v, want ok=%v", tt.desc, err, tt.ok)
			}
			if tt.ok && !r.CanReflect(tt.desc) {
				t.Errorf("CanReflect(%s) = false after Register", tt.desc)
			}
		})
	}
}

func TestReflectionThroughVM(t *testing.T) {
	const src = `
.class LMain;
.method public static decode()I
    .registers 2
    const-string v0, "0x1f"
    const/4 v1, 0x2
    invoke-virtual {v0, v1}, Ljava/lang/String;->substring(I)Ljava/lang/String;
    move-result-object v0
    const/16 v1, 0x10
    invoke-static {v0, v1}, Ljava/lang/Integer;->parseInt(Ljava/lang/String;I)I
    move-result v0
    return v0
.end method

.method public static broken()I
    .registers 1
    const-string v0, "nope"
    invoke-static {v0}, Ljava/lang/Integer;->parseInt(Ljava/lang/String;)I
    move-result v0
    return v0
.end method
`
	methods, err := smali.ParseString(src)
	if err != nil {
		t.Fatal(err)
	}
	events := &vm.Recorder{}
	machine, err := vm.New(methods, vm.DefaultOptions(), vm.WithReflector(New()), vm.WithSink(events))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		desc       string
		want       *vm.RegisterStore
		unresolved int
	}{
		{"LMain;->decode()I", num(31), 0},
		{"LMain;->broken()I", vm.NewUnknownStore("I"), 1},
	}
	for _, tt := range tests {
		events.Reset()
		g, err := machine.ExecuteMethod(context.Background(), tt.desc)
		if err != nil {
			t.Fatalf("%s: ExecuteMethod: %v", tt.desc, err)
		}
		got := g.Consensus(g.ConnectedTerminatingAddresses(), vm.ReturnRegister)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("%s: result mismatch (-want +got):\n%s", tt.desc, diff)
		}
		if n := len(events.Filter(vm.EventUnresolvedCall)); n != tt.unresolved {
			t.Errorf("%s: %d unresolved calls, want %d", tt.desc, n, tt.unresolved)
		}
	}
}
