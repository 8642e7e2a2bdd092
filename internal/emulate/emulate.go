// Package emulate simulates library methods whose behavior is known, so that
// calls with fully known arguments can be folded without running them.
package emulate

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"unicode/utf8"

	"github.com/xxtea/xxtea-go/xxtea"

	"simplify/internal/dex"
	"simplify/internal/vm"
)

// StringBuilder is the native state of a java.lang.StringBuilder or
// java.lang.StringBuffer instance.
type StringBuilder struct {
	Text string
}

func (b StringBuilder) String() string { return strconv.Quote(b.Text) }

// Rule emulates one method. It reads the parameters of mctx, writes the
// return value with SetReturnRegister and mutates shared objects in place.
type Rule func(mctx *vm.MethodContext) error

// Table is a vm.Emulator backed by a descriptor to rule map.
type Table struct {
	rules map[string]Rule
}

var _ vm.Emulator = (*Table)(nil)

// New returns a table holding the default rules.
func New() *Table {
	t := &Table{rules: map[string]Rule{}}
	t.Register("Ljava/lang/Object;-><init>()V", func(*vm.MethodContext) error { return nil })
	for _, class := range []string{"Ljava/lang/StringBuilder;", "Ljava/lang/StringBuffer;"} {
		registerBuilder(t, class)
	}
	registerString(t)
	registerXXTEA(t)
	return t
}

// Register adds or replaces the rule for descriptor.
func (t *Table) Register(descriptor string, r Rule) {
	t.rules[descriptor] = r
}

// Descriptors lists the emulated methods in sorted order.
func (t *Table) Descriptors() []string {
	out := make([]string, 0, len(t.rules))
	for d := range t.rules {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (t *Table) CanEmulate(descriptor string) bool {
	_, ok := t.rules[descriptor]
	return ok
}

func (t *Table) Emulate(mctx *vm.MethodContext, descriptor string) error {
	r, ok := t.rules[descriptor]
	if !ok {
		return fmt.Errorf("no emulation rule for %s", descriptor)
	}
	return r(mctx)
}

func registerBuilder(t *Table, class string) {
	self := func(mctx *vm.MethodContext) (*vm.Instance, error) {
		inst, ok := mctx.Parameter(0).Value.(*vm.Instance)
		if !ok || inst == nil {
			return nil, fmt.Errorf("%s receiver is %v", dex.JavaName(class), mctx.Parameter(0))
		}
		return inst, nil
	}
	text := func(inst *vm.Instance) string {
		b, _ := inst.Native.(StringBuilder)
		return b.Text
	}
	appender := func(format func(v any) (string, error)) Rule {
		return func(mctx *vm.MethodContext) error {
			inst, err := self(mctx)
			if err != nil {
				return err
			}
			s, err := format(mctx.Parameter(1).Value)
			if err != nil {
				return err
			}
			inst.Native = StringBuilder{Text: text(inst) + s}
			mctx.SetReturnRegister(vm.NewRegisterStore(class, inst))
			return nil
		}
	}

	t.Register(class+"-><init>()V", func(mctx *vm.MethodContext) error {
		inst, err := self(mctx)
		if err != nil {
			return err
		}
		inst.Native = StringBuilder{}
		return nil
	})
	t.Register(class+"-><init>(Ljava/lang/String;)V", func(mctx *vm.MethodContext) error {
		inst, err := self(mctx)
		if err != nil {
			return err
		}
		s, err := asString(mctx.Parameter(1).Value)
		if err != nil {
			return err
		}
		inst.Native = StringBuilder{Text: s}
		return nil
	})
	t.Register(class+"->append(Ljava/lang/String;)"+class, appender(func(v any) (string, error) {
		if v == nil {
			return "null", nil
		}
		return asString(v)
	}))
	t.Register(class+"->append(I)"+class, appender(func(v any) (string, error) {
		n, err := asInt(v)
		return strconv.FormatInt(int64(n), 10), err
	}))
	t.Register(class+"->append(J)"+class, appender(func(v any) (string, error) {
		n, ok := v.(int64)
		if !ok {
			return "", fmt.Errorf("long argument is %T", v)
		}
		return strconv.FormatInt(n, 10), nil
	}))
	t.Register(class+"->append(C)"+class, appender(func(v any) (string, error) {
		c, err := asChar(v)
		return string(rune(c)), err
	}))
	t.Register(class+"->append(Z)"+class, appender(func(v any) (string, error) {
		b, err := asBool(v)
		return strconv.FormatBool(b), err
	}))
	t.Register(class+"->toString()Ljava/lang/String;", func(mctx *vm.MethodContext) error {
		inst, err := self(mctx)
		if err != nil {
			return err
		}
		mctx.SetReturnRegister(vm.NewRegisterStore(dex.TypeString, text(inst)))
		return nil
	})
	t.Register(class+"->length()I", func(mctx *vm.MethodContext) error {
		inst, err := self(mctx)
		if err != nil {
			return err
		}
		mctx.SetReturnRegister(vm.NewRegisterStore(dex.TypeInt, int32(len(utf16Units(text(inst))))))
		return nil
	})
}

func registerString(t *Table) {
	t.Register("Ljava/lang/String;-><init>([B)V", func(mctx *vm.MethodContext) error {
		b, err := asBytes(mctx.Parameter(1).Value)
		if err != nil {
			return err
		}
		// The receiver is a fresh instance shared with the caller; turning its
		// cell into the string value makes the constructed string visible there.
		recv := mctx.Parameter(0)
		recv.Type, recv.Value = dex.TypeString, string(b)
		return nil
	})
	t.Register("Ljava/lang/String;->getBytes()[B", func(mctx *vm.MethodContext) error {
		s, err := asString(mctx.Parameter(0).Value)
		if err != nil {
			return err
		}
		mctx.SetReturnRegister(vm.NewRegisterStore("[B", vm.NewByteArray([]byte(s))))
		return nil
	})
}

func registerXXTEA(t *Table) {
	const class = "Lorg/xxtea/XXTEA;"
	bytesResult := func(mctx *vm.MethodContext, b []byte) {
		if b == nil {
			mctx.SetReturnRegister(vm.NewRegisterStore("[B", nil))
			return
		}
		mctx.SetReturnRegister(vm.NewRegisterStore("[B", vm.NewByteArray(b)))
	}
	stringResult := func(mctx *vm.MethodContext, b []byte) {
		if b == nil {
			mctx.SetReturnRegister(vm.NewRegisterStore(dex.TypeString, nil))
			return
		}
		mctx.SetReturnRegister(vm.NewRegisterStore(dex.TypeString, string(b)))
	}
	twoArgs := func(mctx *vm.MethodContext) ([]byte, []byte, error) {
		data, err := asBytes(mctx.Parameter(0).Value)
		if err != nil {
			return nil, nil, err
		}
		key, err := asBytes(mctx.Parameter(1).Value)
		if err != nil {
			return nil, nil, err
		}
		return data, key, nil
	}

	for _, sig := range []string{"([B[B)[B", "([BLjava/lang/String;)[B", "(Ljava/lang/String;Ljava/lang/String;)[B"} {
		t.Register(class+"->encrypt"+sig, func(mctx *vm.MethodContext) error {
			data, key, err := twoArgs(mctx)
			if err != nil {
				return err
			}
			bytesResult(mctx, xxtea.Encrypt(data, key))
			return nil
		})
	}
	for _, sig := range []string{"([B[B)[B", "([BLjava/lang/String;)[B"} {
		t.Register(class+"->decrypt"+sig, func(mctx *vm.MethodContext) error {
			data, key, err := twoArgs(mctx)
			if err != nil {
				return err
			}
			bytesResult(mctx, xxtea.Decrypt(data, key))
			return nil
		})
	}
	for _, sig := range []string{"([B[B)Ljava/lang/String;", "([BLjava/lang/String;)Ljava/lang/String;"} {
		t.Register(class+"->decryptToString"+sig, func(mctx *vm.MethodContext) error {
			data, key, err := twoArgs(mctx)
			if err != nil {
				return err
			}
			stringResult(mctx, xxtea.Decrypt(data, key))
			return nil
		})
	}
	t.Register(class+"->encryptToBase64String(Ljava/lang/String;Ljava/lang/String;)Ljava/lang/String;", func(mctx *vm.MethodContext) error {
		data, key, err := twoArgs(mctx)
		if err != nil {
			return err
		}
		mctx.SetReturnRegister(vm.NewRegisterStore(dex.TypeString, base64.StdEncoding.EncodeToString(xxtea.Encrypt(data, key))))
		return nil
	})
	t.Register(class+"->decryptBase64StringToString(Ljava/lang/String;Ljava/lang/String;)Ljava/lang/String;", func(mctx *vm.MethodContext) error {
		data, key, err := twoArgs(mctx)
		if err != nil {
			return err
		}
		raw, err := base64.StdEncoding.DecodeString(string(data))
		if err != nil {
			// The Java library returns null for undecodable input.
			stringResult(mctx, nil)
			return nil
		}
		stringResult(mctx, xxtea.Decrypt(raw, key))
		return nil
	})
}

func asBytes(v any) ([]byte, error) {
	switch x := v.(type) {
	case string:
		return []byte(x), nil
	case *vm.Array:
		if x == nil {
			return nil, fmt.Errorf("null array")
		}
		return x.Bytes()
	}
	return nil, fmt.Errorf("expected bytes, got %s", vm.FormatValue(v))
}

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %s", vm.FormatValue(v))
	}
	return s, nil
}

func asInt(v any) (int32, error) {
	switch x := v.(type) {
	case int32:
		return x, nil
	case int16:
		return int32(x), nil
	case int8:
		return int32(x), nil
	case uint16:
		return int32(x), nil
	}
	return 0, fmt.Errorf("expected int, got %s", vm.FormatValue(v))
}

// Narrow literals are stored as int, so char and boolean accept them too.
func asChar(v any) (uint16, error) {
	n, err := asInt(v)
	return uint16(n), err
}

func asBool(v any) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	n, err := asInt(v)
	return n != 0, err
}

func utf16Units(s string) []uint16 {
	out := make([]uint16, 0, utf8.RuneCountInString(s))
	for _, r := range s {
		if r >= 0x10000 {
			r -= 0x10000
			out = append(out, uint16(0xd800+(r>>10)), uint16(0xdc00+(r&0x3ff)))
			continue
		}
		out = append(out, uint16(r))
	}
	return out
}
