// Package reflection performs real calls to side-effect free library methods.
// Each whitelisted Java method is backed by a Go function with the same
// semantics; arguments and results are converted between register values and
// Go values with the reflect package.
package reflection

import (
	"errors"
	"fmt"
	"reflect"
	"sort"

	"simplify/internal/dex"
	"simplify/internal/vm"
)

// Exception is a Java exception raised by a target function.
type Exception struct {
	Class   string
	Message string
}

func (e *Exception) Error() string {
	if e.Message == "" {
		return e.Class
	}
	return e.Class + ": " + e.Message
}

func throw(class, format string, args ...any) error {
	return &Exception{Class: class, Message: fmt.Sprintf(format, args...)}
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Registry is a vm.Reflector over registered Go functions.
type Registry struct {
	funcs map[string]reflect.Value
}

var _ vm.Reflector = (*Registry)(nil)

// New returns a registry holding the default whitelist.
func New() *Registry {
	r := &Registry{funcs: map[string]reflect.Value{}}
	for desc, fn := range builtins {
		r.MustRegister(desc, fn)
	}
	return r
}

// Register binds descriptor to fn. fn takes one Go argument per Java
// argument, receiver first, and returns the result, optionally followed by
// an error. A returned *Exception is reported as thrown by the target.
func (r *Registry) Register(descriptor string, fn any) error {
	ref, err := dex.ParseMethodReference(descriptor)
	if err != nil {
		return err
	}
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return fmt.Errorf("%s: %T is not a function", descriptor, fn)
	}
	want := len(ref.ParameterTypes)
	if t.NumIn() != want && t.NumIn() != want+1 {
		return fmt.Errorf("%s: function takes %d arguments", descriptor, t.NumIn())
	}
	results := t.NumOut()
	if results > 0 && t.Out(results-1) == errorType {
		results--
	}
	if results > 1 || (results == 0) != ref.ReturnsVoid() {
		return fmt.Errorf("%s: unsupported result signature %s", descriptor, t)
	}
	r.funcs[descriptor] = v
	return nil
}

func (r *Registry) MustRegister(descriptor string, fn any) {
	if err := r.Register(descriptor, fn); err != nil {
		panic(err)
	}
}

// Descriptors lists the whitelisted methods in sorted order.
func (r *Registry) Descriptors() []string {
	out := make([]string, 0, len(r.funcs))
	for d := range r.funcs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) CanReflect(descriptor string) bool {
	_, ok := r.funcs[descriptor]
	return ok
}

func (r *Registry) Bind(method dex.MethodReference, isStatic bool) vm.Reflection {
	return &call{
		fn:     r.funcs[method.Descriptor()],
		method: method,
		slots:  dex.ArgumentSlots(method.ArgumentTypes(isStatic)),
	}
}

type call struct {
	fn     reflect.Value
	method dex.MethodReference
	slots  []dex.ArgumentSlot
}

func (c *call) Reflect(mctx *vm.MethodContext) error {
	if !c.fn.IsValid() {
		return fmt.Errorf("%s is not whitelisted", c.method.Descriptor())
	}
	t := c.fn.Type()
	if len(c.slots) != t.NumIn() {
		return fmt.Errorf("%s: %d arguments for a %d argument function", c.method.Descriptor(), len(c.slots), t.NumIn())
	}

	in := make([]reflect.Value, len(c.slots))
	for i, slot := range c.slots {
		s := mctx.Parameter(slot.Offset)
		if s == nil {
			return fmt.Errorf("argument %d of %s is missing", i, c.method.Descriptor())
		}
		v, err := toGo(s.Value, t.In(i))
		if err != nil {
			var e *Exception
			if errors.As(err, &e) {
				return &vm.TargetError{Exception: e.Class, Err: e}
			}
			return fmt.Errorf("argument %d of %s: %w", i, c.method.Descriptor(), err)
		}
		in[i] = v
	}

	out := c.fn.Call(in)
	if n := len(out); n > 0 && t.Out(n-1) == errorType {
		if err, _ := out[n-1].Interface().(error); err != nil {
			var e *Exception
			if errors.As(err, &e) {
				return &vm.TargetError{Exception: e.Class, Err: e}
			}
			return err
		}
		out = out[:n-1]
	}
	if c.method.ReturnsVoid() || len(out) == 0 {
		return nil
	}
	v, err := fromGo(out[0], c.method.ReturnType)
	if err != nil {
		return fmt.Errorf("result of %s: %w", c.method.Descriptor(), err)
	}
	mctx.SetReturnRegister(vm.NewRegisterStore(c.method.ReturnType, v))
	return nil
}

// toGo converts a register value to the parameter type of a target. Null
// reaching a non-nullable parameter throws as the JVM would.
func toGo(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		switch t.Kind() {
		case reflect.Slice, reflect.Ptr, reflect.Interface, reflect.Map:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, throw("java.lang.NullPointerException", "")
	}
	if a, ok := v.(*vm.Array); ok && t == reflect.TypeOf([]byte(nil)) {
		b, err := a.Bytes()
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(b), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type() == t || (t.Kind() == reflect.Interface && rv.Type().Implements(t)) {
		return rv, nil
	}
	// Narrow literals are stored as int.
	switch t.Kind() {
	case reflect.Bool:
		if n, ok := v.(int32); ok {
			return reflect.ValueOf(n != 0), nil
		}
	case reflect.Int8, reflect.Int16, reflect.Uint16, reflect.Int32, reflect.Int64, reflect.Float32, reflect.Float64:
		if rv.Type().ConvertibleTo(t) && rv.Kind() != reflect.String && rv.Kind() != reflect.Bool {
			return rv.Convert(t), nil
		}
	}
	return reflect.Value{}, fmt.Errorf("cannot pass %s as %s", vm.FormatValue(v), t)
}

// fromGo converts a target result to the canonical value for typ.
func fromGo(v reflect.Value, typ string) (any, error) {
	if b, ok := v.Interface().([]byte); ok && typ == "[B" {
		if b == nil {
			return nil, nil
		}
		return vm.NewByteArray(b), nil
	}
	var want reflect.Type
	switch typ {
	case dex.TypeInt:
		want = reflect.TypeOf(int32(0))
	case dex.TypeLong:
		want = reflect.TypeOf(int64(0))
	case dex.TypeBoolean:
		want = reflect.TypeOf(false)
	case dex.TypeByte:
		want = reflect.TypeOf(int8(0))
	case dex.TypeShort:
		want = reflect.TypeOf(int16(0))
	case dex.TypeChar:
		want = reflect.TypeOf(uint16(0))
	case dex.TypeFloat:
		want = reflect.TypeOf(float32(0))
	case dex.TypeDouble:
		want = reflect.TypeOf(float64(0))
	case dex.TypeString:
		want = reflect.TypeOf("")
	default:
		return v.Interface(), nil
	}
	if v.Type() == want {
		return v.Interface(), nil
	}
	if v.Type().ConvertibleTo(want) && v.Kind() != reflect.String {
		return v.Convert(want).Interface(), nil
	}
	return nil, fmt.Errorf("%s does not fit %s", v.Type(), typ)
}
