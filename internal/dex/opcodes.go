// Package dex defines the decoded Dalvik instruction model consumed by the
// simplification engine: opcode categories, instructions, method references
// and type descriptor helpers.
package dex

import "strings"

// Category groups opcodes that share one handler implementation.
type Category int

const (
	Invalid Category = iota

	Nop
	Const
	Move
	MoveResult
	Return
	ReturnVoid
	Throw
	Goto
	Switch
	If
	IfZ
	NewInstance
	Invoke
	Other // no dedicated handler; executed by the degrading fallback
)

func (c Category) String() string {
	switch c {
	case Nop:
		return "nop"
	case Const:
		return "const"
	case Move:
		return "move"
	case MoveResult:
		return "move-result"
	case Return:
		return "return"
	case ReturnVoid:
		return "return-void"
	case Throw:
		return "throw"
	case Goto:
		return "goto"
	case Switch:
		return "switch"
	case If:
		return "if-test"
	case IfZ:
		return "if-testz"
	case NewInstance:
		return "new-instance"
	case Invoke:
		return "invoke"
	case Other:
		return "other"
	default:
		return "invalid"
	}
}

// NoOperand marks an opcode whose execution does not change any register.
const NoOperand = -1

// OpcodeInfo describes the static shape of an opcode.
type OpcodeInfo struct {
	Name     string
	Category Category
	Units    int    // size in 16-bit code units
	Format   string // Dalvik instruction format id, e.g. "35c"
	Affects  int    // operand index whose register an opaque execution changes, or NoOperand
	Result   bool   // writes the invoke/filled-new-array result slot
}

var opcodes = map[string]OpcodeInfo{}

func def(name string, cat Category, format string, affects int) {
	opcodes[name] = OpcodeInfo{
		Name:     name,
		Category: cat,
		Units:    int(format[0] - '0'),
		Format:   format,
		Affects:  affects,
	}
}

func init() {
	def("nop", Nop, "10x", NoOperand)

	for _, kind := range []string{"move", "move-wide", "move-object"} {
		def(kind, Move, "12x", 0)
		def(kind+"/from16", Move, "22x", 0)
		def(kind+"/16", Move, "32x", 0)
	}
	for _, kind := range []string{"move-result", "move-result-wide", "move-result-object"} {
		def(kind, MoveResult, "11x", 0)
	}
	def("move-exception", Other, "11x", 0)

	def("return-void", ReturnVoid, "10x", NoOperand)
	for _, kind := range []string{"return", "return-wide", "return-object"} {
		def(kind, Return, "11x", NoOperand)
	}

	def("const/4", Const, "11n", 0)
	def("const/16", Const, "21s", 0)
	def("const", Const, "31i", 0)
	def("const/high16", Const, "21h", 0)
	def("const-wide/16", Const, "21s", 0)
	def("const-wide/32", Const, "31i", 0)
	def("const-wide", Const, "51l", 0)
	def("const-wide/high16", Const, "21h", 0)
	def("const-string", Const, "21c", 0)
	def("const-string/jumbo", Const, "31c", 0)
	def("const-class", Const, "21c", 0)

	def("monitor-enter", Nop, "11x", NoOperand)
	def("monitor-exit", Nop, "11x", NoOperand)
	def("check-cast", Nop, "21c", NoOperand)
	def("instance-of", Other, "22c", 0)
	def("array-length", Other, "12x", 0)
	def("new-instance", NewInstance, "21c", 0)
	def("new-array", Other, "22c", 0)
	def("filled-new-array", Other, "35c", NoOperand)
	def("filled-new-array/range", Other, "3rc", NoOperand)
	def("fill-array-data", Other, "31t", 0)

	def("throw", Throw, "11x", NoOperand)
	def("goto", Goto, "10t", NoOperand)
	def("goto/16", Goto, "20t", NoOperand)
	def("goto/32", Goto, "30t", NoOperand)
	def("packed-switch", Switch, "31t", NoOperand)
	def("sparse-switch", Switch, "31t", NoOperand)

	for _, cmp := range []string{"cmpl-float", "cmpg-float", "cmpl-double", "cmpg-double", "cmp-long"} {
		def(cmp, Other, "23x", 0)
	}
	for _, test := range []string{"eq", "ne", "lt", "ge", "gt", "le"} {
		def("if-"+test, If, "22t", NoOperand)
		def("if-"+test+"z", IfZ, "21t", NoOperand)
	}

	suffixes := []string{"", "-wide", "-object", "-boolean", "-byte", "-char", "-short"}
	for _, s := range suffixes {
		def("aget"+s, Other, "23x", 0)
		def("aput"+s, Other, "23x", 1)
		def("iget"+s, Other, "22c", 0)
		def("iput"+s, Other, "22c", 1)
		def("sget"+s, Other, "21c", 0)
		def("sput"+s, Other, "21c", NoOperand)
	}

	for _, kind := range []string{"virtual", "super", "direct", "static", "interface"} {
		def("invoke-"+kind, Invoke, "35c", NoOperand)
		def("invoke-"+kind+"/range", Invoke, "3rc", NoOperand)
	}

	for _, unop := range []string{
		"neg-int", "not-int", "neg-long", "not-long", "neg-float", "neg-double",
		"int-to-long", "int-to-float", "int-to-double", "long-to-int", "long-to-float",
		"long-to-double", "float-to-int", "float-to-long", "float-to-double", "double-to-int",
		"double-to-long", "double-to-float", "int-to-byte", "int-to-char", "int-to-short",
	} {
		def(unop, Other, "12x", 0)
	}

	for _, t := range []string{"int", "long", "float", "double"} {
		ops := []string{"add", "sub", "mul", "div", "rem"}
		if t == "int" || t == "long" {
			ops = append(ops, "and", "or", "xor", "shl", "shr", "ushr")
		}
		for _, op := range ops {
			def(op+"-"+t, Other, "23x", 0)
			def(op+"-"+t+"/2addr", Other, "12x", 0)
		}
	}
	for _, op := range []string{"add", "rsub", "mul", "div", "rem", "and", "or", "xor"} {
		name := op + "-int"
		if op == "rsub" {
			name = "rsub-int"
			def(name, Other, "22s", 0)
		} else {
			def(name+"/lit16", Other, "22s", 0)
		}
		def(name+"/lit8", Other, "22b", 0)
	}
	for _, op := range []string{"shl", "shr", "ushr"} {
		def(op+"-int/lit8", Other, "22b", 0)
	}

	for _, name := range []string{"filled-new-array", "filled-new-array/range"} {
		info := opcodes[name]
		info.Result = true
		opcodes[name] = info
	}
}

// Lookup returns the static description of the named opcode.
func Lookup(name string) (OpcodeInfo, bool) {
	info, ok := opcodes[name]
	return info, ok
}

// CategoryOf returns the handler category for an opcode name.
func CategoryOf(name string) Category {
	if info, ok := opcodes[name]; ok {
		return info.Category
	}
	return Invalid
}

// IsRangeForm reports whether the opcode takes a contiguous register range.
func IsRangeForm(name string) bool {
	return strings.HasSuffix(name, "/range")
}

// IsStaticInvoke reports whether the invoke opcode calls a static method.
func IsStaticInvoke(name string) bool {
	return strings.Contains(name, "-static")
}

// ResultType guesses the type an opaque execution of the opcode leaves in its
// affected register. Callers prefer the register's previous type when the
// opcode mutates rather than defines it.
func ResultType(name string) string {
	switch {
	case strings.HasPrefix(name, "instance-of"):
		return "Z"
	case strings.HasPrefix(name, "array-length"), strings.HasPrefix(name, "cmp"):
		return "I"
	case strings.HasPrefix(name, "move-exception"):
		return "Ljava/lang/Throwable;"
	}

	base := name
	if i := strings.IndexByte(base, '/'); i >= 0 {
		base = base[:i]
	}
	if strings.Contains(base, "-to-") {
		base = base[strings.Index(base, "-to-")+len("-to-")-1:]
	}

	switch {
	case strings.HasSuffix(base, "-wide"), strings.HasSuffix(base, "-long"):
		return "J"
	case strings.HasSuffix(base, "-double"):
		return "D"
	case strings.HasSuffix(base, "-float"):
		return "F"
	case strings.HasSuffix(base, "-object"):
		return "Ljava/lang/Object;"
	case strings.HasSuffix(base, "-boolean"):
		return "Z"
	case strings.HasSuffix(base, "-byte"):
		return "B"
	case strings.HasSuffix(base, "-char"):
		return "C"
	case strings.HasSuffix(base, "-short"):
		return "S"
	}
	return "I"
}
