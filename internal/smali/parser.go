// Package smali reads smali-style assembly into decoded methods.
//
// The accepted subset covers what the engine consumes: .class, .method with
// modifiers, .registers/.locals, v and p registers, labels, register lists
// and ranges, literals, type/field/method references and switch payloads.
// Annotations, debug directives and array payloads are skipped.
package smali

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"simplify/internal/dex"
)

// ErrSyntax is wrapped by every parse error.
var ErrSyntax = errors.New("syntax error")

var (
	reClass    = regexp.MustCompile(`^\.class\s+(?:[\w-]+\s+)*(L[^;\s]+;)$`)
	reMethod   = regexp.MustCompile(`^\.method\s+((?:[\w-]+\s+)*)([^\s(]+)(\(.*)$`)
	reRegister = regexp.MustCompile(`^([vp])(\d+)$`)
	reSparse   = regexp.MustCompile(`^(-?(?:0x)?[0-9a-fA-F]+)\s*->\s*(:\w+)$`)
)

// blockEnds maps directives that open a skipped block to their terminator.
var blockEnds = map[string]string{
	".annotation":    ".end annotation",
	".subannotation": ".end subannotation",
	".array-data":    ".end array-data",
}

// lineDirectives carry nothing the engine needs.
var lineDirectives = map[string]bool{
	".source": true, ".super": true, ".implements": true, ".field": true,
	".param": true, ".local": true, ".line": true, ".prologue": true,
	".epilogue": true, ".catch": true, ".catchall": true, ".enum": true,
	".end": true, ".restart": true,
}

type payload struct {
	keys   []int32
	labels []string
}

// pending is an instruction whose label operands are resolved at .end method.
type pending struct {
	line    int
	inst    dex.Instruction
	labels  []string
	payload string
}

type methodState struct {
	method    *dex.Method
	ins       int // parameter slots including the receiver
	sized     bool
	address   int
	labels    map[string]int
	payloads  map[string]payload
	pending   []pending
	lastLabel []string
}

// payloadState collects a switch payload until its .end directive.
type payloadState struct {
	labels []string // labels naming the payload
	kind   string
	p      payload
}

type parser struct {
	class   string
	methods []*dex.Method
	cur     *methodState
	line    int
	block   string // terminator of the block being skipped
	payload *payloadState
}

// Parse reads every method from r.
func Parse(r io.Reader) ([]*dex.Method, error) {
	p := &parser{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		p.line++
		if err := p.parseLine(sc.Text()); err != nil {
			return nil, fmt.Errorf("line %d: %w", p.line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if p.cur != nil {
		return nil, fmt.Errorf("line %d: %w: missing .end method", p.line, ErrSyntax)
	}
	return p.methods, nil
}

// ParseString parses assembly held in memory.
func ParseString(s string) ([]*dex.Method, error) {
	return Parse(strings.NewReader(s))
}

// ParseFile parses one file.
func ParseFile(path string) ([]*dex.Method, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	methods, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return methods, nil
}

// ParseFiles parses several files into one method list.
func ParseFiles(paths ...string) ([]*dex.Method, error) {
	var all []*dex.Method
	for _, path := range paths {
		methods, err := ParseFile(path)
		if err != nil {
			return nil, err
		}
		all = append(all, methods...)
	}
	return all, nil
}

func syntaxf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSyntax, fmt.Sprintf(format, args...))
}

func (p *parser) parseLine(raw string) error {
	line := strings.TrimSpace(stripComment(raw))
	if line == "" {
		return nil
	}

	if p.payload != nil {
		return p.parsePayloadLine(line)
	}
	if p.block != "" {
		if line == p.block {
			p.block = ""
		}
		return nil
	}

	switch {
	case strings.HasPrefix(line, ".class"):
		m := reClass.FindStringSubmatch(line)
		if m == nil {
			return syntaxf("malformed .class %q", line)
		}
		p.class = m[1]
		return nil
	case strings.HasPrefix(line, ".method"):
		return p.beginMethod(line)
	case line == ".end method":
		return p.endMethod()
	}

	if p.cur == nil {
		return p.skipDirective(line)
	}

	switch {
	case strings.HasPrefix(line, ".registers"), strings.HasPrefix(line, ".locals"):
		return p.sizeMethod(line)
	case strings.HasPrefix(line, ".packed-switch"), strings.HasPrefix(line, ".sparse-switch"):
		return p.beginPayload(line)
	case strings.HasPrefix(line, ":"):
		if !isLabel(line) {
			return syntaxf("malformed label %q", line)
		}
		p.cur.labels[line] = p.cur.address
		p.cur.lastLabel = append(p.cur.lastLabel, line)
		return nil
	case strings.HasPrefix(line, "."):
		return p.skipDirective(line)
	}
	return p.parseInstruction(line)
}

func (p *parser) skipDirective(line string) error {
	word := line
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		word = line[:i]
	}
	if end, ok := blockEnds[word]; ok {
		p.block = end
		return nil
	}
	if !lineDirectives[word] {
		return syntaxf("unknown directive %q", word)
	}
	return nil
}

func (p *parser) beginMethod(line string) error {
	if p.cur != nil {
		return syntaxf("nested .method")
	}
	if p.class == "" {
		return syntaxf(".method before .class")
	}
	m := reMethod.FindStringSubmatch(line)
	if m == nil {
		return syntaxf("malformed .method %q", line)
	}
	ref, err := dex.ParseMethodReference(p.class + "->" + m[2] + m[3])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	static := false
	for _, mod := range strings.Fields(m[1]) {
		if mod == "static" {
			static = true
		}
	}
	ins := dex.SlotCount(ref.ParameterTypes)
	if !static {
		ins++
	}
	p.cur = &methodState{
		method:   &dex.Method{Reference: ref, Static: static},
		ins:      ins,
		labels:   map[string]int{},
		payloads: map[string]payload{},
	}
	return nil
}

func (p *parser) sizeMethod(line string) error {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return syntaxf("malformed %q", line)
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 0 {
		return syntaxf("bad register count %q", fields[1])
	}
	if fields[0] == ".locals" {
		n += p.cur.ins
	}
	if n < p.cur.ins {
		return syntaxf("%d registers cannot hold %d parameter slots", n, p.cur.ins)
	}
	p.cur.method.RegisterCount = n
	p.cur.sized = true
	return nil
}

func (p *parser) beginPayload(line string) error {
	labels := p.cur.lastLabel
	if len(labels) == 0 {
		return syntaxf("%s payload without a label", strings.Fields(line)[0])
	}
	p.payload = &payloadState{labels: labels, kind: strings.Fields(line)[0]}
	p.cur.lastLabel = nil

	if p.payload.kind == ".packed-switch" {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return syntaxf("packed-switch payload needs a first key")
		}
		first, err := parseInt(fields[1])
		if err != nil {
			return err
		}
		p.payload.p.keys = append(p.payload.p.keys, int32(first))
	}
	return nil
}

func (p *parser) parsePayloadLine(line string) error {
	pl := p.payload
	if line == ".end packed-switch" || line == ".end sparse-switch" {
		if "."+strings.TrimPrefix(line, ".end ") != pl.kind {
			return syntaxf("%q closes %s", line, pl.kind)
		}
		if pl.kind == ".packed-switch" {
			first := int32(0)
			if len(pl.p.keys) > 0 {
				first = pl.p.keys[0]
			}
			pl.p.keys = pl.p.keys[:0]
			for i := range pl.p.labels {
				pl.p.keys = append(pl.p.keys, first+int32(i))
			}
		}
		for _, l := range pl.labels {
			p.cur.payloads[l] = pl.p
		}
		p.payload = nil
		return nil
	}

	if pl.kind == ".packed-switch" {
		if !isLabel(line) {
			return syntaxf("expected label in packed-switch payload, got %q", line)
		}
		pl.p.labels = append(pl.p.labels, line)
		return nil
	}
	m := reSparse.FindStringSubmatch(line)
	if m == nil {
		return syntaxf("malformed sparse-switch entry %q", line)
	}
	key, err := parseInt(m[1])
	if err != nil {
		return err
	}
	pl.p.keys = append(pl.p.keys, int32(key))
	pl.p.labels = append(pl.p.labels, m[2])
	return nil
}

func (p *parser) endMethod() error {
	st := p.cur
	if st == nil {
		return syntaxf(".end method without .method")
	}
	p.cur = nil

	for _, pd := range st.pending {
		inst := pd.inst
		for _, l := range pd.labels {
			addr, ok := st.labels[l]
			if !ok {
				return fmt.Errorf("line %d: %w: undefined label %s", pd.line, ErrSyntax, l)
			}
			inst.Targets = append(inst.Targets, addr)
		}
		if pd.payload != "" {
			pl, ok := st.payloads[pd.payload]
			if !ok {
				return fmt.Errorf("line %d: %w: undefined switch payload %s", pd.line, ErrSyntax, pd.payload)
			}
			inst.Keys = append([]int32(nil), pl.keys...)
			for _, l := range pl.labels {
				addr, ok := st.labels[l]
				if !ok {
					return fmt.Errorf("line %d: %w: undefined label %s", pd.line, ErrSyntax, l)
				}
				inst.Targets = append(inst.Targets, addr)
			}
		}
		st.method.Instructions = append(st.method.Instructions, inst)
	}
	sort.Slice(st.method.Instructions, func(i, j int) bool {
		return st.method.Instructions[i].Address < st.method.Instructions[j].Address
	})

	// Abstract and native methods have no body to analyze.
	if len(st.method.Instructions) > 0 {
		p.methods = append(p.methods, st.method)
	}
	return nil
}

func (p *parser) parseInstruction(line string) error {
	st := p.cur
	if !st.sized {
		return syntaxf("instruction before .registers or .locals")
	}
	st.lastLabel = nil

	mnemonic, rest := line, ""
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		mnemonic, rest = line[:i], strings.TrimSpace(line[i+1:])
	}
	info, ok := dex.Lookup(mnemonic)
	if !ok {
		return syntaxf("unknown opcode %q", mnemonic)
	}

	operands, err := splitOperands(rest)
	if err != nil {
		return err
	}
	pd := pending{line: p.line, inst: dex.Instruction{Address: st.address, Opcode: mnemonic}}
	for _, o := range operands {
		if err := p.operand(&pd, info, o); err != nil {
			return err
		}
	}
	st.pending = append(st.pending, pd)
	st.address += info.Units
	return nil
}

func (p *parser) operand(pd *pending, info dex.OpcodeInfo, o string) error {
	inst := &pd.inst
	switch {
	case strings.HasPrefix(o, "{"):
		regs, err := p.registerList(o)
		if err != nil {
			return err
		}
		inst.Registers = append(inst.Registers, regs...)
	case reRegister.MatchString(o):
		r, err := p.register(o)
		if err != nil {
			return err
		}
		inst.Registers = append(inst.Registers, r)
	case isLabel(o):
		if info.Category == dex.Switch {
			pd.payload = o
		} else if info.Format != "31t" {
			pd.labels = append(pd.labels, o)
		}
	case strings.HasPrefix(o, `"`):
		s, err := strconv.Unquote(strings.ReplaceAll(o, `\'`, "'"))
		if err != nil {
			return syntaxf("bad string literal %s", o)
		}
		inst.Literal = s
	case strings.Contains(o, "->"):
		if i := strings.Index(o, ":"); i > strings.Index(o, "->") {
			inst.Field = o
			inst.Type = o[i+1:]
			return nil
		}
		ref, err := dex.ParseMethodReference(o)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		inst.Method = &ref
	case strings.HasPrefix(o, "L"), strings.HasPrefix(o, "["):
		if _, err := dex.ParseTypeList(o); err != nil {
			return fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		inst.Type = o
	default:
		n, err := parseInt(o)
		if err != nil {
			return err
		}
		inst.Literal = n
	}
	return nil
}

func (p *parser) register(s string) (int, error) {
	m := reRegister.FindStringSubmatch(s)
	if m == nil {
		return 0, syntaxf("bad register %q", s)
	}
	n, _ := strconv.Atoi(m[2])
	st := p.cur
	if m[1] == "p" {
		if n >= st.ins {
			return 0, syntaxf("%s exceeds %d parameter slots", s, st.ins)
		}
		n += st.method.RegisterCount - st.ins
	}
	if n >= st.method.RegisterCount {
		return 0, syntaxf("%s exceeds %d registers", s, st.method.RegisterCount)
	}
	return n, nil
}

func (p *parser) registerList(s string) ([]int, error) {
	if !strings.HasSuffix(s, "}") {
		return nil, syntaxf("unterminated register list %q", s)
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return nil, nil
	}
	if a, b, ok := strings.Cut(body, ".."); ok {
		first, err := p.register(strings.TrimSpace(a))
		if err != nil {
			return nil, err
		}
		last, err := p.register(strings.TrimSpace(b))
		if err != nil {
			return nil, err
		}
		if last < first {
			return nil, syntaxf("descending register range %q", s)
		}
		regs := make([]int, 0, last-first+1)
		for r := first; r <= last; r++ {
			regs = append(regs, r)
		}
		return regs, nil
	}
	var regs []int
	for _, part := range strings.Split(body, ",") {
		r, err := p.register(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		regs = append(regs, r)
	}
	return regs, nil
}

// splitOperands splits on commas outside braces and string literals.
func splitOperands(s string) ([]string, error) {
	var (
		out   []string
		start int
		depth int
		quote bool
	)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case quote && c == '\\':
			i++
		case c == '"':
			quote = !quote
		case quote:
		case c == '{':
			depth++
		case c == '}':
			depth--
		case c == ',' && depth == 0:
			out = append(out, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	if quote || depth != 0 {
		return nil, syntaxf("unbalanced operands %q", s)
	}
	if last := strings.TrimSpace(s[start:]); last != "" {
		out = append(out, last)
	} else if len(out) > 0 {
		return nil, syntaxf("trailing comma in %q", s)
	}
	return out, nil
}

// stripComment removes a trailing # comment outside string literals.
func stripComment(s string) string {
	quote := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if quote {
				i++
			}
		case '"':
			quote = !quote
		case '#':
			if !quote {
				return s[:i]
			}
		}
	}
	return s
}

func isLabel(s string) bool {
	if len(s) < 2 || s[0] != ':' {
		return false
	}
	for _, c := range s[1:] {
		if !(c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}

// parseInt parses a smali integer literal with an optional L, t or s suffix.
func parseInt(s string) (int64, error) {
	t := strings.TrimRight(s, "LlTtSs")
	if t == "" {
		return 0, syntaxf("bad literal %q", s)
	}
	n, err := strconv.ParseInt(t, 0, 64)
	if err == nil {
		return n, nil
	}
	// 0xffffffffffffffffL and friends are two's complement bit patterns.
	neg := strings.HasPrefix(t, "-")
	u, uerr := strconv.ParseUint(strings.TrimPrefix(t, "-"), 0, 64)
	if uerr != nil {
		return 0, syntaxf("bad literal %q", s)
	}
	if neg {
		return -int64(u), nil
	}
	return int64(u), nil
}
