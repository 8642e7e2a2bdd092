package analysis

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"simplify/internal/vm"
)

// EscapeUnprintable returns a string where printable Unicode runes are preserved.
// Control and unprintable runes are escaped as \uXXXX. Invalid UTF-8 is escaped as \xXX.
func EscapeUnprintable(b []byte) string {
	var sb strings.Builder
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		switch {
		case r == utf8.RuneError && size == 1:
			fmt.Fprintf(&sb, "\\x%02X", b[0])
		case unicode.IsPrint(r):
			sb.WriteRune(r)
		default:
			fmt.Fprintf(&sb, "\\u%04X", r)
		}
		b = b[size:]
	}
	return sb.String()
}

// FormatRecovered returns both the escaped Unicode string and the hex encoding.
func FormatRecovered(b []byte) (string, string) {
	return EscapeUnprintable(b), fmt.Sprintf("%x", b)
}

// NewParamValue describes the store held by register reg. A nil store reads
// as Unknown.
func NewParamValue(reg string, s *vm.RegisterStore) ParamValue {
	if s == nil {
		s = vm.NewUnknownStore("")
	}
	p := ParamValue{Reg: reg, Type: s.Type, Known: !s.IsUnknown(), Value: s.Value}
	switch v := s.Value.(type) {
	case string:
		p.Text = `"` + truncate(EscapeUnprintable([]byte(v))) + `"`
	case *vm.Array:
		if b, err := v.Bytes(); err == nil && v.Type == "B" {
			text, hex := FormatRecovered(b)
			p.Text, p.Hex = `byte[]"`+truncate(text)+`"`, hex
			break
		}
		p.Text = vm.FormatValue(v)
	default:
		p.Text = vm.FormatValue(v)
	}
	return p
}

func truncate(s string) string {
	if len(s) <= MaxStringLength {
		return s
	}
	cut := MaxStringLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// Bytes returns the raw content of a known string or byte[] value.
func (p ParamValue) Bytes() ([]byte, bool) {
	switch v := p.Value.(type) {
	case string:
		return []byte(v), true
	case *vm.Array:
		b, err := v.Bytes()
		return b, err == nil
	}
	return nil, false
}

// StringValue returns the value of a known string parameter.
func (p ParamValue) StringValue() (string, bool) {
	s, ok := p.Value.(string)
	return s, ok && p.Known
}
