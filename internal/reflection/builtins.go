package reflection

import (
	"encoding/base64"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
)

const (
	numberFormat     = "java.lang.NumberFormatException"
	indexOutOfBounds = "java.lang.StringIndexOutOfBoundsException"
	illegalArgument  = "java.lang.IllegalArgumentException"
)

// Android Base64 flags.
const (
	base64NoPadding = 1
	base64NoWrap    = 2
	base64URLSafe   = 8
)

var builtins = map[string]any{
	"Ljava/lang/Math;->abs(I)I":  func(a int32) int32 { return max(a, -a) },
	"Ljava/lang/Math;->abs(J)J":  func(a int64) int64 { return max(a, -a) },
	"Ljava/lang/Math;->max(II)I": func(a, b int32) int32 { return max(a, b) },
	"Ljava/lang/Math;->min(II)I": func(a, b int32) int32 { return min(a, b) },
	"Ljava/lang/Math;->max(JJ)J": func(a, b int64) int64 { return max(a, b) },
	"Ljava/lang/Math;->min(JJ)J": func(a, b int64) int64 { return min(a, b) },
	"Ljava/lang/Math;->sqrt(D)D": math.Sqrt,
	"Ljava/lang/Math;->floorMod(II)I": func(a, b int32) (int32, error) {
		if b == 0 {
			return 0, throw("java.lang.ArithmeticException", "/ by zero")
		}
		m := a % b
		if m != 0 && (m < 0) != (b < 0) {
			m += b
		}
		return m, nil
	},

	"Ljava/lang/Integer;->parseInt(Ljava/lang/String;)I": func(s string) (int32, error) {
		return parseInt(s, 10)
	},
	"Ljava/lang/Integer;->parseInt(Ljava/lang/String;I)I": parseInt,
	"Ljava/lang/Integer;->valueOf(I)Ljava/lang/Integer;":  func(n int32) int32 { return n },
	"Ljava/lang/Integer;->toString(I)Ljava/lang/String;": func(n int32) string {
		return strconv.FormatInt(int64(n), 10)
	},
	"Ljava/lang/Integer;->toHexString(I)Ljava/lang/String;": func(n int32) string {
		return strconv.FormatUint(uint64(uint32(n)), 16)
	},
	"Ljava/lang/Long;->parseLong(Ljava/lang/String;)J": func(s string) (int64, error) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, throw(numberFormat, "For input string: %q", s)
		}
		return n, nil
	},
	"Ljava/lang/Long;->toString(J)Ljava/lang/String;": func(n int64) string {
		return strconv.FormatInt(n, 10)
	},
	"Ljava/lang/Character;->toString(C)Ljava/lang/String;": func(c uint16) string {
		return fromUnits([]uint16{c})
	},

	"Ljava/lang/String;->valueOf(I)Ljava/lang/String;": func(n int32) string {
		return strconv.FormatInt(int64(n), 10)
	},
	"Ljava/lang/String;->valueOf(C)Ljava/lang/String;": func(c uint16) string {
		return fromUnits([]uint16{c})
	},
	"Ljava/lang/String;->valueOf(Z)Ljava/lang/String;": strconv.FormatBool,
	"Ljava/lang/String;->length()I": func(s string) int32 {
		return int32(len(units(s)))
	},
	"Ljava/lang/String;->isEmpty()Z": func(s string) bool { return s == "" },
	"Ljava/lang/String;->charAt(I)C": func(s string, i int32) (uint16, error) {
		u := units(s)
		if i < 0 || int(i) >= len(u) {
			return 0, throw(indexOutOfBounds, "index %d, length %d", i, len(u))
		}
		return u[i], nil
	},
	"Ljava/lang/String;->substring(I)Ljava/lang/String;": func(s string, begin int32) (string, error) {
		return substring(s, begin, int32(len(units(s))))
	},
	"Ljava/lang/String;->substring(II)Ljava/lang/String;": substring,
	"Ljava/lang/String;->indexOf(Ljava/lang/String;)I": func(s, sub string) int32 {
		i := strings.Index(s, sub)
		if i < 0 {
			return -1
		}
		return int32(len(units(s[:i])))
	},
	"Ljava/lang/String;->concat(Ljava/lang/String;)Ljava/lang/String;": func(a, b string) string {
		return a + b
	},
	"Ljava/lang/String;->equals(Ljava/lang/Object;)Z": func(s string, o any) bool {
		other, ok := o.(string)
		return ok && other == s
	},
	"Ljava/lang/String;->trim()Ljava/lang/String;": func(s string) string {
		return strings.TrimFunc(s, func(r rune) bool { return r <= ' ' })
	},
	"Ljava/lang/String;->hashCode()I": func(s string) int32 {
		var h int32
		for _, u := range units(s) {
			h = 31*h + int32(u)
		}
		return h
	},

	"Landroid/util/Base64;->decode(Ljava/lang/String;I)[B": func(s string, flags int32) ([]byte, error) {
		return decodeBase64(s, flags)
	},
	"Landroid/util/Base64;->decode([BI)[B": func(b []byte, flags int32) ([]byte, error) {
		return decodeBase64(string(b), flags)
	},
	"Landroid/util/Base64;->encodeToString([BI)Ljava/lang/String;": encodeBase64,
}

func parseInt(s string, radix int32) (int32, error) {
	if radix < 2 || radix > 36 {
		return 0, throw(numberFormat, "radix %d out of range", radix)
	}
	n, err := strconv.ParseInt(s, int(radix), 32)
	if err != nil {
		return 0, throw(numberFormat, "For input string: %q", s)
	}
	return int32(n), nil
}

func substring(s string, begin, end int32) (string, error) {
	u := units(s)
	if begin < 0 || end > int32(len(u)) || begin > end {
		return "", throw(indexOutOfBounds, "begin %d, end %d, length %d", begin, end, len(u))
	}
	return fromUnits(u[begin:end]), nil
}

func units(s string) []uint16     { return utf16.Encode([]rune(s)) }
func fromUnits(u []uint16) string { return string(utf16.Decode(u)) }

func decodeBase64(s string, flags int32) ([]byte, error) {
	enc := base64.RawStdEncoding
	if flags&base64URLSafe != 0 {
		enc = base64.RawURLEncoding
	}
	// The Android decoder skips whitespace and accepts missing padding.
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n', '=':
			return -1
		}
		return r
	}, s)
	b, err := enc.DecodeString(clean)
	if err != nil {
		return nil, throw(illegalArgument, "bad base-64")
	}
	return b, nil
}

func encodeBase64(b []byte, flags int32) string {
	enc := base64.StdEncoding
	if flags&base64URLSafe != 0 {
		enc = base64.URLEncoding
	}
	if flags&base64NoPadding != 0 {
		enc = enc.WithPadding(base64.NoPadding)
	}
	out := enc.EncodeToString(b)
	if flags&base64NoWrap != 0 {
		return out
	}
	var sb strings.Builder
	for len(out) > 76 {
		sb.WriteString(out[:76])
		sb.WriteByte('\n')
		out = out[76:]
	}
	if out != "" {
		sb.WriteString(out)
		sb.WriteByte('\n')
	}
	return sb.String()
}
