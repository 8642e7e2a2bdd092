package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Disabled reports whether SIMPLIFY_NO_COLOR or NO_COLOR turns colors off.
func Disabled() bool {
	return os.Getenv("SIMPLIFY_NO_COLOR") != "" || os.Getenv("NO_COLOR") != ""
}

// getListingLexer returns a lexer for bytecode listings with fallbacks
func getListingLexer() chroma.Lexer {
	candidates := []string{"smali", "nasm", "gas"}
	for _, name := range candidates {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

// getListingStyle returns the listing style with fallbacks
func getListingStyle() *chroma.Style {
	candidates := []string{"listing-dark", "dracula", "monokai"}
	for _, name := range candidates {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

// getTerminalFormatter returns an appropriate terminal formatter
func getTerminalFormatter() chroma.Formatter {
	candidates := []string{"terminal16m", "terminal256"}
	for _, name := range candidates {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// Listing applies syntax highlighting to a whole listing.
func Listing(code string) (string, error) {
	if Disabled() {
		return code, nil
	}
	lexer := getListingLexer()
	if lexer == nil {
		return code, nil
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}
	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getListingStyle(), iterator); err != nil {
		return code, err
	}
	return buf.String(), nil
}

// InstructionLine colorizes one "address  instruction  ; comment" line. The
// address is gray, the comment pink and the rest goes through chroma.
func InstructionLine(line string) string {
	if Disabled() {
		return line
	}

	addr, rest, ok := strings.Cut(line, " ")
	if !ok || !isHex(addr) {
		return colorizeFullLine(line)
	}

	code, comment, hasComment := strings.Cut(rest, "; ")
	out := fmt.Sprintf("\033[38;2;79;79;79m%s\033[0m %s", addr, colorizeFullLine(code))
	if hasComment {
		out += fmt.Sprintf("\033[38;2;235;194;237m; %s\033[0m", comment)
	}
	return out
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, ch := range s {
		if !((ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')) {
			return false
		}
	}
	return true
}

func colorizeFullLine(line string) string {
	out, err := Listing(line)
	if err != nil {
		return line
	}
	return strings.TrimSuffix(out, "\n")
}

// StripANSI removes ANSI escape codes.
func StripANSI(s string) string {
	var result strings.Builder
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEscape = true
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		default:
			result.WriteRune(r)
		}
	}
	return result.String()
}
