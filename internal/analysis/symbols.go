package analysis

import (
	"sort"
	"strings"

	"simplify/internal/dex"
)

// SymbolScanResult holds both entrypoints and setters found in a single scan
type SymbolScanResult struct {
	Entrypoints []MethodSymbol
	Setters     []MethodSymbol
}

type MethodSymbol struct {
	Descriptor string
	Java       string // Foo.bar(int, java.lang.String)
	SymbolType string
}

// JavaSignature renders a method reference in Java notation.
func JavaSignature(ref dex.MethodReference) string {
	params := make([]string, len(ref.ParameterTypes))
	for i, p := range ref.ParameterTypes {
		params[i] = dex.JavaName(p)
	}
	return dex.JavaName(ref.DefiningClass) + "." + ref.Name + "(" + strings.Join(params, ", ") + ")"
}

// ScanMethods finds entry points and key setters among the loaded methods.
func ScanMethods(methods []*dex.Method) SymbolScanResult {
	var entrypoints, setters []MethodSymbol
	seen := make(map[string]bool)

	for _, m := range methods {
		desc := m.Descriptor()
		if seen[desc] {
			continue
		}
		seen[desc] = true

		sym := MethodSymbol{Descriptor: desc, Java: JavaSignature(m.Reference)}
		if IsEntryPoint(m.Reference) {
			sym.SymbolType = "EntryPoint"
			entrypoints = append(entrypoints, sym)
		}
		if IsSetter(strings.ToLower(m.Reference.Name)) {
			sym.SymbolType = "setter"
			setters = append(setters, sym)
		}
	}

	byDesc := func(s []MethodSymbol) {
		sort.Slice(s, func(i, j int) bool { return s[i].Descriptor < s[j].Descriptor })
	}
	byDesc(entrypoints)
	byDesc(setters)
	return SymbolScanResult{Entrypoints: entrypoints, Setters: setters}
}

// IsEntryPoint reports whether a method is where an app hands control to its code.
func IsEntryPoint(ref dex.MethodReference) bool {
	switch {
	case ref.Name == "<clinit>":
		return true
	case ref.Name == "onCreate" && len(ref.ParameterTypes) <= 1:
		return true
	case ref.Name == "attachBaseContext":
		return true
	// Cocos2d-x Java glue
	case strings.Contains(ref.Name, "nativeInit"), strings.Contains(ref.Name, "onGLSurfaceCreated"):
		return true
	case ref.Name == "main" && len(ref.ParameterTypes) == 1 && ref.ParameterTypes[0] == "[Ljava/lang/String;":
		return true
	default:
		return false
	}
}

// IsSetter checks if a symbol is a setter using cached lowercase string
func IsSetter(lowerName string) bool {
	// (set|add|edit) + (cryptokey|xxtea)
	hasAction := strings.Contains(lowerName, "set") ||
		strings.Contains(lowerName, "add") ||
		strings.Contains(lowerName, "edit")

	hasTarget := strings.Contains(lowerName, "cryptokey") ||
		strings.Contains(lowerName, "xxtea")

	return hasAction && hasTarget
}
