package detectors

import (
	"strings"

	"simplify/internal/analysis"
	"simplify/internal/dex"
	"simplify/internal/vm"
)

// StringDecryptorDetector marks calls that turn constant input into a
// constant string: the usual shape of an obfuscator's string decryption
// routine. Library calls are left alone.
type StringDecryptorDetector struct {
	// Skip lists class prefixes that are never decryptors.
	Skip []string
}

func NewStringDecryptorDetector() *StringDecryptorDetector {
	return &StringDecryptorDetector{Skip: []string{"Ljava/", "Landroid/", "Lkotlin/"}}
}

func (d *StringDecryptorDetector) Detect(findings []analysis.CallFinding) []analysis.CallFinding {
	for i, f := range findings {
		if !d.isDecryptor(f) {
			continue
		}
		s, _ := f.Result.StringValue()
		if f.Metadata == nil {
			findings[i].Metadata = make(map[string]any)
		}
		findings[i].Metadata["decrypted"] = s
		if f.Comment == "" {
			findings[i].Comment = "decrypted=" + f.Result.Text
		}
	}
	return findings
}

func (d *StringDecryptorDetector) isDecryptor(f analysis.CallFinding) bool {
	if f.Result == nil || f.Resolution == vm.ResolutionUnresolved {
		return false
	}
	if _, ok := f.Result.StringValue(); !ok {
		return false
	}
	ref, err := dex.ParseMethodReference(f.Target)
	if err != nil || len(ref.ParameterTypes) == 0 {
		return false
	}
	for _, prefix := range d.Skip {
		if strings.HasPrefix(ref.DefiningClass, prefix) {
			return false
		}
	}
	for _, arg := range f.Args {
		if !arg.Known {
			return false
		}
	}
	return true
}
