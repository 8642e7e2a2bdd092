// Package detectors recognizes well-known call patterns among analysis
// findings and annotates them with the secrets they reveal.
package detectors

import (
	"encoding/hex"
	"fmt"
	"strings"

	"simplify/internal/analysis"
	"simplify/internal/dex"
)

const xxteaClass = "Lorg/xxtea/XXTEA;"

// Signature types an XXTEA call site can have.
const (
	SigKeySign = "key+sign"
	SigKeyOnly = "key-only"
	SigCipher  = "cipher"
	SigUnknown = "unknown"
)

// XXTEADetector finds XXTEA keys and signs passed to key setters and to the
// XXTEA library itself.
type XXTEADetector struct{}

// NewXXTEADetector creates a new XXTEA detector instance.
func NewXXTEADetector() *XXTEADetector {
	return &XXTEADetector{}
}

func (d *XXTEADetector) Detect(findings []analysis.CallFinding) []analysis.CallFinding {
	result := make([]analysis.CallFinding, 0, len(findings))
	for _, finding := range findings {
		ref, err := dex.ParseMethodReference(finding.Target)
		if err != nil {
			result = append(result, finding)
			continue
		}
		switch {
		case ref.DefiningClass == xxteaClass:
			finding = d.resolveBySignature(finding, SigCipher, params(finding, ref))
		case d.isXXTEASetter(ref.Name) || d.isXXTEASetter(finding.Symbol):
			p := params(finding, ref)
			finding = d.resolveBySignature(finding, signatureType(p), p)
		}
		result = append(result, finding)
	}
	return result
}

func (d *XXTEADetector) isXXTEASetter(name string) bool {
	lower := strings.ToLower(name)

	xxteaSetters := []string{
		"setxxteakey",
		"setxxteasign",
		"setxxteakeyandsign",
		"jsb_set_xxtea_key",
		"addcryptokey",
		"editcryptokey",
	}
	for _, setter := range xxteaSetters {
		if strings.Contains(lower, setter) {
			return true
		}
	}
	return analysis.IsSetter(lower)
}

// params drops the receiver from the arguments of instance calls.
func params(f analysis.CallFinding, ref dex.MethodReference) []analysis.ParamValue {
	if extra := len(f.Args) - len(ref.ParameterTypes); extra > 0 {
		return f.Args[extra:]
	}
	return f.Args
}

func isKeyType(t string) bool {
	return t == dex.TypeString || t == "[B"
}

// signatureType classifies setter parameters: (key), (key, len),
// (key, sign), and (key, len, sign, len).
func signatureType(p []analysis.ParamValue) string {
	var keys int
	for _, arg := range p {
		if isKeyType(arg.Type) {
			keys++
		}
	}
	switch {
	case keys >= 2:
		return SigKeySign
	case keys == 1:
		return SigKeyOnly
	}
	return SigUnknown
}

func (d *XXTEADetector) resolveBySignature(finding analysis.CallFinding, sig string, p []analysis.ParamValue) analysis.CallFinding {
	if finding.Metadata == nil {
		finding.Metadata = make(map[string]any)
	}
	finding.Metadata["signature_type"] = sig

	switch sig {
	case SigCipher:
		// encrypt(data, key) and friends
		if len(p) >= 2 {
			extract(finding.Metadata, "key", p[1], nil)
		}
		finding.Comment = genComment(finding.Metadata, false)
	case SigKeySign, SigKeyOnly:
		key, sign := splitKeySign(p)
		extract(finding.Metadata, "key", key.value, key.length)
		if sig == SigKeySign {
			extract(finding.Metadata, "sign", sign.value, sign.length)
		}
		finding.Comment = genComment(finding.Metadata, sig == SigKeySign)
	}
	return finding
}

type keyArg struct {
	value  analysis.ParamValue
	length *analysis.ParamValue
}

// splitKeySign pairs each key-typed parameter with an int length that
// directly follows it.
func splitKeySign(p []analysis.ParamValue) (key, sign keyArg) {
	var found []keyArg
	for i, arg := range p {
		if !isKeyType(arg.Type) {
			continue
		}
		k := keyArg{value: arg}
		if i+1 < len(p) && p[i+1].Type == dex.TypeInt {
			k.length = &p[i+1]
		}
		found = append(found, k)
	}
	if len(found) > 0 {
		key = found[0]
	}
	if len(found) > 1 {
		sign = found[1]
	}
	return key, sign
}

func extract(meta map[string]any, name string, arg analysis.ParamValue, length *analysis.ParamValue) {
	if length != nil && length.Known {
		if n, ok := length.Value.(int32); ok {
			meta[name+"_len"] = int64(n)
		}
	}
	if !arg.Known {
		return
	}
	b, ok := arg.Bytes()
	if !ok {
		return
	}
	if n, ok := meta[name+"_len"].(int64); ok && n >= 0 && int(n) < len(b) {
		b = b[:n]
	}
	text, hexed := analysis.FormatRecovered(b)
	meta[name] = text
	meta[name+"_len"] = int64(len(b))
	if text != string(b) {
		meta[name+"_hex"] = hexed
	}
}

func genComment(meta map[string]any, withSign bool) string {
	parts := []string{describe(meta, "key")}
	if withSign {
		parts = append(parts, describe(meta, "sign"))
	}
	return strings.Join(parts, ", ")
}

func describe(meta map[string]any, name string) string {
	if v, ok := meta[name].(string); ok {
		if v == "" {
			return name + "=(empty)"
		}
		return name + "=" + v
	}
	if n, ok := meta[name+"_len"].(int64); ok && n > 0 {
		return fmt.Sprintf("%s=(unknown,len=%d)", name, n)
	}
	return name + "=(unknown)"
}

// KeyHex returns the recovered key as hex, whether or not it was printable.
func KeyHex(f analysis.CallFinding) (string, bool) {
	if h, ok := f.Metadata["key_hex"].(string); ok {
		return h, true
	}
	if k, ok := f.Metadata["key"].(string); ok {
		return hex.EncodeToString([]byte(k)), true
	}
	return "", false
}
