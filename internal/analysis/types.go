package analysis

import "simplify/internal/vm"

// ParamValue is what the analysis could establish for one register.
type ParamValue struct {
	Reg   string `json:"reg" yaml:"reg"`                     // register name, r0, r1, ...
	Type  string `json:"type" yaml:"type"`                   // type descriptor
	Known bool   `json:"known" yaml:"known"`                 // false when the value is Unknown
	Text  string `json:"value" yaml:"value"`                 // display form of Value
	Hex   string `json:"hex,omitempty" yaml:"hex,omitempty"` // raw bytes of byte[] values
	Value any    `json:"-" yaml:"-" cbor:"-"`
}

// CallFinding is one call site of an analyzed method, merged over every
// path that reached it.
type CallFinding struct {
	Method     string         `json:"method" yaml:"method"`
	Address    int            `json:"address" yaml:"address"`
	Target     string         `json:"target" yaml:"target"` // callee descriptor
	Symbol     string         `json:"symbol" yaml:"symbol"` // callee in Java notation
	Args       []ParamValue   `json:"args" yaml:"args"`
	Result     *ParamValue    `json:"result,omitempty" yaml:"result,omitempty"`
	Resolution vm.Resolution  `json:"resolution" yaml:"resolution"`
	Comment    string         `json:"comment,omitempty" yaml:"comment,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"` // detector-specific
}

// MethodResult is the outcome of analyzing one method.
type MethodResult struct {
	Method      string        `json:"method" yaml:"method"`
	Nodes       int           `json:"nodes" yaml:"nodes"`
	Terminating []int         `json:"terminating" yaml:"terminating"`
	Return      *ParamValue   `json:"return,omitempty" yaml:"return,omitempty"`
	Registers   []ParamValue  `json:"registers,omitempty" yaml:"registers,omitempty"`
	Findings    []CallFinding `json:"findings,omitempty" yaml:"findings,omitempty"`
	Degraded    int           `json:"degraded" yaml:"degraded"` // events that lost precision
	Exhausted   bool          `json:"exhausted,omitempty" yaml:"exhausted,omitempty"`
	Error       string        `json:"error,omitempty" yaml:"error,omitempty"`

	Graph *vm.ContextGraph `json:"-" yaml:"-" cbor:"-"`
}

// Simplified reports whether the method ran to completion.
func (r MethodResult) Simplified() bool { return r.Error == "" }

// Report collects the results of a whole run.
type Report struct {
	Files       []string       `json:"files" yaml:"files"`
	EntryPoints []string       `json:"entry_points" yaml:"entry_points"`
	Setters     []string       `json:"setters" yaml:"setters"`
	Methods     []MethodResult `json:"methods" yaml:"methods"`
	Findings    []CallFinding  `json:"findings" yaml:"findings"` // after the detector chain
}
