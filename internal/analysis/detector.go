package analysis

// Detector enriches call findings with pattern-specific information. It may
// rewrite comments and metadata of existing findings but never drops one.
type Detector interface {
	Detect(findings []CallFinding) []CallFinding
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func([]CallFinding) []CallFinding

func (f DetectorFunc) Detect(findings []CallFinding) []CallFinding { return f(findings) }

// DetectorChain runs detectors in order, each over the output of the last.
type DetectorChain struct {
	detectors []Detector
}

func NewDetectorChain(detectors ...Detector) *DetectorChain {
	return &DetectorChain{detectors: detectors}
}

func (dc *DetectorChain) Len() int { return len(dc.detectors) }

func (dc *DetectorChain) Detect(findings []CallFinding) []CallFinding {
	result := findings
	for _, d := range dc.detectors {
		result = d.Detect(result)
	}
	return result
}
