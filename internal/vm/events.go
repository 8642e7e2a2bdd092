package vm

import "fmt"

// EventKind classifies a diagnostic event.
type EventKind int

const (
	EventCallDepthExceeded EventKind = iota + 1
	EventNodeVisitsExceeded
	EventAddressVisitsExceeded
	EventUnresolvedCall
	EventEmulated
	EventReflected
	EventMethodExecuted
	EventUnsupportedOp
	EventInvoke
)

func (k EventKind) String() string {
	switch k {
	case EventCallDepthExceeded:
		return "call-depth-exceeded"
	case EventNodeVisitsExceeded:
		return "node-visits-exceeded"
	case EventAddressVisitsExceeded:
		return "address-visits-exceeded"
	case EventUnresolvedCall:
		return "unresolved-call"
	case EventEmulated:
		return "emulated"
	case EventReflected:
		return "reflected"
	case EventMethodExecuted:
		return "method-executed"
	case EventUnsupportedOp:
		return "unsupported-op"
	case EventInvoke:
		return "invoke"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Degraded reports whether the event marks lost precision.
func (k EventKind) Degraded() bool {
	switch k {
	case EventCallDepthExceeded, EventNodeVisitsExceeded, EventAddressVisitsExceeded,
		EventUnresolvedCall, EventUnsupportedOp:
		return true
	}
	return false
}

// Resolution says how a call site was resolved.
type Resolution string

const (
	ResolutionAnalyzed   Resolution = "analyzed"
	ResolutionEmulated   Resolution = "emulated"
	ResolutionReflected  Resolution = "reflected"
	ResolutionUnresolved Resolution = "unresolved"
)

// Event is one diagnostic emitted by the engine.
type Event struct {
	Kind       EventKind
	Method     string // descriptor of the method being executed
	Address    int
	Target     string // callee descriptor for call events
	Detail     string
	Args       []*RegisterStore // operand snapshot taken before the call
	Result     *RegisterStore
	Resolution Resolution
	Depth      int
}

func (e Event) String() string {
	s := fmt.Sprintf("%s %s@%d", e.Kind, e.Method, e.Address)
	if e.Target != "" {
		s += " -> " + e.Target
	}
	if e.Resolution != "" {
		s += " [" + string(e.Resolution) + "]"
	}
	if e.Detail != "" {
		s += ": " + e.Detail
	}
	return s
}

// Sink receives engine diagnostics.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Recorder keeps every event in order.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Emit(e Event) {
	r.Events = append(r.Events, e)
}

// Filter returns the recorded events of the given kinds.
func (r *Recorder) Filter(kinds ...EventKind) []Event {
	var out []Event
	for _, e := range r.Events {
		for _, k := range kinds {
			if e.Kind == k {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Reset drops recorded events.
func (r *Recorder) Reset() {
	r.Events = r.Events[:0]
}

// Tee fans events out to several sinks.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			if s != nil {
				s.Emit(e)
			}
		}
	})
}
