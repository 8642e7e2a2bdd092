package logging

import (
	"github.com/charmbracelet/log"

	"simplify/internal/vm"
)

var eventMessages = map[vm.EventKind]string{
	vm.EventCallDepthExceeded:     "resource exhausted",
	vm.EventNodeVisitsExceeded:    "resource exhausted",
	vm.EventAddressVisitsExceeded: "resource exhausted",
	vm.EventUnsupportedOp:         "unsupported instruction",
	vm.EventUnresolvedCall:        "unresolved call",
	vm.EventEmulated:              "resolved call",
	vm.EventReflected:             "resolved call",
	vm.EventMethodExecuted:        "executed",
	vm.EventInvoke:                "invoke",
}

// NewEventSink logs engine events to lg at the levels given. A nil levels
// map uses DefaultEventLevels.
func NewEventSink(lg *log.Logger, levels EventLevels) vm.Sink {
	if levels == nil {
		levels = DefaultEventLevels()
	}
	return vm.SinkFunc(func(e vm.Event) {
		lvl, ok := levels.Level(e)
		if !ok {
			return
		}
		kv := []any{"method", e.Method, "addr", e.Address}
		if e.Target != "" {
			kv = append(kv, "target", e.Target)
		}
		if e.Depth > 0 {
			kv = append(kv, "depth", e.Depth)
		}
		if e.Detail != "" {
			kv = append(kv, "detail", e.Detail)
		}
		if e.Kind.Degraded() || e.Kind == vm.EventEmulated || e.Kind == vm.EventReflected {
			kv = append(kv, "kind", e.Kind.String())
		}
		if e.Resolution != "" {
			kv = append(kv, "resolution", string(e.Resolution))
		}
		lg.Log(lvl, eventMessages[e.Kind], kv...)
	})
}
