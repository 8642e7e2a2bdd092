package logging

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/google/go-cmp/cmp"

	"simplify/internal/vm"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want log.Level
	}{
		{"debug", log.DebugLevel},
		{"warn", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"", log.InfoLevel},
		{"loud", log.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLoggerWithWriter(t *testing.T) {
	t.Setenv("SIMPLIFY_LOG_LEVEL", "warn")
	t.Setenv("SIMPLIFY_LOG_PREFIX", "")
	var buf bytes.Buffer
	lg := NewLoggerWithWriter(&buf)
	defer lg.Close()

	lg.Info("hidden")
	lg.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("level filter failed: %q", out)
	}
	if !strings.Contains(out, "simplify") {
		t.Errorf("default prefix missing: %q", out)
	}
}

func TestCloseKeepsStderr(t *testing.T) {
	lg := NewLoggerWithWriter(os.Stderr)
	if err := lg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stderr.Stat(); err != nil {
		t.Errorf("stderr closed by the logger: %v", err)
	}
}

func TestEventSink(t *testing.T) {
	var buf bytes.Buffer
	lg := log.New(&buf)
	lg.SetLevel(log.InfoLevel)
	sink := NewEventSink(lg, nil)

	sink.Emit(vm.Event{Kind: vm.EventAddressVisitsExceeded, Method: "LFoo;->f()V", Detail: "500"})
	sink.Emit(vm.Event{Kind: vm.EventUnresolvedCall, Method: "LFoo;->f()V", Target: "LBar;->g()V"})
	sink.Emit(vm.Event{Kind: vm.EventMethodExecuted, Method: "LFoo;->f()V", Depth: 0})
	sink.Emit(vm.Event{Kind: vm.EventMethodExecuted, Method: "LFoo;->inner()V", Depth: 1})
	sink.Emit(vm.Event{Kind: vm.EventInvoke, Method: "LFoo;->f()V"})

	out := buf.String()
	for _, want := range []string{"resource exhausted", "address-visits-exceeded", "executed"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
	for _, unwanted := range []string{"unresolved call", "inner", "invoke"} {
		if strings.Contains(out, unwanted) {
			t.Errorf("log has %q at info level:\n%s", unwanted, out)
		}
	}
}

func TestParseEventLevels(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		change  func(EventLevels)
		wantErr bool
	}{
		{name: "empty", spec: ""},
		{
			name:   "raise",
			spec:   "unresolved-call=info",
			change: func(l EventLevels) { l[vm.EventUnresolvedCall] = log.InfoLevel },
		},
		{
			name: "off and on",
			spec: " method-executed=off , invoke=debug",
			change: func(l EventLevels) {
				delete(l, vm.EventMethodExecuted)
				l[vm.EventInvoke] = log.DebugLevel
			},
		},
		{name: "unknown kind", spec: "loud=info", wantErr: true},
		{name: "missing level", spec: "invoke", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEventLevels(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEventLevels(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			want := DefaultEventLevels()
			if tt.change != nil {
				tt.change(want)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("levels mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEventLevelsFromEnv(t *testing.T) {
	t.Setenv("SIMPLIFY_LOG_LEVEL", "info")
	t.Setenv("SIMPLIFY_LOG_EVENTS", "unresolved-call=warn,resolved=info")
	var buf bytes.Buffer
	lg := NewLoggerWithWriter(&buf)
	if !strings.Contains(buf.String(), "ignoring SIMPLIFY_LOG_EVENTS") {
		t.Errorf("bad override not reported: %q", buf.String())
	}
	if diff := cmp.Diff(DefaultEventLevels(), lg.Events); diff != "" {
		t.Errorf("bad override not replaced by defaults (-want +got):\n%s", diff)
	}

	t.Setenv("SIMPLIFY_LOG_EVENTS", "unresolved-call=warn")
	buf.Reset()
	lg = NewLoggerWithWriter(&buf)
	sink := NewEventSink(lg.Logger, lg.Events)
	sink.Emit(vm.Event{Kind: vm.EventUnresolvedCall, Method: "LFoo;->f()V", Target: "LBar;->g()V"})
	if !strings.Contains(buf.String(), "unresolved call") {
		t.Errorf("raised event kind not logged: %q", buf.String())
	}
}
