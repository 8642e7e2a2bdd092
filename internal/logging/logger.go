// Package logging provides structured logging with file output support.
// It uses environment variables for configuration and adapts engine events
// to log records.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"simplify/internal/vm"
)

// LoggerCloser wraps a logger and provides a Close method for cleanup
type LoggerCloser struct {
	*log.Logger
	// Events is the level each engine event kind is logged at.
	Events EventLevels
	closer io.Closer
}

// Close closes the underlying writer if it's closeable
func (lc *LoggerCloser) Close() error {
	if lc.closer != nil {
		return lc.closer.Close()
	}
	return nil
}

// ParseLevel maps a level name to a log level, defaulting to info.
func ParseLevel(level string) log.Level {
	switch level {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// EventLevels maps engine event kinds to log levels. Kinds missing from the
// map are not logged.
type EventLevels map[vm.EventKind]log.Level

// DefaultEventLevels warns on exhaustion, reports finished methods at info and
// keeps call resolution at debug. Invoke events are not logged.
func DefaultEventLevels() EventLevels {
	return EventLevels{
		vm.EventCallDepthExceeded:     log.WarnLevel,
		vm.EventNodeVisitsExceeded:    log.WarnLevel,
		vm.EventAddressVisitsExceeded: log.WarnLevel,
		vm.EventUnsupportedOp:         log.DebugLevel,
		vm.EventUnresolvedCall:        log.DebugLevel,
		vm.EventEmulated:              log.DebugLevel,
		vm.EventReflected:             log.DebugLevel,
		vm.EventMethodExecuted:        log.InfoLevel,
	}
}

// Level returns the level e is logged at. Executions of nested callees never
// log above debug.
func (l EventLevels) Level(e vm.Event) (log.Level, bool) {
	lvl, ok := l[e.Kind]
	if ok && e.Kind == vm.EventMethodExecuted && e.Depth > 0 && lvl > log.DebugLevel {
		lvl = log.DebugLevel
	}
	return lvl, ok
}

// ParseEventLevels applies comma separated kind=level overrides to the
// defaults, e.g. "unresolved-call=info,method-executed=off".
func ParseEventLevels(spec string) (EventLevels, error) {
	levels := DefaultEventLevels()
	kinds := map[string]vm.EventKind{}
	for k := vm.EventCallDepthExceeded; k <= vm.EventInvoke; k++ {
		kinds[k.String()] = k
	}
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, level, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("event level %q: want kind=level", part)
		}
		k, ok := kinds[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("event level %q: unknown kind", part)
		}
		level = strings.TrimSpace(level)
		if level == "off" {
			delete(levels, k)
			continue
		}
		levels[k] = ParseLevel(level)
	}
	return levels, nil
}

// NewLoggerWithWriter creates a new logger with the provided writer
func NewLoggerWithWriter(w io.Writer) *LoggerCloser {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})
	lg.SetLevel(ParseLevel(os.Getenv("SIMPLIFY_LOG_LEVEL")))

	prefix := os.Getenv("SIMPLIFY_LOG_PREFIX")
	if prefix == "" {
		prefix = "simplify "
	}

	var closer io.Closer
	if c, ok := w.(io.Closer); ok && w != io.Writer(os.Stderr) && w != io.Writer(os.Stdout) {
		closer = c
	}

	events, err := ParseEventLevels(os.Getenv("SIMPLIFY_LOG_EVENTS"))
	if err != nil {
		lg.Warn("ignoring SIMPLIFY_LOG_EVENTS", "err", err)
		events = DefaultEventLevels()
	}

	return &LoggerCloser{
		Logger: lg.WithPrefix(prefix),
		Events: events,
		closer: closer,
	}
}

// NewLogger creates a new logger based on environment variables
// SIMPLIFY_LOG_LEVEL: debug, info, warn, error (default: info)
// SIMPLIFY_LOG_PREFIX: prefix for log messages (default: "simplify ")
// SIMPLIFY_LOG_TO_FILE: when set to "1", logs to a timestamped file instead of stderr
// SIMPLIFY_LOG_EVENTS: per event kind levels, e.g. "unresolved-call=info"
func NewLogger() *LoggerCloser {
	output := io.Writer(os.Stderr)

	if os.Getenv("SIMPLIFY_LOG_TO_FILE") == "1" {
		timestamp := time.Now().Format("20060102-150405")
		logFile := fmt.Sprintf("simplify-%s-debug.log", timestamp)

		f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err == nil {
			output = f
		}
		// If file creation fails, fall back to stderr
	}

	return NewLoggerWithWriter(output)
}

// IsDebug returns true if debug logging is enabled
func IsDebug() bool {
	return os.Getenv("SIMPLIFY_LOG_LEVEL") == "debug"
}
