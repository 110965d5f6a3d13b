// Package trace provides the event sink the lower layers emit progress and
// diagnostic events through, instead of interleaving fmt.Printf calls with
// register writes. The zero value of Sink (nil) and NoOp() both behave as a
// no-op, so the core functions with no sink supplied at all.
package trace

import (
	"fmt"
	"log"
)

// Event is a single trace point: a component tag, a terse message, and
// loosely-typed fields for register/port/slot context.
type Event struct {
	Component string
	Message   string
	Fields    map[string]any
}

// Sink receives trace Events. Implementations must not block the caller for
// any meaningful amount of time; the AHCI/TPM engines call Emit from inside
// their polling loops.
type Sink interface {
	Emit(Event)
}

type noopSink struct{}

func (noopSink) Emit(Event) {}

// NoOp returns a Sink that discards every event.
func NoOp() Sink { return noopSink{} }

// LogSink writes events through the standard library logger, matching the
// teacher codebase's own log.Printf/fmt.Printf diagnostics (no structured
// logging library appears anywhere in the example pack to reach for
// instead; see DESIGN.md).
type LogSink struct {
	Logger *log.Logger
}

// NewLogSink wraps an existing *log.Logger, or log.Default() if nil.
func NewLogSink(l *log.Logger) *LogSink {
	if l == nil {
		l = log.Default()
	}
	return &LogSink{Logger: l}
}

func (s *LogSink) Emit(e Event) {
	s.Logger.Printf("%s: %s %s", e.Component, e.Message, formatFields(e.Fields))
}

func formatFields(f map[string]any) string {
	if len(f) == 0 {
		return ""
	}
	out := ""
	for k, v := range f {
		out += fmt.Sprintf("%s=%v ", k, v)
	}
	return out
}

// Emit is a nil-safe helper: Emit(sink, ...) is a no-op when sink is nil.
func Emit(s Sink, component, message string, fields map[string]any) {
	if s == nil {
		return
	}
	s.Emit(Event{Component: component, Message: message, Fields: fields})
}
