package cs

import (
	"fmt"
	"strings"

	"github.com/banshee-data/cs-ranging/internal/monitoring"
)

// EventKind classifies a decode or assembly diagnostic.
type EventKind string

const (
	EventIncompleteHeader   EventKind = "incomplete_header"
	EventInvalidMode        EventKind = "invalid_mode"
	EventInvalidChannel     EventKind = "invalid_channel"
	EventIncompleteStepData EventKind = "incomplete_step_data"
	EventInvalidBodyLength  EventKind = "invalid_body_length"
	EventInvalidToneCount   EventKind = "invalid_tone_count"
	EventMissingField       EventKind = "missing_field"
	EventInvalidField       EventKind = "invalid_field"
	EventMissingStepData    EventKind = "missing_step_data"
	EventInvalidStepHex     EventKind = "invalid_step_hex"
)

// Severity of a diagnostic event.
type Severity string

const (
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Event is a structured diagnostic raised while decoding steps or assembling a
// subevent. Fields that do not apply to a kind are left zero.
type Event struct {
	Kind     EventKind
	Severity Severity
	// Offset is the byte offset of the step header within the step buffer.
	Offset  int
	Mode    uint8
	Channel uint8
	// Length is the declared body length, or the remaining byte count for
	// truncation events.
	Length int
	// Field names the subevent label for assembly events.
	Field  string
	Detail string
}

func (e Event) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Severity, e.Kind)
	switch e.Kind {
	case EventIncompleteHeader, EventIncompleteStepData:
		fmt.Fprintf(&b, " offset=%d remaining=%d", e.Offset, e.Length)
	case EventInvalidMode, EventInvalidChannel, EventInvalidBodyLength, EventInvalidToneCount:
		fmt.Fprintf(&b, " offset=%d mode=%d channel=%d len=%d", e.Offset, e.Mode, e.Channel, e.Length)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field=%q", e.Field)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

// EventSink receives diagnostic events. Sinks are called synchronously from
// the decoding goroutine.
type EventSink func(Event)

// LogSink writes every event through monitoring.Logf and bumps the diagnostic
// counter.
func LogSink(e Event) {
	monitoring.DecodeEvents.WithLabelValues(string(e.Kind)).Inc()
	monitoring.Logf("cs: %s", e)
}

// DiscardSink drops every event.
func DiscardSink(Event) {}

// Recorder collects events in memory. It is not safe for concurrent use.
type Recorder struct {
	Events []Event
}

// Sink returns an EventSink appending to r.
func (r *Recorder) Sink() EventSink {
	return func(e Event) { r.Events = append(r.Events, e) }
}

// Kinds returns the kinds of all recorded events in order.
func (r *Recorder) Kinds() []EventKind {
	kinds := make([]EventKind, 0, len(r.Events))
	for _, e := range r.Events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// Reset drops recorded events.
func (r *Recorder) Reset() { r.Events = r.Events[:0] }
