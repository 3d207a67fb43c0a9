// Package agent is the log-collection companion: it tails log files,
// turns lines into structured security events, buffers them, and ships
// batches to the server over the wire protocol.
package agent

import (
	"time"

	"github.com/google/uuid"

	"github.com/cubefs/docdb/proto"
)

// Event is one parsed security event on its way to the
// security_events collection.
type Event struct {
	ID        string
	Timestamp time.Time
	Source    string
	Severity  string
	Message   string
	Fields    []proto.Member
}

func NewEvent(source, severity, message string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		Severity:  severity,
		Message:   message,
	}
}

// Document renders the event as a wire document.
func (e *Event) Document() *proto.Value {
	doc := proto.Object(
		proto.Member{Key: "event_id", Value: proto.String(e.ID)},
		proto.Member{Key: "timestamp", Value: proto.String(e.Timestamp.Format(time.RFC3339))},
		proto.Member{Key: "source", Value: proto.String(e.Source)},
		proto.Member{Key: "severity", Value: proto.String(e.Severity)},
		proto.Member{Key: "message", Value: proto.String(e.Message)},
	)
	for _, m := range e.Fields {
		doc.SetField(m.Key, m.Value)
	}
	return doc
}

// Parser turns one raw log line into an event. The production parsers
// live outside this module; the agent only needs the contract and a
// passthrough implementation.
type Parser interface {
	Parse(source, line string) (*Event, bool)
}

// RawParser forwards every non-empty line unparsed.
type RawParser struct {
	Severity string
}

func (p *RawParser) Parse(source, line string) (*Event, bool) {
	if line == "" {
		return nil, false
	}
	severity := p.Severity
	if severity == "" {
		severity = "info"
	}
	return NewEvent(source, severity, line), true
}
