package decoders

import (
	"strings"
)

const (
	fieldEvent = "event:"
	fieldData  = "data:"
)

// EventAssembler groups consecutive lines into one pending record and
// flushes it on a blank line.
//
// Only records carrying an "event:" line produce a Frame. Records made of
// "data:" lines alone are dropped on flush. Unknown fields such as "id:",
// "retry:" and ":" comments are ignored.
type EventAssembler struct {
	eventType string
	dataLines []string

	// dropped counts flushes discarded for lacking an event type.
	dropped int
}

// NewEventAssembler creates an assembler with no pending record.
func NewEventAssembler() *EventAssembler {
	return &EventAssembler{}
}

// Consume applies one framed line. It returns a frame and true only when
// the line was blank and the pending record had an event type.
func (a *EventAssembler) Consume(line string) (Frame, bool) {
	switch {
	case line == "":
		return a.Flush()

	case strings.HasPrefix(line, fieldEvent):
		a.eventType = strings.TrimSpace(line[len(fieldEvent):])

	case strings.HasPrefix(line, fieldData):
		value := line[len(fieldData):]
		// Exactly one space, not all leading whitespace.
		value = strings.TrimPrefix(value, " ")
		a.dataLines = append(a.dataLines, value)

	default:
	}

	return Frame{}, false
}

// Flush ends the pending record. The pending state is reset whether or
// not a frame is produced.
func (a *EventAssembler) Flush() (Frame, bool) {
	defer a.reset()

	if a.eventType == "" {
		if len(a.dataLines) > 0 {
			a.dropped++
		}
		return Frame{}, false
	}

	return Frame{
		Type: a.eventType,
		Data: strings.Join(a.dataLines, "\n"),
	}, true
}

// Pending reports whether any field has been seen since the last flush.
func (a *EventAssembler) Pending() bool {
	return a.eventType != "" || len(a.dataLines) > 0
}

// Dropped returns how many unlabeled records have been discarded.
func (a *EventAssembler) Dropped() int {
	return a.dropped
}

func (a *EventAssembler) reset() {
	a.eventType = ""
	a.dataLines = nil
}
