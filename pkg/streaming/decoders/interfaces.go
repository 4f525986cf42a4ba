// Package decoders turns a chunked Server-Sent Events byte stream into
// discrete application events. Bytes are framed into lines, lines are
// assembled into records, and labeled records are dispatched to callbacks.
package decoders

import (
	"io"
)

// StreamFormat represents the format of a streaming response.
type StreamFormat string

const (
	// StreamFormatSSE represents Server-Sent Events format.
	StreamFormatSSE StreamFormat = "sse"

	// StreamFormatUnknown represents an unknown or undetected format.
	StreamFormatUnknown StreamFormat = "unknown"
)

// Event types understood by the Dispatcher. Any other type is ignored.
const (
	EventMessage = "message"
	EventDone    = "done"
	EventError   = "error"
)

// Frame is the parsed result of flushing one labeled record.
type Frame struct {
	// Type comes from the "event:" field. It is never empty.
	Type string

	// Data is every "data:" line of the record joined with "\n".
	Data string
}

// IsTerminal reports whether dispatching this frame ends the stream.
func (f Frame) IsTerminal() bool {
	return f.Type == EventDone || f.Type == EventError
}

// Handler holds the callbacks a Dispatcher invokes. Nil callbacks are
// skipped.
type Handler struct {
	// OnMessage receives the data of a non-empty "message" frame.
	OnMessage func(text string)

	// OnDone is invoked once when the stream completes.
	OnDone func()

	// OnError receives the data of an "error" frame, or a transport
	// failure message when used by a session.
	OnError func(message string)
}

// FrameReader is implemented by pull-style decoders bound to an io.Reader.
type FrameReader interface {
	// Decode returns the next labeled frame. It returns io.EOF when the
	// stream ends.
	Decode(reader io.Reader) (Frame, error)

	// Format returns the stream format this decoder handles.
	Format() StreamFormat
}
