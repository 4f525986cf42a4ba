package decoders

import (
	"errors"
	"fmt"
	"io"
)

const defaultReadSize = 4096

// SSEDecoder is a pull-style decoder: each Decode call reads from the
// stream until the next labeled record is complete. It shares the framing
// and assembly rules of EventDecoder but performs no dispatch, so terminal
// frames are returned like any other and the caller decides when to stop.
//
// Note: SSEDecoder keeps state across Decode calls and binds to the first
// reader it is given. Create a new SSEDecoder for each independent stream.
type SSEDecoder struct {
	reader    io.Reader
	framer    *LineFramer
	assembler *EventAssembler
	lines     []string
	buf       []byte
	eof       bool
	flushed   bool
}

// NewSSEDecoder creates a new SSE decoder.
func NewSSEDecoder() *SSEDecoder {
	return &SSEDecoder{
		framer:    NewLineFramer(),
		assembler: NewEventAssembler(),
		buf:       make([]byte, defaultReadSize),
	}
}

// Format returns the stream format this decoder handles.
func (d *SSEDecoder) Format() StreamFormat {
	return StreamFormatSSE
}

// Decode returns the next labeled frame, or io.EOF once the stream is
// exhausted. At end of stream the trailing partial line is discarded and
// the pending record gets one final flush.
func (d *SSEDecoder) Decode(reader io.Reader) (Frame, error) {
	if d.reader == nil {
		d.reader = reader
	}

	for {
		for len(d.lines) > 0 {
			line := d.lines[0]
			d.lines = d.lines[1:]
			if frame, ok := d.assembler.Consume(line); ok {
				return frame, nil
			}
		}

		if d.eof {
			if !d.flushed {
				d.flushed = true
				d.framer.Discard()
				if frame, ok := d.assembler.Flush(); ok {
					return frame, nil
				}
			}
			return Frame{}, io.EOF
		}

		n, err := d.reader.Read(d.buf)
		if n > 0 {
			d.lines = append(d.lines, d.framer.Feed(d.buf[:n])...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.eof = true
				continue
			}
			return Frame{}, fmt.Errorf("error reading stream: %w", err)
		}
	}
}
