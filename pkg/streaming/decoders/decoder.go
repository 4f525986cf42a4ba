package decoders

// DecoderStats counts what an EventDecoder has processed.
type DecoderStats struct {
	Chunks    int
	Bytes     int
	Lines     int
	Frames    int
	Dropped   int
	Discarded int // bytes of a final partial line dropped at Close
}

// EventDecoder is the push-style decoder for one stream: network chunks go
// in through Feed, callbacks come out in wire order.
//
// Once a terminal frame has been dispatched, or Close has run, the decoder
// is terminated and ignores any further input. EventDecoder is confined to
// the goroutine reading the stream and is not safe for concurrent use.
type EventDecoder struct {
	framer     *LineFramer
	assembler  *EventAssembler
	dispatcher *Dispatcher

	// Observe, when set, sees every frame before it is dispatched.
	Observe func(Frame)

	// Stopped, when set, is consulted before each dispatch. Once it
	// reports true the decoder terminates without invoking any further
	// callback, including the synthesized OnDone.
	Stopped func() bool

	terminated bool
	stats      DecoderStats
}

// NewEventDecoder creates a decoder that dispatches to handler.
func NewEventDecoder(handler Handler) *EventDecoder {
	return &EventDecoder{
		framer:     NewLineFramer(),
		assembler:  NewEventAssembler(),
		dispatcher: NewDispatcher(handler),
	}
}

// Feed processes one network chunk and reports whether the stream reached
// a terminal event or was stopped. Lines after a terminal frame in the
// same chunk are not processed.
func (d *EventDecoder) Feed(chunk []byte) bool {
	if d.terminated {
		return true
	}

	d.stats.Chunks++
	d.stats.Bytes += len(chunk)

	for _, line := range d.framer.Feed(chunk) {
		d.stats.Lines++
		frame, ok := d.assembler.Consume(line)
		if !ok {
			continue
		}
		if d.stopped() {
			d.terminated = true
			d.framer.Discard()
			return true
		}
		if d.dispatch(frame) {
			d.terminated = true
			d.framer.Discard()
			return true
		}
	}

	return false
}

// Close handles the natural end of the stream. The partial trailing line
// is discarded, the pending record gets one last flush, and if that does
// not dispatch a terminal event OnDone is synthesized. It reports whether
// OnDone was synthesized. Close after termination is a no-op.
func (d *EventDecoder) Close() bool {
	if d.terminated {
		return false
	}
	d.terminated = true

	d.stats.Discarded += d.framer.Discard()
	if d.stopped() {
		return false
	}
	if frame, ok := d.assembler.Flush(); ok && d.dispatch(frame) {
		return false
	}
	if d.stopped() {
		return false
	}

	d.dispatcher.done()
	return true
}

// Terminated reports whether a terminal event has been delivered.
func (d *EventDecoder) Terminated() bool {
	return d.terminated
}

// Stats returns a snapshot of the decoder counters.
func (d *EventDecoder) Stats() DecoderStats {
	stats := d.stats
	stats.Dropped = d.assembler.Dropped()
	return stats
}

func (d *EventDecoder) stopped() bool {
	return d.Stopped != nil && d.Stopped()
}

func (d *EventDecoder) dispatch(frame Frame) bool {
	d.stats.Frames++
	if d.Observe != nil {
		d.Observe(frame)
	}
	return d.dispatcher.Dispatch(frame)
}
