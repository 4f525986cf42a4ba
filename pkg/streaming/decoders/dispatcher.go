package decoders

// Dispatcher maps a frame's type to one of the Handler callbacks.
type Dispatcher struct {
	handler Handler
}

// NewDispatcher creates a dispatcher for the given callbacks.
func NewDispatcher(handler Handler) *Dispatcher {
	return &Dispatcher{handler: handler}
}

// Dispatch invokes the callback for frame and reports whether the stream
// must stop.
//
//	message  -> OnMessage(data), only when data is non-empty
//	done     -> OnDone(), terminal
//	error    -> OnError(data), terminal
//	other    -> ignored
func (d *Dispatcher) Dispatch(frame Frame) bool {
	switch frame.Type {
	case EventMessage:
		if frame.Data != "" && d.handler.OnMessage != nil {
			d.handler.OnMessage(frame.Data)
		}
		return false

	case EventDone:
		d.done()
		return true

	case EventError:
		if d.handler.OnError != nil {
			d.handler.OnError(frame.Data)
		}
		return true

	default:
		return false
	}
}

func (d *Dispatcher) done() {
	if d.handler.OnDone != nil {
		d.handler.OnDone()
	}
}
