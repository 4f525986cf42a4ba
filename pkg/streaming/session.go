package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	httputil "github.com/cecil-the-coder/docqa-stream/internal/http"
	"github.com/cecil-the-coder/docqa-stream/pkg/streaming/decoders"
)

// Session is one streamed request from issue to termination or abort.
type Session struct {
	id      string
	client  *StreamClient
	handler Handler
	log     *logrus.Entry

	ctx     context.Context
	cancel  context.CancelFunc
	aborted atomic.Bool
	done    chan struct{}

	// Written by the read loop only.
	messages     int
	lastTerminal string
	inOnError    bool

	mu    sync.RWMutex
	stats SessionStats
}

func newSession(ctx context.Context, cancel context.CancelFunc, c *StreamClient, handler Handler) *Session {
	id := newSessionID()
	return &Session{
		id:      id,
		client:  c,
		handler: handler,
		log:     c.logger.WithField("session_id", id),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		stats: SessionStats{
			ID:        id,
			Outcome:   OutcomeRunning,
			StartedAt: time.Now(),
		},
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Abort cancels the session. The in-flight request or read is interrupted
// and the read loop exits without invoking OnError or a synthesized
// OnDone. Abort is idempotent, may be called from any goroutine, and is a
// no-op once the session has ended.
func (s *Session) Abort() {
	if s.aborted.CompareAndSwap(false, true) {
		s.log.Debug("abort requested")
		s.cancel()
	}
}

// Done is closed when the read loop has exited and the response body has
// been released.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session ends and returns its outcome.
func (s *Session) Wait() Outcome {
	<-s.done
	return s.Outcome()
}

// Outcome returns how the session ended, or OutcomeRunning.
func (s *Session) Outcome() Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats.Outcome
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() SessionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// run owns the request for the whole session. Every exit path closes the
// response body and the done channel.
func (s *Session) run(req *http.Request) {
	defer close(s.done)
	defer s.cancel()
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("stream callback panicked")
			if !s.inOnError && !s.cancelled() {
				s.reportPanic(r)
			}
			s.finish(OutcomeFailed, nil)
		}
	}()

	resp, err := s.client.http.Do(s.ctx, req)
	if err != nil {
		s.fail(fmt.Errorf("stream request failed: %w", err), nil)
		return
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck // Best effort close
	}()

	s.setStatus(resp.StatusCode)
	if err := httputil.CheckStatus(resp); err != nil {
		s.fail(fmt.Errorf("stream request failed: %w", err), nil)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if decoders.DetectFromContentType(contentType) != decoders.StreamFormatSSE {
		s.log.WithField("content_type", contentType).Warn("response is not an event stream, decoding anyway")
	}

	dec := decoders.NewEventDecoder(s.wrapHandler())
	dec.Observe = s.observe
	dec.Stopped = s.aborted.Load
	s.readLoop(resp.Body, dec)
}

// readLoop pulls chunks until a terminal event, end of stream, a read
// failure or an abort. Bytes returned together with an error are decoded
// before the error is looked at.
func (s *Session) readLoop(body io.Reader, dec *decoders.EventDecoder) {
	buf := make([]byte, s.client.cfg.ReadBufferSize)

	for {
		if s.aborted.Load() {
			s.finish(OutcomeAborted, dec)
			return
		}

		n, err := body.Read(buf)
		if n > 0 && dec.Feed(buf[:n]) {
			s.finish(s.endOutcome(), dec)
			return
		}
		if err == nil {
			continue
		}

		if errors.Is(err, io.EOF) {
			if s.aborted.Load() {
				s.finish(OutcomeAborted, dec)
				return
			}
			if dec.Close() {
				s.lastTerminal = decoders.EventDone
				s.log.Debug("stream closed without a terminal event")
			}
			s.finish(s.endOutcome(), dec)
			return
		}

		s.fail(fmt.Errorf("stream read failed: %w", err), dec)
		return
	}
}

// fail reports err through OnError unless the session was cancelled, in
// which case the error is the cancellation surfacing and is swallowed.
func (s *Session) fail(err error, dec *decoders.EventDecoder) {
	if s.cancelled() {
		s.log.WithError(err).Debug("stream cancelled")
		s.finish(OutcomeAborted, dec)
		return
	}

	s.log.WithError(err).Warn("stream failed")
	s.reportError(err.Error())
	s.finish(OutcomeFailed, dec)
}

// reportError invokes OnError. inOnError stays set if the callback
// panics, so the panic is not reported through OnError again.
func (s *Session) reportError(message string) {
	if s.handler.OnError == nil {
		return
	}
	s.inOnError = true
	s.handler.OnError(message)
	s.inOnError = false
}

// reportPanic surfaces a recovered callback panic through OnError.
func (s *Session) reportPanic(r any) {
	defer func() {
		if again := recover(); again != nil {
			s.log.WithField("panic", again).Error("error callback panicked")
		}
	}()
	s.reportError(fmt.Sprintf("stream callback panicked: %v", r))
}

// cancelled reports whether the session's own cancellation was requested,
// through Abort or by cancelling the context given to Start. A deadline
// on that context is a failure, not a cancellation.
func (s *Session) cancelled() bool {
	return s.aborted.Load() || errors.Is(s.ctx.Err(), context.Canceled)
}

func (s *Session) wrapHandler() Handler {
	return Handler{
		OnMessage: func(text string) {
			s.messages++
			if s.handler.OnMessage != nil {
				s.handler.OnMessage(text)
			}
		},
		OnDone:  s.handler.OnDone,
		OnError: s.reportError,
	}
}

func (s *Session) observe(frame decoders.Frame) {
	switch {
	case frame.IsTerminal():
		s.lastTerminal = frame.Type
	case frame.Type != decoders.EventMessage:
		s.log.WithField("event", frame.Type).Debug("ignoring unknown event type")
	}
}

// endOutcome is the outcome once the decoder stops. A stop caused by
// Abort before any terminal event is an abort.
func (s *Session) endOutcome() Outcome {
	if s.lastTerminal == "" && s.aborted.Load() {
		return OutcomeAborted
	}
	return s.terminalOutcome()
}

func (s *Session) terminalOutcome() Outcome {
	if s.lastTerminal == decoders.EventError {
		return OutcomeFailed
	}
	return OutcomeCompleted
}

func (s *Session) setStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.StatusCode = code
}

// finish records the final outcome once.
func (s *Session) finish(outcome Outcome, dec *decoders.EventDecoder) {
	s.mu.Lock()
	if s.stats.Outcome != OutcomeRunning {
		s.mu.Unlock()
		return
	}
	s.stats.Outcome = outcome
	s.stats.Duration = time.Since(s.stats.StartedAt)
	s.stats.Messages = s.messages
	if dec != nil {
		ds := dec.Stats()
		s.stats.Chunks = ds.Chunks
		s.stats.Bytes = ds.Bytes
		s.stats.Lines = ds.Lines
		s.stats.Frames = ds.Frames
		s.stats.Dropped = ds.Dropped
		s.stats.Discarded = ds.Discarded
	}
	stats := s.stats
	s.mu.Unlock()

	s.client.counters.end(outcome)
	s.log.WithFields(logrus.Fields{
		"outcome":  stats.Outcome,
		"frames":   stats.Frames,
		"messages": stats.Messages,
		"dropped":  stats.Dropped,
		"duration": stats.Duration,
	}).Debug("stream ended")
}
