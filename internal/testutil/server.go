// Package testutil provides scripted event-stream servers and context
// helpers for tests.
package testutil

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// RecordedRequest is a request received by a StreamServer.
type RecordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// StreamHandler writes a response. flush pushes everything written so far
// to the client as its own chunk.
type StreamHandler func(w http.ResponseWriter, r *http.Request, flush func())

// StreamServer is an httptest server answering with text/event-stream and
// recording every request it receives.
type StreamServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []RecordedRequest
}

// NewStreamServer starts a server that writes each chunk and flushes after
// it, then ends the response.
func NewStreamServer(t *testing.T, chunks ...string) *StreamServer {
	t.Helper()
	return NewStreamServerFunc(t, func(w http.ResponseWriter, _ *http.Request, flush func()) {
		for _, chunk := range chunks {
			_, _ = io.WriteString(w, chunk)
			flush()
		}
	})
}

// NewStreamServerFunc starts a server that delegates the body to handler.
// The server is closed when the test ends.
func NewStreamServerFunc(t *testing.T, handler StreamHandler) *StreamServer {
	t.Helper()

	s := &StreamServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		s.record(RecordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Header: r.Header.Clone(),
			Body:   body,
		})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)

		flusher, _ := w.(http.Flusher)
		handler(w, r, func() {
			if flusher != nil {
				flusher.Flush()
			}
		})
	}))
	t.Cleanup(s.Close)

	return s
}

func (s *StreamServer) record(req RecordedRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
}

// Requests returns the requests received so far.
func (s *StreamServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// LastRequest returns the most recent request, or false if none arrived.
func (s *StreamServer) LastRequest() (RecordedRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return RecordedRequest{}, false
	}
	return s.requests[len(s.requests)-1], true
}
