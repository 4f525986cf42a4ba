package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cecil-the-coder/docqa-stream/internal/testutil"
	"github.com/cecil-the-coder/docqa-stream/pkg/config"
	"github.com/cecil-the-coder/docqa-stream/pkg/types"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// recorder collects callbacks as "message:<text>", "done" and
// "error:<text>" entries.
type recorder struct {
	mu       sync.Mutex
	calls    []string
	messages chan string
}

func newRecorder() *recorder {
	return &recorder{messages: make(chan string, 16)}
}

func (r *recorder) handler() Handler {
	return Handler{
		OnMessage: func(text string) {
			r.add("message:" + text)
			r.messages <- text
		},
		OnDone:  func() { r.add("done") },
		OnError: func(message string) { r.add("error:" + message) },
	}
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// trackingBody records whether Close was called.
type trackingBody struct {
	io.Reader
	closed atomic.Bool
}

func (b *trackingBody) Close() error {
	b.closed.Store(true)
	return nil
}

func newTestClient(t *testing.T, baseURL string, opts ...Option) *StreamClient {
	t.Helper()
	cfg := config.Default()
	cfg.BaseURL = baseURL
	client, err := NewStreamClient(cfg, opts...)
	require.NoError(t, err)
	return client
}

func waitOutcome(t *testing.T, s *Session) Outcome {
	t.Helper()
	testutil.WaitClosed(t, s.Done(), 5*time.Second)
	return s.Outcome()
}

func TestSession_StreamsMessagesInOrder(t *testing.T) {
	server := testutil.NewStreamServerFunc(t, func(w http.ResponseWriter, r *http.Request, flush func()) {
		_, _ = io.WriteString(w, "event: message\ndata: Hel")
		flush()
		_, _ = io.WriteString(w, "lo\n\n")
		flush()
		_, _ = io.WriteString(w, "event: message\ndata: , world\n\nevent: done\n\n")
		flush()
	})

	client := newTestClient(t, server.URL+"/api/v1")
	rec := newRecorder()

	s, err := client.Start(context.Background(), types.ChatRequest{
		KnowledgeBaseID: "manuals",
		Message:         "What is RAG?",
	}, rec.handler())
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())

	assert.Equal(t, OutcomeCompleted, waitOutcome(t, s))
	assert.Equal(t, []string{"message:Hello", "message:, world", "done"}, rec.Calls())

	req, ok := server.LastRequest()
	require.True(t, ok)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/v1/chat/stream", req.Path)
	assert.Equal(t, "text/event-stream", req.Header.Get("Accept"))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"collection":"manuals","question":"What is RAG?"}`, string(req.Body))

	stats := s.Stats()
	assert.Equal(t, http.StatusOK, stats.StatusCode)
	assert.Equal(t, 3, stats.Frames)
	assert.Equal(t, 2, stats.Messages)
	assert.Equal(t, OutcomeCompleted, stats.Outcome)
}

func TestSession_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	client := newTestClient(t, server.URL)
	rec := newRecorder()

	s, err := client.Start(context.Background(), types.ChatRequest{Message: "hi"}, rec.handler())
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, waitOutcome(t, s))
	assert.Equal(t, []string{"error:stream request failed: [502] upstream down"}, rec.Calls())
	assert.Equal(t, http.StatusBadGateway, s.Stats().StatusCode)
}

func TestSession_ServerClosesWithoutTerminal(t *testing.T) {
	server := testutil.NewStreamServerFunc(t, func(w http.ResponseWriter, r *http.Request, flush func()) {
		_, _ = io.WriteString(w, "event: message\ndata: a\n\nevent: message\ndata: partial")
	})

	client := newTestClient(t, server.URL)
	rec := newRecorder()

	s, err := client.Start(context.Background(), types.ChatRequest{Message: "hi"}, rec.handler())
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, waitOutcome(t, s))
	assert.Equal(t, []string{"message:a", "done"}, rec.Calls())
	assert.Equal(t, len("data: partial"), s.Stats().Discarded)
}

func TestSession_ErrorEventIsTerminal(t *testing.T) {
	server := testutil.NewStreamServerFunc(t, func(w http.ResponseWriter, r *http.Request, flush func()) {
		_, _ = io.WriteString(w, "event: error\ndata: index not ready\n\nevent: message\ndata: late\n\n")
	})

	client := newTestClient(t, server.URL)
	rec := newRecorder()

	s, err := client.Start(context.Background(), types.ChatRequest{Message: "hi"}, rec.handler())
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, waitOutcome(t, s))
	assert.Equal(t, []string{"error:index not ready"}, rec.Calls())
}

func TestSession_OrphanDataDropped(t *testing.T) {
	server := testutil.NewStreamServerFunc(t, func(w http.ResponseWriter, r *http.Request, flush func()) {
		_, _ = io.WriteString(w, "data: orphan\n\nevent: done\n\n")
	})

	client := newTestClient(t, server.URL)
	rec := newRecorder()

	s, err := client.Start(context.Background(), types.ChatRequest{Message: "hi"}, rec.handler())
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, waitOutcome(t, s))
	assert.Equal(t, []string{"done"}, rec.Calls())
	assert.Equal(t, 1, s.Stats().Dropped)
}

func TestSession_AbortBeforeFirstByte(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	client := newTestClient(t, server.URL)
	rec := newRecorder()

	s, err := client.Start(context.Background(), types.ChatRequest{Message: "hi"}, rec.handler())
	require.NoError(t, err)
	s.Abort()

	assert.Equal(t, OutcomeAborted, waitOutcome(t, s))
	assert.Empty(t, rec.Calls())
}

func TestSession_AbortMidStream(t *testing.T) {
	server := testutil.NewStreamServerFunc(t, func(w http.ResponseWriter, r *http.Request, flush func()) {
		_, _ = io.WriteString(w, "event: message\ndata: first\n\n")
		flush()
		<-r.Context().Done()
	})

	client := newTestClient(t, server.URL)
	rec := newRecorder()

	s, err := client.Start(context.Background(), types.ChatRequest{Message: "hi"}, rec.handler())
	require.NoError(t, err)

	select {
	case <-rec.messages:
	case <-time.After(5 * time.Second):
		t.Fatal("first message never arrived")
	}
	s.Abort()
	s.Abort()

	assert.Equal(t, OutcomeAborted, waitOutcome(t, s))
	assert.Equal(t, []string{"message:first"}, rec.Calls())
}

func TestSession_AbortAfterTerminationIsNoop(t *testing.T) {
	server := testutil.NewStreamServerFunc(t, func(w http.ResponseWriter, r *http.Request, flush func()) {
		_, _ = io.WriteString(w, "event: done\n\n")
	})

	client := newTestClient(t, server.URL)
	rec := newRecorder()

	s, err := client.Start(context.Background(), types.ChatRequest{Message: "hi"}, rec.handler())
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, waitOutcome(t, s))

	s.Abort()
	assert.Equal(t, OutcomeCompleted, s.Outcome())
	assert.Equal(t, []string{"done"}, rec.Calls())
}

func TestSession_ParentContextCancelled(t *testing.T) {
	server := testutil.NewStreamServerFunc(t, func(w http.ResponseWriter, r *http.Request, flush func()) {
		flush()
		<-r.Context().Done()
	})

	client := newTestClient(t, server.URL)
	rec := newRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	s, err := client.Start(ctx, types.ChatRequest{Message: "hi"}, rec.handler())
	require.NoError(t, err)
	cancel()

	assert.Equal(t, OutcomeAborted, waitOutcome(t, s))
	assert.Empty(t, rec.Calls())
}

func TestSession_TransportFailure(t *testing.T) {
	transport := roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection reset by peer")
	})

	client := newTestClient(t, "http://qa.example.com/api/v1", WithTransport(transport))
	rec := newRecorder()

	s, err := client.Start(context.Background(), types.ChatRequest{Message: "hi"}, rec.handler())
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, waitOutcome(t, s))
	calls := rec.Calls()
	require.Len(t, calls, 1)
	assert.True(t, strings.HasPrefix(calls[0], "error:stream request failed: "), calls[0])
	assert.Contains(t, calls[0], "connection reset by peer")
}

func TestSession_ReadFailureAfterData(t *testing.T) {
	body := &trackingBody{Reader: io.MultiReader(
		strings.NewReader("event: message\ndata: partial answer\n\n"),
		iotest.ErrReader(errors.New("unexpected EOF from proxy")),
	)}
	transport := roundTripFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
			Body:       body,
		}, nil
	})

	client := newTestClient(t, "http://qa.example.com", WithTransport(transport))
	rec := newRecorder()

	s, err := client.Start(context.Background(), types.ChatRequest{Message: "hi"}, rec.handler())
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, waitOutcome(t, s))
	assert.Equal(t, []string{
		"message:partial answer",
		"error:stream read failed: unexpected EOF from proxy",
	}, rec.Calls())
	assert.True(t, body.closed.Load(), "expected response body to be closed")
}

func TestSession_BodyClosedOnTerminal(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader("event: done\n\nevent: message\ndata: never\n\n")}
	transport := roundTripFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: body}, nil
	})

	client := newTestClient(t, "http://qa.example.com", WithTransport(transport))
	rec := newRecorder()

	s, err := client.Start(context.Background(), types.ChatRequest{Message: "hi"}, rec.handler())
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, waitOutcome(t, s))
	assert.Equal(t, []string{"done"}, rec.Calls())
	assert.True(t, body.closed.Load(), "expected response body to be closed")
}

func TestSession_CallbackPanicRecovered(t *testing.T) {
	server := testutil.NewStreamServerFunc(t, func(w http.ResponseWriter, r *http.Request, flush func()) {
		_, _ = io.WriteString(w, "event: message\ndata: boom\n\nevent: done\n\n")
	})

	client := newTestClient(t, server.URL)
	rec := newRecorder()
	handler := rec.handler()
	handler.OnMessage = func(string) { panic("handler bug") }

	s, err := client.Start(context.Background(), types.ChatRequest{Message: "hi"}, handler)
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, waitOutcome(t, s))
	assert.Equal(t, []string{"error:stream callback panicked: handler bug"}, rec.Calls())
}

func TestSession_ErrorCallbackPanicNotReportedAgain(t *testing.T) {
	server := testutil.NewStreamServerFunc(t, func(w http.ResponseWriter, r *http.Request, flush func()) {
		_, _ = io.WriteString(w, "event: error\ndata: index not ready\n\n")
	})

	client := newTestClient(t, server.URL)
	var errorCalls atomic.Int32
	s, err := client.Start(context.Background(), types.ChatRequest{Message: "hi"}, Handler{
		OnError: func(string) {
			errorCalls.Add(1)
			panic("error handler bug")
		},
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, waitOutcome(t, s))
	assert.EqualValues(t, 1, errorCalls.Load())
}

func TestSession_AbortFromCallbackStopsChunk(t *testing.T) {
	server := testutil.NewStreamServer(t,
		"event: message\ndata: a\n\nevent: message\ndata: b\n\nevent: error\ndata: boom\n\n",
	)

	client := newTestClient(t, server.URL)
	rec := newRecorder()
	handler := rec.handler()

	var s *Session
	started := make(chan struct{})
	onMessage := handler.OnMessage
	handler.OnMessage = func(text string) {
		onMessage(text)
		<-started
		s.Abort()
	}

	var err error
	s, err = client.Start(context.Background(), types.ChatRequest{Message: "hi"}, handler)
	require.NoError(t, err)
	close(started)

	assert.Equal(t, OutcomeAborted, waitOutcome(t, s))
	assert.Equal(t, []string{"message:a"}, rec.Calls())
	assert.Equal(t, OutcomeAborted, s.Stats().Outcome)
}

func TestSession_AbortFromDoneKeepsCompleted(t *testing.T) {
	server := testutil.NewStreamServer(t, "event: message\ndata: a\n\n")

	client := newTestClient(t, server.URL)
	rec := newRecorder()
	handler := rec.handler()

	var s *Session
	started := make(chan struct{})
	onDone := handler.OnDone
	handler.OnDone = func() {
		onDone()
		<-started
		s.Abort()
	}

	var err error
	s, err = client.Start(context.Background(), types.ChatRequest{Message: "hi"}, handler)
	require.NoError(t, err)
	close(started)

	assert.Equal(t, OutcomeCompleted, waitOutcome(t, s))
	assert.Equal(t, []string{"message:a", "done"}, rec.Calls())
}

func TestStart_EmptyMessage(t *testing.T) {
	client := newTestClient(t, "http://qa.example.com")

	_, err := client.Start(context.Background(), types.ChatRequest{Message: "  "}, Handler{})
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Zero(t, client.Metrics().SessionsStarted)
}

func TestNewStreamClient_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.BaseURL = "not a url"

	_, err := NewStreamClient(cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestNewStreamClient_NilConfig(t *testing.T) {
	client, err := NewStreamClient(nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/api/v1/chat/stream", client.StreamURL())
}

func TestStreamClient_ConcurrentSessions(t *testing.T) {
	server := testutil.NewStreamServerFunc(t, func(w http.ResponseWriter, r *http.Request, flush func()) {
		var payload types.StreamPayload
		_ = json.NewDecoder(r.Body).Decode(&payload)
		for _, word := range strings.Fields(payload.Question) {
			_, _ = io.WriteString(w, "event: message\ndata: "+word+"\n\n")
			flush()
		}
		_, _ = io.WriteString(w, "event: done\n\n")
	})

	client := newTestClient(t, server.URL)
	questions := []string{"alpha beta", "gamma delta epsilon", "zeta", "eta theta"}

	recorders := make([]*recorder, len(questions))
	sessions := make([]*Session, len(questions))
	for i, q := range questions {
		recorders[i] = newRecorder()
		s, err := client.Start(context.Background(), types.ChatRequest{Message: q}, recorders[i].handler())
		require.NoError(t, err)
		sessions[i] = s
	}

	for i, s := range sessions {
		require.Equal(t, OutcomeCompleted, waitOutcome(t, s))
		var expected []string
		for _, word := range strings.Fields(questions[i]) {
			expected = append(expected, "message:"+word)
		}
		expected = append(expected, "done")
		assert.Equal(t, expected, recorders[i].Calls())
	}

	metrics := client.Metrics()
	assert.EqualValues(t, len(questions), metrics.SessionsStarted)
	assert.EqualValues(t, len(questions), metrics.Completed)
	assert.Zero(t, metrics.Active)
	assert.EqualValues(t, len(questions), metrics.HTTP.TotalRequests)
}

func TestStreamClient_MetricsByOutcome(t *testing.T) {
	var calls atomic.Int32
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		switch calls.Add(1) {
		case 1:
			return &http.Response{StatusCode: http.StatusOK, Header: http.Header{},
				Body: io.NopCloser(strings.NewReader("event: done\n\n"))}, nil
		case 2:
			return &http.Response{StatusCode: http.StatusInternalServerError, Header: http.Header{},
				Body: io.NopCloser(strings.NewReader("boom"))}, nil
		default:
			<-req.Context().Done()
			return nil, req.Context().Err()
		}
	})

	client := newTestClient(t, "http://qa.example.com", WithTransport(transport))
	req := types.ChatRequest{Message: "hi"}

	s1, err := client.Start(context.Background(), req, Handler{})
	require.NoError(t, err)
	waitOutcome(t, s1)

	s2, err := client.Start(context.Background(), req, Handler{})
	require.NoError(t, err)
	waitOutcome(t, s2)

	s3, err := client.Start(context.Background(), req, Handler{})
	require.NoError(t, err)
	s3.Abort()
	waitOutcome(t, s3)

	metrics := client.Metrics()
	assert.EqualValues(t, 3, metrics.SessionsStarted)
	assert.EqualValues(t, 1, metrics.Completed)
	assert.EqualValues(t, 1, metrics.Failed)
	assert.EqualValues(t, 1, metrics.Aborted)
	assert.Zero(t, metrics.Active)
}

type headerInterceptor struct{}

func (headerInterceptor) Intercept(req *http.Request) error {
	req.Header.Set("X-Request-Source", "test")
	return nil
}

func TestStreamClient_RequestInterceptorAndConfigHeaders(t *testing.T) {
	server := testutil.NewStreamServerFunc(t, func(w http.ResponseWriter, r *http.Request, flush func()) {
		assert.Equal(t, "test", r.Header.Get("X-Request-Source"))
		assert.Equal(t, "acme", r.Header.Get("X-Tenant"))
		assert.Equal(t, config.DefaultUserAgent, r.Header.Get("User-Agent"))
		_, _ = io.WriteString(w, "event: done\n\n")
	})

	cfg := config.Default()
	cfg.BaseURL = server.URL
	cfg.Headers = map[string]string{"X-Tenant": "acme"}
	client, err := NewStreamClient(cfg, WithRequestInterceptor(headerInterceptor{}))
	require.NoError(t, err)

	s, err := client.Start(context.Background(), types.ChatRequest{Message: "hi"}, Handler{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, waitOutcome(t, s))
}

type rejectingInterceptor struct{}

func (rejectingInterceptor) Intercept(resp *http.Response) error {
	if resp.Header.Get("X-Index-State") != "ready" {
		return errors.New("index not ready")
	}
	return nil
}

func TestStreamClient_ResponseInterceptor(t *testing.T) {
	ready := testutil.NewStreamServerFunc(t, func(w http.ResponseWriter, r *http.Request, flush func()) {
		_, _ = io.WriteString(w, "event: done\n\n")
	})

	client := newTestClient(t, ready.URL, WithResponseInterceptor(rejectingInterceptor{}))
	rec := newRecorder()

	s, err := client.Start(context.Background(), types.ChatRequest{Message: "hi"}, rec.handler())
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, waitOutcome(t, s))
	assert.Equal(t, []string{"error:stream request failed: response interceptor failed: index not ready"}, rec.Calls())
}
