// Package streaming opens answer streams against a document-QA service
// and delivers their events to caller callbacks. Each call to Start owns
// one HTTP request, one read loop and one decoder; sessions share nothing
// but the underlying HTTP client.
package streaming

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	httputil "github.com/cecil-the-coder/docqa-stream/internal/http"
	"github.com/cecil-the-coder/docqa-stream/internal/logging"
	"github.com/cecil-the-coder/docqa-stream/pkg/config"
	"github.com/cecil-the-coder/docqa-stream/pkg/streaming/decoders"
	"github.com/cecil-the-coder/docqa-stream/pkg/types"
)

// Handler is the set of callbacks a session delivers events to. All
// callbacks of one session run on that session's goroutine, one at a time,
// in the order events arrived on the wire.
type Handler = decoders.Handler

// StreamClient starts streaming sessions. It is safe for concurrent use.
type StreamClient struct {
	cfg       *config.Config
	http      *httputil.HTTPClient
	streamURL string
	logger    *logrus.Logger
	counters  sessionCounters
}

// Option customizes a StreamClient.
type Option func(*clientOptions)

type clientOptions struct {
	logger              *logrus.Logger
	transport           http.RoundTripper
	requestInterceptor  httputil.RequestInterceptor
	responseInterceptor httputil.ResponseInterceptor
}

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(logger *logrus.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithTransport replaces the HTTP transport, e.g. for tests or proxies.
func WithTransport(transport http.RoundTripper) Option {
	return func(o *clientOptions) {
		o.transport = transport
	}
}

// WithRequestInterceptor lets the caller adjust every outgoing request.
func WithRequestInterceptor(interceptor httputil.RequestInterceptor) Option {
	return func(o *clientOptions) {
		o.requestInterceptor = interceptor
	}
}

// WithResponseInterceptor inspects every response before its body is
// read. An error from the interceptor fails the session through OnError.
func WithResponseInterceptor(interceptor httputil.ResponseInterceptor) Option {
	return func(o *clientOptions) {
		o.responseInterceptor = interceptor
	}
}

// NewStreamClient creates a client for the endpoint described by cfg. A
// nil cfg means config.Default().
func NewStreamClient(cfg *config.Config, opts ...Option) (*StreamClient, error) {
	if cfg == nil {
		cfg = config.Default()
	} else {
		copied := *cfg
		cfg = &copied
		cfg.ApplyDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	streamURL, err := cfg.StreamURL()
	if err != nil {
		return nil, fmt.Errorf("failed to build stream URL: %w", err)
	}

	options := clientOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = logging.Discard()
	}

	builder := httputil.NewHTTPClientBuilder().
		WithTimeout(cfg.Timeout).
		WithHeaders(cfg.Headers).
		WithHeaders(httputil.StreamHeaders()).
		WithUserAgent(cfg.UserAgent).
		WithRateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	if options.transport != nil {
		builder = builder.WithTransport(options.transport)
	}
	if options.requestInterceptor != nil {
		builder = builder.WithRequestInterceptor(options.requestInterceptor)
	}
	if options.responseInterceptor != nil {
		builder = builder.WithResponseInterceptor(options.responseInterceptor)
	}

	return &StreamClient{
		cfg:       cfg,
		http:      builder.Build(),
		streamURL: streamURL,
		logger:    options.logger,
	}, nil
}

// Start issues the chat stream request and returns immediately. The
// request is sent and read on a goroutine owned by the returned Session.
//
// Start only fails for problems found before anything is sent; every later
// failure is reported through handler.OnError. Cancelling ctx has the same
// effect as Session.Abort.
func (c *StreamClient) Start(ctx context.Context, req types.ChatRequest, handler Handler) (*Session, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}

	sessionCtx, cancel := context.WithCancel(ctx)

	httpReq, err := httputil.NewJSONRequest(sessionCtx, http.MethodPost, c.streamURL, req.Payload())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}

	s := newSession(sessionCtx, cancel, c, handler)
	s.log = c.logger.WithFields(logrus.Fields{
		"session_id": s.id,
		"collection": req.Collection(),
	})

	c.counters.begin()
	s.log.WithField("url", c.streamURL).Debug("starting stream")

	go s.run(httpReq)

	return s, nil
}

// Metrics returns a snapshot of session and HTTP counters.
func (c *StreamClient) Metrics() ClientMetrics {
	metrics := c.counters.snapshot()
	metrics.HTTP = c.http.GetMetrics()
	return metrics
}

// StreamURL returns the endpoint sessions are opened against.
func (c *StreamClient) StreamURL() string {
	return c.streamURL
}

func newSessionID() string {
	return uuid.NewString()
}
