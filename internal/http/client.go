// Package http provides the HTTP client used to open answer streams.
// It applies default headers, request and response interceptors, and a
// client-side request rate limit, and records request metrics.
package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// HTTPClient issues requests whose response bodies may stay open for the
// lifetime of a stream. It never retries.
type HTTPClient struct {
	client       *http.Client
	config       HTTPClientConfig
	limiter      *rate.Limiter
	metrics      *ClientMetrics
	requestCount int64
	successCount int64
	errorCount   int64
	limitWaits   int64
	totalLatency int64 // Nanoseconds until response headers
	mu           sync.RWMutex
}

// HTTPClientConfig configures the HTTP client
type HTTPClientConfig struct {
	// Timeout bounds dialing, the TLS handshake and the wait for response
	// headers. Reading the body is unbounded so long streams stay open.
	Timeout             time.Duration       `json:"timeout,omitempty"`
	Headers             map[string]string   `json:"headers,omitempty"`
	UserAgent           string              `json:"user_agent,omitempty"`
	RequestsPerSecond   float64             `json:"requests_per_second,omitempty"`
	Burst               int                 `json:"burst,omitempty"`
	RequestInterceptor  RequestInterceptor  `json:"-"`
	ResponseInterceptor ResponseInterceptor `json:"-"`
	// Transport replaces the pooled transport built from the fields below.
	Transport http.RoundTripper `json:"-"`
	// Transport configuration
	MaxIdleConns        int           `json:"max_idle_conns,omitempty"`
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host,omitempty"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout,omitempty"`
}

// ClientMetrics tracks HTTP client performance
type ClientMetrics struct {
	TotalRequests   int64         `json:"total_requests"`
	SuccessfulReqs  int64         `json:"successful_requests"`
	FailedReqs      int64         `json:"failed_requests"`
	AvgLatency      time.Duration `json:"avg_latency"`
	LastRequestTime time.Time     `json:"last_request_time"`
	RateLimitWaits  int64         `json:"rate_limit_waits"`
	StatusCodes     map[int]int64 `json:"status_codes"`
}

// RequestInterceptor allows modifying requests before sending
type RequestInterceptor interface {
	Intercept(req *http.Request) error
}

// ResponseInterceptor allows processing responses after receiving
type ResponseInterceptor interface {
	Intercept(resp *http.Response) error
}

// NewHTTPClient creates a new HTTP client, filling unset fields with
// defaults.
func NewHTTPClient(config HTTPClientConfig) *HTTPClient {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 100
	}
	if config.MaxIdleConnsPerHost == 0 {
		config.MaxIdleConnsPerHost = 10
	}
	if config.IdleConnTimeout == 0 {
		config.IdleConnTimeout = 90 * time.Second
	}

	headers := make(map[string]string, len(config.Headers)+1)
	for k, v := range config.Headers {
		headers[k] = v
	}
	if config.UserAgent != "" {
		headers["User-Agent"] = config.UserAgent
	} else if _, ok := headers["User-Agent"]; !ok {
		headers["User-Agent"] = "docqa-stream/1.0"
	}
	config.Headers = headers

	transport := config.Transport
	if transport == nil {
		transport = createTransport(config)
	}

	client := &HTTPClient{
		// No client-wide Timeout: it would cut off open streams.
		client:  &http.Client{Transport: transport},
		config:  config,
		metrics: &ClientMetrics{StatusCodes: make(map[int]int64)},
	}

	if config.RequestsPerSecond > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		client.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	return client
}

// createTransport creates an http.Transport with the specified configuration
func createTransport(config HTTPClientConfig) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.Timeout,
		ResponseHeaderTimeout: config.Timeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// Do executes an HTTP request bound to ctx. Cancelling ctx aborts the
// request, including a response body still being read, and also aborts a
// pending rate limit wait.
func (c *HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if c.limiter.Tokens() < 1 {
			atomic.AddInt64(&c.limitWaits, 1)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	startTime := time.Now()
	atomic.AddInt64(&c.requestCount, 1)

	req = req.WithContext(ctx)

	// Apply request interceptor
	if c.config.RequestInterceptor != nil {
		if err := c.config.RequestInterceptor.Intercept(req); err != nil {
			atomic.AddInt64(&c.errorCount, 1)
			return nil, fmt.Errorf("request interceptor failed: %w", err)
		}
	}

	// Set default headers without overriding the caller's
	for key, value := range c.config.Headers {
		if req.Header.Get(key) == "" {
			req.Header.Set(key, value)
		}
	}

	resp, err := c.client.Do(req)
	if err == nil && c.config.ResponseInterceptor != nil {
		if interceptErr := c.config.ResponseInterceptor.Intercept(resp); interceptErr != nil {
			_ = resp.Body.Close() //nolint:errcheck // Best effort close
			resp = nil
			err = fmt.Errorf("response interceptor failed: %w", interceptErr)
		}
	}

	c.updateMetrics(resp, err, time.Since(startTime))

	return resp, err
}

// updateMetrics updates client metrics after a request
func (c *HTTPClient) updateMetrics(resp *http.Response, err error, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.LastRequestTime = time.Now()

	if err != nil {
		atomic.AddInt64(&c.errorCount, 1)
	} else {
		atomic.AddInt64(&c.successCount, 1)
		if resp != nil {
			c.metrics.StatusCodes[resp.StatusCode]++
		}
	}

	// Simplified average
	atomic.AddInt64(&c.totalLatency, latency.Nanoseconds())
	totalReqs := atomic.LoadInt64(&c.requestCount)
	if totalReqs > 0 {
		avgNanos := atomic.LoadInt64(&c.totalLatency) / totalReqs
		c.metrics.AvgLatency = time.Duration(avgNanos)
	}
}

// GetMetrics returns current client metrics
func (c *HTTPClient) GetMetrics() ClientMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	metrics := *c.metrics
	metrics.StatusCodes = make(map[int]int64, len(c.metrics.StatusCodes))
	for code, n := range c.metrics.StatusCodes {
		metrics.StatusCodes[code] = n
	}
	metrics.TotalRequests = atomic.LoadInt64(&c.requestCount)
	metrics.SuccessfulReqs = atomic.LoadInt64(&c.successCount)
	metrics.FailedReqs = atomic.LoadInt64(&c.errorCount)
	metrics.RateLimitWaits = atomic.LoadInt64(&c.limitWaits)

	return metrics
}

// HTTPClientBuilder provides a builder pattern for HTTPClient
type HTTPClientBuilder struct {
	config HTTPClientConfig
}

// NewHTTPClientBuilder creates a new builder
func NewHTTPClientBuilder() *HTTPClientBuilder {
	return &HTTPClientBuilder{
		config: HTTPClientConfig{},
	}
}

// WithTimeout sets the connection and response header timeout
func (b *HTTPClientBuilder) WithTimeout(timeout time.Duration) *HTTPClientBuilder {
	b.config.Timeout = timeout
	return b
}

// WithHeaders sets default headers
func (b *HTTPClientBuilder) WithHeaders(headers map[string]string) *HTTPClientBuilder {
	if b.config.Headers == nil {
		b.config.Headers = make(map[string]string)
	}
	for k, v := range headers {
		b.config.Headers[k] = v
	}
	return b
}

// WithUserAgent sets the user agent
func (b *HTTPClientBuilder) WithUserAgent(userAgent string) *HTTPClientBuilder {
	b.config.UserAgent = userAgent
	return b
}

// WithRateLimit limits how many requests per second are issued
func (b *HTTPClientBuilder) WithRateLimit(requestsPerSecond float64, burst int) *HTTPClientBuilder {
	b.config.RequestsPerSecond = requestsPerSecond
	b.config.Burst = burst
	return b
}

// WithRequestInterceptor sets a request interceptor
func (b *HTTPClientBuilder) WithRequestInterceptor(interceptor RequestInterceptor) *HTTPClientBuilder {
	b.config.RequestInterceptor = interceptor
	return b
}

// WithResponseInterceptor sets a response interceptor
func (b *HTTPClientBuilder) WithResponseInterceptor(interceptor ResponseInterceptor) *HTTPClientBuilder {
	b.config.ResponseInterceptor = interceptor
	return b
}

// WithTransport replaces the default pooled transport
func (b *HTTPClientBuilder) WithTransport(transport http.RoundTripper) *HTTPClientBuilder {
	b.config.Transport = transport
	return b
}

// Build creates the HTTP client
func (b *HTTPClientBuilder) Build() *HTTPClient {
	return NewHTTPClient(b.config)
}
