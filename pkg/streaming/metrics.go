package streaming

import (
	"sync/atomic"
	"time"

	httputil "github.com/cecil-the-coder/docqa-stream/internal/http"
)

// SessionStats summarizes one session. It is final once the session is
// done.
type SessionStats struct {
	ID         string        `json:"id"`
	Outcome    Outcome       `json:"outcome"`
	StatusCode int           `json:"status_code,omitempty"`
	Chunks     int           `json:"chunks"`
	Bytes      int           `json:"bytes"`
	Lines      int           `json:"lines"`
	Frames     int           `json:"frames"`
	Messages   int           `json:"messages"`
	Dropped    int           `json:"dropped"`
	Discarded  int           `json:"discarded"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// ClientMetrics aggregates every session started by a StreamClient.
type ClientMetrics struct {
	SessionsStarted int64                  `json:"sessions_started"`
	Active          int64                  `json:"active"`
	Completed       int64                  `json:"completed"`
	Failed          int64                  `json:"failed"`
	Aborted         int64                  `json:"aborted"`
	HTTP            httputil.ClientMetrics `json:"http"`
}

type sessionCounters struct {
	started   int64
	active    int64
	completed int64
	failed    int64
	aborted   int64
}

func (c *sessionCounters) begin() {
	atomic.AddInt64(&c.started, 1)
	atomic.AddInt64(&c.active, 1)
}

func (c *sessionCounters) end(outcome Outcome) {
	atomic.AddInt64(&c.active, -1)
	switch outcome {
	case OutcomeCompleted:
		atomic.AddInt64(&c.completed, 1)
	case OutcomeFailed:
		atomic.AddInt64(&c.failed, 1)
	case OutcomeAborted:
		atomic.AddInt64(&c.aborted, 1)
	}
}

func (c *sessionCounters) snapshot() ClientMetrics {
	return ClientMetrics{
		SessionsStarted: atomic.LoadInt64(&c.started),
		Active:          atomic.LoadInt64(&c.active),
		Completed:       atomic.LoadInt64(&c.completed),
		Failed:          atomic.LoadInt64(&c.failed),
		Aborted:         atomic.LoadInt64(&c.aborted),
	}
}
