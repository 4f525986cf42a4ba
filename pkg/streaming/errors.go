package streaming

import (
	"errors"
)

// ErrEmptyMessage is returned by Start when the request has no question.
var ErrEmptyMessage = errors.New("chat message is empty")

// Outcome describes how a session ended.
type Outcome string

const (
	// OutcomeRunning means the read loop has not exited yet.
	OutcomeRunning Outcome = "running"

	// OutcomeCompleted means OnDone fired, from a done event or because
	// the server closed the stream without a terminal event.
	OutcomeCompleted Outcome = "completed"

	// OutcomeFailed means OnError fired, for a transport failure or an
	// error event, or a callback panicked.
	OutcomeFailed Outcome = "failed"

	// OutcomeAborted means the session was cancelled and no further
	// callback was invoked.
	OutcomeAborted Outcome = "aborted"
)
