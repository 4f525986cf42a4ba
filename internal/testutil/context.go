package testutil

import (
	"context"
	"testing"
	"time"
)

// ShortTestContext returns a context that expires after 5 seconds and is
// cancelled when the test ends.
func ShortTestContext(t *testing.T) context.Context {
	t.Helper()
	return TestContextWithTimeout(t, 5*time.Second)
}

// TestContextWithTimeout returns a context that expires after timeout and
// is cancelled when the test ends.
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// WaitClosed fails the test if ch is not closed within timeout.
func WaitClosed(t *testing.T, ch <-chan struct{}, timeout time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("channel not closed within %v", timeout)
	}
}
