// Package testutil provides small helpers for asynchronous tests.
package testutil

import (
	"testing"
	"time"
)

// WaitFor polls cond every 10ms until it returns true or the timeout
// elapses, failing the test on timeout.
func WaitFor(t testing.TB, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
