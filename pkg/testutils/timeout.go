package testutils

import (
	"context"
	"testing"
	"time"
)

var (
	WaitTimeout  = 5 * time.Second
	PollInterval = 10 * time.Millisecond
)

// WaitFor polls f until it returns an empty string. A non-empty return
// describes the state still missing and is reported if WaitTimeout passes.
func WaitFor(t testing.TB, f func() string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), WaitTimeout)
	defer cancel()

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	lastErr := f()
	for lastErr != "" {
		select {
		case <-ctx.Done():
			t.Fatalf("did not reach expected state after %v: %s", WaitTimeout, lastErr)
			return
		case <-ticker.C:
			lastErr = f()
		}
	}
}
