package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestInFlightMiddleware_TracksRequests verifies a request is counted while it runs.
func TestInFlightMiddleware_TracksRequests(t *testing.T) {
	tracker := &InFlightTracker{}
	entered := make(chan struct{})
	release := make(chan struct{})
	h := InFlightMiddleware(tracker)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	}))

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		close(done)
	}()

	<-entered
	if got := tracker.Count(); got != 1 {
		t.Errorf("Count() during request = %d, want 1", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	if err := tracker.WaitForZero(ctx, 5*time.Millisecond); err != nil {
		t.Fatalf("WaitForZero() error = %v", err)
	}
	<-done
}

// TestInFlightTracker_WaitForZero_ContextCanceled verifies shutdown gives up on ctx.
func TestInFlightTracker_WaitForZero_ContextCanceled(t *testing.T) {
	tracker := &InFlightTracker{}
	tracker.Increment()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := tracker.WaitForZero(ctx, 5*time.Millisecond); !errors.Is(err, context.Canceled) {
		t.Errorf("WaitForZero() error = %v, want context.Canceled", err)
	}
	tracker.Decrement()
	if got := tracker.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
}
