package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sensorsp/widget-engine/internal/models"
)

var errProviderPanic = errors.New("provider panicked")

// inFlightCall is one upstream call that several callers may wait for.
type inFlightCall struct {
	done    chan struct{}
	reading *models.Reading
	err     error
	waiters int
	cancel  context.CancelFunc
}

// requestCoalescer shares one provider call between concurrent fetches for the
// same sensor. Each caller stops waiting at its own deadline; the call itself
// is cancelled once every caller has given up or its own timeout passes.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightCall
	timeout  time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*inFlightCall),
		timeout:  timeout,
	}
}

// Do returns the result of fn for key, starting it only if no call for key is
// in flight. shared reports whether the caller joined an existing call.
func (rc *requestCoalescer) Do(ctx context.Context, key string, fn func(context.Context) (*models.Reading, error)) (r *models.Reading, shared bool, err error) {
	rc.mu.Lock()
	call, shared := rc.inFlight[key]
	if shared {
		call.waiters++
	} else {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
		call = &inFlightCall{done: make(chan struct{}), waiters: 1, cancel: cancel}
		rc.inFlight[key] = call
		go rc.run(callCtx, key, call, fn)
	}
	rc.mu.Unlock()

	select {
	case <-call.done:
		return call.reading, shared, call.err
	case <-ctx.Done():
		rc.mu.Lock()
		call.waiters--
		abandoned := call.waiters == 0
		if abandoned && rc.inFlight[key] == call {
			delete(rc.inFlight, key)
		}
		rc.mu.Unlock()
		if abandoned {
			call.cancel()
		}
		return nil, shared, ctx.Err()
	}
}

func (rc *requestCoalescer) run(ctx context.Context, key string, call *inFlightCall, fn func(context.Context) (*models.Reading, error)) {
	defer func() {
		if p := recover(); p != nil {
			call.reading, call.err = nil, fmt.Errorf("%w: %v", errProviderPanic, p)
		}
		rc.mu.Lock()
		if rc.inFlight[key] == call {
			delete(rc.inFlight, key)
		}
		rc.mu.Unlock()
		call.cancel()
		close(call.done)
	}()
	call.reading, call.err = fn(ctx)
}

// withCutoff runs fn in its own goroutine and stops waiting when ctx is done.
// The context passed to fn is cancelled on return, so an abandoned call is
// told to stop even if it ignores the deadline.
func withCutoff[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		var res result
		defer func() {
			if p := recover(); p != nil {
				res = result{err: fmt.Errorf("%w: %v", errProviderPanic, p)}
			}
			ch <- res
		}()
		res.v, res.err = fn(callCtx)
	}()

	select {
	case res := <-ch:
		return res.v, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
