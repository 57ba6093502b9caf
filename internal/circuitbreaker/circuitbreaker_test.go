package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

var errUpstream = errors.New("upstream down")

func fail(context.Context) error { return errUpstream }
func succeed(context.Context) error { return nil }

// TestCircuitBreaker_OpensAfterThreshold verifies the breaker rejects calls
// without running fn once the failure threshold is reached.
func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := New(Config{FailureThreshold: 3, Timeout: time.Minute, Clock: clock})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Call(ctx, fail); !errors.Is(err, errUpstream) {
			t.Fatalf("call %d error = %v, want errUpstream", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}

	called := false
	err := cb.Call(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Call() while open error = %v, want ErrOpen", err)
	}
	if called {
		t.Error("fn ran while the circuit was open")
	}
}

// TestCircuitBreaker_HalfOpenRecovery verifies a successful probe after the
// timeout closes the circuit and a failed probe reopens it.
func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var transitions []string
	cb := New(Config{
		FailureThreshold: 1,
		Timeout:          30 * time.Second,
		Clock:            clock,
		Component:        "sensor_api",
		OnStateChange: func(component string, from, to State) {
			transitions = append(transitions, component+":"+from.String()+"->"+to.String())
		},
	})
	ctx := context.Background()

	_ = cb.Call(ctx, fail)
	clock.Advance(31 * time.Second)
	_ = cb.Call(ctx, fail)
	if cb.State() != StateOpen {
		t.Fatalf("State() after failed probe = %v, want open", cb.State())
	}

	clock.Advance(31 * time.Second)
	if err := cb.Call(ctx, succeed); err != nil {
		t.Fatalf("probe Call() error = %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("State() after successful probe = %v, want closed", cb.State())
	}

	want := []string{
		"sensor_api:closed->open",
		"sensor_api:open->half_open",
		"sensor_api:half_open->open",
		"sensor_api:open->half_open",
		"sensor_api:half_open->closed",
	}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transitions[%d] = %q, want %q", i, transitions[i], want[i])
		}
	}
}

// TestCircuitBreaker_CallerCancellationNotCounted verifies an abandoned call
// does not count toward opening the circuit.
func TestCircuitBreaker_CallerCancellationNotCounted(t *testing.T) {
	cb := New(Config{FailureThreshold: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Call(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Call() error = %v, want context.Canceled", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed", cb.State())
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
