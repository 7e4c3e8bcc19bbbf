package backoff

import (
	"testing"
	"time"
)

func TestExponentialDefaults(t *testing.T) {
	t.Parallel()

	if got := Exponential(1, nil); got != 100*time.Millisecond {
		t.Errorf("Attempt 1: expected 100ms, got %v", got)
	}
	if got := Exponential(2, nil); got != 200*time.Millisecond {
		t.Errorf("Attempt 2: expected 200ms, got %v", got)
	}
	if got := Exponential(3, nil); got != 400*time.Millisecond {
		t.Errorf("Attempt 3: expected 400ms, got %v", got)
	}
}

func TestExponentialCapsAtMax(t *testing.T) {
	t.Parallel()

	if got := Exponential(20, nil); got != 5*time.Second {
		t.Errorf("Expected cap at 5s, got %v", got)
	}

	cfg := &Config{Initial: 1 * time.Second, Max: 2 * time.Second}
	if got := Exponential(10, cfg); got != 2*time.Second {
		t.Errorf("Expected cap at configured max 2s, got %v", got)
	}
}

func TestExponentialLowAttemptClamped(t *testing.T) {
	t.Parallel()

	if got := Exponential(0, nil); got != 100*time.Millisecond {
		t.Errorf("Attempt 0: expected initial, got %v", got)
	}
	if got := Exponential(-3, nil); got != 100*time.Millisecond {
		t.Errorf("Negative attempt: expected initial, got %v", got)
	}
}

func TestExponentialJitterStaysInRange(t *testing.T) {
	t.Parallel()

	cfg := &Config{Initial: 100 * time.Millisecond, Jitter: true}
	for range 50 {
		got := Exponential(3, cfg)
		if got < 200*time.Millisecond || got > 400*time.Millisecond {
			t.Fatalf("Jittered delay %v outside [200ms, 400ms]", got)
		}
	}
}
