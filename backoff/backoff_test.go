package backoff_test

import (
	"testing"
	"time"

	"github.com/xraph/courier/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(2 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 2*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 2*time.Second)
		}
	}
}

func TestExponential_DoublesEachAttempt(t *testing.T) {
	e := backoff.NewExponential(time.Second, time.Hour)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.NewExponential(time.Second, 10*time.Second)
	if got := e.Delay(20); got != 10*time.Second {
		t.Errorf("Delay(20) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
}

func TestExponentialWithJitter_StaysInRange(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, 8*time.Second)
	for attempt := 1; attempt <= 6; attempt++ {
		for range 50 {
			d := e.Delay(attempt)
			if d < 0 || d > 8*time.Second {
				t.Fatalf("Delay(%d) = %v, out of [0, 8s]", attempt, d)
			}
		}
	}
}

func TestDefaults(t *testing.T) {
	if got := backoff.DefaultReconnect().Delay(3); got != 2*time.Second {
		t.Errorf("DefaultReconnect().Delay(3) = %v, want 2s", got)
	}
	if got := backoff.DefaultPoll().Delay(1); got != 3*time.Second {
		t.Errorf("DefaultPoll().Delay(1) = %v, want 3s", got)
	}
}
