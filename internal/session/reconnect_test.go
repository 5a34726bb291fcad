package session

import (
	"testing"
	"time"
)

func TestReconnectBackoff(t *testing.T) {
	delays := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second, // still capped
	}

	for i, want := range delays {
		got := backoffDelay(i, 30*time.Second)
		if got != want {
			t.Errorf("backoffDelay(%d, 30s) = %v, want %v", i, got, want)
		}
	}
}

func TestReconnectBackoffLargeAttempt(t *testing.T) {
	if got := backoffDelay(100, 30*time.Second); got != 30*time.Second {
		t.Errorf("backoffDelay(100, 30s) = %v, want 30s", got)
	}
	if got := backoffDelay(100, 0); got <= 0 {
		t.Errorf("backoffDelay(100, 0) = %v, want positive", got)
	}
}
