package mac

import (
	"math/rand"
	"testing"
	"time"
)

func TestBackoffDurationWithinWindow(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for retries := 0; retries < 10; retries++ {
		for i := 0; i < 50; i++ {
			d := backoffDuration(retries, rnd)
			if d < 0 || d > time.Duration(retries)*BackoffSlotTime {
				t.Fatalf("retries=%d: backoff %v out of window [0, %v]", retries, d, time.Duration(retries)*BackoffSlotTime)
			}
		}
	}
}

func TestBackoffDurationNegativeRetriesClampsToZero(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))
	for i := 0; i < 10; i++ {
		if d := backoffDuration(-1, rnd); d != 0 {
			t.Fatalf("expected zero backoff for negative retries, got %v", d)
		}
	}
}
