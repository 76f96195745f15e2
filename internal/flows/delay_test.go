package flows

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSleepJitterWithinBounds(t *testing.T) {
	start := time.Now()
	if err := SleepJitter(context.Background(), 5*time.Millisecond, 10*time.Millisecond); err != nil {
		t.Fatalf("SleepJitter: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Fatalf("slept %v, expected at least 5ms", elapsed)
	}
}

func TestSleepJitterDisabled(t *testing.T) {
	start := time.Now()
	if err := SleepJitter(context.Background(), time.Second, 0); err != nil {
		t.Fatalf("SleepJitter: %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("zero max must not sleep")
	}
}

func TestSleepJitterHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := SleepJitter(ctx, time.Second, 2*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
