package flows

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// SleepJitter blocks for a random duration in [min, max] or until ctx ends.
// A zero max disables the delay.
func SleepJitter(ctx context.Context, min, max time.Duration) error {
	if max <= 0 {
		return nil
	}
	if min < 0 || min > max {
		min = 0
	}

	delay := min
	if span := int64(max - min); span > 0 {
		n, err := rand.Int(rand.Reader, big.NewInt(span+1))
		if err != nil {
			return err
		}
		delay += time.Duration(n.Int64())
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
