// Package retry provides a bounded fixed-interval retry primitive.
//
// The host platform recalculates carts asynchronously and offers no
// completion callback, so the gateway polls until the cart reflects a
// mutation. Keeping the loop here lets the poll policy be unit-tested
// independently of any network concerns.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Func is one attempt. Return done=true to stop successfully. A non-nil
// error stops the loop immediately and is returned as-is.
type Func func(ctx context.Context) (done bool, err error)

// ErrExhausted is returned by Do when every attempt ran without done=true.
type ErrExhausted struct {
	Attempts int
}

func (e *ErrExhausted) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts", e.Attempts)
}

// Do runs fn up to attempts times, sleeping interval between attempts.
// The first attempt runs immediately. Context cancellation wins over the
// interval sleep and returns ctx.Err().
func Do(ctx context.Context, attempts int, interval time.Duration, fn Func) error {
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		// No sleep after the final attempt
		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}

	return &ErrExhausted{Attempts: attempts}
}
