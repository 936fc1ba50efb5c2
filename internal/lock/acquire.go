package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bidding-service/pkg/response"
	"bidding-service/pkg/sl"

	"github.com/sethvargo/go-retry"
)

var errBusy = errors.New("lock busy")

func SlotKey(instructorID, slotID string) string {
	return fmt.Sprintf("slot:%s:%s", instructorID, slotID)
}

func DayKey(instructorID, date string) string {
	return fmt.Sprintf("day:%s:%s", instructorID, date)
}

type Options struct {
	TTL     time.Duration
	Retries uint64
	// first backoff step, doubled on every retry up to MaxBackoff
	Backoff    time.Duration
	MaxBackoff time.Duration
}

func DefaultOptions() Options {
	return Options{
		TTL:        5 * time.Second,
		Retries:    5,
		Backoff:    10 * time.Millisecond,
		MaxBackoff: 250 * time.Millisecond,
	}
}

// Acquire takes the given keys in order, retrying a busy key with exponential
// backoff. On success the returned release func frees every key in reverse
// order. When a key stays busy the keys already taken are released and
// ErrConcurrentModification is returned.
func Acquire(ctx context.Context, log *slog.Logger, l Locker, opts Options, keys ...string) (func(), error) {
	const op = "lock.Acquire"

	if opts.Backoff <= 0 {
		opts.Backoff = DefaultOptions().Backoff
	}
	if opts.MaxBackoff < opts.Backoff {
		opts.MaxBackoff = max(opts.Backoff, DefaultOptions().MaxBackoff)
	}

	taken := make([]string, 0, len(keys))

	release := func() {
		// release must work even when the caller's context is done
		ctx := context.WithoutCancel(ctx)
		for i := len(taken) - 1; i >= 0; i-- {
			if err := l.Unlock(ctx, taken[i]); err != nil {
				log.Error("failed to release lock", slog.String("key", taken[i]), sl.Err(err))
			}
		}
	}

	for _, key := range keys {
		backoff := retry.NewExponential(opts.Backoff)
		backoff = retry.WithJitterPercent(20, backoff)
		backoff = retry.WithCappedDuration(opts.MaxBackoff, backoff)
		backoff = retry.WithMaxRetries(opts.Retries, backoff)

		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			ok, err := l.Lock(ctx, key, opts.TTL)
			if err != nil {
				return err
			}
			if !ok {
				return retry.RetryableError(errBusy)
			}
			return nil
		})
		if err != nil {
			release()
			if errors.Is(err, errBusy) {
				return nil, fmt.Errorf("%s: %s: %w", op, key, response.ErrConcurrentModification)
			}
			return nil, fmt.Errorf("%s: %s: %w", op, key, err)
		}

		taken = append(taken, key)
	}

	return release, nil
}
