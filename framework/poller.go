package framework

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPollTimeout is wrapped by the error that Poll returns when it runs out of attempts or time.
var ErrPollTimeout = errors.New("polling gave up")

// PollOptions controls the retry policy of Poll. A zero MaxAttempts or a zero Until means
// there is no limit of that kind, so with both unset Poll only stops when the check succeeds,
// fails, or the context is cancelled.
type PollOptions struct {
	Interval    time.Duration
	MaxAttempts int
	Until       time.Time
}

// Poll calls check until it returns true or an error. The first call happens immediately;
// after that Poll waits Interval between calls. It returns the number of calls made.
func Poll(ctx context.Context, opts PollOptions, check func(attempt int) (bool, error)) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var deadlineCh <-chan time.Time
	if !opts.Until.IsZero() {
		deadline := time.NewTimer(time.Until(opts.Until))
		defer deadline.Stop()
		deadlineCh = deadline.C
	}

	for attempt := 1; ; attempt++ {
		done, err := check(attempt)
		if err != nil {
			return attempt, err
		}
		if done {
			return attempt, nil
		}
		if opts.MaxAttempts > 0 && attempt >= opts.MaxAttempts {
			return attempt, fmt.Errorf("no success after %d attempts: %w", attempt, ErrPollTimeout)
		}

		wait := time.NewTimer(opts.Interval)
		select {
		case <-ctx.Done():
			wait.Stop()
			return attempt, ctx.Err()
		case <-deadlineCh:
			wait.Stop()
			return attempt, fmt.Errorf("no success before deadline of %s: %w",
				opts.Until.Format(timestampFormat), ErrPollTimeout)
		case <-wait.C:
		}
	}
}
