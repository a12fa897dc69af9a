// SPDX-License-Identifier: MPL-2.0

package health

import (
	"context"
	"fmt"
	"time"
)

// RetryWithBackoff runs op up to maxAttempts times, doubling the pause
// after each failed attempt starting at baseBackoff. The pause is cut
// short when ctx is cancelled.
//
// op reports whether its error is worth retrying. A non-retryable error is
// returned at once; after the last attempt the last error is returned.
func RetryWithBackoff(
	ctx context.Context,
	maxAttempts int,
	baseBackoff time.Duration,
	op func(attempt int) (retry bool, err error),
) error {
	var lastErr error
	for attempt := range maxAttempts {
		if attempt > 0 {
			pause := time.NewTimer(baseBackoff * time.Duration(1<<(attempt-1)))
			select {
			case <-ctx.Done():
				pause.Stop()
				return fmt.Errorf("retry aborted: %w", ctx.Err())
			case <-pause.C:
			}
		}

		retry, err := op(attempt)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return lastErr
}
