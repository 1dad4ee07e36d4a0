// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package requeue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/poiesic/dealwire/core"
	"github.com/poiesic/dealwire/storage"
)

// RetryWithBackoff runs operation until it succeeds, returns a permanent
// error, or maxAttempts is reached. The delay doubles after each attempt,
// starting at baseDelay. Returns the error of the last attempt.
func RetryWithBackoff(ctx context.Context, operation func() error, maxAttempts int, baseDelay time.Duration) error {
	if maxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 1 {
				slog.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if permanent(lastErr) {
			return lastErr
		}
		slog.Debug("operation failed, will retry", "attempt", attempt, "maxAttempts", maxAttempts, "err", lastErr)

		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}

	return lastErr
}

// permanent reports whether err is a final outcome that a repeat call cannot change.
// Attempt outcomes are final: the document already went back to FAILED.
func permanent(err error) bool {
	return errors.Is(err, core.ErrExtraction) ||
		errors.Is(err, core.ErrSchema) ||
		errors.Is(err, core.ErrRetryLimit) ||
		errors.Is(err, core.ErrStaleAttempt) ||
		errors.Is(err, storage.ErrNotFound) ||
		errors.Is(err, storage.ErrStorageClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
