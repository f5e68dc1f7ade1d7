// Package retry centralizes per-backend transient-error classification and
// bounded retry/backoff (C11), so every storage operation retries the same
// way regardless of which backend it ultimately runs against.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Classifier decides whether an error observed while running an operation is
// transient (worth retrying) or fatal (must propagate immediately).
type Classifier func(err error) bool

// Budget bounds how many times a transient error is retried and how long to
// sleep between attempts.
type Budget struct {
	MaxRetries int
	Sleep      time.Duration
}

// EmbeddedBudget matches §4.2: BUSY/LOCKED on the embedded backend get up to
// 20 retries with 5-second sleeps.
var EmbeddedBudget = Budget{MaxRetries: 20, Sleep: 5 * time.Second}

// NetworkedBudget matches §4.2: null/08.../xx.../unknown SQL-states on the
// networked backend get up to 3 retries with 5-second sleeps.
var NetworkedBudget = Budget{MaxRetries: 3, Sleep: 5 * time.Second}

// RunWithRetry runs op, retrying while classifier reports the returned error
// as transient, up to budget.MaxRetries times, sleeping budget.Sleep between
// attempts. Non-transient errors and context cancellation abort immediately.
func RunWithRetry(ctx context.Context, budget Budget, classifier Classifier, op func() error) error {
	attempt := 0
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = budget.Sleep
	bo.MaxInterval = budget.Sleep
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // bounded by MaxRetries instead of wall-clock

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !classifier(err) {
			return backoff.Permanent(err)
		}
		attempt++
		if attempt > budget.MaxRetries {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
}
