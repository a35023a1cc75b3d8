// internal/upstream/fetcher.go
package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/saadkhi/crawl-pipeline/internal/backoff"
	"github.com/saadkhi/crawl-pipeline/internal/model"
)

// Pager is the single-request page fetch the retry loop drives.
type Pager interface {
	FetchPage(ctx context.Context, query string, cursor *string, pageSize int) (*model.Page, error)
}

// Fetcher wraps a Pager with retries. A failed request is reissued with the
// identical cursor after the backoff policy's delay, up to maxAttempts total
// attempts; non-retryable failures surface immediately.
type Fetcher struct {
	pager       Pager
	policy      backoff.Policy
	maxAttempts int
	logger      *slog.Logger

	// Injected for deterministic tests.
	sleep func(context.Context, time.Duration) error
	rnd   func() float64
}

func NewFetcher(pager Pager, policy backoff.Policy, maxAttempts int, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		pager:       pager,
		policy:      policy,
		maxAttempts: maxAttempts,
		logger:      logger,
		sleep:       sleepContext,
		rnd:         rand.Float64,
	}
}

// FetchPage fetches one page, absorbing retryable failures.
func (f *Fetcher) FetchPage(ctx context.Context, query string, cursor *string, pageSize int) (*model.Page, error) {
	for attempt := 0; ; attempt++ {
		page, err := f.pager.FetchPage(ctx, query, cursor, pageSize)
		if err == nil {
			return page, nil
		}

		var uerr *Error
		if !errors.As(err, &uerr) || !uerr.Retryable() {
			return nil, err
		}
		if attempt+1 >= f.maxAttempts {
			return nil, fmt.Errorf("giving up after %d attempts: %w", attempt+1, err)
		}

		delay := f.policy.Delay(attempt, uerr.BackoffClass(), uerr.RetryAfter, f.rnd)
		f.logger.Warn("Upstream request failed, backing off",
			"kind", uerr.Kind.String(), "attempt", attempt, "delay", delay.String())
		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
