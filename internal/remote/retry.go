package remote

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"novelhub/pkg/models"
)

// Retrying retries chapter content requests that fail with ErrFetch.
// Info and catalog requests pass through untouched.
type Retrying struct {
	Remote
	// Attempts is the maximum number of tries per chapter; 0 retries until
	// the request succeeds or ctx is done.
	Attempts int
	Interval time.Duration
	Logger   *zap.Logger
}

func WithRetry(r Remote, attempts int, interval time.Duration, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{Remote: r, Attempts: attempts, Interval: interval, Logger: logger}
}

func (r *Retrying) Content(ctx context.Context, addr models.Address, cid string) (string, error) {
	for attempt := 1; ; attempt++ {
		content, err := r.Remote.Content(ctx, addr, cid)
		if err == nil {
			return content, nil
		}
		if !errors.Is(err, ErrFetch) {
			return "", err
		}
		if r.Attempts > 0 && attempt >= r.Attempts {
			return "", err
		}

		r.Logger.Debug("retrying chapter",
			zap.String("work", addr.String()),
			zap.String("chapter", cid),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if err := sleep(ctx, r.Interval); err != nil {
			return "", err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
