package classify

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"time"
)

// RetryConfig bounds the backoff loop around classification calls.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

var defaultRetry = RetryConfig{
	MaxRetries: 3,
	BaseDelay:  time.Second,
	MaxDelay:   15 * time.Second,
}

type requestFn func() (*http.Response, error)

func doWithRetry(ctx context.Context, cfg RetryConfig, fn requestFn) (*http.Response, error) {
	if cfg.MaxRetries <= 0 {
		cfg = defaultRetry
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := fn()
		if err == nil {
			if !retryableStatus(resp.StatusCode) || attempt == cfg.MaxRetries {
				return resp, nil
			}
			resp.Body.Close()
			lastErr = errors.New(resp.Status)
		} else {
			if !retryableError(err) || attempt == cfg.MaxRetries {
				return nil, err
			}
			lastErr = err
		}

		if err := sleepContext(ctx, backoffDelay(cfg, attempt)); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

func retryableError(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	d := time.Duration(float64(cfg.BaseDelay) * math.Pow(2, float64(attempt)))
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
