package notify

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryConfig controls exponential backoff between publish attempts.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

type Retrier struct {
	cfg RetryConfig
	log logrus.FieldLogger
}

func NewRetrier(cfg RetryConfig, log logrus.FieldLogger) *Retrier {
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Retrier{cfg: cfg, log: log}
}

// Execute runs fn until it succeeds, the attempts run out or ctx is done.
func (r *Retrier) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				r.log.WithField("attempt", attempt+1).Info("publish succeeded after retries")
			}
			return nil
		}
		lastErr = err
		if attempt == r.cfg.MaxRetries {
			break
		}
		delay := r.delay(attempt)
		r.log.WithError(err).WithFields(logrus.Fields{"attempt": attempt + 1, "delay": delay}).Debug("publish failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("retry limit exceeded after %d attempts: %w", r.cfg.MaxRetries+1, lastErr)
}

func (r *Retrier) delay(attempt int) time.Duration {
	d := float64(r.cfg.BaseDelay) * math.Pow(r.cfg.Multiplier, float64(attempt))
	if r.cfg.MaxDelay > 0 && d > float64(r.cfg.MaxDelay) {
		d = float64(r.cfg.MaxDelay)
	}
	if r.cfg.Jitter {
		d += d * 0.1 * rand.Float64()
	}
	return time.Duration(d)
}
