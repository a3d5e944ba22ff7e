package resilience

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// Config controls retry pacing for an Executor
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultConfig returns the retry settings used when none are provided
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   30 * time.Second,
	}
}

// Attempt describes one call attempt for diagnostics
type Attempt struct {
	Op       string
	Number   int
	Err      string
	Reason   string
	Delay    time.Duration
	Duration time.Duration
	At       time.Time
}

// Executor issues calls to a flaky dependency with exponential backoff,
// rate limiting and circuit breaking. The classifier decides which
// failures are worth retrying; everything else returns immediately.
type Executor struct {
	name      string
	cfg       Config
	breaker   *Breaker
	classify  Classifier
	limiter   *rate.Limiter
	onAttempt func(Attempt)
}

// NewExecutor creates an Executor named after the dependency it guards.
// The breaker, limiter and attempt observer may be nil, in which case the
// corresponding behavior is skipped.
func NewExecutor(name string, cfg Config, breaker *Breaker, limiter *rate.Limiter, onAttempt func(Attempt)) *Executor {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig().MaxDelay
	}

	return &Executor{
		name:      name,
		cfg:       cfg,
		breaker:   breaker,
		classify:  Classify,
		limiter:   limiter,
		onAttempt: onAttempt,
	}
}

// Breaker returns the breaker guarding this executor, if any
func (e *Executor) Breaker() *Breaker {
	return e.breaker
}

// Do runs fn under the retry policy. Retriable failures are retried up to
// MaxRetries times with exponential backoff; non-retriable failures and
// circuit-open rejections return immediately. The context is honored at
// every suspension point.
func (e *Executor) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		var delay time.Duration
		if attempt > 0 {
			delay = e.backoff(attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if e.breaker != nil {
			if err := e.breaker.Allow(); err != nil {
				e.record(op, attempt+1, delay, 0, err, ReasonCircuitOpen)
				return fmt.Errorf("%s %s: %w", e.name, op, err)
			}
		}

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				if e.breaker != nil {
					e.breaker.Abort()
				}
				return err
			}
		}

		start := time.Now()
		err := fn(ctx)
		elapsed := time.Since(start)

		if err == nil {
			if e.breaker != nil {
				e.breaker.Success()
			}
			e.record(op, attempt+1, delay, elapsed, nil, "")
			return nil
		}

		class := e.classify(err)
		e.record(op, attempt+1, delay, elapsed, err, class.Reason)
		lastErr = err

		if !class.Retriable {
			if e.breaker != nil {
				e.breaker.Abort()
			}
			return err
		}

		if e.breaker != nil {
			e.breaker.Failure()
		}
	}

	return fmt.Errorf("%s %s: retries exhausted: %w", e.name, op, lastErr)
}

// Call runs fn under the executor policy and returns its value
func Call[T any](ctx context.Context, e *Executor, op string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// backoff computes the delay before the given retry (0-based): doubled each
// time from BaseDelay, capped at MaxDelay, plus up to 10% random jitter.
func (e *Executor) backoff(retry int) time.Duration {
	d := e.cfg.BaseDelay
	for i := 0; i < retry && d < e.cfg.MaxDelay; i++ {
		d *= 2
	}
	if d > e.cfg.MaxDelay {
		d = e.cfg.MaxDelay
	}

	jitter := time.Duration(rand.Int63n(int64(d)/10 + 1))
	return d + jitter
}

func (e *Executor) record(op string, number int, delay, duration time.Duration, err error, reason string) {
	if e.onAttempt == nil {
		return
	}

	a := Attempt{
		Op:       op,
		Number:   number,
		Reason:   reason,
		Delay:    delay,
		Duration: duration,
		At:       time.Now(),
	}
	if err != nil {
		a.Err = err.Error()
	}
	e.onAttempt(a)
}
