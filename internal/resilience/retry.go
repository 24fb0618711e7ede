package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy tunes retry pacing for one kind of external call. Delays double
// per retry from BaseDelay up to CapDelay, with a random jitter fraction
// so synchronized crawlers do not hammer a recovering host in lockstep.
type Policy struct {
	Attempts  int           // total tries, the first included
	BaseDelay time.Duration // pause before the second try
	CapDelay  time.Duration // upper bound as delays double
	Jitter    float64       // fraction of the delay added or subtracted
}

// FetchPolicy paces feed and page fetches inside a crawl pass.
func FetchPolicy() Policy {
	return Policy{
		Attempts:  3,
		BaseDelay: 500 * time.Millisecond,
		CapDelay:  15 * time.Second,
		Jitter:    0.25,
	}
}

func (p Policy) withDefaults() Policy {
	def := FetchPolicy()
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.CapDelay <= 0 {
		p.CapDelay = def.CapDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// delay computes the pause before retry number n (n starts at 1).
func (p Policy) delay(n int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.CapDelay {
			d = p.CapDelay
			break
		}
	}
	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	if d < 0 {
		d = 0
	}
	return d
}

// RetryFor runs call until it succeeds, the attempts are exhausted, the
// failure class says a retry cannot help, or ctx ends. op names the call
// in retry logs.
func RetryFor[T any](ctx context.Context, p Policy, op string, call func(context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var zero T
	var lastErr error
	for try := 1; try <= p.Attempts; try++ {
		if try > 1 {
			zap.L().Warn("resilience: retrying call",
				zap.String("op", op),
				zap.Int("try", try),
				zap.String("failure_class", ClassOf(lastErr).String()),
				zap.Error(lastErr),
			)
			timer := time.NewTimer(p.delay(try - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, lastErr
			case <-timer.C:
			}
		}

		v, err := call(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil || !Retryable(err) {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

// Retry is RetryFor for calls without a result.
func Retry(ctx context.Context, p Policy, op string, call func(context.Context) error) error {
	_, err := RetryFor(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, call(ctx)
	})
	return err
}
