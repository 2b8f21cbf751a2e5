package live

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RestartPolicy controls how a loop resubscribes after its stream fails or ends.
// Loops never give up; the policy only paces them.
type RestartPolicy struct {
	// Backoff is the pause before each resubscribe. Zero resubscribes immediately.
	Backoff time.Duration

	// Rate caps resubscribes per second. Zero is unlimited.
	Rate float64

	// Burst is the number of resubscribes allowed at once when Rate is set (default: 1)
	Burst int
}

// RetryForever resubscribes immediately, without limit
var RetryForever = RestartPolicy{}

// Validate checks if the policy is valid
func (p RestartPolicy) Validate() error {
	if p.Backoff < 0 {
		return fmt.Errorf("restart backoff cannot be negative")
	}
	if p.Rate < 0 {
		return fmt.Errorf("restart rate cannot be negative")
	}
	if p.Burst < 0 {
		return fmt.Errorf("restart burst cannot be negative")
	}
	return nil
}

func (p RestartPolicy) limiter() *rate.Limiter {
	if p.Rate == 0 {
		return nil
	}
	burst := p.Burst
	if burst == 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(p.Rate), burst)
}

// pacer applies a RestartPolicy; each loop owns one
type pacer struct {
	backoff time.Duration
	limiter *rate.Limiter
}

func newPacer(p RestartPolicy) *pacer {
	return &pacer{backoff: p.Backoff, limiter: p.limiter()}
}

// wait blocks until the next resubscribe is allowed
func (p *pacer) wait(ctx context.Context) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if p.backoff <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.backoff)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
