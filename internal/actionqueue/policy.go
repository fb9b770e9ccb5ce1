package actionqueue

import (
	"fmt"
	"time"
)

// RetryPolicy decides what happens to an item after a failed delivery.
type RetryPolicy interface {
	// Next is called with the failure count so far. It reports whether the
	// item should be dropped and, if not, when it may be attempted again.
	Next(failures int, now time.Time) (drop bool, at time.Time)
}

// Unlimited keeps failed items forever and retries them on every pass
type Unlimited struct{}

func (Unlimited) Next(int, time.Time) (bool, time.Time) { return false, time.Time{} }

// FixedAttempts drops an item once it has failed Max times
type FixedAttempts struct {
	Max int
}

func (p FixedAttempts) Next(failures int, _ time.Time) (bool, time.Time) {
	return failures >= p.Max, time.Time{}
}

// Backoff delays each retry exponentially from Base up to Cap.
// Max > 0 also bounds the number of failures.
type Backoff struct {
	Max  int
	Base time.Duration
	Cap  time.Duration
}

func (p Backoff) Next(failures int, now time.Time) (bool, time.Time) {
	if p.Max > 0 && failures >= p.Max {
		return true, time.Time{}
	}
	return false, now.Add(p.Delay(failures))
}

// Delay returns the wait after the given number of failures
func (p Backoff) Delay(failures int) time.Duration {
	if failures < 1 {
		return 0
	}
	d := p.Base
	for i := 1; i < failures; i++ {
		d *= 2
		if p.Cap > 0 && d >= p.Cap {
			return p.Cap
		}
	}
	if p.Cap > 0 && d > p.Cap {
		return p.Cap
	}
	return d
}

// DefaultPolicy drops an item after three failed attempts
var DefaultPolicy RetryPolicy = FixedAttempts{Max: 3}

// ParsePolicy builds a policy from its config name
func ParsePolicy(name string, maxAttempts int, base, ceiling time.Duration) (RetryPolicy, error) {
	switch name {
	case "", "fixed":
		if maxAttempts <= 0 {
			maxAttempts = 3
		}
		return FixedAttempts{Max: maxAttempts}, nil
	case "unlimited", "none":
		return Unlimited{}, nil
	case "backoff":
		if base <= 0 {
			base = time.Second
		}
		return Backoff{Max: maxAttempts, Base: base, Cap: ceiling}, nil
	default:
		return nil, fmt.Errorf("unknown retry policy %q", name)
	}
}
