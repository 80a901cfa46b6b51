package delivery

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes the delay before retry attempt n (1-indexed).
type Backoff interface {
	Delay(attempt int) time.Duration
}

// Backoff strategies accepted by NewBackoff.
const (
	BackoffConstant    = "constant"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
	BackoffJitter      = "jitter"
)

type backoff struct {
	strategy string
	initial  time.Duration
	max      time.Duration
}

// NewBackoff builds a retry delay strategy. maxDelay caps every strategy except
// constant; jitter draws uniformly from [0, exponential delay].
func NewBackoff(strategy string, initial, maxDelay time.Duration) (Backoff, error) {
	switch strategy {
	case BackoffConstant, BackoffLinear, BackoffExponential, BackoffJitter:
	default:
		return nil, fmt.Errorf("unknown backoff strategy %q", strategy)
	}
	if initial <= 0 {
		return nil, fmt.Errorf("backoff initial delay must be positive, got %s", initial)
	}
	return &backoff{strategy: strategy, initial: initial, max: maxDelay}, nil
}

func (b *backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var d time.Duration
	switch b.strategy {
	case BackoffConstant:
		return b.initial
	case BackoffLinear:
		d = b.initial * time.Duration(attempt)
	default:
		d = time.Duration(float64(b.initial) * math.Pow(2, float64(attempt-1)))
	}

	if b.max > 0 && (d > b.max || d <= 0) {
		d = b.max
	}
	if b.strategy == BackoffJitter {
		d = time.Duration(rand.Float64() * float64(d)) //nolint:gosec // jitter does not need crypto rand
	}
	return d
}
