package pipeline

import (
	"math"
	"sync"
	"time"
)

// PullTimeoutPolicy derives the image pull timeout from a category's max
// execution time. Values are memoized per distinct max execution time.
type PullTimeoutPolicy struct {
	minMinutes int64
	maxMinutes int64
	cache      sync.Map // int64 minutes -> time.Duration
}

func NewPullTimeoutPolicy(minTimeout, maxTimeout time.Duration) *PullTimeoutPolicy {
	return &PullTimeoutPolicy{
		minMinutes: int64(minTimeout / time.Minute),
		maxMinutes: int64(maxTimeout / time.Minute),
	}
}

// Timeout is round(10 * log10(maxExecutionMinutes / 10)) minutes, clamped to
// [min, max]. The max bound wins when the bounds are inverted.
func (p *PullTimeoutPolicy) Timeout(maxExecutionTime time.Duration) time.Duration {
	minutes := int64(maxExecutionTime / time.Minute)
	if v, ok := p.cache.Load(minutes); ok {
		return v.(time.Duration)
	}

	var computed int64
	if minutes > 0 {
		computed = int64(math.Round(10 * math.Log10(float64(minutes)/10)))
	} else {
		computed = math.MinInt64
	}
	clamped := computed
	if clamped < p.minMinutes {
		clamped = p.minMinutes
	}
	if clamped > p.maxMinutes {
		clamped = p.maxMinutes
	}

	timeout := time.Duration(clamped) * time.Minute
	actual, _ := p.cache.LoadOrStore(minutes, timeout)
	return actual.(time.Duration)
}
