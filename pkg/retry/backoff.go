package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff computes exponential delays of the form BaseDelay * Factor^attempt,
// optionally capped by MaxDelay and spread by Jitter.
type Backoff struct {
	BaseDelay time.Duration
	Factor    float64
	MaxDelay  time.Duration
	Jitter    float64

	mu   sync.Mutex
	rand *rand.Rand
}

// NewBackoff returns a Backoff initialised from base and factor. A zero max
// leaves delays uncapped.
func NewBackoff(base time.Duration, factor float64, max time.Duration, jitter float64) *Backoff {
	if base <= 0 {
		base = DefaultPolicy.BaseDelay
	}
	if factor <= 0 {
		factor = DefaultPolicy.Factor
	}
	if jitter < 0 {
		jitter = 0
	}
	return &Backoff{
		BaseDelay: base,
		Factor:    factor,
		MaxDelay:  max,
		Jitter:    jitter,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ForAttempt returns the delay to wait after the given failed attempt (0-indexed).
func (b *Backoff) ForAttempt(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := time.Duration(float64(b.BaseDelay) * math.Pow(b.Factor, float64(attempt)))
	if delay < 0 || (b.MaxDelay > 0 && delay > b.MaxDelay) {
		delay = b.MaxDelay
	}
	return b.addJitter(delay)
}

func (b *Backoff) addJitter(delay time.Duration) time.Duration {
	if b.Jitter == 0 || delay <= 0 {
		return delay
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	factor := 1 + (b.rand.Float64()*2-1)*math.Min(b.Jitter, 1)
	if factor < 0 {
		factor = 0
	}
	return time.Duration(float64(delay) * factor)
}
