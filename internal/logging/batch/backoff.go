package batch

import (
	"math"
	"math/rand/v2"
	"time"
)

// backoff computes exponential retry delays with symmetric jitter.
type backoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
	rand       func() float64
}

// delay returns the wait before retry number n (n >= 1).
func (b backoff) delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(b.initial) * math.Pow(b.multiplier, float64(n-1))
	if d > float64(b.max) || math.IsInf(d, 0) {
		d = float64(b.max)
	}

	if b.jitter > 0 {
		r := rand.Float64
		if b.rand != nil {
			r = b.rand
		}
		d += d * b.jitter * (2*r() - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
