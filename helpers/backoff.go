package helpers

import (
	"sync/atomic"
	"time"

	"github.com/temoto/atomic_clock"
)

// Limited exponential backoff for retry delays.
// Failure() grows next delay by K within [Min, Max], Reset() returns to zero delay.
type Backoff struct {
	next int64 // atomic align
	last *atomic_clock.Clock

	Min time.Duration
	Max time.Duration
	K   float32
	Res time.Duration // delay resolution for nice logs, default=1ms
}

func NewBackoff(minDelay, maxDelay time.Duration, k float32) *Backoff {
	return &Backoff{Min: minDelay, Max: maxDelay, K: k, last: atomic_clock.New()}
}

// Use scenario:
// for {
//   time.Sleep(backoff.Delay())
//   err := op()
//   backoff.Update(err==nil)
// }
func (b *Backoff) Delay() time.Duration {
	next := time.Duration(atomic.LoadInt64(&b.next))
	if next == 0 {
		return 0
	}
	since := atomic_clock.Since(b.last)
	if since >= next {
		return 0
	}
	return b.round(next - since)
}

// Increase next Delay()
func (b *Backoff) Failure() {
	next := time.Duration(atomic.LoadInt64(&b.next))
	next = time.Duration(float32(next) * b.K)
	next = b.limit(next)
	b.last.SetNow()
	atomic.StoreInt64(&b.next, int64(next))
}

func (b *Backoff) Reset() {
	b.last.SetNow()
	atomic.StoreInt64(&b.next, 0)
}

func (b *Backoff) Update(success bool) {
	if success {
		b.Reset()
	} else {
		b.Failure()
	}
}

func (b *Backoff) limit(d time.Duration) time.Duration {
	if d < b.Min {
		d = b.Min
	}
	if d > b.Max {
		d = b.Max
	}
	return b.round(d)
}

func (b *Backoff) round(d time.Duration) time.Duration {
	res := b.Res
	if res == 0 {
		res = 1 * time.Millisecond
	}
	return d / res * res
}
