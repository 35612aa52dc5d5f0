package worker

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Iron-Ham/phaseline/internal/errors"
)

// Pacer simulates per-operation work by sleeping for a random duration in
// [lo, hi]. A nil Pacer or a zero range never sleeps. Safe for concurrent
// use.
type Pacer struct {
	lo, hi time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPacer creates a Pacer. Bounds are swapped if given in reverse order and
// negative bounds are treated as zero.
func NewPacer(lo, hi time.Duration) *Pacer {
	return NewPacerWithSource(lo, hi, rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// NewPacerWithSource creates a Pacer with a deterministic random source.
func NewPacerWithSource(lo, hi time.Duration, src rand.Source) *Pacer {
	lo, hi = clampNonNegative(lo), clampNonNegative(hi)
	if hi < lo {
		lo, hi = hi, lo
	}
	return &Pacer{lo: lo, hi: hi, rng: rand.New(src)}
}

func clampNonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// Range returns the configured bounds.
func (p *Pacer) Range() (time.Duration, time.Duration) {
	if p == nil {
		return 0, 0
	}
	return p.lo, p.hi
}

// Next draws the next delay.
func (p *Pacer) Next() time.Duration {
	if p == nil || p.hi == 0 {
		return 0
	}
	if p.hi == p.lo {
		return p.lo
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lo + time.Duration(p.rng.Int64N(int64(p.hi-p.lo)+1))
}

// Wait sleeps for the next delay or until ctx is canceled.
func (p *Pacer) Wait(ctx context.Context) error {
	if ctx.Err() != nil {
		return errors.Canceled(ctx)
	}
	d := p.Next()
	if d == 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errors.Canceled(ctx)
	}
}
