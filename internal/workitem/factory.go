package workitem

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

// Factory mints items with strictly increasing IDs starting at 1. It is
// safe for concurrent use.
type Factory struct {
	seq atomic.Uint64

	mu  sync.Mutex
	rng *rand.Rand
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithSource makes category selection deterministic.
func WithSource(src rand.Source) FactoryOption {
	return func(f *Factory) {
		f.rng = rand.New(src)
	}
}

// WithStartID makes the next minted ID start+1.
func WithStartID(start uint64) FactoryOption {
	return func(f *Factory) {
		f.seq.Store(start)
	}
}

// NewFactory creates a Factory.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{}
	for _, opt := range opts {
		opt(f)
	}
	if f.rng == nil {
		f.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return f
}

// Next returns a new Created item with the next ID and a uniformly random
// category.
func (f *Factory) Next() *Item {
	f.mu.Lock()
	category := categories[f.rng.IntN(len(categories))]
	f.mu.Unlock()

	return &Item{id: f.seq.Add(1), category: category}
}

// Issued returns the highest ID handed out so far. Without WithStartID this
// is also the number of items minted.
func (f *Factory) Issued() uint64 {
	return f.seq.Load()
}
