package barrier

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/phaseline/internal/errors"
)

// AdvanceFunc observes a phase completion. It runs under the barrier lock
// after the last arrival and before any waiter is released, so it must not
// call Register, ArriveAndAwaitAdvance, ArriveAndDeregister, or
// ForceTermination. Phase is safe to call. Returning true terminates the
// barrier.
type AdvanceFunc func(phase, registered int) bool

// Option configures a Barrier.
type Option func(*Barrier)

// WithOnAdvance installs the phase completion hook.
func WithOnAdvance(fn AdvanceFunc) Option {
	return func(b *Barrier) {
		b.onAdvance = fn
	}
}

// Barrier is a reusable phase barrier with a dynamic party count.
type Barrier struct {
	phase atomic.Int64

	// Termination never takes mu, so it cannot wait behind a slow hook.
	terminated atomic.Bool
	done       chan struct{} // closed once on termination
	doneOnce   sync.Once

	mu         sync.Mutex
	registered int
	arrived    int
	released   chan struct{} // closed when the current phase ends
	onAdvance  AdvanceFunc
	nextID     uint64
}

// Party is the handle a participant uses to arrive and leave.
type Party struct {
	id uint64
	b  *Barrier

	// guarded by b.mu
	active       bool
	arrivedPhase int
}

// ID returns the party's identifier, unique within its barrier.
func (p *Party) ID() uint64 { return p.id }

// New creates a barrier at phase 0 with no parties.
func New(opts ...Option) *Barrier {
	b := &Barrier{
		released: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register adds a party. The new party owes an arrival for the current
// phase.
func (b *Barrier) Register() (*Party, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.terminated.Load() {
		return nil, errors.NewBarrierError("register", errors.ErrTerminated).WithPhase(b.Phase())
	}
	b.nextID++
	b.registered++
	return &Party{id: b.nextID, b: b, active: true, arrivedPhase: -1}, nil
}

// ArriveAndAwaitAdvance records p's arrival for the current phase and
// blocks until the phase advances, returning the new phase.
//
// If ctx is canceled first, p's arrival stays recorded and the error
// matches errors.ErrCanceled; the caller is expected to leave with
// ArriveAndDeregister. An advance that races with cancellation wins.
func (b *Barrier) ArriveAndAwaitAdvance(ctx context.Context, p *Party) (int, error) {
	b.mu.Lock()
	if err := b.checkParty(p); err != nil {
		b.mu.Unlock()
		return b.Phase(), err
	}
	if b.terminated.Load() {
		b.mu.Unlock()
		return b.Phase(), errors.NewBarrierError("arrive", errors.ErrTerminated).WithPhase(b.Phase()).WithParty(p.id)
	}

	phase := b.Phase()
	if p.arrivedPhase == phase {
		b.mu.Unlock()
		return phase, errors.NewBarrierError("arrive", errors.ErrAlreadyArrived).WithPhase(phase).WithParty(p.id)
	}
	p.arrivedPhase = phase
	b.arrived++

	if b.arrived == b.registered {
		advanced := b.advanceLocked()
		b.mu.Unlock()
		if !advanced {
			return phase, errors.NewBarrierError("arrive", errors.ErrTerminated).WithPhase(phase).WithParty(p.id)
		}
		return phase + 1, nil
	}
	released := b.released
	b.mu.Unlock()

	select {
	case <-released:
	case <-b.done:
	case <-ctx.Done():
	}

	// The phase is stored before released is closed, so no lock is needed
	// to see an advance.
	if now := b.Phase(); now != phase {
		return now, nil
	}
	if b.terminated.Load() {
		return phase, errors.NewBarrierError("await", errors.ErrTerminated).WithPhase(phase).WithParty(p.id)
	}
	return phase, errors.NewBarrierError("await canceled", errors.Canceled(ctx)).WithPhase(phase).WithParty(p.id)
}

// ArriveAndDeregister removes p permanently and returns the phase it left
// in. If p had not yet arrived in that phase, its departure may complete
// the phase.
func (b *Barrier) ArriveAndDeregister(p *Party) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkParty(p); err != nil {
		return b.Phase(), err
	}

	phase := b.Phase()
	p.active = false
	b.registered--

	if b.terminated.Load() {
		return phase, errors.NewBarrierError("deregister", errors.ErrTerminated).WithPhase(phase).WithParty(p.id)
	}

	if p.arrivedPhase == phase {
		b.arrived--
		return phase, nil
	}
	if b.registered > 0 && b.arrived == b.registered {
		b.advanceLocked()
	}
	return phase, nil
}

// ForceTermination releases every waiter. Later calls to Register and
// ArriveAndAwaitAdvance fail with errors.ErrTerminated. It does not take the
// barrier lock, so it returns promptly even while the advance hook runs.
func (b *Barrier) ForceTermination() {
	b.terminate()
}

// Phase returns the current phase. It does not take the barrier lock.
func (b *Barrier) Phase() int {
	return int(b.phase.Load())
}

// Registered returns the number of registered parties.
func (b *Barrier) Registered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registered
}

// Arrived returns the number of parties that arrived in the current phase.
func (b *Barrier) Arrived() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.arrived
}

// Terminated reports whether the barrier has stopped advancing.
func (b *Barrier) Terminated() bool {
	return b.terminated.Load()
}

func (b *Barrier) terminate() {
	b.terminated.Store(true)
	b.doneOnce.Do(func() { close(b.done) })
}

func (b *Barrier) checkParty(p *Party) error {
	if p == nil || p.b != b || !p.active {
		var id uint64
		if p != nil {
			id = p.id
		}
		return errors.NewBarrierError("unknown party", errors.ErrNotRegistered).WithPhase(b.Phase()).WithParty(id)
	}
	return nil
}

// advanceLocked completes the current phase and reports whether the phase
// number moved on. It does not when the hook asks to stop or the barrier
// was terminated while the hook ran. Caller holds mu.
func (b *Barrier) advanceLocked() bool {
	phase := b.Phase()
	stop := false
	if b.onAdvance != nil {
		stop = b.onAdvance(phase, b.registered)
	}
	b.arrived = 0

	if stop || b.terminated.Load() {
		b.terminate()
		return false
	}
	b.phase.Store(int64(phase + 1))
	close(b.released)
	b.released = make(chan struct{})
	return true
}
