// Package buffer provides the bounded FIFO hand-off channel that connects
// adjacent pipeline roles.
//
// A Channel blocks producers while it is full and consumers while it is
// empty. Each side waits on its own condition variable and every successful
// operation wakes exactly one waiter of the opposite side, oldest first.
// Blocking calls take a context and give up without touching the queue when
// it is canceled, so an item is never lost: it is either in the channel or
// still owned by the caller.
package buffer

import (
	"context"
	"sync"

	"github.com/Iron-Ham/phaseline/internal/errors"
	"github.com/Iron-Ham/phaseline/internal/workitem"
)

// Channel is a fixed-capacity FIFO of work items. It is safe for concurrent
// use.
type Channel struct {
	name string

	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
	buf      []*workitem.Item // ring of len cap
	head     int
	n        int
}

// Snapshot is a consistent view of a channel taken under its lock.
type Snapshot struct {
	Name  string
	Len   int
	Cap   int
	Items []workitem.View // head first
}

// New creates an empty channel.
func New(name string, capacity int) (*Channel, error) {
	if name == "" {
		return nil, errors.NewValidationError("channel name is empty").
			WithField("name").
			WithCause(errors.ErrInvalidName)
	}
	if capacity < 1 {
		return nil, errors.NewValidationError("channel capacity must be positive").
			WithField("capacity").
			WithValue(capacity).
			WithCause(errors.ErrInvalidCapacity)
	}

	c := &Channel{
		name: name,
		buf:  make([]*workitem.Item, capacity),
	}
	c.notFull = sync.NewCond(&c.mu)
	c.notEmpty = sync.NewCond(&c.mu)
	return c, nil
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Cap returns the fixed capacity.
func (c *Channel) Cap() int { return len(c.buf) }

// Len returns the number of queued items.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Free returns the number of empty slots.
func (c *Channel) Free() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf) - c.n
}

// Put appends item at the tail, blocking while the channel is full. If ctx
// is canceled first, the item is not inserted and the returned error
// matches errors.ErrCanceled.
func (c *Channel) Put(ctx context.Context, item *workitem.Item) error {
	if item == nil {
		return errors.NewValidationError("nil item").WithField("item").WithCause(errors.ErrInvalidInput)
	}
	if ctx.Err() != nil {
		return c.canceled(ctx, "put")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.n == len(c.buf) {
		stop := c.wakeOnDone(ctx, c.notFull)
		defer stop()

		for c.n == len(c.buf) {
			if ctx.Err() != nil {
				return c.canceled(ctx, "put")
			}
			c.notFull.Wait()
		}
	}

	c.push(item)
	return nil
}

// Take removes and returns the head item, blocking while the channel is
// empty. If ctx is canceled first, nothing is removed and the returned error
// matches errors.ErrCanceled.
func (c *Channel) Take(ctx context.Context) (*workitem.Item, error) {
	if ctx.Err() != nil {
		return nil, c.canceled(ctx, "take")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.n == 0 {
		stop := c.wakeOnDone(ctx, c.notEmpty)
		defer stop()

		for c.n == 0 {
			if ctx.Err() != nil {
				return nil, c.canceled(ctx, "take")
			}
			c.notEmpty.Wait()
		}
	}

	return c.pop(), nil
}

// TryPut appends item if there is room and reports whether it did.
func (c *Channel) TryPut(item *workitem.Item) bool {
	if item == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.n == len(c.buf) {
		return false
	}
	c.push(item)
	return true
}

// TryTake removes the head item if there is one.
func (c *Channel) TryTake() (*workitem.Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.n == 0 {
		return nil, false
	}
	return c.pop(), true
}

// Snapshot returns the channel contents at a single instant.
func (c *Channel) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	items := make([]workitem.View, 0, c.n)
	for i := 0; i < c.n; i++ {
		items = append(items, c.buf[(c.head+i)%len(c.buf)].View())
	}
	return Snapshot{Name: c.name, Len: c.n, Cap: len(c.buf), Items: items}
}

// Drain removes and returns every queued item, head first.
func (c *Channel) Drain() []*workitem.Item {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*workitem.Item, 0, c.n)
	for c.n > 0 {
		out = append(out, c.pop())
	}
	return out
}

// push and pop must be called with mu held.
func (c *Channel) push(item *workitem.Item) {
	c.buf[(c.head+c.n)%len(c.buf)] = item
	c.n++
	c.notEmpty.Signal()
}

func (c *Channel) pop() *workitem.Item {
	item := c.buf[c.head]
	c.buf[c.head] = nil
	c.head = (c.head + 1) % len(c.buf)
	c.n--
	c.notFull.Signal()
	return item
}

// wakeOnDone broadcasts on cond when ctx is done so blocked waiters can
// observe the cancellation. The returned func must be called before the
// waiter returns.
func (c *Channel) wakeOnDone(ctx context.Context, cond *sync.Cond) func() bool {
	return context.AfterFunc(ctx, func() {
		c.mu.Lock()
		cond.Broadcast()
		c.mu.Unlock()
	})
}

func (c *Channel) canceled(ctx context.Context, op string) error {
	return errors.NewChannelError(op+" canceled", errors.Canceled(ctx)).
		WithChannel(c.name).
		WithOp(op)
}
