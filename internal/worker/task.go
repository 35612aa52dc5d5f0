package worker

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/Iron-Ham/phaseline/internal/buffer"
	"github.com/Iron-Ham/phaseline/internal/cycle"
	"github.com/Iron-Ham/phaseline/internal/event"
	"github.com/Iron-Ham/phaseline/internal/logging"
	"github.com/Iron-Ham/phaseline/internal/workitem"
)

// Task is one role's stage operation. Perform runs at most once per
// occurrence of Stage. On error it returns the item it owned at that moment,
// which the worker reports as stranded.
type Task interface {
	Stage() cycle.Stage
	Role() Role
	Perform(ctx context.Context, env *Env) (*workitem.Item, error)
}

// Env carries a worker's reporting channels and pacing into its task.
type Env struct {
	Worker string
	RunID  string
	Pacer  *Pacer

	role   Role
	sink   Sink
	logger *logging.Logger
	bus    *event.Bus
	ops    atomic.Int64

	stageLogger *logging.Logger // tagged with the current phase while a stage operation runs
}

func (e *Env) log() *logging.Logger {
	if e.stageLogger != nil {
		return e.stageLogger
	}
	return e.logger
}

// Report sends "[ROLE] message" to the sink and logs the message.
func (e *Env) Report(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if e.sink != nil {
		e.sink(fmt.Sprintf("[%s] %s", e.role.Tag(), msg))
	}
	e.log().Debug(msg)
}

// Handoff logs a completed channel operation and publishes an item.handoff
// event.
func (e *Env) Handoff(ch *buffer.Channel, op string, it *workitem.Item) {
	e.log().Info("handoff",
		"channel", ch.Name(),
		"op", op,
		"item_id", it.ID(),
		"stage", it.Stage().String())
	e.bus.Publish(event.NewItemHandoffEvent(e.RunID, e.Worker, ch.Name(), op, it.ID(), it.Stage().String(), ch.Len(), ch.Cap()))
}

// Complete counts one finished stage operation.
func (e *Env) Complete() {
	e.ops.Add(1)
}

// Operations returns the number of finished stage operations.
func (e *Env) Operations() int64 {
	return e.ops.Load()
}

// Gauge renders a channel's occupancy as "RAW=2/5".
func Gauge(ch *buffer.Channel) string {
	return fmt.Sprintf("%s=%d/%d", ch.Name(), ch.Len(), ch.Cap())
}

// -----------------------------------------------------------------------------
// Supplier
// -----------------------------------------------------------------------------

// Supplier mints one item per SUPPLY stage and puts it into Out.
type Supplier struct {
	Out     *buffer.Channel
	Factory *workitem.Factory
}

func (s *Supplier) Stage() cycle.Stage { return cycle.Supply }
func (s *Supplier) Role() Role         { return RoleSupplier }

func (s *Supplier) Perform(ctx context.Context, env *Env) (*workitem.Item, error) {
	if s.Out.Free() == 0 {
		env.Report("output full, nothing supplied | %s", Gauge(s.Out))
		return nil, nil
	}
	if err := env.Pacer.Wait(ctx); err != nil {
		return nil, err
	}

	it := s.Factory.Next()
	if err := s.Out.Put(ctx, it); err != nil {
		return it, err
	}
	env.Handoff(s.Out, event.OpPut, it)
	env.Complete()
	env.Report("created %s | %s", it, Gauge(s.Out))
	return nil, nil
}

// -----------------------------------------------------------------------------
// Processor and Packer
// -----------------------------------------------------------------------------

// transfer claims one item from in, tags it, and hands it to out.
func transfer(ctx context.Context, env *Env, in, out *buffer.Channel, to workitem.Stage, verb string) (*workitem.Item, error) {
	if out.Free() == 0 {
		env.Report("output full, waiting | %s", Gauge(out))
		return nil, nil
	}
	it, ok := in.TryTake()
	if !ok {
		env.Report("nothing to take | %s", Gauge(in))
		return nil, nil
	}
	env.Handoff(in, event.OpTake, it)

	if err := env.Pacer.Wait(ctx); err != nil {
		return it, err
	}
	if err := it.Advance(to); err != nil {
		return it, err
	}
	if err := out.Put(ctx, it); err != nil {
		return it, err
	}
	env.Handoff(out, event.OpPut, it)
	env.Complete()
	env.Report("%s %s | %s %s", verb, it, Gauge(in), Gauge(out))
	return nil, nil
}

// Processor moves one item per PROCESS stage from In to Out, tagging it
// Processed.
type Processor struct {
	In, Out *buffer.Channel
}

func (p *Processor) Stage() cycle.Stage { return cycle.Process }
func (p *Processor) Role() Role         { return RoleProcessor }

func (p *Processor) Perform(ctx context.Context, env *Env) (*workitem.Item, error) {
	return transfer(ctx, env, p.In, p.Out, workitem.Processed, "processed")
}

// Packer moves one item per PACK stage from In to Out, tagging it Packed.
type Packer struct {
	In, Out *buffer.Channel
}

func (p *Packer) Stage() cycle.Stage { return cycle.Pack }
func (p *Packer) Role() Role         { return RolePacker }

func (p *Packer) Perform(ctx context.Context, env *Env) (*workitem.Item, error) {
	return transfer(ctx, env, p.In, p.Out, workitem.Packed, "packed")
}

// -----------------------------------------------------------------------------
// Consumer
// -----------------------------------------------------------------------------

// Consumer takes at most one item per CONSUME stage from In and counts it.
// Several consumers may share In; each item goes to exactly one of them.
type Consumer struct {
	In *buffer.Channel

	consumed atomic.Int64
}

func (c *Consumer) Stage() cycle.Stage { return cycle.Consume }
func (c *Consumer) Role() Role         { return RoleConsumer }

func (c *Consumer) Perform(ctx context.Context, env *Env) (*workitem.Item, error) {
	it, ok := c.In.TryTake()
	if !ok {
		env.Report("nothing to take | %s", Gauge(c.In))
		return nil, nil
	}
	env.Handoff(c.In, event.OpTake, it)

	if err := env.Pacer.Wait(ctx); err != nil {
		return it, err
	}
	n := c.consumed.Add(1)
	env.Complete()
	env.Report("consumed %s (total %d) | %s", it, n, Gauge(c.In))
	return nil, nil
}

// Consumed returns how many items this consumer has finished.
func (c *Consumer) Consumed() int64 {
	return c.consumed.Load()
}
