package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/phaseline/internal/barrier"
	"github.com/Iron-Ham/phaseline/internal/buffer"
	"github.com/Iron-Ham/phaseline/internal/config"
	"github.com/Iron-Ham/phaseline/internal/cycle"
	"github.com/Iron-Ham/phaseline/internal/errors"
	"github.com/Iron-Ham/phaseline/internal/event"
	"github.com/Iron-Ham/phaseline/internal/logging"
	"github.com/Iron-Ham/phaseline/internal/worker"
	"github.com/Iron-Ham/phaseline/internal/workitem"
)

// Controller owns the channels, the barrier, and the worker roster of a
// pipeline, and starts and stops runs of it.
//
// Start and Stop are serialized. Query methods never wait for a Start or
// Stop in progress and may be called from any goroutine, including from
// the sink.
type Controller struct {
	cfg     config.Pipeline
	sink    worker.Sink
	logger  *logging.Logger
	bus     *event.Bus
	factory *workitem.Factory

	ownedLogger *logging.Logger // opened by NewFromConfig

	lifecycle sync.Mutex // serializes Start and Stop

	mu       sync.RWMutex
	current  *run
	running  bool
	stranded []workitem.View
}

// run is one Start..Stop cycle. A fresh run gets fresh channels and a
// fresh barrier.
type run struct {
	id       string
	logger   *logging.Logger
	cancel   context.CancelFunc
	barrier  *barrier.Barrier
	channels []*buffer.Channel // RAW, MID, READY

	workers   []*worker.Worker
	consumers []*worker.Consumer
	exited    []atomic.Bool
	active    atomic.Int32
	wg        conc.WaitGroup

	issuedBase uint64

	mu      sync.Mutex
	results []worker.Result
}

// New creates a stopped controller. The channels exist (empty) from the
// start so they can be inspected before the first run.
func New(cfg config.Pipeline, sink worker.Sink, opts ...Option) (*Controller, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, config.ValidationErrors(errs)
	}

	cc := &controllerConfig{}
	for _, opt := range opts {
		opt(cc)
	}
	if cc.logger == nil {
		cc.logger = logging.NopLogger()
	}
	if cc.bus == nil {
		cc.bus = event.NewBus()
	}
	if cc.factory == nil {
		cc.factory = workitem.NewFactory()
	}
	if cc.metrics != nil {
		cc.metrics.Attach(cc.bus)
	}

	c := &Controller{
		cfg:     cfg,
		sink:    sink,
		logger:  cc.logger,
		bus:     cc.bus,
		factory: cc.factory,
	}

	channels, err := c.newChannels()
	if err != nil {
		return nil, err
	}
	c.current = &run{channels: channels, logger: c.logger}
	return c, nil
}

// Start launches a new run. If a run is already active it reports
// "already running" to the sink and returns OutcomeNoop.
func (c *Controller) Start() (Outcome, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.Running() {
		c.report("already running")
		return OutcomeNoop, nil
	}

	r, err := c.newRun()
	if err != nil {
		c.logger.Error("failed to build run", "error", err)
		return OutcomeNoop, err
	}

	c.mu.Lock()
	prev := c.current
	c.current = r
	c.running = true
	c.stranded = nil
	c.mu.Unlock()

	if prev.id != "" {
		discarded := 0
		for _, ch := range prev.channels {
			discarded += len(ch.Drain())
		}
		prev.logger.Info("previous run cleared", "discarded", discarded)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.active.Store(int32(len(r.workers)))
	for i, w := range r.workers {
		r.wg.Go(func() {
			defer r.active.Add(-1)
			defer r.exited[i].Store(true)
			r.record(w.Run(ctx))
		})
	}

	capacities := make([]event.ChannelCapacity, 0, len(r.channels))
	for _, ch := range r.channels {
		capacities = append(capacities, event.ChannelCapacity{Name: ch.Name(), Capacity: ch.Cap()})
	}
	r.logger.Info("pipeline started",
		"workers", len(r.workers),
		"raw_capacity", c.cfg.RawCapacity,
		"mid_capacity", c.cfg.MidCapacity,
		"ready_capacity", c.cfg.ReadyCapacity,
	)
	c.bus.Publish(event.NewPipelineStartedEvent(r.id, len(r.workers), capacities))
	c.report(fmt.Sprintf("started %d workers", len(r.workers)))
	return OutcomeStarted, nil
}

// Stop shuts the active run down: every worker is told to stop, blocking
// calls are canceled, the barrier is terminated, and the workers are
// joined within the configured shutdown timeout. When the timeout expires
// Stop returns a *errors.ShutdownError naming the workers still running.
// Without an active run Stop does nothing and returns OutcomeNoop.
func (c *Controller) Stop() (Outcome, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.RLock()
	r, running := c.current, c.running
	c.mu.RUnlock()
	if !running {
		return OutcomeNoop, nil
	}

	for _, w := range r.workers {
		w.Stop()
	}
	r.cancel()
	r.barrier.ForceTermination()

	err := r.join(c.cfg.ShutdownTimeout())

	var stranded []workitem.View
	var errs []error
	if err != nil {
		errs = append(errs, err)
	}
	for _, res := range r.snapshotResults() {
		if res.Stranded != nil {
			stranded = append(stranded, res.Stranded.View())
		}
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	err = errors.Join(errs...)

	c.mu.Lock()
	c.running = false
	c.stranded = stranded
	c.mu.Unlock()

	for _, v := range stranded {
		r.logger.Warn("item stranded by stop", "item_id", v.ID, "category", string(v.Category), "stage", v.Stage.String())
	}
	if err != nil {
		logAt(r.logger, stopSeverity(errs), "pipeline stopped with errors", "stranded", len(stranded), "error", err)
	} else {
		r.logger.Info("pipeline stopped", "stranded", len(stranded))
	}
	c.bus.Publish(event.NewPipelineStoppedEvent(r.id, len(stranded), err))
	for _, e := range errs {
		if errors.IsUserFacing(e) {
			c.report(e.Error())
		}
	}
	c.report(fmt.Sprintf("stopped (%d stranded)", len(stranded)))
	return OutcomeStopped, err
}

// Running reports whether a run is active.
func (c *Controller) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// RunID returns the ID of the active or most recent run, or "" before the
// first Start.
func (c *Controller) RunID() string {
	return c.latest().id
}

// CurrentPhase returns the barrier phase of the active or most recent run.
func (c *Controller) CurrentPhase() int {
	r := c.latest()
	if r.barrier == nil {
		return 0
	}
	return r.barrier.Phase()
}

// CurrentPhaseName returns the stage name of CurrentPhase.
func (c *Controller) CurrentPhaseName() string {
	return cycle.Name(c.CurrentPhase())
}

// ChannelSnapshot returns a consistent view of the named channel.
func (c *Controller) ChannelSnapshot(name string) (buffer.Snapshot, error) {
	for _, ch := range c.latest().channels {
		if ch.Name() == name {
			return ch.Snapshot(), nil
		}
	}
	return buffer.Snapshot{}, errors.NewNotFoundError("channel", name).WithCause(errors.ErrUnknownChannel)
}

// Snapshots returns a view of every channel in flow order. Each view is
// consistent on its own; the set is not taken atomically.
func (c *Controller) Snapshots() []buffer.Snapshot {
	channels := c.latest().channels
	out := make([]buffer.Snapshot, 0, len(channels))
	for _, ch := range channels {
		out = append(out, ch.Snapshot())
	}
	return out
}

// Workers returns the status of every worker of the active or most recent
// run, in roster order.
func (c *Controller) Workers() []WorkerStatus {
	workers := c.latest().workers
	out := make([]WorkerStatus, 0, len(workers))
	for _, w := range workers {
		out = append(out, WorkerStatus{
			Name:       w.Name(),
			Role:       w.Role(),
			State:      w.State(),
			Operations: w.Operations(),
		})
	}
	return out
}

// Consumed returns the number of items each consumer finished, by worker
// name.
func (c *Controller) Consumed() map[string]int64 {
	r := c.latest()
	out := make(map[string]int64, len(r.consumers))
	for i, cons := range r.consumers {
		out[consumerName(i)] = cons.Consumed()
	}
	return out
}

// ActiveWorkers returns how many worker goroutines of the current run have
// not exited yet.
func (c *Controller) ActiveWorkers() int {
	return int(c.latest().active.Load())
}

// Issued returns how many items the supplier created in the active or most
// recent run.
func (c *Controller) Issued() uint64 {
	r := c.latest()
	if r.barrier == nil {
		return 0
	}
	return c.factory.Issued() - r.issuedBase
}

// Stranded returns the items workers were holding when the last Stop
// canceled them.
func (c *Controller) Stranded() []workitem.View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]workitem.View, len(c.stranded))
	copy(out, c.stranded)
	return out
}

// Bus returns the controller's event bus.
func (c *Controller) Bus() *event.Bus {
	return c.bus
}

func (c *Controller) latest() *run {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// stopSeverity is the highest severity among the errors a stop collected.
func stopSeverity(errs []error) errors.Severity {
	sev := errors.SeverityDebug
	for _, err := range errs {
		sev = max(sev, errors.GetSeverity(err))
	}
	return sev
}

func logAt(l *logging.Logger, sev errors.Severity, msg string, args ...any) {
	switch {
	case sev >= errors.SeverityError:
		l.Error(msg, args...)
	case sev == errors.SeverityWarning:
		l.Warn(msg, args...)
	default:
		l.Info(msg, args...)
	}
}

func (c *Controller) report(msg string) {
	if c.sink != nil {
		c.sink(msg)
	}
}

func (c *Controller) newChannels() ([]*buffer.Channel, error) {
	caps := []int{c.cfg.RawCapacity, c.cfg.MidCapacity, c.cfg.ReadyCapacity}
	channels := make([]*buffer.Channel, 0, len(caps))
	for i, name := range ChannelNames() {
		ch, err := buffer.New(name, caps[i])
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

// newRun builds channels, barrier, and the full roster. Every worker is
// registered before any of them runs, so no phase can complete early.
func (c *Controller) newRun() (*run, error) {
	channels, err := c.newChannels()
	if err != nil {
		return nil, err
	}

	r := &run{
		id:         uuid.NewString(),
		channels:   channels,
		issuedBase: c.factory.Issued(),
	}
	r.logger = c.logger.WithRun(r.id)
	r.barrier = barrier.New(barrier.WithOnAdvance(c.onAdvance(r)))

	raw, mid, ready := channels[0], channels[1], channels[2]
	roster := []struct {
		name string
		task worker.Task
	}{
		{"supplier", &worker.Supplier{Out: raw, Factory: c.factory}},
		{"processor", &worker.Processor{In: raw, Out: mid}},
		{"packer", &worker.Packer{In: mid, Out: ready}},
	}
	for i := 0; i < c.cfg.Consumers; i++ {
		cons := &worker.Consumer{In: ready}
		r.consumers = append(r.consumers, cons)
		roster = append(roster, struct {
			name string
			task worker.Task
		}{consumerName(i), cons})
	}

	lo, hi := c.cfg.DelayRange()
	for _, entry := range roster {
		w, err := worker.New(entry.name, entry.task, r.barrier,
			worker.WithSink(c.sink),
			worker.WithLogger(r.logger),
			worker.WithBus(c.bus),
			worker.WithPacer(worker.NewPacer(lo, hi)),
			worker.WithRunID(r.id),
		)
		if err != nil {
			r.barrier.ForceTermination()
			return nil, err
		}
		r.workers = append(r.workers, w)
	}
	r.exited = make([]atomic.Bool, len(r.workers))
	return r, nil
}

// onAdvance returns the phase completion hook for r. It runs under the
// barrier lock.
func (c *Controller) onAdvance(r *run) barrier.AdvanceFunc {
	return func(phase, registered int) bool {
		name := cycle.Name(phase)
		c.report(fmt.Sprintf("---- phase %d (%s) complete ----", phase, name))
		r.logger.Debug("phase complete", "phase", phase, "stage", name, "registered", registered)
		c.bus.Publish(event.NewPhaseAdvancedEvent(r.id, phase, name, registered))
		return false
	}
}

func consumerName(i int) string {
	return fmt.Sprintf("consumer-%d", i+1)
}

func (r *run) record(res worker.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *run) snapshotResults() []worker.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]worker.Result, len(r.results))
	copy(out, r.results)
	return out
}

// join waits for every worker goroutine. A recovered panic is reported as
// ErrWorkerPanic; workers still running after timeout are named in a
// ShutdownError.
func (r *run) join(timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		if rec := r.wg.WaitAndRecover(); rec != nil {
			done <- errors.Join(errors.ErrWorkerPanic, rec.AsError())
			return
		}
		done <- nil
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		var stuck []string
		for i, w := range r.workers {
			if !r.exited[i].Load() {
				stuck = append(stuck, w.Name())
			}
		}
		return errors.NewShutdownError(timeout, stuck)
	}
}
