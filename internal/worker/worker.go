package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/phaseline/internal/barrier"
	"github.com/Iron-Ham/phaseline/internal/cycle"
	"github.com/Iron-Ham/phaseline/internal/errors"
	"github.com/Iron-Ham/phaseline/internal/event"
	"github.com/Iron-Ham/phaseline/internal/logging"
)

// Stop reasons carried by worker.stopped events.
const (
	ReasonStopped    = "stopped"
	ReasonTerminated = "terminated"
	ReasonError      = "error"
)

// Option configures a Worker.
type Option func(*Worker)

// WithSink sets the progress sink.
func WithSink(sink Sink) Option {
	return func(w *Worker) { w.env.sink = sink }
}

// WithLogger sets the logger. The worker adds its own name and role.
func WithLogger(logger *logging.Logger) Option {
	return func(w *Worker) { w.env.logger = logger }
}

// WithBus sets the bus that receives worker and hand-off events.
func WithBus(bus *event.Bus) Option {
	return func(w *Worker) { w.env.bus = bus }
}

// WithPacer sets the simulated work delay.
func WithPacer(p *Pacer) Option {
	return func(w *Worker) { w.env.Pacer = p }
}

// WithRunID tags events and logs with the pipeline run.
func WithRunID(id string) Option {
	return func(w *Worker) { w.env.RunID = id }
}

// Worker runs one Task in lock step with the other parties of a barrier.
type Worker struct {
	name    string
	task    Task
	barrier *barrier.Barrier
	party   *barrier.Party
	env     *Env

	state   atomic.Int32
	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates a worker and registers it with b.
func New(name string, task Task, b *barrier.Barrier, opts ...Option) (*Worker, error) {
	if name == "" {
		return nil, errors.NewValidationError("worker name is empty").WithField("name").WithCause(errors.ErrInvalidName)
	}
	if task == nil || b == nil {
		return nil, errors.NewValidationError("worker needs a task and a barrier").WithField(name).WithCause(errors.ErrInvalidInput)
	}

	w := &Worker{
		name:    name,
		task:    task,
		barrier: b,
		env:     &Env{Worker: name, role: task.Role()},
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.env.logger == nil {
		w.env.logger = logging.NopLogger()
	}
	w.env.logger = w.env.logger.WithWorker(name).With("role", task.Role().String())

	party, err := b.Register()
	if err != nil {
		return nil, errors.NewWorkerError("register with barrier", err).WithWorker(name).WithRole(task.Role().String())
	}
	w.party = party
	w.running.Store(true)
	return w, nil
}

// Name returns the worker name.
func (w *Worker) Name() string { return w.name }

// Role returns the task's role.
func (w *Worker) Role() Role { return w.task.Role() }

// Task returns the worker's task.
func (w *Worker) Task() Task { return w.task }

// State returns the worker's current loop state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Operations returns the number of completed stage operations.
func (w *Worker) Operations() int64 { return w.env.Operations() }

// Running reports whether Stop has not been called yet.
func (w *Worker) Running() bool { return w.running.Load() }

// Stop asks the loop to exit and cancels any blocking call it is in. Safe
// to call more than once and before Run.
func (w *Worker) Stop() {
	w.running.Store(false)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
}

// Run executes the loop until Stop, ctx cancellation, barrier termination,
// or a task failure. It always deregisters from the barrier before
// returning.
func (w *Worker) Run(ctx context.Context) (result Result) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.mu.Lock()
	w.cancel = cancel
	if !w.running.Load() {
		cancel()
	}
	w.mu.Unlock()

	role := w.task.Role()
	log := w.env.logger
	result = Result{Name: w.name, Role: role}
	reason := ReasonStopped

	defer func() {
		if _, err := w.barrier.ArriveAndDeregister(w.party); err != nil && !errors.Is(err, errors.ErrTerminated) {
			log.Error("failed to leave barrier", "error", err)
		}
		w.state.Store(int32(StateStopped))
		result.Operations = w.env.Operations()
		if result.Stranded != nil {
			log.Warn("stranded item", "item_id", result.Stranded.ID(), "stage", result.Stranded.Stage().String())
		}
		log.Info("worker stopped", "reason", reason, "operations", result.Operations)
		w.env.bus.Publish(event.NewWorkerStoppedEvent(w.env.RunID, w.name, role.String(), result.Operations, reason))
	}()

	log.Info("worker started")
	w.env.bus.Publish(event.NewWorkerStartedEvent(w.env.RunID, w.name, role.String()))

	phase := w.barrier.Phase()
	for w.running.Load() && ctx.Err() == nil {
		if cycle.Of(phase) == w.task.Stage() {
			w.state.Store(int32(StateWorking))
			stageLog := log.WithPhase(cycle.Name(phase)).With("phase_number", phase)
			w.env.stageLogger = stageLog
			item, err := w.task.Perform(ctx, w.env)
			w.env.stageLogger = nil
			if err != nil {
				result.Stranded = item
				if !errors.IsCancellation(err) {
					reason = ReasonError
					result.Err = errors.NewWorkerError("stage operation failed", err).
						WithWorker(w.name).
						WithRole(role.String())
					stageLog.Error("stage operation failed", "error", err)
				}
				return result
			}
			w.state.Store(int32(StateStageDone))
		} else {
			w.state.Store(int32(StateActiveWait))
		}

		next, err := w.barrier.ArriveAndAwaitAdvance(ctx, w.party)
		if err != nil {
			switch {
			case errors.Is(err, errors.ErrTerminated):
				reason = ReasonTerminated
			case errors.IsCancellation(err):
			default:
				// Anything else means the worker's party bookkeeping is broken.
				reason = ReasonError
				result.Err = errors.NewWorkerError("barrier wait failed", err).
					WithWorker(w.name).
					WithRole(role.String()).
					WithSeverity(errors.SeverityCritical)
				log.Error("barrier wait failed", "phase", phase, "error", err)
			}
			return result
		}
		phase = next
	}
	return result
}
