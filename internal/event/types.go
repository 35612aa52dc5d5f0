package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "phase.advanced").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypePipelineStarted = "pipeline.started"
	TypePipelineStopped = "pipeline.stopped"
	TypePhaseAdvanced   = "phase.advanced"
	TypeItemHandoff     = "item.handoff"
	TypeWorkerStarted   = "worker.started"
	TypeWorkerStopped   = "worker.stopped"
)

// Hand-off operations carried by ItemHandoffEvent.
const (
	OpPut  = "put"
	OpTake = "take"
)

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Pipeline Lifecycle Events
// -----------------------------------------------------------------------------

// ChannelCapacity names a bounded channel and its fixed capacity.
type ChannelCapacity struct {
	Name     string
	Capacity int
}

// PipelineStartedEvent is emitted once a run has launched all of its workers.
type PipelineStartedEvent struct {
	baseEvent
	RunID    string
	Workers  int
	Channels []ChannelCapacity
}

// NewPipelineStartedEvent creates a PipelineStartedEvent.
func NewPipelineStartedEvent(runID string, workers int, channels []ChannelCapacity) PipelineStartedEvent {
	return PipelineStartedEvent{
		baseEvent: newBaseEvent(TypePipelineStarted),
		RunID:     runID,
		Workers:   workers,
		Channels:  channels,
	}
}

// PipelineStoppedEvent is emitted after a run's workers have been joined,
// or after the shutdown timeout expired.
type PipelineStoppedEvent struct {
	baseEvent
	RunID    string
	Stranded int   // items held by workers when they were canceled
	Err      error // non-nil when shutdown did not complete cleanly
}

// NewPipelineStoppedEvent creates a PipelineStoppedEvent.
func NewPipelineStoppedEvent(runID string, stranded int, err error) PipelineStoppedEvent {
	return PipelineStoppedEvent{
		baseEvent: newBaseEvent(TypePipelineStopped),
		RunID:     runID,
		Stranded:  stranded,
		Err:       err,
	}
}

// -----------------------------------------------------------------------------
// Phase Events
// -----------------------------------------------------------------------------

// PhaseAdvancedEvent is emitted when every registered party has arrived
// and the barrier moved past Phase.
type PhaseAdvancedEvent struct {
	baseEvent
	RunID      string
	Phase      int    // the phase that just completed
	Stage      string // stage name of the completed phase
	Registered int
}

// NewPhaseAdvancedEvent creates a PhaseAdvancedEvent.
func NewPhaseAdvancedEvent(runID string, phase int, stage string, registered int) PhaseAdvancedEvent {
	return PhaseAdvancedEvent{
		baseEvent:  newBaseEvent(TypePhaseAdvanced),
		RunID:      runID,
		Phase:      phase,
		Stage:      stage,
		Registered: registered,
	}
}

// -----------------------------------------------------------------------------
// Hand-off Events
// -----------------------------------------------------------------------------

// ItemHandoffEvent is emitted after a worker put an item into, or took an
// item from, a bounded channel. Len is the channel length right after the
// operation.
type ItemHandoffEvent struct {
	baseEvent
	RunID   string
	Worker  string
	Channel string
	Op      string
	ItemID  uint64
	Stage   string
	Len     int
	Cap     int
}

// NewItemHandoffEvent creates an ItemHandoffEvent.
func NewItemHandoffEvent(runID, worker, channel, op string, itemID uint64, stage string, length, capacity int) ItemHandoffEvent {
	return ItemHandoffEvent{
		baseEvent: newBaseEvent(TypeItemHandoff),
		RunID:     runID,
		Worker:    worker,
		Channel:   channel,
		Op:        op,
		ItemID:    itemID,
		Stage:     stage,
		Len:       length,
		Cap:       capacity,
	}
}

// -----------------------------------------------------------------------------
// Worker Events
// -----------------------------------------------------------------------------

// WorkerStartedEvent is emitted when a worker goroutine enters its loop.
type WorkerStartedEvent struct {
	baseEvent
	RunID  string
	Worker string
	Role   string
}

// NewWorkerStartedEvent creates a WorkerStartedEvent.
func NewWorkerStartedEvent(runID, worker, role string) WorkerStartedEvent {
	return WorkerStartedEvent{
		baseEvent: newBaseEvent(TypeWorkerStarted),
		RunID:     runID,
		Worker:    worker,
		Role:      role,
	}
}

// WorkerStoppedEvent is emitted when a worker goroutine leaves its loop.
type WorkerStoppedEvent struct {
	baseEvent
	RunID      string
	Worker     string
	Role       string
	Operations int64
	Reason     string // "stopped", "terminated", or "error"
}

// NewWorkerStoppedEvent creates a WorkerStoppedEvent.
func NewWorkerStoppedEvent(runID, worker, role string, operations int64, reason string) WorkerStoppedEvent {
	return WorkerStoppedEvent{
		baseEvent:  newBaseEvent(TypeWorkerStopped),
		RunID:      runID,
		Worker:     worker,
		Role:       role,
		Operations: operations,
		Reason:     reason,
	}
}
