package pipeline

import (
	"github.com/Iron-Ham/phaseline/internal/worker"
)

// Channel names, in flow order.
const (
	ChannelRaw   = "RAW"
	ChannelMid   = "MID"
	ChannelReady = "READY"
)

// ChannelNames returns the channel names in flow order.
func ChannelNames() []string {
	return []string{ChannelRaw, ChannelMid, ChannelReady}
}

// Outcome describes what a Start or Stop call did.
type Outcome int

const (
	// OutcomeNoop means the call found the controller already in the
	// requested state.
	OutcomeNoop Outcome = iota
	// OutcomeStarted means a new run was launched.
	OutcomeStarted
	// OutcomeStopped means a running run was shut down.
	OutcomeStopped
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeNoop:
		return "noop"
	case OutcomeStarted:
		return "started"
	case OutcomeStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// WorkerStatus is a point-in-time view of one worker.
type WorkerStatus struct {
	Name       string
	Role       worker.Role
	State      worker.State
	Operations int64
}
