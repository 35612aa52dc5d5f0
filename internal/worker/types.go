package worker

import (
	"strings"

	"github.com/Iron-Ham/phaseline/internal/workitem"
)

// Role identifies what a worker does with items.
type Role string

const (
	RoleSupplier  Role = "supplier"
	RoleProcessor Role = "processor"
	RolePacker    Role = "packer"
	RoleConsumer  Role = "consumer"
)

// String returns the role name.
func (r Role) String() string { return string(r) }

// Tag returns the upper-case prefix used in progress messages.
func (r Role) Tag() string { return strings.ToUpper(string(r)) }

// State is the observable position of a worker in its loop.
type State int32

const (
	// StateStarting is the state before the loop has looked at the phase.
	StateStarting State = iota
	// StateActiveWait means the current stage belongs to another role.
	StateActiveWait
	// StateWorking means the worker is performing its stage operation.
	StateWorking
	// StateStageDone means the operation finished and the worker is at the barrier.
	StateStageDone
	// StateStopped is terminal.
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateActiveWait:
		return "ACTIVE-WAIT"
	case StateWorking:
		return "WORKING"
	case StateStageDone:
		return "STAGE-DONE"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Sink receives human-readable progress lines such as
// "[SUPPLIER] created item #3 [bulk] (CREATED) | RAW=2/5". It is called from
// worker goroutines and must be safe for concurrent use.
type Sink func(string)

// Result is what a worker reports when its loop exits.
type Result struct {
	Name       string
	Role       Role
	Operations int64
	// Stranded is the item the worker held when it was canceled, if any.
	Stranded *workitem.Item
	// Err is nil for a clean stop or termination.
	Err error
}
