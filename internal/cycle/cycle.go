// Package cycle maps barrier phase numbers onto the four repeating pipeline
// stages.
package cycle

// Stage is one of the repeating pipeline stages. Its numeric value is the
// phase offset within a cycle.
type Stage int

const (
	// Supply is the stage in which new items enter RAW.
	Supply Stage = iota
	// Process is the stage in which items move from RAW to MID.
	Process
	// Pack is the stage in which items move from MID to READY.
	Pack
	// Consume is the stage in which consumers drain READY.
	Consume
)

// Len is the number of stages in one cycle.
const Len = 4

var names = [Len]string{"SUPPLY", "PROCESS", "PACK", "CONSUME"}

// Of returns the stage for a barrier phase number. Negative phases (a
// terminated barrier) map to Supply.
func Of(phase int) Stage {
	if phase < 0 {
		return Supply
	}
	return Stage(phase % Len)
}

// Name returns the stage name for a barrier phase number.
func Name(phase int) string {
	return Of(phase).String()
}

// String returns the upper-case stage name.
func (s Stage) String() string {
	if s < 0 || int(s) >= Len {
		return "UNKNOWN"
	}
	return names[s]
}

// Next returns the stage that follows s.
func (s Stage) Next() Stage {
	return Stage((int(s) + 1) % Len)
}

// Stages returns every stage in cycle order.
func Stages() []Stage {
	return []Stage{Supply, Process, Pack, Consume}
}
