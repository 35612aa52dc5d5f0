// Package worker runs pipeline roles in lock step with a phase barrier.
//
// Every role uses the same loop; what differs is the [Task] it performs
// when the barrier's current stage matches the task's stage:
//
//	STARTING -> (ACTIVE-WAIT | WORKING -> STAGE-DONE) -> barrier -> ... -> STOPPED
//
// A task performs at most one operation per stage occurrence. Inputs are
// claimed with a non-blocking take and outputs are checked for room first,
// because the opposite side of a channel never runs in the same stage and
// so could never wake a blocked call before the barrier needs this worker's
// arrival. The final put into the output is blocking and cancellable; an
// item held when the worker is stopped comes back in [Result.Stranded].
//
// Progress lines go to an optional [Sink] as "[ROLE] message", to the
// structured logger, and (for hand-offs) to the event bus.
package worker
