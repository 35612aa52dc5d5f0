// Package pipeline runs the staged production line: a supplier, a
// processor, a packer, and a pool of consumers passing work items through
// three bounded channels (RAW, MID, READY) in lock step with a phase
// barrier.
//
// # Lifecycle
//
// A [Controller] is created stopped. [Controller.Start] builds a fresh run:
// new channels, a new barrier at phase 0, and the full worker roster, all
// registered before any worker goroutine starts. [Controller.Stop] stops
// every worker, cancels their blocking calls, terminates the barrier, and
// joins them within the configured shutdown timeout. Both are idempotent
// and report what they did as an [Outcome].
//
// Items a worker was holding when it was canceled are not lost: they are
// reported by [Controller.Stranded]. For a cleanly stopped run
//
//	Issued() == items in channels + sum(Consumed()) + len(Stranded())
//
// # Observation
//
// Progress messages go to the [worker.Sink] given to [New]. Phase
// completions, hand-offs, and lifecycle changes are published on the event
// bus, which also feeds the optional metrics collector ([WithMetrics]).
// Snapshots, phase, and worker status can be read at any time.
//
// # Usage
//
//	c, err := pipeline.New(config.DefaultPipeline(), func(msg string) {
//	    fmt.Println(msg)
//	})
//	if err != nil {
//	    return err
//	}
//	if _, err := c.Start(); err != nil {
//	    return err
//	}
//	defer c.Stop()
package pipeline
