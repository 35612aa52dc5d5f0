// Package event provides a synchronous pub-sub bus and the events a pipeline
// run emits.
//
// Producers (the controller, workers, and the phase hook) publish without
// knowing who listens; observers such as the metrics collector subscribe by
// type or to everything.
//
// # Event Types
//
//   - [PipelineStartedEvent] ("pipeline.started")
//   - [PipelineStoppedEvent] ("pipeline.stopped")
//   - [PhaseAdvancedEvent] ("phase.advanced")
//   - [ItemHandoffEvent] ("item.handoff")
//   - [WorkerStartedEvent] ("worker.started")
//   - [WorkerStoppedEvent] ("worker.stopped")
//
// # Usage
//
//	bus := event.NewBus()
//	id := bus.Subscribe(event.TypePhaseAdvanced, func(e event.Event) {
//	    adv := e.(event.PhaseAdvancedEvent)
//	    fmt.Println("completed", adv.Stage)
//	})
//	defer bus.Unsubscribe(id)
//
// # Delivery
//
// Publish calls handlers on the publishing goroutine. Phase events are
// published from inside the barrier's advance hook, so handlers must return
// quickly and must never call back into the barrier.
package event
