// Package logging provides structured logging for pipeline runs.
//
// This package wraps Go's log/slog to emit JSON-formatted entries that can be
// filtered after the fact by run, worker, or stage. Every worker goroutine
// logs through a child logger, so a single pipeline.log interleaves all roles
// while each line stays attributable.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/var/log/phaseline", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.Info("pipeline started", "workers", 6)
//
// # Context Propagation
//
// Child loggers carry persistent attributes:
//
//	runLogger := logger.WithRun("6f1c...")
//	workerLogger := runLogger.WithWorker("consumer-2")
//	workerLogger.WithPhase("CONSUME").Info("took item", "item_id", 7)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"took item","run_id":"6f1c...","worker":"consumer-2","phase":"CONSUME","item_id":7}
//
// Children share their parent's output; closing any of them closes the file.
//
// # Thread Safety
//
// All methods are safe for concurrent use. slog serializes writes per handler,
// so concurrent workers never interleave partial lines.
//
// # Testing
//
// Use [NopLogger] to discard output, or [NewWriterLogger] with a buffer to
// assert on entries.
package logging
