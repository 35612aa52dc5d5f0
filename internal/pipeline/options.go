package pipeline

import (
	"github.com/Iron-Ham/phaseline/internal/event"
	"github.com/Iron-Ham/phaseline/internal/logging"
	"github.com/Iron-Ham/phaseline/internal/metrics"
	"github.com/Iron-Ham/phaseline/internal/workitem"
)

// Option configures a Controller.
type Option func(*controllerConfig)

type controllerConfig struct {
	logger  *logging.Logger
	bus     *event.Bus
	factory *workitem.Factory
	metrics *metrics.Collector
}

// WithLogger sets the structured logger. Each run logs through a child
// carrying its run ID.
func WithLogger(logger *logging.Logger) Option {
	return func(c *controllerConfig) {
		c.logger = logger
	}
}

// WithBus sets the event bus that receives lifecycle, phase, and hand-off
// events. A private bus is created when none is given.
func WithBus(bus *event.Bus) Option {
	return func(c *controllerConfig) {
		c.bus = bus
	}
}

// WithFactory sets the work item factory. The factory outlives runs, so
// item IDs stay unique across restarts.
func WithFactory(f *workitem.Factory) Option {
	return func(c *controllerConfig) {
		c.factory = f
	}
}

// WithMetrics attaches a metrics collector to the controller's bus.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *controllerConfig) {
		c.metrics = m
	}
}
