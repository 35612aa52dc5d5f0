package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Iron-Ham/phaseline/internal/config"
	"github.com/Iron-Ham/phaseline/internal/errors"
	"github.com/Iron-Ham/phaseline/internal/logging"
	"github.com/Iron-Ham/phaseline/internal/metrics"
	"github.com/Iron-Ham/phaseline/internal/worker"
)

// NewFromConfig creates a controller from a full configuration. When
// logging is enabled the controller writes to its own log file, closed by
// Close. When metrics are enabled a collector is registered with reg; a
// registry that already holds the same metrics is an error.
// Options given explicitly take precedence over the configured ones.
func NewFromConfig(cfg *config.Config, sink worker.Sink, reg prometheus.Registerer, opts ...Option) (*Controller, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, config.ValidationErrors(errs)
	}

	var (
		base  []Option
		owned *logging.Logger
	)
	if cfg.Logging.Enabled {
		logger, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
		if err != nil {
			return nil, errors.Wrap(err, "open pipeline log")
		}
		owned = logger
		base = append(base, WithLogger(logger))
	}
	closeOwned := func() {
		if owned != nil {
			_ = owned.Close()
		}
	}
	if cfg.Metrics.Enabled {
		collector, err := metrics.NewCollector(reg, cfg.Metrics.Namespace)
		if err != nil {
			closeOwned()
			return nil, errors.Wrap(err, "register metrics")
		}
		base = append(base, WithMetrics(collector))
	}

	c, err := New(cfg.Pipeline, sink, append(base, opts...)...)
	if err != nil {
		closeOwned()
		return nil, err
	}
	c.ownedLogger = owned
	return c, nil
}

// Close stops any active run and releases the log file opened by
// NewFromConfig. The controller must not be started again afterwards.
func (c *Controller) Close() error {
	_, stopErr := c.Stop()
	if c.ownedLogger == nil {
		return stopErr
	}
	return errors.Join(stopErr, c.ownedLogger.Close())
}
