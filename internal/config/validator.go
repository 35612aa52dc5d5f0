package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "pipeline.raw_capacity")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// metricNameRegex matches a valid Prometheus namespace
var metricNameRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	errors = append(errors, c.Pipeline.Validate()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateMetrics()...)
	return errors
}

// Validate checks the pipeline roster and timing
func (p Pipeline) Validate() []ValidationError {
	var errors []ValidationError

	capacities := []struct {
		field string
		value int
	}{
		{"pipeline.raw_capacity", p.RawCapacity},
		{"pipeline.mid_capacity", p.MidCapacity},
		{"pipeline.ready_capacity", p.ReadyCapacity},
	}
	for _, c := range capacities {
		if c.value < 1 {
			errors = append(errors, ValidationError{
				Field:   c.field,
				Value:   c.value,
				Message: "must be at least 1",
			})
		}
	}

	if p.Consumers < 1 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.consumers",
			Value:   p.Consumers,
			Message: "must be at least 1",
		})
	}

	if p.DelayMinMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.delay_min_ms",
			Value:   p.DelayMinMs,
			Message: "must be non-negative",
		})
	}
	if p.DelayMaxMs < p.DelayMinMs {
		errors = append(errors, ValidationError{
			Field:   "pipeline.delay_max_ms",
			Value:   p.DelayMaxMs,
			Message: fmt.Sprintf("must be at least delay_min_ms (%d)", p.DelayMinMs),
		})
	}

	if p.ShutdownTimeoutMs < 1 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.shutdown_timeout_ms",
			Value:   p.ShutdownTimeoutMs,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}

func (c *Config) validateMetrics() []ValidationError {
	var errors []ValidationError

	if c.Metrics.Enabled && !metricNameRegex.MatchString(c.Metrics.Namespace) {
		errors = append(errors, ValidationError{
			Field:   "metrics.namespace",
			Value:   c.Metrics.Namespace,
			Message: "must start with a letter or underscore and contain only letters, digits, and underscores",
		})
	}

	return errors
}
