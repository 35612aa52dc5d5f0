// Package errors provides centralized error definitions and error handling utilities
// for the pipeline core. It defines sentinel errors, domain-specific error types,
// error constructors with context wrapping, and classification helpers.
//
// # Error Types
//
// Domain-specific errors represent errors from specific subsystems:
//   - ChannelError: a bounded channel operation failed or was canceled
//   - BarrierError: a phase barrier operation failed or was canceled
//   - WorkerError: a worker loop terminated abnormally
//   - ShutdownError: workers failed to join within the shutdown timeout
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid construction input
//
// # Taxonomy
//
// Cancellation is recovered locally by the worker that observed it and is never
// surfaced by the controller. Invalid construction is fatal to the component being
// built. A shutdown timeout is surfaced to the caller of Stop. Nothing is retried.
//
// # Usage
//
//	err := errors.NewChannelError("put canceled", errors.Canceled(ctx)).
//	    WithChannel("RAW").WithOp("put")
//
//	if errors.IsCancellation(err) { ... }
//
//	var shutdown *errors.ShutdownError
//	if errors.As(err, &shutdown) { ... }
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Hand-off and synchronisation sentinel errors
var (
	// ErrCanceled indicates that a blocking wait was interrupted by cancellation.
	ErrCanceled = New("operation canceled")
	// ErrTerminated indicates that the phase barrier no longer advances.
	ErrTerminated = New("barrier terminated")
	// ErrNotRegistered indicates that a party is not (or no longer) registered.
	ErrNotRegistered = New("party not registered")
	// ErrAlreadyArrived indicates a second arrival by the same party in one phase.
	ErrAlreadyArrived = New("party already arrived in this phase")
)

// Construction sentinel errors
var (
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrInvalidCapacity indicates a channel capacity below one.
	ErrInvalidCapacity = New("capacity must be at least 1")
	// ErrInvalidName indicates an empty component name.
	ErrInvalidName = New("name must not be empty")
	// ErrInvalidCategory indicates an empty or unknown item category.
	ErrInvalidCategory = New("invalid item category")
	// ErrInvalidTransition indicates a stage tag change that skips or reverses a step.
	ErrInvalidTransition = New("invalid stage transition")
)

// Lifecycle sentinel errors
var (
	// ErrShutdownTimeout indicates that workers did not stop within the shutdown timeout.
	ErrShutdownTimeout = New("shutdown timed out")
	// ErrWorkerPanic indicates that a worker goroutine panicked.
	ErrWorkerPanic = New("worker panicked")
	// ErrUnknownChannel indicates a snapshot request for a channel that does not exist.
	ErrUnknownChannel = New("unknown channel")
)

// Canceled returns an error that matches both ErrCanceled and the context's
// cancellation cause.
func Canceled(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil {
		return ErrCanceled
	}
	return fmt.Errorf("%w: %w", ErrCanceled, cause)
}

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// PipelineError is the base interface for all errors defined by this package.
type PipelineError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// ChannelError represents a failed or canceled bounded channel operation.
//
// Example:
//
//	err := errors.NewChannelError("take canceled", errors.ErrCanceled).WithChannel("READY").WithOp("take")
//	fmt.Println(err) // "channel error [channel=READY, op=take]: take canceled: operation canceled"
type ChannelError struct {
	baseError
	Channel string
	Op      string
}

// NewChannelError creates a new ChannelError.
func NewChannelError(message string, cause error) *ChannelError {
	return &ChannelError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityInfo,
		},
	}
}

// WithChannel adds the channel name to the error context.
func (e *ChannelError) WithChannel(name string) *ChannelError {
	e.Channel = name
	return e
}

// WithOp adds the operation name ("put", "take") to the error context.
func (e *ChannelError) WithOp(op string) *ChannelError {
	e.Op = op
	return e
}

// Error returns the formatted error message.
func (e *ChannelError) Error() string {
	var parts []string
	if e.Channel != "" {
		parts = append(parts, fmt.Sprintf("channel=%s", e.Channel))
	}
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	return formatDomain("channel error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ChannelError) Is(target error) bool {
	if _, ok := target.(*ChannelError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// BarrierError represents a failed or canceled phase barrier operation.
type BarrierError struct {
	baseError
	Phase   int
	PartyID uint64
}

// NewBarrierError creates a new BarrierError.
func NewBarrierError(message string, cause error) *BarrierError {
	return &BarrierError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityInfo,
		},
		Phase: -1,
	}
}

// WithPhase adds the phase number at which the failure occurred.
func (e *BarrierError) WithPhase(phase int) *BarrierError {
	e.Phase = phase
	return e
}

// WithParty adds the party identifier.
func (e *BarrierError) WithParty(id uint64) *BarrierError {
	e.PartyID = id
	return e
}

// Error returns the formatted error message.
func (e *BarrierError) Error() string {
	var parts []string
	if e.Phase >= 0 {
		parts = append(parts, fmt.Sprintf("phase=%d", e.Phase))
	}
	if e.PartyID != 0 {
		parts = append(parts, fmt.Sprintf("party=%d", e.PartyID))
	}
	return formatDomain("barrier error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *BarrierError) Is(target error) bool {
	if _, ok := target.(*BarrierError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// WorkerError represents an abnormal worker termination.
type WorkerError struct {
	baseError
	Worker string
	Role   string
}

// NewWorkerError creates a new WorkerError.
func NewWorkerError(message string, cause error) *WorkerError {
	return &WorkerError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// WithWorker adds the worker name to the error context.
func (e *WorkerError) WithWorker(name string) *WorkerError {
	e.Worker = name
	return e
}

// WithRole adds the worker role to the error context.
func (e *WorkerError) WithRole(role string) *WorkerError {
	e.Role = role
	return e
}

// WithSeverity sets the error severity.
func (e *WorkerError) WithSeverity(s Severity) *WorkerError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *WorkerError) Error() string {
	var parts []string
	if e.Worker != "" {
		parts = append(parts, fmt.Sprintf("worker=%s", e.Worker))
	}
	if e.Role != "" {
		parts = append(parts, fmt.Sprintf("role=%s", e.Role))
	}
	return formatDomain("worker error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *WorkerError) Is(target error) bool {
	if _, ok := target.(*WorkerError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ShutdownError reports workers that failed to stop within the shutdown timeout.
// It always matches ErrShutdownTimeout.
//
// Example:
//
//	err := errors.NewShutdownError(2*time.Second, []string{"consumer-2"})
//	fmt.Println(err) // "shutdown error: 1 worker(s) still running after 2s: consumer-2"
type ShutdownError struct {
	baseError
	Timeout time.Duration
	Stuck   []string
}

// NewShutdownError creates a new ShutdownError.
func NewShutdownError(timeout time.Duration, stuck []string) *ShutdownError {
	return &ShutdownError{
		baseError: baseError{
			message:    "workers did not stop in time",
			cause:      ErrShutdownTimeout,
			severity:   SeverityCritical,
			userFacing: true,
		},
		Timeout: timeout,
		Stuck:   stuck,
	}
}

// Error returns the formatted error message.
func (e *ShutdownError) Error() string {
	return fmt.Sprintf("shutdown error: %d worker(s) still running after %s: %s",
		len(e.Stuck), e.Timeout, strings.Join(e.Stuck, ", "))
}

// Is checks if this error matches the target.
func (e *ShutdownError) Is(target error) bool {
	if _, ok := target.(*ShutdownError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// formatDomain renders "<kind> [k=v, ...]: message: cause".
func formatDomain(kind string, parts []string, message string, cause error) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, message, cause)
	}
	return fmt.Sprintf("%s: %s", prefix, message)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("channel", "OVERFLOW")
//	fmt.Println(err) // "channel 'OVERFLOW' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid construction input.
//
// Example:
//
//	err := errors.NewValidationError("capacity must be positive").
//	    WithField("capacity").WithValue(0).WithCause(errors.ErrInvalidCapacity)
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return formatDomain("validation error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsCancellation reports whether err is the result of cooperative cancellation,
// either through ErrCanceled or a context error.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	return Is(err, ErrCanceled) || Is(err, context.Canceled) || Is(err, context.DeadlineExceeded)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var pipelineErr PipelineError
	if As(err, &pipelineErr) {
		return pipelineErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement PipelineError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var pipelineErr PipelineError
	if As(err, &pipelineErr) {
		return pipelineErr.Severity()
	}
	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
