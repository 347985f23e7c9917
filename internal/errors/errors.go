// Package errors provides centralized error definitions and error handling utilities
// for camrig. It defines the capture error taxonomy, semantic error types,
// error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// Capture errors describe failures of the orchestration protocol:
//   - InvalidStateError: the operation is illegal from the current capture state
//   - DeviceConfigError: device driver pre-configuration failed after its retry (non-fatal)
//   - SpawnError: a recorder process could not be launched (fatal to load)
//   - SyncTimeoutError: one or more devices never confirmed a transition
//   - FinalizeWarning: a file move or temp cleanup failed (non-fatal)
//
// Semantic errors:
//   - ValidationError: invalid input
//
// # Usage
//
//	err := errors.NewInvalidStateError("load", "unconfigured")
//
//	if errors.Is(err, errors.ErrInvalidState) { ... }
//
//	var syncErr *errors.SyncTimeoutError
//	if errors.As(err, &syncErr) {
//	    fmt.Println(syncErr.Pending)
//	}
//
// # Error Classification
//
// Errors can be classified by severity and behavior:
//   - Retryable: transient errors that may succeed on retry
//   - UserFacing: errors safe to display to users (vs internal errors)
//   - Severity: Debug, Info, Warning, Error, Critical
package errors

import (
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

// Capture sentinel errors. Every typed capture error matches its sentinel
// through errors.Is.
var (
	// ErrInvalidState indicates an operation that is illegal from the current state.
	ErrInvalidState = New("invalid capture state")
	// ErrDeviceConfig indicates that device pre-configuration failed.
	ErrDeviceConfig = New("device configuration failed")
	// ErrSpawnFailed indicates that a recorder process could not be started.
	ErrSpawnFailed = New("recorder spawn failed")
	// ErrSyncTimeout indicates that a confirmation pattern was not observed in time.
	ErrSyncTimeout = New("synchronization timed out")
	// ErrFinalize indicates that moving or cleaning up output files failed.
	ErrFinalize = New("finalize failed")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// CamrigError is the base interface for all camrig errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type CamrigError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
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

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// format renders "<kind> [k=v, ...]: message[: cause]".
func (e *baseError) format(kind string, parts []string) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Capture Errors
// -----------------------------------------------------------------------------

// InvalidStateError is returned when an operation is requested from a state
// that does not allow it, e.g. configure while recorders are loaded.
//
// Example:
//
//	err := errors.NewInvalidStateError("configure", "loaded-idle")
//	fmt.Println(err) // "invalid state [op=configure, state=loaded-idle]: operation not allowed"
type InvalidStateError struct {
	baseError
	Operation string
	State     string
}

// NewInvalidStateError creates a new InvalidStateError.
func NewInvalidStateError(operation, state string) *InvalidStateError {
	return &InvalidStateError{
		baseError: baseError{
			message:    "operation not allowed",
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		Operation: operation,
		State:     state,
	}
}

// WithReason replaces the default message with a more specific reason.
func (e *InvalidStateError) WithReason(reason string) *InvalidStateError {
	e.message = reason
	return e
}

// Error returns the formatted error message.
func (e *InvalidStateError) Error() string {
	var parts []string
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Operation))
	}
	if e.State != "" {
		parts = append(parts, fmt.Sprintf("state=%s", e.State))
	}
	return e.format("invalid state", parts)
}

// Is checks if this error matches the target.
func (e *InvalidStateError) Is(target error) bool {
	if _, ok := target.(*InvalidStateError); ok {
		return true
	}
	if target == ErrInvalidState {
		return true
	}
	return e.baseError.Is(target)
}

// DeviceConfigError reports that the one-shot driver configuration command
// failed for a device even after its retry. It is logged, never fatal.
type DeviceConfigError struct {
	baseError
	Device   string
	Attempts int
	Output   string
}

// NewDeviceConfigError creates a new DeviceConfigError.
func NewDeviceConfigError(device string, attempts int, cause error) *DeviceConfigError {
	return &DeviceConfigError{
		baseError: baseError{
			message:    "driver configuration command failed",
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Device:   device,
		Attempts: attempts,
	}
}

// WithOutput attaches the command output to the error context.
func (e *DeviceConfigError) WithOutput(output string) *DeviceConfigError {
	e.Output = output
	return e
}

// Error returns the formatted error message.
func (e *DeviceConfigError) Error() string {
	var parts []string
	if e.Device != "" {
		parts = append(parts, fmt.Sprintf("device=%s", e.Device))
	}
	if e.Attempts > 0 {
		parts = append(parts, fmt.Sprintf("attempts=%d", e.Attempts))
	}
	msg := e.format("device config error", parts)
	if e.Output != "" {
		msg = fmt.Sprintf("%s\noutput: %s", msg, e.Output)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *DeviceConfigError) Is(target error) bool {
	if _, ok := target.(*DeviceConfigError); ok {
		return true
	}
	if target == ErrDeviceConfig {
		return true
	}
	return e.baseError.Is(target)
}

// SpawnError reports that a recorder process for a device could not be started.
type SpawnError struct {
	baseError
	Device  string
	Command string
}

// NewSpawnError creates a new SpawnError.
func NewSpawnError(device string, cause error) *SpawnError {
	return &SpawnError{
		baseError: baseError{
			message:    "failed to start recorder",
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
		Device: device,
	}
}

// WithCommand adds the attempted command line to the error context.
func (e *SpawnError) WithCommand(command string) *SpawnError {
	e.Command = command
	return e
}

// Error returns the formatted error message.
func (e *SpawnError) Error() string {
	var parts []string
	if e.Device != "" {
		parts = append(parts, fmt.Sprintf("device=%s", e.Device))
	}
	if e.Command != "" {
		parts = append(parts, fmt.Sprintf("cmd=%s", e.Command))
	}
	return e.format("spawn error", parts)
}

// Is checks if this error matches the target.
func (e *SpawnError) Is(target error) bool {
	if _, ok := target.(*SpawnError); ok {
		return true
	}
	if target == ErrSpawnFailed {
		return true
	}
	return e.baseError.Is(target)
}

// SyncTimeoutError reports a transition whose confirmation pattern was not
// observed on every device. Pending lists devices that were still waiting when
// the transition was abandoned; Exited lists devices whose process ended
// before confirming.
//
// Example:
//
//	err := errors.NewSyncTimeoutError("toggle", "started", 10*time.Second).
//	    WithPending([]string{"C2"})
//	fmt.Println(err) // "sync timeout [op=toggle, phase=started, pending=C2]: ... (timeout: 10s)"
type SyncTimeoutError struct {
	baseError
	Operation string
	Phase     string
	Timeout   time.Duration
	Pending   []string
	Exited    []string
}

// NewSyncTimeoutError creates a new SyncTimeoutError.
func NewSyncTimeoutError(operation, phase string, timeout time.Duration) *SyncTimeoutError {
	return &SyncTimeoutError{
		baseError: baseError{
			message:    "not all devices confirmed",
			severity:   SeverityError,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Phase:     phase,
		Timeout:   timeout,
	}
}

// WithPending records the devices that never confirmed.
func (e *SyncTimeoutError) WithPending(devices []string) *SyncTimeoutError {
	e.Pending = devices
	return e
}

// WithExited records the devices whose process exited before confirming.
func (e *SyncTimeoutError) WithExited(devices []string) *SyncTimeoutError {
	e.Exited = devices
	return e
}

// WithCause adds a cause to the error.
func (e *SyncTimeoutError) WithCause(cause error) *SyncTimeoutError {
	e.cause = cause
	return e
}

// Devices returns every device that failed to confirm, pending first.
func (e *SyncTimeoutError) Devices() []string {
	out := make([]string, 0, len(e.Pending)+len(e.Exited))
	out = append(out, e.Pending...)
	return append(out, e.Exited...)
}

// Error returns the formatted error message.
func (e *SyncTimeoutError) Error() string {
	var parts []string
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Operation))
	}
	if e.Phase != "" {
		parts = append(parts, fmt.Sprintf("phase=%s", e.Phase))
	}
	if len(e.Pending) > 0 {
		parts = append(parts, fmt.Sprintf("pending=%s", strings.Join(e.Pending, "|")))
	}
	if len(e.Exited) > 0 {
		parts = append(parts, fmt.Sprintf("exited=%s", strings.Join(e.Exited, "|")))
	}
	msg := e.format("sync timeout", parts)
	if e.Timeout > 0 {
		msg = fmt.Sprintf("%s (timeout: %s)", msg, e.Timeout)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *SyncTimeoutError) Is(target error) bool {
	if _, ok := target.(*SyncTimeoutError); ok {
		return true
	}
	if target == ErrSyncTimeout || target == ErrTimeout {
		return true
	}
	return e.baseError.Is(target)
}

// FinalizeWarning reports a failed file move or temp directory cleanup. The
// recording itself succeeded, so the warning never changes capture state.
type FinalizeWarning struct {
	baseError
	Device string
	Path   string
}

// NewFinalizeWarning creates a new FinalizeWarning.
func NewFinalizeWarning(message string, cause error) *FinalizeWarning {
	return &FinalizeWarning{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
	}
}

// WithDevice adds the device name to the warning context.
func (e *FinalizeWarning) WithDevice(device string) *FinalizeWarning {
	e.Device = device
	return e
}

// WithPath adds the affected file path to the warning context.
func (e *FinalizeWarning) WithPath(path string) *FinalizeWarning {
	e.Path = path
	return e
}

// Error returns the formatted error message.
func (e *FinalizeWarning) Error() string {
	var parts []string
	if e.Device != "" {
		parts = append(parts, fmt.Sprintf("device=%s", e.Device))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	return e.format("finalize warning", parts)
}

// Is checks if this error matches the target.
func (e *FinalizeWarning) Is(target error) bool {
	if _, ok := target.(*FinalizeWarning); ok {
		return true
	}
	if target == ErrFinalize {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// ValidationError represents invalid input.
//
// Example:
//
//	err := errors.NewValidationError("base path is required").WithField("basePath")
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
			retryable:  false,
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
	return e.format("validation error", parts)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if target == ErrInvalidInput {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var camrigErr CamrigError
	if As(err, &camrigErr) {
		return camrigErr.IsRetryable()
	}

	return Is(err, ErrTimeout)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var camrigErr CamrigError
	if As(err, &camrigErr) {
		return camrigErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement CamrigError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var camrigErr CamrigError
	if As(err, &camrigErr) {
		return camrigErr.Severity()
	}

	return SeverityError
}

// IsWarning reports whether err is non-fatal: finalize warnings and device
// configuration failures never abort a capture operation.
func IsWarning(err error) bool {
	if err == nil {
		return false
	}
	return Is(err, ErrFinalize) || Is(err, ErrDeviceConfig)
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
