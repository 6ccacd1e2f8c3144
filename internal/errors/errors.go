// Package errors provides centralized error definitions and error handling utilities
// for sxn. It defines the rule engine's error taxonomy, error constructors with context
// wrapping, and error classification helpers.
//
// # Error Types
//
// Rule lifecycle errors:
//   - ValidationError: bad rule config, unknown kind, unresolved or circular dependency
//   - ApplicationError: a rule's apply step failed
//   - RollbackError: an undo step failed
//
// Collaborator errors:
//   - SecurityError: a path, command or file operation was rejected by the security layer
//   - TimeoutError: a command exceeded its time budget
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewValidationError("depends on non-existent rule 'ghost'").
//	    WithRule("install").
//	    WithCause(errors.ErrMissingDependency)
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrDependencyCycle) { ... }
//
//	var secErr *errors.SecurityError
//	if errors.As(err, &secErr) { ... }
//
// An ApplicationError wraps whatever made the rule fail, so a SecurityError raised by
// the security layer stays reachable through errors.As.
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

// Rule graph sentinel errors
var (
	// ErrUnknownRuleKind indicates that a rule spec names a kind with no registered factory.
	ErrUnknownRuleKind = New("unknown rule kind")
	// ErrMissingDependency indicates that a rule depends on a rule that is not defined.
	ErrMissingDependency = New("missing dependency")
	// ErrDependencyCycle indicates a circular dependency between rules.
	ErrDependencyCycle = New("circular dependency detected")
	// ErrInvalidConfig indicates that a rule's configuration has the wrong shape.
	ErrInvalidConfig = New("invalid rule configuration")
)

// Rule lifecycle sentinel errors
var (
	// ErrInvalidState indicates an operation was attempted in a state that does not allow it.
	ErrInvalidState = New("invalid rule state")
	// ErrUnknownChangeType indicates a change log entry with no undo behavior.
	ErrUnknownChangeType = New("unknown change type")
	// ErrDependencyNotApplied indicates a rule was not run because a dependency did not apply.
	ErrDependencyNotApplied = New("dependency was not applied")
	// ErrCommandFailed indicates that a command exited unsuccessfully.
	ErrCommandFailed = New("command failed")
)

// Security sentinel errors
var (
	// ErrPathTraversal indicates a path containing parent-directory segments.
	ErrPathTraversal = New("path traversal detected")
	// ErrNullByte indicates a path or argument containing a null byte.
	ErrNullByte = New("null byte in input")
	// ErrPathOutsideRoot indicates a path that resolves outside the project and session roots.
	ErrPathOutsideRoot = New("path escapes allowed roots")
	// ErrPathNotFound indicates a path that must exist but does not.
	ErrPathNotFound = New("path does not exist")
	// ErrCommandNotAllowed indicates a command that is not on the allowlist.
	ErrCommandNotAllowed = New("command not allowed")
	// ErrEncryptionUnavailable indicates an encrypted copy was requested without a key.
	ErrEncryptionUnavailable = New("encryption key not configured")
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

// SxnError is the base interface for all sxn errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type SxnError interface {
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

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

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

// Message returns the error message without any context prefix or cause.
func (e *baseError) Message() string {
	return e.message
}

// format renders "<kind> [k=v, ...]: message: cause".
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
// Rule Lifecycle Errors
// -----------------------------------------------------------------------------

// ValidationError represents invalid rule configuration or an invalid rule graph.
//
// Example:
//
//	err := errors.NewValidationError("missing required key 'files'").
//	    WithRule("secrets").WithField("files")
//	fmt.Println(err) // "validation error [rule=secrets, field=files]: missing required key 'files'"
type ValidationError struct {
	baseError
	Rule  string
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

// WithRule adds the offending rule name to the error context.
func (e *ValidationError) WithRule(rule string) *ValidationError {
	e.Rule = rule
	return e
}

// WithField adds a config field name to the error context.
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
	if e.Rule != "" {
		parts = append(parts, fmt.Sprintf("rule=%s", e.Rule))
	}
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

// ApplicationError represents a failure while a rule was applying its changes.
//
// Example:
//
//	err := errors.NewApplicationError("command exited with status 1", cause).
//	    WithRule("install").WithKind("setup_commands")
type ApplicationError struct {
	baseError
	Rule string
	Kind string
}

// NewApplicationError creates a new ApplicationError.
func NewApplicationError(message string, cause error) *ApplicationError {
	return &ApplicationError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// WithRule adds the failing rule name to the error context.
func (e *ApplicationError) WithRule(rule string) *ApplicationError {
	e.Rule = rule
	return e
}

// WithKind adds the failing rule kind to the error context.
func (e *ApplicationError) WithKind(kind string) *ApplicationError {
	e.Kind = kind
	return e
}

// Error returns the formatted error message.
func (e *ApplicationError) Error() string {
	var parts []string
	if e.Rule != "" {
		parts = append(parts, fmt.Sprintf("rule=%s", e.Rule))
	}
	if e.Kind != "" {
		parts = append(parts, fmt.Sprintf("kind=%s", e.Kind))
	}
	return e.format("application error", parts)
}

// Is checks if this error matches the target.
func (e *ApplicationError) Is(target error) bool {
	if _, ok := target.(*ApplicationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// RollbackError represents one or more failed undo steps.
type RollbackError struct {
	baseError
	Rule   string
	Target string
}

// NewRollbackError creates a new RollbackError.
func NewRollbackError(message string, cause error) *RollbackError {
	return &RollbackError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityCritical,
			userFacing: true,
		},
	}
}

// WithRule adds the rule name to the error context.
func (e *RollbackError) WithRule(rule string) *RollbackError {
	e.Rule = rule
	return e
}

// WithTarget adds the change target that could not be undone.
func (e *RollbackError) WithTarget(target string) *RollbackError {
	e.Target = target
	return e
}

// Error returns the formatted error message.
func (e *RollbackError) Error() string {
	var parts []string
	if e.Rule != "" {
		parts = append(parts, fmt.Sprintf("rule=%s", e.Rule))
	}
	if e.Target != "" {
		parts = append(parts, fmt.Sprintf("target=%s", e.Target))
	}
	return e.format("rollback error", parts)
}

// Is checks if this error matches the target.
func (e *RollbackError) Is(target error) bool {
	if _, ok := target.(*RollbackError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Collaborator Errors
// -----------------------------------------------------------------------------

// SecurityError represents an operation rejected by the security layer.
//
// Example:
//
//	err := errors.NewSecurityError("path escapes session root", errors.ErrPathOutsideRoot).
//	    WithPath("../../etc/passwd")
type SecurityError struct {
	baseError
	Path    string
	Command string
}

// NewSecurityError creates a new SecurityError.
func NewSecurityError(message string, cause error) *SecurityError {
	return &SecurityError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// WithPath adds the rejected path to the error context.
func (e *SecurityError) WithPath(path string) *SecurityError {
	e.Path = path
	return e
}

// WithCommand adds the rejected command to the error context.
func (e *SecurityError) WithCommand(command string) *SecurityError {
	e.Command = command
	return e
}

// Error returns the formatted error message.
func (e *SecurityError) Error() string {
	var parts []string
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%q", e.Path))
	}
	if e.Command != "" {
		parts = append(parts, fmt.Sprintf("command=%q", e.Command))
	}
	return e.format("security error", parts)
}

// Is checks if this error matches the target.
func (e *SecurityError) Is(target error) bool {
	if _, ok := target.(*SecurityError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("bundle install", 30*time.Second)
//	fmt.Println(err) // "timeout error: bundle install (timeout: 30s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if target == ErrTimeout {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsUserFacing returns true if the error message is safe to display to end users.
//
// Example:
//
//	if errors.IsUserFacing(err) {
//	    displayToUser(err.Error())
//	} else {
//	    displayToUser("An internal error occurred")
//	    log.Error("internal error", "err", err)
//	}
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var sxnErr SxnError
	if As(err, &sxnErr) {
		return sxnErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement SxnError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var sxnErr SxnError
	if As(err, &sxnErr) {
		return sxnErr.Severity()
	}

	return SeverityError
}

// IsRuleError returns true if the error belongs to the rule lifecycle
// (ValidationError, ApplicationError or RollbackError).
func IsRuleError(err error) bool {
	if err == nil {
		return false
	}

	var validation *ValidationError
	var application *ApplicationError
	var rollback *RollbackError

	return As(err, &validation) || As(err, &application) || As(err, &rollback)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
// Unlike fmt.Errorf with %w, this returns nil for a nil error.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to copy secrets")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
//
// Example:
//
//	err := errors.Wrapf(baseErr, "failed to render %s", dest)
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
