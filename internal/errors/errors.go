// Package errors provides structured error types for encode sessions.
package errors

import (
	"errors"
	"fmt"
	"os/exec"
)

// ErrorKind represents the category of an error.
type ErrorKind int

const (
	// KindDeviceInit represents failures binding the graphics device.
	KindDeviceInit ErrorKind = iota
	// KindConfiguration represents settings the backend refused, or settings
	// that failed validation.
	KindConfiguration
	// KindBuffer represents bitstream buffer or completion event failures.
	KindBuffer
	// KindSurface represents input surface creation or registration failures.
	KindSurface
	// KindHandleResolution represents a shared texture handle that could not
	// be opened.
	KindHandleResolution
	// KindEncodeSubmission represents a frame the backend did not accept.
	KindEncodeSubmission
	// KindRetrieval represents failures locking or releasing completed output.
	KindRetrieval
	// KindCommand represents external command execution errors.
	KindCommand
	// KindFallback represents the case where no encoder could be opened.
	KindFallback
)

// String returns a string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindDeviceInit:
		return "Device init error"
	case KindConfiguration:
		return "Configuration error"
	case KindBuffer:
		return "Buffer error"
	case KindSurface:
		return "Surface error"
	case KindHandleResolution:
		return "Handle resolution error"
	case KindEncodeSubmission:
		return "Encode submission error"
	case KindRetrieval:
		return "Retrieval error"
	case KindCommand:
		return "Command error"
	case KindFallback:
		return "No encoder available"
	default:
		return "Unknown error"
	}
}

// Fatal reports whether errors of this kind abort session construction.
func (k ErrorKind) Fatal() bool {
	switch k {
	case KindDeviceInit, KindConfiguration, KindBuffer, KindSurface:
		return true
	}
	return false
}

// CommandErrorKind represents the type of command error.
type CommandErrorKind int

const (
	// CommandStart means the command failed to start.
	CommandStart CommandErrorKind = iota
	// CommandWait means waiting for the command failed.
	CommandWait
	// CommandFailed means the command returned non-zero exit status.
	CommandFailed
)

// CommandError represents an error from executing an external command.
type CommandError struct {
	Command    string
	Kind       CommandErrorKind
	ExitCode   int
	Stderr     string
	Underlying error
}

func (e *CommandError) Error() string {
	switch e.Kind {
	case CommandStart:
		return fmt.Sprintf("failed to execute %s: %v", e.Command, e.Underlying)
	case CommandWait:
		return fmt.Sprintf("failed to wait for %s: %v", e.Command, e.Underlying)
	case CommandFailed:
		if e.Stderr != "" {
			return fmt.Sprintf("command %s failed with exit code %d: %s", e.Command, e.ExitCode, e.Stderr)
		}
		return fmt.Sprintf("command %s failed with exit code %d", e.Command, e.ExitCode)
	default:
		return fmt.Sprintf("command %s error: %v", e.Command, e.Underlying)
	}
}

func (e *CommandError) Unwrap() error {
	return e.Underlying
}

// CoreError is the main error type for encode operations.
type CoreError struct {
	Kind       ErrorKind
	Message    string
	Underlying error
}

func (e *CoreError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error {
	return e.Underlying
}

// Is reports whether target matches this error's kind.
func (e *CoreError) Is(target error) bool {
	t, ok := target.(*CoreError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewDeviceInitError creates a new device binding error.
func NewDeviceInitError(message string, underlying error) *CoreError {
	return &CoreError{Kind: KindDeviceInit, Message: message, Underlying: underlying}
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, underlying error) *CoreError {
	return &CoreError{Kind: KindConfiguration, Message: message, Underlying: underlying}
}

// NewBufferError creates a new bitstream buffer error.
func NewBufferError(message string, underlying error) *CoreError {
	return &CoreError{Kind: KindBuffer, Message: message, Underlying: underlying}
}

// NewSurfaceError creates a new input surface error.
func NewSurfaceError(message string, underlying error) *CoreError {
	return &CoreError{Kind: KindSurface, Message: message, Underlying: underlying}
}

// NewHandleResolutionError creates an error for a shared handle that could
// not be resolved.
func NewHandleResolutionError(handle uint32, underlying error) *CoreError {
	return &CoreError{
		Kind:       KindHandleResolution,
		Message:    fmt.Sprintf("shared handle 0x%08X", handle),
		Underlying: underlying,
	}
}

// NewEncodeSubmissionError creates a new per-frame submission error.
func NewEncodeSubmissionError(message string, underlying error) *CoreError {
	return &CoreError{Kind: KindEncodeSubmission, Message: message, Underlying: underlying}
}

// NewRetrievalError creates a new packet retrieval error.
func NewRetrievalError(message string, underlying error) *CoreError {
	return &CoreError{Kind: KindRetrieval, Message: message, Underlying: underlying}
}

// NewFallbackError creates an error for when every encoder failed to open.
func NewFallbackError(underlying error) *CoreError {
	return &CoreError{Kind: KindFallback, Message: "hardware and fallback encoders failed to open", Underlying: underlying}
}

// NewCommandError creates a new command execution error.
func NewCommandError(cmd string, kind CommandErrorKind, underlying error) *CoreError {
	cmdErr := &CommandError{
		Command:    cmd,
		Kind:       kind,
		Underlying: underlying,
	}
	return &CoreError{Kind: KindCommand, Message: cmdErr.Error(), Underlying: cmdErr}
}

// NewCommandStartError creates an error for when a command fails to start.
func NewCommandStartError(cmd string, err error) *CoreError {
	return NewCommandError(cmd, CommandStart, err)
}

// NewCommandFailedError creates an error for when a command returns non-zero exit status.
func NewCommandFailedError(cmd string, exitCode int, stderr string) *CoreError {
	cmdErr := &CommandError{
		Command:  cmd,
		Kind:     CommandFailed,
		ExitCode: exitCode,
		Stderr:   stderr,
	}
	return &CoreError{Kind: KindCommand, Message: cmdErr.Error(), Underlying: cmdErr}
}

// IsKind reports whether any CoreError in err's chain has the given kind.
// Joined errors are searched branch by branch.
func IsKind(err error, kind ErrorKind) bool {
	switch e := err.(type) {
	case nil:
		return false
	case *CoreError:
		if e == nil {
			return false
		}
		return e.Kind == kind || IsKind(e.Underlying, kind)
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if IsKind(inner, kind) {
				return true
			}
		}
		return false
	case interface{ Unwrap() error }:
		return IsKind(e.Unwrap(), kind)
	}
	return false
}

// IsFatal reports whether err should abort session construction and trigger
// the fallback encoder.
func IsFatal(err error) bool {
	var coreErr *CoreError
	if errors.As(err, &coreErr) {
		return coreErr.Kind.Fatal()
	}
	return false
}

// WrapExecError wraps an exec.ExitError into a CoreError.
func WrapExecError(cmd string, err error, stderr string) *CoreError {
	if exitErr, ok := err.(*exec.ExitError); ok {
		return NewCommandFailedError(cmd, exitErr.ExitCode(), stderr)
	}
	return NewCommandStartError(cmd, err)
}
