// Unified error handling for the move queue tools
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrConfigType       ErrorCode = "CONFIG_TYPE"

	// Queue errors
	ErrQueueCapacity  ErrorCode = "QUEUE_CAPACITY"
	ErrQueueCancelled ErrorCode = "QUEUE_CANCELLED"

	// Runtime errors
	ErrRuntime     ErrorCode = "RUNTIME"
	ErrRuntimeInit ErrorCode = "RUNTIME_INIT"
	ErrTimer       ErrorCode = "TIMER"
	ErrSerial      ErrorCode = "SERIAL"
	ErrJournal     ErrorCode = "JOURNAL"
	ErrJob         ErrorCode = "JOB"
)

// QueueError is the unified error type for the move queue and its tools
type QueueError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Section is the config section or component
	Section string

	// Option is the config option name (if applicable)
	Option string

	// Line is the line number in a job or config file (if available)
	Line int

	// Err wraps the underlying error
	Err error
}

// Error implements the error interface
func (e *QueueError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Line > 0 {
		msg = fmt.Sprintf("[%s] line %d: %s", e.Code, e.Line, e.Message)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *QueueError) Unwrap() error {
	return e.Err
}

// SetSection sets the context section
func (e *QueueError) SetSection(section string) *QueueError {
	e.Section = section
	return e
}

// SetOption sets the config option
func (e *QueueError) SetOption(option string) *QueueError {
	e.Option = option
	return e
}

// SetLine sets the line number
func (e *QueueError) SetLine(line int) *QueueError {
	e.Line = line
	return e
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *QueueError {
	return &QueueError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// New creates a new QueueError
func New(code ErrorCode, message string) *QueueError {
	return &QueueError{
		Code:    code,
		Message: message,
	}
}

// Config errors

// ConfigSectionError creates an error for missing config section
func ConfigSectionError(section string) *QueueError {
	return New(ErrConfigSection, fmt.Sprintf("section '%s' not found", section)).
		SetSection(section)
}

// ConfigOptionError creates an error for missing or invalid config option
func ConfigOptionError(section, option string) *QueueError {
	return New(ErrConfigOption, fmt.Sprintf("option '%s' not found in section '%s'", option, section)).
		SetSection(section).
		SetOption(option)
}

// ConfigValidationError creates an error for config validation failure
func ConfigValidationError(section, option string, reason string) *QueueError {
	return New(ErrConfigValidation, fmt.Sprintf("option '%s' in section '%s': %s", option, section, reason)).
		SetSection(section).
		SetOption(option)
}

// ConfigTypeError creates an error for config type conversion failure
func ConfigTypeError(section, option, value string, targetType string, err error) *QueueError {
	return Wrap(err, ErrConfigType, fmt.Sprintf("option '%s' in section '%s': failed to parse '%s' as %s", option, section, value, targetType)).
		SetSection(section).
		SetOption(option)
}

// Queue errors

// QueueCapacityError rejects a slot count that is not a power of two >= 2
func QueueCapacityError(capacity int) *QueueError {
	return New(ErrQueueCapacity, fmt.Sprintf("capacity %d is not a power of two >= 2", capacity)).
		SetSection("movequeue").
		SetOption("capacity")
}

// QueueCancelledError reports that the caller gave up waiting for a free slot
func QueueCancelledError(err error) *QueueError {
	return Wrap(err, ErrQueueCancelled, "enqueue cancelled while queue full")
}

// Runtime errors

// RuntimeError creates a general runtime error
func RuntimeError(message string) *QueueError {
	return New(ErrRuntime, message)
}

// RuntimeErrorInit creates an error for initialization failure
func RuntimeErrorInit(component string, reason string) *QueueError {
	return New(ErrRuntimeInit, fmt.Sprintf("failed to initialize %s: %s", component, reason)).
		SetSection(component)
}

// TimerError creates a step timer error
func TimerError(message string) *QueueError {
	return New(ErrTimer, message)
}

// SerialError wraps a serial port failure
func SerialError(device string, err error) *QueueError {
	return Wrap(err, ErrSerial, fmt.Sprintf("serial port %s", device))
}

// JournalError wraps an event journal failure
func JournalError(operation string, err error) *QueueError {
	return Wrap(err, ErrJournal, fmt.Sprintf("journal %s failed", operation))
}

// JobError creates an error for an invalid job entry
func JobError(line int, reason string) *QueueError {
	return New(ErrJob, reason).SetLine(line)
}

// RecoverPanic converts a recovered panic value into an error. Use it as
//
//	defer func() { err = errors.RecoverPanic(recover()) }()
func RecoverPanic(r interface{}) *QueueError {
	if r == nil {
		return nil
	}
	switch x := r.(type) {
	case string:
		return RuntimeError(fmt.Sprintf("panic: %s", x))
	case runtime.Error:
		return Wrap(x, ErrRuntime, "panic")
	case error:
		return Wrap(x, ErrRuntime, "panic")
	default:
		return RuntimeError(fmt.Sprintf("panic: %v", x))
	}
}

// Is checks if any error in err's chain is a QueueError with the given code
func Is(err error, code ErrorCode) bool {
	var qe *QueueError
	if stderrors.As(err, &qe) {
		return qe.Code == code
	}
	return false
}

// IsConfig checks if error is a config error
func IsConfig(err error) bool {
	return Is(err, ErrConfigSection) ||
		Is(err, ErrConfigOption) ||
		Is(err, ErrConfigValidation) ||
		Is(err, ErrConfigType)
}
