package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies supervisor errors
type ErrorType string

const (
	// Lifecycle errors returned synchronously by supervisor operations
	ErrorTypeSpawnFailed    ErrorType = "spawn_failed"
	ErrorTypeAlreadyRunning ErrorType = "already_running"
	ErrorTypeNotRunning     ErrorType = "not_running"
	ErrorTypeTerminated     ErrorType = "terminated"

	// Conditions delivered through the termination callback
	ErrorTypeShutdownTimeout ErrorType = "shutdown_timeout"
	ErrorTypeUnexpectedExit  ErrorType = "unexpected_exit"

	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypePermission ErrorType = "permission"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeCancelled  ErrorType = "cancelled"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches any DomainError of the same type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Lifecycle errors
func NewSpawnFailedError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeSpawnFailed, message, cause)
}

func NewAlreadyRunningError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeAlreadyRunning, message, cause)
}

func NewNotRunningError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotRunning, message, cause)
}

func NewTerminatedError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTerminated, message, cause)
}

func NewShutdownTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeShutdownTimeout, message, cause)
}

func NewUnexpectedExitError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeUnexpectedExit, message, cause)
}

// Generic errors
func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

func NewPermissionError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePermission, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewNetworkError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNetwork, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

// TypeOf returns the type of the outermost DomainError in the chain, or "" if none
func TypeOf(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

func isType(err error, errorType ErrorType) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == errorType
}

func IsSpawnFailedError(err error) bool {
	return isType(err, ErrorTypeSpawnFailed)
}

func IsAlreadyRunningError(err error) bool {
	return isType(err, ErrorTypeAlreadyRunning)
}

func IsNotRunningError(err error) bool {
	return isType(err, ErrorTypeNotRunning)
}

func IsTerminatedError(err error) bool {
	return isType(err, ErrorTypeTerminated)
}

func IsShutdownTimeoutError(err error) bool {
	return isType(err, ErrorTypeShutdownTimeout)
}

func IsUnexpectedExitError(err error) bool {
	return isType(err, ErrorTypeUnexpectedExit)
}

func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

func IsTimeoutError(err error) bool {
	return isType(err, ErrorTypeTimeout)
}

func IsPermissionError(err error) bool {
	return isType(err, ErrorTypePermission)
}

func IsIOError(err error) bool {
	return isType(err, ErrorTypeIO)
}

func IsNetworkError(err error) bool {
	return isType(err, ErrorTypeNetwork)
}

func IsInternalError(err error) bool {
	return isType(err, ErrorTypeInternal)
}

func IsCancelledError(err error) bool {
	return isType(err, ErrorTypeCancelled)
}
