// Package errors provides the orchestrator's error taxonomy. Every error
// surfaced to a peer carries one of the codes below in its "error" frame.
package errors

import (
	"errors"
	"fmt"
)

// Error codes as constants
const (
	CodeInvalidMessage         = "InvalidMessage"
	CodeUnknownIdentity        = "UnknownIdentity"
	CodeUnknownConnection      = "UnknownConnection"
	CodeNotFound               = "NotFound"
	CodeIllegalTransition      = "IllegalTransition"
	CodeUnavailablePeer        = "UnavailablePeer"
	CodeTimeout                = "Timeout"
	CodeUnsupportedMessageType = "UnsupportedMessageType"
	CodeShutdown               = "Shutdown"
	CodeInternal               = "Internal"
)

// AppError represents an orchestrator error with a peer-visible code.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails attaches structured details and returns the error.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// InvalidMessage reports a malformed or incomplete frame.
func InvalidMessage(message string) *AppError {
	return &AppError{Code: CodeInvalidMessage, Message: message}
}

// UnknownIdentity reports an operation from an unregistered peer or a
// registration missing its identity fields.
func UnknownIdentity(message string) *AppError {
	return &AppError{Code: CodeUnknownIdentity, Message: message}
}

// UnknownConnection reports a registration without a matching pending
// connection.
func UnknownConnection(connID string) *AppError {
	return &AppError{
		Code:    CodeUnknownConnection,
		Message: fmt.Sprintf("no pending connection with id '%s'", connID),
	}
}

// NotFound reports an unknown agent, service, task, server or tool.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with id '%s' not found", resource, id),
	}
}

// IllegalTransition reports a backward or repeat-terminal task status move.
func IllegalTransition(taskID, from, to string) *AppError {
	return &AppError{
		Code:    CodeIllegalTransition,
		Message: fmt.Sprintf("task %s cannot move from '%s' to '%s'", taskID, from, to),
	}
}

// UnavailablePeer reports an offline target or a failed transport write.
func UnavailablePeer(message string) *AppError {
	return &AppError{Code: CodeUnavailablePeer, Message: message}
}

// Timeout reports a send-and-await that exceeded its deadline.
func Timeout(message string) *AppError {
	return &AppError{Code: CodeTimeout, Message: message}
}

// UnsupportedMessageType reports a frame with an unknown type tag.
func UnsupportedMessageType(msgType string) *AppError {
	return &AppError{
		Code:    CodeUnsupportedMessageType,
		Message: fmt.Sprintf("unsupported message type '%s'", msgType),
	}
}

// Shutdown reports the hub stopping; used to unblock awaiters.
func Shutdown() *AppError {
	return &AppError{Code: CodeShutdown, Message: "orchestrator shutting down"}
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: err}
}

// CodeOf extracts the peer-visible code from any error.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	return CodeOf(err) == code
}
