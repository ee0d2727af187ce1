// Package errors provides standardized error codes for the console.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The layer that generated the error (transport, protocol, queue, command, fileop)
//   - error: The specific error type within that domain
//
// The domains map onto the four failure classes the session layer
// distinguishes: transport failures (recovered by reconnection), protocol
// failures (malformed frames, dropped), application failures (error frames
// and non-zero exit codes, shown to the user) and exhaustion (reconnection
// budget or queue retry budget spent).
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Transport domain - socket level failures
	CodeTransportDialFailed        = "transport.dial_failed"         // WebSocket dial failed
	CodeTransportTimeout           = "transport.timeout"             // Dial did not finish before the connect timeout
	CodeTransportNotConnected      = "transport.not_connected"       // No open channel; message was queued
	CodeTransportSendFailed        = "transport.send_failed"         // Write failed; message was queued
	CodeTransportConnectInProgress = "transport.connect_in_progress" // Another dial for the key is running
	CodeTransportClosed            = "transport.closed"              // Channel or manager already closed

	// Protocol domain - wire format failures
	CodeProtocolInvalidFrame = "protocol.invalid_frame" // Frame is not a JSON object with a type
	CodeProtocolEncodeFailed = "protocol.encode_failed" // Frame could not be serialized

	// Queue domain - outbound buffering
	CodeQueueFull             = "queue.full"              // Queue capacity exceeded, message dropped
	CodeQueueRetriesExhausted = "queue.retries_exhausted" // Message exceeded its redelivery budget

	// Reconnect domain
	CodeReconnectExhausted = "reconnect.exhausted" // Automatic reconnection gave up

	// Command domain - facade command correlation
	CodeCommandRejected    = "command.rejected"     // Pending command dropped before its result
	CodeCommandRateLimited = "command.rate_limited" // Rate limit backlog is full
	CodeCommandNotFound    = "command.not_found"    // Unknown command id

	// File operation domain
	CodeFileOpFailed   = "fileop.failed"    // Remote reported failure
	CodeFileOpNotFound = "fileop.not_found" // Unknown or evicted operation id

	// Config domain
	CodeConfigInvalid = "config.invalid" // Configuration value out of range

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "transport.not_connected")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// Falls back to CodeUnknown for errors that carry no code.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// IsQueued reports whether a send error means the message was buffered
// for later delivery rather than lost.
func IsQueued(err error) bool {
	code := GetCode(err)
	return code == CodeTransportNotConnected || code == CodeTransportSendFailed
}

// Common error constructors.

// DialFailed creates a "transport.dial_failed" error.
func DialFailed(url string, cause error) *CodedError {
	return Wrap(CodeTransportDialFailed, fmt.Sprintf("dial %s failed", url), cause)
}

// ConnectTimeout creates a "transport.timeout" error.
func ConnectTimeout(key string, cause error) *CodedError {
	return Wrap(CodeTransportTimeout, fmt.Sprintf("connection %s timed out", key), cause)
}

// NotConnected creates a "transport.not_connected" error.
// The message has been queued and will be sent when the channel opens.
func NotConnected(key string) *CodedError {
	return New(CodeTransportNotConnected, fmt.Sprintf("connection %s is not open, message queued", key))
}

// SendFailed creates a "transport.send_failed" error.
// The message has been queued for redelivery.
func SendFailed(key string, cause error) *CodedError {
	return Wrap(CodeTransportSendFailed, fmt.Sprintf("send on %s failed, message queued", key), cause)
}

// ConnectInProgress creates a "transport.connect_in_progress" error.
func ConnectInProgress(key string) *CodedError {
	return New(CodeTransportConnectInProgress, fmt.Sprintf("connection %s is already being established", key))
}

// Closed creates a "transport.closed" error.
func Closed(what string) *CodedError {
	return New(CodeTransportClosed, fmt.Sprintf("%s is closed", what))
}

// InvalidFrame creates a "protocol.invalid_frame" error.
func InvalidFrame(reason string, cause error) *CodedError {
	return Wrap(CodeProtocolInvalidFrame, reason, cause)
}

// EncodeFailed creates a "protocol.encode_failed" error.
func EncodeFailed(kind string, cause error) *CodedError {
	return Wrap(CodeProtocolEncodeFailed, fmt.Sprintf("encode %s frame", kind), cause)
}

// QueueFull creates a "queue.full" error.
func QueueFull(key string, capacity int) *CodedError {
	return New(CodeQueueFull, fmt.Sprintf("outbound queue for %s exceeded %d messages", key, capacity))
}

// RetriesExhausted creates a "queue.retries_exhausted" error.
func RetriesExhausted(key string, retries int) *CodedError {
	return New(CodeQueueRetriesExhausted, fmt.Sprintf("message for %s dropped after %d retries", key, retries))
}

// ReconnectExhausted creates a "reconnect.exhausted" error.
// Only an explicit connect resumes a connection in this state.
func ReconnectExhausted(key string, attempts int) *CodedError {
	return New(CodeReconnectExhausted, fmt.Sprintf("reconnection attempts exhausted for %s after %d tries", key, attempts))
}

// CommandRejected creates a "command.rejected" error.
func CommandRejected(commandID, reason string) *CodedError {
	return New(CodeCommandRejected, fmt.Sprintf("command %s rejected: %s", commandID, reason))
}

// CommandRateLimited creates a "command.rate_limited" error.
func CommandRateLimited() *CodedError {
	return New(CodeCommandRateLimited, "too many commands, slow down")
}

// CommandNotFound creates a "command.not_found" error.
func CommandNotFound(commandID string) *CodedError {
	return New(CodeCommandNotFound, fmt.Sprintf("command %s not found", commandID))
}

// FileOpFailed creates a "fileop.failed" error carrying the remote's reason.
func FileOpFailed(opID, reason string) *CodedError {
	msg := fmt.Sprintf("file operation %s failed", opID)
	if reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, reason)
	}
	return New(CodeFileOpFailed, msg)
}

// FileOpNotFound creates a "fileop.not_found" error.
func FileOpNotFound(opID string) *CodedError {
	return New(CodeFileOpNotFound, fmt.Sprintf("file operation %s not found", opID))
}

// ConfigInvalid creates a "config.invalid" error.
func ConfigInvalid(field, reason string) *CodedError {
	return New(CodeConfigInvalid, fmt.Sprintf("%s: %s", field, reason))
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}

// nextActions maps user-facing codes to what the operator can do about them.
var nextActions = map[string]string{
	CodeTransportDialFailed:        "Check gateway_addr and that the gateway is reachable, then reconnect.",
	CodeTransportTimeout:           "The gateway did not answer in time. Check the network or raise connect_timeout_ms.",
	CodeTransportNotConnected:      "The message will be sent when the connection opens.",
	CodeTransportSendFailed:        "The message was queued and will be retried on reconnect.",
	CodeTransportConnectInProgress: "Wait for the current connection attempt to finish.",
	CodeReconnectExhausted:         "Automatic reconnection stopped. Reconnect manually once the device is reachable.",
	CodeQueueFull:                  "Too many messages were queued while offline. Reconnect before sending more.",
	CodeQueueRetriesExhausted:      "A queued message was dropped. Resend it after the connection is stable.",
	CodeCommandRejected:            "The command was dropped before it finished. Reconnect and run it again.",
	CodeCommandRateLimited:         "Wait a moment before sending another command.",
	CodeFileOpFailed:               "Check the path and permissions on the device.",
	CodeConfigInvalid:              "Fix the value in the config file or on the command line.",
}

// GetNextAction returns a short remediation hint for code, or "" if none.
func GetNextAction(code string) string {
	return nextActions[code]
}
