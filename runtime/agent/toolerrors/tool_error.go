// Package toolerrors provides the error types tools return to the agent loop.
// A ToolError aborts the run; a RetryError is reported back to the model so it
// can correct its call.
package toolerrors

import (
	"errors"
	"fmt"
)

type (
	// ToolError is a tool failure that aborts the agent run.
	ToolError struct {
		// Tool is the name of the failing tool.
		Tool string
		// Message is the human-readable summary of the failure.
		Message string
		// Cause is the underlying error, if any.
		Cause error
	}

	// RetryError asks the model to retry the tool call. Message is sent to
	// the model as the retry prompt.
	RetryError struct {
		Message string
	}
)

// New returns a ToolError for tool with the given message.
func New(tool, message string) *ToolError {
	if message == "" {
		message = "tool error"
	}
	return &ToolError{Tool: tool, Message: message}
}

// Wrap returns a ToolError for tool wrapping cause. It returns nil if cause is
// nil and returns cause unchanged if it already is a ToolError or RetryError.
func Wrap(tool string, cause error) error {
	if cause == nil {
		return nil
	}
	var te *ToolError
	if errors.As(cause, &te) {
		return cause
	}
	if IsRetry(cause) {
		return cause
	}
	return &ToolError{Tool: tool, Message: cause.Error(), Cause: cause}
}

// Retry returns a RetryError with a formatted message.
func Retry(format string, args ...any) *RetryError {
	return &RetryError{Message: fmt.Sprintf(format, args...)}
}

// IsRetry reports whether err asks for a retry.
func IsRetry(err error) bool {
	var re *RetryError
	return errors.As(err, &re)
}

// RetryMessage returns the retry prompt carried by err, if any.
func RetryMessage(err error) (string, bool) {
	var re *RetryError
	if errors.As(err, &re) {
		return re.Message, true
	}
	return "", false
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *RetryError) Error() string {
	return e.Message
}
