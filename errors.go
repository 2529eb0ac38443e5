package claude

import (
	"errors"
	"fmt"
	"time"
)

// ErrTransportClosed is matched by every *TransportClosedError via errors.Is.
var ErrTransportClosed = errors.New("transport closed")

// ErrorCategory groups errors by the layer that produced them.
type ErrorCategory string

const (
	CategoryConnection    ErrorCategory = "connection"
	CategoryProtocol      ErrorCategory = "protocol"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryCallback      ErrorCategory = "callback"
	CategoryProcess       ErrorCategory = "process"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// Retryable reports whether an operation failing with this category may
// succeed on a fresh attempt.
func (c ErrorCategory) Retryable() bool {
	switch c {
	case CategoryConnection, CategoryTimeout:
		return true
	default:
		return false
	}
}

// categorized is implemented by every error type in this package.
type categorized interface {
	Category() ErrorCategory
	Code() string
}

// SDKError is the base error type for all Claude SDK errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

func (e *SDKError) Category() ErrorCategory { return CategoryInternal }
func (e *SDKError) Code() string            { return "EINTERNAL001" }

// CLIConnectionError is returned when the CLI process cannot be started or
// configured.
type CLIConnectionError struct {
	SDKError
}

func (e *CLIConnectionError) Category() ErrorCategory { return CategoryConnection }
func (e *CLIConnectionError) Code() string            { return "ECONN001" }

// CLINotFoundError is returned when the CLI executable does not exist.
type CLINotFoundError struct {
	CLIConnectionError
	CLIPath string
}

func (e *CLINotFoundError) Category() ErrorCategory { return CategoryConfiguration }
func (e *CLINotFoundError) Code() string            { return "ECONF001" }

// WriteError is returned when a frame cannot be written to the CLI's stdin.
type WriteError struct {
	SDKError
}

func (e *WriteError) Category() ErrorCategory { return CategoryConnection }
func (e *WriteError) Code() string            { return "ECONN002" }

// ProcessError is returned when the CLI process exits unsuccessfully.
type ProcessError struct {
	SDKError
	ExitCode int
	Stderr   string
}

func NewProcessError(message string, exitCode int, stderr string) *ProcessError {
	msg := message
	if exitCode != 0 {
		msg = fmt.Sprintf("%s (exit code: %d)", msg, exitCode)
	}
	if stderr != "" {
		msg = fmt.Sprintf("%s\nError output: %s", msg, stderr)
	}
	return &ProcessError{
		SDKError: SDKError{Message: msg},
		ExitCode: exitCode,
		Stderr:   stderr,
	}
}

func (e *ProcessError) Category() ErrorCategory { return CategoryProcess }
func (e *ProcessError) Code() string            { return "EPROC001" }

// CLIJSONDecodeError reports one malformed line. The stream continues past it.
type CLIJSONDecodeError struct {
	SDKError
	Line string
}

func (e *CLIJSONDecodeError) Category() ErrorCategory { return CategoryProtocol }
func (e *CLIJSONDecodeError) Code() string            { return "EPARSE001" }

// BufferOverflowError reports a line longer than the configured cap. The
// stream ends after it.
type BufferOverflowError struct {
	SDKError
	Limit int
}

func newBufferOverflowError(limit int) *BufferOverflowError {
	return &BufferOverflowError{
		SDKError: SDKError{Message: fmt.Sprintf("line exceeded maximum buffer size of %d bytes", limit)},
		Limit:    limit,
	}
}

func (e *BufferOverflowError) Category() ErrorCategory { return CategoryProtocol }
func (e *BufferOverflowError) Code() string            { return "EPARSE002" }

// ProtocolError reports well-formed JSON that violates the control envelope.
type ProtocolError struct {
	SDKError
	Data map[string]any
}

func newProtocolError(msg string, data map[string]any) *ProtocolError {
	return &ProtocolError{SDKError: SDKError{Message: msg}, Data: data}
}

func (e *ProtocolError) Category() ErrorCategory { return CategoryProtocol }
func (e *ProtocolError) Code() string            { return "EPROTO001" }

// ControlTimeoutError is returned when a control request gets no response
// within its deadline.
type ControlTimeoutError struct {
	SDKError
	RequestID string
	Subtype   string
	Timeout   time.Duration
}

func (e *ControlTimeoutError) Category() ErrorCategory { return CategoryTimeout }
func (e *ControlTimeoutError) Code() string            { return "ETIME001" }

// TransportClosedError is returned for operations attempted after shutdown
// and for control calls still pending when the stream ends.
type TransportClosedError struct {
	SDKError
}

func newTransportClosedError(cause error) *TransportClosedError {
	return &TransportClosedError{SDKError: SDKError{Message: "transport closed", Cause: cause}}
}

func (e *TransportClosedError) Is(target error) bool { return target == ErrTransportClosed }

func (e *TransportClosedError) Category() ErrorCategory { return CategoryConnection }
func (e *TransportClosedError) Code() string            { return "ECONN003" }

// CallbackNotFoundError is reported to the CLI when an inbound control request
// names a callback that was never registered.
type CallbackNotFoundError struct {
	SDKError
	CallbackID string
}

func newCallbackNotFoundError(id string) *CallbackNotFoundError {
	return &CallbackNotFoundError{
		SDKError:   SDKError{Message: "no callback registered for id " + id},
		CallbackID: id,
	}
}

func (e *CallbackNotFoundError) Category() ErrorCategory { return CategoryCallback }
func (e *CallbackNotFoundError) Code() string            { return "ECB001" }

// PreconditionError is returned locally, before anything is written, when an
// operation is not valid for the session's state or configuration.
type PreconditionError struct {
	SDKError
}

func newPreconditionError(msg string) *PreconditionError {
	return &PreconditionError{SDKError: SDKError{Message: msg}}
}

func (e *PreconditionError) Category() ErrorCategory { return CategoryConfiguration }
func (e *PreconditionError) Code() string            { return "ECONF002" }

// ControlError is an error response returned by the CLI for a control request.
type ControlError struct {
	SDKError
	RequestID string
	Subtype   string
}

func (e *ControlError) Category() ErrorCategory { return CategoryProtocol }
func (e *ControlError) Code() string            { return "EPROTO002" }

// MessageParseError is returned when a plain message cannot be decoded into a
// typed Message.
type MessageParseError struct {
	SDKError
	Data map[string]any
}

func (e *MessageParseError) Category() ErrorCategory { return CategoryProtocol }
func (e *MessageParseError) Code() string            { return "EPARSE003" }

// CategoryOf returns the category of the first error in err's chain that
// carries one, or CategoryInternal.
func CategoryOf(err error) ErrorCategory {
	var c categorized
	if errors.As(err, &c) {
		return c.Category()
	}
	return CategoryInternal
}

// CodeOf returns the stable code of the first categorized error in err's
// chain, or the empty string.
func CodeOf(err error) string {
	var c categorized
	if errors.As(err, &c) {
		return c.Code()
	}
	return ""
}

// IsRetryable reports whether err belongs to a retryable category.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return CategoryOf(err).Retryable()
}
