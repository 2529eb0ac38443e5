package claude

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCategoriesAndCodes(t *testing.T) {
	tests := []struct {
		err       error
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{&CLIConnectionError{SDKError: SDKError{Message: "x"}}, CategoryConnection, "ECONN001", true},
		{&CLINotFoundError{}, CategoryConfiguration, "ECONF001", false},
		{&WriteError{}, CategoryConnection, "ECONN002", true},
		{NewProcessError("exited", 1, ""), CategoryProcess, "EPROC001", false},
		{&CLIJSONDecodeError{}, CategoryProtocol, "EPARSE001", false},
		{newBufferOverflowError(10), CategoryProtocol, "EPARSE002", false},
		{newProtocolError("bad", nil), CategoryProtocol, "EPROTO001", false},
		{&ControlError{}, CategoryProtocol, "EPROTO002", false},
		{&MessageParseError{}, CategoryProtocol, "EPARSE003", false},
		{&ControlTimeoutError{}, CategoryTimeout, "ETIME001", true},
		{newTransportClosedError(nil), CategoryConnection, "ECONN003", true},
		{newCallbackNotFoundError("hook_9"), CategoryCallback, "ECB001", false},
		{newPreconditionError("no"), CategoryConfiguration, "ECONF002", false},
		{&SDKError{Message: "base"}, CategoryInternal, "EINTERNAL001", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%T", tt.err), func(t *testing.T) {
			assert.Equal(t, tt.category, CategoryOf(tt.err))
			assert.Equal(t, tt.code, CodeOf(tt.err))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))

			wrapped := fmt.Errorf("context: %w", tt.err)
			assert.Equal(t, tt.category, CategoryOf(wrapped))
			assert.Equal(t, tt.code, CodeOf(wrapped))
		})
	}
}

func TestUncategorizedErrors(t *testing.T) {
	assert.Equal(t, CategoryInternal, CategoryOf(io.EOF))
	assert.Empty(t, CodeOf(io.EOF))
	assert.False(t, IsRetryable(nil))
}

func TestTransportClosedMatchesSentinel(t *testing.T) {
	cause := NewProcessError("exited", 2, "oops")
	err := newTransportClosedError(cause)
	assert.ErrorIs(t, err, ErrTransportClosed)
	assert.ErrorIs(t, fmt.Errorf("wrap: %w", err), ErrTransportClosed)

	var pe *ProcessError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 2, pe.ExitCode)
	assert.Equal(t, CategoryConnection, CategoryOf(err))
}

func TestProcessErrorMessage(t *testing.T) {
	err := NewProcessError("Claude CLI exited with an error", 3, "fatal: boom")
	assert.Equal(t, "Claude CLI exited with an error (exit code: 3)\nError output: fatal: boom", err.Error())
	assert.Equal(t, "clean", NewProcessError("clean", 0, "").Error())
}

func TestErrorUnwrapsCause(t *testing.T) {
	err := &WriteError{SDKError: SDKError{Message: "write failed", Cause: io.ErrClosedPipe}}
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Equal(t, "write failed: io: read/write on closed pipe", err.Error())

	cb := newCallbackNotFoundError("hook_9")
	assert.Equal(t, "hook_9", cb.CallbackID)
	assert.False(t, errors.Is(cb, ErrTransportClosed))
}

func TestControlTimeoutFields(t *testing.T) {
	err := error(&ControlTimeoutError{
		SDKError:  SDKError{Message: "control request timed out"},
		RequestID: "req_1_abc",
		Subtype:   "interrupt",
		Timeout:   time.Second,
	})
	var te *ControlTimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "interrupt", te.Subtype)
	assert.Equal(t, time.Second, te.Timeout)
}
