package claude

// Message is one decoded entry of a session's output stream. The variants
// are *UserMessage, *AssistantMessage, *SystemMessage, *ResultMessage,
// *StreamEvent, *RateLimitEvent and *ControlCancelRequest.
type Message interface {
	messageType() string
}

// AssistantMessageError classifies a failed assistant turn.
type AssistantMessageError string

const (
	AssistantErrorAuthenticationFailed AssistantMessageError = "authentication_failed"
	AssistantErrorBillingError         AssistantMessageError = "billing_error"
	AssistantErrorRateLimit            AssistantMessageError = "rate_limit"
	AssistantErrorInvalidRequest       AssistantMessageError = "invalid_request"
	AssistantErrorServerError          AssistantMessageError = "server_error"
	AssistantErrorUnknown              AssistantMessageError = "unknown"
)

// UserMessage echoes a user turn. Content is a string or []ContentBlock.
type UserMessage struct {
	Content         any            `json:"content"`
	UUID            string         `json:"uuid,omitempty"`
	ParentToolUseID string         `json:"parent_tool_use_id,omitempty"`
	ToolUseResult   map[string]any `json:"tool_use_result,omitempty"`
}

func (m *UserMessage) messageType() string { return "user" }

type AssistantMessage struct {
	Content         []ContentBlock        `json:"content"`
	Model           string                `json:"model"`
	ParentToolUseID string                `json:"parent_tool_use_id,omitempty"`
	Error           AssistantMessageError `json:"error,omitempty"`
}

func (m *AssistantMessage) messageType() string { return "assistant" }

// SystemMessage carries CLI metadata such as the init announcement. Data
// is the whole frame.
type SystemMessage struct {
	Subtype string         `json:"subtype"`
	Data    map[string]any `json:"data"`
}

func (m *SystemMessage) messageType() string { return "system" }

// ResultMessage ends a turn and reports its cost and usage.
type ResultMessage struct {
	Subtype          string         `json:"subtype"`
	DurationMS       int            `json:"duration_ms"`
	DurationAPIMS    int            `json:"duration_api_ms"`
	IsError          bool           `json:"is_error"`
	NumTurns         int            `json:"num_turns"`
	SessionID        string         `json:"session_id"`
	TotalCostUSD     *float64       `json:"total_cost_usd,omitempty"`
	Usage            map[string]any `json:"usage,omitempty"`
	Result           string         `json:"result,omitempty"`
	StructuredOutput any            `json:"structured_output,omitempty"`
}

func (m *ResultMessage) messageType() string { return "result" }

// StreamEvent is a partial-message update, sent when partial messages are
// enabled.
type StreamEvent struct {
	UUID            string         `json:"uuid"`
	SessionID       string         `json:"session_id"`
	Event           map[string]any `json:"event"`
	ParentToolUseID string         `json:"parent_tool_use_id,omitempty"`
}

func (m *StreamEvent) messageType() string { return "stream_event" }

// RateLimitEvent is kept raw; its shape changes between CLI releases.
type RateLimitEvent struct {
	Data map[string]any `json:"data"`
}

func (m *RateLimitEvent) messageType() string { return "rate_limit_event" }

// ControlCancelRequest reports that the CLI abandoned one of its own control
// requests, such as a permission prompt the user answered elsewhere. Any
// callback still serving RequestID has already had its context cancelled.
type ControlCancelRequest struct {
	RequestID string         `json:"request_id"`
	Data      map[string]any `json:"data"`
}

func (m *ControlCancelRequest) messageType() string { return "control_cancel_request" }

// ContentBlock is one of *TextBlock, *ThinkingBlock, *ToolUseBlock or
// *ToolResultBlock.
type ContentBlock interface {
	contentBlockType() string
}

type TextBlock struct {
	Text string `json:"text"`
}

func (b *TextBlock) contentBlockType() string { return "text" }

type ThinkingBlock struct {
	Thinking  string `json:"thinking"`
	Signature string `json:"signature"`
}

func (b *ThinkingBlock) contentBlockType() string { return "thinking" }

type ToolUseBlock struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

func (b *ToolUseBlock) contentBlockType() string { return "tool_use" }

// ToolResultBlock content is a string, a list of blocks or nil.
type ToolResultBlock struct {
	ToolUseID string `json:"tool_use_id"`
	Content   any    `json:"content,omitempty"`
	IsError   *bool  `json:"is_error,omitempty"`
}

func (b *ToolResultBlock) contentBlockType() string { return "tool_result" }
