package claude

import (
	"context"
	"time"
)

// HookEvent names a point in the agent loop at which the CLI runs hooks.
type HookEvent string

const (
	HookPreToolUse         HookEvent = "PreToolUse"
	HookPostToolUse        HookEvent = "PostToolUse"
	HookPostToolUseFailure HookEvent = "PostToolUseFailure"
	HookUserPromptSubmit   HookEvent = "UserPromptSubmit"
	HookStop               HookEvent = "Stop"
	HookSubagentStart      HookEvent = "SubagentStart"
	HookSubagentStop       HookEvent = "SubagentStop"
	HookPreCompact         HookEvent = "PreCompact"
	HookNotification       HookEvent = "Notification"
	HookPermissionRequest  HookEvent = "PermissionRequest"
)

// HookInput is the payload of a hook_callback request. Which fields are set
// depends on HookEventName.
type HookInput struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	Cwd            string `json:"cwd"`
	PermissionMode string `json:"permission_mode,omitempty"`
	HookEventName  string `json:"hook_event_name"`

	ToolName     string         `json:"tool_name,omitempty"`
	ToolInput    map[string]any `json:"tool_input,omitempty"`
	ToolUseID    string         `json:"tool_use_id,omitempty"`
	ToolResponse any            `json:"tool_response,omitempty"`
	Error        string         `json:"error,omitempty"`
	IsInterrupt  *bool          `json:"is_interrupt,omitempty"`

	Prompt         string `json:"prompt,omitempty"`
	StopHookActive bool   `json:"stop_hook_active,omitempty"`

	AgentID             string `json:"agent_id,omitempty"`
	AgentType           string `json:"agent_type,omitempty"`
	AgentTranscriptPath string `json:"agent_transcript_path,omitempty"`

	Trigger            string `json:"trigger,omitempty"`
	CustomInstructions string `json:"custom_instructions,omitempty"`

	Message          string `json:"message,omitempty"`
	Title            string `json:"title,omitempty"`
	NotificationType string `json:"notification_type,omitempty"`

	PermissionSuggestions []PermissionUpdate `json:"permission_suggestions,omitempty"`

	// Raw holds the payload exactly as received.
	Raw map[string]any `json:"-"`
}

// HookSpecificOutput carries event-specific hook results.
type HookSpecificOutput struct {
	HookEventName HookEvent `json:"hookEventName"`

	PermissionDecision       string         `json:"permissionDecision,omitempty"`
	PermissionDecisionReason string         `json:"permissionDecisionReason,omitempty"`
	UpdatedInput             map[string]any `json:"updatedInput,omitempty"`
	UpdatedMCPToolOutput     any            `json:"updatedMCPToolOutput,omitempty"`
	AdditionalContext        string         `json:"additionalContext,omitempty"`
	Decision                 map[string]any `json:"decision,omitempty"`
}

// HookJSONOutput is a hook's reply. It is sent to the CLI as is.
type HookJSONOutput struct {
	Async        *bool `json:"async,omitempty"`
	AsyncTimeout *int  `json:"asyncTimeout,omitempty"`

	Continue       *bool  `json:"continue,omitempty"`
	SuppressOutput *bool  `json:"suppressOutput,omitempty"`
	StopReason     string `json:"stopReason,omitempty"`

	// Decision is "block" or empty.
	Decision      string `json:"decision,omitempty"`
	SystemMessage string `json:"systemMessage,omitempty"`
	Reason        string `json:"reason,omitempty"`

	HookSpecificOutput *HookSpecificOutput `json:"hookSpecificOutput,omitempty"`
}

// HookContext identifies the invocation a hook is serving.
type HookContext struct {
	CallbackID string
	RequestID  string
	Event      HookEvent
	Matcher    string
}

// HookCallback handles one hook invocation. ctx is cancelled when the CLI
// cancels the request, the matcher timeout passes or the session closes.
type HookCallback func(
	ctx context.Context,
	input HookInput,
	toolUseID string,
	hookCtx HookContext,
) (*HookJSONOutput, error)

// HookMatcher binds callbacks to the tools matching Matcher, for example
// "Bash" or "Write|Edit". An empty Matcher matches every tool.
type HookMatcher struct {
	Matcher string
	Hooks   []HookCallback
	// Timeout is sent to the CLI and also bounds each host-side invocation.
	Timeout time.Duration
}
