package claude

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func responseBody(t *testing.T, frame map[string]any) map[string]any {
	t.Helper()
	body, ok := frame["response"].(map[string]any)
	require.True(t, ok, "frame has no response body: %v", frame)
	return body
}

func TestRegistryAssignsSequentialHookIDs(t *testing.T) {
	r := newCallbackRegistry()
	fn := func(context.Context, HookInput, string, HookContext) (*HookJSONOutput, error) { return nil, nil }

	assert.Equal(t, "hook_0", r.registerHook(HookPreToolUse, HookMatcher{}, fn))
	assert.Equal(t, "hook_1", r.registerHook(HookPostToolUse, HookMatcher{}, fn))

	e, ok := r.lookup("hook_1")
	require.True(t, ok)
	assert.Equal(t, HookPostToolUse, e.event)
	_, ok = r.lookup("hook_2")
	assert.False(t, ok)
	assert.Equal(t, 2, r.len())
}

func TestHookCallbackDispatch(t *testing.T) {
	m := newMockTransport()
	m.setOnWrite(ackAll())

	seen := make(chan HookContext, 1)
	hook := func(ctx context.Context, input HookInput, toolUseID string, hc HookContext) (*HookJSONOutput, error) {
		assert.Equal(t, "Bash", input.ToolName)
		assert.Equal(t, "rm -rf /", input.ToolInput["command"])
		assert.Equal(t, "tu_1", toolUseID)
		assert.Equal(t, "PreToolUse", input.Raw["hook_event_name"])
		seen <- hc
		return &HookJSONOutput{
			Decision: "block",
			Reason:   "dangerous",
			HookSpecificOutput: &HookSpecificOutput{
				HookEventName:      HookPreToolUse,
				PermissionDecision: "deny",
			},
		}, nil
	}
	p := newTestProtocol(t, m, WithHooks(map[HookEvent][]HookMatcher{
		HookPreToolUse: {{Matcher: "Bash", Hooks: []HookCallback{hook}}},
	}))
	_, err := p.initialize(context.Background())
	require.NoError(t, err)

	m.pushJSON(t, `{"type":"control_request","request_id":"cli_1","request":{
		"subtype":"hook_callback","callback_id":"hook_0","tool_use_id":"tu_1",
		"input":{"hook_event_name":"PreToolUse","tool_name":"Bash","tool_input":{"command":"rm -rf /"}}}}`)

	body := responseBody(t, m.waitWrite(t, responseTo("cli_1")))
	assert.Equal(t, "success", body["subtype"])
	out := body["response"].(map[string]any)
	assert.Equal(t, "block", out["decision"])
	assert.Equal(t, "dangerous", out["reason"])
	assert.Equal(t, "deny", out["hookSpecificOutput"].(map[string]any)["permissionDecision"])

	hc := <-seen
	assert.Equal(t, "hook_0", hc.CallbackID)
	assert.Equal(t, "cli_1", hc.RequestID)
	assert.Equal(t, HookPreToolUse, hc.Event)
	assert.Equal(t, "Bash", hc.Matcher)
}

func TestNilHookOutputIsEmptySuccess(t *testing.T) {
	m := newMockTransport()
	m.setOnWrite(ackAll())
	hook := func(context.Context, HookInput, string, HookContext) (*HookJSONOutput, error) { return nil, nil }
	p := newTestProtocol(t, m, WithHooks(map[HookEvent][]HookMatcher{HookStop: {{Hooks: []HookCallback{hook}}}}))
	_, err := p.initialize(context.Background())
	require.NoError(t, err)

	m.pushJSON(t, `{"type":"control_request","request_id":"cli_2","request":{"subtype":"hook_callback","callback_id":"hook_0","input":{}}}`)
	body := responseBody(t, m.waitWrite(t, responseTo("cli_2")))
	assert.Equal(t, "success", body["subtype"])
	assert.Equal(t, map[string]any{}, body["response"])
}

func TestUnknownCallbackGetsErrorResponse(t *testing.T) {
	m := newMockTransport()
	p := newTestProtocol(t, m)

	m.pushJSON(t, `{"type":"control_request","request_id":"cli_3","request":{"subtype":"hook_callback","callback_id":"hook_99","input":{}}}`)
	body := responseBody(t, m.waitWrite(t, responseTo("cli_3")))
	assert.Equal(t, "error", body["subtype"])
	assert.Contains(t, body["error"], "hook_99")

	m.push(assistantFrame("pump still running"))
	assert.Equal(t, "assistant", popItem(t, p).msg["type"])
}

func TestUnsupportedControlRequestGetsErrorResponse(t *testing.T) {
	m := newMockTransport()
	newTestProtocol(t, m)

	m.pushJSON(t, `{"type":"control_request","request_id":"cli_4","request":{"subtype":"teleport"}}`)
	body := responseBody(t, m.waitWrite(t, responseTo("cli_4")))
	assert.Equal(t, "error", body["subtype"])
	assert.Contains(t, body["error"], "teleport")
}

func TestCanUseToolWithoutCallbackIsAnError(t *testing.T) {
	m := newMockTransport()
	newTestProtocol(t, m)

	m.pushJSON(t, `{"type":"control_request","request_id":"cli_5","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{}}}`)
	body := responseBody(t, m.waitWrite(t, responseTo("cli_5")))
	assert.Equal(t, "error", body["subtype"])
}

func TestCanUseToolAllowAndDeny(t *testing.T) {
	m := newMockTransport()
	canUse := func(ctx context.Context, tool string, input map[string]any, pc ToolPermissionContext) (PermissionResult, error) {
		switch tool {
		case "Bash":
			return &PermissionResultDeny{Message: "no shell", Interrupt: true}, nil
		case "Write":
			assert.Equal(t, "/etc", pc.BlockedPath)
			if assert.Len(t, pc.Suggestions, 1) {
				assert.Equal(t, PermissionUpdateAddRules, pc.Suggestions[0].Type)
			}
			return &PermissionResultAllow{UpdatedInput: map[string]any{"path": "/tmp/x"}}, nil
		default:
			return &PermissionResultAllow{}, nil
		}
	}
	newTestProtocol(t, m, WithCanUseTool(canUse))

	m.pushJSON(t, `{"type":"control_request","request_id":"deny","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"ls"}}}`)
	m.pushJSON(t, `{"type":"control_request","request_id":"rewrite","request":{"subtype":"can_use_tool","tool_name":"Write",
		"input":{"path":"/etc/passwd"},"blocked_path":"/etc",
		"permission_suggestions":[{"type":"addRules","rules":[{"toolName":"Write"}],"behavior":"allow","destination":"session"}]}}`)
	m.pushJSON(t, `{"type":"control_request","request_id":"keep","request":{"subtype":"can_use_tool","tool_name":"Read","input":{"file":"a.go"}}}`)

	deny := responseBody(t, m.waitWrite(t, responseTo("deny")))["response"].(map[string]any)
	assert.Equal(t, "deny", deny["behavior"])
	assert.Equal(t, "no shell", deny["message"])
	assert.Equal(t, true, deny["interrupt"])

	rewrite := responseBody(t, m.waitWrite(t, responseTo("rewrite")))["response"].(map[string]any)
	assert.Equal(t, "allow", rewrite["behavior"])
	assert.Equal(t, map[string]any{"path": "/tmp/x"}, rewrite["updatedInput"])

	keep := responseBody(t, m.waitWrite(t, responseTo("keep")))["response"].(map[string]any)
	assert.Equal(t, map[string]any{"file": "a.go"}, keep["updatedInput"])
}

func TestCallbackErrorAndPanicBecomeErrorResponses(t *testing.T) {
	m := newMockTransport()
	m.setOnWrite(ackAll())
	failing := func(context.Context, HookInput, string, HookContext) (*HookJSONOutput, error) {
		return nil, errors.New("hook exploded")
	}
	panicking := func(context.Context, HookInput, string, HookContext) (*HookJSONOutput, error) {
		panic("kaboom")
	}
	p := newTestProtocol(t, m, WithHooks(map[HookEvent][]HookMatcher{
		HookPostToolUse: {{Hooks: []HookCallback{failing, panicking}}},
	}))
	_, err := p.initialize(context.Background())
	require.NoError(t, err)

	m.pushJSON(t, `{"type":"control_request","request_id":"e1","request":{"subtype":"hook_callback","callback_id":"hook_0","input":{}}}`)
	m.pushJSON(t, `{"type":"control_request","request_id":"e2","request":{"subtype":"hook_callback","callback_id":"hook_1","input":{}}}`)

	e1 := responseBody(t, m.waitWrite(t, responseTo("e1")))
	assert.Equal(t, "error", e1["subtype"])
	assert.Equal(t, "hook exploded", e1["error"])

	e2 := responseBody(t, m.waitWrite(t, responseTo("e2")))
	assert.Equal(t, "error", e2["subtype"])
	assert.Contains(t, e2["error"], "kaboom")

	m.push(assistantFrame("after panic"))
	assert.Equal(t, "assistant", popItem(t, p).msg["type"])
}

func TestSlowCallbackDoesNotBlockControlResponses(t *testing.T) {
	m := newMockTransport()
	release := make(chan struct{})
	slow := func(ctx context.Context, _ HookInput, _ string, _ HookContext) (*HookJSONOutput, error) {
		<-release
		return nil, nil
	}
	p := newTestProtocol(t, m, WithHooks(map[HookEvent][]HookMatcher{HookStop: {{Hooks: []HookCallback{slow}}}}))
	m.setOnWrite(ackAll())
	_, err := p.initialize(context.Background())
	require.NoError(t, err)

	m.pushJSON(t, `{"type":"control_request","request_id":"slow","request":{"subtype":"hook_callback","callback_id":"hook_0","input":{}}}`)
	// The pump must still resolve this while the hook is blocked.
	_, err = p.interrupt(context.Background())
	require.NoError(t, err)

	close(release)
	assert.Equal(t, "success", responseBody(t, m.waitWrite(t, responseTo("slow")))["subtype"])
}

func TestCancelRequestCancelsCallback(t *testing.T) {
	m := newMockTransport()
	started := make(chan struct{})
	blocking := func(ctx context.Context, _ HookInput, _ string, _ HookContext) (*HookJSONOutput, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	p := newTestProtocol(t, m, WithHooks(map[HookEvent][]HookMatcher{HookPreToolUse: {{Hooks: []HookCallback{blocking}}}}))
	m.setOnWrite(ackAll())
	_, err := p.initialize(context.Background())
	require.NoError(t, err)

	m.pushJSON(t, `{"type":"control_request","request_id":"long","request":{"subtype":"hook_callback","callback_id":"hook_0","input":{}}}`)
	<-started
	m.pushJSON(t, `{"type":"control_cancel_request","request_id":"long"}`)

	body := responseBody(t, m.waitWrite(t, responseTo("long")))
	assert.Equal(t, "error", body["subtype"])
	assert.Contains(t, body["error"], "canceled")

	it := popItem(t, p)
	assert.Equal(t, "control_cancel_request", it.msg["type"])
}

func TestHookMatcherTimeoutBoundsInvocation(t *testing.T) {
	m := newMockTransport()
	blocking := func(ctx context.Context, _ HookInput, _ string, _ HookContext) (*HookJSONOutput, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	p := newTestProtocol(t, m, WithHooks(map[HookEvent][]HookMatcher{
		HookPreToolUse: {{Hooks: []HookCallback{blocking}, Timeout: 20 * time.Millisecond}},
	}))
	m.setOnWrite(ackAll())
	_, err := p.initialize(context.Background())
	require.NoError(t, err)

	m.pushJSON(t, `{"type":"control_request","request_id":"t1","request":{"subtype":"hook_callback","callback_id":"hook_0","input":{}}}`)
	body := responseBody(t, m.waitWrite(t, responseTo("t1")))
	assert.Equal(t, "error", body["subtype"])
	assert.Contains(t, body["error"], "deadline exceeded")
}

func TestMCPMessageDispatch(t *testing.T) {
	m := newMockTransport()
	add := NewMCPTool("add", "Add two numbers", map[string]any{
		"type":       "object",
		"properties": map[string]any{"a": map[string]any{"type": "number"}, "b": map[string]any{"type": "number"}},
		"required":   []any{"a", "b"},
	}, func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
		return TextResult("3"), nil
	})
	newTestProtocol(t, m, WithMcpServers(map[string]McpServerConfig{
		"calc": CreateSdkMcpServer("calc", "1.0.0", add),
	}))

	m.pushJSON(t, `{"type":"control_request","request_id":"mcp1","request":{"subtype":"mcp_message","server_name":"calc",
		"message":{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"add","arguments":{"a":1,"b":2}}}}}`)
	body := responseBody(t, m.waitWrite(t, responseTo("mcp1")))
	require.Equal(t, "success", body["subtype"])
	rpc := body["response"].(map[string]any)["mcp_response"].(map[string]any)
	assert.Equal(t, 7.0, rpc["id"])
	content := rpc["result"].(map[string]any)["content"].([]any)
	assert.Equal(t, "3", content[0].(map[string]any)["text"])

	m.pushJSON(t, `{"type":"control_request","request_id":"mcp2","request":{"subtype":"mcp_message","server_name":"nope","message":{"jsonrpc":"2.0","id":1,"method":"tools/list"}}}`)
	body = responseBody(t, m.waitWrite(t, responseTo("mcp2")))
	assert.Equal(t, "error", body["subtype"])
	assert.Contains(t, body["error"], "mcp:nope")
}
