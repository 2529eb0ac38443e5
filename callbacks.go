package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

const canUseToolCallbackID = "can_use_tool"

type callbackKind int

const (
	callbackHook callbackKind = iota
	callbackPermission
	callbackMCP
)

// callbackEntry is a host function the CLI can invoke by id. Functions never
// cross the wire; only the id does.
type callbackEntry struct {
	id      string
	kind    callbackKind
	event   HookEvent
	matcher HookMatcher

	hook       HookCallback
	canUseTool CanUseToolFunc
	mcpServer  *McpServer
}

// callbackRegistry is filled while the session is set up and only read
// afterwards.
type callbackRegistry struct {
	mu       sync.RWMutex
	entries  map[string]*callbackEntry
	nextHook int
}

func newCallbackRegistry() *callbackRegistry {
	return &callbackRegistry{entries: make(map[string]*callbackEntry)}
}

// registerHook stores fn under a fresh hook_<n> id and returns the id.
func (r *callbackRegistry) registerHook(event HookEvent, matcher HookMatcher, fn HookCallback) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := fmt.Sprintf("hook_%d", r.nextHook)
	r.nextHook++
	r.entries[id] = &callbackEntry{id: id, kind: callbackHook, event: event, matcher: matcher, hook: fn}
	return id
}

func (r *callbackRegistry) registerPermission(fn CanUseToolFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[canUseToolCallbackID] = &callbackEntry{id: canUseToolCallbackID, kind: callbackPermission, canUseTool: fn}
}

func (r *callbackRegistry) registerMCPServer(name string, server *McpServer) {
	id := mcpCallbackID(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = &callbackEntry{id: id, kind: callbackMCP, mcpServer: server}
}

func (r *callbackRegistry) lookup(id string) (*callbackEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

func (r *callbackRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func mcpCallbackID(server string) string { return "mcp:" + server }

// resolveCallback finds the entry an inbound control request targets.
func (p *protocol) resolveCallback(fr inboundFrame) (*callbackEntry, error) {
	var id string
	switch fr.subtype {
	case ControlHookCallback:
		id, _ = fr.request["callback_id"].(string)
		if id == "" {
			return nil, newProtocolError("hook_callback has no callback_id", fr.raw)
		}
	case ControlCanUseTool:
		id = canUseToolCallbackID
	case ControlMcpMessage:
		server, _ := fr.request["server_name"].(string)
		if server == "" {
			return nil, newProtocolError("mcp_message has no server_name", fr.raw)
		}
		id = mcpCallbackID(server)
	default:
		return nil, newProtocolError(fmt.Sprintf("unsupported control request subtype %q", fr.subtype), fr.raw)
	}
	entry, ok := p.callbacks.lookup(id)
	if !ok {
		return nil, newCallbackNotFoundError(id)
	}
	return entry, nil
}

// dispatchCallback answers an inbound control request on its own goroutine
// so that the pump keeps reading while the host function runs. Exactly one
// control response is written per request.
func (p *protocol) dispatchCallback(fr inboundFrame) {
	ctx, cancel := context.WithCancel(p.ctx)
	p.trackInflight(fr.requestID, cancel)

	p.callbacksWG.Add(1)
	go func() {
		defer p.callbacksWG.Done()
		defer p.untrackInflight(fr.requestID)
		defer cancel()

		entry, err := p.resolveCallback(fr)
		if err != nil {
			p.logger.Warn("rejecting control request",
				zap.String("request_id", fr.requestID),
				zap.String("subtype", string(fr.subtype)),
				zap.Error(err))
			p.respond(fr.requestID, nil, err)
			return
		}

		if err := p.callbackSem.Acquire(ctx, 1); err != nil {
			p.respond(fr.requestID, nil, err)
			return
		}
		defer p.callbackSem.Release(1)

		resp, err := p.invokeCallback(ctx, entry, fr)
		if err != nil {
			p.logger.Debug("callback failed",
				zap.String("request_id", fr.requestID),
				zap.String("callback_id", entry.id),
				zap.Error(err))
		}
		p.respond(fr.requestID, resp, err)
	}()
}

// invokeCallback runs the host function. A panic becomes an error response.
func (p *protocol) invokeCallback(ctx context.Context, entry *callbackEntry, fr inboundFrame) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("callback panicked",
				zap.String("callback_id", entry.id),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			resp, err = nil, fmt.Errorf("callback %s panicked: %v", entry.id, r)
		}
	}()

	switch entry.kind {
	case callbackHook:
		return p.invokeHook(ctx, entry, fr)
	case callbackPermission:
		return p.invokePermission(ctx, entry, fr)
	case callbackMCP:
		message, _ := fr.request["message"].(map[string]any)
		if message == nil {
			return nil, newProtocolError("mcp_message has no message", fr.raw)
		}
		return map[string]any{"mcp_response": entry.mcpServer.handleRequest(ctx, message)}, nil
	default:
		return nil, fmt.Errorf("callback %s has no handler", entry.id)
	}
}

func (p *protocol) invokeHook(ctx context.Context, entry *callbackEntry, fr inboundFrame) (any, error) {
	var input HookInput
	if raw, ok := fr.request["input"].(map[string]any); ok {
		if err := decodeInto(raw, &input); err != nil {
			return nil, fmt.Errorf("decode hook input: %w", err)
		}
		input.Raw = raw
	}
	toolUseID, _ := fr.request["tool_use_id"].(string)

	if entry.matcher.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, entry.matcher.Timeout)
		defer cancel()
	}

	out, err := entry.hook(ctx, input, toolUseID, HookContext{
		CallbackID: entry.id,
		RequestID:  fr.requestID,
		Event:      entry.event,
		Matcher:    entry.matcher.Matcher,
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return map[string]any{}, nil
	}
	return out, nil
}

func (p *protocol) invokePermission(ctx context.Context, entry *callbackEntry, fr inboundFrame) (any, error) {
	var req struct {
		ToolName    string             `json:"tool_name"`
		Input       map[string]any     `json:"input"`
		Suggestions []PermissionUpdate `json:"permission_suggestions"`
		BlockedPath string             `json:"blocked_path"`
		ToolUseID   string             `json:"tool_use_id"`
	}
	if err := decodeInto(fr.request, &req); err != nil {
		return nil, fmt.Errorf("decode can_use_tool request: %w", err)
	}
	if req.Input == nil {
		req.Input = map[string]any{}
	}

	result, err := entry.canUseTool(ctx, req.ToolName, req.Input, ToolPermissionContext{
		RequestID:   fr.requestID,
		ToolUseID:   req.ToolUseID,
		BlockedPath: req.BlockedPath,
		Suggestions: req.Suggestions,
	})
	if err != nil {
		return nil, err
	}

	switch r := result.(type) {
	case *PermissionResultAllow:
		resp := map[string]any{"behavior": PermissionBehaviorAllow, "updatedInput": req.Input}
		if r.UpdatedInput != nil {
			resp["updatedInput"] = r.UpdatedInput
		}
		if r.UpdatedPermissions != nil {
			resp["updatedPermissions"] = r.UpdatedPermissions
		}
		return resp, nil
	case *PermissionResultDeny:
		resp := map[string]any{"behavior": PermissionBehaviorDeny, "message": r.Message}
		if r.Interrupt {
			resp["interrupt"] = true
		}
		return resp, nil
	case nil:
		return nil, errors.New("permission callback returned no result")
	default:
		return nil, fmt.Errorf("unexpected permission result type %T", result)
	}
}

// respond writes the control response for an inbound request.
func (p *protocol) respond(requestID string, resp any, cause error) {
	line, err := encodeControlResponse(requestID, resp, cause)
	if err != nil {
		line, err = encodeControlResponse(requestID, nil, err)
		if err != nil {
			p.logger.Error("cannot encode control response", zap.String("request_id", requestID), zap.Error(err))
			return
		}
	}
	if err := p.transport.Write(line); err != nil {
		p.logger.Warn("failed to send control response", zap.String("request_id", requestID), zap.Error(err))
	}
}

func (p *protocol) trackInflight(requestID string, cancel context.CancelFunc) {
	p.inflightMu.Lock()
	p.inflight[requestID] = cancel
	p.inflightMu.Unlock()
}

func (p *protocol) untrackInflight(requestID string) {
	p.inflightMu.Lock()
	delete(p.inflight, requestID)
	p.inflightMu.Unlock()
}

// cancelInflight cancels the callback serving requestID, if any.
func (p *protocol) cancelInflight(requestID string) bool {
	p.inflightMu.Lock()
	cancel, ok := p.inflight[requestID]
	p.inflightMu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// decodeInto converts a decoded JSON object into a typed struct.
func decodeInto(m map[string]any, v any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
