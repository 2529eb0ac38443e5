package claude

import "fmt"

// fields reads typed values out of a decoded frame and remembers the first
// missing required field.
type fields struct {
	kind    string
	data    map[string]any
	missing string
}

func (f *fields) require(key string) any {
	v, ok := f.data[key]
	if (!ok || v == nil) && f.missing == "" {
		f.missing = key
	}
	return v
}

func (f *fields) str(key string) string {
	s, _ := f.data[key].(string)
	return s
}

func (f *fields) requireStr(key string) string {
	s, _ := f.require(key).(string)
	if s == "" && f.missing == "" {
		f.missing = key
	}
	return s
}

func (f *fields) err() error {
	if f.missing == "" {
		return nil
	}
	return &MessageParseError{
		SDKError: SDKError{Message: fmt.Sprintf("%s message is missing required field %q", f.kind, f.missing)},
		Data:     f.data,
	}
}

func intValue(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return 0
	}
}

// parseMessage decodes a plain frame into its Message variant. Unknown types
// are errors rather than being dropped.
func parseMessage(data map[string]any) (Message, error) {
	switch typ, _ := data["type"].(string); typ {
	case "user":
		return parseUserMessage(data)
	case "assistant":
		return parseAssistantMessage(data)
	case "system":
		f := &fields{kind: typ, data: data}
		m := &SystemMessage{Subtype: f.requireStr("subtype"), Data: data}
		return m, f.err()
	case "result":
		return parseResultMessage(data)
	case "stream_event":
		f := &fields{kind: typ, data: data}
		m := &StreamEvent{
			UUID:            f.requireStr("uuid"),
			SessionID:       f.requireStr("session_id"),
			ParentToolUseID: f.str("parent_tool_use_id"),
		}
		m.Event, _ = f.require("event").(map[string]any)
		if err := f.err(); err != nil {
			return nil, err
		}
		return m, nil
	case "rate_limit_event":
		return &RateLimitEvent{Data: data}, nil
	case typeControlCancelRequest:
		f := &fields{kind: typ, data: data}
		m := &ControlCancelRequest{RequestID: f.requireStr("request_id"), Data: data}
		return m, f.err()
	case "":
		return nil, &MessageParseError{SDKError: SDKError{Message: "message has no type"}, Data: data}
	default:
		return nil, &MessageParseError{
			SDKError: SDKError{Message: fmt.Sprintf("unknown message type %q", typ)},
			Data:     data,
		}
	}
}

func parseUserMessage(data map[string]any) (Message, error) {
	f := &fields{kind: "user", data: data}
	inner, _ := f.require("message").(map[string]any)
	if err := f.err(); err != nil {
		return nil, err
	}
	content := (&fields{kind: "user", data: inner}).require("content")

	m := &UserMessage{
		UUID:            f.str("uuid"),
		ParentToolUseID: f.str("parent_tool_use_id"),
	}
	m.ToolUseResult, _ = data["tool_use_result"].(map[string]any)
	switch c := content.(type) {
	case []any:
		m.Content = parseContentBlocks(c)
	case string:
		m.Content = c
	default:
		return nil, &MessageParseError{SDKError: SDKError{Message: "user message has no content"}, Data: data}
	}
	return m, nil
}

func parseAssistantMessage(data map[string]any) (Message, error) {
	f := &fields{kind: "assistant", data: data}
	inner, _ := f.require("message").(map[string]any)
	if err := f.err(); err != nil {
		return nil, err
	}
	g := &fields{kind: "assistant", data: inner}
	blocks, _ := g.require("content").([]any)
	model := g.requireStr("model")
	if err := g.err(); err != nil {
		return nil, err
	}
	return &AssistantMessage{
		Content:         parseContentBlocks(blocks),
		Model:           model,
		ParentToolUseID: f.str("parent_tool_use_id"),
		Error:           AssistantMessageError(f.str("error")),
	}, nil
}

func parseResultMessage(data map[string]any) (Message, error) {
	f := &fields{kind: "result", data: data}
	m := &ResultMessage{
		Subtype:       f.requireStr("subtype"),
		DurationMS:    intValue(f.require("duration_ms")),
		DurationAPIMS: intValue(f.require("duration_api_ms")),
		NumTurns:      intValue(f.require("num_turns")),
		SessionID:     f.requireStr("session_id"),
		Result:        f.str("result"),
	}
	isError, ok := f.require("is_error").(bool)
	if !ok && f.missing == "" {
		f.missing = "is_error"
	}
	if err := f.err(); err != nil {
		return nil, err
	}
	m.IsError = isError
	if cost, ok := data["total_cost_usd"].(float64); ok {
		m.TotalCostUSD = &cost
	}
	m.Usage, _ = data["usage"].(map[string]any)
	m.StructuredOutput = data["structured_output"]
	return m, nil
}

func parseContentBlocks(raw []any) []ContentBlock {
	blocks := make([]ContentBlock, 0, len(raw))
	for _, item := range raw {
		block, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if cb := parseContentBlock(block); cb != nil {
			blocks = append(blocks, cb)
		}
	}
	return blocks
}

// parseContentBlock returns nil for block types it does not know.
func parseContentBlock(block map[string]any) ContentBlock {
	f := &fields{data: block}
	switch f.str("type") {
	case "text":
		return &TextBlock{Text: f.str("text")}
	case "thinking":
		return &ThinkingBlock{Thinking: f.str("thinking"), Signature: f.str("signature")}
	case "tool_use":
		input, _ := block["input"].(map[string]any)
		return &ToolUseBlock{ID: f.str("id"), Name: f.str("name"), Input: input}
	case "tool_result":
		b := &ToolResultBlock{ToolUseID: f.str("tool_use_id"), Content: block["content"]}
		if isErr, ok := block["is_error"].(bool); ok {
			b.IsError = &isErr
		}
		return b
	default:
		return nil
	}
}
