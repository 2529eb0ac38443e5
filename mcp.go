package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/xeipuuv/gojsonschema"
)

const mcpProtocolVersion = "2024-11-05"

// JSON-RPC error codes used by the in-process server.
const (
	jsonrpcParseError     = -32700
	jsonrpcMethodNotFound = -32601
	jsonrpcInvalidParams  = -32602
)

// McpServerConfig is one of *McpStdioServerConfig, *McpSSEServerConfig,
// *McpHTTPServerConfig or *McpSdkServerConfig.
type McpServerConfig interface {
	mcpServerType() string
}

type McpStdioServerConfig struct {
	Type    string            `json:"type,omitempty"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

func (c *McpStdioServerConfig) mcpServerType() string { return "stdio" }

type McpSSEServerConfig struct {
	Type    string            `json:"type"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (c *McpSSEServerConfig) mcpServerType() string { return "sse" }

type McpHTTPServerConfig struct {
	Type    string            `json:"type"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (c *McpHTTPServerConfig) mcpServerType() string { return "http" }

// McpSdkServerConfig is an MCP server that runs inside the host process. The
// CLI reaches it through mcp_message control requests.
type McpSdkServerConfig struct {
	Name     string
	Instance *McpServer
}

func (c *McpSdkServerConfig) mcpServerType() string { return "sdk" }

// MCPToolHandler runs a tool call. Returned errors are reported to the model
// as a tool error result, not as a protocol failure.
type MCPToolHandler func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error)

// SdkMcpTool is a tool served by an in-process MCP server.
type SdkMcpTool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Annotations *mcp.ToolAnnotations
	Handler     MCPToolHandler

	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
}

func NewMCPTool(name, description string, inputSchema map[string]any, handler MCPToolHandler) *SdkMcpTool {
	return &SdkMcpTool{
		Name:        name,
		Description: description,
		InputSchema: inputSchema,
		Handler:     handler,
	}
}

// TextResult wraps text in a successful tool result.
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func errorResult(format string, args ...any) *mcp.CallToolResult {
	res := TextResult(fmt.Sprintf(format, args...))
	res.IsError = true
	return res
}

func (t *SdkMcpTool) inputSchema() map[string]any {
	if t.InputSchema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return t.InputSchema
}

// validate checks args against the tool's input schema. The schema is
// compiled on first use.
func (t *SdkMcpTool) validate(args map[string]any) error {
	t.schemaOnce.Do(func() {
		t.schema, t.schemaErr = gojsonschema.NewSchema(gojsonschema.NewGoLoader(t.inputSchema()))
	})
	if t.schemaErr != nil {
		return fmt.Errorf("tool %s has an invalid input schema: %w", t.Name, t.schemaErr)
	}
	result, err := t.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return fmt.Errorf("invalid arguments for %s: %s", t.Name, strings.Join(problems, "; "))
}

// McpServer answers the subset of MCP the CLI uses against SDK servers:
// initialize, tools/list and tools/call.
type McpServer struct {
	Name    string
	Version string
	Tools   []*SdkMcpTool
	byName  map[string]*SdkMcpTool
}

// CreateSdkMcpServer creates an in-process MCP server configuration.
func CreateSdkMcpServer(name, version string, tools ...*SdkMcpTool) *McpSdkServerConfig {
	server := &McpServer{
		Name:    name,
		Version: version,
		Tools:   tools,
		byName:  make(map[string]*SdkMcpTool, len(tools)),
	}
	for _, t := range tools {
		server.byName[t.Name] = t
	}
	return &McpSdkServerConfig{Name: name, Instance: server}
}

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func rpcResult(id json.RawMessage, result any) *jsonrpcResponse {
	return &jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func rpcError(id json.RawMessage, code int, format string, args ...any) *jsonrpcResponse {
	return &jsonrpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &jsonrpcError{Code: code, Message: fmt.Sprintf(format, args...)},
	}
}

// handleRequest answers one JSON-RPC message relayed by the CLI.
func (s *McpServer) handleRequest(ctx context.Context, message map[string]any) *jsonrpcResponse {
	data, err := json.Marshal(message)
	if err != nil {
		return rpcError(nil, jsonrpcParseError, "cannot encode message: %v", err)
	}
	var req jsonrpcRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return rpcError(nil, jsonrpcParseError, "malformed JSON-RPC message: %v", err)
	}

	switch req.Method {
	case "initialize":
		return rpcResult(req.ID, &mcp.InitializeResult{
			ProtocolVersion: mcpProtocolVersion,
			Capabilities:    &mcp.ServerCapabilities{Tools: &mcp.ToolCapabilities{}},
			ServerInfo:      &mcp.Implementation{Name: s.Name, Version: s.Version},
		})
	case "notifications/initialized":
		return rpcResult(req.ID, map[string]any{})
	case "tools/list":
		return rpcResult(req.ID, s.listTools())
	case "tools/call":
		var params mcp.CallToolParamsRaw
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				return rpcError(req.ID, jsonrpcInvalidParams, "invalid tools/call params: %v", err)
			}
		}
		tool, ok := s.byName[params.Name]
		if !ok {
			return rpcError(req.ID, jsonrpcMethodNotFound, "tool %q not found", params.Name)
		}
		return rpcResult(req.ID, s.callTool(ctx, tool, params.Arguments))
	default:
		return rpcError(req.ID, jsonrpcMethodNotFound, "method %q not found", req.Method)
	}
}

func (s *McpServer) listTools() *mcp.ListToolsResult {
	tools := make([]*mcp.Tool, 0, len(s.Tools))
	for _, t := range s.Tools {
		tools = append(tools, &mcp.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.inputSchema(),
			Annotations: t.Annotations,
		})
	}
	return &mcp.ListToolsResult{Tools: tools}
}

func (s *McpServer) callTool(ctx context.Context, tool *SdkMcpTool, rawArgs json.RawMessage) *mcp.CallToolResult {
	args := map[string]any{}
	if len(rawArgs) > 0 && string(rawArgs) != "null" {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return errorResult("arguments must be a JSON object: %v", err)
		}
	}
	if err := tool.validate(args); err != nil {
		return errorResult("%v", err)
	}

	result, err := tool.Handler(ctx, args)
	if err != nil {
		return errorResult("%v", err)
	}
	if result == nil {
		result = &mcp.CallToolResult{}
	}
	if result.Content == nil {
		result.Content = []mcp.Content{}
	}
	return result
}
