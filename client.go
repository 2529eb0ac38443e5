package claude

import (
	"context"
	"encoding/json"
	"iter"
	"maps"
	"sync"

	"go.uber.org/zap"
)

const defaultSessionID = "default"

// Client is a bidirectional session with the Claude CLI. Messages can be sent
// at any time while the control facade (Interrupt, SetModel and so on) runs
// concurrently with the message stream.
type Client struct {
	options *AgentOptions

	mu         sync.Mutex
	transport  Transport
	proto      *protocol
	connecting bool
	closed     bool
}

// NewClient creates a Client. Nothing is started until Connect.
func NewClient(opts ...Option) *Client {
	return &Client{options: applyOptions(opts)}
}

// Connect starts the CLI (or the injected Transport), launches the reader and
// performs the initialize handshake. Calling Connect on a connected client
// is a no-op. Close may be called while the handshake is in flight; Connect
// then returns a TransportClosedError.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return newTransportClosedError(nil)
	}
	if c.proto != nil {
		connecting := c.connecting
		c.mu.Unlock()
		if connecting {
			return newPreconditionError("connect is already in progress")
		}
		return nil
	}

	configured := *c.options
	if configured.CanUseTool != nil {
		if configured.PermissionPromptToolName != "" {
			c.mu.Unlock()
			return newPreconditionError("a CanUseTool callback cannot be combined with a permission prompt tool name")
		}
		configured.PermissionPromptToolName = "stdio"
	}

	t := configured.Transport
	if t == nil {
		t = newSubprocessTransport(&configured)
	}
	if err := t.Connect(ctx); err != nil {
		c.mu.Unlock()
		return err
	}

	p := newProtocol(t, &configured)
	p.start()
	c.transport, c.proto, c.connecting = t, p, true
	c.mu.Unlock()

	// c.mu is not held here so that Close can end a stalled handshake.
	_, err := p.initialize(ctx)
	if err != nil {
		_ = p.close()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.connecting = false
	if err != nil && !c.closed {
		c.transport, c.proto = nil, nil
	}
	return err
}

func (c *Client) session() (*protocol, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, newTransportClosedError(nil)
	}
	if c.proto == nil || c.connecting {
		return nil, &CLIConnectionError{SDKError: SDKError{Message: "not connected, call Connect first"}}
	}
	return c.proto, nil
}

// Query sends a user prompt in the default session.
func (c *Client) Query(ctx context.Context, prompt string) error {
	return c.QueryWithSession(ctx, prompt, defaultSessionID)
}

// QueryWithSession sends a user prompt tagged with sessionID.
func (c *Client) QueryWithSession(ctx context.Context, prompt string, sessionID string) error {
	if sessionID == "" {
		sessionID = defaultSessionID
	}
	return c.writeUserMessage(ctx, map[string]any{
		"type":               "user",
		"message":            map[string]any{"role": "user", "content": prompt},
		"parent_tool_use_id": nil,
		"session_id":         sessionID,
	})
}

// QueryStream writes every message received from messages until the channel
// closes or ctx is done. Messages without a session_id get
// defaultSession. Input is left open; call EndInput when done.
func (c *Client) QueryStream(ctx context.Context, messages <-chan map[string]any, defaultSession string) error {
	if defaultSession == "" {
		defaultSession = defaultSessionID
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if msg == nil {
				continue
			}
			if _, exists := msg["session_id"]; !exists {
				msg = maps.Clone(msg)
				msg["session_id"] = defaultSession
			}
			if err := c.writeUserMessage(ctx, msg); err != nil {
				return err
			}
		}
	}
}

func (c *Client) writeUserMessage(ctx context.Context, msg map[string]any) error {
	p, err := c.session()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return &SDKError{Message: "failed to encode user message", Cause: err}
	}
	return p.transport.Write(string(data))
}

// Stream yields messages in arrival order. Decode and protocol errors are
// yielded in-band and iteration continues; an error that ended the session
// is yielded last. Stream consumes the shared queue, so only one consumer
// should iterate at a time.
func (c *Client) Stream(ctx context.Context) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		p, err := c.session()
		if err != nil {
			yield(nil, err)
			return
		}
		for {
			it, ok := p.queue.pop(ctx)
			if !ok {
				return
			}
			if it.err != nil {
				if !yield(nil, it.err) || it.terminal {
					return
				}
				continue
			}
			msg, err := parseMessage(it.msg)
			if err != nil {
				msg = nil
			}
			if !yield(msg, err) {
				return
			}
		}
	}
}

// ReceiveMessages is the channel form of Stream. Errors are logged and
// dropped; the channel closes when the stream ends or ctx is done.
func (c *Client) ReceiveMessages(ctx context.Context) <-chan Message {
	out := make(chan Message)
	logger := c.options.Logger
	go func() {
		defer close(out)
		for msg, err := range c.Stream(ctx) {
			if err != nil {
				logger.Warn("dropping stream error", zap.Error(err))
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// ReceiveResponse yields messages up to and including the next
// *ResultMessage.
func (c *Client) ReceiveResponse(ctx context.Context) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		for msg, err := range c.Stream(ctx) {
			if !yield(msg, err) {
				return
			}
			if _, ok := msg.(*ResultMessage); ok {
				return
			}
		}
	}
}

// Interrupt stops the current turn. It is safe to call with no turn running.
func (c *Client) Interrupt(ctx context.Context) error {
	p, err := c.session()
	if err != nil {
		return err
	}
	_, err = p.interrupt(ctx)
	return err
}

func (c *Client) SetPermissionMode(ctx context.Context, mode PermissionMode) error {
	p, err := c.session()
	if err != nil {
		return err
	}
	return p.setPermissionMode(ctx, mode)
}

// SetModel switches the model mid-session. An empty model restores the
// CLI's default.
func (c *Client) SetModel(ctx context.Context, model string) error {
	p, err := c.session()
	if err != nil {
		return err
	}
	return p.setModel(ctx, model)
}

// RewindFiles restores checkpointed files to their state at userMessageID.
// The client must have been created WithEnableFileCheckpointing.
func (c *Client) RewindFiles(ctx context.Context, userMessageID string) error {
	p, err := c.session()
	if err != nil {
		return err
	}
	return p.rewindFiles(ctx, userMessageID)
}

// GetMCPStatus reports the connection status of the CLI's MCP servers.
func (c *Client) GetMCPStatus(ctx context.Context) (map[string]any, error) {
	p, err := c.session()
	if err != nil {
		return nil, err
	}
	return p.mcpStatus(ctx)
}

// SendControlRequest sends an arbitrary control request and returns the
// response payload.
func (c *Client) SendControlRequest(ctx context.Context, subtype ControlSubtype, payload map[string]any) (map[string]any, error) {
	p, err := c.session()
	if err != nil {
		return nil, err
	}
	return p.sendControlRequest(ctx, subtype, payload, c.options.ControlTimeout)
}

// ServerInfo returns the initialize response, or nil before Connect.
func (c *Client) ServerInfo() map[string]any {
	p, err := c.session()
	if err != nil {
		return nil
	}
	return p.serverInfo()
}

func (c *Client) Stats() FrameStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil {
		return FrameStats{}
	}
	return c.transport.Stats()
}

// EndInput closes the CLI's stdin. Output keeps flowing until the CLI exits.
func (c *Client) EndInput() error {
	p, err := c.session()
	if err != nil {
		return err
	}
	return p.transport.EndInput()
}

// holdsInput reports whether input must stay open until the first result,
// because the CLI may still call hooks or SDK MCP servers.
func (c *Client) holdsInput() bool {
	if len(c.options.Hooks) > 0 {
		return true
	}
	for _, config := range c.options.McpServers {
		if _, ok := config.(*McpSdkServerConfig); ok {
			return true
		}
	}
	return false
}

// endInputAfterFirstResult closes input right away, or after the first
// result when holdsInput.
func (c *Client) endInputAfterFirstResult(ctx context.Context) {
	p, err := c.session()
	if err != nil {
		return
	}
	if c.holdsInput() {
		p.waitFirstResult(ctx)
	}
	if err := p.transport.EndInput(); err != nil {
		p.logger.Debug("failed to end input", zap.Error(err))
	}
}

// Close ends the session: pending control calls fail, the CLI is stopped and
// Stream ends. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	p := c.proto
	c.mu.Unlock()

	if p == nil {
		return nil
	}
	return p.close()
}
