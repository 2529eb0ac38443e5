package claude

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"go.uber.org/zap"
)

// sendControlRequest writes a control request and waits for its response.
// The pending entry is removed on every path, so a timed-out or cancelled
// call leaves nothing behind; a response arriving later is dropped by the
// pump. A timeout of zero or less waits until ctx is done or the transport
// closes.
func (p *protocol) sendControlRequest(ctx context.Context, subtype ControlSubtype, payload map[string]any, timeout time.Duration) (map[string]any, error) {
	if p.closing.Load() {
		return nil, newTransportClosedError(nil)
	}
	id := p.nextRequestID()
	line, err := encodeControlRequest(id, subtype, payload)
	if err != nil {
		return nil, err
	}
	req, err := p.pending.insert(id, subtype)
	if err != nil {
		return nil, err
	}
	if err := p.transport.Write(line); err != nil {
		p.pending.remove(id)
		return nil, err
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-req.done:
		if req.err != nil {
			var ce *ControlError
			if errors.As(req.err, &ce) {
				ce.Subtype = string(subtype)
			}
			return nil, req.err
		}
		return req.response, nil
	case <-expired:
		p.pending.remove(id)
		p.logger.Debug("control request timed out", zap.String("request_id", id), zap.String("subtype", string(subtype)))
		return nil, &ControlTimeoutError{
			SDKError:  SDKError{Message: "control request timed out: " + string(subtype)},
			RequestID: id,
			Subtype:   string(subtype),
			Timeout:   timeout,
		}
	case <-ctx.Done():
		p.pending.remove(id)
		return nil, ctx.Err()
	}
}

// initialize registers the configured hooks and performs the handshake. It
// may succeed only once per session.
func (p *protocol) initialize(ctx context.Context) (map[string]any, error) {
	p.initMu.Lock()
	defer p.initMu.Unlock()
	if p.initialized {
		return nil, newPreconditionError("session is already initialized")
	}
	p.initialized = true

	payload := map[string]any{"hooks": p.registerHooks()}
	if len(p.options.Agents) > 0 {
		payload["agents"] = p.options.Agents
	}
	resp, err := p.sendControlRequest(ctx, ControlInitialize, payload, p.options.InitializeTimeout)
	if err != nil {
		return nil, err
	}
	p.initResult = resp
	if r, ok := p.transport.(readyMarker); ok {
		r.markReady()
	}
	return resp, nil
}

// registerHooks assigns callback ids in sorted event order and returns the
// wire form of the hook configuration.
func (p *protocol) registerHooks() map[string]any {
	config := make(map[string]any, len(p.options.Hooks))
	for _, event := range slices.Sorted(maps.Keys(p.options.Hooks)) {
		matchers := p.options.Hooks[event]
		if len(matchers) == 0 {
			continue
		}
		wire := make([]map[string]any, 0, len(matchers))
		for _, m := range matchers {
			ids := make([]string, 0, len(m.Hooks))
			for _, fn := range m.Hooks {
				ids = append(ids, p.callbacks.registerHook(event, m, fn))
			}
			entry := map[string]any{"matcher": m.Matcher, "hookCallbackIds": ids}
			if m.Timeout > 0 {
				entry["timeout"] = m.Timeout.Seconds()
			}
			wire = append(wire, entry)
		}
		config[string(event)] = wire
	}
	return config
}

func (p *protocol) serverInfo() map[string]any {
	p.initMu.Lock()
	defer p.initMu.Unlock()
	return p.initResult
}

func (p *protocol) interrupt(ctx context.Context) (map[string]any, error) {
	return p.sendControlRequest(ctx, ControlInterrupt, nil, p.options.ControlTimeout)
}

func (p *protocol) setPermissionMode(ctx context.Context, mode PermissionMode) error {
	_, err := p.sendControlRequest(ctx, ControlSetPermissionMode, map[string]any{"mode": string(mode)}, p.options.ControlTimeout)
	return err
}

// setModel switches the model. An empty name restores the CLI default.
func (p *protocol) setModel(ctx context.Context, model string) error {
	var value any
	if model != "" {
		value = model
	}
	_, err := p.sendControlRequest(ctx, ControlSetModel, map[string]any{"model": value}, p.options.ControlTimeout)
	return err
}

func (p *protocol) rewindFiles(ctx context.Context, userMessageID string) error {
	if !p.options.EnableFileCheckpointing {
		return newPreconditionError("rewinding files requires file checkpointing to be enabled")
	}
	if userMessageID == "" {
		return newPreconditionError("rewinding files requires a user message id")
	}
	_, err := p.sendControlRequest(ctx, ControlRewindFiles, map[string]any{"user_message_id": userMessageID}, p.options.ControlTimeout)
	return err
}

func (p *protocol) mcpStatus(ctx context.Context) (map[string]any, error) {
	return p.sendControlRequest(ctx, ControlMcpStatus, nil, p.options.ControlTimeout)
}
