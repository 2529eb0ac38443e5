package claude

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// protocol runs the control protocol over a Transport. A single pump
// goroutine reads every inbound frame: plain messages go to the queue,
// control responses resolve pending requests and control requests are handed
// to callbacks.
type protocol struct {
	transport Transport
	options   *AgentOptions
	logger    *zap.Logger

	pending     *pendingTable
	callbacks   *callbackRegistry
	queue       *messageQueue
	callbackSem *semaphore.Weighted

	idPrefix string
	counter  atomic.Int64

	// ctx outlives the caller of start and is cancelled by close.
	ctx    context.Context
	cancel context.CancelFunc

	started     atomic.Bool
	closing     atomic.Bool
	pumpDone    chan struct{}
	callbacksWG sync.WaitGroup

	inflightMu sync.Mutex
	inflight   map[string]context.CancelFunc

	initMu      sync.Mutex
	initialized bool
	initResult  map[string]any

	firstResultOnce sync.Once
	firstResult     chan struct{}
}

func newProtocol(t Transport, options *AgentOptions) *protocol {
	prefix := uuid.NewString()[:8]
	ctx, cancel := context.WithCancel(context.Background())
	p := &protocol{
		transport:   t,
		options:     options,
		logger:      options.Logger.Named("claude").With(zap.String("session", prefix)),
		pending:     newPendingTable(),
		callbacks:   newCallbackRegistry(),
		queue:       newMessageQueue(),
		callbackSem: semaphore.NewWeighted(options.MaxConcurrentCallbacks),
		idPrefix:    prefix,
		ctx:         ctx,
		cancel:      cancel,
		pumpDone:    make(chan struct{}),
		inflight:    make(map[string]context.CancelFunc),
		firstResult: make(chan struct{}),
	}
	if options.CanUseTool != nil {
		p.callbacks.registerPermission(options.CanUseTool)
	}
	for name, config := range options.McpServers {
		if sdk, ok := config.(*McpSdkServerConfig); ok && sdk.Instance != nil {
			p.callbacks.registerMCPServer(name, sdk.Instance)
		}
	}
	return p
}

func (p *protocol) nextRequestID() string {
	return fmt.Sprintf("req_%d_%s", p.counter.Add(1), p.idPrefix)
}

// start launches the pump. Calls after the first are no-ops.
func (p *protocol) start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	go p.run()
}

func (p *protocol) run() {
	defer close(p.pumpDone)

	var cause error
	bad := 0
	limit := p.options.MaxConsecutiveDecodeErrors
	for raw, err := range p.transport.ReadMessages(p.ctx) {
		if err == nil && p.handleFrame(raw) {
			bad = 0
			continue
		}
		if err != nil {
			var decodeErr *CLIJSONDecodeError
			if !errors.As(err, &decodeErr) {
				cause = err
				break
			}
			p.logger.Warn("malformed frame from CLI", zap.String("line", decodeErr.Line), zap.Error(decodeErr.Cause))
			p.queue.push(streamItem{err: err})
		}
		bad++
		if limit > 0 && bad >= limit {
			p.logger.Warn("stopping after consecutive bad frames", zap.Int("count", bad))
			cause = newProtocolError(fmt.Sprintf("stopped after %d consecutive bad frames", bad), nil)
			break
		}
	}
	p.finish(cause)
}

// handleFrame routes one decoded frame. It reports false when the frame
// could not be classified.
func (p *protocol) handleFrame(raw map[string]any) bool {
	fr, err := classifyFrame(raw)
	if err != nil {
		p.logger.Warn("unclassifiable frame from CLI", zap.Error(err))
		p.queue.push(streamItem{err: err})
		return false
	}

	switch fr.kind {
	case framePlain:
		if raw["type"] == "result" {
			p.firstResultOnce.Do(func() { close(p.firstResult) })
		}
		p.queue.push(streamItem{msg: raw})

	case frameControlResponse:
		var respErr error
		switch {
		case !fr.success:
			respErr = &ControlError{SDKError: SDKError{Message: fr.errMsg}, RequestID: fr.requestID}
		case fr.payloadErr != nil:
			p.logger.Warn("control response payload is not an object", zap.String("request_id", fr.requestID))
			respErr = fr.payloadErr
		}
		if !p.pending.resolve(fr.requestID, fr.response, respErr) {
			p.logger.Warn("dropping control response with no pending request", zap.String("request_id", fr.requestID))
		}

	case frameControlRequest:
		p.dispatchCallback(fr)

	case frameControlCancel:
		if p.cancelInflight(fr.requestID) {
			p.logger.Debug("cancelled callback", zap.String("request_id", fr.requestID))
		}
		p.queue.push(streamItem{msg: raw})
	}
	return true
}

// finish runs once when the pump stops. Pending requests are failed before
// the queue is closed so that no waiter outlives the stream.
func (p *protocol) finish(cause error) {
	if p.closing.Load() {
		cause = nil
	} else if cause == nil {
		cause = p.transport.LastError()
	}
	if cause != nil {
		p.logger.Warn("message stream ended", zap.Error(cause))
		p.queue.push(streamItem{err: cause, terminal: true})
	}
	if n := p.pending.failAll(newTransportClosedError(cause)); n > 0 {
		p.logger.Debug("failed pending control requests", zap.Int("count", n))
	}
	p.queue.close()
}

// close shuts the session down. Pending requests fail with
// TransportClosedError and the pump is given CloseTimeout to drain.
func (p *protocol) close() error {
	if !p.closing.CompareAndSwap(false, true) {
		return nil
	}
	p.pending.failAll(newTransportClosedError(nil))
	p.cancel()
	err := p.transport.Close()

	if p.started.Load() {
		timer := time.NewTimer(p.options.CloseTimeout)
		defer timer.Stop()
		select {
		case <-p.pumpDone:
			callbacksDone := make(chan struct{})
			go func() {
				p.callbacksWG.Wait()
				close(callbacksDone)
			}()
			select {
			case <-callbacksDone:
			case <-timer.C:
				p.logger.Warn("callbacks still running after close timeout")
			}
		case <-timer.C:
			p.logger.Warn("pump did not stop within close timeout")
		}
	}
	p.queue.close()
	return err
}

// waitFirstResult blocks until the first result message arrives, the stream
// ends or ctx is done.
func (p *protocol) waitFirstResult(ctx context.Context) {
	select {
	case <-p.firstResult:
	case <-p.pumpDone:
	case <-ctx.Done():
	}
}
