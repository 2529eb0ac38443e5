package claude

import (
	"context"
	"io"
	"iter"
	"sync"
	"sync/atomic"
)

// TransportState is the lifecycle position of a Transport. Transitions are
// one way: Unconnected, Connected, Closed.
type TransportState int32

const (
	StateUnconnected TransportState = iota
	StateConnected
	StateClosed
)

func (s TransportState) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport moves NDJSON frames between the session and a CLI process.
// ReadMessages must only be consumed by one goroutine at a time.
type Transport interface {
	Connect(ctx context.Context) error
	Write(line string) error
	ReadMessages(ctx context.Context) iter.Seq2[map[string]any, error]
	EndInput() error
	Close() error
	// IsReady reports whether the initialize handshake has completed and
	// the transport still accepts writes. It lags State by the handshake.
	IsReady() bool
	State() TransportState
	// LastError reports why the stream ended, or nil for a clean exit.
	LastError() error
	Stats() FrameStats
}

// readyMarker is implemented by transports that track handshake readiness
// separately from their connection state.
type readyMarker interface {
	markReady()
}

// pipeTransport speaks the protocol over caller-supplied streams, for hosts
// that start the CLI themselves or relay it from elsewhere.
type pipeTransport struct {
	r       io.Reader
	state   atomic.Int32
	ready   atomic.Bool
	reader  *lineReader
	writer  *frameWriter
	stats   frameCounters
	closeMu sync.Mutex
}

// NewPipeTransport returns a Transport that reads frames from r and writes
// frames to w. Close closes w, and r too when it is an io.Closer.
func NewPipeTransport(r io.Reader, w io.WriteCloser, opts ...Option) Transport {
	options := applyOptions(opts)
	t := &pipeTransport{r: r, writer: newFrameWriter(w)}
	t.reader = newLineReader(r, options.MaxBufferSize, &t.stats)
	return t
}

func (t *pipeTransport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !t.state.CompareAndSwap(int32(StateUnconnected), int32(StateConnected)) && t.State() == StateClosed {
		return newTransportClosedError(nil)
	}
	return nil
}

func (t *pipeTransport) markReady() {
	if t.State() == StateConnected {
		t.ready.Store(true)
	}
}

func (t *pipeTransport) Write(line string) error {
	switch t.State() {
	case StateUnconnected:
		return &WriteError{SDKError: SDKError{Message: "transport is not connected"}}
	case StateClosed:
		return newTransportClosedError(nil)
	}
	return t.writer.writeLine(line)
}

func (t *pipeTransport) ReadMessages(ctx context.Context) iter.Seq2[map[string]any, error] {
	return readUntilDone(ctx, t.reader)
}

func (t *pipeTransport) EndInput() error {
	return t.writer.close()
}

func (t *pipeTransport) Close() error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	if TransportState(t.state.Swap(int32(StateClosed))) == StateClosed {
		return nil
	}
	t.ready.Store(false)
	err := t.writer.close()
	if c, ok := t.r.(io.Closer); ok {
		_ = c.Close()
	}
	return err
}

func (t *pipeTransport) IsReady() bool         { return t.ready.Load() && t.State() == StateConnected }
func (t *pipeTransport) State() TransportState { return TransportState(t.state.Load()) }
func (t *pipeTransport) LastError() error      { return nil }
func (t *pipeTransport) Stats() FrameStats     { return t.stats.snapshot() }

// readUntilDone wraps a lineReader's sequence so iteration also stops when
// ctx is done. Cancellation is checked between frames; a blocked read is
// released by closing the transport.
func readUntilDone(ctx context.Context, r *lineReader) iter.Seq2[map[string]any, error] {
	return func(yield func(map[string]any, error) bool) {
		for msg, err := range r.messages() {
			if ctx.Err() != nil {
				return
			}
			if !yield(msg, err) {
				return
			}
		}
	}
}
