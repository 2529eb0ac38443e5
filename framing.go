package claude

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	defaultMaxBufferSize = 10 * 1024 * 1024
	readChunkSize        = 64 * 1024
	maxLineInError       = 512
)

// FrameStats is a point-in-time snapshot of a transport's inbound traffic.
type FrameStats struct {
	Frames       int64
	Bytes        int64
	PeakFrame    int64
	DecodeErrors int64
}

// AverageFrame returns the mean decoded frame size in bytes.
func (s FrameStats) AverageFrame() float64 {
	if s.Frames == 0 {
		return 0
	}
	return float64(s.Bytes) / float64(s.Frames)
}

type frameCounters struct {
	frames       atomic.Int64
	bytes        atomic.Int64
	peak         atomic.Int64
	decodeErrors atomic.Int64
}

func (c *frameCounters) observe(n int) {
	c.frames.Add(1)
	c.bytes.Add(int64(n))
	for {
		cur := c.peak.Load()
		if int64(n) <= cur || c.peak.CompareAndSwap(cur, int64(n)) {
			return
		}
	}
}

func (c *frameCounters) snapshot() FrameStats {
	return FrameStats{
		Frames:       c.frames.Load(),
		Bytes:        c.bytes.Load(),
		PeakFrame:    c.peak.Load(),
		DecodeErrors: c.decodeErrors.Load(),
	}
}

// lineReader splits an NDJSON byte stream into decoded objects. A line is
// accumulated chunk by chunk so memory stays bounded by maxLine.
type lineReader struct {
	rd      *bufio.Reader
	maxLine int
	buf     []byte
	stats   *frameCounters
	done    bool
}

func newLineReader(r io.Reader, maxLine int, stats *frameCounters) *lineReader {
	if maxLine <= 0 {
		maxLine = defaultMaxBufferSize
	}
	if stats == nil {
		stats = &frameCounters{}
	}
	return &lineReader{
		rd:      bufio.NewReaderSize(r, readChunkSize),
		maxLine: maxLine,
		stats:   stats,
	}
}

// readLine returns the next line without its terminator. It returns io.EOF
// once the stream is exhausted and a *BufferOverflowError when a line exceeds
// the cap; the overflowing bytes are discarded, not retained.
func (l *lineReader) readLine() ([]byte, error) {
	l.buf = l.buf[:0]
	for {
		chunk, err := l.rd.ReadSlice('\n')
		content := len(l.buf) + len(chunk)
		if err == nil {
			content--
		}
		if content > l.maxLine {
			return nil, newBufferOverflowError(l.maxLine)
		}
		l.buf = append(l.buf, chunk...)
		switch {
		case err == nil:
			return bytes.TrimRight(l.buf, "\r\n"), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(l.buf) > 0:
			return l.buf, nil
		default:
			return nil, err
		}
	}
}

// next decodes the following non-blank line. Terminal reports whether the
// returned error ends the stream.
func (l *lineReader) next() (msg map[string]any, terminal bool, err error) {
	for {
		line, err := l.readLine()
		if err != nil {
			return nil, true, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, &msg); err != nil || msg == nil {
			l.stats.decodeErrors.Add(1)
			if err == nil {
				err = errors.New("frame is not a JSON object")
			}
			return nil, false, &CLIJSONDecodeError{
				SDKError: SDKError{Message: "failed to decode frame from CLI", Cause: err},
				Line:     truncateLine(line),
			}
		}
		l.stats.observe(len(line))
		return msg, false, nil
	}
}

// messages adapts next into a sequence that ends after the first terminal
// error. A clean end of stream yields nothing further.
func (l *lineReader) messages() iter.Seq2[map[string]any, error] {
	return func(yield func(map[string]any, error) bool) {
		for !l.done {
			msg, terminal, err := l.next()
			if terminal {
				l.done = true
				if errors.Is(err, io.EOF) {
					return
				}
			}
			if !yield(msg, err) {
				return
			}
		}
	}
}

func truncateLine(line []byte) string {
	if len(line) <= maxLineInError {
		return string(line)
	}
	return string(line[:maxLineInError]) + "..."
}

// frameWriter serializes whole-line writes to the CLI's stdin. Writes after
// close report a *WriteError; the transport itself may still be connected.
type frameWriter struct {
	mu     sync.Mutex
	w      io.WriteCloser
	closed bool
}

func newFrameWriter(w io.WriteCloser) *frameWriter {
	return &frameWriter{w: w}
}

func (f *frameWriter) writeLine(line string) error {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.w == nil {
		return &WriteError{SDKError: SDKError{Message: "input pipe is closed", Cause: io.ErrClosedPipe}}
	}
	if _, err := io.WriteString(f.w, line); err != nil {
		return &WriteError{SDKError: SDKError{Message: "failed to write to CLI stdin", Cause: err}}
	}
	return nil
}

// close closes the input side once. Later calls are no-ops.
func (f *frameWriter) close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.w == nil {
		f.closed = true
		return nil
	}
	f.closed = true
	return f.w.Close()
}
