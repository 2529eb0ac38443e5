package claude

import (
	"context"
	"errors"
	"io"
)

// ReplaySummary counts what a transcript contained.
type ReplaySummary struct {
	Stats            FrameStats
	Messages         int
	ControlRequests  int
	ControlResponses int
	Cancels          int
	Errors           int
}

type discardCloser struct{ io.Writer }

func (discardCloser) Close() error { return nil }

// Replay feeds a captured NDJSON transcript of CLI output through the same
// framing and classification a live session uses. fn receives each plain
// message, or the error for a frame that failed to decode, classify or
// parse. The returned error is the one that ended the transcript early, such
// as a buffer overflow.
func Replay(ctx context.Context, r io.Reader, fn func(Message, error), opts ...Option) (ReplaySummary, error) {
	var sum ReplaySummary
	t := NewPipeTransport(r, discardCloser{io.Discard}, opts...)
	if err := t.Connect(ctx); err != nil {
		return sum, err
	}
	defer t.Close()

	report := func(msg Message, err error) {
		if err != nil {
			sum.Errors++
		} else {
			sum.Messages++
		}
		fn(msg, err)
	}

	var terminal error
	for raw, err := range t.ReadMessages(ctx) {
		if err != nil {
			var decodeErr *CLIJSONDecodeError
			if !errors.As(err, &decodeErr) {
				terminal = err
				break
			}
			report(nil, err)
			continue
		}
		fr, err := classifyFrame(raw)
		if err != nil {
			report(nil, err)
			continue
		}
		switch fr.kind {
		case frameControlRequest:
			sum.ControlRequests++
		case frameControlResponse:
			sum.ControlResponses++
		case frameControlCancel:
			sum.Cancels++
			report(parseMessage(raw))
		case framePlain:
			msg, err := parseMessage(raw)
			if err != nil {
				msg = nil
			}
			report(msg, err)
		}
	}
	sum.Stats = t.Stats()
	if terminal == nil {
		terminal = ctx.Err()
	}
	return sum, terminal
}
