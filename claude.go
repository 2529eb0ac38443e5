// Package claude drives the Claude CLI over its bidirectional NDJSON control
// protocol.
//
// A single reader goroutine per session demultiplexes the CLI's stdout into
// conversation messages, responses to the host's control requests and
// control requests the CLI sends back (hook callbacks, tool permission checks
// and in-process MCP calls). The host can therefore interrupt, switch model
// or answer a hook while a turn is still streaming.
//
// Quick start:
//
//	for msg, err := range claude.Query(ctx, "What is 2+2?") {
//	    if err != nil {
//	        log.Print(err)
//	        continue
//	    }
//	    if m, ok := msg.(*claude.AssistantMessage); ok {
//	        for _, block := range m.Content {
//	            if tb, ok := block.(*claude.TextBlock); ok {
//	                fmt.Println(tb.Text)
//	            }
//	        }
//	    }
//	}
package claude

import (
	"context"
	"iter"

	"go.uber.org/zap"
)

// Version is the module version reported to the CLI.
const Version = "0.1.0"

// Query runs a one-shot prompt and yields the resulting messages. The
// session lives as long as the iteration: breaking out of the loop closes it.
func Query(ctx context.Context, prompt string, opts ...Option) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		client := NewClient(opts...)
		if client.options.CanUseTool != nil {
			yield(nil, newPreconditionError("a CanUseTool callback requires streaming input, use QueryStream"))
			return
		}
		defer client.Close()

		if err := client.Connect(ctx); err != nil {
			yield(nil, err)
			return
		}
		if err := client.QueryWithSession(ctx, prompt, ""); err != nil {
			yield(nil, err)
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go client.endInputAfterFirstResult(ctx)

		for msg, err := range client.Stream(ctx) {
			if !yield(msg, err) {
				return
			}
		}
	}
}

// QueryStream is Query with input read from a channel of user messages.
// Input is closed once the channel is drained, or after the first result
// when hooks or SDK MCP servers may still be called.
func QueryStream(ctx context.Context, input <-chan map[string]any, opts ...Option) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		client := NewClient(opts...)
		defer client.Close()

		if err := client.Connect(ctx); err != nil {
			yield(nil, err)
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := client.QueryStream(ctx, input, ""); err != nil {
				client.options.Logger.Debug("input stream stopped", zap.Error(err))
				return
			}
			client.endInputAfterFirstResult(ctx)
		}()

		for msg, err := range client.Stream(ctx) {
			if !yield(msg, err) {
				return
			}
		}
	}
}
