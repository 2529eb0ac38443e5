package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"

	claude "github.com/agentpipe/claudewire"
)

var (
	toolColor  = color.New(color.FgCyan)
	faintColor = color.New(color.Faint)
	okColor    = color.New(color.FgGreen, color.Bold)
	errColor   = color.New(color.FgRed, color.Bold)
	warnColor  = color.New(color.FgYellow)
	infoColor  = color.New(color.FgBlue)
)

func renderMessage(msg claude.Message) {
	switch m := msg.(type) {
	case *claude.AssistantMessage:
		for _, block := range m.Content {
			renderBlock(block)
		}
		if m.Error != "" {
			errColor.Printf("assistant error: %s\n", m.Error)
		}
	case *claude.UserMessage:
		if blocks, ok := m.Content.([]claude.ContentBlock); ok {
			for _, block := range blocks {
				renderBlock(block)
			}
		}
	case *claude.SystemMessage:
		faintColor.Printf("[system %s]\n", m.Subtype)
	case *claude.ResultMessage:
		renderResult(m)
	case *claude.ControlCancelRequest:
		warnColor.Printf("[cancelled %s]\n", m.RequestID)
	case *claude.StreamEvent, *claude.RateLimitEvent:
	}
}

func renderBlock(block claude.ContentBlock) {
	switch b := block.(type) {
	case *claude.TextBlock:
		fmt.Println(b.Text)
	case *claude.ThinkingBlock:
		faintColor.Println(b.Thinking)
	case *claude.ToolUseBlock:
		input, _ := json.Marshal(b.Input)
		toolColor.Printf("-> %s %s\n", b.Name, input)
	case *claude.ToolResultBlock:
		if b.IsError != nil && *b.IsError {
			warnColor.Printf("<- %s failed\n", b.ToolUseID)
		} else {
			faintColor.Printf("<- %s\n", b.ToolUseID)
		}
	}
}

func renderResult(m *claude.ResultMessage) {
	c := okColor
	if m.IsError {
		c = errColor
	}
	line := fmt.Sprintf("%s in %s, %d turns", m.Subtype, time.Duration(m.DurationMS)*time.Millisecond, m.NumTurns)
	if m.TotalCostUSD != nil {
		line += fmt.Sprintf(", $%.4f", *m.TotalCostUSD)
	}
	c.Println(line)
}

func renderError(err error) {
	if code := claude.CodeOf(err); code != "" {
		warnColor.Fprintf(os.Stderr, "[%s] %v\n", code, err)
		return
	}
	warnColor.Fprintln(os.Stderr, err)
}

func renderSummary(sum claude.ReplaySummary) {
	infoColor.Printf("%d frames, %d bytes, peak %d, average %.0f\n",
		sum.Stats.Frames, sum.Stats.Bytes, sum.Stats.PeakFrame, sum.Stats.AverageFrame())
	infoColor.Printf("%d messages, %d control requests, %d control responses, %d cancels\n",
		sum.Messages, sum.ControlRequests, sum.ControlResponses, sum.Cancels)
	if sum.Errors > 0 || sum.Stats.DecodeErrors > 0 {
		warnColor.Printf("%d errors (%d undecodable lines)\n", sum.Errors, sum.Stats.DecodeErrors)
	}
}
