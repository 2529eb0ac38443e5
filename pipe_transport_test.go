package claude

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeCLI wires a client-side pipe transport to serveFakeCLI running in a
// goroutine.
func pipeCLI(t *testing.T, opts ...Option) Transport {
	t.Helper()
	cliIn, clientOut := io.Pipe()
	clientIn, cliOut := io.Pipe()
	go func() {
		serveFakeCLI(cliIn, cliOut)
		_ = cliOut.Close()
	}()
	t.Cleanup(func() {
		_ = cliIn.Close()
		_ = cliOut.Close()
	})
	return NewPipeTransport(clientIn, clientOut, opts...)
}

func textOf(msg Message) string {
	am, ok := msg.(*AssistantMessage)
	if !ok {
		return ""
	}
	var parts []string
	for _, block := range am.Content {
		if tb, ok := block.(*TextBlock); ok {
			parts = append(parts, tb.Text)
		}
	}
	return strings.Join(parts, "")
}

func TestPipeTransportLifecycle(t *testing.T) {
	r, w := io.Pipe()
	tr := NewPipeTransport(r, w)

	assert.Equal(t, StateUnconnected, tr.State())
	var we *WriteError
	require.ErrorAs(t, tr.Write(`{}`), &we)

	require.NoError(t, tr.Connect(context.Background()))
	require.NoError(t, tr.Connect(context.Background()))
	assert.False(t, tr.IsReady(), "ready only after the handshake")
	tr.(readyMarker).markReady()
	assert.True(t, tr.IsReady())
	assert.Equal(t, "connected", tr.State().String())

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.False(t, tr.IsReady())
	assert.Equal(t, StateClosed, tr.State())
	assert.ErrorIs(t, tr.Write(`{}`), ErrTransportClosed)
	assert.ErrorIs(t, tr.Connect(context.Background()), ErrTransportClosed)
	assert.NoError(t, tr.LastError())
}

func TestPipeTransportConnectHonorsContext(t *testing.T) {
	r, w := io.Pipe()
	tr := NewPipeTransport(r, w)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tr.Connect(ctx), context.Canceled)
	assert.Equal(t, StateUnconnected, tr.State())
}

func TestPipeTransportReadsFrames(t *testing.T) {
	input := `{"type":"system","subtype":"init"}` + "\n" + "garbage\n" + `{"type":"result"}` + "\n"
	_, w := io.Pipe()
	tr := NewPipeTransport(strings.NewReader(input), w)
	require.NoError(t, tr.Connect(context.Background()))

	var types []any
	var errs int
	for msg, err := range tr.ReadMessages(context.Background()) {
		if err != nil {
			errs++
			continue
		}
		types = append(types, msg["type"])
	}
	assert.Equal(t, []any{"system", "result"}, types)
	assert.Equal(t, 1, errs)

	stats := tr.Stats()
	assert.Equal(t, int64(2), stats.Frames)
	assert.Equal(t, int64(1), stats.DecodeErrors)
}

func TestPipeTransportEndInputClosesWriter(t *testing.T) {
	r, w := io.Pipe()
	tr := NewPipeTransport(strings.NewReader(""), w)
	require.NoError(t, tr.Connect(context.Background()))

	got := make(chan string, 1)
	go func() {
		data, _ := io.ReadAll(r)
		got <- string(data)
	}()
	require.NoError(t, tr.Write(`{"type":"user"}`))
	require.NoError(t, tr.EndInput())
	assert.Equal(t, "{\"type\":\"user\"}\n", <-got)

	// Only the input side is gone: writes fail as a broken pipe while the
	// transport stays connected.
	err := tr.Write(`{}`)
	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.NotErrorIs(t, err, ErrTransportClosed)
	assert.Equal(t, StateConnected, tr.State())
}

func TestClientOverPipeTransport(t *testing.T) {
	ctx := context.Background()
	tr := pipeCLI(t)
	client := NewClient(WithTransport(tr))
	require.NoError(t, client.Connect(ctx))
	t.Cleanup(func() { _ = client.Close() })

	assert.True(t, tr.IsReady())
	assert.Equal(t, "default", client.ServerInfo()["output_style"])

	require.NoError(t, client.Query(ctx, "hello"))
	var (
		texts  []string
		result *ResultMessage
	)
	for msg, err := range client.ReceiveResponse(ctx) {
		require.NoError(t, err)
		if text := textOf(msg); text != "" {
			texts = append(texts, text)
		}
		if rm, ok := msg.(*ResultMessage); ok {
			result = rm
		}
	}
	assert.Equal(t, []string{"echo: hello"}, texts)
	require.NotNil(t, result)
	assert.Equal(t, "default", result.SessionID)

	require.NoError(t, client.SetModel(ctx, "claude-opus-4-1"))
	require.NoError(t, client.Interrupt(ctx))
	assert.GreaterOrEqual(t, client.Stats().Frames, int64(5))

	// Ending input lets the fake CLI exit; the stream then ends cleanly.
	require.NoError(t, client.EndInput())
	for msg, err := range client.Stream(ctx) {
		t.Fatalf("unexpected item after end of input: %v %v", msg, err)
	}
}
