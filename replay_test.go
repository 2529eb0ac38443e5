package claude

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const transcript = `{"type":"system","subtype":"init","cwd":"/repo"}
{"type":"control_response","response":{"subtype":"success","request_id":"req_1_ab","response":{}}}
{"type":"assistant","message":{"model":"m","content":[{"type":"text","text":"hi"}]}}
not json at all
{"type":"control_request","request_id":"cli_1","request":{"subtype":"can_use_tool","tool_name":"Bash"}}
{"type":"control_cancel_request","request_id":"cli_1"}
{"type":"heartbeat"}
{"type":"result","subtype":"success","duration_ms":5,"duration_api_ms":4,"is_error":false,"num_turns":1,"session_id":"s"}
`

func TestReplayCountsEveryFrameKind(t *testing.T) {
	var (
		kinds []string
		errs  []error
	)
	sum, err := Replay(context.Background(), strings.NewReader(transcript), func(msg Message, err error) {
		if err != nil {
			errs = append(errs, err)
			return
		}
		switch msg.(type) {
		case *SystemMessage:
			kinds = append(kinds, "system")
		case *AssistantMessage:
			kinds = append(kinds, "assistant")
		case *ControlCancelRequest:
			kinds = append(kinds, "cancel")
		case *ResultMessage:
			kinds = append(kinds, "result")
		}
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"system", "assistant", "cancel", "result"}, kinds)
	require.Len(t, errs, 2)
	assert.Equal(t, "EPARSE001", CodeOf(errs[0]))
	assert.Equal(t, "EPROTO001", CodeOf(errs[1]))

	assert.Equal(t, 4, sum.Messages)
	assert.Equal(t, 2, sum.Errors)
	assert.Equal(t, 1, sum.ControlRequests)
	assert.Equal(t, 1, sum.ControlResponses)
	assert.Equal(t, 1, sum.Cancels)
	assert.Equal(t, int64(7), sum.Stats.Frames)
	assert.Equal(t, int64(1), sum.Stats.DecodeErrors)
}

func TestReplayStopsOnOverflow(t *testing.T) {
	input := `{"type":"system","subtype":"init"}` + "\n" + `{"pad":"` + strings.Repeat("x", 200) + `"}` + "\n" + `{"type":"system","subtype":"never"}` + "\n"
	var seen int
	sum, err := Replay(context.Background(), strings.NewReader(input), func(Message, error) { seen++ }, WithMaxBufferSize(64))

	var overflow *BufferOverflowError
	require.ErrorAs(t, err, &overflow)
	assert.Equal(t, 1, seen)
	assert.Equal(t, 1, sum.Messages)
}

func TestReplayHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Replay(ctx, strings.NewReader(transcript), func(Message, error) {})
	assert.ErrorIs(t, err, context.Canceled)
}
