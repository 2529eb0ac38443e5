package claude

import (
	"encoding/json"
	"fmt"
)

// ControlSubtype names a control request on the wire.
type ControlSubtype string

const (
	ControlInitialize        ControlSubtype = "initialize"
	ControlInterrupt         ControlSubtype = "interrupt"
	ControlSetPermissionMode ControlSubtype = "set_permission_mode"
	ControlSetModel          ControlSubtype = "set_model"
	ControlRewindFiles       ControlSubtype = "rewind_files"
	ControlMcpStatus         ControlSubtype = "mcp_status"

	// Sent by the CLI.
	ControlCanUseTool   ControlSubtype = "can_use_tool"
	ControlHookCallback ControlSubtype = "hook_callback"
	ControlMcpMessage   ControlSubtype = "mcp_message"
)

const (
	typeControlRequest       = "control_request"
	typeControlResponse      = "control_response"
	typeControlCancelRequest = "control_cancel_request"

	responseSuccess = "success"
	responseError   = "error"
)

// controlRequestFrame is an outbound control request.
type controlRequestFrame struct {
	Type      string         `json:"type"`
	RequestID string         `json:"request_id"`
	Request   map[string]any `json:"request"`
}

// controlResponseFrame answers an inbound control request.
type controlResponseFrame struct {
	Type     string              `json:"type"`
	Response controlResponseBody `json:"response"`
}

type controlResponseBody struct {
	Subtype   string `json:"subtype"`
	RequestID string `json:"request_id"`
	Response  any    `json:"response,omitempty"`
	Error     string `json:"error,omitempty"`
}

func encodeControlRequest(requestID string, subtype ControlSubtype, payload map[string]any) (string, error) {
	request := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		request[k] = v
	}
	request["subtype"] = string(subtype)
	data, err := json.Marshal(controlRequestFrame{Type: typeControlRequest, RequestID: requestID, Request: request})
	if err != nil {
		return "", fmt.Errorf("encode %s request: %w", subtype, err)
	}
	return string(data), nil
}

func encodeControlResponse(requestID string, response any, cause error) (string, error) {
	body := controlResponseBody{Subtype: responseSuccess, RequestID: requestID, Response: response}
	if cause != nil {
		body = controlResponseBody{Subtype: responseError, RequestID: requestID, Error: cause.Error()}
	} else if response == nil {
		body.Response = map[string]any{}
	}
	data, err := json.Marshal(controlResponseFrame{Type: typeControlResponse, Response: body})
	if err != nil {
		return "", fmt.Errorf("encode response to %s: %w", requestID, err)
	}
	return string(data), nil
}

type frameKind int

const (
	framePlain frameKind = iota
	frameControlResponse
	frameControlRequest
	frameControlCancel
)

// inboundFrame is a decoded frame after classification. Only the fields for
// its kind are populated.
type inboundFrame struct {
	kind frameKind
	raw  map[string]any

	requestID string

	// frameControlResponse
	success    bool
	response   map[string]any
	errMsg     string
	payloadErr error

	// frameControlRequest
	subtype ControlSubtype
	request map[string]any
}

var plainTypes = map[string]bool{
	"assistant":        true,
	"user":             true,
	"system":           true,
	"result":           true,
	"stream_event":     true,
	"rate_limit_event": true,
}

// classifyFrame maps a decoded frame onto the closed set of inbound kinds.
// Unknown types and malformed control envelopes are *ProtocolError.
func classifyFrame(raw map[string]any) (inboundFrame, error) {
	typ, _ := raw["type"].(string)
	switch {
	case typ == "":
		return inboundFrame{}, newProtocolError("frame has no type", raw)
	case plainTypes[typ]:
		return inboundFrame{kind: framePlain, raw: raw}, nil
	case typ == typeControlResponse:
		return classifyControlResponse(raw)
	case typ == typeControlRequest:
		return classifyControlRequest(raw)
	case typ == typeControlCancelRequest:
		id, _ := raw["request_id"].(string)
		if id == "" {
			return inboundFrame{}, newProtocolError("control_cancel_request has no request_id", raw)
		}
		return inboundFrame{kind: frameControlCancel, raw: raw, requestID: id}, nil
	default:
		return inboundFrame{}, newProtocolError(fmt.Sprintf("unknown message type %q", typ), raw)
	}
}

func classifyControlResponse(raw map[string]any) (inboundFrame, error) {
	body, ok := raw["response"].(map[string]any)
	if !ok {
		return inboundFrame{}, newProtocolError("control_response has no response body", raw)
	}
	id, _ := body["request_id"].(string)
	if id == "" {
		return inboundFrame{}, newProtocolError("control_response has no request_id", raw)
	}
	fr := inboundFrame{kind: frameControlResponse, raw: raw, requestID: id}
	switch subtype, _ := body["subtype"].(string); subtype {
	case responseSuccess:
		fr.success = true
		switch payload := body["response"].(type) {
		case nil:
			fr.response = map[string]any{}
		case map[string]any:
			fr.response = payload
		default:
			// Reported to the waiter as a *ProtocolError.
			fr.payloadErr = newProtocolError(fmt.Sprintf("control_response payload is %T, not an object", payload), raw)
		}
	case responseError:
		fr.errMsg, _ = body["error"].(string)
		if fr.errMsg == "" {
			fr.errMsg = "unknown error"
		}
	default:
		return inboundFrame{}, newProtocolError(fmt.Sprintf("control_response has invalid subtype %q", subtype), raw)
	}
	return fr, nil
}

// classifyControlRequest only insists on a request_id. A request with a
// missing or unsupported subtype is still classified so that it can be
// answered with an error instead of leaving the CLI waiting.
func classifyControlRequest(raw map[string]any) (inboundFrame, error) {
	id, _ := raw["request_id"].(string)
	if id == "" {
		return inboundFrame{}, newProtocolError("control_request has no request_id", raw)
	}
	request, _ := raw["request"].(map[string]any)
	if request == nil {
		request = map[string]any{}
	}
	subtype, _ := request["subtype"].(string)
	return inboundFrame{
		kind:      frameControlRequest,
		raw:       raw,
		requestID: id,
		subtype:   ControlSubtype(subtype),
		request:   request,
	}, nil
}
