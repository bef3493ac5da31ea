package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Action names the operation a request asks for.
type Action string

const (
	ActionConnectTab Action = "connectTab" // ActionConnectTab starts the session if needed and selects a tab.
	ActionCommand    Action = "command"    // ActionCommand controls the session lifecycle.
	ActionAI         Action = "ai"         // ActionAI runs a natural-language instruction.
	ActionAIScript   Action = "aiScript"   // ActionAIScript runs a structured automation script.
	ActionSiteScript Action = "siteScript" // ActionSiteScript evaluates a predefined per-site script.
	ActionAIPlan     Action = "aiPlan"     // ActionAIPlan plans and runs a multi-step task.
	ActionListTabs   Action = "listTabs"   // ActionListTabs lists the tabs of the attached browser.
	ActionStatus     Action = "status"     // ActionStatus reports the session status.

	ActionCallback Action = "callback" // ActionCallback marks intermediate progress responses.
	ActionError    Action = "error"    // ActionError marks responses to frames that could not be parsed.
)

// Status is the outcome of a response.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// DefaultClientType is assumed when a request does not name its client.
const DefaultClientType = "web"

// Meta correlates requests and responses.
type Meta struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	TimestampMs    int64  `json:"timestampMs"`
	ClientType     string `json:"clientType,omitempty"`
}

// RequestPayload is the body of a request. Params stay undecoded until the
// handler for Action asks for them.
type RequestPayload struct {
	Action      Action          `json:"action"`
	Params      json.RawMessage `json:"params,omitempty"`
	Site        string          `json:"site,omitempty"`
	OriginalCmd string          `json:"originalCmd,omitempty"`
	Option      string          `json:"option,omitempty"`
}

// Request is one inbound envelope.
type Request struct {
	Meta    Meta           `json:"meta"`
	Payload RequestPayload `json:"payload"`
}

// ResponsePayload is the body of a response. Error is set iff Status is failed.
type ResponsePayload struct {
	Action Action `json:"action"`
	Status Status `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Response is one outbound envelope.
type Response struct {
	Meta    Meta            `json:"meta"`
	Payload ResponsePayload `json:"payload"`
}

// Encode serializes the response for the wire.
func (r *Response) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	return data, nil
}

// DecodeResponse parses a response envelope.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

func replyMeta(req Meta) Meta {
	clientType := req.ClientType
	if clientType == "" {
		clientType = DefaultClientType
	}
	return Meta{
		MessageID:      req.MessageID,
		ConversationID: req.ConversationID,
		TimestampMs:    time.Now().UnixMilli(),
		ClientType:     clientType,
	}
}

// Success builds the terminal success response for req.
func Success(req *Request, result any) *Response {
	return &Response{
		Meta: replyMeta(req.Meta),
		Payload: ResponsePayload{
			Action: req.Payload.Action,
			Status: StatusSuccess,
			Result: result,
		},
	}
}

// unknownError stands in for a nil error or one with an empty message, so a
// failed response always carries error text.
const unknownError = "unknown error"

// Failed builds the terminal failure response for req.
func Failed(req *Request, err error) *Response {
	msg := unknownError
	if err != nil && strings.TrimSpace(err.Error()) != "" {
		msg = err.Error()
	}
	return &Response{
		Meta: replyMeta(req.Meta),
		Payload: ResponsePayload{
			Action: req.Payload.Action,
			Status: StatusFailed,
			Error:  msg,
		},
	}
}

// Progress builds an intermediate response sharing req's identifiers.
func Progress(req *Request, result any) *Response {
	return &Response{
		Meta: replyMeta(req.Meta),
		Payload: ResponsePayload{
			Action: ActionCallback,
			Status: StatusSuccess,
			Result: result,
		},
	}
}

// ParseFailure builds the response to a frame that could not be parsed.
func ParseFailure(perr *ParseError) *Response {
	return &Response{
		Meta: replyMeta(Meta{
			MessageID:      perr.MessageID,
			ConversationID: perr.ConversationID,
		}),
		Payload: ResponsePayload{
			Action: ActionError,
			Status: StatusFailed,
			Error:  perr.Error(),
		},
	}
}
