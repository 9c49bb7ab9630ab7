package gateway

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProtocolVersion is the only wire protocol this server speaks.
const ProtocolVersion = 1

// Limits advertised in HelloOK.
const (
	maxPayloadBytes = 64 * 1024
	tickIntervalMs  = 30000
	tickInterval    = tickIntervalMs * time.Millisecond
)

// Frame types.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// RPC methods. MethodConnect is only valid as the first frame.
const (
	MethodConnect           = "connect"
	MethodHealth            = "health"
	MethodSessionCreate     = "chat.session.create"
	MethodChatSend          = "chat.send"
	MethodChatHistory       = "chat.history"
	MethodChatClear         = "chat.clear"
	MethodContextInvalidate = "context.invalidate"
	MethodContextStatus     = "context.status"
	MethodRatingSubmit      = "rating.submit"
)

// EventContextRefreshed is pushed to every client after the catalog
// context is reloaded.
const EventContextRefreshed = "context.refreshed"

// Frame is the envelope for every WebSocket message. Type selects which of
// the remaining fields are meaningful.
type Frame struct {
	Type string `json:"type"`

	// req
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// res
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`

	// event
	Event string `json:"event,omitempty"`
	Seq   int64  `json:"seq,omitempty"`
}

// FrameError is a frame that decoded but cannot be processed. ID is set when
// the frame carried one, so the caller can answer it.
type FrameError struct {
	ID     string
	Reason string
}

func (e *FrameError) Error() string { return "invalid frame: " + e.Reason }

// ParseFrame decodes one inbound message and checks the envelope.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, &FrameError{Reason: "malformed JSON"}
	}
	switch f.Type {
	case FrameTypeRequest:
		if f.ID == "" {
			return f, &FrameError{Reason: "request without id"}
		}
		if f.Method == "" {
			return f, &FrameError{ID: f.ID, Reason: "request without method"}
		}
	case FrameTypeResponse, FrameTypeEvent:
	default:
		return f, &FrameError{ID: f.ID, Reason: fmt.Sprintf("unknown frame type %q", f.Type)}
	}
	return f, nil
}

// ErrorShape is the error body shared by response frames and HTTP errors.
// Message is always safe to show to an end user.
type ErrorShape struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	RetryAfter int    `json:"retryAfterSeconds,omitempty"`
}

// ConnectParams open a connection. Zero protocol bounds are open.
type ConnectParams struct {
	MinProtocol int        `json:"minProtocol"`
	MaxProtocol int        `json:"maxProtocol"`
	Client      ClientInfo `json:"client"`
	Locale      string     `json:"locale,omitempty"`
	UserAgent   string     `json:"userAgent,omitempty"`
}

// ClientInfo describes the embedding page or console.
type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Version     string `json:"version"`
	Platform    string `json:"platform"`
	Mode        string `json:"mode"` // "widget" | "console"
}

// HelloOK answers an accepted connect request.
type HelloOK struct {
	Protocol int          `json:"protocol"`
	Server   ServerInfo   `json:"server"`
	Features Features     `json:"features"`
	Policy   ServerPolicy `json:"policy"`
}

type ServerInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	ConnID  string `json:"connId"`
}

type Features struct {
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

// ServerPolicy tells the client the frame size cap and how often the
// server pings.
type ServerPolicy struct {
	MaxPayload     int `json:"maxPayload"`
	TickIntervalMs int `json:"tickIntervalMs"`
}

func rawJSON(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding frame body: %w", err)
	}
	return raw, nil
}

// NewRequest builds a request frame. Used by clients and tests.
func NewRequest(id, method string, params any) (Frame, error) {
	raw, err := rawJSON(params)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeRequest, ID: id, Method: method, Params: raw}, nil
}

// NewResponse builds a success response to request id.
func NewResponse(id string, payload any) (Frame, error) {
	raw, err := rawJSON(payload)
	if err != nil {
		return Frame{}, err
	}
	ok := true
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Payload: raw}, nil
}

// NewErrorResponse builds a failed response to request id.
func NewErrorResponse(id string, shape ErrorShape) Frame {
	ok := false
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Error: &shape}
}

// NewEvent builds a server push.
func NewEvent(event string, payload any, seq int64) (Frame, error) {
	raw, err := rawJSON(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeEvent, Event: event, Payload: raw, Seq: seq}, nil
}
