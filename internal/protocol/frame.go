// Package protocol defines the frames exchanged over the chat websocket and the
// typed payload of every command and event.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	FrameCommand = "command"
	FrameAck     = "ack"
	FrameEvent   = "event"
)

// Status is the outcome carried by an ack frame.
type Status string

const (
	StatusOK              Status = "ok"
	StatusValidationError Status = "validation_error"
	StatusAuthError       Status = "auth_error"
	StatusNotFound        Status = "not_found"
	StatusRateLimited     Status = "rate_limited"
	StatusInternalError   Status = "internal_error"
)

// ErrValidation marks a malformed command payload.
var ErrValidation = errors.New("invalid payload")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Frame is the single envelope used in both directions. Commands carry ID, Name
// and Payload; acks carry ID, Status, Data and optionally Error; events carry
// Name and Payload.
type Frame struct {
	Type    string          `json:"type"`
	ID      uint64          `json:"id,omitempty"`
	Name    string          `json:"name,omitempty"`
	Status  Status          `json:"status,omitempty"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewCommand encodes a command frame.
func NewCommand(id uint64, name string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return json.Marshal(Frame{Type: FrameCommand, ID: id, Name: name, Payload: raw})
}

// NewEvent encodes an event frame.
func NewEvent(name string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return json.Marshal(Frame{Type: FrameEvent, Name: name, Payload: raw})
}

// NewAck encodes an ack frame. data is omitted for nil.
func NewAck(id uint64, status Status, data any, errText string) ([]byte, error) {
	f := Frame{Type: FrameAck, ID: id, Status: status, Error: errText}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal ack data: %w", err)
		}
		f.Data = raw
	}
	return json.Marshal(f)
}

// Decode parses a frame and checks its type.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, invalid("frame: %v", err)
	}
	switch f.Type {
	case FrameCommand:
		if f.ID == 0 || f.Name == "" {
			return Frame{}, invalid("command frame needs id and name")
		}
	case FrameAck:
		if f.ID == 0 {
			return Frame{}, invalid("ack frame needs id")
		}
	case FrameEvent:
		if f.Name == "" {
			return Frame{}, invalid("event frame needs name")
		}
	default:
		return Frame{}, invalid("unknown frame type %q", f.Type)
	}
	return f, nil
}

// Validator is implemented by every command payload.
type Validator interface {
	Validate() error
}

// DecodePayload unmarshals raw into dst and validates it.
func DecodePayload(raw json.RawMessage, dst Validator) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return invalid("%v", err)
	}
	return dst.Validate()
}
