package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"tutor-chat/internal/models"
)

var (
	// ErrMalformedFrame is returned for payloads that are not a JSON
	// {"type","data"} frame.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrInvalidPayload is returned when a known event is missing a
	// required field or carries a field of the wrong shape.
	ErrInvalidPayload = errors.New("invalid event payload")
)

// Frame is the envelope of every message on the wire, in both directions.
type Frame struct {
	Type models.EventType `json:"type"`
	Data json.RawMessage  `json:"data,omitempty"`
}

type decodeFunc func(json.RawMessage) (Event, error)

var decoders = map[models.EventType]decodeFunc{
	models.EventJoin:        decodeAs[Join],
	models.EventJoinRoom:    decodeAs[JoinRoom],
	models.EventLeaveRoom:   decodeAs[LeaveRoom],
	models.EventMessage:     decodeAs[Message],
	models.EventTypingStart: decodeAs[TypingStart],
	models.EventTypingStop:  decodeAs[TypingStop],
}

func decodeAs[T Event](data json.RawMessage) (Event, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return ev, nil
}

// Decode parses and validates one inbound frame. Well-formed frames of an
// unknown type decode to Unrecognized with a nil error.
func Decode(raw []byte) (Event, error) {
	frame, err := DecodeFrame(raw)
	if err != nil {
		return nil, err
	}

	decode, ok := decoders[frame.Type]
	if !ok {
		return Unrecognized{Name: frame.Type}, nil
	}
	if err := validateEventData(frame.Type, frame.Data); err != nil {
		return nil, err
	}
	return decode(frame.Data)
}

// DecodeFrame parses the envelope only. Clients use it for outbound
// broker events, whose data they decode per type.
func DecodeFrame(raw []byte) (Frame, error) {
	var frame Frame
	if err := validateFrame(raw); err != nil {
		return frame, err
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return frame, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return frame, nil
}

// Encode wraps payload in a frame of the given type.
func Encode(eventType models.EventType, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return json.Marshal(Frame{Type: eventType, Data: data})
}
