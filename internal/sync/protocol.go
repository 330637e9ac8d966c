package sync

import (
	"encoding/json"
	"fmt"
)

// Represents the kind of frame on the wire
type FrameType string

const (
	// First frame a replica receives: identity, virtual time, members
	FrameWelcome FrameType = "welcome"

	// Sequenced event published by a member
	FrameEvent FrameType = "event"

	// Membership notifications, sequenced like events
	FrameJoin  FrameType = "join"
	FrameLeave FrameType = "leave"

	// Advances the virtual clock when nothing else is happening
	FrameTick FrameType = "tick"

	// Sent before the relay closes a connection
	FrameError FrameType = "error"

	// The only frame a replica sends: an event to sequence
	FramePublish FrameType = "publish"
)

const (
	MaxTopicLength  = 64
	MaxPayloadBytes = 64 * 1024
)

// Frame is the single envelope used in both directions. Seq and At are
// stamped by the relay and are identical for every receiver.
type Frame struct {
	Type     FrameType       `json:"type"`
	Seq      uint64          `json:"seq,omitempty"`
	At       int64           `json:"at"`
	Identity string          `json:"identity,omitempty"`
	Topic    string          `json:"topic,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Welcome  *Welcome        `json:"welcome,omitempty"`
	Error    string          `json:"error,omitempty"`
}

type Welcome struct {
	Identity     string          `json:"identity"`
	Room         string          `json:"room"`
	Kind         string          `json:"kind"`
	Participants []string        `json:"participants"`
	Settings     json.RawMessage `json:"settings,omitempty"`
}

func Encode(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return data, nil
}

func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

// Extracts the frame type without decoding the payload
func ParseFrameType(data []byte) FrameType {
	var head struct {
		Type FrameType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return ""
	}
	return head.Type
}

// Checks a frame received from a replica before it is sequenced
func ValidatePublish(f Frame) error {
	if f.Type != FramePublish {
		return fmt.Errorf("unexpected frame type %q", f.Type)
	}
	if f.Topic == "" {
		return fmt.Errorf("missing topic")
	}
	if len(f.Topic) > MaxTopicLength {
		return fmt.Errorf("topic too long: %d", len(f.Topic))
	}
	if len(f.Payload) > MaxPayloadBytes {
		return fmt.Errorf("payload too large: %d bytes", len(f.Payload))
	}
	if len(f.Payload) > 0 && !json.Valid(f.Payload) {
		return fmt.Errorf("payload is not valid json")
	}
	return nil
}
