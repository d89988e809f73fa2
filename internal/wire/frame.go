package wire

import (
	"encoding/json"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Ack event name. The server acknowledges each client frame that carries a
// sequence number with exactly one ack echoing it.
const EventAck = "ack"

// Ack statuses.
const (
	AckSuccess = "success"
	AckError   = "error"
)

// Frame is the envelope for every event on the live channel. Client frames
// carry a monotonically increasing Seq; server pushes leave it zero.
type Frame struct {
	Event   string          `json:"event"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Ack is the acknowledgement body for a client frame. Status is "success"
// with Data set, or "error" with Message set.
type Ack struct {
	Seq     uint64          `json:"seq"`
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// OK reports whether the ack is a success.
func (a *Ack) OK() bool { return a.Status == AckSuccess }

// EncodeFrame marshals an event with its payload into a wire frame.
func EncodeFrame(event string, seq uint64, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := codec.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		raw = data
	}
	data, err := codec.Marshal(Frame{Event: event, Seq: seq, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s frame: %w", event, err)
	}
	return data, nil
}

// DecodeFrame unmarshals a raw websocket message into a frame.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := codec.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}
	if f.Event == "" {
		return nil, fmt.Errorf("frame without event")
	}
	return &f, nil
}

// Decode unmarshals a raw payload into v.
func Decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty payload")
	}
	return codec.Unmarshal(raw, v)
}

// Marshal exposes the shared JSON configuration for callers that serialize
// request bodies with the same settings as the live channel.
func Marshal(v any) ([]byte, error) { return codec.Marshal(v) }

// Unmarshal is the counterpart of Marshal.
func Unmarshal(data []byte, v any) error { return codec.Unmarshal(data, v) }
