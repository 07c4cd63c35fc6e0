// Package controlframe implements the binary control-frame wire format carried
// on the "control" DataChannel, plus the fixed one-byte acknowledgment.
package controlframe

import (
	"encoding/binary"
	"fmt"
)

// Wire layout, big-endian, 16 bytes:
//
//	seq(u32) | timestamp_ms(u32) | throttle_raw(i16) | steering_raw(i16) |
//	buttons(u16) | flags(u8) | reserved(u8)
//
// Raw throttle/steering are scaled by 1000 (raw 1000 == 1.0). Buffers longer
// than 16 bytes are valid; trailing bytes are ignored.
const (
	FrameLen = 16

	rawScale = 1000.0
)

// Ack is the acknowledgment byte sent back for every received binary payload.
// It is intentionally also sent for payloads that fail to decode: the sender
// uses the ack stream only to measure link liveness/latency, not delivery of
// well-formed frames.
const Ack byte = 0x00

// Button bitmask values carried in Frame.Buttons.
const (
	// ButtonEmergencyStop requests an immediate stop regardless of the frame's
	// throttle/steering values.
	ButtonEmergencyStop uint16 = 1 << 0
)

// Frame is a decoded control frame.
type Frame struct {
	Seq         uint32
	TimestampMS uint32
	ThrottleRaw int16
	SteeringRaw int16
	Buttons     uint16
	Flags       uint8
	Reserved    uint8
}

// Command is a normalized control command derived from a Frame.
type Command struct {
	Throttle float64
	Steering float64
}

type DecodeErrorCode string

const (
	DecodeErrorTooShort DecodeErrorCode = "frame_too_short"
)

// DecodeError reports why a control frame failed to decode.
type DecodeError struct {
	Code    DecodeErrorCode
	Message string
}

func (e *DecodeError) Error() string {
	return e.Message
}

// Decode interprets the first FrameLen bytes of buf as a control frame.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < FrameLen {
		return Frame{}, &DecodeError{
			Code:    DecodeErrorTooShort,
			Message: fmt.Sprintf("frame too short: %d < %d", len(buf), FrameLen),
		}
	}
	return Frame{
		Seq:         binary.BigEndian.Uint32(buf[0:4]),
		TimestampMS: binary.BigEndian.Uint32(buf[4:8]),
		ThrottleRaw: int16(binary.BigEndian.Uint16(buf[8:10])),
		SteeringRaw: int16(binary.BigEndian.Uint16(buf[10:12])),
		Buttons:     binary.BigEndian.Uint16(buf[12:14]),
		Flags:       buf[14],
		Reserved:    buf[15],
	}, nil
}

// Encode serializes f into a fresh FrameLen-byte buffer.
func Encode(f Frame) []byte {
	out := make([]byte, FrameLen)
	binary.BigEndian.PutUint32(out[0:4], f.Seq)
	binary.BigEndian.PutUint32(out[4:8], f.TimestampMS)
	binary.BigEndian.PutUint16(out[8:10], uint16(f.ThrottleRaw))
	binary.BigEndian.PutUint16(out[10:12], uint16(f.SteeringRaw))
	binary.BigEndian.PutUint16(out[12:14], f.Buttons)
	out[14] = f.Flags
	out[15] = f.Reserved
	return out
}

// Normalize converts the frame's raw axis values to [-1, 1]. Raw values beyond
// ±1000 are clamped, not rejected.
func (f Frame) Normalize() Command {
	return Command{
		Throttle: clampUnit(float64(f.ThrottleRaw) / rawScale),
		Steering: clampUnit(float64(f.SteeringRaw) / rawScale),
	}
}

// EncodeAck returns the acknowledgment payload for a received binary message.
func EncodeAck() []byte {
	return []byte{Ack}
}

func clampUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
