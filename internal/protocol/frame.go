package protocol

import (
	"encoding/binary"
	"errors"
)

// Binary websocket frames let clients stream microphone audio without
// base64. Layout:
//
//	byte 0     kind (0 audio, 1 JSON command)
//	byte 1     channel count, 0 means mono
//	bytes 2-3  payload size, big endian
//	bytes 4-7  sample rate, big endian, 0 means the session default
const frameHeaderSize = 8

// FrameKind describes the payload of a binary frame.
type FrameKind byte

const (
	FrameAudio   FrameKind = 0
	FrameCommand FrameKind = 1
)

var (
	ErrFrameTooShort = errors.New("binary frame too short")
	ErrFrameSize     = errors.New("binary frame payload size mismatch")
	ErrFrameKind     = errors.New("binary frame kind unsupported")
)

// Frame is a decoded binary frame.
type Frame struct {
	Kind       FrameKind
	Channels   int
	SampleRate int
	Payload    []byte
}

// DecodeFrame parses a binary frame. The payload aliases data.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) < frameHeaderSize {
		return Frame{}, ErrFrameTooShort
	}
	kind := FrameKind(data[0])
	if kind != FrameAudio && kind != FrameCommand {
		return Frame{}, ErrFrameKind
	}
	size := int(binary.BigEndian.Uint16(data[2:4]))
	if size > len(data)-frameHeaderSize {
		return Frame{}, ErrFrameSize
	}
	channels := int(data[1])
	if channels == 0 {
		channels = 1
	}
	return Frame{
		Kind:       kind,
		Channels:   channels,
		SampleRate: int(binary.BigEndian.Uint32(data[4:8])),
		Payload:    data[frameHeaderSize : frameHeaderSize+size],
	}, nil
}

// PackFrame builds a binary frame. Payloads longer than 65535 bytes are
// truncated.
func PackFrame(f Frame) []byte {
	payload := f.Payload
	if len(payload) > 0xffff {
		payload = payload[:0xffff]
	}
	out := make([]byte, frameHeaderSize, frameHeaderSize+len(payload))
	out[0] = byte(f.Kind)
	out[1] = byte(f.Channels)
	binary.BigEndian.PutUint16(out[2:4], uint16(len(payload)))
	binary.BigEndian.PutUint32(out[4:8], uint32(f.SampleRate))
	return append(out, payload...)
}
