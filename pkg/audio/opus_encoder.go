package audio

import (
	"fmt"
	"sync"

	"github.com/xiaoai/assistant/pkg/audio/opusx"
)

// OpusOptions tunes encoders. Zero values keep the codec defaults.
type OpusOptions struct {
	Bitrate        int    `mapstructure:"bitrate"`
	Complexity     int    `mapstructure:"complexity"`
	DTX            bool   `mapstructure:"dtx"`
	InBandFEC      bool   `mapstructure:"fec"`
	PacketLossPerc int    `mapstructure:"packet_loss_perc"`
	MaxBandwidth   string `mapstructure:"max_bandwidth"`
}

type opusKey struct {
	sampleRate int
	channels   int
}

var opusPool keyedPool[opusKey, *opusx.Encoder]

// OpusEncoder encodes fixed-size PCM16 frames.
type OpusEncoder struct {
	mu         sync.Mutex
	key        opusKey
	encoder    *opusx.Encoder
	frameMs    int
	frameSize  int
	opusBuffer []byte
	scratch    []int16
}

// NewOpusEncoder takes a pooled encoder for the rate and channel count and
// applies opts.
func NewOpusEncoder(sampleRate, channels, frameDurationMs int, opts OpusOptions) (*OpusEncoder, error) {
	key := opusKey{sampleRate: sampleRate, channels: channels}
	enc, err := opusPool.get(key, func() (*opusx.Encoder, error) {
		return opusx.NewEncoder(sampleRate, channels, opusx.AppVoIP)
	})
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	if err := applyOpusOptions(enc, opts); err != nil {
		opusPool.put(key, enc)
		return nil, err
	}
	return &OpusEncoder{
		key:        key,
		encoder:    enc,
		frameMs:    frameDurationMs,
		frameSize:  sampleRate * frameDurationMs / 1000,
		opusBuffer: make([]byte, 4000),
	}, nil
}

func applyOpusOptions(enc *opusx.Encoder, opts OpusOptions) error {
	if opts.Bitrate > 0 {
		if err := enc.SetBitrate(opts.Bitrate); err != nil {
			return fmt.Errorf("opus bitrate: %w", err)
		}
	}
	if opts.Complexity > 0 {
		if err := enc.SetComplexity(opts.Complexity); err != nil {
			return fmt.Errorf("opus complexity: %w", err)
		}
	}
	if err := enc.SetDTX(opts.DTX); err != nil {
		return fmt.Errorf("opus dtx: %w", err)
	}
	if err := enc.SetInBandFEC(opts.InBandFEC); err != nil {
		return fmt.Errorf("opus fec: %w", err)
	}
	if opts.PacketLossPerc > 0 {
		if err := enc.SetPacketLossPerc(opts.PacketLossPerc); err != nil {
			return fmt.Errorf("opus packet loss: %w", err)
		}
	}
	if bw, ok := ParseOpusBandwidth(opts.MaxBandwidth); ok {
		if err := enc.SetMaxBandwidth(bw); err != nil {
			return fmt.Errorf("opus bandwidth: %w", err)
		}
	}
	return nil
}

// ParseOpusBandwidth maps a config name to a bandwidth. Empty and "auto"
// report false.
func ParseOpusBandwidth(v string) (opusx.Bandwidth, bool) {
	switch v {
	case "narrowband", "nb":
		return opusx.Narrowband, true
	case "mediumband", "mb":
		return opusx.Mediumband, true
	case "wideband", "wb":
		return opusx.Wideband, true
	case "superwideband", "swb":
		return opusx.SuperWideband, true
	case "fullband", "fb":
		return opusx.Fullband, true
	default:
		var zero opusx.Bandwidth
		return zero, false
	}
}

// Encode encodes one frame of PCM16. Short input is zero padded and long
// input truncated to the frame size.
func (e *OpusEncoder) Encode(pcm []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.encoder == nil {
		return nil, fmt.Errorf("opus encoder is closed")
	}

	expected := e.frameSize * e.key.channels
	samples := BytesToInt16SliceInto(e.scratch, pcm)
	switch {
	case len(samples) < expected:
		if cap(samples) < expected {
			grown := make([]int16, expected)
			copy(grown, samples)
			samples = grown
		} else {
			n := len(samples)
			samples = samples[:expected]
			clear(samples[n:])
		}
	case len(samples) > expected:
		samples = samples[:expected]
	}
	e.scratch = samples

	n, err := e.encoder.Encode(samples, e.opusBuffer)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	copy(out, e.opusBuffer[:n])
	return out, nil
}

// FrameBytes is the PCM16 size of one frame.
func (e *OpusEncoder) FrameBytes() int {
	return e.frameSize * e.key.channels * 2
}

// FrameDuration is the frame length in milliseconds.
func (e *OpusEncoder) FrameDuration() int {
	return e.frameMs
}

// Close resets the encoder and returns it to the pool.
func (e *OpusEncoder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.encoder == nil {
		return
	}
	if err := e.encoder.Reset(); err == nil {
		opusPool.put(e.key, e.encoder)
	}
	e.encoder = nil
	e.opusBuffer = nil
	e.scratch = nil
}

// Backend names the opus implementation compiled in.
func Backend() string {
	return opusx.Backend()
}
