package ws

import (
	"encoding/base64"
	"fmt"
	"sync"

	"go.uber.org/zap"

	appconfig "github.com/xiaoai/assistant/internal/config"
	"github.com/xiaoai/assistant/internal/protocol"
	"github.com/xiaoai/assistant/pkg/audio"
)

const (
	ttsChunkDurationMs = 300
	volumeSliceMs      = 20
)

// audioOutput turns synthesized PCM16 into audio events, either as PCM16
// chunks with volume levels or as opus packets.
type audioOutput struct {
	mu      sync.Mutex
	format  string
	opus    audio.OpusOptions
	frameMs int
	send    func(any)
	logger  *zap.Logger

	rate    int
	chunker *audio.Chunker
	encoder *audio.OpusEncoder
}

func newAudioOutput(cfg appconfig.AudioConfig, send func(any), logger *zap.Logger) *audioOutput {
	format := cfg.OutputFormat
	if format != "opus" {
		format = "pcm16"
	}
	frameMs := cfg.FrameDuration
	if frameMs <= 0 {
		frameMs = 20
	}
	return &audioOutput{
		format:  format,
		opus:    cfg.Opus,
		frameMs: frameMs,
		send:    send,
		logger:  logger,
	}
}

// write implements speech.AudioSink.
func (o *audioOutput) write(pcm []byte, sampleRate int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if sampleRate != o.rate || o.chunker == nil {
		o.flushLocked()
		if err := o.resetLocked(sampleRate); err != nil {
			return err
		}
	}
	for _, chunk := range o.chunker.Write(pcm) {
		o.emitLocked(chunk)
	}
	return nil
}

// flush sends the buffered tail of an utterance.
func (o *audioOutput) flush() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.flushLocked()
}

func (o *audioOutput) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.encoder != nil {
		o.encoder.Close()
		o.encoder = nil
	}
	o.chunker = nil
}

func (o *audioOutput) resetLocked(sampleRate int) error {
	o.rate = sampleRate
	if o.format != "opus" {
		o.chunker = audio.NewChunker(sampleRate, ttsChunkDurationMs)
		return nil
	}
	if o.encoder != nil {
		o.encoder.Close()
	}
	enc, err := audio.NewOpusEncoder(sampleRate, 1, o.frameMs, o.opus)
	if err != nil {
		o.encoder = nil
		o.chunker = nil
		return fmt.Errorf("tts opus encoder: %w", err)
	}
	o.logger.Debug("tts opus encoder ready",
		zap.String("backend", audio.Backend()),
		zap.Int("sample_rate", sampleRate),
	)
	o.encoder = enc
	o.chunker = audio.NewChunker(sampleRate, o.frameMs)
	return nil
}

func (o *audioOutput) flushLocked() {
	if o.chunker == nil {
		return
	}
	if rest := o.chunker.Flush(); len(rest) > 0 {
		o.emitLocked(rest)
	}
}

func (o *audioOutput) emitLocked(pcm []byte) {
	if o.encoder != nil {
		packet, err := o.encoder.Encode(pcm)
		if err != nil {
			o.logger.Warn("tts opus encode failed", zap.Error(err))
			return
		}
		if len(packet) == 0 {
			return
		}
		o.send(protocol.Audio{
			Type:        protocol.EventAudio,
			AudioPCM:    base64.StdEncoding.EncodeToString(packet),
			AudioFormat: "opus",
			SampleRate:  o.rate,
			Channels:    1,
			SliceLength: o.encoder.FrameDuration(),
		})
		return
	}

	o.send(protocol.Audio{
		Type:        protocol.EventAudio,
		AudioPCM:    base64.StdEncoding.EncodeToString(pcm),
		AudioFormat: "pcm16",
		SampleRate:  o.rate,
		Channels:    1,
		Volumes:     audio.Volumes(pcm, o.rate, volumeSliceMs),
		SliceLength: audio.DurationMs(pcm, o.rate),
	})
}

// micInput resamples client microphone audio to the recognizer rate.
type micInput struct {
	defaultRate int
	targetRate  int
	resampler   *audio.StreamResampler
}

func newMicInput(defaultRate int, targetRate int) *micInput {
	if defaultRate <= 0 {
		defaultRate = 48000
	}
	if targetRate <= 0 {
		targetRate = 16000
	}
	return &micInput{defaultRate: defaultRate, targetRate: targetRate}
}

// convert returns PCM16 at the target rate for a mic-audio-data command.
func (m *micInput) convert(cmd protocol.ClientCommand) ([]byte, error) {
	if cmd.AudioPCM != "" {
		raw, err := base64.StdEncoding.DecodeString(cmd.AudioPCM)
		if err != nil {
			return nil, fmt.Errorf("decode audio_pcm: %w", err)
		}
		return m.convertPCM(raw, cmd.AudioRate, cmd.AudioCh)
	}
	if err := m.ensure(cmd.AudioRate); err != nil {
		return nil, err
	}
	return m.resampler.WriteFloat(cmd.Audio)
}

// convertPCM resamples interleaved PCM16 to mono at the target rate.
func (m *micInput) convertPCM(raw []byte, rate int, channels int) ([]byte, error) {
	if err := m.ensure(rate); err != nil {
		return nil, err
	}
	return m.resampler.WritePCM(audio.Downmix(raw, channels))
}

func (m *micInput) ensure(rate int) error {
	if rate <= 0 {
		rate = m.defaultRate
	}
	if m.resampler != nil && m.resampler.InRate() == rate {
		return nil
	}
	m.close()
	r, err := audio.NewStreamResampler(rate, m.targetRate)
	if err != nil {
		return fmt.Errorf("mic resampler: %w", err)
	}
	m.resampler = r
	return nil
}

// reset drops resampler state between utterances.
func (m *micInput) reset() {
	m.close()
}

func (m *micInput) close() {
	if m.resampler != nil {
		m.resampler.Close()
		m.resampler = nil
	}
}
