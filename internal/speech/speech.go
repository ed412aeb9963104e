// Package speech defines the contracts between the session orchestrator
// and the speech-to-text / text-to-speech providers.
package speech

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when a provider has no credentials or was
// disabled by configuration.
var ErrUnavailable = errors.New("speech provider unavailable")

// Recognizer starts single-shot recognition activations.
type Recognizer interface {
	Available() bool
	Start(ctx context.Context) (Recognition, error)
}

// Recognition is one activation. Events is closed when the activation
// ends; Close is safe to call at any point and more than once.
type Recognition interface {
	Events() <-chan RecognitionEvent
	SendAudio(pcm []byte) error
	Close() error
}

// Synthesizer speaks text.
type Synthesizer interface {
	Available() bool
	Speak(ctx context.Context, text string) (Playback, error)
}

// Playback is one utterance. Events is closed when playback ends; Stop is
// safe to call at any point and more than once.
type Playback interface {
	Events() <-chan SpeechEvent
	Stop() error
}

// AudioSink receives synthesized PCM16 little-endian audio.
type AudioSink interface {
	WriteAudio(pcm []byte, sampleRate int) error
}

// AudioSinkFunc adapts a function to AudioSink.
type AudioSinkFunc func(pcm []byte, sampleRate int) error

func (f AudioSinkFunc) WriteAudio(pcm []byte, sampleRate int) error {
	return f(pcm, sampleRate)
}
