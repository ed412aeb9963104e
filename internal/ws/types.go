package ws

import (
	"go.uber.org/zap"

	appconfig "github.com/xiaoai/assistant/internal/config"
	"github.com/xiaoai/assistant/internal/conversation"
	"github.com/xiaoai/assistant/internal/session"
	"github.com/xiaoai/assistant/internal/speech"
	"github.com/xiaoai/assistant/internal/speech/deepgram"
	"github.com/xiaoai/assistant/internal/storage"
)

// HistoryArchive is the transcript store shared by all sessions.
type HistoryArchive interface {
	session.Archive
	Get(historyUID string) ([]conversation.Message, error)
	Delete(historyUID string) bool
	List() []storage.Info
}

// SpeechFactory builds the speech adapters of one session. Synthesized
// audio must be written to sink.
type SpeechFactory func(sink speech.AudioSink, logger *zap.Logger) (speech.Recognizer, speech.Synthesizer)

// Deps are the process-wide collaborators shared by sessions.
type Deps struct {
	Config   appconfig.Config
	Model    session.ModelClient
	Loader   session.MediaLoader
	Settings session.Preferences
	Archive  HistoryArchive
	Speech   SpeechFactory
}

// DeepgramSpeech returns a factory for Deepgram adapters.
func DeepgramSpeech(cfg deepgram.Config) SpeechFactory {
	return func(sink speech.AudioSink, logger *zap.Logger) (speech.Recognizer, speech.Synthesizer) {
		return deepgram.NewRecognizer(cfg, logger), deepgram.NewSynthesizer(cfg, sink, logger)
	}
}
