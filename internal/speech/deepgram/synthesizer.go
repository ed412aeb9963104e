package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xiaoai/assistant/internal/speech"
)

// Synthesizer streams one utterance per speak socket and hands the raw
// PCM16 audio to a sink.
type Synthesizer struct {
	cfg    Config
	sink   speech.AudioSink
	logger *zap.Logger
}

// NewSynthesizer creates a synthesizer writing audio to sink.
func NewSynthesizer(cfg Config, sink speech.AudioSink, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{cfg: cfg.withDefaults(), sink: sink, logger: logger}
}

func (s *Synthesizer) Available() bool {
	return s.cfg.APIKey != "" && s.sink != nil
}

// SampleRate is the PCM16 rate of produced audio.
func (s *Synthesizer) SampleRate() int {
	return s.cfg.SpeakSampleRate
}

func (s *Synthesizer) Speak(ctx context.Context, text string) (speech.Playback, error) {
	if !s.Available() {
		return nil, speech.ErrUnavailable
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("nothing to speak")
	}

	query := url.Values{}
	query.Set("encoding", "linear16")
	query.Set("sample_rate", strconv.Itoa(s.cfg.SpeakSampleRate))
	query.Set("model", s.cfg.Voice)
	query.Set("container", "none")

	conn, err := dial(ctx, s.cfg.SpeakURL, query, s.cfg.APIKey, s.cfg.DialTimeout)
	if err != nil {
		return nil, err
	}

	p := &playback{
		conn:       conn,
		events:     make(chan speech.SpeechEvent, 4),
		done:       make(chan struct{}),
		sink:       s.sink,
		sampleRate: s.cfg.SpeakSampleRate,
		logger:     s.logger,
	}
	if err := p.write(speakMessage{Type: "Speak", Text: text}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := p.write(flushMsg); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go p.readLoop()
	return p, nil
}

type playback struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	events chan speech.SpeechEvent
	done   chan struct{}

	stopOnce   sync.Once
	sink       speech.AudioSink
	sampleRate int
	logger     *zap.Logger
}

func (p *playback) Events() <-chan speech.SpeechEvent {
	return p.events
}

// Stop discards queued audio and closes the socket.
func (p *playback) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		close(p.done)
		if writeErr := p.write(clearMsg); writeErr == nil {
			_ = p.write(closeMsg)
		}
		err = p.conn.Close()
	})
	return err
}

func (p *playback) write(msg any) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write to deepgram speak socket: %w", err)
	}
	return nil
}

func (p *playback) readLoop() {
	defer close(p.events)

	started := false
	for {
		msgType, msg, err := p.conn.ReadMessage()
		if err != nil {
			p.onReadError(err)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if !started {
				started = true
				if !p.emit(speech.SpeechEvent{Kind: speech.SpeechSpeaking}) {
					return
				}
			}
			if err := p.sink.WriteAudio(msg, p.sampleRate); err != nil {
				p.logger.Warn("tts audio sink failed", zap.Error(err))
				p.emit(speech.SpeechEvent{Kind: speech.SpeechError, Message: speech.PlaybackErrorMessage})
				_ = p.Stop()
				return
			}
		case websocket.TextMessage:
			var parsed struct {
				Type        string `json:"type"`
				Description string `json:"description"`
			}
			if err := json.Unmarshal(msg, &parsed); err != nil {
				continue
			}
			switch parsed.Type {
			case "Flushed":
				p.emit(speech.SpeechEvent{Kind: speech.SpeechDone})
				_ = p.Stop()
				return
			case "Warning":
				p.logger.Warn("deepgram speak warning", zap.String("description", parsed.Description))
			case typeErrorResponse:
				p.logger.Warn("deepgram speak error", zap.String("description", parsed.Description))
				p.emit(speech.SpeechEvent{Kind: speech.SpeechError, Message: speech.PlaybackErrorMessage})
				_ = p.Stop()
				return
			}
		}
	}
}

func (p *playback) onReadError(err error) {
	select {
	case <-p.done:
		return
	default:
	}
	if !isNormalClose(err) {
		p.logger.Warn("deepgram speak socket failed", zap.Error(err))
	}
	p.emit(speech.SpeechEvent{Kind: speech.SpeechError, Message: speech.PlaybackErrorMessage})
	_ = p.Stop()
}

func (p *playback) emit(ev speech.SpeechEvent) bool {
	select {
	case p.events <- ev:
		return true
	case <-p.done:
		return false
	}
}
