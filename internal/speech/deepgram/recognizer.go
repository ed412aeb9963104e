package deepgram

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xiaoai/assistant/internal/speech"
)

// Recognizer opens one listen socket per activation.
type Recognizer struct {
	cfg    Config
	logger *zap.Logger
}

// NewRecognizer creates a recognizer. It is unavailable without an API key.
func NewRecognizer(cfg Config, logger *zap.Logger) *Recognizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recognizer{cfg: cfg.withDefaults(), logger: logger}
}

// Available reports whether credentials are configured.
func (r *Recognizer) Available() bool {
	return r.cfg.APIKey != ""
}

// SampleRate is the PCM16 rate SendAudio expects.
func (r *Recognizer) SampleRate() int {
	return r.cfg.SampleRate
}

// Start dials the listen endpoint. The first event is always Listening.
func (r *Recognizer) Start(ctx context.Context) (speech.Recognition, error) {
	if !r.Available() {
		return nil, speech.ErrUnavailable
	}

	query := url.Values{}
	query.Set("encoding", "linear16")
	query.Set("sample_rate", strconv.Itoa(r.cfg.SampleRate))
	query.Set("channels", "1")
	query.Set("model", r.cfg.Model)
	query.Set("language", r.cfg.Language)
	query.Set("smart_format", "true")
	query.Set("interim_results", "true")
	query.Set("endpointing", strconv.Itoa(r.cfg.EndpointingMs))
	query.Set("utterance_end_ms", strconv.Itoa(r.cfg.UtteranceEndMs))
	query.Set("vad_events", "true")

	conn, err := dial(ctx, r.cfg.ListenURL, query, r.cfg.APIKey, r.cfg.DialTimeout)
	if err != nil {
		return nil, err
	}

	rec := &recognition{
		conn:      conn,
		events:    make(chan speech.RecognitionEvent, 16),
		done:      make(chan struct{}),
		cfg:       r.cfg,
		logger:    r.logger,
		startedAt: time.Now(),
	}
	rec.lastAudio.Store(time.Now().UnixNano())
	rec.events <- speech.Listening()

	go rec.readLoop()
	go rec.keepAlive()
	return rec, nil
}

type recognition struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	events chan speech.RecognitionEvent
	done   chan struct{}

	closeOnce sync.Once
	timedOut  atomic.Bool
	heard     atomic.Bool
	lastAudio atomic.Int64

	cfg       Config
	logger    *zap.Logger
	startedAt time.Time
}

func (r *recognition) Events() <-chan speech.RecognitionEvent {
	return r.events
}

func (r *recognition) SendAudio(pcm []byte) error {
	select {
	case <-r.done:
		return fmt.Errorf("recognition closed")
	default:
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.lastAudio.Store(time.Now().UnixNano())
	if err := r.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		return fmt.Errorf("write audio to deepgram: %w", err)
	}
	return nil
}

// Close asks the server to finish the stream and drops the socket.
func (r *recognition) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		r.writeMu.Lock()
		if writeErr := r.conn.WriteJSON(controlMessage{Type: string(api.TypeCloseStreamResponse)}); writeErr != nil {
			r.logger.Debug("deepgram close stream failed", zap.Error(writeErr))
		}
		r.writeMu.Unlock()
		err = r.conn.Close()
	})
	return err
}

func (r *recognition) readLoop() {
	defer close(r.events)

	var acc transcriptAccumulator
	for {
		msgType, msg, err := r.conn.ReadMessage()
		if err != nil {
			r.onReadError(err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		events, err := acc.handle(msg)
		if err != nil {
			r.logger.Warn("deepgram message dropped", zap.Error(err))
			continue
		}
		if acc.heardSpeech {
			r.heard.Store(true)
		}
		for _, ev := range events {
			if !r.emit(ev) {
				return
			}
			if ev.Terminal() {
				_ = r.Close()
				return
			}
		}
	}
}

func (r *recognition) onReadError(err error) {
	if r.timedOut.Load() {
		// done is already closed; the buffer still has room for one event.
		select {
		case r.events <- speech.Failure(speech.ReasonSpeechTimeout):
		default:
		}
		return
	}
	select {
	case <-r.done:
		return
	default:
	}

	if isNormalClose(err) {
		r.emit(speech.Idle())
	} else {
		r.logger.Warn("deepgram listen socket failed", zap.Error(err))
		r.emit(speech.Failure(classifyTransport(err)))
	}
	_ = r.Close()
}

// emit delivers an event unless the activation was closed by the caller.
func (r *recognition) emit(ev speech.RecognitionEvent) bool {
	select {
	case r.events <- ev:
		return true
	case <-r.done:
		return false
	}
}

func (r *recognition) keepAlive() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastKeepAlive := time.Now()
	for {
		select {
		case <-r.done:
			return
		case now := <-ticker.C:
			if !r.heard.Load() && now.Sub(r.startedAt) >= r.cfg.NoSpeechTimeout {
				r.timedOut.Store(true)
				_ = r.Close()
				return
			}

			idle := now.Sub(time.Unix(0, r.lastAudio.Load()))
			if idle < r.cfg.KeepAliveInterval || now.Sub(lastKeepAlive) < r.cfg.KeepAliveInterval {
				continue
			}
			lastKeepAlive = now
			r.writeMu.Lock()
			err := r.conn.WriteJSON(keepAliveMsg)
			r.writeMu.Unlock()
			if err != nil {
				r.logger.Debug("deepgram keepalive failed", zap.Error(err))
			}
		}
	}
}
