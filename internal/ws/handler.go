package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	appconfig "github.com/xiaoai/assistant/internal/config"
	"github.com/xiaoai/assistant/internal/conversation"
	"github.com/xiaoai/assistant/internal/protocol"
	"github.com/xiaoai/assistant/internal/session"
	"github.com/xiaoai/assistant/internal/speech"
)

// Handler upgrades client connections and runs one assistant session per
// connection.
type Handler struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader
	config   appconfig.Config
	deps     Deps
	sessions map[string]*client
	mu       sync.Mutex
	// active counts Handle calls from registration until teardown is done.
	active sync.WaitGroup
}

// client is one websocket connection and the orchestrator it drives.
type client struct {
	conn      *websocket.Conn
	sendMu    sync.Mutex
	logger    *zap.Logger
	handler   *Handler
	clientUID string
	orch      *session.Orchestrator

	mic *micInput
	out *audioOutput
}

// NewHandler creates a websocket handler.
func NewHandler(logger *zap.Logger, deps Deps) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		logger:   logger,
		config:   deps.Config,
		deps:     deps,
		sessions: make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handle serves one client connection until it closes.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clientUID := uuid.NewString()
	logger := h.logger.With(zap.String("session_id", clientUID))
	c := &client{
		conn:      conn,
		logger:    logger,
		handler:   h,
		clientUID: clientUID,
	}
	c.out = newAudioOutput(h.config.Audio, c.sendJSON, logger)
	c.mic = newMicInput(h.config.Audio.ClientSampleRate, h.config.Deepgram.SampleRate)

	var recognizer speech.Recognizer
	var synthesizer speech.Synthesizer
	if h.deps.Speech != nil {
		recognizer, synthesizer = h.deps.Speech(speech.AudioSinkFunc(c.out.write), logger)
	}
	c.orch = session.New(session.Options{
		Recognizer:      recognizer,
		Synthesizer:     synthesizer,
		Loader:          h.deps.Loader,
		Model:           h.deps.Model,
		Settings:        h.deps.Settings,
		Archive:         h.deps.Archive,
		Logger:          logger,
		VideoFrameCount: h.config.Media.VideoFrameCount,
	})

	logger.Info("ws session opened",
		zap.String("remote", r.RemoteAddr),
		zap.String("audio_format", c.out.format),
		zap.Int("client_sample_rate", h.config.Audio.ClientSampleRate),
	)
	h.registerSession(c)

	c.sendJSON(protocol.SessionReady{
		Type:        protocol.EventSessionReady,
		ClientUID:   clientUID,
		PersonaName: h.config.Persona.Name,
		AudioFormat: c.out.format,
		SampleRate:  h.config.Deepgram.TTSSampleRate,
	})

	var forwarders sync.WaitGroup
	forwarders.Add(2)
	states, _ := c.orch.Subscribe()
	go func() {
		defer forwarders.Done()
		c.forwardState(states)
	}()
	messages, unsubscribe := c.orch.Store().Subscribe()
	go func() {
		defer forwarders.Done()
		c.forwardConversation(messages)
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			logger.Debug("ws connection closed", zap.Error(err))
			break
		}
		if msgType == websocket.BinaryMessage {
			c.handleBinary(ctx, data)
			continue
		}
		var cmd protocol.ClientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.sendError("invalid json")
			continue
		}
		if cmd.Type != protocol.CmdHeartbeat && cmd.Type != protocol.CmdMicAudioData {
			logger.Debug("ws incoming message", zap.String("type", cmd.Type))
		}
		c.dispatchIncoming(ctx, cmd)
	}

	c.orch.Close()
	unsubscribe()
	forwarders.Wait()
	c.mic.close()
	c.out.close()

	h.unregisterSession(clientUID)
	logger.Info("ws session closed")
}

func (c *client) handleBinary(ctx context.Context, data []byte) {
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	if frame.Kind == protocol.FrameCommand {
		var cmd protocol.ClientCommand
		if err := json.Unmarshal(frame.Payload, &cmd); err != nil {
			c.sendError("invalid json")
			return
		}
		c.dispatchIncoming(ctx, cmd)
		return
	}
	pcm, err := c.mic.convertPCM(frame.Payload, frame.SampleRate, frame.Channels)
	if err != nil {
		c.logger.Warn("mic audio dropped", zap.Error(err))
		c.sendError(err.Error())
		return
	}
	c.orch.FeedAudio(pcm)
}

func (c *client) forwardState(states <-chan session.State) {
	speaking := false
	for state := range states {
		if speaking && !state.Speaking {
			c.out.flush()
		}
		speaking = state.Speaking
		c.sendJSON(protocol.SessionState{Type: protocol.EventSessionState, State: state})
	}
}

func (c *client) forwardConversation(messages <-chan []conversation.Message) {
	for snapshot := range messages {
		c.sendJSON(protocol.Conversation{Type: protocol.EventConversation, Messages: snapshot})
	}
}

func (c *client) sendJSON(payload any) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.conn.WriteJSON(payload); err != nil {
		c.logger.Debug("ws send failed", zap.Error(err))
	}
}

func (c *client) sendError(message string) {
	c.sendJSON(protocol.NewError(message))
}

func (h *Handler) registerSession(c *client) {
	h.mu.Lock()
	h.sessions[c.clientUID] = c
	h.active.Add(1)
	h.mu.Unlock()
}

func (h *Handler) unregisterSession(clientUID string) {
	h.mu.Lock()
	delete(h.sessions, clientUID)
	h.mu.Unlock()
	h.active.Done()
}

// SessionCount reports the open connections.
func (h *Handler) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// CloseAll disconnects every client and waits until their sessions have
// released speech connections and finished in-flight dispatches, or until
// ctx is done.
func (h *Handler) CloseAll(ctx context.Context) error {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.sessions))
	for _, c := range h.sessions {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.sendMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
		c.sendMu.Unlock()
		_ = c.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		h.logger.Warn("ws sessions still closing", zap.Int("sessions", h.SessionCount()))
		return ctx.Err()
	}
}
