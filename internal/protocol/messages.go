// Package protocol defines the JSON frames exchanged with websocket clients.
package protocol

import (
	"github.com/xiaoai/assistant/internal/conversation"
	"github.com/xiaoai/assistant/internal/session"
	"github.com/xiaoai/assistant/internal/storage"
)

// Client command types.
const (
	CmdTextInput         = "text-input"
	CmdUpdateInput       = "update-input"
	CmdStartListening    = "start-listening"
	CmdStopListening     = "stop-listening"
	CmdMicAudioData      = "mic-audio-data"
	CmdSelectImage       = "select-image"
	CmdSelectVideo       = "select-video"
	CmdClearMedia        = "clear-media"
	CmdStopSpeaking      = "stop-speaking"
	CmdClearError        = "clear-error"
	CmdClearConversation = "clear-conversation"
	CmdFetchHistoryList  = "fetch-history-list"
	CmdFetchHistory      = "fetch-and-set-history"
	CmdCreateHistory     = "create-new-history"
	CmdDeleteHistory     = "delete-history"
	CmdHeartbeat         = "heartbeat"
)

// Server event types.
const (
	EventSessionReady   = "session-ready"
	EventSessionState   = "session-state"
	EventConversation   = "conversation"
	EventAudio          = "audio"
	EventHistoryList    = "history-list"
	EventHistoryData    = "history-data"
	EventHistoryCreated = "new-history-created"
	EventHistoryDeleted = "history-deleted"
	EventError          = "error"
)

// ClientCommand is a command sent by the frontend. Audio arrives either as
// float samples in Audio or as base64 PCM16 in AudioPCM.
type ClientCommand struct {
	Type       string    `json:"type"`
	Text       string    `json:"text,omitempty"`
	Ref        string    `json:"ref,omitempty"`
	Audio      []float64 `json:"audio,omitempty"`
	AudioPCM   string    `json:"audio_pcm,omitempty"`
	AudioRate  int       `json:"audio_sample_rate,omitempty"`
	AudioCh    int       `json:"audio_channels,omitempty"`
	HistoryUID string    `json:"history_uid,omitempty"`
}

// SessionReady is sent once after the upgrade.
type SessionReady struct {
	Type        string `json:"type"`
	ClientUID   string `json:"client_uid"`
	PersonaName string `json:"persona_name"`
	AudioFormat string `json:"audio_format"`
	SampleRate  int    `json:"audio_sample_rate"`
}

// SessionState mirrors the orchestrator snapshot.
type SessionState struct {
	Type  string        `json:"type"`
	State session.State `json:"state"`
}

// Conversation carries the whole message log.
type Conversation struct {
	Type     string                 `json:"type"`
	Messages []conversation.Message `json:"messages"`
}

// Audio is one chunk of synthesized speech. AudioPCM holds base64 PCM16
// for the pcm16 format and a base64 opus packet for opus.
type Audio struct {
	Type        string    `json:"type"`
	AudioPCM    string    `json:"audio_pcm"`
	AudioFormat string    `json:"audio_format"`
	SampleRate  int       `json:"audio_sample_rate"`
	Channels    int       `json:"audio_channels"`
	Volumes     []float64 `json:"volumes,omitempty"`
	SliceLength int       `json:"slice_length"`
}

// HistoryList answers fetch-history-list.
type HistoryList struct {
	Type      string         `json:"type"`
	Histories []storage.Info `json:"histories"`
}

// HistoryData answers fetch-and-set-history.
type HistoryData struct {
	Type       string                 `json:"type"`
	HistoryUID string                 `json:"history_uid"`
	Messages   []conversation.Message `json:"messages"`
}

// HistoryCreated answers create-new-history.
type HistoryCreated struct {
	Type       string `json:"type"`
	HistoryUID string `json:"history_uid"`
}

// HistoryDeleted answers delete-history.
type HistoryDeleted struct {
	Type       string `json:"type"`
	Success    bool   `json:"success"`
	HistoryUID string `json:"history_uid"`
}

// Error reports a failed command.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewError builds an error event.
func NewError(message string) Error {
	return Error{Type: EventError, Message: message}
}
