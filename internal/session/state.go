package session

import "github.com/xiaoai/assistant/internal/session/fsm"

// State is the observable session snapshot. A new value is published on
// every transition; published values are never mutated.
type State struct {
	Listening          bool      `json:"listening"`
	Speaking           bool      `json:"speaking"`
	Processing         bool      `json:"processing"`
	Phase              fsm.Phase `json:"phase"`
	DraftInput         string    `json:"draft_input"`
	PartialTranscript  string    `json:"partial_transcript"`
	LastError          string    `json:"last_error,omitempty"`
	PendingImageRef    string    `json:"pending_image_ref,omitempty"`
	PendingVideoRef    string    `json:"pending_video_ref,omitempty"`
	VoiceOutputEnabled bool      `json:"voice_output_enabled"`
	CredentialPresent  bool      `json:"credential_present"`
}

func (s State) withActivities(a fsm.Activities) State {
	s.Listening = a.Listening
	s.Processing = a.Processing
	s.Speaking = a.Speaking
	s.Phase = a.Phase()
	return s
}
