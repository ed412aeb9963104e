package deepgram

import (
	"encoding/json"
	"fmt"
	"strings"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/xiaoai/assistant/internal/speech"
)

const typeErrorResponse = "Error"

// transcriptAccumulator turns listen messages into recognition events.
// It is owned by the read loop and needs no locking.
type transcriptAccumulator struct {
	finalized   string
	heardSpeech bool
}

// handle returns the events produced by one text frame. A terminal event
// is always the last one.
func (a *transcriptAccumulator) handle(msg []byte) ([]speech.RecognitionEvent, error) {
	var parsed struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal deepgram message: %w", err)
	}

	switch api.TypeResponse(parsed.Type) {
	case api.TypeMessageResponse:
		var resp api.MessageResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			return nil, fmt.Errorf("unmarshal deepgram results: %w", err)
		}
		return a.onResults(resp), nil

	case api.TypeUtteranceEndResponse:
		var resp api.UtteranceEndResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			return nil, fmt.Errorf("unmarshal deepgram utterance end: %w", err)
		}
		return []speech.RecognitionEvent{a.finish()}, nil

	case api.TypeSpeechStartedResponse:
		a.heardSpeech = true
		return nil, nil
	}

	if parsed.Type == typeErrorResponse {
		return []speech.RecognitionEvent{speech.Failure(speech.ReasonServer)}, nil
	}
	return nil, nil
}

func (a *transcriptAccumulator) onResults(resp api.MessageResponse) []speech.RecognitionEvent {
	transcript := ""
	if len(resp.Channel.Alternatives) > 0 {
		transcript = strings.TrimSpace(resp.Channel.Alternatives[0].Transcript)
	}
	if transcript != "" {
		a.heardSpeech = true
	}

	var events []speech.RecognitionEvent
	if !resp.IsFinal {
		if transcript != "" {
			events = append(events, speech.Partial(join(a.finalized, transcript)))
		}
		return events
	}

	if transcript != "" {
		a.finalized = join(a.finalized, transcript)
		events = append(events, speech.Partial(a.finalized))
	}
	if resp.SpeechFinal && a.finalized != "" {
		events = append(events, a.finish())
	}
	return events
}

// finish ends the utterance: the accumulated text, or no-match when
// nothing was transcribed.
func (a *transcriptAccumulator) finish() speech.RecognitionEvent {
	text := strings.TrimSpace(a.finalized)
	a.finalized = ""
	if text == "" {
		return speech.Failure(speech.ReasonNoMatch)
	}
	return speech.Result(text)
}

func join(prefix string, next string) string {
	if prefix == "" {
		return next
	}
	return prefix + " " + next
}
