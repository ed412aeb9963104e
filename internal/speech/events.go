package speech

// RecognitionEventKind enumerates recognizer events.
type RecognitionEventKind string

const (
	RecognitionListening RecognitionEventKind = "listening"
	RecognitionPartial   RecognitionEventKind = "partial"
	RecognitionResult    RecognitionEventKind = "result"
	RecognitionError     RecognitionEventKind = "error"
	RecognitionIdle      RecognitionEventKind = "idle"
)

// RecognitionEvent is a tagged recognizer event. Text is set for partial
// and final results, Reason for errors.
type RecognitionEvent struct {
	Kind   RecognitionEventKind
	Text   string
	Reason Reason
}

func Listening() RecognitionEvent { return RecognitionEvent{Kind: RecognitionListening} }

func Partial(text string) RecognitionEvent {
	return RecognitionEvent{Kind: RecognitionPartial, Text: text}
}

func Result(text string) RecognitionEvent {
	return RecognitionEvent{Kind: RecognitionResult, Text: text}
}

func Failure(reason Reason) RecognitionEvent {
	return RecognitionEvent{Kind: RecognitionError, Reason: reason}
}

func Idle() RecognitionEvent { return RecognitionEvent{Kind: RecognitionIdle} }

// SpeechEventKind enumerates playback events.
type SpeechEventKind string

const (
	SpeechIdle     SpeechEventKind = "idle"
	SpeechSpeaking SpeechEventKind = "speaking"
	SpeechDone     SpeechEventKind = "done"
	SpeechError    SpeechEventKind = "error"
)

// SpeechEvent is a tagged playback event. Message is set for errors.
type SpeechEvent struct {
	Kind    SpeechEventKind
	Message string
}

// Terminal reports whether the event ends the playback.
func (e SpeechEvent) Terminal() bool {
	return e.Kind == SpeechDone || e.Kind == SpeechError
}

// Terminal reports whether the event ends the activation.
func (e RecognitionEvent) Terminal() bool {
	return e.Kind == RecognitionResult || e.Kind == RecognitionError || e.Kind == RecognitionIdle
}
