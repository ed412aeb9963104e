package speech

import "errors"

// Reason classifies a recognition failure.
type Reason string

const (
	ReasonAudio          Reason = "audio"
	ReasonClient         Reason = "client"
	ReasonPermission     Reason = "permission"
	ReasonNetwork        Reason = "network"
	ReasonNetworkTimeout Reason = "network-timeout"
	ReasonNoMatch        Reason = "no-match"
	ReasonBusy           Reason = "busy"
	ReasonServer         Reason = "server"
	ReasonSpeechTimeout  Reason = "speech-timeout"
	ReasonUnknown        Reason = "unknown"
)

var reasonMessages = map[Reason]string{
	ReasonAudio:          "Lỗi ghi âm",
	ReasonClient:         "Lỗi client",
	ReasonPermission:     "Không có quyền ghi âm",
	ReasonNetwork:        "Lỗi mạng",
	ReasonNetworkTimeout: "Hết thời gian kết nối",
	ReasonNoMatch:        "Không nhận diện được giọng nói",
	ReasonBusy:           "Bộ nhận diện đang bận",
	ReasonServer:         "Lỗi server",
	ReasonSpeechTimeout:  "Không nghe thấy giọng nói",
	ReasonUnknown:        "Lỗi không xác định",
}

// Message returns the user-facing text for the reason.
func (r Reason) Message() string {
	if msg, ok := reasonMessages[r]; ok {
		return msg
	}
	return reasonMessages[ReasonUnknown]
}

const (
	// UnavailableMessage is shown when recognition cannot start at all.
	UnavailableMessage = "Speech recognition không khả dụng"
	// SynthesizerNotReadyMessage is reported when speaking without a
	// usable synthesizer.
	SynthesizerNotReadyMessage = "Text-to-Speech chưa được khởi tạo"
	// PlaybackErrorMessage is reported when playback fails midway.
	PlaybackErrorMessage = "Lỗi phát âm"
)

// ReasonError carries a classified failure out of a provider.
type ReasonError struct {
	Reason Reason
	Err    error
}

func (e *ReasonError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return string(e.Reason) + ": " + e.Err.Error()
}

func (e *ReasonError) Unwrap() error { return e.Err }

// ReasonOf extracts the failure reason from err, defaulting to unknown.
func ReasonOf(err error) Reason {
	var reasonErr *ReasonError
	if errors.As(err, &reasonErr) {
		return reasonErr.Reason
	}
	return ReasonUnknown
}
