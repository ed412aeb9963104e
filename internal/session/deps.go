package session

import (
	"context"

	"github.com/xiaoai/assistant/internal/conversation"
	"github.com/xiaoai/assistant/internal/media"
	"github.com/xiaoai/assistant/internal/settings"
)

// MediaLoader resolves media references into frames.
type MediaLoader interface {
	LoadImage(ctx context.Context, ref string) (media.Frame, error)
	ExtractVideoFrames(ctx context.Context, ref string, count int) ([]media.Frame, error)
}

// ModelClient produces assistant replies.
type ModelClient interface {
	CompleteText(ctx context.Context, prompt string, history []conversation.Message) (string, error)
	CompleteWithImage(ctx context.Context, frame media.Frame, question string) (string, error)
	CompleteWithVideo(ctx context.Context, frames []media.Frame, question string) (string, error)
}

// Preferences exposes the persisted settings the session reacts to.
type Preferences interface {
	Snapshot() settings.Settings
	APIKey() string
	Subscribe() (<-chan settings.Settings, func())
}

// Archive records finalized exchanges.
type Archive interface {
	Create() (string, error)
	Append(historyUID string, messages ...conversation.Message) error
}

type invalidator interface {
	Invalidate()
}
