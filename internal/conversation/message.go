package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Author identifies who wrote a message.
type Author string

const (
	AuthorUser      Author = "user"
	AuthorAssistant Author = "assistant"
)

// Message is one entry of the conversation log.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Author    Author    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	ImageRef  string    `json:"image_ref,omitempty"`
	VideoRef  string    `json:"video_ref,omitempty"`
	Pending   bool      `json:"pending"`
}

// NewUserMessage creates a user message carrying optional media refs.
func NewUserMessage(content string, imageRef string, videoRef string) Message {
	return Message{
		ID:        uuid.NewString(),
		Content:   content,
		Author:    AuthorUser,
		CreatedAt: time.Now(),
		ImageRef:  imageRef,
		VideoRef:  videoRef,
	}
}

// NewAssistantMessage creates a finalized assistant message.
func NewAssistantMessage(content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Content:   content,
		Author:    AuthorAssistant,
		CreatedAt: time.Now(),
	}
}

// NewPendingAssistantMessage creates the empty "thinking" placeholder.
func NewPendingAssistantMessage() Message {
	msg := NewAssistantMessage("")
	msg.Pending = true
	return msg
}

// IsUser reports whether the user wrote the message.
func (m Message) IsUser() bool {
	return m.Author == AuthorUser
}
