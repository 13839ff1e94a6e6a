package gallery

import (
	"context"
	"strings"
	"time"
)

// Message is one row of feedback_messages.
type Message struct {
	ID        ID        `json:"id,omitempty"`
	Message   string    `json:"message"`
	IsAdmin   bool      `json:"is_admin"`
	ReplyTo   *string   `json:"reply_to"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

type FeedbackStore interface {
	InsertMessage(ctx context.Context, msg Message) (Message, error)
	// ListMessages returns messages oldest first.
	ListMessages(ctx context.Context) ([]Message, error)
}

type Feedback struct {
	store FeedbackStore
	now   func() time.Time
}

func NewFeedback(store FeedbackStore) *Feedback {
	return &Feedback{store: store, now: time.Now}
}

func (f *Feedback) List(ctx context.Context) ([]Message, error) {
	return f.store.ListMessages(ctx)
}

// Send posts a message. An empty replyTo starts a new thread.
func (f *Feedback) Send(ctx context.Context, message string, isAdmin bool, replyTo string) (Message, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Message{}, ErrEmptyMessage
	}

	msg := Message{
		Message:   message,
		IsAdmin:   isAdmin,
		CreatedAt: f.now(),
	}
	if replyTo = strings.TrimSpace(replyTo); replyTo != "" {
		msg.ReplyTo = &replyTo
	}
	return f.store.InsertMessage(ctx, msg)
}
