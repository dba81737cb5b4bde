package hub

import (
	"time"

	"github.com/matheus3301/courier/internal/store"
)

// Event kinds.
const (
	KindMessageAppended = "conversation.message_appended"
	KindSummaryChanged  = "user.summary_changed"
)

// Event is what the hub queues for a subscriber.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// MessageAppended is published after a message is durably appended.
type MessageAppended struct {
	ConversationID string
	Message        store.Message
}

// SummaryChanged is published when a user's view of a conversation changes.
type SummaryChanged struct {
	UserID  string
	Summary store.Summary
}

// MessageHandler receives MessageAppended events for one conversation.
type MessageHandler func(MessageAppended) error

// SummaryHandler receives SummaryChanged events for one user.
type SummaryHandler func(SummaryChanged) error

func conversationTopic(id string) string { return "conversation/" + id }

func userTopic(id string) string { return "user/" + id }
