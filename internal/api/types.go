package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/courier/internal/convid"
	"github.com/matheus3301/courier/internal/hub"
	"github.com/matheus3301/courier/internal/identity"
	"github.com/matheus3301/courier/internal/store"
)

// Message is the wire form of store.Message. User ids on the wire are the
// caller-facing ids; conversation ids stay in their normalized form.
type Message struct {
	ID             int64  `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content"`
	SentAt         int64  `json:"sent_at"`
	Read           bool   `json:"read"`
}

// Summary is a conversation summary enriched with the other participant's
// profile.
type Summary struct {
	ConversationID     string `json:"conversation_id"`
	OtherParticipantID string `json:"other_participant_id"`
	OtherName          string `json:"other_name"`
	OtherAvatarURL     string `json:"other_avatar_url,omitempty"`
	LastMessagePreview string `json:"last_message_preview"`
	LastMessageAt      int64  `json:"last_message_at"`
	UnreadCount        int    `json:"unread_count"`
	CreatedAt          int64  `json:"created_at"`
}

// Conversation is the wire form of store.Conversation.
type Conversation struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
	CreatedAt    int64    `json:"created_at"`
}

type CreateConversationRequest struct {
	PeerID string `json:"peer_id"`
}

type ConversationResponse struct {
	Conversation Conversation `json:"conversation"`
}

type SendMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

type SendMessageResponse struct {
	Message Message `json:"message"`
}

type MarkReadRequest struct {
	ConversationID string `json:"conversation_id"`
}

type MarkReadResponse struct {
	Marked int `json:"marked"`
}

type ListMessagesRequest struct {
	ConversationID string `json:"conversation_id"`
	AfterSeq       int64  `json:"after_seq,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

type ListConversationsRequest struct{}

type ListConversationsResponse struct {
	Summaries []Summary `json:"summaries"`
}

type GetStatusRequest struct{}

type GetStatusResponse struct {
	Status        string `json:"status"`
	StatusMessage string `json:"status_message,omitempty"`
	UptimeMs      int64  `json:"uptime_ms"`
	Conversations int64  `json:"conversations"`
	Messages      int64  `json:"messages"`
	Subscriptions int    `json:"subscriptions"`
	Published     uint64 `json:"published"`
	Dropped       uint64 `json:"dropped"`
}

// WatchConversationRequest opens a live message stream. With Replay set,
// messages after AfterSeq are sent before live ones.
type WatchConversationRequest struct {
	ConversationID string `json:"conversation_id"`
	AfterSeq       int64  `json:"after_seq,omitempty"`
	Replay         bool   `json:"replay,omitempty"`
}

type WatchSummariesRequest struct{}

// Event kinds carried by EventEnvelope.
const (
	KindMessageAppended = hub.KindMessageAppended
	KindSummaryChanged  = hub.KindSummaryChanged
)

// EventEnvelope is one streamed event.
type EventEnvelope struct {
	EventID          string   `json:"event_id"`
	OccurredAtUnixMs int64    `json:"occurred_at_unix_ms"`
	Kind             string   `json:"kind"`
	Message          *Message `json:"message,omitempty"`
	Summary          *Summary `json:"summary,omitempty"`
}

// MessageFrom converts a stored message.
func MessageFrom(m store.Message) Message {
	return Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       convid.Unescape(m.SenderID),
		Content:        m.Content,
		SentAt:         m.SentAt,
		Read:           m.Read,
	}
}

// MessagesFrom converts a slice of stored messages.
func MessagesFrom(msgs []store.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageFrom(m))
	}
	return out
}

// SummaryFrom converts a summary, looking the other participant up in dir.
func SummaryFrom(s store.Summary, dir *identity.Directory) Summary {
	p := dir.Lookup(s.OtherParticipantID)
	return Summary{
		ConversationID:     s.ConversationID,
		OtherParticipantID: convid.Unescape(s.OtherParticipantID),
		OtherName:          p.Name,
		OtherAvatarURL:     p.AvatarURL,
		LastMessagePreview: s.LastMessagePreview,
		LastMessageAt:      s.LastMessageAt,
		UnreadCount:        s.UnreadCount,
		CreatedAt:          s.CreatedAt,
	}
}

// SummariesFrom converts a slice of summaries.
func SummariesFrom(sums []store.Summary, dir *identity.Directory) []Summary {
	out := make([]Summary, 0, len(sums))
	for _, s := range sums {
		out = append(out, SummaryFrom(s, dir))
	}
	return out
}

// ConversationFrom converts a stored conversation.
func ConversationFrom(c *store.Conversation) Conversation {
	return Conversation{
		ID:           c.ID,
		Participants: []string{convid.Unescape(c.ParticipantA), convid.Unescape(c.ParticipantB)},
		CreatedAt:    c.CreatedAt,
	}
}

func messageEnvelope(e hub.MessageAppended) *EventEnvelope {
	m := MessageFrom(e.Message)
	return &EventEnvelope{
		EventID:          uuid.NewString(),
		OccurredAtUnixMs: time.Now().UnixMilli(),
		Kind:             KindMessageAppended,
		Message:          &m,
	}
}

func summaryEnvelope(e hub.SummaryChanged, dir *identity.Directory) *EventEnvelope {
	s := SummaryFrom(e.Summary, dir)
	return &EventEnvelope{
		EventID:          uuid.NewString(),
		OccurredAtUnixMs: time.Now().UnixMilli(),
		Kind:             KindSummaryChanged,
		Summary:          &s,
	}
}
