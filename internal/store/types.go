package store

// Conversation is a two-party conversation. ParticipantA sorts before
// ParticipantB.
type Conversation struct {
	ID           string
	ParticipantA string
	ParticipantB string
	CreatedAt    int64
}

// HasParticipant reports whether userID takes part in the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	return userID == c.ParticipantA || userID == c.ParticipantB
}

// Other returns the participant that is not userID.
func (c *Conversation) Other(userID string) string {
	if userID == c.ParticipantA {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// Message is one entry of a conversation's append-only log. ID is the
// per-conversation sequence number.
type Message struct {
	ID             int64
	ConversationID string
	SenderID       string
	Content        string
	SentAt         int64
	Read           bool
}

// Summary is a viewer-relative projection of a conversation.
type Summary struct {
	ConversationID     string
	OtherParticipantID string
	LastMessagePreview string
	LastMessageAt      int64
	UnreadCount        int
	CreatedAt          int64
}
