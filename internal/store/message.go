package store

import (
	"context"
	"fmt"
	"strings"
)

// Append adds a message to the end of a conversation's log. The sequence
// number and sentAt are assigned here; sentAt never goes backwards within a
// conversation even if the clock does.
func (db *DB) Append(ctx context.Context, conversationID, senderID, content string) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if len(content) > db.maxContent {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrContentTooLong, len(content), db.maxContent)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	conv, err := getConversation(ctx, tx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, fmt.Errorf("%w: %q in %q", ErrNotParticipant, senderID, conversationID)
	}

	var lastSeq, lastSentAt int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0), COALESCE(MAX(sent_at), 0)
		FROM messages WHERE conversation_id = ?`, conversationID).
		Scan(&lastSeq, &lastSentAt); err != nil {
		return nil, fmt.Errorf("read tail: %w", err)
	}

	msg := &Message{
		ID:             lastSeq + 1,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		SentAt:         max(db.now(), lastSentAt+1),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, seq, sender_id, content, sent_at, read)
		VALUES (?, ?, ?, ?, ?, 0)`,
		msg.ConversationID, msg.ID, msg.SenderID, msg.Content, msg.SentAt); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return msg, nil
}

// ListMessages returns every message of a conversation in ascending sentAt
// order, ties broken by sequence number.
func (db *DB) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	return db.ListMessagesPage(ctx, conversationID, 0, 0)
}

// ListMessagesPage returns messages with a sequence number greater than
// afterSeq, oldest first. A limit <= 0 returns all of them.
func (db *DB) ListMessagesPage(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]Message, error) {
	if _, err := getConversation(ctx, db.DB, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx, `
		SELECT seq, conversation_id, sender_id, content, sent_at, read
		FROM messages
		WHERE conversation_id = ? AND seq > ?
		ORDER BY sent_at ASC, seq ASC
		LIMIT ?`, conversationID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.SentAt, &m.Read); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkRead flags every unread message not sent by readerID as read and
// returns how many changed. Only messages already committed are affected.
func (db *DB) MarkRead(ctx context.Context, conversationID, readerID string) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	conv, err := getConversation(ctx, tx, conversationID)
	if err != nil {
		return 0, err
	}
	if !conv.HasParticipant(readerID) {
		return 0, fmt.Errorf("%w: %q in %q", ErrNotParticipant, readerID, conversationID)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE messages SET read = 1
		WHERE conversation_id = ? AND sender_id != ? AND read = 0`,
		conversationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int(n), nil
}
