package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateConversation inserts the conversation if it does not exist yet and
// returns the stored record. created reports whether this call inserted it.
// a and b must already be normalized; they are stored in sorted order.
func (db *DB) CreateConversation(ctx context.Context, id, a, b string) (conv *Conversation, created bool, err error) {
	if b < a {
		a, b = b, a
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, participant_a, participant_b, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, a, b, db.now())
	if err != nil {
		return nil, false, fmt.Errorf("insert conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	for _, uid := range []string{a, b} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO participants (user_id, conversation_id) VALUES (?, ?)
			ON CONFLICT(user_id, conversation_id) DO NOTHING`, uid, id); err != nil {
			return nil, false, fmt.Errorf("insert participant %q: %w", uid, err)
		}
	}

	conv, err = getConversation(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return conv, n == 1, nil
}

// GetConversation returns a conversation by id, or ErrConversationNotFound.
func (db *DB) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return getConversation(ctx, db.DB, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getConversation(ctx context.Context, q queryRower, id string) (*Conversation, error) {
	var c Conversation
	err := q.QueryRowContext(ctx, `
		SELECT id, participant_a, participant_b, created_at
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrConversationNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListUserConversations returns the ids of every conversation userID takes
// part in.
func (db *DB) ListUserConversations(ctx context.Context, userID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT conversation_id FROM participants
		WHERE user_id = ?
		ORDER BY conversation_id`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ConversationCount returns the total number of conversations.
func (db *DB) ConversationCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
