package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"
)

// PreviewLen bounds LastMessagePreview in bytes.
const PreviewLen = 100

const summarySelect = `
	SELECT c.id, c.participant_a, c.participant_b, c.created_at,
		COALESCE((SELECT m.content FROM messages m WHERE m.conversation_id = c.id ORDER BY m.seq DESC LIMIT 1), ''),
		COALESCE((SELECT MAX(m.sent_at) FROM messages m WHERE m.conversation_id = c.id), 0),
		(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id AND m.sender_id != ? AND m.read = 0)
	FROM conversations c`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner, viewerID string) (*Summary, error) {
	var (
		c       Conversation
		s       Summary
		preview string
	)
	if err := row.Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &c.CreatedAt, &preview, &s.LastMessageAt, &s.UnreadCount); err != nil {
		return nil, err
	}
	s.ConversationID = c.ID
	s.OtherParticipantID = c.Other(viewerID)
	s.LastMessagePreview = truncate(preview, PreviewLen)
	s.CreatedAt = c.CreatedAt
	return &s, nil
}

// Summary computes the summary of one conversation as seen by viewerID.
func (db *DB) Summary(ctx context.Context, conversationID, viewerID string) (*Summary, error) {
	row := db.QueryRowContext(ctx, summarySelect+`
		WHERE c.id = ? AND (c.participant_a = ? OR c.participant_b = ?)`,
		viewerID, conversationID, viewerID, viewerID)
	s, err := scanSummary(row, viewerID)
	if errors.Is(err, sql.ErrNoRows) {
		if _, cerr := db.GetConversation(ctx, conversationID); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("%w: %q in %q", ErrNotParticipant, viewerID, conversationID)
	}
	return s, err
}

// Summaries computes the summaries of every conversation viewerID takes
// part in, most recently active first.
func (db *DB) Summaries(ctx context.Context, viewerID string) ([]Summary, error) {
	rows, err := db.QueryContext(ctx, summarySelect+`
		JOIN participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?`, viewerID, viewerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Summary
	for rows.Next() {
		s, err := scanSummary(rows, viewerID)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	SortSummaries(out)
	return out, nil
}

// SortSummaries orders summaries by last activity, newest first.
func SortSummaries(s []Summary) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].LastMessageAt != s[j].LastMessageAt {
			return s[i].LastMessageAt > s[j].LastMessageAt
		}
		if s[i].CreatedAt != s[j].CreatedAt {
			return s[i].CreatedAt > s[j].CreatedAt
		}
		return s[i].ConversationID < s[j].ConversationID
	})
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen]
}
