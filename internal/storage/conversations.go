package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// GetOrCreateConversation finds the conversation for (chatbotID, sessionID) or
// creates it. The insert races safely: the unique constraint plus ON CONFLICT
// DO NOTHING guarantees a single row even for concurrent first messages.
func (s *Store) GetOrCreateConversation(ctx context.Context, chatbotID, sessionID string) (Conversation, error) {
	q := s.sql.Insert("conversations").
		Columns("id", "chatbot_id", "session_id", "started_at").
		Values(uuid.NewString(), chatbotID, sessionID, time.Now().UTC()).
		Suffix("ON CONFLICT(chatbot_id, session_id) DO NOTHING")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Conversation{}, fmt.Errorf("build conversation upsert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return Conversation{}, fmt.Errorf("upsert conversation: %w", err)
	}

	return s.getConversation(ctx, sq.Eq{"chatbot_id": chatbotID, "session_id": sessionID})
}

func (s *Store) GetConversation(ctx context.Context, id string) (Conversation, error) {
	return s.getConversation(ctx, sq.Eq{"id": id})
}

func (s *Store) getConversation(ctx context.Context, where sq.Sqlizer) (Conversation, error) {
	q := s.sql.Select("id", "chatbot_id", "session_id", "visitor_info", "started_at", "ended_at").
		From("conversations").
		Where(where)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Conversation{}, fmt.Errorf("build get conversation query: %w", err)
	}

	var c Conversation
	var visitorInfo sql.NullString
	var endedAt sql.NullTime
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(
		&c.ID, &c.ChatbotID, &c.SessionID, &visitorInfo, &c.StartedAt, &endedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	if visitorInfo.Valid {
		c.VisitorInfo = &visitorInfo.String
	}
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	return c, nil
}

// SetVisitorInfo records visitor metadata once; later submissions for the same
// conversation are ignored.
func (s *Store) SetVisitorInfo(ctx context.Context, conversationID, info string) error {
	q := s.sql.Update("conversations").
		Set("visitor_info", info).
		Where(sq.Eq{"id": conversationID}).
		Where("visitor_info IS NULL")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build set visitor info query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("set visitor info: %w", err)
	}
	return nil
}

// EndConversation transitions OPEN -> CLOSED. Ending an already closed
// conversation is a no-op, not an error.
func (s *Store) EndConversation(ctx context.Context, id string) error {
	q := s.sql.Update("conversations").
		Set("ended_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		Where("ended_at IS NULL")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build end conversation query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("end conversation: %w", err)
	}
	return nil
}

func (s *Store) ListConversations(ctx context.Context, chatbotID string) ([]Conversation, error) {
	q := s.sql.Select("id", "chatbot_id", "session_id", "visitor_info", "started_at", "ended_at").
		From("conversations").
		Where(sq.Eq{"chatbot_id": chatbotID}).
		OrderBy("started_at DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list conversations query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := make([]Conversation, 0)
	for rows.Next() {
		var c Conversation
		var visitorInfo sql.NullString
		var endedAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.ChatbotID, &c.SessionID, &visitorInfo, &c.StartedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		if visitorInfo.Valid {
			c.VisitorInfo = &visitorInfo.String
		}
		if endedAt.Valid {
			t := endedAt.Time
			c.EndedAt = &t
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return out, nil
}

// AppendMessage writes one immutable message row with a server-assigned
// timestamp and returns it.
func (s *Store) AppendMessage(ctx context.Context, conversationID, role, content string) (Message, error) {
	m := Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}

	q := s.sql.Insert("messages").
		Columns("conversation_id", "role", "content", "created_at").
		Values(m.ConversationID, m.Role, m.Content, m.CreatedAt).
		Suffix("RETURNING id")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Message{}, fmt.Errorf("build append message query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&m.ID); err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	q := s.sql.Select("id", "conversation_id", "role", "content", "created_at").
		From("messages").
		Where(sq.Eq{"conversation_id": conversationID}).
		OrderBy("created_at ASC", "id ASC")
	return s.queryMessages(ctx, q)
}

// RecentMessages returns the newest n messages in chronological order.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, n int) ([]Message, error) {
	if n < 1 {
		return []Message{}, nil
	}
	q := s.sql.Select("id", "conversation_id", "role", "content", "created_at").
		From("messages").
		Where(sq.Eq{"conversation_id": conversationID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(n))
	msgs, err := s.queryMessages(ctx, q)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Store) queryMessages(ctx context.Context, q sq.SelectBuilder) ([]Message, error) {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build messages query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}

func (s *Store) ChatbotAnalytics(ctx context.Context, chatbotID string) (BotAnalytics, error) {
	var a BotAnalytics

	q := s.sql.Select("COUNT(*)").From("conversations").Where(sq.Eq{"chatbot_id": chatbotID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return a, fmt.Errorf("build conversation count query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&a.Conversations); err != nil {
		return a, fmt.Errorf("count conversations: %w", err)
	}

	mq := s.sql.Select("COUNT(*)", "COALESCE(SUM(CASE WHEN m.role = 'visitor' THEN 1 ELSE 0 END), 0)").
		From("messages m").
		Join("conversations c ON m.conversation_id = c.id").
		Where(sq.Eq{"c.chatbot_id": chatbotID})
	sqlStr, args, err = mq.ToSql()
	if err != nil {
		return a, fmt.Errorf("build message count query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&a.Messages, &a.VisitorTurns); err != nil {
		return a, fmt.Errorf("count messages: %w", err)
	}
	return a, nil
}
