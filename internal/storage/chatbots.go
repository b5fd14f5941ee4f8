package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

const chatbotColumns = "id, user_id, name, description, personality, knowledge_base, appearance, settings, active, created_at, updated_at"

func (s *Store) CreateChatbot(ctx context.Context, b Chatbot) (Chatbot, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	kb, appearance, settings, err := marshalBotBlobs(b)
	if err != nil {
		return Chatbot{}, err
	}

	q := s.sql.Insert("chatbots").
		Columns("id", "user_id", "name", "description", "personality", "knowledge_base", "appearance", "settings", "active").
		Values(b.ID, b.UserID, b.Name, b.Description, b.Personality, kb, appearance, settings, true)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Chatbot{}, fmt.Errorf("build create chatbot query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return Chatbot{}, fmt.Errorf("create chatbot: %w", err)
	}

	if err := s.bumpChatbotsCreated(ctx, b.UserID); err != nil {
		return Chatbot{}, err
	}
	return s.GetChatbot(ctx, b.ID)
}

func (s *Store) GetChatbot(ctx context.Context, id string) (Chatbot, error) {
	return s.getChatbot(ctx, sq.Eq{"id": id})
}

// GetActiveChatbot is the widget-surface lookup: deactivated bots are
// indistinguishable from missing ones.
func (s *Store) GetActiveChatbot(ctx context.Context, id string) (Chatbot, error) {
	return s.getChatbot(ctx, sq.Eq{"id": id, "active": true})
}

func (s *Store) getChatbot(ctx context.Context, where sq.Sqlizer) (Chatbot, error) {
	q := s.sql.Select(chatbotColumns).From("chatbots").Where(where)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Chatbot{}, fmt.Errorf("build get chatbot query: %w", err)
	}
	b, err := scanChatbot(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Chatbot{}, ErrNotFound
		}
		return Chatbot{}, fmt.Errorf("get chatbot: %w", err)
	}
	return b, nil
}

func (s *Store) ListChatbots(ctx context.Context, userID string) ([]Chatbot, error) {
	q := s.sql.Select(chatbotColumns).
		From("chatbots").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list chatbots query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list chatbots: %w", err)
	}
	defer rows.Close()

	out := make([]Chatbot, 0)
	for rows.Next() {
		b, err := scanChatbot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chatbot row: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chatbot rows: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateChatbot(ctx context.Context, b Chatbot) (Chatbot, error) {
	kb, appearance, settings, err := marshalBotBlobs(b)
	if err != nil {
		return Chatbot{}, err
	}

	q := s.sql.Update("chatbots").
		Set("name", b.Name).
		Set("description", b.Description).
		Set("personality", b.Personality).
		Set("knowledge_base", kb).
		Set("appearance", appearance).
		Set("settings", settings).
		Set("updated_at", nowExpr(s.driver)).
		Where(sq.Eq{"id": b.ID, "user_id": b.UserID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Chatbot{}, fmt.Errorf("build update chatbot query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return Chatbot{}, fmt.Errorf("update chatbot: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Chatbot{}, ErrNotFound
	}
	return s.GetChatbot(ctx, b.ID)
}

func (s *Store) SetChatbotActive(ctx context.Context, id, userID string, active bool) error {
	q := s.sql.Update("chatbots").
		Set("active", active).
		Set("updated_at", nowExpr(s.driver)).
		Where(sq.Eq{"id": id, "user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build set chatbot active query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("set chatbot active: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChatbot(row rowScanner) (Chatbot, error) {
	var b Chatbot
	var kb, appearance, settings string
	if err := row.Scan(
		&b.ID, &b.UserID, &b.Name, &b.Description, &b.Personality,
		&kb, &appearance, &settings, &b.Active, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return Chatbot{}, err
	}

	b.KnowledgeBase = []string{}
	if kb != "" {
		if err := json.Unmarshal([]byte(kb), &b.KnowledgeBase); err != nil {
			return Chatbot{}, fmt.Errorf("decode knowledge base: %w", err)
		}
	}
	b.Appearance = map[string]string{}
	if appearance != "" {
		if err := json.Unmarshal([]byte(appearance), &b.Appearance); err != nil {
			return Chatbot{}, fmt.Errorf("decode appearance: %w", err)
		}
	}
	b.Settings = DefaultBotSettings()
	if settings != "" && settings != "{}" {
		if err := json.Unmarshal([]byte(settings), &b.Settings); err != nil {
			return Chatbot{}, fmt.Errorf("decode settings: %w", err)
		}
	}
	return b, nil
}

func marshalBotBlobs(b Chatbot) (kb, appearance, settings string, err error) {
	if b.KnowledgeBase == nil {
		b.KnowledgeBase = []string{}
	}
	if b.Appearance == nil {
		b.Appearance = map[string]string{}
	}

	kbBytes, err := json.Marshal(b.KnowledgeBase)
	if err != nil {
		return "", "", "", fmt.Errorf("encode knowledge base: %w", err)
	}
	apBytes, err := json.Marshal(b.Appearance)
	if err != nil {
		return "", "", "", fmt.Errorf("encode appearance: %w", err)
	}
	stBytes, err := json.Marshal(b.Settings)
	if err != nil {
		return "", "", "", fmt.Errorf("encode settings: %w", err)
	}
	return string(kbBytes), string(apBytes), string(stBytes), nil
}
