package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// IncrementMessageUsage bumps the per-user counters on every message write.
// Counters only ever grow; period resets are an external billing concern.
func (s *Store) IncrementMessageUsage(ctx context.Context, userID string, contentBytes int64) error {
	q := s.sql.Insert("usage_stats").
		Columns("user_id", "messages_period", "messages_total", "chatbots_created", "storage_bytes", "updated_at").
		Values(userID, 1, 1, 0, contentBytes, nowExpr(s.driver)).
		Suffix("ON CONFLICT(user_id) DO UPDATE SET messages_period = usage_stats.messages_period + 1, messages_total = usage_stats.messages_total + 1, storage_bytes = usage_stats.storage_bytes + excluded.storage_bytes, updated_at = excluded.updated_at")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build usage upsert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("increment message usage: %w", err)
	}
	return nil
}

func (s *Store) bumpChatbotsCreated(ctx context.Context, userID string) error {
	q := s.sql.Insert("usage_stats").
		Columns("user_id", "messages_period", "messages_total", "chatbots_created", "storage_bytes", "updated_at").
		Values(userID, 0, 0, 1, 0, nowExpr(s.driver)).
		Suffix("ON CONFLICT(user_id) DO UPDATE SET chatbots_created = usage_stats.chatbots_created + 1, updated_at = excluded.updated_at")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build chatbot usage query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("bump chatbots created: %w", err)
	}
	return nil
}

func (s *Store) GetUsageStats(ctx context.Context, userID string) (UsageStats, error) {
	q := s.sql.Select("user_id", "messages_period", "messages_total", "chatbots_created", "storage_bytes", "updated_at").
		From("usage_stats").
		Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return UsageStats{}, fmt.Errorf("build get usage query: %w", err)
	}

	var u UsageStats
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(
		&u.UserID, &u.MessagesPeriod, &u.MessagesTotal, &u.ChatbotsCreated, &u.StorageBytes, &u.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UsageStats{UserID: userID}, nil
		}
		return UsageStats{}, fmt.Errorf("get usage stats: %w", err)
	}
	return u, nil
}
