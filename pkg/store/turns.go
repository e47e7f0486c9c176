package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harun/closedai/internal/observability"
	"github.com/harun/closedai/internal/tracing"
	"github.com/harun/closedai/pkg/session"
	"go.opentelemetry.io/otel/attribute"
)

// AppendTurn persists a turn at the end of its conversation's log.
func (s *Store) AppendTurn(ctx context.Context, turn session.Turn) error {
	defer s.observe("append_turn", time.Now())

	ctx, span := tracing.StartSpan(ctx, "closedai.store", "store.append_turn",
		attribute.String("conversation_id", turn.ConversationID),
		attribute.String("role", string(turn.Role)),
	)
	defer span.End()

	if err := turn.Validate(); err != nil {
		return fmt.Errorf("invalid turn: %w", err)
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.now()
	}

	parts, err := json.Marshal(turn.Parts)
	if err != nil {
		return fmt.Errorf("failed to encode parts: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO turns (conversation_id, role, parts, created_at) VALUES (?, ?, ?, ?)`,
		turn.ConversationID, string(turn.Role), string(parts), toUnix(turn.Timestamp),
	)
	if err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to append turn: %w", err)
	}

	observability.RecordTurnAppended(string(turn.Role))
	return nil
}

// RecentTurns returns up to limit turns of a conversation, newest first.
func (s *Store) RecentTurns(ctx context.Context, conversationID string, limit int) ([]session.Turn, error) {
	defer s.observe("recent_turns", time.Now())

	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, parts, created_at FROM turns WHERE conversation_id = ? ORDER BY id DESC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []session.Turn
	for rows.Next() {
		var (
			role      string
			parts     string
			createdAt int64
		)
		if err := rows.Scan(&role, &parts, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}

		turn := session.Turn{
			ConversationID: conversationID,
			Role:           session.Role(role),
			Timestamp:      fromUnix(createdAt),
		}
		if err := json.Unmarshal([]byte(parts), &turn.Parts); err != nil {
			s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("Skipping undecodable turn")
			continue
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// DeleteConversation removes every turn of a conversation and returns the count.
func (s *Store) DeleteConversation(ctx context.Context, conversationID string) (int64, error) {
	defer s.observe("delete_conversation", time.Now())

	res, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete conversation: %w", err)
	}
	return res.RowsAffected()
}

// RecentActivity returns up to limit turns across all conversations, newest first.
func (s *Store) RecentActivity(ctx context.Context, limit int) ([]session.Turn, error) {
	defer s.observe("recent_activity", time.Now())

	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, role, parts, created_at FROM turns ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	var turns []session.Turn
	for rows.Next() {
		var (
			turn      session.Turn
			role      string
			parts     string
			createdAt int64
		)
		if err := rows.Scan(&turn.ConversationID, &role, &parts, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turn.Role = session.Role(role)
		turn.Timestamp = fromUnix(createdAt)
		if err := json.Unmarshal([]byte(parts), &turn.Parts); err != nil {
			continue
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// ConversationActivity counts turns by role for one conversation.
type ConversationActivity struct {
	ConversationID string
	User           int
	Model          int
	Tool           int
}

// Activity returns per-conversation role counts ordered by conversation id.
func (s *Store) Activity(ctx context.Context) ([]ConversationActivity, error) {
	defer s.observe("activity", time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id,
			SUM(CASE WHEN role = 'user' THEN 1 ELSE 0 END),
			SUM(CASE WHEN role = 'model' THEN 1 ELSE 0 END),
			SUM(CASE WHEN role = 'tool' THEN 1 ELSE 0 END)
		FROM turns GROUP BY conversation_id ORDER BY conversation_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	var out []ConversationActivity
	for rows.Next() {
		var a ConversationActivity
		if err := rows.Scan(&a.ConversationID, &a.User, &a.Model, &a.Tool); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
