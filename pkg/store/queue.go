package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harun/closedai/pkg/session"
)

// claimAttempts bounds how often ClaimNextPending retries after losing a race.
const claimAttempts = 3

// EnqueueItem inserts a new queue item.
func (s *Store) EnqueueItem(ctx context.Context, item session.QueueItem) error {
	defer s.observe("enqueue", time.Now())

	if item.ID == "" {
		return errors.New("queue item id is required")
	}
	if err := session.ValidateConversationID(item.ConversationID); err != nil {
		return err
	}
	if item.Status == "" {
		item.Status = session.QueueStatusPending
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}

	media, err := encodeMedia(item.Media)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO queue_items (id, conversation_id, sender_id, user_message, media, status, created_at, last_attempt, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.ConversationID, item.SenderID, item.UserMessage, media, string(item.Status),
		toUnix(item.CreatedAt), toUnix(item.LastAttempt), item.Attempts,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue item: %w", err)
	}
	return nil
}

// GetQueueItem returns a queue item by ID.
func (s *Store) GetQueueItem(ctx context.Context, id string) (*session.QueueItem, error) {
	row := s.db.QueryRowContext(ctx, selectQueueItem+` WHERE id = ?`, id)
	item, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return item, err
}

// ListQueueItems returns every queue item, oldest first.
func (s *Store) ListQueueItems(ctx context.Context) ([]session.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, selectQueueItem+` ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	defer rows.Close()

	var items []session.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// CountPending returns the number of pending queue items.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_items WHERE status = 'pending'`).Scan(&n)
	return n, err
}

// ClaimNextPending moves the oldest pending item to processing and returns
// it. The claim is a conditional update so concurrent workers never run the
// same item. ErrNotFound means the queue has nothing pending.
func (s *Store) ClaimNextPending(ctx context.Context) (*session.QueueItem, error) {
	defer s.observe("claim", time.Now())

	for i := 0; i < claimAttempts; i++ {
		var id string
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM queue_items WHERE status = 'pending' ORDER BY created_at ASC, id ASC LIMIT 1`,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to select pending item: %w", err)
		}

		res, err := s.db.ExecContext(ctx,
			`UPDATE queue_items SET status = 'processing', last_attempt = ? WHERE id = ? AND status = 'pending'`,
			toUnix(s.now()), id,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to claim item: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return s.GetQueueItem(ctx, id)
		}
		s.logger.Debug().Str("queue_item_id", id).Msg("Lost claim race, retrying")
	}
	return nil, ErrNotFound
}

// ResetToPending returns a claimed item to the queue and counts the attempt.
func (s *Store) ResetToPending(ctx context.Context, id string) error {
	defer s.observe("reset", time.Now())

	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET status = 'pending', attempts = attempts + 1, last_attempt = ? WHERE id = ?`,
		toUnix(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to reset item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteQueueItem removes an item.
func (s *Store) DeleteQueueItem(ctx context.Context, id string) error {
	defer s.observe("delete_item", time.Now())

	res, err := s.db.ExecContext(ctx, `DELETE FROM queue_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecoverStale returns processing items whose last attempt is older than
// maxAge to pending. Items are left processing when a worker dies mid-run.
func (s *Store) RecoverStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := toUnix(s.now().Add(-maxAge))
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET status = 'pending' WHERE status = 'processing' AND last_attempt < ?`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale items: %w", err)
	}
	return res.RowsAffected()
}

const selectQueueItem = `SELECT id, conversation_id, sender_id, user_message, media, status, created_at, last_attempt, attempts FROM queue_items`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQueueItem(row rowScanner) (*session.QueueItem, error) {
	var (
		item        session.QueueItem
		media       sql.NullString
		status      string
		createdAt   int64
		lastAttempt int64
	)
	if err := row.Scan(&item.ID, &item.ConversationID, &item.SenderID, &item.UserMessage, &media, &status, &createdAt, &lastAttempt, &item.Attempts); err != nil {
		return nil, err
	}
	item.Status = session.QueueStatus(status)
	item.CreatedAt = fromUnix(createdAt)
	item.LastAttempt = fromUnix(lastAttempt)
	if media.Valid && media.String != "" {
		if err := json.Unmarshal([]byte(media.String), &item.Media); err != nil {
			return nil, fmt.Errorf("failed to decode media: %w", err)
		}
	}
	return &item, nil
}

func encodeMedia(media []session.InlineMedia) (sql.NullString, error) {
	if len(media) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(media)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode media: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
