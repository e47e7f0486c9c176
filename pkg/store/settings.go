package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// UpdateCursorKey holds the last processed chat update id for batch runs.
const UpdateCursorKey = "telegram.update_cursor"

// GetSetting returns a stored value or ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	defer s.observe("get_setting", time.Now())

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, nil
}

// PutSetting inserts or replaces a value.
func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	defer s.observe("put_setting", time.Now())

	if key == "" {
		return errors.New("setting key is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, toUnix(s.now()),
	)
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

// UpdateCursor returns the last processed update id, zero when unset.
func (s *Store) UpdateCursor(ctx context.Context) (int, error) {
	value, err := s.GetSetting(ctx, UpdateCursorKey)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	id, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid update cursor %q: %w", value, err)
	}
	return id, nil
}

// SetUpdateCursor records the last processed update id.
func (s *Store) SetUpdateCursor(ctx context.Context, updateID int) error {
	return s.PutSetting(ctx, UpdateCursorKey, strconv.Itoa(updateID))
}
