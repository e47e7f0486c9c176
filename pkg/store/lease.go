package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Lease is a named, expiring ownership record.
type Lease struct {
	Name      string
	Holder    string
	ExpiresAt time.Time
	UpdatedAt time.Time
}

// AcquireLease takes or renews the named lease for holder. It succeeds when
// the lease is free, already held by holder, or expired; otherwise it
// returns ErrLeaseHeld. The check and the write are one statement.
func (s *Store) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) error {
	defer s.observe("lease", time.Now())

	if name == "" || holder == "" {
		return errors.New("lease name and holder are required")
	}
	now := s.now()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO leases (name, holder, expires_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			holder = excluded.holder,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
		WHERE leases.holder = excluded.holder OR leases.expires_at < ?`,
		name, holder, toUnix(now.Add(ttl)), toUnix(now), toUnix(now),
	)
	if err != nil {
		return fmt.Errorf("failed to acquire lease: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrLeaseHeld
	}
	return nil
}

// ReleaseLease drops the lease if holder owns it.
func (s *Store) ReleaseLease(ctx context.Context, name, holder string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM leases WHERE name = ? AND holder = ?`, name, holder)
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// GetLease returns the current lease record.
func (s *Store) GetLease(ctx context.Context, name string) (*Lease, error) {
	var (
		lease     Lease
		expiresAt int64
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT name, holder, expires_at, updated_at FROM leases WHERE name = ?`, name,
	).Scan(&lease.Name, &lease.Holder, &expiresAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lease: %w", err)
	}
	lease.ExpiresAt = fromUnix(expiresAt)
	lease.UpdatedAt = fromUnix(updatedAt)
	return &lease, nil
}

// Live reports whether the lease has not expired at now.
func (l *Lease) Live(now time.Time) bool {
	return l != nil && now.Before(l.ExpiresAt)
}
