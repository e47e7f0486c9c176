package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/harun/closedai/pkg/store"
	"github.com/rs/zerolog"
)

const (
	// InstanceLease is the lease row every instance competes for.
	InstanceLease = "instance"

	// LeaseTTL is how long a lease stays live without a refresh.
	LeaseTTL = 90 * time.Second

	// HeartbeatSchedule refreshes the lease.
	HeartbeatSchedule = "@every 60s"
)

// LeaseStore persists instance leases.
type LeaseStore interface {
	AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, name, holder string) error
}

// Lease keeps this process's claim on the instance lease alive.
type Lease struct {
	store  LeaseStore
	holder string
	ttl    time.Duration
	logger zerolog.Logger

	mu   sync.Mutex
	held bool
}

// NewLease creates a lease handle for holder
func NewLease(st LeaseStore, holder string, ttl time.Duration, logger zerolog.Logger) *Lease {
	if holder == "" {
		host, _ := os.Hostname()
		holder = fmt.Sprintf("%s:%d", host, os.Getpid())
	}
	if ttl <= 0 {
		ttl = LeaseTTL
	}
	return &Lease{
		store:  st,
		holder: holder,
		ttl:    ttl,
		logger: logger,
	}
}

// Holder returns the identity written into the lease row
func (l *Lease) Holder() string {
	return l.holder
}

// Acquire claims the lease. store.ErrLeaseHeld means another live instance
// owns it.
func (l *Lease) Acquire(ctx context.Context) error {
	if err := l.store.AcquireLease(ctx, InstanceLease, l.holder, l.ttl); err != nil {
		return err
	}
	l.mu.Lock()
	l.held = true
	l.mu.Unlock()
	l.logger.Info().Str("holder", l.holder).Dur("ttl", l.ttl).Msg("Instance lease acquired")
	return nil
}

// Heartbeat renews the lease. Losing it is logged; the caller decides what
// to do with the returned error.
func (l *Lease) Heartbeat(ctx context.Context) error {
	err := l.store.AcquireLease(ctx, InstanceLease, l.holder, l.ttl)
	if err == nil {
		l.logger.Debug().Str("holder", l.holder).Msg("Heartbeat")
		return nil
	}
	if errors.Is(err, store.ErrLeaseHeld) {
		l.mu.Lock()
		l.held = false
		l.mu.Unlock()
		l.logger.Error().Str("holder", l.holder).Msg("Instance lease taken over by another instance")
	} else {
		l.logger.Warn().Err(err).Msg("Failed to refresh instance lease")
	}
	return err
}

// Held reports whether the last acquire or heartbeat succeeded
func (l *Lease) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Release gives the lease up so the next instance need not wait for expiry.
func (l *Lease) Release(ctx context.Context) error {
	l.mu.Lock()
	held := l.held
	l.held = false
	l.mu.Unlock()
	if !held {
		return nil
	}
	return l.store.ReleaseLease(ctx, InstanceLease, l.holder)
}
