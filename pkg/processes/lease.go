package processes

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/portal-processes/pkg/models"
	"github.com/dukex/portal-processes/pkg/persistence"
	"github.com/jonboulle/clockwork"
)

// DefaultLeaseDuration must exceed the worst-case handler run time.
const DefaultLeaseDuration = 5 * time.Minute

// Lease is exclusive ownership of a process until ExpiresAt.
type Lease struct {
	ProcessID string
	// Version is the process version written by the lease; later writes must present it.
	Version   int64
	ExpiresAt time.Time

	clock clockwork.Clock
}

// Expired reports whether the lease may already have been taken over by another worker.
func (l Lease) Expired() bool {
	return !l.clock.Now().Before(l.ExpiresAt)
}

// LeaseManager acquires and releases process leases.
type LeaseManager struct {
	repo     persistence.ProcessRepository
	clock    clockwork.Clock
	duration time.Duration
}

// NewLeaseManager creates a lease manager. A non-positive duration falls back to DefaultLeaseDuration.
func NewLeaseManager(repo persistence.ProcessRepository, clock clockwork.Clock, duration time.Duration) *LeaseManager {
	if duration <= 0 {
		duration = DefaultLeaseDuration
	}

	return &LeaseManager{repo: repo, clock: clock, duration: duration}
}

// Duration returns the lease duration.
func (m *LeaseManager) Duration() time.Duration {
	return m.duration
}

// Acquire leases process at the version it was read with.
func (m *LeaseManager) Acquire(ctx context.Context, process models.Process) (Lease, error) {
	now := m.clock.Now()
	if process.IsLeased(now) {
		return Lease{}, persistence.NewProcessError("AcquireLease", process.ID, persistence.ErrConflict)
	}

	version, err := m.repo.TryAcquireLease(ctx, process.ID, process.Version, m.duration)
	if err != nil {
		return Lease{}, fmt.Errorf("failed to acquire lease: %w", err)
	}

	return Lease{
		ProcessID: process.ID,
		Version:   version,
		ExpiresAt: now.Add(m.duration),
		clock:     m.clock,
	}, nil
}

// Release gives the lease up without recording a step outcome.
func (m *LeaseManager) Release(ctx context.Context, lease Lease) error {
	_, err := m.repo.ReleaseLease(ctx, lease.ProcessID, lease.Version)
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}

	return nil
}
