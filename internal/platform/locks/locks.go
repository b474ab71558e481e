// Package locks provides advisory session locks over shared resources.
// A lock marks a resource (a wallet, a transfer, a referral) as being
// edited by a user so that concurrent sessions can warn or back off.
// Locks are advisory only: database row locks remain the source of
// truth for write serialization.
package locks

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLockHeld is returned when another owner already holds the lock.
	ErrLockHeld = errors.New("locks: resource locked by another session")
	// ErrNotOwner is returned when releasing a lock held by someone else.
	ErrNotOwner = errors.New("locks: lock not held by this owner")
)

// Lock describes a held resource lock.
type Lock struct {
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Owner        string    `json:"owner"`
	AcquiredAt   time.Time `json:"acquired_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Store acquires and releases resource locks. Implementations must be
// safe for concurrent use. All locks expire after the store's TTL so an
// abandoned session never wedges a resource.
type Store interface {
	// Acquire takes the lock for owner, or refreshes it when the owner
	// already holds it. Returns ErrLockHeld when another owner holds it.
	Acquire(ctx context.Context, resourceType, resourceID, owner string) (*Lock, error)
	// Release drops the lock. Returns ErrNotOwner when the lock exists
	// but belongs to a different owner. Releasing a free lock is a no-op.
	Release(ctx context.Context, resourceType, resourceID, owner string) error
	// Holder reports the current lock on a resource, nil when free.
	Holder(ctx context.Context, resourceType, resourceID string) (*Lock, error)
}

func lockKey(resourceType, resourceID string) string {
	return resourceType + ":" + resourceID
}
