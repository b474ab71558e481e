package locks

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for single-instance deployments
// and tests.
type MemoryStore struct {
	mu      sync.Mutex
	locks   map[string]*Lock
	ttl     time.Duration
	nowFunc func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		locks:   make(map[string]*Lock),
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

func (s *MemoryStore) Acquire(ctx context.Context, resourceType, resourceID, owner string) (*Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	key := lockKey(resourceType, resourceID)

	if existing, ok := s.locks[key]; ok && now.Before(existing.ExpiresAt) {
		if existing.Owner != owner {
			return nil, ErrLockHeld
		}
		existing.ExpiresAt = now.Add(s.ttl)
		cp := *existing
		return &cp, nil
	}

	lock := &Lock{
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Owner:        owner,
		AcquiredAt:   now,
		ExpiresAt:    now.Add(s.ttl),
	}
	s.locks[key] = lock
	cp := *lock
	return &cp, nil
}

func (s *MemoryStore) Release(ctx context.Context, resourceType, resourceID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := lockKey(resourceType, resourceID)
	existing, ok := s.locks[key]
	if !ok || s.nowFunc().After(existing.ExpiresAt) {
		delete(s.locks, key)
		return nil
	}
	if existing.Owner != owner {
		return ErrNotOwner
	}
	delete(s.locks, key)
	return nil
}

func (s *MemoryStore) Holder(ctx context.Context, resourceType, resourceID string) (*Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.locks[lockKey(resourceType, resourceID)]
	if !ok || s.nowFunc().After(existing.ExpiresAt) {
		return nil, nil
	}
	cp := *existing
	return &cp, nil
}
