package locks

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_AcquireAndRelease(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()

	lock, err := s.Acquire(ctx, "wallet", "w-1", "alice")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if lock.Owner != "alice" {
		t.Errorf("expected owner alice, got %s", lock.Owner)
	}

	if _, err := s.Acquire(ctx, "wallet", "w-1", "bob"); !errors.Is(err, ErrLockHeld) {
		t.Errorf("expected ErrLockHeld for second owner, got %v", err)
	}

	if err := s.Release(ctx, "wallet", "w-1", "alice"); err != nil {
		t.Fatalf("release: %v", err)
	}

	if _, err := s.Acquire(ctx, "wallet", "w-1", "bob"); err != nil {
		t.Errorf("expected acquire after release, got %v", err)
	}
}

func TestMemoryStore_ReacquireRefreshes(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()

	first, err := s.Acquire(ctx, "transfer", "t-1", "alice")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	s.nowFunc = func() time.Time { return time.Now().Add(30 * time.Second) }
	second, err := s.Acquire(ctx, "transfer", "t-1", "alice")
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if !second.ExpiresAt.After(first.ExpiresAt) {
		t.Error("expected reacquire to extend expiry")
	}
}

func TestMemoryStore_ExpiredLockIsFree(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()

	if _, err := s.Acquire(ctx, "referral", "r-1", "alice"); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	s.nowFunc = func() time.Time { return time.Now().Add(2 * time.Minute) }

	holder, err := s.Holder(ctx, "referral", "r-1")
	if err != nil {
		t.Fatalf("holder: %v", err)
	}
	if holder != nil {
		t.Error("expected expired lock to report free")
	}

	if _, err := s.Acquire(ctx, "referral", "r-1", "bob"); err != nil {
		t.Errorf("expected acquire of expired lock, got %v", err)
	}
}

func TestMemoryStore_ReleaseWrongOwner(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()

	if _, err := s.Acquire(ctx, "wallet", "w-1", "alice"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := s.Release(ctx, "wallet", "w-1", "bob"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
}

func TestMemoryStore_ReleaseFreeLockIsNoop(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	if err := s.Release(context.Background(), "wallet", "w-9", "alice"); err != nil {
		t.Errorf("expected nil for free lock, got %v", err)
	}
}

func TestMemoryStore_DistinctResources(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()

	if _, err := s.Acquire(ctx, "wallet", "w-1", "alice"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := s.Acquire(ctx, "transfer", "w-1", "bob"); err != nil {
		t.Errorf("expected different resource type to be independent, got %v", err)
	}
	if _, err := s.Acquire(ctx, "wallet", "w-2", "bob"); err != nil {
		t.Errorf("expected different resource id to be independent, got %v", err)
	}
}
