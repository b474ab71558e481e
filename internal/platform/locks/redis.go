package locks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore backs Store with Redis so locks are shared across server
// instances. Expiry rides on the Redis key TTL.
type RedisStore struct {
	client  *redis.Client
	ttl     time.Duration
	prefix  string
	nowFunc func() time.Time
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client:  client,
		ttl:     ttl,
		prefix:  "hms:lock:",
		nowFunc: time.Now,
	}
}

func (s *RedisStore) key(resourceType, resourceID string) string {
	return s.prefix + lockKey(resourceType, resourceID)
}

func (s *RedisStore) Acquire(ctx context.Context, resourceType, resourceID, owner string) (*Lock, error) {
	now := s.nowFunc()
	lock := &Lock{
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Owner:        owner,
		AcquiredAt:   now,
		ExpiresAt:    now.Add(s.ttl),
	}
	payload, err := json.Marshal(lock)
	if err != nil {
		return nil, fmt.Errorf("marshal lock: %w", err)
	}

	key := s.key(resourceType, resourceID)
	ok, err := s.client.SetNX(ctx, key, payload, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("setnx %s: %w", key, err)
	}
	if ok {
		return lock, nil
	}

	// Key exists: refresh if we are the owner, otherwise report the holder.
	current, err := s.Holder(ctx, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		// Expired between SETNX and GET; retry once.
		ok, err = s.client.SetNX(ctx, key, payload, s.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("setnx %s: %w", key, err)
		}
		if ok {
			return lock, nil
		}
		return nil, ErrLockHeld
	}
	if current.Owner != owner {
		return nil, ErrLockHeld
	}

	lock.AcquiredAt = current.AcquiredAt
	payload, err = json.Marshal(lock)
	if err != nil {
		return nil, fmt.Errorf("marshal lock: %w", err)
	}
	if err := s.client.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("refresh %s: %w", key, err)
	}
	return lock, nil
}

func (s *RedisStore) Release(ctx context.Context, resourceType, resourceID, owner string) error {
	current, err := s.Holder(ctx, resourceType, resourceID)
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}
	if current.Owner != owner {
		return ErrNotOwner
	}
	if err := s.client.Del(ctx, s.key(resourceType, resourceID)).Err(); err != nil {
		return fmt.Errorf("del lock: %w", err)
	}
	return nil
}

func (s *RedisStore) Holder(ctx context.Context, resourceType, resourceID string) (*Lock, error) {
	raw, err := s.client.Get(ctx, s.key(resourceType, resourceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lock: %w", err)
	}
	var lock Lock
	if err := json.Unmarshal(raw, &lock); err != nil {
		return nil, fmt.Errorf("unmarshal lock: %w", err)
	}
	return &lock, nil
}
